package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.DBPort != 5432 {
		t.Errorf("DBPort = %d, want 5432", cfg.DBPort)
	}
	if cfg.TickSeconds != 5 || cfg.BatchSize != 25 || cfg.MaxConcurrent != 10 {
		t.Errorf("scheduler defaults = %d/%d/%d, want 5/25/10",
			cfg.TickSeconds, cfg.BatchSize, cfg.MaxConcurrent)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("SCHEDULER_MAX_CONCURRENT", "20")
	t.Setenv("SQS_QUEUE_URL", "https://sqs.us-east-1.amazonaws.com/123/outcomes")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Errorf("Env = %q, want production", cfg.Env)
	}
	if cfg.DBHost != "db.internal" {
		t.Errorf("DBHost = %q, want db.internal", cfg.DBHost)
	}
	if cfg.RedisDB != 3 {
		t.Errorf("RedisDB = %d, want 3", cfg.RedisDB)
	}
	if cfg.MaxConcurrent != 20 {
		t.Errorf("MaxConcurrent = %d, want 20", cfg.MaxConcurrent)
	}
	if cfg.SQSQueueURL == "" {
		t.Error("SQSQueueURL should be set from env")
	}
}

func TestSNSRegionFallsBackToAWSRegion(t *testing.T) {
	t.Setenv("AWS_REGION", "eu-west-1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.SNSRegion != "eu-west-1" {
		t.Errorf("SNSRegion = %q, want eu-west-1", cfg.SNSRegion)
	}
	if cfg.SQSRegion != "eu-west-1" {
		t.Errorf("SQSRegion = %q, want eu-west-1", cfg.SQSRegion)
	}
}

func TestLoadRejectsBadNumbers(t *testing.T) {
	tests := []struct {
		name string
		env  string
	}{
		{"bad port", "PORT"},
		{"bad db port", "DB_PORT"},
		{"bad redis db", "REDIS_DB"},
		{"bad tick", "SCHEDULER_TICK_SECONDS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.env, "not-a-number")
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=not-a-number", tt.env)
			}
		})
	}
}
