package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis config
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// AWS Services
	AWSRegion    string
	SESFromEmail string
	SNSRegion    string // AWS region for SNS (SMS)

	// SQS config for outcome events
	SQSRegion   string
	SQSQueueURL string

	// Push gateway config
	PushEndpoint  string
	PushServerKey string

	// WhatsApp Business API config
	WhatsAppEndpoint string
	WhatsAppToken    string

	// Scheduler knobs
	TickSeconds   int
	BatchSize     int
	MaxConcurrent int
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		// Local postgres defaults
		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "mediremind",
		DBPassword: "",
		DBName:     "mediremind",
		DBSSLMode:  "disable",

		// Redis defaults
		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		AWSRegion:    "us-east-1",
		SESFromEmail: "care@mediremind.local",

		TickSeconds:   5,
		BatchSize:     25,
		MaxConcurrent: 10,
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	if from := os.Getenv("SES_FROM_EMAIL"); from != "" {
		cfg.SESFromEmail = from
	}

	// SNS config for SMS
	if region := os.Getenv("SNS_REGION"); region != "" {
		cfg.SNSRegion = region
	} else {
		cfg.SNSRegion = cfg.AWSRegion
	}

	// SQS config for outcome events
	if region := os.Getenv("SQS_REGION"); region != "" {
		cfg.SQSRegion = region
	} else {
		cfg.SQSRegion = cfg.AWSRegion
	}

	if url := os.Getenv("SQS_QUEUE_URL"); url != "" {
		cfg.SQSQueueURL = url
	}

	// Push gateway config
	if endpoint := os.Getenv("PUSH_ENDPOINT"); endpoint != "" {
		cfg.PushEndpoint = endpoint
	}

	if key := os.Getenv("PUSH_SERVER_KEY"); key != "" {
		cfg.PushServerKey = key
	}

	// WhatsApp Business API config
	if endpoint := os.Getenv("WHATSAPP_ENDPOINT"); endpoint != "" {
		cfg.WhatsAppEndpoint = endpoint
	}

	if token := os.Getenv("WHATSAPP_TOKEN"); token != "" {
		cfg.WhatsAppToken = token
	}

	// Scheduler knobs
	if tick := os.Getenv("SCHEDULER_TICK_SECONDS"); tick != "" {
		t, err := strconv.Atoi(tick)
		if err != nil {
			return nil, fmt.Errorf("invalid SCHEDULER_TICK_SECONDS: %w", err)
		}
		cfg.TickSeconds = t
	}

	if batch := os.Getenv("SCHEDULER_BATCH_SIZE"); batch != "" {
		b, err := strconv.Atoi(batch)
		if err != nil {
			return nil, fmt.Errorf("invalid SCHEDULER_BATCH_SIZE: %w", err)
		}
		cfg.BatchSize = b
	}

	if workers := os.Getenv("SCHEDULER_MAX_CONCURRENT"); workers != "" {
		w, err := strconv.Atoi(workers)
		if err != nil {
			return nil, fmt.Errorf("invalid SCHEDULER_MAX_CONCURRENT: %w", err)
		}
		cfg.MaxConcurrent = w
	}

	return cfg, nil
}
