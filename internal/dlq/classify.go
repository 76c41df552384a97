// Package dlq classifies terminal delivery failures and wraps the
// dead letter review workflow.
package dlq

import (
	"context"
	"errors"

	"github.com/Bouric0076/mediremind-backend-sub002/internal/db"
	"github.com/Bouric0076/mediremind-backend-sub002/internal/notify"
)

// Classify maps the final delivery error of an exhausted task to a
// failure type. Errors that carry no recognizable sentinel classify
// as unknown.
func Classify(err error) db.FailureType {
	switch {
	case err == nil:
		return db.FailureUnknown
	case errors.Is(err, notify.ErrInvalidRecipient):
		return db.FailureInvalidRecipient
	case errors.Is(err, notify.ErrBadPayload):
		return db.FailureDataCorruption
	case errors.Is(err, notify.ErrAuthentication):
		return db.FailureAuthentication
	case errors.Is(err, notify.ErrUpstreamRateLimited):
		return db.FailureRateLimited
	case errors.Is(err, notify.ErrServiceUnavailable):
		return db.FailureServiceUnavailable
	case errors.Is(err, notify.ErrAppointmentNotFound):
		return db.FailureDataCorruption
	case errors.Is(err, context.DeadlineExceeded):
		return db.FailureTimeout
	default:
		return db.FailureUnknown
	}
}

// RetrySuggestion is the operator guidance attached to a failure type.
type RetrySuggestion struct {
	CanRetry   bool
	Suggestion string
	Priority   string
}

var suggestions = map[db.FailureType]RetrySuggestion{
	db.FailureMaxRetries: {
		CanRetry:   true,
		Suggestion: "transient failures exhausted the retry budget; safe to retry once the channel recovers",
		Priority:   "medium",
	},
	db.FailurePermanent: {
		CanRetry:   false,
		Suggestion: "provider reported a permanent rejection; investigate the message before any retry",
		Priority:   "high",
	},
	db.FailureInvalidRecipient: {
		CanRetry:   false,
		Suggestion: "recipient address is invalid; correct the patient contact details first",
		Priority:   "high",
	},
	db.FailureServiceUnavailable: {
		CanRetry:   true,
		Suggestion: "provider outage; retry after confirming the channel is healthy",
		Priority:   "low",
	},
	db.FailureAuthentication: {
		CanRetry:   true,
		Suggestion: "provider rejected our credentials; rotate the channel credentials, then retry",
		Priority:   "critical",
	},
	db.FailureRateLimited: {
		CanRetry:   true,
		Suggestion: "provider throttled us; retry off-peak or raise the provider quota",
		Priority:   "low",
	},
	db.FailureTemplate: {
		CanRetry:   false,
		Suggestion: "message template failed to render; fix the template before retrying",
		Priority:   "high",
	},
	db.FailureDataCorruption: {
		CanRetry:   false,
		Suggestion: "message payload is malformed or references missing data; repair the source record",
		Priority:   "high",
	},
	db.FailureTimeout: {
		CanRetry:   true,
		Suggestion: "delivery timed out; usually transient, retry when the channel is responsive",
		Priority:   "medium",
	},
	db.FailureUnknown: {
		CanRetry:   true,
		Suggestion: "unclassified failure; inspect the error history before retrying",
		Priority:   "medium",
	},
}

// SuggestionFor returns the operator guidance for a failure type.
func SuggestionFor(ft db.FailureType) RetrySuggestion {
	if s, ok := suggestions[ft]; ok {
		return s
	}
	return suggestions[db.FailureUnknown]
}

// CanBeRetried reports whether an operator retry makes sense for the
// entry: it must still be in a reviewable state and its failure type
// must not be unrecoverable.
func CanBeRetried(entry *db.DeadLetterEntry) bool {
	if entry.Status != db.DLQPendingReview && entry.Status != db.DLQRequiresIntervention {
		return false
	}
	return SuggestionFor(entry.FailureType).CanRetry
}
