package retry

import (
	"regexp"

	"github.com/datapipe-pro/datapipe/internal/errors"
	"github.com/datapipe-pro/datapipe/internal/task"
)

// Classifier promotes transient failures to permanent ones when the cause matches a permanent pattern.
// Retryable patterns exempt a cause from the permanent patterns. A permanent failure reported by the
// work unit is never demoted.
type Classifier struct {
	Permanent []*regexp.Regexp
	Retryable []*regexp.Regexp
}

// NewClassifier compiles the given pattern lists.
func NewClassifier(permanent, retryable []string) (*Classifier, error) {
	classifier := &Classifier{}

	for _, pattern := range permanent {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, errors.Errorf("invalid permanent error pattern %q: %w", pattern, err)
		}

		classifier.Permanent = append(classifier.Permanent, re)
	}

	for _, pattern := range retryable {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, errors.Errorf("invalid retryable error pattern %q: %w", pattern, err)
		}

		classifier.Retryable = append(classifier.Retryable, re)
	}

	return classifier, nil
}

// Classify returns the outcome with its kind adjusted by the patterns.
func (classifier *Classifier) Classify(outcome task.Outcome) task.Outcome {
	if classifier == nil || outcome.Kind != task.TransientFailure || outcome.Cause == nil {
		return outcome
	}

	msg := outcome.Cause.Error()

	if matchesAny(classifier.Permanent, msg) && !matchesAny(classifier.Retryable, msg) {
		return task.Permanent(outcome.Cause)
	}

	return outcome
}

func matchesAny(patterns []*regexp.Regexp, msg string) bool {
	for _, re := range patterns {
		if re.MatchString(msg) {
			return true
		}
	}

	return false
}
