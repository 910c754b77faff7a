package dlq

import (
	"strings"

	"github.com/xraph/conveyor/job"
)

// Classifier decides why a dead-lettered job failed.
type Classifier func(j *job.Job) Classification

var reasonPatterns = []struct {
	class    Classification
	patterns []string
}{
	{ClassConfiguration, []string{"config", "processor not found", "missing credential", "permission denied", "unauthorized"}},
	{ClassCorruption, []string{"corrupt", "malformed", "invalid payload", "decode", "unmarshal", "checksum"}},
	{ClassExternal, []string{"timeout", "timed out", "deadline exceeded", "connection", "unavailable", "temporar", "too many requests", "503", "502"}},
}

// DefaultClassifier trusts the failure kind recorded from typed processor
// errors and falls back to matching well-known phrases in the reason.
func DefaultClassifier(j *job.Job) Classification {
	switch j.FailureKind {
	case job.FailureConfiguration:
		return ClassConfiguration
	case job.FailureExternal:
		return ClassExternal
	case job.FailureCorruption:
		return ClassCorruption
	}

	reason := strings.ToLower(j.FailureReason)
	for _, rp := range reasonPatterns {
		for _, p := range rp.patterns {
			if strings.Contains(reason, p) {
				return rp.class
			}
		}
	}
	return ClassUnknown
}
