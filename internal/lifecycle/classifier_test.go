package lifecycle

import (
	"testing"

	"github.com/shaiso/Fabrica/internal/contracts"
)

func TestClassifier_Fingerprint(t *testing.T) {
	c := NewClassifier()

	tests := []struct {
		log  string
		want string
	}{
		{"ERROR: schema mismatch in payload", FingerprintSchemaMismatch},
		{"port mismatch: missing count", FingerprintInterfaceMismatch},
		{"RTL missing: generated/rtl/counter4.sv", FingerprintMissingFile},
		{"open input.sv: no such file or directory", FingerprintMissingFile},
		{"verilator: command not found", FingerprintToolInvocation},
		{"context deadline exceeded", FingerprintTimeout},
		{"connection reset by peer", FingerprintToolTransient},
		{"HTTP 503 Service Unavailable", FingerprintToolTransient},
		{"assertion failed at t=120ns", FingerprintUnknown},
	}

	for _, tt := range tests {
		if got := c.Fingerprint(tt.log); got != tt.want {
			t.Errorf("%q: expected %s, got %s", tt.log, tt.want, got)
		}
	}
}

func TestClassifier_Classify(t *testing.T) {
	c := NewClassifier()

	tests := []struct {
		name            string
		status          contracts.TaskStatus
		fingerprint     string
		attempt         int
		identicalRepeat bool
		want            Decision
	}{
		{"escalated is terminal", contracts.StatusEscalated, FingerprintUnknown, 1, false, DecisionTerminalFail},
		{"schema mismatch to dlq", contracts.StatusFailure, FingerprintSchemaMismatch, 1, false, DecisionRejectToDLQ},
		{"interface mismatch to dlq", contracts.StatusFailure, FingerprintInterfaceMismatch, 1, false, DecisionRejectToDLQ},
		{"missing file to dlq", contracts.StatusFailure, FingerprintMissingFile, 1, false, DecisionRejectToDLQ},
		{"transient first attempt retries", contracts.StatusFailure, FingerprintToolTransient, 1, false, DecisionRetryOnce},
		{"transient second attempt terminal", contracts.StatusFailure, FingerprintToolTransient, 2, false, DecisionTerminalFail},
		{"timeout first attempt retries", contracts.StatusFailure, FingerprintTimeout, 1, false, DecisionRetryOnce},
		{"timeout second attempt terminal", contracts.StatusFailure, FingerprintTimeout, 2, false, DecisionTerminalFail},
		{"identical repeat terminal", contracts.StatusFailure, FingerprintUnknown, 1, true, DecisionTerminalFail},
		{"unknown first attempt retries", contracts.StatusFailure, FingerprintUnknown, 1, false, DecisionRetryOnce},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.status, tt.fingerprint, tt.attempt, tt.identicalRepeat)
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

// Bounded attempts are a hard property: no input combination may yield
// a retry beyond the second attempt.
func TestClassifier_NeverRetriesBeyondOne(t *testing.T) {
	c := NewClassifier()
	fingerprints := []string{
		FingerprintSchemaMismatch, FingerprintInterfaceMismatch,
		FingerprintMissingFile, FingerprintToolInvocation,
		FingerprintToolTransient, FingerprintTimeout, FingerprintUnknown,
	}
	statuses := []contracts.TaskStatus{contracts.StatusFailure, contracts.StatusEscalated}

	for _, fp := range fingerprints {
		for _, status := range statuses {
			for attempt := 2; attempt <= 5; attempt++ {
				if got := c.Classify(status, fp, attempt, false); got == DecisionRetryOnce {
					t.Errorf("attempt %d with %s/%s must not retry", attempt, status, fp)
				}
			}
		}
	}
}
