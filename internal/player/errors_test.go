package player

import (
	"errors"
	"fmt"
	"os/exec"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"decoder missing sentinel", ErrDecoderMissing, KindFatalConfig},
		{"wrapped decoder missing", fmt.Errorf("spawn: %w", ErrDecoderMissing), KindFatalConfig},
		{"exec not found", fmt.Errorf("looking up binary: %w", exec.ErrNotFound), KindFatalConfig},
		{"premature close", errors.New("Error: Premature close"), KindTransient},
		{"econnreset", errors.New("read tcp 1.2.3.4: ECONNRESET"), KindTransient},
		{"socket hang up", errors.New("socket hang up"), KindTransient},
		{"broken pipe", errors.New("write |1: broken pipe"), KindTransient},
		{"unexpected eof", errors.New("unexpected EOF"), KindTransient},
		{"aborted mixed case", errors.New("request Aborted by peer"), KindTransient},
		{"something else", errors.New("yt-dlp: no video formats found"), KindUnknown},
		{"nil", nil, KindUnknown},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Fatalf("Classify(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	if KindFatalConfig.Retryable() {
		t.Fatal("fatal-config must not be retryable")
	}
	if !KindTransient.Retryable() || !KindUnknown.Retryable() {
		t.Fatal("transient and unknown faults should be retryable")
	}
}
