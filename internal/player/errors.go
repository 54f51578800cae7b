package player

import (
	"errors"
	"os/exec"
	"regexp"
)

// ErrorKind is the small failure taxonomy that drives retry vs. abandonment.
type ErrorKind int

const (
	// KindTransient covers abort-like stream faults worth retrying.
	KindTransient ErrorKind = iota
	// KindFatalConfig means the decoder or extractor binary is missing or
	// misconfigured; retrying the same item cannot help.
	KindFatalConfig
	// KindUnknown is anything else. It is retried like a transient fault
	// but logged separately.
	KindUnknown
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindFatalConfig:
		return "fatal-config"
	default:
		return "unknown"
	}
}

// ErrDecoderMissing is reported by decoder spawners when the transcoder
// binary cannot be found. Kept here so Classify can branch on it without
// importing the implementation package.
var ErrDecoderMissing = errors.New("decoder binary not found")

// Message signatures of connection faults. This is a heuristic carried over
// from the battle-tested pattern list; typed sentinels are checked first.
var abortLikeRe = regexp.MustCompile(`(?i)aborted|premature close|connection reset|ECONNRESET|socket hang up|broken pipe|EPIPE|unexpected EOF`)

// Classify maps a raw failure to an ErrorKind.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	if errors.Is(err, ErrDecoderMissing) || errors.Is(err, exec.ErrNotFound) {
		return KindFatalConfig
	}
	if abortLikeRe.MatchString(err.Error()) {
		return KindTransient
	}
	return KindUnknown
}

// Retryable reports whether a failure of this kind may requeue the item.
// Unknown faults get the benefit of the doubt.
func (k ErrorKind) Retryable() bool {
	return k != KindFatalConfig
}
