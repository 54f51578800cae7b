package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"

	"github.com/rvainola/sonata/internal/player"
)

const ffmpegBin = "ffmpeg"

// Transcoder is one ffmpeg process turning a remote stream into raw s16le
// 48k stereo PCM on stdout. It satisfies the player's Decoder contract:
// Output until the process dies, Kill as the only cancellation, Done plus
// ExitCode to observe how it went.
type Transcoder struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer
	cancel context.CancelFunc

	killOnce sync.Once
	done     chan struct{}
	exitCode int
}

func transcoderArgs(inputURL string, offsetSec, endSec int) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-reconnect", "1", "-reconnect_streamed", "1", "-reconnect_delay_max", "5",
	}
	// Seek is input-side so ffmpeg lands on the offset without decoding
	// everything before it.
	if offsetSec > 0 {
		args = append(args, "-ss", strconv.Itoa(offsetSec))
	}
	if endSec > 0 {
		args = append(args, "-to", strconv.Itoa(endSec))
	}
	args = append(args, "-i", inputURL)
	args = append(args,
		"-vn",
		"-ac", "2",
		"-ar", "48000",
		"-f", "s16le",
		"pipe:1",
	)
	return args
}

// StartTranscoder spawns ffmpeg for inputURL with the start offset applied
// at spawn time. A missing binary maps to player.ErrDecoderMissing so the
// caller can tell configuration faults from stream faults.
func StartTranscoder(ctx context.Context, inputURL string, offsetSec, endSec int) (*Transcoder, error) {
	if _, err := exec.LookPath(ffmpegBin); err != nil {
		return nil, fmt.Errorf("%w: %v", player.ErrDecoderMissing, err)
	}

	ctx2, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx2, ffmpegBin, transcoderArgs(inputURL, offsetSec, endSec)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: %v", player.ErrDecoderMissing, err)
		}
		return nil, fmt.Errorf("ffmpeg start: %w (stderr: %s)", err, stderr.String())
	}

	t := &Transcoder{
		cmd:    cmd,
		stdout: stdout,
		stderr: stderr,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go t.wait()
	return t, nil
}

func (t *Transcoder) wait() {
	err := t.cmd.Wait()
	code := 0
	if err != nil {
		code = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
	}
	t.exitCode = code
	close(t.done)
}

// Output is the raw PCM stream. It reaches EOF when the process exits,
// including exits we forced through Kill.
func (t *Transcoder) Output() io.Reader { return t.stdout }

// Kill terminates the process. Idempotent.
func (t *Transcoder) Kill() {
	t.killOnce.Do(func() {
		t.cancel()
		_ = t.cmd.Process.Kill()
	})
}

// Done is closed once the process has exited and been reaped.
func (t *Transcoder) Done() <-chan struct{} { return t.done }

// ExitCode is valid only after Done is closed. Exits we could not map to a
// process exit status report -1.
func (t *Transcoder) ExitCode() int { return t.exitCode }

// Stderr returns whatever ffmpeg wrote to stderr so far, for diagnostics.
func (t *Transcoder) Stderr() string { return t.stderr.String() }
