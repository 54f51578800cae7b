package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/rvainola/sonata/internal/utils"
)

const (
	historyLimit       = 50
	maxResolveAttempts = 2
	maxAbortRetries    = 2
)

var (
	ErrNothingPlaying = errors.New("nothing is playing")
	ErrLiveSeek       = errors.New("can't seek in a livestream")
	ErrNoPrevious     = errors.New("no previous track in history")
	ErrBadPosition    = errors.New("position is outside the queue")
)

// Extractor resolves a canonical source URL into a time-limited direct
// media URL. Safe to call repeatedly for the same URL.
type Extractor interface {
	DirectURL(ctx context.Context, sourceURL string) (string, error)
}

// Decoder is one external transcode process emitting raw s16le 48kHz stereo
// PCM on Output. Kill is idempotent and is the only cancellation primitive;
// Done is closed when the process exits, after which ExitCode is valid.
type Decoder interface {
	Output() io.Reader
	Kill()
	Done() <-chan struct{}
	ExitCode() int
}

// SpawnFunc starts a decoder for a direct stream URL. The start offset is
// applied at spawn time, never after; endSec nonzero caps decoding at that
// absolute position.
type SpawnFunc func(ctx context.Context, directURL string, offsetSec, endSec int) (Decoder, error)

// Sink consumes the decoder's PCM stream and reports lifecycle back through
// the session's OnSinkIdle/OnSinkError methods. A sink must deliver exactly
// one terminal event per Play.
type Sink interface {
	Play(src io.Reader)
	Pause()
	Resume()
	Stop()
}

// Transport binds the sink to its real-time delivery channel. The session
// only ever tears it down; joining happens outside the engine.
type Transport interface {
	Close()
}

// Notifier is best-effort user-facing status delivery. Implementations must
// swallow their own failures; the session additionally guards against them.
type Notifier interface {
	NowPlaying(t *Track, queued int)
	Retrying(t *Track, attempt, max int)
	TrackFailed(t *Track, kind ErrorKind, err error)
	InvalidTrackURL(t *Track)
}

// Settings supplies the tunables the session reads at runtime.
type Settings interface {
	WaitAfterEmpty(ctx context.Context) time.Duration
}

// Deps are the collaborators a Session orchestrates.
type Deps struct {
	Extractor Extractor
	Spawn     SpawnFunc
	Sink      Sink
	Notifier  Notifier
	Settings  Settings
}

// Session is one playback context: a FIFO of pending tracks, the track
// being played, a bounded history, and exclusive ownership of at most one
// decoder process. All mutations go through its mutex; the playing and
// transitioning flags additionally act as a cooperative guard so that at
// most one advance runs per session even while the advancing goroutine
// releases the lock around network and process work.
type Session struct {
	id   string
	ctx  context.Context
	deps Deps
	now  func() time.Time

	mu            sync.Mutex
	pending       []*Track
	nowPlaying    *Track
	history       []*Track
	playing       bool
	transitioning bool

	// One-shot flags, consumed the first time the logic needing them reads
	// them true.
	keepConnOnEmpty     bool
	suppressHistoryPush bool
	ignoreNextAbort     bool

	decoder   Decoder
	transport Transport
	stopEpoch int

	startedAt   time.Time
	pausedAt    time.Time
	pausedTotal time.Duration

	idleTimer *time.Timer
}

func NewSession(ctx context.Context, id string, deps Deps) *Session {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Session{
		id:   id,
		ctx:  ctx,
		deps: deps,
		now:  time.Now,
	}
}

func (s *Session) ID() string { return s.id }

// AttachTransport hands the session the connection to tear down when the
// queue drains. A replaced transport is closed.
func (s *Session) AttachTransport(t Transport) {
	s.mu.Lock()
	old := s.transport
	s.transport = t
	s.cancelIdleLocked()
	s.mu.Unlock()
	if old != nil && old != t {
		old.Close()
	}
}

// Enqueue appends tracks and starts playback when the session is idle.
func (s *Session) Enqueue(tracks ...*Track) {
	s.mu.Lock()
	s.pending = append(s.pending, tracks...)
	s.cancelIdleLocked()
	start := !s.playing && !s.transitioning
	s.mu.Unlock()
	if start {
		s.advance()
	}
}

// EnqueueFront inserts tracks at the head of the queue.
func (s *Session) EnqueueFront(tracks ...*Track) {
	s.mu.Lock()
	s.pending = append(append([]*Track{}, tracks...), s.pending...)
	s.cancelIdleLocked()
	start := !s.playing && !s.transitioning
	s.mu.Unlock()
	if start {
		s.advance()
	}
}

// StartIfIdle begins playback when tracks are queued but nothing is
// playing, e.g. resuming after a stop left the queue populated.
func (s *Session) StartIfIdle() {
	s.mu.Lock()
	start := !s.playing && !s.transitioning && len(s.pending) > 0
	if start {
		s.cancelIdleLocked()
	}
	s.mu.Unlock()
	if start {
		s.advance()
	}
}

// advance is the core transition: it pops the queue head, resolves it,
// swaps the decoder process and commits the new playback state. It is a
// no-op while another advance is in flight or something is playing.
func (s *Session) advance() {
	s.mu.Lock()
	if s.playing || s.transitioning {
		s.mu.Unlock()
		return
	}
	s.transitioning = true
	epoch := s.stopEpoch

	if s.nowPlaying != nil {
		if s.suppressHistoryPush {
			s.suppressHistoryPush = false
		} else {
			s.history = append(s.history, s.nowPlaying.Clone())
			if len(s.history) > historyLimit {
				s.history = s.history[1:]
			}
		}
		s.nowPlaying = nil
	}

	for {
		if len(s.pending) == 0 {
			keep := s.keepConnOnEmpty
			s.keepConnOnEmpty = false
			s.stopDecoderLocked()
			s.playing = false
			s.transitioning = false
			s.mu.Unlock()
			if !keep {
				s.scheduleIdleTeardown()
			}
			return
		}

		next := s.pending[0]
		s.pending = s.pending[1:]

		if !ValidSourceURL(next.SourceURL) {
			s.mu.Unlock()
			slog.Warn("dropping track with invalid source URL", "sessionID", s.id, "title", next.Title)
			s.notify(func(n Notifier) { n.InvalidTrackURL(next) })
			s.mu.Lock()
			continue
		}

		next.resolveAttempts++
		attempt := next.resolveAttempts
		directURL := ""
		if next.cachedStreamURL != "" && !next.IsLive {
			directURL = next.cachedStreamURL
		}
		s.mu.Unlock()

		// Resolution and process spawn happen without the lock; the
		// transitioning flag keeps other advances out meanwhile.
		var err error
		if directURL == "" {
			directURL, err = s.deps.Extractor.DirectURL(s.ctx, next.SourceURL)
		}

		var dec Decoder
		if err == nil {
			// The previous process must be dead before its replacement
			// starts, or it leaks.
			s.mu.Lock()
			s.stopDecoderLocked()
			s.mu.Unlock()
			dec, err = s.deps.Spawn(s.ctx, directURL, next.OffsetSec, next.EndSec)
		}

		if err != nil {
			kind := Classify(err)
			s.mu.Lock()
			if s.stopEpoch != epoch {
				// a stop/reset raced with the resolution; the queue it would
				// requeue into was already cleared
				s.transitioning = false
				s.mu.Unlock()
				return
			}
			if attempt <= maxResolveAttempts {
				slog.Warn("track resolution failed, requeueing",
					"sessionID", s.id, "title", next.Title, "attempt", attempt, "kind", kind.String(), "err", err)
				next.cachedStreamURL = ""
				s.pending = append([]*Track{next}, s.pending...)
				continue
			}
			s.mu.Unlock()
			slog.Error("track abandoned after repeated resolution failures",
				"sessionID", s.id, "title", next.Title, "kind", kind.String(), "err", err)
			s.notify(func(n Notifier) { n.TrackFailed(next, kind, err) })
			s.mu.Lock()
			continue
		}

		s.mu.Lock()
		if s.stopEpoch != epoch {
			// a stop/reset raced with the spawn; don't resurrect playback
			s.transitioning = false
			s.mu.Unlock()
			dec.Kill()
			return
		}
		s.decoder = dec
		s.playing = true
		s.transitioning = false
		s.ignoreNextAbort = false
		s.keepConnOnEmpty = false
		s.startedAt = s.now()
		s.pausedAt = time.Time{}
		s.pausedTotal = 0
		s.nowPlaying = next
		s.cancelIdleLocked()
		queued := len(s.pending)
		s.mu.Unlock()

		go s.watchDecoder(dec)
		s.deps.Sink.Play(dec.Output())
		slog.Info("now playing", "sessionID", s.id, "title", next.Title, "offsetSec", next.OffsetSec, "queued", queued)
		s.notify(func(n Notifier) { n.NowPlaying(next, queued) })
		go s.prefetchNext()
		return
	}
}

// OnSinkIdle is called by the sink when a stream ends normally (including
// ends we forced by killing the decoder).
func (s *Session) OnSinkIdle() {
	s.mu.Lock()
	s.playing = false
	s.stopDecoderLocked()
	s.resetTimingLocked()
	s.mu.Unlock()
	s.advance()
}

// OnSinkError is called by the sink when a stream dies. Transient faults
// requeue the current track at the front until its retry budget runs out.
func (s *Session) OnSinkError(err error) {
	kind := Classify(err)

	s.mu.Lock()
	s.playing = false
	s.stopDecoderLocked()
	s.resetTimingLocked()

	ignore := s.ignoreNextAbort
	s.ignoreNextAbort = false

	var retrying, abandoned *Track
	var retryAttempt int
	if np := s.nowPlaying; np != nil && !ignore {
		if !kind.Retryable() {
			abandoned = np
		} else {
			np.abortRetries++
			if np.abortRetries <= maxAbortRetries {
				np.cachedStreamURL = ""
				s.pending = append([]*Track{np}, s.pending...)
				retrying = np
				retryAttempt = np.abortRetries
			} else {
				abandoned = np
			}
		}
	}
	s.nowPlaying = nil
	s.mu.Unlock()

	slog.Warn("sink error", "sessionID", s.id, "kind", kind.String(), "err", err)
	if retrying != nil {
		s.notify(func(n Notifier) { n.Retrying(retrying, retryAttempt, maxAbortRetries) })
	}
	if abandoned != nil {
		s.notify(func(n Notifier) { n.TrackFailed(abandoned, kind, err) })
	}
	s.advance()
}

// watchDecoder routes a nonzero decoder exit into the same retry policy as
// a transient sink error, then forces the sink to finish so the normal
// completion path runs.
func (s *Session) watchDecoder(dec Decoder) {
	<-dec.Done()
	code := dec.ExitCode()

	s.mu.Lock()
	if s.decoder != dec || !s.playing || code == 0 {
		s.mu.Unlock()
		return
	}
	s.decoder = nil

	var retrying, abandoned *Track
	var retryAttempt int
	if np := s.nowPlaying; np != nil && !s.ignoreNextAbort {
		np.abortRetries++
		if np.abortRetries <= maxAbortRetries {
			np.cachedStreamURL = ""
			s.pending = append([]*Track{np}, s.pending...)
			retrying = np
			retryAttempt = np.abortRetries
		} else {
			abandoned = np
		}
	}
	s.nowPlaying = nil
	// the sink is about to report the stream ending; that end is ours
	s.ignoreNextAbort = true
	s.mu.Unlock()

	slog.Warn("decoder exited mid-stream", "sessionID", s.id, "exitCode", code)
	if retrying != nil {
		s.notify(func(n Notifier) { n.Retrying(retrying, retryAttempt, maxAbortRetries) })
	}
	if abandoned != nil {
		s.notify(func(n Notifier) { n.TrackFailed(abandoned, KindTransient, fmt.Errorf("decoder exited with code %d", code)) })
	}
	s.deps.Sink.Stop()
}

// Skip force-ends the current track; the completion path advances to the
// next one.
func (s *Session) Skip() error {
	s.mu.Lock()
	if s.nowPlaying == nil {
		s.mu.Unlock()
		return ErrNothingPlaying
	}
	s.forceStopLocked()
	s.mu.Unlock()
	s.deps.Sink.Stop()
	return nil
}

// SkipTo drops the first n-1 pending tracks and then skips, so the n-th
// pending track plays next. n is 1-based within the pending queue.
func (s *Session) SkipTo(n int) (*Track, error) {
	s.mu.Lock()
	if n < 1 || n > len(s.pending) {
		s.mu.Unlock()
		return nil, ErrBadPosition
	}
	s.pending = s.pending[n-1:]
	target := s.pending[0]
	if s.nowPlaying != nil || s.playing {
		s.forceStopLocked()
		s.mu.Unlock()
		s.deps.Sink.Stop()
		return target, nil
	}
	start := !s.transitioning
	s.mu.Unlock()
	if start {
		s.advance()
	}
	return target, nil
}

// Move reorders the pending queue. Positions are 1-based.
func (s *Session) Move(from, to int) (*Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if from < 1 || from > len(s.pending) || to < 1 || to > len(s.pending) {
		return nil, ErrBadPosition
	}
	t := s.pending[from-1]
	s.pending = append(s.pending[:from-1], s.pending[from:]...)
	rest := append([]*Track{t}, s.pending[to-1:]...)
	s.pending = append(s.pending[:to-1], rest...)
	return t, nil
}

// Remove drops the n-th pending track.
func (s *Session) Remove(n int) (*Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 1 || n > len(s.pending) {
		return nil, ErrBadPosition
	}
	t := s.pending[n-1]
	s.pending = append(s.pending[:n-1], s.pending[n:]...)
	return t, nil
}

// RemoveRange drops up to count pending tracks starting at position pos,
// returning how many were removed.
func (s *Session) RemoveRange(pos, count int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pos < 1 || pos > len(s.pending) || count < 1 {
		return 0, ErrBadPosition
	}
	end := pos - 1 + count
	if end > len(s.pending) {
		end = len(s.pending)
	}
	removed := end - (pos - 1)
	s.pending = append(s.pending[:pos-1], s.pending[end:]...)
	return removed, nil
}

// Seek jumps within the current track by deltaSec seconds relative to the
// elapsed position. A target at or past a known duration skips the track.
// Returns the target position in seconds.
func (s *Session) Seek(deltaSec int) (int, error) {
	s.mu.Lock()
	np := s.nowPlaying
	if np == nil {
		s.mu.Unlock()
		return 0, ErrNothingPlaying
	}
	if np.IsLive {
		s.mu.Unlock()
		return 0, ErrLiveSeek
	}

	target := s.positionLocked() + deltaSec
	if target < 0 {
		target = 0
	}
	if np.DurationSec > 0 && target >= np.DurationSec {
		s.forceStopLocked()
		s.mu.Unlock()
		s.deps.Sink.Stop()
		return target, nil
	}

	resumed := np.Clone()
	resumed.OffsetSec = target
	s.pending = append([]*Track{resumed}, s.pending...)
	s.suppressHistoryPush = true
	s.forceStopLocked()
	s.mu.Unlock()
	s.deps.Sink.Stop()
	return target, nil
}

// Previous restores the most recent history entry to the front of the
// queue, requeueing the interrupted track right after it.
func (s *Session) Previous() (*Track, error) {
	s.mu.Lock()
	if len(s.history) == 0 {
		s.mu.Unlock()
		return nil, ErrNoPrevious
	}
	prev := s.history[len(s.history)-1].Clone()
	s.history = s.history[:len(s.history)-1]

	if s.nowPlaying != nil {
		s.pending = append([]*Track{s.nowPlaying.Clone()}, s.pending...)
	}
	s.pending = append([]*Track{prev}, s.pending...)

	if s.nowPlaying != nil || s.playing {
		s.suppressHistoryPush = true
		s.forceStopLocked()
		s.mu.Unlock()
		s.deps.Sink.Stop()
		return prev, nil
	}
	s.mu.Unlock()
	s.advance()
	return prev, nil
}

// Pause suspends playback and starts accruing paused time.
func (s *Session) Pause() error {
	s.mu.Lock()
	if s.nowPlaying == nil {
		s.mu.Unlock()
		return ErrNothingPlaying
	}
	if s.pausedAt.IsZero() {
		s.pausedAt = s.now()
	}
	s.mu.Unlock()
	s.deps.Sink.Pause()
	return nil
}

// Resume continues paused playback and cancels any pending idle teardown.
func (s *Session) Resume() error {
	s.mu.Lock()
	if s.nowPlaying == nil {
		s.mu.Unlock()
		return ErrNothingPlaying
	}
	if !s.pausedAt.IsZero() {
		s.pausedTotal += s.now().Sub(s.pausedAt)
		s.pausedAt = time.Time{}
	}
	s.cancelIdleLocked()
	s.mu.Unlock()
	s.deps.Sink.Resume()
	return nil
}

// Shuffle randomizes the order of the pending queue.
func (s *Session) Shuffle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	utils.ShuffleSlice(s.pending)
}

// Clear empties the pending queue, leaving the current track playing.
func (s *Session) Clear() {
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
}

// Stop ends playback, clears the queue and tears down the transport.
func (s *Session) Stop() {
	s.mu.Lock()
	s.stopEpoch++
	s.pending = nil
	s.ignoreNextAbort = true
	s.suppressHistoryPush = false
	s.keepConnOnEmpty = false
	s.stopDecoderLocked()
	s.nowPlaying = nil
	s.playing = false
	s.resetTimingLocked()
	s.cancelIdleLocked()
	conn := s.transport
	s.transport = nil
	s.mu.Unlock()

	s.deps.Sink.Stop()
	if conn != nil {
		conn.Close()
	}
}

// Reset fully resets the session after the transport dropped out from
// under it (e.g. the bot was kicked from its channel).
func (s *Session) Reset() {
	slog.Info("session reset", "sessionID", s.id)
	s.Stop()
}

func (s *Session) NowPlaying() *Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nowPlaying
}

// Pending returns a snapshot of the queued tracks.
func (s *Session) Pending() []*Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Track, len(s.pending))
	copy(out, s.pending)
	return out
}

// History returns a snapshot of played tracks, oldest first.
func (s *Session) History() []*Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Track, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Session) QueueSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Session) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

func (s *Session) IsPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.pausedAt.IsZero()
}

// Position returns the elapsed playback position of the current track in
// seconds, accounting for its start offset and accrued pauses.
func (s *Session) Position() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positionLocked()
}

func (s *Session) positionLocked() int {
	if s.nowPlaying == nil {
		return 0
	}
	base := s.nowPlaying.OffsetSec
	if s.startedAt.IsZero() {
		return base
	}
	end := s.now()
	if !s.pausedAt.IsZero() {
		end = s.pausedAt
	}
	return base + int((end.Sub(s.startedAt)-s.pausedTotal)/time.Second)
}

// scheduleIdleTeardown arms the teardown timer after the queue drained. A
// zero grace period tears the transport down immediately; the timer
// re-checks idleness when it fires in case activity resumed meanwhile.
func (s *Session) scheduleIdleTeardown() {
	var grace time.Duration
	if s.deps.Settings != nil {
		grace = s.deps.Settings.WaitAfterEmpty(s.ctx)
	}

	s.mu.Lock()
	s.cancelIdleLocked()
	if grace <= 0 {
		conn := s.transport
		s.transport = nil
		s.mu.Unlock()
		if conn != nil {
			slog.Info("tearing down idle session", "sessionID", s.id)
			conn.Close()
		}
		return
	}
	s.idleTimer = time.AfterFunc(grace, s.idleTeardownFire)
	s.mu.Unlock()
}

func (s *Session) idleTeardownFire() {
	s.mu.Lock()
	idle := s.nowPlaying == nil && len(s.pending) == 0 && !s.playing && !s.transitioning
	var conn Transport
	if idle {
		conn = s.transport
		s.transport = nil
	}
	s.idleTimer = nil
	s.mu.Unlock()
	if conn != nil {
		slog.Info("tearing down idle session", "sessionID", s.id)
		conn.Close()
	}
}

func (s *Session) cancelIdleLocked() {
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
}

// forceStopLocked arranges for the current track to end without its end
// being treated as a fault and without dropping the transport. The caller
// must follow up with Sink.Stop after releasing the lock.
func (s *Session) forceStopLocked() {
	s.keepConnOnEmpty = true
	s.ignoreNextAbort = true
	s.stopDecoderLocked()
}

func (s *Session) stopDecoderLocked() {
	if s.decoder != nil {
		s.decoder.Kill()
		s.decoder = nil
	}
}

func (s *Session) resetTimingLocked() {
	s.startedAt = time.Time{}
	s.pausedAt = time.Time{}
	s.pausedTotal = 0
}

func (s *Session) notify(fn func(Notifier)) {
	n := s.deps.Notifier
	if n == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("notifier panicked", "sessionID", s.id, "panic", r)
		}
	}()
	fn(n)
}
