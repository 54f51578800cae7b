package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

type stubExtractor struct {
	mu    sync.Mutex
	calls int
	fn    func(url string) (string, error)
}

func (e *stubExtractor) DirectURL(_ context.Context, url string) (string, error) {
	e.mu.Lock()
	e.calls++
	fn := e.fn
	e.mu.Unlock()
	if fn != nil {
		return fn(url)
	}
	return url + "#direct", nil
}

func (e *stubExtractor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type stubDecoder struct {
	done chan struct{}

	mu     sync.Mutex
	exit   int
	ended  bool
	killed bool
}

func newStubDecoder() *stubDecoder {
	return &stubDecoder{done: make(chan struct{})}
}

func (d *stubDecoder) Output() io.Reader { return strings.NewReader("") }

func (d *stubDecoder) Kill() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.killed = true
	if !d.ended {
		d.ended = true
		d.exit = -1
		close(d.done)
	}
}

func (d *stubDecoder) Done() <-chan struct{} { return d.done }

func (d *stubDecoder) ExitCode() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.exit
}

// exitWith simulates the process dying on its own.
func (d *stubDecoder) exitWith(code int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.ended {
		d.ended = true
		d.exit = code
		close(d.done)
	}
}

func (d *stubDecoder) wasKilled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.killed
}

type stubSink struct {
	mu      sync.Mutex
	plays   int
	stops   int
	pauses  int
	resumes int
}

func (s *stubSink) Play(io.Reader) { s.mu.Lock(); s.plays++; s.mu.Unlock() }
func (s *stubSink) Pause()         { s.mu.Lock(); s.pauses++; s.mu.Unlock() }
func (s *stubSink) Resume()        { s.mu.Lock(); s.resumes++; s.mu.Unlock() }
func (s *stubSink) Stop()          { s.mu.Lock(); s.stops++; s.mu.Unlock() }

func (s *stubSink) playCount() int { s.mu.Lock(); defer s.mu.Unlock(); return s.plays }
func (s *stubSink) stopCount() int { s.mu.Lock(); defer s.mu.Unlock(); return s.stops }

type stubNotifier struct {
	mu       sync.Mutex
	playing  []string
	retrying []int
	failed   []ErrorKind
	invalid  []string
}

func (n *stubNotifier) NowPlaying(t *Track, queued int) {
	n.mu.Lock()
	n.playing = append(n.playing, t.Title)
	n.mu.Unlock()
}

func (n *stubNotifier) Retrying(t *Track, attempt, max int) {
	n.mu.Lock()
	n.retrying = append(n.retrying, attempt)
	n.mu.Unlock()
}

func (n *stubNotifier) TrackFailed(t *Track, kind ErrorKind, err error) {
	n.mu.Lock()
	n.failed = append(n.failed, kind)
	n.mu.Unlock()
}

func (n *stubNotifier) InvalidTrackURL(t *Track) {
	n.mu.Lock()
	n.invalid = append(n.invalid, t.Title)
	n.mu.Unlock()
}

func (n *stubNotifier) retryAttempts() []int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]int{}, n.retrying...)
}

func (n *stubNotifier) failedKinds() []ErrorKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]ErrorKind{}, n.failed...)
}

type stubSettings struct{ grace time.Duration }

func (s stubSettings) WaitAfterEmpty(context.Context) time.Duration { return s.grace }

type stubTransport struct {
	mu     sync.Mutex
	closed int
}

func (t *stubTransport) Close() { t.mu.Lock(); t.closed++; t.mu.Unlock() }

func (t *stubTransport) closeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	sess  *Session
	ext   *stubExtractor
	sink  *stubSink
	note  *stubNotifier
	tr    *stubTransport
	clock *fakeClock

	mu         sync.Mutex
	spawned    []*stubDecoder
	spawnErr   error
	lastOffset int
	lastEnd    int
}

func newHarness(grace time.Duration) *harness {
	h := &harness{
		ext:   &stubExtractor{},
		sink:  &stubSink{},
		note:  &stubNotifier{},
		tr:    &stubTransport{},
		clock: &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)},
	}
	h.sess = NewSession(context.Background(), "guild-1", Deps{
		Extractor: h.ext,
		Spawn: func(_ context.Context, _ string, offsetSec, endSec int) (Decoder, error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			if h.spawnErr != nil {
				return nil, h.spawnErr
			}
			d := newStubDecoder()
			h.spawned = append(h.spawned, d)
			h.lastOffset = offsetSec
			h.lastEnd = endSec
			return d, nil
		},
		Sink:     h.sink,
		Notifier: h.note,
		Settings: stubSettings{grace: grace},
	})
	h.sess.now = h.clock.Now
	h.sess.AttachTransport(h.tr)
	return h
}

func (h *harness) spawnCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.spawned)
}

func (h *harness) lastSpawned() *stubDecoder {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.spawned) == 0 {
		return nil
	}
	return h.spawned[len(h.spawned)-1]
}

func tk(title string) *Track {
	return &Track{Title: title, SourceURL: "https://example.com/watch?v=" + title}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestEnqueueStartsPlayback(t *testing.T) {
	h := newHarness(time.Minute)
	h.sess.Enqueue(tk("one"), tk("two"))

	np := h.sess.NowPlaying()
	if np == nil || np.Title != "one" {
		t.Fatalf("now playing = %v, want one", np)
	}
	if !h.sess.IsPlaying() {
		t.Fatal("session should be playing")
	}
	if got := h.sink.playCount(); got != 1 {
		t.Fatalf("sink plays = %d, want 1", got)
	}
	if h.sess.QueueSize() != 1 {
		t.Fatalf("queue size = %d, want 1", h.sess.QueueSize())
	}
}

func TestAdvanceOnIdlePushesHistory(t *testing.T) {
	h := newHarness(time.Minute)
	h.sess.Enqueue(tk("one"), tk("two"))

	h.sess.OnSinkIdle()

	np := h.sess.NowPlaying()
	if np == nil || np.Title != "two" {
		t.Fatalf("now playing = %v, want two", np)
	}
	hist := h.sess.History()
	if len(hist) != 1 || hist[0].Title != "one" {
		t.Fatalf("history = %v, want [one]", hist)
	}
}

func TestQueueDrainTearsDownImmediatelyWithZeroGrace(t *testing.T) {
	h := newHarness(0)
	h.sess.Enqueue(tk("one"))

	h.sess.OnSinkIdle()

	if h.tr.closeCount() != 1 {
		t.Fatalf("transport closes = %d, want 1", h.tr.closeCount())
	}
	if h.sess.IsPlaying() || h.sess.NowPlaying() != nil {
		t.Fatal("session should be idle")
	}
}

func TestIdleTeardownFiresAfterGrace(t *testing.T) {
	h := newHarness(20 * time.Millisecond)
	h.sess.Enqueue(tk("one"))
	h.sess.OnSinkIdle()

	if h.tr.closeCount() != 0 {
		t.Fatal("transport closed before grace elapsed")
	}
	waitFor(t, func() bool { return h.tr.closeCount() == 1 })
}

func TestIdleTeardownCancelledByNewActivity(t *testing.T) {
	h := newHarness(30 * time.Millisecond)
	h.sess.Enqueue(tk("one"))
	h.sess.OnSinkIdle()

	h.sess.Enqueue(tk("two"))
	time.Sleep(80 * time.Millisecond)

	if h.tr.closeCount() != 0 {
		t.Fatalf("transport closes = %d, want 0", h.tr.closeCount())
	}
	if np := h.sess.NowPlaying(); np == nil || np.Title != "two" {
		t.Fatalf("now playing = %v, want two", np)
	}
}

func TestResolutionFailureRetriesThenAbandons(t *testing.T) {
	h := newHarness(time.Minute)
	h.ext.fn = func(string) (string, error) {
		return "", errors.New("premature close")
	}

	h.sess.Enqueue(tk("flaky"))

	if got := h.ext.callCount(); got != 3 {
		t.Fatalf("extractor calls = %d, want 3", got)
	}
	if kinds := h.note.failedKinds(); len(kinds) != 1 {
		t.Fatalf("failed notifications = %d, want 1", len(kinds))
	}
	if h.sink.playCount() != 0 {
		t.Fatal("nothing should have played")
	}
}

func TestSpawnFailureUsesSameRetryBudget(t *testing.T) {
	h := newHarness(time.Minute)
	h.spawnErr = fmt.Errorf("starting decoder: %w", ErrDecoderMissing)

	h.sess.Enqueue(tk("one"))

	// Three resolution passes even for a fatal classification; the budget
	// decides, not the kind.
	if got := h.ext.callCount(); got != 3 {
		t.Fatalf("extractor calls = %d, want 3", got)
	}
	kinds := h.note.failedKinds()
	if len(kinds) != 1 || kinds[0] != KindFatalConfig {
		t.Fatalf("failed kinds = %v, want [KindFatalConfig]", kinds)
	}
}

func TestDropsTrackWithInvalidURL(t *testing.T) {
	h := newHarness(time.Minute)
	bad := &Track{Title: "bad", SourceURL: "undefined"}

	h.sess.Enqueue(bad, tk("good"))

	if np := h.sess.NowPlaying(); np == nil || np.Title != "good" {
		t.Fatalf("now playing = %v, want good", np)
	}
	h.note.mu.Lock()
	invalid := append([]string{}, h.note.invalid...)
	h.note.mu.Unlock()
	if len(invalid) != 1 || invalid[0] != "bad" {
		t.Fatalf("invalid notifications = %v, want [bad]", invalid)
	}
}

func TestSinkErrorRetriesThenAbandons(t *testing.T) {
	h := newHarness(time.Minute)
	h.sess.Enqueue(tk("one"))

	h.sess.OnSinkError(errors.New("socket hang up"))
	if np := h.sess.NowPlaying(); np == nil || np.Title != "one" {
		t.Fatalf("after first retry now playing = %v, want one", np)
	}

	h.sess.OnSinkError(errors.New("socket hang up"))
	if np := h.sess.NowPlaying(); np == nil || np.Title != "one" {
		t.Fatalf("after second retry now playing = %v, want one", np)
	}

	h.sess.OnSinkError(errors.New("socket hang up"))
	if h.sess.NowPlaying() != nil {
		t.Fatal("track should be abandoned after its retry budget")
	}

	if got := h.note.retryAttempts(); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("retry attempts = %v, want [1 2]", got)
	}
	if kinds := h.note.failedKinds(); len(kinds) != 1 {
		t.Fatalf("failed notifications = %d, want 1", len(kinds))
	}
}

func TestSinkErrorFatalAbandonsImmediately(t *testing.T) {
	h := newHarness(time.Minute)
	h.sess.Enqueue(tk("one"))

	h.sess.OnSinkError(fmt.Errorf("stream: %w", ErrDecoderMissing))

	if h.sess.NowPlaying() != nil {
		t.Fatal("fatal errors must not requeue the track")
	}
	if got := h.note.retryAttempts(); len(got) != 0 {
		t.Fatalf("retry attempts = %v, want none", got)
	}
	kinds := h.note.failedKinds()
	if len(kinds) != 1 || kinds[0] != KindFatalConfig {
		t.Fatalf("failed kinds = %v, want [KindFatalConfig]", kinds)
	}
}

func TestSkipSuppressesResultingAbort(t *testing.T) {
	h := newHarness(time.Minute)
	h.sess.Enqueue(tk("one"), tk("two"))

	if err := h.sess.Skip(); err != nil {
		t.Fatal(err)
	}
	if h.sink.stopCount() == 0 {
		t.Fatal("skip should stop the sink")
	}

	// The killed decoder surfaces as an abort-like stream error; it must
	// not count against the track's retry budget.
	h.sess.OnSinkError(errors.New("aborted"))

	if np := h.sess.NowPlaying(); np == nil || np.Title != "two" {
		t.Fatalf("now playing = %v, want two", np)
	}
	if got := h.note.retryAttempts(); len(got) != 0 {
		t.Fatalf("retry attempts = %v, want none", got)
	}
}

func TestSkipToDropsIntermediateTracks(t *testing.T) {
	h := newHarness(time.Minute)
	h.sess.Enqueue(tk("one"), tk("two"), tk("three"), tk("four"))

	target, err := h.sess.SkipTo(3)
	if err != nil {
		t.Fatal(err)
	}
	if target.Title != "four" {
		t.Fatalf("skip target = %q, want four", target.Title)
	}
	h.sess.OnSinkIdle()
	if np := h.sess.NowPlaying(); np == nil || np.Title != "four" {
		t.Fatalf("now playing = %v, want four", np)
	}
}

func TestSeekRestartsAtOffset(t *testing.T) {
	h := newHarness(time.Minute)
	track := tk("one")
	track.DurationSec = 300
	h.sess.Enqueue(track)

	target, err := h.sess.Seek(42)
	if err != nil {
		t.Fatal(err)
	}
	if target != 42 {
		t.Fatalf("seek target = %d, want 42", target)
	}

	h.sess.OnSinkIdle()

	np := h.sess.NowPlaying()
	if np == nil || np.OffsetSec != 42 {
		t.Fatalf("now playing offset = %v, want 42", np)
	}
	h.mu.Lock()
	off := h.lastOffset
	h.mu.Unlock()
	if off != 42 {
		t.Fatalf("spawn offset = %d, want 42", off)
	}
	if len(h.sess.History()) != 0 {
		t.Fatal("seek must not push the track into history")
	}
}

func TestSeekPastEndSkipsTrack(t *testing.T) {
	h := newHarness(time.Minute)
	track := tk("one")
	track.DurationSec = 10
	h.sess.Enqueue(track, tk("two"))

	if _, err := h.sess.Seek(3600); err != nil {
		t.Fatal(err)
	}
	h.sess.OnSinkIdle()

	if np := h.sess.NowPlaying(); np == nil || np.Title != "two" {
		t.Fatalf("now playing = %v, want two", np)
	}
	if h.tr.closeCount() != 0 {
		t.Fatal("seek must keep the transport")
	}
}

func TestSeekOnLivestream(t *testing.T) {
	h := newHarness(time.Minute)
	track := tk("radio")
	track.IsLive = true
	h.sess.Enqueue(track)

	if _, err := h.sess.Seek(30); !errors.Is(err, ErrLiveSeek) {
		t.Fatalf("err = %v, want ErrLiveSeek", err)
	}
}

func TestSeekWithNothingPlaying(t *testing.T) {
	h := newHarness(time.Minute)
	if _, err := h.sess.Seek(30); !errors.Is(err, ErrNothingPlaying) {
		t.Fatalf("err = %v, want ErrNothingPlaying", err)
	}
}

func TestPreviousWhilePlaying(t *testing.T) {
	h := newHarness(time.Minute)
	h.sess.Enqueue(tk("one"), tk("two"))
	h.sess.OnSinkIdle() // one -> history, two playing

	prev, err := h.sess.Previous()
	if err != nil {
		t.Fatal(err)
	}
	if prev.Title != "one" {
		t.Fatalf("previous = %q, want one", prev.Title)
	}

	h.sess.OnSinkIdle()

	if np := h.sess.NowPlaying(); np == nil || np.Title != "one" {
		t.Fatalf("now playing = %v, want one", np)
	}
	pending := h.sess.Pending()
	if len(pending) != 1 || pending[0].Title != "two" {
		t.Fatalf("pending = %v, want [two]", pending)
	}
	if len(h.sess.History()) != 0 {
		t.Fatal("history should be empty after unskip")
	}
}

func TestPreviousWhileIdle(t *testing.T) {
	h := newHarness(time.Minute)
	h.sess.Enqueue(tk("one"))
	h.sess.OnSinkIdle() // queue drained, one in history

	prev, err := h.sess.Previous()
	if err != nil {
		t.Fatal(err)
	}
	if prev.Title != "one" {
		t.Fatalf("previous = %q, want one", prev.Title)
	}
	if np := h.sess.NowPlaying(); np == nil || np.Title != "one" {
		t.Fatalf("now playing = %v, want one", np)
	}
}

func TestPreviousWithEmptyHistory(t *testing.T) {
	h := newHarness(time.Minute)
	if _, err := h.sess.Previous(); !errors.Is(err, ErrNoPrevious) {
		t.Fatalf("err = %v, want ErrNoPrevious", err)
	}
}

func TestPositionAccountsForPauses(t *testing.T) {
	h := newHarness(time.Minute)
	h.sess.Enqueue(tk("one"))

	h.clock.advance(10 * time.Second)
	if err := h.sess.Pause(); err != nil {
		t.Fatal(err)
	}
	h.clock.advance(5 * time.Second)
	if got := h.sess.Position(); got != 10 {
		t.Fatalf("paused position = %d, want 10", got)
	}
	if !h.sess.IsPaused() {
		t.Fatal("session should report paused")
	}

	if err := h.sess.Resume(); err != nil {
		t.Fatal(err)
	}
	h.clock.advance(7 * time.Second)
	if got := h.sess.Position(); got != 17 {
		t.Fatalf("resumed position = %d, want 17", got)
	}
}

func TestPositionIncludesStartOffset(t *testing.T) {
	h := newHarness(time.Minute)
	track := tk("one")
	track.OffsetSec = 60
	track.DurationSec = 600
	h.sess.Enqueue(track)

	h.clock.advance(30 * time.Second)
	if got := h.sess.Position(); got != 90 {
		t.Fatalf("position = %d, want 90", got)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	h := newHarness(time.Minute)
	for i := 0; i < 55; i++ {
		h.sess.Enqueue(tk(fmt.Sprintf("t%02d", i)))
	}
	for i := 0; i < 54; i++ {
		h.sess.OnSinkIdle()
	}

	hist := h.sess.History()
	if len(hist) != historyLimit {
		t.Fatalf("history length = %d, want %d", len(hist), historyLimit)
	}
	if hist[0].Title != "t04" {
		t.Fatalf("oldest history entry = %q, want t04 (oldest evicted first)", hist[0].Title)
	}
}

func TestDecoderExitMidStreamRetries(t *testing.T) {
	h := newHarness(time.Minute)
	h.sess.Enqueue(tk("one"))
	dec := h.lastSpawned()

	dec.exitWith(1)
	waitFor(t, func() bool { return h.sink.stopCount() > 0 })

	if got := h.note.retryAttempts(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("retry attempts = %v, want [1]", got)
	}

	// The forced sink stop arrives as idle; the requeued track replays.
	h.sess.OnSinkIdle()
	if np := h.sess.NowPlaying(); np == nil || np.Title != "one" {
		t.Fatalf("now playing = %v, want one", np)
	}
	if h.spawnCount() != 2 {
		t.Fatalf("spawn count = %d, want 2", h.spawnCount())
	}
}

func TestKilledDecoderExitIsIgnored(t *testing.T) {
	h := newHarness(time.Minute)
	h.sess.Enqueue(tk("one"), tk("two"))
	dec := h.lastSpawned()

	if err := h.sess.Skip(); err != nil {
		t.Fatal(err)
	}
	if !dec.wasKilled() {
		t.Fatal("skip should kill the decoder")
	}

	// Give the watcher a moment; its exit must not add retry bookkeeping.
	time.Sleep(20 * time.Millisecond)
	if got := h.note.retryAttempts(); len(got) != 0 {
		t.Fatalf("retry attempts = %v, want none", got)
	}
}

func TestStopClearsEverything(t *testing.T) {
	h := newHarness(time.Minute)
	h.sess.Enqueue(tk("one"), tk("two"), tk("three"))

	h.sess.Stop()

	if h.sess.IsPlaying() || h.sess.NowPlaying() != nil {
		t.Fatal("session should be stopped")
	}
	if h.sess.QueueSize() != 0 {
		t.Fatalf("queue size = %d, want 0", h.sess.QueueSize())
	}
	if h.tr.closeCount() != 1 {
		t.Fatalf("transport closes = %d, want 1", h.tr.closeCount())
	}

	// The stop's own sink event must not resurrect playback.
	h.sess.OnSinkIdle()
	if h.sess.IsPlaying() {
		t.Fatal("idle event after stop restarted playback")
	}
}

func TestStopDuringResolutionAbortsTheSpawn(t *testing.T) {
	h := newHarness(time.Minute)
	gate := make(chan struct{})
	h.ext.fn = func(url string) (string, error) {
		<-gate
		return url + "#direct", nil
	}

	done := make(chan struct{})
	go func() {
		h.sess.Enqueue(tk("one"))
		close(done)
	}()

	waitFor(t, func() bool { return h.ext.callCount() == 1 })
	h.sess.Stop()
	close(gate)
	<-done

	waitFor(t, func() bool {
		d := h.lastSpawned()
		return d != nil && d.wasKilled()
	})
	if h.sess.IsPlaying() || h.sess.NowPlaying() != nil {
		t.Fatal("stop raced by a spawn must stay stopped")
	}
}

func TestClearKeepsCurrentTrack(t *testing.T) {
	h := newHarness(time.Minute)
	h.sess.Enqueue(tk("one"), tk("two"), tk("three"))

	h.sess.Clear()

	if h.sess.QueueSize() != 0 {
		t.Fatalf("queue size = %d, want 0", h.sess.QueueSize())
	}
	if np := h.sess.NowPlaying(); np == nil || np.Title != "one" {
		t.Fatalf("now playing = %v, want one", np)
	}
}

func TestMoveAndRemove(t *testing.T) {
	h := newHarness(time.Minute)
	h.sess.Enqueue(tk("one"), tk("two"), tk("three"), tk("four"))

	if _, err := h.sess.Move(3, 1); err != nil {
		t.Fatal(err)
	}
	pending := h.sess.Pending()
	if pending[0].Title != "four" {
		t.Fatalf("pending head = %q, want four", pending[0].Title)
	}

	removed, err := h.sess.RemoveRange(2, 5)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	if h.sess.QueueSize() != 1 {
		t.Fatalf("queue size = %d, want 1", h.sess.QueueSize())
	}

	if _, err := h.sess.Remove(10); !errors.Is(err, ErrBadPosition) {
		t.Fatalf("err = %v, want ErrBadPosition", err)
	}
}

func TestCachedStreamURLSkipsResolution(t *testing.T) {
	h := newHarness(time.Minute)
	track := tk("one")
	track.cachedStreamURL = "https://cdn.example.com/prefetched"
	h.sess.Enqueue(track)

	if got := h.ext.callCount(); got != 0 {
		t.Fatalf("extractor calls = %d, want 0 (cached URL)", got)
	}
	if !h.sess.IsPlaying() {
		t.Fatal("cached track should play")
	}
}

func TestLivestreamIgnoresCachedURL(t *testing.T) {
	h := newHarness(time.Minute)
	track := tk("radio")
	track.IsLive = true
	track.cachedStreamURL = "https://cdn.example.com/stale"
	h.sess.Enqueue(track)

	if got := h.ext.callCount(); got != 1 {
		t.Fatalf("extractor calls = %d, want 1 (live streams always re-resolve)", got)
	}
}

func TestPrefetchStoresDirectURLOnTrack(t *testing.T) {
	h := newHarness(time.Minute)
	track := tk("upnext")
	h.sess.mu.Lock()
	h.sess.pending = []*Track{track}
	h.sess.mu.Unlock()

	h.sess.prefetchNext()

	h.sess.mu.Lock()
	cached := track.cachedStreamURL
	inflight := track.prefetching
	h.sess.mu.Unlock()
	if cached != track.SourceURL+"#direct" {
		t.Fatalf("cachedStreamURL = %q, want resolved URL", cached)
	}
	if inflight {
		t.Fatal("prefetching flag still set after completion")
	}
	if got := h.ext.callCount(); got != 1 {
		t.Fatalf("extractor calls = %d, want 1", got)
	}
}

func TestPrefetchIsSingleFlight(t *testing.T) {
	h := newHarness(time.Minute)
	gate := make(chan struct{})
	h.ext.fn = func(url string) (string, error) {
		<-gate
		return url + "#direct", nil
	}
	track := tk("upnext")
	h.sess.mu.Lock()
	h.sess.pending = []*Track{track}
	h.sess.mu.Unlock()

	go h.sess.prefetchNext()
	waitFor(t, func() bool { return h.ext.callCount() == 1 })

	// a second attempt while the first is in flight must not hit the
	// extractor again
	h.sess.prefetchNext()
	if got := h.ext.callCount(); got != 1 {
		t.Fatalf("extractor calls = %d, want 1 while in flight", got)
	}

	close(gate)
	waitFor(t, func() bool {
		h.sess.mu.Lock()
		defer h.sess.mu.Unlock()
		return track.cachedStreamURL != ""
	})
}

func TestPrefetchSkipsIneligibleTracks(t *testing.T) {
	h := newHarness(time.Minute)

	live := tk("radio")
	live.IsLive = true
	warm := tk("warm")
	warm.cachedStreamURL = "https://cdn.example.com/already"
	junk := &Track{Title: "junk", SourceURL: "not a url"}

	for _, track := range []*Track{live, warm, junk} {
		h.sess.mu.Lock()
		h.sess.pending = []*Track{track}
		h.sess.mu.Unlock()
		h.sess.prefetchNext()
	}
	if got := h.ext.callCount(); got != 0 {
		t.Fatalf("extractor calls = %d, want 0 for live/cached/invalid heads", got)
	}

	h.sess.mu.Lock()
	h.sess.pending = nil
	h.sess.mu.Unlock()
	h.sess.prefetchNext()
	if got := h.ext.callCount(); got != 0 {
		t.Fatalf("extractor calls = %d, want 0 on empty queue", got)
	}
}

func TestPrefetchFailureIsSilentAndRetried(t *testing.T) {
	h := newHarness(time.Minute)
	h.ext.fn = func(string) (string, error) {
		return "", errors.New("cdn hiccup")
	}
	track := tk("flaky")
	h.sess.mu.Lock()
	h.sess.pending = []*Track{track}
	h.sess.mu.Unlock()

	h.sess.prefetchNext()

	h.sess.mu.Lock()
	cached := track.cachedStreamURL
	inflight := track.prefetching
	h.sess.mu.Unlock()
	if cached != "" {
		t.Fatalf("cachedStreamURL = %q, want empty after failed prefetch", cached)
	}
	if inflight {
		t.Fatal("prefetching flag stuck after failure")
	}
	if len(h.note.failedKinds()) != 0 || len(h.note.retryAttempts()) != 0 {
		t.Fatal("prefetch failure must not notify anyone")
	}

	// a later attempt gets a fresh shot
	h.ext.mu.Lock()
	h.ext.fn = nil
	h.ext.mu.Unlock()
	h.sess.prefetchNext()

	h.sess.mu.Lock()
	cached = track.cachedStreamURL
	h.sess.mu.Unlock()
	if cached == "" {
		t.Fatal("retry after failed prefetch did not cache a URL")
	}
	if got := h.ext.callCount(); got != 2 {
		t.Fatalf("extractor calls = %d, want 2", got)
	}
}

func TestStopDuringFailingResolutionDoesNotRequeue(t *testing.T) {
	h := newHarness(time.Minute)
	gate := make(chan struct{})
	h.ext.fn = func(string) (string, error) {
		<-gate
		return "", errors.New("resolver down")
	}

	go h.sess.Enqueue(tk("doomed"))
	waitFor(t, func() bool { return h.ext.callCount() == 1 })

	h.sess.Stop()
	close(gate)

	waitFor(t, func() bool {
		h.sess.mu.Lock()
		defer h.sess.mu.Unlock()
		return !h.sess.transitioning
	})

	if got := h.ext.callCount(); got != 1 {
		t.Fatalf("extractor calls = %d, want 1 (stop must end the retry loop)", got)
	}
	if got := len(h.sess.Pending()); got != 0 {
		t.Fatalf("pending = %d, want 0 after stop", got)
	}
	if h.sess.IsPlaying() {
		t.Fatal("session playing after stop")
	}
	if len(h.note.retryAttempts()) != 0 || len(h.note.failedKinds()) != 0 {
		t.Fatal("stale resolution failure leaked notifications after stop")
	}
}
