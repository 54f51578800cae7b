package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/rvainola/sonata/internal/config"
	"github.com/rvainola/sonata/internal/player"
)

func TestSendReturnsFalseOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan Event) // nobody reads

	done := make(chan bool, 1)
	go func() {
		done <- send(ctx, ch, Event{Info: "blocked"})
	}()
	cancel()

	select {
	case ok := <-done:
		if ok {
			t.Fatalf("send reported delivery on a cancelled context")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("send did not unblock after cancel")
	}
}

func TestResolveDirectURL(t *testing.T) {
	r := New(&config.Config{})
	ch := r.Resolve(context.Background(), "https://radio.example.com/stream.m3u8", 0, false)

	ev, ok := <-ch
	if !ok {
		t.Fatalf("channel closed before emitting a track")
	}
	if ev.Err != nil {
		t.Fatalf("unexpected error: %v", ev.Err)
	}
	if ev.Track == nil {
		t.Fatalf("event carries no track")
	}
	if ev.Track.Source != player.SourceDirect {
		t.Fatalf("source = %v, want direct", ev.Track.Source)
	}
	if !ev.Track.IsLive {
		t.Fatalf("direct stream should be flagged live")
	}
	if ev.Track.SourceURL != "https://radio.example.com/stream.m3u8" {
		t.Fatalf("sourceURL = %q", ev.Track.SourceURL)
	}
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel to close after the single track")
	}
}

func TestResolveDirectURLAbandonedConsumer(t *testing.T) {
	r := New(&config.Config{})
	ctx, cancel := context.WithCancel(context.Background())

	ch := r.Resolve(ctx, "https://radio.example.com/stream.m3u8", 0, false)
	// walk away without reading, the way a handler does when it errors
	// out mid-command
	cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return // producer exited and closed the channel
			}
		case <-deadline:
			t.Fatalf("producer did not shut down after cancel")
		}
	}
}
