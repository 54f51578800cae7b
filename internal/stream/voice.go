package stream

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// SinkEvents receive the single terminal event of each stream handed to a
// VoiceSink: Idle when it ended (including ends forced by Stop), Error when
// it died. Callbacks run on the sink's goroutine.
type SinkEvents struct {
	Idle  func()
	Error func(err error)
}

// VoiceSink encodes a raw PCM stream to opus and delivers it over a
// discord voice connection, one 20 ms frame per tick. At most one stream is
// live at a time; Play replaces the previous one silently.
type VoiceSink struct {
	events SinkEvents

	mu  sync.Mutex
	vc  *discordgo.VoiceConnection
	cur *sinkStream
}

func NewVoiceSink(events SinkEvents) *VoiceSink {
	return &VoiceSink{events: events}
}

// Bind points the sink at a live voice connection. Must happen before Play.
func (v *VoiceSink) Bind(vc *discordgo.VoiceConnection) {
	v.mu.Lock()
	v.vc = vc
	v.mu.Unlock()
}

type sinkStream struct {
	cancel   chan struct{}
	stopOnce sync.Once
	termOnce sync.Once

	mu       sync.Mutex
	pausedCh chan struct{} // non-nil while paused, closed on resume
}

func (st *sinkStream) stop() {
	st.stopOnce.Do(func() { close(st.cancel) })
}

// waitGate blocks while the stream is paused.
func (st *sinkStream) waitGate() {
	st.mu.Lock()
	ch := st.pausedCh
	st.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case <-ch:
	case <-st.cancel:
	}
}

// Play starts delivering src. Any previous stream is cancelled without a
// terminal event; the new stream owns the next one.
func (v *VoiceSink) Play(src io.Reader) {
	st := &sinkStream{cancel: make(chan struct{})}

	v.mu.Lock()
	prev := v.cur
	v.cur = st
	vc := v.vc
	v.mu.Unlock()

	if prev != nil {
		prev.stop()
	}
	go v.run(st, vc, src)
}

func (v *VoiceSink) Pause() {
	v.mu.Lock()
	st := v.cur
	vc := v.vc
	v.mu.Unlock()
	if st == nil {
		return
	}
	st.mu.Lock()
	if st.pausedCh == nil {
		st.pausedCh = make(chan struct{})
	}
	st.mu.Unlock()
	if vc != nil {
		_ = vc.Speaking(false)
	}
}

func (v *VoiceSink) Resume() {
	v.mu.Lock()
	st := v.cur
	vc := v.vc
	v.mu.Unlock()
	if st == nil {
		return
	}
	st.mu.Lock()
	if st.pausedCh != nil {
		close(st.pausedCh)
		st.pausedCh = nil
	}
	st.mu.Unlock()
	if vc != nil {
		_ = vc.Speaking(true)
	}
}

// Stop ends the current stream. The stream still emits its terminal event,
// so the owner's completion path runs exactly as if the source had drained.
func (v *VoiceSink) Stop() {
	v.mu.Lock()
	st := v.cur
	v.mu.Unlock()
	if st != nil {
		st.stop()
	}
}

func (v *VoiceSink) finish(st *sinkStream, termErr error) {
	st.termOnce.Do(func() {
		// Only the stream that is still current owns the terminal event;
		// a stream displaced by a later Play ends silently.
		v.mu.Lock()
		current := v.cur == st
		if current {
			v.cur = nil
		}
		v.mu.Unlock()
		if !current {
			return
		}
		if termErr != nil {
			if v.events.Error != nil {
				v.events.Error(termErr)
			}
			return
		}
		if v.events.Idle != nil {
			v.events.Idle()
		}
	})
}

func (v *VoiceSink) run(st *sinkStream, vc *discordgo.VoiceConnection, src io.Reader) {
	var termErr error
	defer func() { v.finish(st, termErr) }()

	if vc == nil {
		termErr = errors.New("no voice connection bound")
		return
	}

	// Wait until the connection is ready to accept opus.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && !voiceReady(vc) {
		select {
		case <-st.cancel:
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
	if !voiceReady(vc) {
		termErr = errors.New("voice connection not ready")
		return
	}

	enc, err := NewEncoder()
	if err != nil {
		termErr = err
		return
	}
	defer enc.Close()

	_ = vc.Speaking(true)
	defer vc.Speaking(false)

	br := bufio.NewReaderSize(src, 128*1024)
	pcm := make([]byte, FrameBytes)
	pkt := make([]byte, 0, 4000)

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-st.cancel:
			return
		default:
		}
		st.waitGate()

		if _, err := io.ReadFull(br, pcm); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return // source drained, clean end
			}
			termErr = fmt.Errorf("read pcm: %w", err)
			return
		}

		pkt = pkt[:0]
		if err := enc.EncodeFrame(pcm, func(p []byte) error {
			pkt = append(pkt, p...)
			return nil
		}); err != nil {
			termErr = err
			return
		}
		if len(pkt) == 0 {
			continue
		}

		<-ticker.C
		out := make([]byte, len(pkt))
		copy(out, pkt)
		select {
		case vc.OpusSend <- out:
		case <-st.cancel:
			return
		case <-time.After(time.Second):
			termErr = errors.New("opus send timeout")
			return
		}
	}
}

func voiceReady(vc *discordgo.VoiceConnection) bool {
	if vc == nil {
		return false
	}
	if vc.OpusSend == nil {
		vc.OpusSend = make(chan []byte, 2)
	}
	if vc.OpusRecv == nil {
		vc.OpusRecv = make(chan *discordgo.Packet, 2)
	}
	return vc.Ready
}
