package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// VoiceTransport owns one discord voice connection. Close is idempotent and
// panic-safe; discordgo's internal teardown can panic on half-initialized
// connections.
type VoiceTransport struct {
	guildID   string
	vc        *discordgo.VoiceConnection
	closeOnce sync.Once
}

// JoinVoice connects to a voice channel and returns the transport around
// the connection.
func JoinVoice(ctx context.Context, s *discordgo.Session, guildID, channelID string) (*VoiceTransport, error) {
	vc, err := s.ChannelVoiceJoin(ctx, guildID, channelID, false, true)
	if err != nil {
		return nil, err
	}

	// Guard against nil channels so a later Kill() inside discordgo can't
	// close nil.
	if vc.OpusSend == nil {
		vc.OpusSend = make(chan []byte, 2)
	}
	if vc.OpusRecv == nil {
		vc.OpusRecv = make(chan *discordgo.Packet, 2)
	}

	return &VoiceTransport{guildID: guildID, vc: vc}, nil
}

// Conn exposes the underlying connection for the sink to bind to.
func (t *VoiceTransport) Conn() *discordgo.VoiceConnection { return t.vc }

func (t *VoiceTransport) ChannelID() string {
	if t.vc == nil {
		return ""
	}
	return t.vc.ChannelID
}

func (t *VoiceTransport) Close() {
	t.closeOnce.Do(func() {
		vc := t.vc
		if vc == nil {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				slog.Error("voice disconnect panic recovered", "panic", r, "guildID", t.guildID)
			}
		}()

		if vc.OpusSend == nil {
			vc.OpusSend = make(chan []byte, 2)
		}
		if vc.OpusRecv == nil {
			vc.OpusRecv = make(chan *discordgo.Packet, 2)
		}

		_ = vc.Speaking(false)

		// Let in-flight sends settle before tearing the websocket down.
		time.Sleep(150 * time.Millisecond)

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = vc.Disconnect(ctx)
	})
}
