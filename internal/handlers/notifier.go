package handlers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rvainola/sonata/internal/player"
	"github.com/rvainola/sonata/internal/ui"
	"github.com/rvainola/sonata/internal/utils"
)

// guildNotifier posts playback notices to the channel the last play
// command came from.
type guildNotifier struct {
	bot     *Bot
	guildID string
}

func (n *guildNotifier) send(msg string) {
	ch := n.bot.announceChannel(n.guildID)
	if ch == "" || n.bot.dg == nil {
		return
	}
	if _, err := n.bot.dg.ChannelMessageSend(ch, msg); err != nil {
		slog.Error("send notice", "guildID", n.guildID, "err", err)
	}
}

func (n *guildNotifier) NowPlaying(t *player.Track, queued int) {
	set, err := n.bot.repo.GetSettings(context.Background(), n.guildID)
	if err != nil || set == nil || !set.AutoAnnounceNext {
		return
	}
	ch := n.bot.announceChannel(n.guildID)
	if ch == "" || n.bot.dg == nil {
		return
	}
	sess := n.bot.reg.Peek(n.guildID)
	if sess == nil {
		return
	}
	embed := ui.BuildPlayingEmbed(sess)
	if _, err := n.bot.dg.ChannelMessageSendEmbed(ch, embed); err != nil {
		slog.Error("announce track", "guildID", n.guildID, "err", err)
	}
}

func (n *guildNotifier) Retrying(t *player.Track, attempt, max int) {
	n.send(fmt.Sprintf("⚠️ playback of **%s** hiccuped, retrying (%d/%d)", utils.EscapeMd(t.Title), attempt, max))
}

func (n *guildNotifier) TrackFailed(t *player.Track, kind player.ErrorKind, err error) {
	switch kind {
	case player.KindFatalConfig:
		n.send(fmt.Sprintf("🚫 cannot play **%s**: %v\ncheck that ffmpeg is installed and on PATH", utils.EscapeMd(t.Title), err))
	default:
		n.send(fmt.Sprintf("🚫 giving up on **%s**: %v", utils.EscapeMd(t.Title), err))
	}
}

func (n *guildNotifier) InvalidTrackURL(t *player.Track) {
	n.send(fmt.Sprintf("🚫 skipping **%s**: track has no playable URL", utils.EscapeMd(t.Title)))
}
