package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/rvainola/sonata/internal/autocomplete"
	"github.com/rvainola/sonata/internal/config"
	"github.com/rvainola/sonata/internal/player"
	"github.com/rvainola/sonata/internal/repository"
	"github.com/rvainola/sonata/internal/ui"
	"github.com/rvainola/sonata/internal/utils"
)

type CommandHandler struct {
	cfg  *config.Config
	repo *repository.Repo
	bot  *Bot
}

func NewCommandHandler(cfg *config.Config, repo *repository.Repo, bot *Bot) *CommandHandler {
	return &CommandHandler{cfg: cfg, repo: repo, bot: bot}
}

func (h *CommandHandler) RegisterCommands(s *discordgo.Session, appID, guildID string) error {
	boolOpt := func(name, desc string) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionBoolean,
			Name:        name,
			Description: desc,
		}
	}
	intOpt := func(name, desc string, required bool) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionInteger,
			Name:        name,
			Description: desc,
			Required:    required,
		}
	}
	strOpt := func(name, desc string, required bool) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        name,
			Description: desc,
			Required:    required,
		}
	}

	cmds := []*discordgo.ApplicationCommand{
		{
			Name:        "play",
			Description: "play a song or playlist",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:         discordgo.ApplicationCommandOptionString,
					Name:         "query",
					Description:  "YouTube URL, Spotify URL, or search query",
					Required:     true,
					Autocomplete: true,
				},
				boolOpt("immediate", "add track to the front of the queue"),
				boolOpt("shuffle", "shuffle the input if it's a playlist"),
				boolOpt("split", "if a track has chapters, split it"),
				boolOpt("skip", "skip the currently playing track"),
			},
		},
		{Name: "next", Description: "skip to the next song"},
		{
			Name:        "skip",
			Description: "skip the next songs",
			Options:     []*discordgo.ApplicationCommandOption{intOpt("number", "number of the song to skip to", true)},
		},
		{Name: "unskip", Description: "go back in the queue by one song"},
		{Name: "pause", Description: "pause the current song"},
		{Name: "resume", Description: "resume playback"},
		{
			Name:        "seek",
			Description: "seek to a position within the current song",
			Options:     []*discordgo.ApplicationCommandOption{strOpt("time", "position, e.g. 1:30 or 90s", true)},
		},
		{
			Name:        "fseek",
			Description: "seek forward within the current song",
			Options:     []*discordgo.ApplicationCommandOption{strOpt("time", "amount to skip forward, e.g. 30s", true)},
		},
		{Name: "replay", Description: "replay the current song from the beginning"},
		{
			Name:        "move",
			Description: "move a song within the queue",
			Options: []*discordgo.ApplicationCommandOption{
				intOpt("from", "position of the song to move", true),
				intOpt("to", "position to move it to", true),
			},
		},
		{
			Name:        "remove",
			Description: "remove songs from the queue",
			Options: []*discordgo.ApplicationCommandOption{
				intOpt("position", "position of the song to remove (default: 1)", false),
				intOpt("range", "number of songs to remove (default: 1)", false),
			},
		},
		{
			Name:        "queue",
			Description: "show the current queue",
			Options:     []*discordgo.ApplicationCommandOption{intOpt("page", "page of the queue to show", false)},
		},
		{
			Name:        "all-queue",
			Description: "show played history followed by the full queue",
			Options:     []*discordgo.ApplicationCommandOption{intOpt("page", "page to show", false)},
		},
		{Name: "now-playing", Description: "show the currently playing song"},
		{Name: "shuffle", Description: "shuffle the current queue"},
		{Name: "clear", Description: "clear all songs in the queue except the currently playing one"},
		{Name: "stop", Description: "stop playback and clear the queue"},
		{Name: "disconnect", Description: "pause and disconnect from the voice channel"},
		{
			Name:        "favorites",
			Description: "manage snippets of favorite songs",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "use",
					Description: "queue up a favorite",
					Options: []*discordgo.ApplicationCommandOption{
						strOpt("name", "name of favorite", true),
						boolOpt("immediate", "add track to the front of the queue"),
						boolOpt("shuffle", "shuffle the input if it's a playlist"),
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "list",
					Description: "list all favorites",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "create",
					Description: "create a new favorite",
					Options: []*discordgo.ApplicationCommandOption{
						strOpt("name", "name to give the favorite", true),
						strOpt("query", "query for the favorite", true),
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "remove",
					Description: "remove a favorite",
					Options:     []*discordgo.ApplicationCommandOption{strOpt("name", "name of favorite to remove", true)},
				},
			},
		},
		{
			Name:        "config",
			Description: "configure bot settings",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "get",
					Description: "show all settings",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "set-playlist-limit",
					Description: "maximum number of tracks a playlist can add",
					Options:     []*discordgo.ApplicationCommandOption{intOpt("limit", "maximum number of tracks", true)},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "set-wait-after-queue-empties",
					Description: "time to wait before leaving once the queue empties",
					Options:     []*discordgo.ApplicationCommandOption{intOpt("delay", "delay in seconds (0 to leave immediately)", true)},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "set-leave-if-no-listeners",
					Description: "whether to leave when everyone else leaves",
					Options:     []*discordgo.ApplicationCommandOption{{Type: discordgo.ApplicationCommandOptionBoolean, Name: "value", Description: "whether to leave", Required: true}},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "set-queue-add-response-hidden",
					Description: "whether queue add responses are only shown to the requester",
					Options:     []*discordgo.ApplicationCommandOption{{Type: discordgo.ApplicationCommandOptionBoolean, Name: "value", Description: "whether to hide", Required: true}},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "set-auto-announce-next-song",
					Description: "whether to announce the next song in the queue automatically",
					Options:     []*discordgo.ApplicationCommandOption{{Type: discordgo.ApplicationCommandOptionBoolean, Name: "value", Description: "whether to announce", Required: true}},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "set-default-queue-page-size",
					Description: "default page size of the queue command",
					Options:     []*discordgo.ApplicationCommandOption{intOpt("page-size", "page size (1-30)", true)},
				},
			},
		},
	}

	_, err := s.ApplicationCommandBulkOverwrite(appID, guildID, cmds)
	return err
}

func (h *CommandHandler) HandleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommandAutocomplete:
		h.handleAutocomplete(s, i)
		return
	case discordgo.InteractionApplicationCommand:
	default:
		return
	}

	data := i.ApplicationCommandData()
	if i.GuildID == "" {
		h.reply(s, i, "this command only works in a server", true)
		return
	}

	switch data.Name {
	case "play":
		h.cmdPlay(s, i, data.Options)
	case "next":
		h.cmdNext(s, i)
	case "skip":
		h.cmdSkip(s, i, data.Options)
	case "unskip":
		h.cmdUnskip(s, i)
	case "pause":
		h.cmdPause(s, i)
	case "resume":
		h.cmdResume(s, i)
	case "seek":
		h.cmdSeek(s, i, data.Options, false)
	case "fseek":
		h.cmdSeek(s, i, data.Options, true)
	case "replay":
		h.cmdReplay(s, i)
	case "move":
		h.cmdMove(s, i, data.Options)
	case "remove":
		h.cmdRemove(s, i, data.Options)
	case "queue":
		h.cmdQueue(s, i, data.Options)
	case "all-queue":
		h.cmdAllQueue(s, i, data.Options)
	case "now-playing":
		h.cmdNowPlaying(s, i)
	case "shuffle":
		h.cmdShuffle(s, i)
	case "clear":
		h.cmdClear(s, i)
	case "stop":
		h.cmdStop(s, i)
	case "disconnect":
		h.cmdDisconnect(s, i)
	case "favorites":
		h.cmdFavorites(s, i, data.Options)
	case "config":
		h.cmdConfig(s, i, data.Options)
	}
}

func (h *CommandHandler) handleAutocomplete(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	if data.Name != "play" {
		return
	}
	var query string
	for _, opt := range data.Options {
		if opt.Name == "query" && opt.Focused {
			query = opt.StringValue()
		}
	}
	if strings.TrimSpace(query) == "" {
		_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionApplicationCommandAutocompleteResult,
			Data: &discordgo.InteractionResponseData{Choices: []*discordgo.ApplicationCommandOptionChoice{}},
		})
		return
	}
	choices, err := autocomplete.Suggestions(context.Background(), query, h.bot.res.Spotify(), 10)
	if err != nil {
		slog.Debug("autocomplete", "err", err)
		return
	}
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionApplicationCommandAutocompleteResult,
		Data: &discordgo.InteractionResponseData{Choices: choices},
	})
}

// ---- individual commands ----

type playOpts struct {
	query     string
	immediate bool
	shuffle   bool
	split     bool
	skip      bool
}

func (h *CommandHandler) cmdPlay(s *discordgo.Session, i *discordgo.InteractionCreate, opts []*discordgo.ApplicationCommandInteractionDataOption) {
	var po playOpts
	for _, opt := range opts {
		switch opt.Name {
		case "query":
			po.query = opt.StringValue()
		case "immediate":
			po.immediate = opt.BoolValue()
		case "shuffle":
			po.shuffle = opt.BoolValue()
		case "split":
			po.split = opt.BoolValue()
		case "skip":
			po.skip = opt.BoolValue()
		}
	}
	h.enqueueAndMaybeStart(s, i, po)
}

// enqueueAndMaybeStart is the shared tail of play and favorites use:
// join the caller's voice channel, resolve the query, queue the results
// and start playback if nothing is playing.
func (h *CommandHandler) enqueueAndMaybeStart(s *discordgo.Session, i *discordgo.InteractionCreate, po playOpts) {
	// cancelling releases the resolver's producer goroutine when we bail
	// out before draining the event channel
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	guildID := i.GuildID

	voiceCh := h.userVoiceChannel(s, guildID, userIDOf(i))
	if voiceCh == "" {
		h.reply(s, i, "gotta be in a voice channel first", true)
		return
	}

	set, err := h.repo.UpsertSettings(ctx, guildID)
	if err != nil {
		h.reply(s, i, "settings lookup failed: "+err.Error(), true)
		return
	}

	if err := h.deferReply(s, i, set.QAddEphemeral); err != nil {
		slog.Error("defer reply", "guildID", guildID, "err", err)
		return
	}

	if err := h.bot.connect(s, guildID, voiceCh); err != nil {
		h.editReply(s, i, "couldn't join your voice channel: "+err.Error())
		return
	}

	sess := h.bot.session(guildID)
	h.bot.setAnnounceChannel(guildID, i.ChannelID)

	requestedBy := userIDOf(i)
	var tracks []*player.Track
	var infos []string
	for ev := range h.bot.res.Resolve(ctx, po.query, set.PlaylistLimit, po.split) {
		switch {
		case ev.Err != nil:
			h.editReply(s, i, "couldn't queue that up: "+ev.Err.Error())
			return
		case ev.Info != "":
			infos = append(infos, ev.Info)
		case ev.Track != nil:
			ev.Track.RequestedBy = requestedBy
			tracks = append(tracks, ev.Track)
		}
	}
	if len(tracks) == 0 {
		h.editReply(s, i, "no songs found")
		return
	}

	if po.shuffle && len(tracks) > 1 {
		utils.ShuffleSlice(tracks)
	}

	wasPlaying := sess.IsPlaying()
	if po.immediate {
		sess.EnqueueFront(tracks...)
	} else {
		sess.Enqueue(tracks...)
	}
	if po.skip && wasPlaying {
		_ = sess.Skip()
	}

	first := tracks[0]
	var msg string
	switch {
	case len(tracks) == 1 && !wasPlaying:
		msg = fmt.Sprintf("▶️ now playing **%s**", utils.EscapeMd(first.Title))
	case len(tracks) == 1:
		msg = fmt.Sprintf("👍 added **%s** to the queue", utils.EscapeMd(first.Title))
	default:
		msg = fmt.Sprintf("👍 added **%s** and %d other songs to the queue", utils.EscapeMd(first.Title), len(tracks)-1)
	}
	if len(infos) > 0 {
		msg += "\n" + strings.Join(infos, "\n")
	}
	h.editReply(s, i, msg)
}

func (h *CommandHandler) cmdNext(s *discordgo.Session, i *discordgo.InteractionCreate) {
	sess := h.bot.session(i.GuildID)
	if err := sess.Skip(); err != nil {
		h.reply(s, i, "nothing is playing", true)
		return
	}
	h.reply(s, i, "⏭️ skipped", false)
}

func (h *CommandHandler) cmdSkip(s *discordgo.Session, i *discordgo.InteractionCreate, opts []*discordgo.ApplicationCommandInteractionDataOption) {
	n := 1
	for _, opt := range opts {
		if opt.Name == "number" {
			n = int(opt.IntValue())
		}
	}
	sess := h.bot.session(i.GuildID)
	target, err := sess.SkipTo(n)
	if err != nil {
		h.reply(s, i, "no song at that position", true)
		return
	}
	h.reply(s, i, fmt.Sprintf("⏭️ skipping to **%s**", utils.EscapeMd(target.Title)), false)
}

func (h *CommandHandler) cmdUnskip(s *discordgo.Session, i *discordgo.InteractionCreate) {
	sess := h.bot.session(i.GuildID)
	prev, err := sess.Previous()
	if err != nil {
		h.reply(s, i, "no song to go back to", true)
		return
	}
	h.reply(s, i, fmt.Sprintf("⏮️ going back to **%s**", utils.EscapeMd(prev.Title)), false)
}

func (h *CommandHandler) cmdPause(s *discordgo.Session, i *discordgo.InteractionCreate) {
	sess := h.bot.session(i.GuildID)
	if sess.IsPaused() {
		h.reply(s, i, "already paused", true)
		return
	}
	if err := sess.Pause(); err != nil {
		h.reply(s, i, "nothing is playing", true)
		return
	}
	h.reply(s, i, "⏸️ the current song is paused", false)
}

func (h *CommandHandler) cmdResume(s *discordgo.Session, i *discordgo.InteractionCreate) {
	sess := h.bot.session(i.GuildID)
	if sess.IsPaused() {
		if err := sess.Resume(); err != nil {
			h.reply(s, i, "nothing to resume", true)
			return
		}
		h.reply(s, i, "▶️ the current song is resumed", false)
		return
	}
	if sess.QueueSize() > 0 && !sess.IsPlaying() {
		sess.StartIfIdle()
		h.reply(s, i, "▶️ resuming playback", false)
		return
	}
	h.reply(s, i, "nothing to resume", true)
}

func (h *CommandHandler) cmdSeek(s *discordgo.Session, i *discordgo.InteractionCreate, opts []*discordgo.ApplicationCommandInteractionDataOption, forward bool) {
	var raw string
	for _, opt := range opts {
		if opt.Name == "time" {
			raw = opt.StringValue()
		}
	}
	sec, ok := utils.ParseDurationString(raw)
	if !ok || sec < 0 {
		h.reply(s, i, "couldn't read that time, try something like 1:30 or 90s", true)
		return
	}

	sess := h.bot.session(i.GuildID)
	delta := sec
	if !forward {
		delta = sec - sess.Position()
	}
	target, err := sess.Seek(delta)
	if err != nil {
		h.replySeekErr(s, i, err)
		return
	}
	h.reply(s, i, fmt.Sprintf("⏩ seeked to %s", utils.PrettyTime(target)), false)
}

func (h *CommandHandler) cmdReplay(s *discordgo.Session, i *discordgo.InteractionCreate) {
	sess := h.bot.session(i.GuildID)
	if _, err := sess.Seek(-sess.Position()); err != nil {
		h.replySeekErr(s, i, err)
		return
	}
	h.reply(s, i, "🔁 replaying the current song", false)
}

func (h *CommandHandler) replySeekErr(s *discordgo.Session, i *discordgo.InteractionCreate, err error) {
	switch {
	case errors.Is(err, player.ErrLiveSeek):
		h.reply(s, i, "can't seek in a livestream", true)
	case errors.Is(err, player.ErrNothingPlaying):
		h.reply(s, i, "nothing is playing", true)
	default:
		h.reply(s, i, "seek failed: "+err.Error(), true)
	}
}

func (h *CommandHandler) cmdMove(s *discordgo.Session, i *discordgo.InteractionCreate, opts []*discordgo.ApplicationCommandInteractionDataOption) {
	from, to := 0, 0
	for _, opt := range opts {
		switch opt.Name {
		case "from":
			from = int(opt.IntValue())
		case "to":
			to = int(opt.IntValue())
		}
	}
	sess := h.bot.session(i.GuildID)
	t, err := sess.Move(from, to)
	if err != nil {
		h.reply(s, i, "position out of range", true)
		return
	}
	h.reply(s, i, fmt.Sprintf("moved **%s** to position %d", utils.EscapeMd(t.Title), to), false)
}

func (h *CommandHandler) cmdRemove(s *discordgo.Session, i *discordgo.InteractionCreate, opts []*discordgo.ApplicationCommandInteractionDataOption) {
	pos, count := 1, 1
	for _, opt := range opts {
		switch opt.Name {
		case "position":
			pos = int(opt.IntValue())
		case "range":
			count = int(opt.IntValue())
		}
	}
	sess := h.bot.session(i.GuildID)
	removed, err := sess.RemoveRange(pos, count)
	if err != nil {
		h.reply(s, i, "position out of range", true)
		return
	}
	if removed == 1 {
		h.reply(s, i, "removed 1 song from the queue", false)
		return
	}
	h.reply(s, i, fmt.Sprintf("removed %d songs from the queue", removed), false)
}

func (h *CommandHandler) cmdQueue(s *discordgo.Session, i *discordgo.InteractionCreate, opts []*discordgo.ApplicationCommandInteractionDataOption) {
	page := 1
	for _, opt := range opts {
		if opt.Name == "page" {
			page = int(opt.IntValue())
		}
	}
	set, err := h.repo.UpsertSettings(context.Background(), i.GuildID)
	pageSize := 10
	if err == nil && set != nil && set.DefaultQueuePageSize > 0 {
		pageSize = set.DefaultQueuePageSize
	}
	sess := h.bot.session(i.GuildID)
	embed, err := ui.BuildQueueEmbed(sess, page, pageSize)
	if err != nil {
		h.reply(s, i, err.Error(), true)
		return
	}
	h.replyEmbed(s, i, embed)
}

// allQueuePageSize is fixed: the combined view packs far more lines
// than the regular queue, so the configurable page size does not apply.
const allQueuePageSize = 12

func (h *CommandHandler) cmdAllQueue(s *discordgo.Session, i *discordgo.InteractionCreate, opts []*discordgo.ApplicationCommandInteractionDataOption) {
	page := 1
	for _, opt := range opts {
		if opt.Name == "page" {
			page = int(opt.IntValue())
		}
	}
	sess := h.bot.session(i.GuildID)
	embed, err := ui.BuildAllQueueEmbed(sess, page, allQueuePageSize)
	if err != nil {
		h.reply(s, i, err.Error(), true)
		return
	}
	h.replyEmbed(s, i, embed)
}

func (h *CommandHandler) cmdNowPlaying(s *discordgo.Session, i *discordgo.InteractionCreate) {
	sess := h.bot.session(i.GuildID)
	if sess.NowPlaying() == nil {
		h.reply(s, i, "nothing is playing", true)
		return
	}
	h.replyEmbed(s, i, ui.BuildPlayingEmbed(sess))
}

func (h *CommandHandler) cmdShuffle(s *discordgo.Session, i *discordgo.InteractionCreate) {
	sess := h.bot.session(i.GuildID)
	if sess.QueueSize() < 2 {
		h.reply(s, i, "not enough songs to shuffle", true)
		return
	}
	sess.Shuffle()
	h.reply(s, i, "🔀 shuffled", false)
}

func (h *CommandHandler) cmdClear(s *discordgo.Session, i *discordgo.InteractionCreate) {
	h.bot.session(i.GuildID).Clear()
	h.reply(s, i, "clearer than a field after a fresh harvest", false)
}

func (h *CommandHandler) cmdStop(s *discordgo.Session, i *discordgo.InteractionCreate) {
	sess := h.bot.session(i.GuildID)
	if !sess.IsPlaying() && sess.QueueSize() == 0 {
		h.reply(s, i, "nothing is playing", true)
		return
	}
	sess.Clear()
	_ = sess.Skip()
	h.reply(s, i, "⏹️ stopped", false)
}

func (h *CommandHandler) cmdDisconnect(s *discordgo.Session, i *discordgo.InteractionCreate) {
	sess := h.bot.session(i.GuildID)
	sess.Stop()
	h.bot.dropTransport(i.GuildID)
	h.reply(s, i, "👋 disconnected", false)
}

func (h *CommandHandler) cmdFavorites(s *discordgo.Session, i *discordgo.InteractionCreate, opts []*discordgo.ApplicationCommandInteractionDataOption) {
	if len(opts) == 0 {
		return
	}
	sub := opts[0]
	ctx := context.Background()

	switch sub.Name {
	case "use":
		var po playOpts
		for _, opt := range sub.Options {
			switch opt.Name {
			case "name":
				po.query = opt.StringValue()
			case "immediate":
				po.immediate = opt.BoolValue()
			case "shuffle":
				po.shuffle = opt.BoolValue()
			}
		}
		fav, err := h.bot.favs.Use(ctx, i.GuildID, po.query)
		if err != nil || fav == nil {
			h.reply(s, i, "no favorite with that name exists", true)
			return
		}
		po.query = fav.Query
		h.enqueueAndMaybeStart(s, i, po)

	case "list":
		favs, err := h.bot.favs.List(ctx, i.GuildID)
		if err != nil {
			h.reply(s, i, "couldn't list favorites: "+err.Error(), true)
			return
		}
		if len(favs) == 0 {
			h.reply(s, i, "there aren't any favorites yet", true)
			return
		}
		var sb strings.Builder
		for _, f := range favs {
			fmt.Fprintf(&sb, "• **%s**: %s (<@%s>)\n", utils.EscapeMd(f.Name), utils.EscapeMd(f.Query), f.Author)
		}
		h.replyEmbed(s, i, &discordgo.MessageEmbed{Title: "Favorites", Description: sb.String()})

	case "create":
		var name, query string
		for _, opt := range sub.Options {
			switch opt.Name {
			case "name":
				name = opt.StringValue()
			case "query":
				query = opt.StringValue()
			}
		}
		if existing, _ := h.bot.favs.Use(ctx, i.GuildID, name); existing != nil {
			h.reply(s, i, "a favorite with that name already exists", true)
			return
		}
		if err := h.bot.favs.Create(ctx, i.GuildID, userIDOf(i), name, query); err != nil {
			h.reply(s, i, "couldn't create favorite: "+err.Error(), true)
			return
		}
		h.reply(s, i, "👍 favorite created", false)

	case "remove":
		var name string
		for _, opt := range sub.Options {
			if opt.Name == "name" {
				name = opt.StringValue()
			}
		}
		n, err := h.bot.favs.Remove(ctx, i.GuildID, name)
		if err != nil || n == 0 {
			h.reply(s, i, "no favorite with that name exists", true)
			return
		}
		h.reply(s, i, "👍 favorite removed", false)
	}
}

func (h *CommandHandler) cmdConfig(s *discordgo.Session, i *discordgo.InteractionCreate, opts []*discordgo.ApplicationCommandInteractionDataOption) {
	if len(opts) == 0 {
		return
	}
	sub := opts[0]
	ctx := context.Background()

	set, err := h.repo.UpsertSettings(ctx, i.GuildID)
	if err != nil {
		h.reply(s, i, "settings lookup failed: "+err.Error(), true)
		return
	}

	onOff := func(b bool) string {
		if b {
			return "on"
		}
		return "off"
	}

	switch sub.Name {
	case "get":
		desc := fmt.Sprintf(
			"Playlist limit: %d\nWait before leaving after queue empties: %s\nLeave if no listeners: %s\nQueue add responses hidden: %s\nAuto announce next song: %s\nDefault queue page size: %d",
			set.PlaylistLimit,
			waitLabel(set.SecondsWaitAfterEmpty),
			onOff(set.LeaveIfNoListeners),
			onOff(set.QAddEphemeral),
			onOff(set.AutoAnnounceNext),
			set.DefaultQueuePageSize,
		)
		h.replyEmbed(s, i, &discordgo.MessageEmbed{Title: "Config", Description: desc})
		return

	case "set-playlist-limit":
		v := int(sub.Options[0].IntValue())
		if v < 1 {
			h.reply(s, i, "limit must be at least 1", true)
			return
		}
		set.PlaylistLimit = v

	case "set-wait-after-queue-empties":
		v := int(sub.Options[0].IntValue())
		if v < 0 {
			h.reply(s, i, "delay can't be negative", true)
			return
		}
		set.SecondsWaitAfterEmpty = v

	case "set-leave-if-no-listeners":
		set.LeaveIfNoListeners = sub.Options[0].BoolValue()

	case "set-queue-add-response-hidden":
		set.QAddEphemeral = sub.Options[0].BoolValue()

	case "set-auto-announce-next-song":
		set.AutoAnnounceNext = sub.Options[0].BoolValue()

	case "set-default-queue-page-size":
		v := int(sub.Options[0].IntValue())
		if v < 1 || v > 30 {
			h.reply(s, i, "page size must be between 1 and 30", true)
			return
		}
		set.DefaultQueuePageSize = v

	default:
		return
	}

	if err := h.repo.UpdateSettings(ctx, set); err != nil {
		h.reply(s, i, "couldn't save settings: "+err.Error(), true)
		return
	}
	h.reply(s, i, "👍 updated", false)
}

func waitLabel(sec int) string {
	if sec <= 0 {
		return "immediately"
	}
	return utils.PrettyTime(sec)
}

// ---- interaction helpers ----

func (h *CommandHandler) reply(s *discordgo.Session, i *discordgo.InteractionCreate, msg string, ephemeral bool) {
	data := &discordgo.InteractionResponseData{Content: msg}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
	if err != nil {
		slog.Error("interaction reply", "err", err)
	}
}

func (h *CommandHandler) replyEmbed(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Embeds: []*discordgo.MessageEmbed{embed}},
	})
	if err != nil {
		slog.Error("interaction reply", "err", err)
	}
}

func (h *CommandHandler) deferReply(s *discordgo.Session, i *discordgo.InteractionCreate, ephemeral bool) error {
	data := &discordgo.InteractionResponseData{}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: data,
	})
}

func (h *CommandHandler) editReply(s *discordgo.Session, i *discordgo.InteractionCreate, msg string) {
	if _, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Content: &msg}); err != nil {
		slog.Error("interaction edit", "err", err)
	}
}

// userVoiceChannel returns the voice channel the user currently sits in,
// or empty when they are not in voice.
func (h *CommandHandler) userVoiceChannel(s *discordgo.Session, guildID, userID string) string {
	g, err := s.State.Guild(guildID)
	if err != nil || g == nil {
		return ""
	}
	for _, vs := range g.VoiceStates {
		if vs.UserID == userID {
			return vs.ChannelID
		}
	}
	return ""
}

func userIDOf(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}
