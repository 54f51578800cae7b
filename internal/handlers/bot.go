package handlers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/rvainola/sonata/internal/config"
	"github.com/rvainola/sonata/internal/player"
	"github.com/rvainola/sonata/internal/repository"
	"github.com/rvainola/sonata/internal/resolver"
	"github.com/rvainola/sonata/internal/stream"
)

type Bot struct {
	cfg  *config.Config
	repo *repository.Repo
	favs *repository.FavoritesService
	res  *resolver.Resolver
	reg  *player.Registry
	cmd  *CommandHandler

	ctx context.Context
	dg  *discordgo.Session

	mu         sync.Mutex
	sinks      map[string]*stream.VoiceSink
	transports map[string]*stream.VoiceTransport
	announceCh map[string]string // guildID -> channel for playback notices
}

func NewBot(cfg *config.Config, repo *repository.Repo) *Bot {
	b := &Bot{
		cfg:        cfg,
		repo:       repo,
		favs:       repository.NewFavoritesService(repo),
		res:        resolver.New(cfg),
		sinks:      make(map[string]*stream.VoiceSink),
		transports: make(map[string]*stream.VoiceTransport),
		announceCh: make(map[string]string),
	}
	b.reg = player.NewRegistry(b.buildSession)
	b.cmd = NewCommandHandler(cfg, repo, b)
	return b
}

// buildSession assembles the per-guild playback stack: voice sink, ffmpeg
// spawner, URL extractor, settings source and the notifier that posts
// playback notices back to the guild.
func (b *Bot) buildSession(guildID string) *player.Session {
	var sess *player.Session
	sink := stream.NewVoiceSink(stream.SinkEvents{
		Idle:  func() { sess.OnSinkIdle() },
		Error: func(err error) { sess.OnSinkError(err) },
	})

	sess = player.NewSession(b.ctx, guildID, player.Deps{
		Extractor: stream.NewExtractor(b.cfg),
		Spawn: func(ctx context.Context, url string, offsetSec, endSec int) (player.Decoder, error) {
			return stream.StartTranscoder(ctx, url, offsetSec, endSec)
		},
		Sink:     sink,
		Notifier: &guildNotifier{bot: b, guildID: guildID},
		Settings: &settingsSource{repo: b.repo, guildID: guildID},
	})

	b.mu.Lock()
	b.sinks[guildID] = sink
	b.mu.Unlock()
	return sess
}

func (b *Bot) session(guildID string) *player.Session {
	return b.reg.Get(guildID)
}

func (b *Bot) sink(guildID string) *stream.VoiceSink {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sinks[guildID]
}

// connect joins the requested voice channel (or reuses the current
// connection when already there) and hands the transport to the session.
func (b *Bot) connect(s *discordgo.Session, guildID, channelID string) error {
	b.mu.Lock()
	cur := b.transports[guildID]
	b.mu.Unlock()
	if cur != nil && cur.ChannelID() == channelID {
		return nil
	}

	sess := b.session(guildID)

	t, err := stream.JoinVoice(b.ctx, s, guildID, channelID)
	if err != nil {
		return err
	}
	b.sink(guildID).Bind(t.Conn())
	sess.AttachTransport(t)

	b.mu.Lock()
	b.transports[guildID] = t
	b.mu.Unlock()
	return nil
}

func (b *Bot) dropTransport(guildID string) {
	b.mu.Lock()
	delete(b.transports, guildID)
	b.mu.Unlock()
}

func (b *Bot) setAnnounceChannel(guildID, channelID string) {
	b.mu.Lock()
	b.announceCh[guildID] = channelID
	b.mu.Unlock()
}

func (b *Bot) announceChannel(guildID string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.announceCh[guildID]
}

func (b *Bot) Run(ctx context.Context) error {
	b.ctx = ctx

	dg, err := discordgo.New("Bot " + b.cfg.DiscordToken)
	if err != nil {
		return err
	}
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
	b.dg = dg

	dg.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		slog.Info("connected", "user", s.State.User.Username)
		if b.cfg.BotStatus != "" || b.cfg.BotActivity != "" {
			_ = s.UpdateGameStatus(0, b.cfg.BotActivity)
		}
		appID := s.State.User.ID

		if b.cfg.RegisterCommandsOnBot {
			if err := b.cmd.RegisterCommands(s, appID, ""); err != nil {
				slog.Error("register global commands", "err", err)
			} else {
				slog.Info("registered global application commands")
			}
			return
		}

		var wg sync.WaitGroup
		for _, g := range s.State.Guilds {
			wg.Add(1)
			go func(guildID string) {
				defer wg.Done()
				if err := b.cmd.RegisterCommands(s, appID, guildID); err != nil {
					slog.Error("register guild commands", "guildID", guildID, "err", err)
				}
			}(g.ID)
		}
		wg.Wait()

		if _, err := s.ApplicationCommandBulkOverwrite(appID, "", []*discordgo.ApplicationCommand{}); err != nil {
			slog.Error("clear global commands", "err", err)
		}
		slog.Info("registered commands on all guilds")
	})

	dg.AddHandler(func(s *discordgo.Session, g *discordgo.GuildCreate) {
		if b.cfg.RegisterCommandsOnBot {
			return
		}
		appID := s.State.User.ID
		if err := b.cmd.RegisterCommands(s, appID, g.ID); err != nil {
			slog.Error("register guild commands on join", "guildID", g.ID, "err", err)
		}
	})

	dg.AddHandler(b.cmd.HandleInteraction)
	dg.AddHandler(b.onVoiceStateUpdate)

	if err := dg.Open(); err != nil {
		return err
	}
	defer dg.Close()

	<-ctx.Done()
	return nil
}

// onVoiceStateUpdate resets the session when the bot loses its voice
// channel and leaves when the last human listener does.
func (b *Bot) onVoiceStateUpdate(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
	guildID := vs.GuildID

	if vs.UserID == s.State.User.ID && vs.ChannelID == "" {
		sess := b.reg.Peek(guildID)
		if sess != nil {
			slog.Info("voice connection dropped", "guildID", guildID)
			b.dropTransport(guildID)
			sess.Reset()
		}
		return
	}

	b.mu.Lock()
	t := b.transports[guildID]
	b.mu.Unlock()
	if t == nil {
		return
	}

	set, err := b.repo.GetSettings(context.Background(), guildID)
	if err != nil || set == nil || !set.LeaveIfNoListeners {
		return
	}
	if nonBotListeners(s, guildID, t.ChannelID()) == 0 {
		slog.Info("no listeners left, leaving voice", "guildID", guildID)
		b.dropTransport(guildID)
		if sess := b.reg.Peek(guildID); sess != nil {
			sess.Stop()
		}
	}
}

func nonBotListeners(s *discordgo.Session, guildID, channelID string) int {
	g, _ := s.State.Guild(guildID)
	if g == nil {
		return 0
	}
	n := 0
	for _, vs := range g.VoiceStates {
		if vs.ChannelID != channelID {
			continue
		}
		m, _ := s.State.Member(guildID, vs.UserID)
		if m != nil && m.User != nil && !m.User.Bot {
			n++
		}
	}
	return n
}

// settingsSource adapts the repository to the session's settings reads.
type settingsSource struct {
	repo    *repository.Repo
	guildID string
}

func (ss *settingsSource) WaitAfterEmpty(ctx context.Context) time.Duration {
	set, err := ss.repo.UpsertSettings(ctx, ss.guildID)
	if err != nil || set == nil {
		return 30 * time.Second
	}
	return time.Duration(set.SecondsWaitAfterEmpty) * time.Second
}
