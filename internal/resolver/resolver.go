package resolver

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rvainola/sonata/internal/config"
	"github.com/rvainola/sonata/internal/player"
	"github.com/rvainola/sonata/internal/spotify"
	"github.com/rvainola/sonata/internal/stream"
	"github.com/rvainola/sonata/internal/utils"
)

// Event is one result of resolving a query: a track, an informational
// message for the user, or an error. Tracks arrive incrementally so large
// playlists start playing before they are fully resolved.
type Event struct {
	Track *player.Track
	Info  string
	Err   error
}

// Resolver turns free-form queries (URLs, spotify links, search terms)
// into playable tracks.
type Resolver struct {
	cfg *config.Config

	spOnce sync.Once
	sp     *spotify.Client
	spErr  error
}

func New(cfg *config.Config) *Resolver {
	return &Resolver{cfg: cfg}
}

// send delivers one event unless the consumer has gone away. Every emit
// goes through here so an abandoned Resolve call cannot strand its
// producer goroutine on a full channel.
func send(ctx context.Context, ch chan<- Event, ev Event) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Spotify exposes the lazily-built spotify client, nil when credentials
// are not configured.
func (r *Resolver) Spotify() *spotify.Client {
	sp, err := r.spotifyClient()
	if err != nil {
		return nil
	}
	return sp
}

func (r *Resolver) spotifyClient() (*spotify.Client, error) {
	r.spOnce.Do(func() {
		if r.cfg.SpotifyClientID == "" || r.cfg.SpotifyClientSecret == "" {
			r.spErr = fmt.Errorf("spotify is not enabled")
			return
		}
		r.sp, r.spErr = spotify.NewClient(r.cfg.SpotifyClientID, r.cfg.SpotifyClientSecret)
	})
	return r.sp, r.spErr
}

// Resolve streams resolution results on the returned channel and closes it
// when done. playlistLimit caps how many tracks a playlist contributes
// (random sample past the cap); split breaks videos with chapter lists
// into one track per chapter.
func (r *Resolver) Resolve(ctx context.Context, query string, playlistLimit int, split bool) <-chan Event {
	ch := make(chan Event, 8)

	go func() {
		defer close(ch)
		q := strings.TrimSpace(query)

		if strings.HasPrefix(q, "http://") || strings.HasPrefix(q, "https://") || strings.HasPrefix(q, "spotify:") {
			switch {
			case isSpotify(q):
				r.resolveSpotify(ctx, q, playlistLimit, split, ch)
			case isYouTube(q):
				r.resolveYouTube(ctx, q, playlistLimit, split, ch)
			default:
				// direct stream URL: HLS, radio, plain file
				send(ctx, ch, Event{Track: &player.Track{
					Title:     q,
					Artist:    q,
					SourceURL: q,
					Source:    player.SourceDirect,
					IsLive:    true,
				}})
			}
			return
		}

		// not a URL, search YouTube
		r.emitFromQuery(ctx, "ytsearch1:"+q, nil, split, ch)
	}()

	return ch
}

func (r *Resolver) resolveSpotify(ctx context.Context, q string, playlistLimit int, split bool, ch chan<- Event) {
	sp, err := r.spotifyClient()
	if err != nil {
		send(ctx, ch, Event{Err: err})
		return
	}
	typ, id, err := spotify.ParseID(q)
	if err != nil {
		send(ctx, ch, Event{Err: fmt.Errorf("invalid spotify identifier")})
		return
	}

	switch typ {
	case "album":
		tracks, meta, err := sp.Album(ctx, id, playlistLimit)
		if err != nil {
			send(ctx, ch, Event{Err: err})
			return
		}
		r.emitSpotifyTracks(ctx, tracks, &player.QueuedPlaylist{Title: meta.Title, Source: meta.Source}, playlistLimit, split, ch)

	case "playlist":
		tracks, meta, err := sp.Playlist(ctx, id, playlistLimit)
		if err != nil {
			send(ctx, ch, Event{Err: err})
			return
		}
		if playlistLimit > 0 && len(tracks) > playlistLimit {
			if !send(ctx, ch, Event{Info: fmt.Sprintf("a random sample of %d songs was taken", playlistLimit)}) {
				return
			}
		}
		r.emitSpotifyTracks(ctx, tracks, &player.QueuedPlaylist{Title: meta.Title, Source: meta.Source}, playlistLimit, split, ch)

	case "track":
		t, err := sp.TrackByID(ctx, id)
		if err != nil {
			send(ctx, ch, Event{Err: err})
			return
		}
		r.emitSpotifyTracks(ctx, []spotify.Track{t}, nil, 1, split, ch)

	case "artist":
		tracks, err := sp.ArtistTop(ctx, id, "US", playlistLimit)
		if err != nil {
			send(ctx, ch, Event{Err: err})
			return
		}
		r.emitSpotifyTracks(ctx, tracks, nil, playlistLimit, split, ch)

	default:
		send(ctx, ch, Event{Err: fmt.Errorf("unsupported spotify type: %s", typ)})
	}
}

func (r *Resolver) resolveYouTube(ctx context.Context, q string, playlistLimit int, split bool, ch chan<- Event) {
	if strings.Contains(q, "list=") {
		entries, err := stream.ListPlaylist(ctx, r.cfg, q)
		if err != nil || len(entries) == 0 {
			send(ctx, ch, Event{Err: fmt.Errorf("not found")})
			return
		}
		if playlistLimit > 0 && len(entries) > playlistLimit {
			utils.ShuffleSlice(entries)
			entries = entries[:playlistLimit]
			if !send(ctx, ch, Event{Info: fmt.Sprintf("a random sample of %d songs was taken", playlistLimit)}) {
				return
			}
		}
		for _, e := range entries {
			select {
			case <-ctx.Done():
				return
			default:
			}
			// full info per entry for duration, description, thumbnail
			r.emitFromQuery(ctx, "https://www.youtube.com/watch?v="+e.ID, nil, split, ch)
		}
		return
	}

	r.emitFromQuery(ctx, q, nil, split, ch)
}

func (r *Resolver) emitSpotifyTracks(ctx context.Context, tracks []spotify.Track, qp *player.QueuedPlaylist, playlistLimit int, split bool, ch chan<- Event) {
	if len(tracks) == 0 {
		return
	}
	if playlistLimit > 0 && len(tracks) > playlistLimit {
		utils.ShuffleSlice(tracks)
		tracks = tracks[:playlistLimit]
	}
	for _, t := range tracks {
		select {
		case <-ctx.Done():
			return
		default:
		}
		q := fmt.Sprintf(`ytsearch1:"%s" "%s"`, t.Name, t.Artist)
		if !r.emitFromQuery(ctx, q, qp, split, ch) {
			if !send(ctx, ch, Event{Info: fmt.Sprintf("couldn't find: %s - %s", t.Artist, t.Name)}) {
				return
			}
		}
	}
}

// emitFromQuery fetches info for one URL or search query and emits the
// resulting tracks. Returns false when nothing could be resolved.
func (r *Resolver) emitFromQuery(ctx context.Context, q string, qp *player.QueuedPlaylist, split bool, ch chan<- Event) bool {
	info, err := stream.FetchInfo(ctx, r.cfg, q)
	if err != nil || info == nil {
		if err != nil && qp == nil && !strings.HasPrefix(q, "ytsearch") {
			send(ctx, ch, Event{Err: err})
			return true
		}
		return false
	}
	emitted := false
	for _, t := range r.infoToTracks(info, qp, split) {
		if !send(ctx, ch, Event{Track: t}) {
			return true
		}
		emitted = true
	}
	return emitted
}

func (r *Resolver) infoToTracks(info *stream.MediaInfo, qp *player.QueuedPlaylist, split bool) []*player.Track {
	base := &player.Track{
		Title:       info.Title,
		Artist:      info.Uploader,
		SourceURL:   info.WebpageURL,
		Source:      player.SourceYouTube,
		IsLive:      info.IsLive,
		DurationSec: info.DurationSec,
		Thumbnail:   info.Thumbnail,
		Playlist:    qp,
	}
	if base.SourceURL == "" && info.ID != "" {
		base.SourceURL = "https://www.youtube.com/watch?v=" + info.ID
	}

	if split && !base.IsLive && info.Description != "" && base.DurationSec > 0 {
		if chapters := parseChapters(info.Description, base.DurationSec); len(chapters) > 0 {
			out := make([]*player.Track, 0, len(chapters))
			for _, c := range chapters {
				t := base.Clone()
				t.OffsetSec = c.Offset
				t.EndSec = c.Offset + c.Length
				t.DurationSec = t.EndSec
				t.Title = c.Label + " (" + base.Title + ")"
				out = append(out, t)
			}
			return out
		}
	}

	return []*player.Track{base}
}

func isSpotify(s string) bool {
	return strings.HasPrefix(s, "spotify:") || strings.Contains(s, "open.spotify.com")
}

func isYouTube(s string) bool {
	return strings.Contains(s, "youtube.com") || strings.Contains(s, "youtu.be") || strings.Contains(s, "music.youtube.")
}
