package stream

import (
	"context"
	"fmt"
	"strings"
	"sync"

	ytdlp "github.com/lrstanley/go-ytdlp"

	"github.com/rvainola/sonata/internal/config"
)

// MediaInfo is the subset of yt-dlp metadata the bot cares about. For
// playlist and search containers, Entries holds the children and the
// top-level fields mirror the first entry.
type MediaInfo struct {
	ID          string
	Title       string
	Uploader    string
	DurationSec int
	IsLive      bool
	Description string
	WebpageURL  string
	Thumbnail   string

	directURL  string
	formatURLs []string

	Entries []MediaInfo
}

// AudioURL returns the best directly playable URL for this item, or ""
// when yt-dlp produced nothing usable.
func (m *MediaInfo) AudioURL() string {
	if strings.HasPrefix(m.directURL, "http") {
		return m.directURL
	}
	for _, u := range m.formatURLs {
		if strings.HasPrefix(u, "http") {
			return u
		}
	}
	return ""
}

var installOnce sync.Once

func newCommand(cfg *config.Config, url string) *ytdlp.Command {
	cmd := ytdlp.New().
		Format("ba[acodec^=opus]/ba[ext=m4a]/bestaudio/best").
		NoCheckCertificates().
		DumpJSON()

	if cfg != nil && cfg.YouTubeCookiesPath != "" {
		cmd = cmd.Cookies(cfg.YouTubeCookiesPath)
	}
	if strings.Contains(url, "youtube.com") || strings.Contains(url, "youtu.be") || strings.HasPrefix(url, "ytsearch") {
		extractorArgs := "youtube:player-client=default,mweb"
		if cfg != nil && cfg.YouTubePOToken != "" {
			extractorArgs += ";po_token=" + cfg.YouTubePOToken
		}
		cmd = cmd.ExtractorArgs(extractorArgs)
	}
	return cmd
}

// FetchInfo runs yt-dlp -J for a URL or ytsearch query.
func FetchInfo(ctx context.Context, cfg *config.Config, query string) (*MediaInfo, error) {
	installOnce.Do(func() {
		ytdlp.MustInstall(ctx, nil)
	})

	res, err := newCommand(cfg, query).Run(ctx, query)
	if err != nil {
		if strings.Contains(err.Error(), "Sign in to confirm") {
			return nil, fmt.Errorf("yt-dlp fetch failed (PO token may be required): %w", err)
		}
		return nil, fmt.Errorf("yt-dlp run: %w", err)
	}

	infos, err := res.GetExtractedInfo()
	if err != nil {
		return nil, fmt.Errorf("parse yt-dlp json: %w", err)
	}
	if len(infos) == 0 || infos[0] == nil {
		return nil, fmt.Errorf("yt-dlp returned no info")
	}
	ext := infos[0]

	out := &MediaInfo{}
	if len(ext.Entries) > 0 {
		out.Entries = make([]MediaInfo, 0, len(ext.Entries))
		for _, e := range ext.Entries {
			if e == nil {
				continue
			}
			out.Entries = append(out.Entries, fromExtracted(e))
		}
		if len(out.Entries) > 0 {
			first := out.Entries[0]
			first.Entries = out.Entries
			*out = first
		}
		return out, nil
	}

	*out = fromExtracted(ext)
	return out, nil
}

// ListPlaylist lists playlist entries without resolving each one. Only IDs
// and display metadata come back; callers fetch full info per entry.
func ListPlaylist(ctx context.Context, cfg *config.Config, url string) ([]MediaInfo, error) {
	installOnce.Do(func() {
		ytdlp.MustInstall(ctx, nil)
	})

	cmd := ytdlp.New().
		FlatPlaylist().
		DumpJSON()
	if cfg != nil && cfg.YouTubeCookiesPath != "" {
		cmd = cmd.Cookies(cfg.YouTubeCookiesPath)
	}
	if strings.Contains(url, "youtube.com") || strings.Contains(url, "youtu.be") {
		extractorArgs := "youtube:player-client=default,mweb"
		if cfg != nil && cfg.YouTubePOToken != "" {
			extractorArgs += ";po_token=" + cfg.YouTubePOToken
		}
		cmd = cmd.ExtractorArgs(extractorArgs)
	}

	res, err := cmd.Run(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp playlist fetch failed for %s: %w", url, err)
	}
	infos, err := res.GetExtractedInfo()
	if err != nil {
		return nil, fmt.Errorf("parse yt-dlp playlist json: %w", err)
	}
	if len(infos) == 0 || infos[0] == nil {
		return nil, fmt.Errorf("yt-dlp returned empty playlist info")
	}

	pl := infos[0]
	out := make([]MediaInfo, 0, len(pl.Entries))
	for _, e := range pl.Entries {
		if e == nil {
			continue
		}
		out = append(out, fromExtracted(e))
	}
	return out, nil
}

func fromExtracted(e *ytdlp.ExtractedInfo) MediaInfo {
	m := MediaInfo{
		ID:          e.ID,
		Title:       strPtr(e.Title),
		Uploader:    strPtr(e.Uploader),
		DurationSec: int(floatPtr(e.Duration)),
		IsLive:      boolPtr(e.IsLive),
		Description: strPtr(e.Description),
		WebpageURL:  strPtr(e.WebpageURL),
	}
	if m.DurationSec < 0 {
		m.DurationSec = 0
	}
	for _, t := range e.Thumbnails {
		if t != nil && t.URL != "" {
			m.Thumbnail = t.URL // last one is the largest
		}
	}
	for _, f := range e.RequestedFormats {
		if f != nil {
			m.formatURLs = append(m.formatURLs, f.URL)
		}
	}
	m.directURL = strPtr(e.URL)
	for _, f := range e.Formats {
		if f != nil {
			m.formatURLs = append(m.formatURLs, f.URL)
		}
	}
	return m
}

func strPtr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func floatPtr(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func boolPtr(p *bool) bool {
	if p == nil {
		return false
	}
	return *p
}
