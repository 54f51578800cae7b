package player

import "net/url"

type TrackSource int

const (
	SourceYouTube TrackSource = iota
	SourceSpotify
	SourceDirect
)

func (s TrackSource) String() string {
	switch s {
	case SourceYouTube:
		return "YouTube"
	case SourceSpotify:
		return "Spotify"
	default:
		return "Link"
	}
}

type QueuedPlaylist struct {
	Title  string
	Source string
}

// Track is one playable unit plus the bookkeeping the session needs to
// resolve, retry and replay it. SourceURL is the canonical page URL; the
// time-limited direct media URL lives in cachedStreamURL and is never
// persisted.
type Track struct {
	Title       string
	Artist      string
	SourceURL   string
	Source      TrackSource
	IsLive      bool
	DurationSec int // absolute end position; 0 when unknown (live streams, bare URLs)
	OffsetSec   int // start position applied at decoder spawn
	EndSec      int // nonzero caps decoding at this position (chapter segments)
	Thumbnail   string
	Playlist    *QueuedPlaylist
	RequestedBy string

	cachedStreamURL string
	prefetching     bool
	resolveAttempts int
	abortRetries    int
}

// Clone returns a copy with fresh resolution/retry bookkeeping, used for
// seek-requeues, retry-after-failure and going back to a previous track.
func (t *Track) Clone() *Track {
	if t == nil {
		return nil
	}
	c := *t
	c.cachedStreamURL = ""
	c.prefetching = false
	c.resolveAttempts = 0
	c.abortRetries = 0
	return &c
}

// ValidSourceURL reports whether raw is a well-formed absolute http(s) URL.
func ValidSourceURL(raw string) bool {
	if raw == "" || raw == "undefined" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
