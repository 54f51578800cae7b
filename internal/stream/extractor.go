package stream

import (
	"context"
	"fmt"
	"strings"

	"github.com/rvainola/sonata/internal/config"
)

// Extractor turns canonical source URLs into direct media URLs the
// transcoder can open. YouTube URLs go through yt-dlp; anything else is
// assumed to already be a direct stream (HLS, radio, plain files).
type Extractor struct {
	cfg *config.Config
}

func NewExtractor(cfg *config.Config) *Extractor {
	return &Extractor{cfg: cfg}
}

func (e *Extractor) DirectURL(ctx context.Context, sourceURL string) (string, error) {
	if !needsResolution(sourceURL) {
		return sourceURL, nil
	}
	info, err := FetchInfo(ctx, e.cfg, sourceURL)
	if err != nil {
		return "", err
	}
	u := info.AudioURL()
	if u == "" {
		return "", fmt.Errorf("no usable media URL for %s", sourceURL)
	}
	return u, nil
}

func needsResolution(u string) bool {
	return strings.Contains(u, "youtube.com") || strings.Contains(u, "youtu.be") || strings.Contains(u, "music.youtube.")
}
