package player

import "log/slog"

// prefetchNext warms the direct URL of the upcoming track so the next
// transition can skip resolution. The result lives on the track itself, so
// queue reorders can't attach it to the wrong item, and the prefetching
// flag keeps it to one attempt per track at a time. Failures are silent;
// the normal resolution path will try again with its own retry budget.
func (s *Session) prefetchNext() {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	next := s.pending[0]
	if next.prefetching || next.IsLive || next.cachedStreamURL != "" || !ValidSourceURL(next.SourceURL) {
		s.mu.Unlock()
		return
	}
	next.prefetching = true
	s.mu.Unlock()

	url, err := s.deps.Extractor.DirectURL(s.ctx, next.SourceURL)

	s.mu.Lock()
	next.prefetching = false
	if err == nil {
		next.cachedStreamURL = url
	}
	s.mu.Unlock()

	if err != nil {
		slog.Debug("prefetch failed", "sessionID", s.id, "title", next.Title, "err", err)
	}
}
