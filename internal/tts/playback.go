package tts

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lexiqai/voice-studio/internal/observability"
)

// Playback is one stored WAV object.
type Playback struct {
	ID       string
	WAV      []byte
	Duration time.Duration
	Created  time.Time
}

// PlaybackStore holds synthesized audio behind revocable ids. Entries expire
// after the TTL; a zero TTL keeps them until revoked.
type PlaybackStore struct {
	baseURL string
	ttl     time.Duration
	now     func() time.Time

	mu    sync.RWMutex
	items map[string]*Playback
}

// NewPlaybackStore creates a store whose URLs are rooted at baseURL. An
// empty baseURL yields relative URLs.
func NewPlaybackStore(baseURL string, ttl time.Duration) *PlaybackStore {
	return &PlaybackStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     ttl,
		now:     time.Now,
		items:   make(map[string]*Playback),
	}
}

// Put stores wav and returns its playback.
func (s *PlaybackStore) Put(wav []byte, duration time.Duration) Playback {
	p := &Playback{
		ID:       uuid.New().String(),
		WAV:      wav,
		Duration: duration,
		Created:  s.now(),
	}

	s.mu.Lock()
	s.items[p.ID] = p
	n := len(s.items)
	s.mu.Unlock()

	observability.SetActivePlaybacks(n)
	return *p
}

// Get returns a live playback.
func (s *PlaybackStore) Get(id string) (Playback, bool) {
	s.mu.RLock()
	p, ok := s.items[id]
	s.mu.RUnlock()
	if !ok || s.expired(p) {
		return Playback{}, false
	}
	return *p, true
}

// Revoke removes id and reports whether it was present.
func (s *PlaybackStore) Revoke(id string) bool {
	s.mu.Lock()
	_, ok := s.items[id]
	delete(s.items, id)
	n := len(s.items)
	s.mu.Unlock()

	if ok {
		observability.SetActivePlaybacks(n)
	}
	return ok
}

// Len returns the number of stored playbacks, expired ones included.
func (s *PlaybackStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// URL returns the playback URL for id.
func (s *PlaybackStore) URL(id string) string {
	return s.baseURL + "/api/speech/" + id
}

// Sweep removes expired playbacks and returns how many were removed.
func (s *PlaybackStore) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}

	s.mu.Lock()
	removed := 0
	for id, p := range s.items {
		if s.expired(p) {
			delete(s.items, id)
			removed++
		}
	}
	n := len(s.items)
	s.mu.Unlock()

	if removed > 0 {
		observability.SetActivePlaybacks(n)
	}
	return removed
}

// Run sweeps expired playbacks until ctx is done.
func (s *PlaybackStore) Run(ctx context.Context) {
	if s.ttl <= 0 {
		return
	}
	interval := max(s.ttl/2, time.Second)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger := observability.Component("playback")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				logger.Debug().Int("removed", n).Msg("Expired playbacks removed")
			}
		}
	}
}

func (s *PlaybackStore) expired(p *Playback) bool {
	return s.ttl > 0 && s.now().Sub(p.Created) >= s.ttl
}
