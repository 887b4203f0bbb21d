package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Sweeper is the backstop against leaked state from abandoned sessions,
// e.g. a host who closed the tab without a clean disconnect.
type Sweeper struct {
	store    *SessionStore
	interval time.Duration
}

func NewSweeper(store *SessionStore, interval time.Duration) *Sweeper {
	return &Sweeper{store: store, interval: interval}
}

// Run blocks until ctx is done, sweeping on every tick. Sweeping uses
// the same store mutex as every other mutation, so it never races the
// router.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Info().Str("module", "app.sweeper").Dur("interval", s.interval).Msg("sweeper started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "app.sweeper").Msg("sweeper stopped")
			return
		case now := <-ticker.C:
			if removed := s.store.Sweep(now); removed > 0 {
				log.Info().Str("module", "app.sweeper").Int("removed", removed).Msg("expired sessions evicted")
			}
		}
	}
}
