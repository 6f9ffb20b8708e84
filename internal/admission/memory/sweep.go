package memory

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Sweeper runs Store.Sweep on a cron schedule so idle clients do not
// accumulate forever.
type Sweeper struct {
	store *Store
	cron  *cron.Cron
	log   zerolog.Logger
}

// NewSweeper validates the schedule (cron syntax, e.g. "@every 1m") and
// prepares a sweeper; call Start to begin.
func NewSweeper(store *Store, schedule string, log zerolog.Logger) (*Sweeper, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	s := &Sweeper{store: store, cron: cron.New(), log: log}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("schedule sweep: %w", err)
	}
	return s, nil
}

func (s *Sweeper) run() {
	n := s.store.Sweep(time.Now())
	if n > 0 {
		s.log.Debug().Int("evicted", n).Msg("swept idle clients")
	}
}

func (s *Sweeper) Start() {
	s.cron.Start()
	s.log.Info().Msg("sweeper started")
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
