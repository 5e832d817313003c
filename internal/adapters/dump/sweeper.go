package dump

import (
	"fmt"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Sweeper prunes old dumps on a cron schedule.
type Sweeper struct {
	scheduler *cronlib.Cron
}

// StartSweeper schedules store.Prune(maxAge). schedule accepts standard
// five-field specs and descriptors such as "@every 1h".
func StartSweeper(store *Store, schedule string, maxAge time.Duration) (*Sweeper, error) {
	scheduler := cronlib.New()
	_, err := scheduler.AddFunc(schedule, func() {
		n, err := store.Prune(maxAge)
		if err != nil {
			log.Error().Err(err).Str("module", "dump").Msg("prune failed")
			return
		}
		if n > 0 {
			log.Info().Str("module", "dump").Int("removed", n).Msg("pruned old dumps")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", schedule, err)
	}
	scheduler.Start()
	log.Info().Str("module", "dump").Str("schedule", schedule).Dur("max_age", maxAge).Msg("dump sweeper started")
	return &Sweeper{scheduler: scheduler}, nil
}

// Stop waits for a running prune to finish.
func (s *Sweeper) Stop() {
	<-s.scheduler.Stop().Done()
}
