package storage

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/devark/internal/state"
)

// DefaultRetention is how long disk records are kept.
const DefaultRetention = 7 * 24 * time.Hour

// Purger is a store whose disk tier can be aged out.
type Purger interface {
	PurgeOlderThan(cutoff time.Time) (int, error)
	Dir() string
}

type cleanupMark struct {
	At time.Time `json:"at"`
}

// RunRetention purges records older than maxAge from every store, at most
// once per local calendar day. It reports whether a cleanup ran.
func RunRetention(kv state.KV, now time.Time, maxAge time.Duration, stores ...Purger) (bool, error) {
	var last cleanupMark
	found, err := kv.Get(state.KeyLastCleanup, &last)
	if err != nil {
		log.Warn().Err(err).Msg("Unreadable last cleanup mark; cleaning anyway")
		found = false
	}
	if found && sameLocalDay(last.At, now) {
		return false, nil
	}

	cutoff := now.Add(-maxAge)
	for _, s := range stores {
		n, err := s.PurgeOlderThan(cutoff)
		if err != nil {
			log.Warn().Err(err).Str("dir", s.Dir()).Msg("Retention cleanup failed")
			continue
		}
		if n > 0 {
			log.Info().Int("removed", n).Str("dir", s.Dir()).Msg("Removed expired records")
		}
	}
	return true, kv.Put(state.KeyLastCleanup, cleanupMark{At: now})
}

func sameLocalDay(a, b time.Time) bool {
	a, b = a.Local(), b.Local()
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}
