package skillrt

import (
	"fmt"
	"time"

	"github.com/xingyang1991/nightfall/spec"
)

const (
	MinuteWindow = time.Minute
	NightWindow  = 12 * time.Hour
)

// admit applies the per-skill sliding windows stored on the session. Hits
// older than NightWindow are pruned on every check. An admitted call is
// recorded; a rejected one is not.
func admit(sess *spec.Session, skillID string, rl spec.RateLimit, now time.Time) error {
	if rl.PerMinute <= 0 && rl.PerNight <= 0 {
		return nil
	}
	hits := sess.Hits(skillID)
	kept := hits[:0]
	inMinute := 0
	for _, h := range hits {
		age := now.Sub(h)
		if age >= NightWindow {
			continue
		}
		if age < MinuteWindow {
			inMinute++
		}
		kept = append(kept, h)
	}

	var err error
	switch {
	case rl.PerMinute > 0 && inMinute >= rl.PerMinute:
		err = fmt.Errorf("%w: %s allows %d calls per minute", spec.ErrRateLimited, skillID, rl.PerMinute)
	case rl.PerNight > 0 && len(kept) >= rl.PerNight:
		err = fmt.Errorf("%w: %s allows %d calls per night", spec.ErrRateLimited, skillID, rl.PerNight)
	default:
		kept = append(kept, now)
	}
	sess.SetHits(skillID, kept)
	return err
}
