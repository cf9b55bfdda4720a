package host

import "time"

const (
	ecoMaxSleep = 20 * time.Millisecond
	ecoMinSleep = time.Millisecond
)

// ecoSleeper estimates how long the consumer can sleep between capture
// events without missing one. The estimate creeps towards 85% of the
// observed event spacing and shrinks while frames are being dropped.
type ecoSleeper struct {
	enabled   bool
	reference time.Time
	estimate  time.Duration
	dropped   uint
}

func (e *ecoSleeper) next(now time.Time, hasSignal bool, dropped uint, frameInterval time.Duration) time.Duration {
	if !hasSignal {
		return ecoMaxSleep
	}

	newDropped := dropped - e.dropped
	e.dropped = dropped

	sinceLast := time.Duration(0.85 * float64(now.Sub(e.reference)))
	current := e.estimate
	if newDropped > 0 {
		current = time.Duration(float64(current) / 1.5)
	}
	e.estimate = lerp(current, sinceLast, 0.01)

	limit := ecoMaxSleep
	if frameInterval > 0 && frameInterval < limit {
		limit = frameInterval
	}
	e.estimate = min(e.estimate, limit)

	if newDropped > 0 || e.estimate < ecoMinSleep {
		return 0
	}
	return e.estimate
}

func lerp(a, b time.Duration, t float64) time.Duration {
	return a + time.Duration(t*float64(b-a))
}
