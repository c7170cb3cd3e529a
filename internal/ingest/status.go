package ingest

import (
	"sentinelgrid.dev/telemetry/internal/store"
)

// EvaluateChannel derives the status of a single measurement channel.
// Critical bounds are checked first, then warning bounds. Bounds trigger
// strictly outside the band: a value exactly equal to a bound does not
// trigger it. A band with no bounds set never triggers.
func EvaluateChannel(v float64, warn, crit store.Band) store.Status {
	if outside(v, crit) {
		return store.StatusCritical
	}
	if outside(v, warn) {
		return store.StatusWarning
	}
	return store.StatusOK
}

func outside(v float64, b store.Band) bool {
	if b.Low != nil && v < *b.Low {
		return true
	}
	if b.High != nil && v > *b.High {
		return true
	}
	return false
}

// Evaluate derives a sensor's overall status from its current value(s).
// For composite sensors both channels are evaluated independently and the
// more severe result wins, regardless of which channel produced it. A nil
// secondary value (single-channel sensor, or composite payload missing the
// secondary field) evaluates the primary channel only.
func Evaluate(t store.Thresholds, primary float64, secondary *float64) store.Status {
	status := EvaluateChannel(primary, t.PrimaryWarn, t.PrimaryCrit)
	if secondary != nil {
		if s := EvaluateChannel(*secondary, t.SecondaryWarn, t.SecondaryCrit); s.Severity() > status.Severity() {
			status = s
		}
	}
	return status
}
