// Package classify normalizes raw check outcomes into the canonical
// five-status taxonomy and evaluates numeric SLI thresholds.
package classify

import (
	"math"

	"github.com/pulsegrid/pulsegrid/internal/checker"
	"github.com/pulsegrid/pulsegrid/internal/db"
)

// FromOutcome maps a raw outcome onto the closed status set.
//
// Precedence: an uninterpretable attempt is error, a timeout is timeout,
// a completed attempt that violated its success criteria is failure; after
// that the monitor's thresholds decide degraded vs success.
func FromOutcome(o *checker.Outcome, m *db.Monitor) db.CheckStatus {
	if o.TimedOut {
		return db.StatusTimeout
	}
	if !o.Completed {
		return db.StatusError
	}
	if !o.Matched {
		return db.StatusFailure
	}

	if m.Config.SLI != nil {
		return EvaluateSLI(o.Measurement, m.Config.SLI)
	}

	if m.DegradedThresholdMs > 0 && o.ResponseTimeMs > m.DegradedThresholdMs {
		return db.StatusDegraded
	}
	return db.StatusSuccess
}

// sloBuffer is subtracted from an SLO target to derive the down threshold
// when none is configured.
const sloBuffer = 5.0

// EvaluateSLI computes a status from a numeric measurement against the
// configured thresholds. A nil or non-numeric value always classifies as
// error. With comparison gte, a value below Down is failure and a value
// below Degraded is degraded; lte mirrors this.
func EvaluateSLI(value *float64, cfg *db.SLIConfig) db.CheckStatus {
	if value == nil || math.IsNaN(*value) || math.IsInf(*value, 0) {
		return db.StatusError
	}

	v := *value
	if cfg.NormalizePercent && v <= 1 {
		v *= 100
	}

	down := cfg.Down
	if down == nil && cfg.SLOTarget != nil {
		derived := *cfg.SLOTarget - sloBuffer
		down = &derived
	}

	switch cfg.Comparison {
	case "lte":
		if down != nil && v > *down {
			return db.StatusFailure
		}
		if cfg.Degraded != nil && v > *cfg.Degraded {
			return db.StatusDegraded
		}
	default: // gte
		if down != nil && v < *down {
			return db.StatusFailure
		}
		if cfg.Degraded != nil && v < *cfg.Degraded {
			return db.StatusDegraded
		}
	}
	return db.StatusSuccess
}

// IsFailure reports whether a status counts toward the consecutive-failure
// counter. Degraded is excluded unless the monitor opts in.
func IsFailure(s db.CheckStatus, countDegraded bool) bool {
	switch s {
	case db.StatusFailure, db.StatusTimeout, db.StatusError:
		return true
	case db.StatusDegraded:
		return countDegraded
	case db.StatusSuccess:
		return false
	}
	return false
}
