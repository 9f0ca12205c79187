// Package policy decides whether a crashed process is restarted and when.
package policy

import (
	"math"
	"time"
)

// MaxBackoffDelay caps the exponential restart delay.
const MaxBackoffDelay = 15 * time.Second

const backoffFactor = 1.5

// Limits are the restart settings of one managed process.
type Limits struct {
	AutoRestart            bool
	MaxRestarts            int
	MinUptime              time.Duration
	RestartDelay           time.Duration
	ExpBackoffRestartDelay time.Duration
}

// History is the restart state carried between runs.
type History struct {
	ConsecutiveRestarts int
	LastStart           time.Time
}

// Decision is the outcome for one exit. Count is the consecutive restart count
// to store afterwards; it never exceeds MaxRestarts.
type Decision struct {
	Restart   bool
	Delay     time.Duration
	Count     int
	Stable    bool
	Exhausted bool
}

// Decide applies the restart policy to an exit observed at exitedAt.
// A run whose uptime reaches MinUptime exactly counts as stable.
func Decide(l Limits, h History, exitedAt time.Time) Decision {
	if !l.AutoRestart {
		return Decision{Count: h.ConsecutiveRestarts}
	}
	d := Decision{Count: h.ConsecutiveRestarts}
	if exitedAt.Sub(h.LastStart) >= l.MinUptime {
		d.Stable = true
		d.Count = 0
	} else {
		d.Count++
	}
	if d.Count > l.MaxRestarts {
		d.Exhausted = true
		d.Count = l.MaxRestarts
		return d
	}
	d.Restart = true
	d.Delay = Delay(l, d.Count)
	return d
}

// Delay returns the wait before a restart at the given consecutive count.
// The exponential delay for counts 0 and 1 is the base delay.
func Delay(l Limits, count int) time.Duration {
	if l.ExpBackoffRestartDelay <= 0 {
		return l.RestartDelay
	}
	if count < 1 {
		count = 1
	}
	f := float64(l.ExpBackoffRestartDelay) * math.Pow(backoffFactor, float64(count-1))
	if f >= float64(MaxBackoffDelay) {
		return MaxBackoffDelay
	}
	return time.Duration(f)
}
