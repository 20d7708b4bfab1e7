package alerts

import "time"

// Policy decides whether a repeated violation is reported or suppressed.
//
// The first Count violations of an episode are reported. After that,
// violations are suppressed until Window has passed since the last
// reported alert, at which point a fresh episode begins. Suppressed
// violations still count toward the episode so chronic conditions can be
// escalated.
type Policy struct {
	Window time.Duration
	Count  int64
}

// Decision is the outcome of one violation.
type Decision struct {
	Suppressed bool
	// Count is the tracker count after this violation was recorded.
	Count int64
}

// ShouldSuppress reports whether the next violation on t would be dropped.
// It does not modify the tracker.
func (p Policy) ShouldSuppress(t *Tracker, now time.Time) bool {
	return p.suppressed(t.count.Load(), t.lastAlert.Load(), now)
}

func (p Policy) suppressed(count, lastAlert int64, now time.Time) bool {
	if count < p.Count {
		return false
	}
	return now.Sub(time.Unix(0, lastAlert)) <= p.Window
}

// Decide records one violation on t and returns whether to report it.
// The count update is a compare-and-swap so concurrent callers each land
// exactly one increment.
func (p Policy) Decide(t *Tracker, now time.Time) Decision {
	t.touch(now)
	for {
		count := t.count.Load()

		if p.suppressed(count, t.lastAlert.Load(), now) {
			if t.count.CompareAndSwap(count, count+1) {
				return Decision{Suppressed: true, Count: count + 1}
			}
			continue
		}

		next := count + 1
		if count >= p.Count {
			// window elapsed: the previous episode is over
			next = 1
		}
		if t.count.CompareAndSwap(count, next) {
			t.lastAlert.Store(now.UnixNano())
			return Decision{Count: next}
		}
	}
}
