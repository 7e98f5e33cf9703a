package attendance

import "time"

const defaultResponseWindow = 24 * time.Hour

type responseSample struct {
	at       time.Time     // when the chat closed
	response time.Duration // assign time minus first-queued time
}

// Metrics recomputes the aggregate snapshot from router state. Samples
// older than the retained window are pruned on the way.
func (r *Router) Metrics() Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.pruneSamplesLocked(now)
	r.pruneClosedLocked(now)

	attending := 0
	for _, oe := range r.operators {
		attending += len(oe.chats)
	}

	var avg time.Duration
	if len(r.samples) > 0 {
		var sum time.Duration
		for _, s := range r.samples {
			sum += s.response
		}
		avg = sum / time.Duration(len(r.samples))
	}

	return Metrics{
		QueueCount:          len(r.order),
		AttendingCount:      attending,
		AverageResponseTime: avg,
		TotalRequests:       r.total,
	}
}

func (r *Router) pruneSamplesLocked(now time.Time) {
	cutoff := now.Add(-r.window)
	keep := r.samples[:0]
	for _, s := range r.samples {
		if s.at.After(cutoff) {
			keep = append(keep, s)
		}
	}
	r.samples = keep
}

// pruneClosedLocked drops closed chat entries once they fall outside the
// retained window, keeping the registry bounded over the process lifetime.
func (r *Router) pruneClosedLocked(now time.Time) {
	cutoff := now.Add(-r.window)
	for id, e := range r.requests {
		if e.req.Status == StatusClosed && e.closedAt.Before(cutoff) {
			delete(r.requests, id)
		}
	}
}
