package queue

import "time"

// Backoff computes the delay before the next automatic attempt
type Backoff interface {
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff doubles Base for every attempt after the first, capped at Max.
// attempt is the number of failed attempts so far, starting at 1.
type ExponentialBackoff struct {
	Base time.Duration
	Max  time.Duration
}

func (b ExponentialBackoff) NextDelay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = time.Second
	}
	maximum := b.Max
	if maximum <= 0 {
		maximum = 5 * time.Minute
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maximum {
			return maximum
		}
	}
	if delay > maximum {
		return maximum
	}
	return delay
}
