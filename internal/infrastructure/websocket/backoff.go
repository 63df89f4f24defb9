package websocket

import (
	"math/rand"
	"time"
)

// Backoff computes reconnect delays: Min doubled per consecutive failure,
// capped at Max, plus up to half of that again as jitter.
type Backoff struct {
	Min time.Duration
	Max time.Duration
	// Jitter returns a value in [0, 1). Nil uses math/rand.
	Jitter func() float64
}

func (b Backoff) Duration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Min
	for i := 1; i < attempt && d < b.Max; i++ {
		d *= 2
	}
	if d > b.Max {
		d = b.Max
	}
	jitter := b.Jitter
	if jitter == nil {
		jitter = rand.Float64
	}
	return d + time.Duration(jitter()*float64(d/2))
}
