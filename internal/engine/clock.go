package engine

import "time"

// Clock stamps the start and end of a pass in the journal and the
// duration metric.
type Clock interface {
	Now() time.Time
}

// RealClock reads the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
