package queue

import (
	"fmt"
	"time"
)

// Schedule computes the run times of a periodic job.
type Schedule interface {
	// Next returns the first run time strictly after t.
	Next(t time.Time) time.Time
	String() string
}

// Every returns a schedule firing on multiples of d since the Unix epoch,
// so that every process computes the same run times.
func Every(d time.Duration) Schedule {
	if d <= 0 {
		d = time.Minute
	}
	return interval(d)
}

type interval time.Duration

func (i interval) Next(t time.Time) time.Time {
	d := time.Duration(i)
	return t.Truncate(d).Add(d)
}

func (i interval) String() string {
	return fmt.Sprintf("every %s", time.Duration(i))
}
