package metrics

import "sync/atomic"

// RunCounters - счетчики одного прогона скрапера. Безопасны для конкурентного доступа.
type RunCounters struct {
	Scraped atomic.Int32
	New     atomic.Int32
	Updated atomic.Int32
	Errors  atomic.Int32
	Prices  atomic.Int32
}

// RunSnapshot is a plain copy of RunCounters.
type RunSnapshot struct {
	Scraped int
	New     int
	Updated int
	Errors  int
	Prices  int
}

func (c *RunCounters) Snapshot() RunSnapshot {
	return RunSnapshot{
		Scraped: int(c.Scraped.Load()),
		New:     int(c.New.Load()),
		Updated: int(c.Updated.Load()),
		Errors:  int(c.Errors.Load()),
		Prices:  int(c.Prices.Load()),
	}
}
