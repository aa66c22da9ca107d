package dedupe

import "time"

// Option configures a Deduper or an Expiring cache.
type Option interface {
	applyDeduper(*inMemoryDeduper)
	applySettings(*settings)
}

type settings struct {
	maxSize int
	now     func() time.Time
}

type maxSizeOption int

func (o maxSizeOption) applyDeduper(d *inMemoryDeduper) { d.maxSize = int(o) }
func (o maxSizeOption) applySettings(s *settings)      { s.maxSize = int(o) }

// WithMaxSize caps the number of entries. maxSize <= 0 means unbounded.
func WithMaxSize(maxSize int) Option { return maxSizeOption(maxSize) }

type clockOption func() time.Time

func (clockOption) applyDeduper(*inMemoryDeduper) {}
func (o clockOption) applySettings(s *settings) {
	if o != nil {
		s.now = o
	}
}

// WithClock overrides the time source of an Expiring cache.
func WithClock(now func() time.Time) Option { return clockOption(now) }
