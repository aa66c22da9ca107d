package dedupe_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dotabod/backend-sub002/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInMemoryDeduper(t *testing.T) {
	Convey("Given a new InMemoryDeduper", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(3))

		Convey("When a key is recorded for the first time", func() {
			seen := d.SeenAndRecord("120:roshan_killed")

			Convey("Then it is reported as new", func() {
				So(seen, ShouldBeFalse)
				So(d.Size(), ShouldEqual, 1)
			})
		})

		Convey("When the same key is recorded twice", func() {
			d.SeenAndRecord("120:roshan_killed")
			seen := d.SeenAndRecord("120:roshan_killed")

			Convey("Then the second call reports it as seen", func() {
				So(seen, ShouldBeTrue)
				So(d.Size(), ShouldEqual, 1)
			})
		})

		Convey("When more keys than the bound are recorded", func() {
			for i := 0; i < 4; i++ {
				d.SeenAndRecord(fmt.Sprintf("k%d", i))
			}

			Convey("Then the oldest key is evicted", func() {
				So(d.Size(), ShouldEqual, 3)
				So(d.SeenAndRecord("k0"), ShouldBeFalse)
				So(d.SeenAndRecord("k3"), ShouldBeTrue)
			})
		})

		Convey("When a key is forgotten", func() {
			d.SeenAndRecord("a")
			d.Forget("a")

			Convey("Then it can be recorded again", func() {
				So(d.Size(), ShouldEqual, 0)
				So(d.SeenAndRecord("a"), ShouldBeFalse)
			})
		})

		Convey("When the deduper is reset", func() {
			d.SeenAndRecord("a")
			d.SeenAndRecord("b")
			d.Reset()

			Convey("Then it is empty", func() {
				So(d.Size(), ShouldEqual, 0)
				So(d.SeenAndRecord("a"), ShouldBeFalse)
			})
		})
	})

	Convey("Given an unbounded deduper used concurrently", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0))
		var wg sync.WaitGroup
		var mu sync.Mutex
		fresh := 0
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if !d.SeenAndRecord("same") {
					mu.Lock()
					fresh++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		Convey("Then exactly one caller records the key", func() {
			So(fresh, ShouldEqual, 1)
			So(d.Size(), ShouldEqual, 1)
		})
	})
}

func TestExpiring(t *testing.T) {
	Convey("Given an expiring cache with a fake clock", t, func() {
		now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		clock := func() time.Time { return now }
		c := dedupe.NewExpiring[string, int](time.Minute, dedupe.WithMaxSize(2), dedupe.WithClock(clock))

		Convey("When a value is stored", func() {
			c.Put("a", 1)

			Convey("Then it is returned before the TTL elapses", func() {
				now = now.Add(59 * time.Second)
				v, ok := c.Get("a")
				So(ok, ShouldBeTrue)
				So(v, ShouldEqual, 1)
			})

			Convey("Then it is gone once the TTL elapses", func() {
				now = now.Add(time.Minute)
				So(c.Contains("a"), ShouldBeFalse)
				So(c.Len(), ShouldEqual, 0)
			})
		})

		Convey("When the cache overflows", func() {
			c.Put("a", 1)
			c.Put("b", 2)
			c.Put("c", 3)

			Convey("Then the oldest entry is evicted", func() {
				So(c.Contains("a"), ShouldBeFalse)
				So(c.Contains("b"), ShouldBeTrue)
				So(c.Contains("c"), ShouldBeTrue)
			})
		})

		Convey("When an entry is overwritten", func() {
			c.Put("a", 1)
			now = now.Add(45 * time.Second)
			c.Put("a", 2)
			now = now.Add(45 * time.Second)

			Convey("Then the TTL restarts", func() {
				v, ok := c.Get("a")
				So(ok, ShouldBeTrue)
				So(v, ShouldEqual, 2)
			})
		})

		Convey("When an entry is deleted", func() {
			c.Put("a", 1)
			c.Delete("a")
			So(c.Contains("a"), ShouldBeFalse)
		})
	})
}
