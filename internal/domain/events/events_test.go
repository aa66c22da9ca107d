package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"testing"

	"github.com/dotabod/backend-sub002/internal/domain/dedupe"
	"github.com/dotabod/backend-sub002/internal/domain/events"
	"github.com/dotabod/backend-sub002/internal/domain/telemetry"
	"github.com/dotabod/backend-sub002/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func decode(s string) telemetry.Value {
	var v telemetry.Value
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		panic(err)
	}
	return v
}

func names(evs []events.Event) []string {
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Name())
	}
	sort.Strings(out)
	return out
}

func TestTranslate(t *testing.T) {
	Convey("Given a changed tree that matches the full tree", t, func() {
		changed := decode(`{"map":{"game_state":"PRE"}}`)
		full := decode(`{"map":{"game_state":"LIVE","clock_time":10}}`)

		raws := events.Translate(changed, full, "")

		Convey("Then one event carries the full value", func() {
			So(len(raws), ShouldEqual, 1)
			So(raws[0].Path, ShouldEqual, "map:game_state")
			So(raws[0].Value.Text(), ShouldEqual, "LIVE")
		})
	})

	Convey("Given a changed key missing from the full tree", t, func() {
		changed := decode(`{"map":{"gone":1},"hero":{"alive":false}}`)
		full := decode(`{"map":{"clock_time":1}}`)

		Convey("Then nothing is emitted", func() {
			So(events.Translate(changed, full, ""), ShouldBeEmpty)
		})
	})

	Convey("Given an added flag only at the parent level", t, func() {
		changed := decode(`{"items":{"slot0":true}}`)
		full := decode(`{"items":{"slot0":{"name":"item_blink","charges":0},"slot1":{"name":"empty"}}}`)

		raws := events.Translate(changed, full, "")

		Convey("Then the object is flattened exactly one level", func() {
			So(len(raws), ShouldEqual, 2)
			So(raws[0].Path, ShouldEqual, "items:slot0:name")
			So(raws[0].Value.Text(), ShouldEqual, "item_blink")
			So(raws[1].Path, ShouldEqual, "items:slot0:charges")
		})
	})

	Convey("Given an empty changed object over a full object", t, func() {
		changed := decode(`{"hero":{}}`)
		full := decode(`{"hero":{"name":"axe","level":3}}`)

		Convey("Then the children of the full object are emitted", func() {
			raws := events.Translate(changed, full, "")
			So(len(raws), ShouldEqual, 2)
			So(raws[0].Path, ShouldEqual, "hero:name")
			So(raws[1].Path, ShouldEqual, "hero:level")
		})
	})

	Convey("Given nested changes over a scalar in the full tree", t, func() {
		changed := decode(`{"hero":{"name":true},"map":{"paused":false}}`)
		full := decode(`{"hero":"npc_dota_hero_axe","map":{"paused":true}}`)

		Convey("Then only leaves present in both trees are emitted", func() {
			raws := events.Translate(changed, full, "")
			So(len(raws), ShouldEqual, 1)
			So(raws[0].Path, ShouldEqual, "map:paused")
			So(events.Translate(decode(`{"hero":{"name":true}}`), decode(`{"hero":"npc_dota_hero_axe"}`), ""), ShouldBeEmpty)
		})
	})

	Convey("Given a prefix", t, func() {
		raws := events.Translate(decode(`{"a":1}`), decode(`{"a":2}`), "root")
		So(raws[0].Path, ShouldEqual, "root:a")
	})
}

func TestTranslateProperties(t *testing.T) {
	Convey("Given generated changed and full trees", t, func() {
		rng := rand.New(rand.NewSource(42))

		for i := 0; i < 200; i++ {
			full := genTree(rng, 3)
			changed := genTree(rng, 3)
			raws := events.Translate(changed, full, "")

			for _, r := range raws {
				segs := strings.Split(r.Path, events.Separator)
				got := full.Path(segs...)
				So(got.IsNull(), ShouldBeFalse)
				So(got.Equal(r.Value), ShouldBeTrue)
				// the emitted path starts with a key present in changed
				_, inChanged := changed.Get(segs[0])
				So(inChanged, ShouldBeTrue)
			}

			again := events.Translate(decode(mustJSON(changed)), decode(mustJSON(full)), "")
			So(len(again), ShouldEqual, len(raws))
			for j := range raws {
				So(again[j].Path, ShouldEqual, raws[j].Path)
			}
		}
	})
}

func genTree(rng *rand.Rand, depth int) telemetry.Value {
	keys := []string{"a", "b", "c", "d"}
	v := telemetry.Object()
	for _, k := range keys {
		switch n := rng.Intn(4); {
		case n == 0:
		case n == 1 || depth == 0:
			v.Set(k, telemetry.Number(float64(rng.Intn(10))))
		default:
			v.Set(k, genTree(rng, depth-1))
		}
	}
	return v
}

func mustJSON(v telemetry.Value) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}

func TestFromEnvelope(t *testing.T) {
	Convey("Given the in-progress scenario envelope", t, func() {
		env, err := telemetry.ParseEnvelope([]byte(`{
			"auth":{"token":"T1"},
			"map":{"matchid":"123","game_state":"DOTA_GAMERULES_STATE_GAME_IN_PROGRESS"},
			"previously":{"map":{"game_state":"DOTA_GAMERULES_STATE_PRE_GAME"}}
		}`))
		So(err, ShouldBeNil)

		evs := events.FromEnvelope(env, nil)

		Convey("Then map:game_state is emitted with the new state", func() {
			So(names(evs), ShouldResemble, []string{"map:game_state", "newdata"})
			var gs events.GameState
			for _, ev := range evs {
				if typed, ok := ev.(events.GameState); ok {
					gs = typed
				}
			}
			So(gs.State, ShouldEqual, telemetry.StateGameInProgress)
			So(gs.Payload().Text(), ShouldEqual, telemetry.StateGameInProgress)
		})
	})

	Convey("Given game events repeated across envelopes", t, func() {
		body := `{"events":[{"game_time":600,"event_type":"roshan_killed"},{"game_time":620,"event_type":"aegis_picked_up"}]}`
		seen := dedupe.NewInMemoryDeduper()
		env, _ := telemetry.ParseEnvelope([]byte(body))

		first := events.FromEnvelope(env, seen)
		second := events.FromEnvelope(env, seen)

		Convey("Then each (game_time, event_type) is emitted once", func() {
			So(names(first), ShouldResemble, []string{"event:aegis_picked_up", "event:roshan_killed", "newdata"})
			So(names(second), ShouldResemble, []string{"newdata"})
		})
	})

	Convey("Given structurally identical envelopes with different key order", t, func() {
		a, _ := telemetry.ParseEnvelope([]byte(`{"map":{"win_team":"radiant","paused":true},"previously":{"map":{"win_team":"none","paused":false}}}`))
		b, _ := telemetry.ParseEnvelope([]byte(`{"previously":{"map":{"paused":false,"win_team":"none"}},"map":{"paused":true,"win_team":"radiant"}}`))

		Convey("Then the event name sets are identical", func() {
			So(names(events.FromEnvelope(a, nil)), ShouldResemble, names(events.FromEnvelope(b, nil)))
		})

		Convey("Then typed variants are decoded", func() {
			for _, ev := range events.FromEnvelope(a, nil) {
				switch typed := ev.(type) {
				case events.WinTeam:
					So(typed.Team, ShouldEqual, "radiant")
				case events.Paused:
					So(typed.Paused, ShouldBeTrue)
				}
			}
		})
	})
}

func TestDispatcher(t *testing.T) {
	Convey("Given a registry with failing and healthy handlers", t, func() {
		reg := events.NewRegistry[string]()
		var calls []string
		record := func(tag string) events.Handler[string] {
			return func(_ context.Context, s string, ev events.Event) error {
				calls = append(calls, fmt.Sprintf("%s/%s/%s", tag, s, ev.Name()))
				return nil
			}
		}
		So(reg.Register(events.NameGameState, func(context.Context, string, events.Event) error {
			return errors.New("boom")
		}), ShouldBeNil)
		So(reg.Register(events.NameGameState, record("second")), ShouldBeNil)
		So(reg.Register(events.NameWinTeam, func(context.Context, string, events.Event) error {
			panic("bad payload")
		}), ShouldBeNil)
		So(reg.Register(events.NameNewData, record("all")), ShouldBeNil)
		reg.Freeze()

		d := events.NewDispatcher(reg, nil)
		evs := []events.Event{
			events.GameState{State: "x"},
			events.WinTeam{Team: "radiant"},
			events.NewData{Envelope: &telemetry.Envelope{}},
			events.Raw{Path: "hero:level"},
		}
		rep := d.Dispatch(context.Background(), "T1", evs, logger.String("token", "T1"))

		Convey("Then failures are isolated and siblings still run", func() {
			So(rep.Events, ShouldEqual, 4)
			So(rep.Handled, ShouldEqual, 4)
			So(rep.Failed, ShouldEqual, 2)
			So(calls, ShouldResemble, []string{"second/T1/map:game_state", "all/T1/newdata"})
		})

		Convey("Then the frozen registry rejects new handlers", func() {
			err := reg.Register("late", record("late"))
			So(errors.Is(err, events.ErrRegistryFrozen), ShouldBeTrue)
			So(reg.Names(), ShouldEqual, 3)
		})
	})
}
