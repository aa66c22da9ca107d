package events

import (
	"github.com/dotabod/backend-sub002/internal/domain/dedupe"
	"github.com/dotabod/backend-sub002/internal/domain/telemetry"
	"github.com/dotabod/backend-sub002/pkg/metrics"
)

// Translate flattens the changed tree into raw events whose payloads come
// from the full tree. Only keys present in changed are visited, and a key
// absent (or null) in full is skipped.
//
// When full holds an object under a key whose changed value has no nested
// keys to follow, the object's immediate children are emitted one level
// deep so sibling data is not lost.
func Translate(changed, full telemetry.Value, prefix string) []Raw {
	var out []Raw
	translate(changed, full, prefix, &out)
	return out
}

func translate(changed, full telemetry.Value, prefix string, out *[]Raw) {
	for _, key := range changed.Keys() {
		c, ok := changed.Get(key)
		if !ok {
			continue
		}
		f, ok := full.Get(key)
		if !ok {
			continue
		}
		name := join(prefix, key)
		switch {
		case c.IsObject() && len(c.Keys()) > 0:
			// Nested changes only name leaves below key; a scalar in full has none.
			if f.IsObject() {
				translate(c, f, name, out)
			}
		case f.IsObject():
			flattenOne(f, name, out)
		default:
			*out = append(*out, Raw{Path: name, Value: f})
		}
	}
}

func flattenOne(f telemetry.Value, prefix string, out *[]Raw) {
	for _, key := range f.Keys() {
		child, ok := f.Get(key)
		if !ok {
			continue
		}
		*out = append(*out, Raw{Path: join(prefix, key), Value: child})
	}
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + Separator + key
}

// FromEnvelope derives every event of one envelope: the catch-all NewData,
// the typed or raw deltas of the previously and added sections, and the
// game events not yet recorded in seen. seen may be nil.
func FromEnvelope(env *telemetry.Envelope, seen dedupe.Deduper) []Event {
	if env == nil {
		return nil
	}
	out := []Event{NewData{Envelope: env}}
	for _, section := range []string{telemetry.SectionPreviously, telemetry.SectionAdded} {
		for _, raw := range Translate(env.Section(section), env.Root, "") {
			out = append(out, Classify(raw))
		}
	}
	for _, ge := range env.Events {
		if seen != nil && seen.SeenAndRecord(ge.Key()) {
			metrics.RecordGameEventDuplicate()
			continue
		}
		out = append(out, GameEventOccurred{Event: ge})
	}
	return out
}
