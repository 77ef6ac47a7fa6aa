package report

import (
	"sort"
	"strings"

	"raidwatch/internal/domain"
)

// Header fields lifted out of the raw event map; everything else stays in
// Event.Raw.
var headerKeys = map[string]bool{
	"timestamp":     true,
	"type":          true,
	"sourceID":      true,
	"targetID":      true,
	"abilityGameID": true,
	"amount":        true,
	"absorbed":      true,
	"overkill":      true,
	"mitigated":     true,
	"hitType":       true,
}

// buildSnapshot normalizes raw event batches into a published snapshot:
// actor resolution, fight/pull/phase attribution and the global event order.
func buildSnapshot(
	code, title string,
	fights []domain.Fight,
	actors map[int]domain.Actor,
	abilities map[int]string,
	batches [][]map[string]any,
) *domain.ReportSnapshot {
	snap := &domain.ReportSnapshot{
		Code:        code,
		SourceCodes: []string{code},
		Title:       title,
		Fights:      fights,
		Actors:      actors,
		Abilities:   abilities,
	}

	pullIndex := pullIndexes(fights)

	total := 0
	for _, b := range batches {
		total += len(b)
	}
	events := make([]domain.Event, 0, total)

	for _, batch := range batches {
		for _, raw := range batch {
			ev, ok := parseEvent(raw, abilities)
			if !ok {
				snap.DroppedEvents++
				continue
			}
			fight, ok := fightAt(fights, ev.TimestampMS)
			if !ok {
				snap.DroppedEvents++
				continue
			}
			ev.FightID = fight.ID
			ev.PullIndex = pullIndex[fight.ID]
			ev.PhaseID = fight.PhaseAt(ev.TimestampMS)
			ev.OffsetMS = ev.TimestampMS - fight.StartMS

			// Synthesize actors for ids the master data does not know.
			if _, known := actors[ev.SourceID]; !known && ev.SourceID != 0 {
				actors[ev.SourceID] = domain.SyntheticActor(ev.SourceID)
			}
			if _, known := actors[ev.TargetID]; !known && ev.TargetID != 0 {
				actors[ev.TargetID] = domain.SyntheticActor(ev.TargetID)
			}

			events = append(events, ev)
		}
	}

	// Ascending by timestamp, source id, then insertion order.
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].TimestampMS != events[j].TimestampMS {
			return events[i].TimestampMS < events[j].TimestampMS
		}
		return events[i].SourceID < events[j].SourceID
	})
	for i := range events {
		events[i].SetSequence(i)
	}

	snap.Events = events
	return snap
}

// pullIndexes numbers fights 1-based per fight name in ascending start
// order. Fights arrive already sorted by start time.
func pullIndexes(fights []domain.Fight) map[int]int {
	counts := map[string]int{}
	indexes := make(map[int]int, len(fights))
	for _, f := range fights {
		key := strings.ToLower(f.Name)
		counts[key]++
		indexes[f.ID] = counts[key]
	}
	return indexes
}

func fightAt(fights []domain.Fight, ts int64) (domain.Fight, bool) {
	// Fights are sorted by start; find the last one starting at or before ts.
	idx := sort.Search(len(fights), func(i int) bool { return fights[i].StartMS > ts })
	if idx == 0 {
		return domain.Fight{}, false
	}
	fight := fights[idx-1]
	if !fight.Contains(ts) {
		return domain.Fight{}, false
	}
	return fight, true
}

func parseEvent(raw map[string]any, abilities map[int]string) (domain.Event, bool) {
	ts, ok := asInt64(raw["timestamp"])
	if !ok {
		return domain.Event{}, false
	}

	ev := domain.Event{
		TimestampMS: ts,
		Type:        strings.ToLower(asString(raw["type"])),
		SourceID:    asInt(raw["sourceID"]),
		TargetID:    asInt(raw["targetID"]),
		AbilityID:   asInt(raw["abilityGameID"]),
		Amount:      asFloat(raw["amount"]),
		Absorbed:    asFloat(raw["absorbed"]),
		Overkill:    asFloat(raw["overkill"]),
		Mitigated:   asFloat(raw["mitigated"]),
		HitType:     asString(raw["hitType"]),
	}

	// Some tables nest the actor/ability objects instead of flat ids.
	if ev.SourceID == 0 {
		ev.SourceID = nestedID(raw["source"])
	}
	if ev.TargetID == 0 {
		ev.TargetID = nestedID(raw["target"])
	}
	if ev.AbilityID == 0 {
		ev.AbilityID = nestedID(raw["ability"])
	}
	if name, ok := abilities[ev.AbilityID]; ok {
		ev.AbilityName = name
	} else if obj, ok := raw["ability"].(map[string]any); ok {
		ev.AbilityName = asString(obj["name"])
	}

	var extra map[string]any
	for key, value := range raw {
		if headerKeys[key] {
			continue
		}
		if extra == nil {
			extra = map[string]any{}
		}
		extra[key] = value
	}
	ev.Raw = extra

	return ev, true
}

func nestedID(v any) int {
	obj, ok := v.(map[string]any)
	if !ok {
		return 0
	}
	if id := asInt(obj["id"]); id != 0 {
		return id
	}
	return asInt(obj["guid"])
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	}
	return 0, false
}

func asInt(v any) int {
	n, ok := asInt64(v)
	if !ok {
		return 0
	}
	return int(n)
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	}
	return 0
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
