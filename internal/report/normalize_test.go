package report

import (
	"testing"

	"raidwatch/internal/domain"
)

func testFights() []domain.Fight {
	return []domain.Fight{
		{
			ID: 1, Name: "Nexus-King Salhadaar", BossID: 3134,
			StartMS: 100_000, EndMS: 200_000,
			PhaseTransitions: []domain.PhaseTransition{
				{ID: 1, StartMS: 100_000},
				{ID: 2, StartMS: 150_000},
			},
		},
		{ID: 2, Name: "Nexus-King Salhadaar", BossID: 3134, StartMS: 300_000, EndMS: 400_000},
	}
}

func testActors() map[int]domain.Actor {
	return map[int]domain.Actor{
		1: {ID: 1, Name: "PlayerA", Type: domain.ActorTypePlayer, SubType: "Mage", Role: domain.RoleRanged},
		2: {ID: 2, Name: "Boss", Type: domain.ActorTypeNPC, Role: domain.RoleUnknown},
	}
}

func rawDamage(ts float64, source, target int, extra map[string]any) map[string]any {
	row := map[string]any{
		"timestamp":     ts,
		"type":          "damage",
		"sourceID":      float64(source),
		"targetID":      float64(target),
		"abilityGameID": float64(555),
		"amount":        float64(100),
	}
	for k, v := range extra {
		row[k] = v
	}
	return row
}

func TestBuildSnapshotAttribution(t *testing.T) {
	batches := [][]map[string]any{{
		rawDamage(110_000, 2, 1, nil), // fight 1, phase 1
		rawDamage(160_000, 2, 1, nil), // fight 1, phase 2
		rawDamage(350_000, 2, 1, nil), // fight 2, pull 2
		rawDamage(250_000, 2, 1, nil), // between fights: dropped
	}}

	snap := buildSnapshot("CODE1234", "title", testFights(), testActors(), map[int]string{555: "Besiege"}, batches)

	if snap.DroppedEvents != 1 {
		t.Errorf("dropped = %d, want 1", snap.DroppedEvents)
	}
	if len(snap.Events) != 3 {
		t.Fatalf("events = %d, want 3", len(snap.Events))
	}

	first := snap.Events[0]
	if first.FightID != 1 || first.PullIndex != 1 || first.PhaseID != 1 {
		t.Errorf("first event attribution = fight %d pull %d phase %d", first.FightID, first.PullIndex, first.PhaseID)
	}
	if first.OffsetMS != 10_000 {
		t.Errorf("first offset = %d, want 10000", first.OffsetMS)
	}
	if first.AbilityName != "Besiege" {
		t.Errorf("ability name = %q, want Besiege", first.AbilityName)
	}

	second := snap.Events[1]
	if second.PhaseID != 2 {
		t.Errorf("second event phase = %d, want 2", second.PhaseID)
	}

	third := snap.Events[2]
	if third.FightID != 2 || third.PullIndex != 2 {
		t.Errorf("third event = fight %d pull %d, want fight 2 pull 2", third.FightID, third.PullIndex)
	}
}

func TestBuildSnapshotSortStability(t *testing.T) {
	batches := [][]map[string]any{
		{rawDamage(110_000, 2, 1, map[string]any{"marker": "first"})},
		{rawDamage(110_000, 2, 1, map[string]any{"marker": "second"})},
		{rawDamage(105_000, 2, 1, nil)},
	}

	snap := buildSnapshot("CODE1234", "title", testFights(), testActors(), nil, batches)

	if len(snap.Events) != 3 {
		t.Fatalf("events = %d, want 3", len(snap.Events))
	}
	if snap.Events[0].TimestampMS != 105_000 {
		t.Errorf("events not sorted by timestamp")
	}
	// Equal timestamps and sources keep batch insertion order.
	if snap.Events[1].Raw["marker"] != "first" || snap.Events[2].Raw["marker"] != "second" {
		t.Errorf("tie-break broke insertion order: %v then %v",
			snap.Events[1].Raw["marker"], snap.Events[2].Raw["marker"])
	}
	for i, ev := range snap.Events {
		if ev.Sequence() != i {
			t.Errorf("event %d sequence = %d", i, ev.Sequence())
		}
	}
}

func TestBuildSnapshotSyntheticActors(t *testing.T) {
	batches := [][]map[string]any{{
		rawDamage(110_000, 77, 1, nil),
	}}
	actors := testActors()
	snap := buildSnapshot("CODE1234", "title", testFights(), actors, nil, batches)

	actor := snap.ActorByID(77)
	if actor.Name != "Unknown-77" {
		t.Errorf("synthetic actor name = %q, want Unknown-77", actor.Name)
	}
}

func TestParseEventNestedAndRaw(t *testing.T) {
	raw := map[string]any{
		"timestamp": float64(123456),
		"type":      "Damage",
		"source":    map[string]any{"id": float64(9)},
		"target":    map[string]any{"guid": float64(11)},
		"ability":   map[string]any{"id": float64(42), "name": "Collapse"},
		"amount":    float64(77),
		"tick":      true,
	}
	ev, ok := parseEvent(raw, nil)
	if !ok {
		t.Fatal("parseEvent rejected valid event")
	}
	if ev.Type != "damage" {
		t.Errorf("type = %q, want lowercased damage", ev.Type)
	}
	if ev.SourceID != 9 || ev.TargetID != 11 || ev.AbilityID != 42 {
		t.Errorf("nested ids = %d/%d/%d", ev.SourceID, ev.TargetID, ev.AbilityID)
	}
	if ev.AbilityName != "Collapse" {
		t.Errorf("ability name = %q", ev.AbilityName)
	}
	if ev.Raw["tick"] != true {
		t.Errorf("unmapped field should stay in Raw")
	}

	if _, ok := parseEvent(map[string]any{"type": "damage"}, nil); ok {
		t.Error("event without timestamp should be rejected")
	}
}

func TestSelectFights(t *testing.T) {
	raw := []rawFight{
		{ID: 1, Name: "Nexus-King Salhadaar", Boss: 3134, StartTime: 0, EndTime: 100},
		{ID: 2, Name: "Trash Pack", Boss: 0, StartTime: 100, EndTime: 200},
		{ID: 3, Name: "Dimensius, the All-Devouring", Boss: 3135, StartTime: 200, EndTime: 300},
	}

	all := selectFights(raw, "")
	if len(all) != 2 {
		t.Errorf("no filter: %d fights, want 2 (trash excluded)", len(all))
	}

	nexus := selectFights(raw, "nexus-king")
	if len(nexus) != 1 || nexus[0].ID != 1 {
		t.Errorf("filter nexus-king: %v", nexus)
	}
}
