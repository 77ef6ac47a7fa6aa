package analyzer

import (
	"sort"
	"strings"

	"raidwatch/internal/domain"
)

// testSnapshot assembles a snapshot from hand-written fights, actors and
// events, deriving the normalization fields the fetcher would fill in.
func testSnapshot(fights []domain.Fight, actors []domain.Actor, events []domain.Event) *domain.ReportSnapshot {
	snap := &domain.ReportSnapshot{
		Code:        "TESTCODE",
		SourceCodes: []string{"TESTCODE"},
		Title:       "test report",
		Fights:      fights,
		Actors:      map[int]domain.Actor{},
		Abilities:   map[int]string{},
	}
	for _, a := range actors {
		snap.Actors[a.ID] = a
	}

	pulls := map[string]int{}
	pullIndex := map[int]int{}
	for _, f := range fights {
		key := strings.ToLower(f.Name)
		pulls[key]++
		pullIndex[f.ID] = pulls[key]
	}

	for i := range events {
		ev := &events[i]
		for _, f := range fights {
			if f.Contains(ev.TimestampMS) {
				ev.FightID = f.ID
				ev.PullIndex = pullIndex[f.ID]
				ev.PhaseID = f.PhaseAt(ev.TimestampMS)
				ev.OffsetMS = ev.TimestampMS - f.StartMS
				break
			}
		}
	}
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

func player(id int, name string, class string, spec string) domain.Actor {
	return domain.Actor{
		ID:      id,
		Name:    name,
		Type:    domain.ActorTypePlayer,
		SubType: class,
		Spec:    spec,
		Role:    domain.RoleFor(class, spec),
	}
}

func npc(id int, name string) domain.Actor {
	return domain.Actor{ID: id, Name: name, Type: domain.ActorTypeNPC, Role: domain.RoleUnknown}
}

func damageEvent(ts int64, source, target, ability int, amount float64) domain.Event {
	return domain.Event{
		TimestampMS: ts,
		Type:        domain.EventDamage,
		SourceID:    source,
		TargetID:    target,
		AbilityID:   ability,
		Amount:      amount,
	}
}

func healEvent(ts int64, source, target int, amount float64) domain.Event {
	return domain.Event{
		TimestampMS: ts,
		Type:        domain.EventHeal,
		SourceID:    source,
		TargetID:    target,
		Amount:      amount,
	}
}

func debuffEvent(ts int64, target, ability int) domain.Event {
	return domain.Event{
		TimestampMS: ts,
		Type:        domain.EventApplyDebuff,
		TargetID:    target,
		AbilityID:   ability,
	}
}

func removeDebuffEvent(ts int64, target, ability int) domain.Event {
	return domain.Event{
		TimestampMS: ts,
		Type:        domain.EventRemoveDebuff,
		TargetID:    target,
		AbilityID:   ability,
	}
}

func deathEvent(ts int64, target int, killingAbility int) domain.Event {
	ev := domain.Event{
		TimestampMS: ts,
		Type:        domain.EventDeath,
		TargetID:    target,
	}
	if killingAbility != 0 {
		ev.Raw = map[string]any{"killingAbilityGameID": float64(killingAbility)}
	}
	return ev
}

func findRow(rows []PlayerRow, name string) (PlayerRow, bool) {
	for _, row := range rows {
		if row.Player == name {
			return row, true
		}
	}
	return PlayerRow{}, false
}
