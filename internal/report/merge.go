package report

import (
	"sort"
	"strings"

	"raidwatch/internal/domain"
)

// Merge combines snapshots from several reports into one virtual snapshot.
// Event streams concatenate in report-admission order, fight ids are
// remapped to stay unique, and pull indexes renumber globally per fight
// name while preserving per-report order. Players unify by name; the first
// report to mention a player decides class and role. NPCs and pets keep
// per-report identity.
func Merge(snaps []*domain.ReportSnapshot) *domain.ReportSnapshot {
	if len(snaps) == 1 {
		return snaps[0]
	}

	merged := &domain.ReportSnapshot{
		Code:      snaps[0].Code,
		Title:     snaps[0].Title,
		Actors:    map[int]domain.Actor{},
		Abilities: map[int]string{},
	}

	nextActorID := 1
	nextFightID := 1
	playersByName := map[string]int{}
	pullCounts := map[string]int{}

	for _, snap := range snaps {
		merged.SourceCodes = append(merged.SourceCodes, snap.SourceCodes...)
		merged.DroppedEvents += snap.DroppedEvents

		actorRemap := make(map[int]int, len(snap.Actors))
		oldIDs := make([]int, 0, len(snap.Actors))
		for id := range snap.Actors {
			oldIDs = append(oldIDs, id)
		}
		sort.Ints(oldIDs)

		for _, oldID := range oldIDs {
			actor := snap.Actors[oldID]
			if actor.IsPlayer() {
				if existing, ok := playersByName[actor.Name]; ok {
					actorRemap[oldID] = existing
					continue
				}
			}
			newID := nextActorID
			nextActorID++
			actorRemap[oldID] = newID
			remapped := actor
			remapped.ID = newID
			merged.Actors[newID] = remapped
			if actor.IsPlayer() {
				playersByName[actor.Name] = newID
			}
		}
		// Pet owners point at remapped ids.
		for _, oldID := range oldIDs {
			newID := actorRemap[oldID]
			actor := merged.Actors[newID]
			if actor.PetOwner != 0 {
				if owner, ok := actorRemap[actor.PetOwner]; ok {
					actor.PetOwner = owner
				} else {
					actor.PetOwner = 0
				}
				merged.Actors[newID] = actor
			}
		}

		for id, name := range snap.Abilities {
			if _, ok := merged.Abilities[id]; !ok {
				merged.Abilities[id] = name
			}
		}

		fightRemap := make(map[int]int, len(snap.Fights))
		pullRemap := make(map[int]int, len(snap.Fights))
		for _, fight := range snap.Fights {
			newID := nextFightID
			nextFightID++
			fightRemap[fight.ID] = newID

			key := strings.ToLower(fight.Name)
			pullCounts[key]++
			pullRemap[fight.ID] = pullCounts[key]

			remapped := fight
			remapped.ID = newID
			merged.Fights = append(merged.Fights, remapped)
		}

		for _, ev := range snap.Events {
			remapped := ev
			remapped.FightID = fightRemap[ev.FightID]
			remapped.PullIndex = pullRemap[ev.FightID]
			if id, ok := actorRemap[ev.SourceID]; ok {
				remapped.SourceID = id
			}
			if id, ok := actorRemap[ev.TargetID]; ok {
				remapped.TargetID = id
			}
			merged.Events = append(merged.Events, remapped)
		}
	}

	for i := range merged.Events {
		merged.Events[i].SetSequence(i)
	}
	return merged
}
