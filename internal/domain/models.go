package domain

import (
	"fmt"
	"sort"
)

// PhaseTransition marks the start of a phase within a fight.
type PhaseTransition struct {
	ID      int   `json:"id"`
	StartMS int64 `json:"start_ms"`
}

// Fight is a single pull of an encounter.
type Fight struct {
	ID               int               `json:"id"`
	Name             string            `json:"name"`
	BossID           int               `json:"boss_id"`
	StartMS          int64             `json:"start_ms"`
	EndMS            int64             `json:"end_ms"`
	Kill             bool              `json:"kill"`
	PhaseTransitions []PhaseTransition `json:"phase_transitions,omitempty"`
}

func (f Fight) DurationMS() int64 { return f.EndMS - f.StartMS }

// Contains reports whether ts falls inside the fight window.
func (f Fight) Contains(ts int64) bool { return ts >= f.StartMS && ts <= f.EndMS }

// PhaseAt returns the phase id active at ts: the last transition whose start
// is at or before ts, defaulting to phase 1.
func (f Fight) PhaseAt(ts int64) int {
	phase := 1
	for _, tr := range f.PhaseTransitions {
		if tr.StartMS <= ts {
			phase = tr.ID
		} else {
			break
		}
	}
	return phase
}

const (
	ActorTypePlayer = "Player"
	ActorTypeNPC    = "NPC"
	ActorTypePet    = "Pet"
)

// Actor is a participant in the report: player, NPC or pet.
type Actor struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	SubType  string `json:"sub_type"` // class for players, species for NPCs
	Spec     string `json:"spec,omitempty"`
	PetOwner int    `json:"pet_owner,omitempty"`
	Role     Role   `json:"role"`
}

func (a Actor) IsPlayer() bool { return a.Type == ActorTypePlayer }

// SyntheticActor is used for event source/target ids that do not resolve
// against the master data.
func SyntheticActor(id int) Actor {
	return Actor{ID: id, Name: fmt.Sprintf("Unknown-%d", id), Type: ActorTypeNPC, Role: RoleUnknown}
}

// Event is a normalized combat log event. Raw keeps the upstream fields that
// did not map onto the shared header, so diagnostics never lose data.
type Event struct {
	TimestampMS int64          `json:"timestamp_ms"`
	Type        string         `json:"type"`
	SourceID    int            `json:"source_id"`
	TargetID    int            `json:"target_id"`
	AbilityID   int            `json:"ability_id"`
	AbilityName string         `json:"ability_name,omitempty"`
	Amount      float64        `json:"amount,omitempty"`
	Absorbed    float64        `json:"absorbed,omitempty"`
	Overkill    float64        `json:"overkill,omitempty"`
	Mitigated   float64        `json:"mitigated,omitempty"`
	HitType     string         `json:"hit_type,omitempty"`
	Raw         map[string]any `json:"raw,omitempty"`

	// Derived on normalization.
	FightID     int   `json:"fight_id"`
	PullIndex   int   `json:"pull_index"`
	PhaseID     int   `json:"phase_id"`
	OffsetMS    int64 `json:"offset_ms"`
	sequenceNum int
}

// Sequence is the event's position in the snapshot's final event order.
func (e Event) Sequence() int { return e.sequenceNum }

// SetSequence is called by the normalizer after its stable sort, and by the
// merger, before the snapshot is published.
func (e *Event) SetSequence(n int) { e.sequenceNum = n }

// Event types observed in the upstream data.
const (
	EventDamage           = "damage"
	EventHeal             = "heal"
	EventCast             = "cast"
	EventDeath            = "death"
	EventInstakill        = "instakill"
	EventApplyBuff        = "applybuff"
	EventApplyDebuff      = "applydebuff"
	EventApplyDebuffStack = "applydebuffstack"
	EventRefreshDebuff    = "refreshdebuff"
	EventRemoveDebuff     = "removedebuff"
	EventRemoveDebuffStk  = "removedebuffstack"
)

// IsDebuffApply reports whether the event applies or refreshes a debuff.
func (e Event) IsDebuffApply() bool {
	switch e.Type {
	case EventApplyDebuff, EventApplyDebuffStack, EventRefreshDebuff:
		return true
	}
	return false
}

// IsDebuffRemove reports whether the event removes a debuff or a stack.
func (e Event) IsDebuffRemove() bool {
	return e.Type == EventRemoveDebuff || e.Type == EventRemoveDebuffStk
}

// IsDeath reports whether the event kills its target.
func (e Event) IsDeath() bool {
	return e.Type == EventDeath || e.Type == EventInstakill
}

// ReportSnapshot is the fully materialized, immutable view of one report (or
// of several merged reports). Once published to the cache it is shared by
// reference and never mutated.
type ReportSnapshot struct {
	Code        string         `json:"code"`
	SourceCodes []string       `json:"source_codes"`
	Title       string         `json:"title"`
	Fights      []Fight        `json:"fights"`
	Actors      map[int]Actor  `json:"actors"`
	Abilities   map[int]string `json:"abilities"`
	Events      []Event        `json:"events"`

	// DroppedEvents counts events that matched no retained fight window.
	DroppedEvents int `json:"dropped_events"`
}

// PullCount is the number of retained fights.
func (s *ReportSnapshot) PullCount() int { return len(s.Fights) }

// FightByID returns the retained fight with the given id.
func (s *ReportSnapshot) FightByID(id int) (Fight, bool) {
	for _, f := range s.Fights {
		if f.ID == id {
			return f, true
		}
	}
	return Fight{}, false
}

// ActorByID resolves an id to its Actor, materializing a synthetic entry for
// ids missing from the master data.
func (s *ReportSnapshot) ActorByID(id int) Actor {
	if a, ok := s.Actors[id]; ok {
		return a
	}
	return SyntheticActor(id)
}

// OwnerOf follows the pet-ownership chain from id to the owning actor.
// Cycles and unknown owners terminate the walk.
func (s *ReportSnapshot) OwnerOf(id int) Actor {
	current := id
	seen := map[int]bool{}
	for {
		actor, ok := s.Actors[current]
		if !ok {
			return s.ActorByID(current)
		}
		if actor.PetOwner == 0 || seen[current] {
			return actor
		}
		seen[current] = true
		current = actor.PetOwner
	}
}

// PlayerNames returns the names of all player actors, sorted.
func (s *ReportSnapshot) PlayerNames() []string {
	names := make([]string, 0, len(s.Actors))
	for _, a := range s.Actors {
		if a.IsPlayer() {
			names = append(names, a.Name)
		}
	}
	sort.Strings(names)
	return names
}

// AbilityName resolves a game ability id against the report master data.
func (s *ReportSnapshot) AbilityName(id int) string {
	if name, ok := s.Abilities[id]; ok {
		return name
	}
	return ""
}
