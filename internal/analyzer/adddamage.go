package analyzer

import (
	"strings"

	"raidwatch/internal/domain"
)

const (
	metricAddDamage = "add_damage"

	defaultAddName = "Living Mass"

	// The first spawn cluster: up to this many distinct adds appearing in
	// the opening seconds of a pull.
	firstAddSetSize     = 6
	firstAddSetWindowMS = 5000
)

// AddDamageConfig controls the add-damage analyzer.
type AddDamageConfig struct {
	AddName           string `json:"add_name"`
	IgnoreFirstAddSet bool   `json:"ignore_first_add_set"`
}

func (c *AddDamageConfig) normalize() {
	if strings.TrimSpace(c.AddName) == "" {
		c.AddName = defaultAddName
	}
}

// addState tracks the ignored spawn cluster per pull.
type addState struct {
	fightID int
	ignored map[int]bool
	seen    int
}

// runAddDamage sums damage done by each player to adds with the configured
// name. Damage counts as amount + absorbed - overkill. Pull count divides
// by all retained pulls, including pulls where no add spawned.
func runAddDamage(snap *domain.ReportSnapshot, cfg AddDamageConfig) (*Result, error) {
	wantName := strings.ToLower(cfg.AddName)
	totals := map[string]float64{}

	state := addState{fightID: -1}
	for _, ev := range snap.Events {
		if ev.Type != domain.EventDamage {
			continue
		}
		if ev.FightID != state.fightID {
			state = addState{fightID: ev.FightID, ignored: map[int]bool{}}
		}

		target := snap.ActorByID(ev.TargetID)
		if strings.ToLower(target.Name) != wantName {
			continue
		}

		if cfg.IgnoreFirstAddSet {
			if !state.ignored[ev.TargetID] &&
				state.seen < firstAddSetSize &&
				ev.OffsetMS < firstAddSetWindowMS {
				state.ignored[ev.TargetID] = true
				state.seen++
			}
			if state.ignored[ev.TargetID] {
				continue
			}
		}

		source := snap.OwnerOf(ev.SourceID)
		if !source.IsPlayer() {
			continue
		}

		amount := ev.Amount + ev.Absorbed - ev.Overkill
		if amount <= 0 {
			continue
		}
		totals[source.Name] += amount
	}

	res := newResult(snap, AnalyzerAddDamage)
	res.Filters = map[string]any{
		"add_name":             cfg.AddName,
		"ignore_first_add_set": cfg.IgnoreFirstAddSet,
	}

	pulls := snap.PullCount()
	var grandTotal float64
	res.Entries = playerRows(snap, res, metricAddDamage, func(player string) PlayerRow {
		total := totals[player]
		grandTotal += total
		return PlayerRow{
			Player: player,
			Role:   res.PlayerRoles[player],
			Class:  res.PlayerClasses[player],
			Pulls:  pulls,
			Metrics: map[string]MetricValue{
				metricAddDamage: {Total: total, PerPull: perPull(total, pulls)},
			},
		}
	})
	res.Totals[metricAddDamage] = grandTotal
	res.Totals["add_damage_per_pull"] = perPull(grandTotal, pulls)
	return res, nil
}
