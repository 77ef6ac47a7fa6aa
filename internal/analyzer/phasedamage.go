package analyzer

import (
	"strconv"
	"strings"

	"raidwatch/internal/apperr"
	"raidwatch/internal/domain"
)

// Phase profiles map phase ids to display labels. "full" covers the whole
// pull regardless of transitions.
const (
	PhaseProfileNexus     = "nexus"
	PhaseProfileDimensius = "dimensius"
	PhaseFull             = "full"
)

var nexusPhaseLabels = map[string]string{
	PhaseFull: "Full Fight",
	"1":       "Stage One: Oath Breakers",
	"2":       "Stage Two: Rider's of the Dark",
	"3":       "Intermission One: Nexus Descent",
	"4":       "Intermission Two: King's Hunger",
	"5":       "Stage Three: World in Twilight",
}

var dimensiusPhaseLabels = map[string]string{
	PhaseFull: "Full Fight",
	"1":       "Stage One: Critical Mass",
	"2":       "Intermission: Event Horizon",
	"3":       "Stage Two: The Dark Heart",
	"4":       "Stage Three: Singularity",
}

var phaseLabelPresets = map[string]map[string]string{
	PhaseProfileNexus:     nexusPhaseLabels,
	PhaseProfileDimensius: dimensiusPhaseLabels,
}

// phaseOrder fixes the column order for a profile.
var phaseOrder = []string{PhaseFull, "1", "2", "3", "4", "5"}

// PhaseDamageConfig selects a profile and the phases to total.
type PhaseDamageConfig struct {
	Profile string   `json:"profile"`
	Phases  []string `json:"phases"`
}

func (c *PhaseDamageConfig) normalize() error {
	profile := strings.ToLower(strings.TrimSpace(c.Profile))
	if profile == "" {
		profile = PhaseProfileNexus
	}
	labels, ok := phaseLabelPresets[profile]
	if !ok {
		return apperr.New(apperr.KindBadRequest, "unknown phase profile %q", c.Profile)
	}
	c.Profile = profile

	seen := map[string]bool{}
	var phases []string
	for _, raw := range c.Phases {
		key := strings.ToLower(strings.TrimSpace(raw))
		if key == "" {
			continue
		}
		if key == PhaseFull || key == "all" {
			key = PhaseFull
		} else if n, err := strconv.Atoi(key); err == nil {
			key = strconv.Itoa(n)
		} else {
			continue
		}
		if _, known := labels[key]; !known || seen[key] {
			continue
		}
		seen[key] = true
		phases = append(phases, key)
	}
	if len(phases) == 0 {
		seen[PhaseFull] = true
	}
	// Deterministic column order regardless of request order.
	ordered := make([]string, 0, len(seen))
	for _, key := range phaseOrder {
		if seen[key] {
			ordered = append(ordered, key)
		}
	}
	c.Phases = ordered
	return nil
}

// runPhaseDamage totals damage or healing per player per selected phase.
// The metric follows the player's role: healers count healing, everyone
// else counts damage. Pull count divides regardless of the player's alive
// state; that matches the upstream tables and is deliberate.
func runPhaseDamage(snap *domain.ReportSnapshot, cfg PhaseDamageConfig) (*Result, error) {
	labels := phaseLabelPresets[cfg.Profile]

	res := newResult(snap, AnalyzerPhaseDamage)
	res.Phases = append([]string(nil), cfg.Phases...)
	res.PhaseLabels = map[string]string{}
	for _, p := range cfg.Phases {
		res.PhaseLabels[p] = labels[p]
	}
	res.Filters = map[string]any{
		"profile": cfg.Profile,
		"phases":  cfg.Phases,
	}

	wantPhase := map[string]bool{}
	for _, p := range cfg.Phases {
		wantPhase[p] = true
	}

	// totals[player][phaseKey]
	totals := map[string]map[string]float64{}
	add := func(player, phase string, amount float64) {
		m, ok := totals[player]
		if !ok {
			m = map[string]float64{}
			totals[player] = m
		}
		m[phase] += amount
	}

	for _, ev := range snap.Events {
		var metricHealing bool
		switch ev.Type {
		case domain.EventDamage:
			metricHealing = false
		case domain.EventHeal:
			metricHealing = true
		default:
			continue
		}

		source := snap.OwnerOf(ev.SourceID)
		if !source.IsPlayer() {
			continue
		}
		healer := source.Role == domain.RoleHealer
		if healer != metricHealing {
			continue
		}

		amount := ev.Amount + ev.Absorbed - ev.Overkill
		if amount <= 0 {
			continue
		}

		if wantPhase[PhaseFull] {
			add(source.Name, PhaseFull, amount)
		}
		key := strconv.Itoa(ev.PhaseID)
		if wantPhase[key] {
			add(source.Name, key, amount)
		}
	}

	pulls := snap.PullCount()
	res.Entries = playerRows(snap, res, "", func(player string) PlayerRow {
		row := PlayerRow{
			Player:        player,
			Role:          res.PlayerRoles[player],
			Class:         res.PlayerClasses[player],
			Pulls:         pulls,
			PhaseTotals:   map[string]float64{},
			PhaseAverages: map[string]float64{},
		}
		for _, p := range cfg.Phases {
			total := totals[player][p]
			row.PhaseTotals[p] = total
			row.PhaseAverages[p] = perPull(total, pulls)
		}
		return row
	})

	for _, p := range cfg.Phases {
		var phaseTotal float64
		for _, row := range res.Entries {
			phaseTotal += row.PhaseTotals[p]
		}
		res.Totals["phase_"+p] = phaseTotal
	}
	return res, nil
}
