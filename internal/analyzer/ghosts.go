package analyzer

import (
	"strings"

	"raidwatch/internal/apperr"
	"raidwatch/internal/domain"
)

const (
	metricGhostMisses = "ghost_misses"

	// Unstable Energies, applied when a ghost reaches the king unconsumed.
	defaultGhostAbilityID = 1224737
	defaultSetWindowMS    = 3000
)

// Ghost miss counting modes.
const (
	GhostModeAll          = "all"
	GhostModeFirstPerPull = "first_per_pull"
	GhostModeFirstPerSet  = "first_per_set"
)

var ghostModeAliases = map[string]string{
	"all":            GhostModeAll,
	"allhits":        GhostModeAll,
	"allmisses":      GhostModeAll,
	"every":          GhostModeAll,
	"firstperpull":   GhostModeFirstPerPull,
	"perpull":        GhostModeFirstPerPull,
	"pullfirst":      GhostModeFirstPerPull,
	"firstpull":      GhostModeFirstPerPull,
	"firstperset":    GhostModeFirstPerSet,
	"perset":         GhostModeFirstPerSet,
	"setfirst":       GhostModeFirstPerSet,
	"firstset":       GhostModeFirstPerSet,
}

// GhostConfig controls the ghost-miss analyzer.
type GhostConfig struct {
	AbilityID         int    `json:"ability_id"`
	Mode              string `json:"mode"`
	SetWindowMS       int64  `json:"set_window_ms,omitempty"`
	GraceWindowMS     int64  `json:"grace_window_ms,omitempty"`
	IgnoreAfterDeaths int    `json:"ignore_after_deaths,omitempty"`
}

func (c *GhostConfig) normalize() error {
	if c.AbilityID == 0 {
		c.AbilityID = defaultGhostAbilityID
	}
	if c.SetWindowMS == 0 {
		c.SetWindowMS = defaultSetWindowMS
	}
	if c.GraceWindowMS < 0 {
		return apperr.New(apperr.KindBadRequest, "grace_window_ms must be nonnegative")
	}
	if c.IgnoreAfterDeaths < 0 {
		return apperr.New(apperr.KindBadRequest, "ignore_after_deaths must be nonnegative")
	}
	mode, err := NormalizeGhostMode(c.Mode)
	if err != nil {
		return err
	}
	c.Mode = mode
	return nil
}

// NormalizeGhostMode canonicalizes user-supplied mode spellings.
func NormalizeGhostMode(raw string) (string, error) {
	if raw == "" {
		return GhostModeFirstPerSet, nil
	}
	cleaned := strings.ToLower(strings.TrimSpace(raw))
	for _, r := range []string{"-", "_", " "} {
		cleaned = strings.ReplaceAll(cleaned, r, "")
	}
	if mode, ok := ghostModeAliases[cleaned]; ok {
		return mode, nil
	}
	return "", apperr.New(apperr.KindBadRequest, "invalid ghost miss mode %q", raw)
}

// ghostState tracks set boundaries per pull; it resets on fight change.
type ghostState struct {
	fightID     int
	seenTargets map[int]bool
	lastCounted map[int]int64
}

func runGhosts(snap *domain.ReportSnapshot, cfg GhostConfig) (*Result, error) {
	counts, traces := countGhosts(snap, cfg)

	res := newResult(snap, AnalyzerGhosts)
	res.AbilityIDs = map[string]int{"ghost": cfg.AbilityID}
	res.Filters = map[string]any{
		"ability_id":          cfg.AbilityID,
		"mode":                cfg.Mode,
		"set_window_ms":       cfg.SetWindowMS,
		"grace_window_ms":     cfg.GraceWindowMS,
		"ignore_after_deaths": cfg.IgnoreAfterDeaths,
	}

	pulls := snap.PullCount()
	var total float64
	res.Entries = playerRows(snap, res, metricGhostMisses, func(player string) PlayerRow {
		misses := counts[player]
		total += float64(misses)
		return PlayerRow{
			Player: player,
			Role:   res.PlayerRoles[player],
			Class:  res.PlayerClasses[player],
			Pulls:  pulls,
			Metrics: map[string]MetricValue{
				metricGhostMisses: {Total: float64(misses), PerPull: perPull(float64(misses), pulls)},
			},
		}
	})
	res.Totals[metricGhostMisses] = total
	res.Totals["ghosts_per_pull"] = perPull(total, pulls)

	res.PlayerEvents = map[string][]EventTrace{}
	for _, tr := range traces {
		res.PlayerEvents[tr.Player] = append(res.PlayerEvents[tr.Player], tr)
	}
	return res, nil
}

// countGhosts folds debuff applications into per-player miss counts under
// the configured mode. Set semantics: an application farther than the set
// window from the player's previous application (the set's latest one)
// starts a new set; first_per_set records only the earliest event of each
// set.
func countGhosts(snap *domain.ReportSnapshot, cfg GhostConfig) (map[string]int, []EventTrace) {
	cutoffs := deathCutoffs(snap, cfg.IgnoreAfterDeaths)
	counts := map[string]int{}
	var traces []EventTrace

	state := ghostState{fightID: -1}
	for _, ev := range snap.Events {
		if !ev.IsDebuffApply() || ev.AbilityID != cfg.AbilityID {
			continue
		}
		if ev.FightID != state.fightID {
			state = ghostState{
				fightID:     ev.FightID,
				seenTargets: map[int]bool{},
				lastCounted: map[int]int64{},
			}
		}

		// Optional opening grace: ghosts cannot spawn that early.
		if cfg.GraceWindowMS > 0 && ev.OffsetMS < cfg.GraceWindowMS {
			continue
		}
		if cutoff, ok := cutoffs[ev.FightID]; ok && ev.TimestampMS >= cutoff {
			continue
		}

		target := snap.ActorByID(ev.TargetID)
		if !target.IsPlayer() {
			continue
		}

		switch cfg.Mode {
		case GhostModeFirstPerPull:
			if state.seenTargets[ev.TargetID] {
				continue
			}
			state.seenTargets[ev.TargetID] = true
		case GhostModeFirstPerSet:
			if last, ok := state.lastCounted[ev.TargetID]; ok && ev.TimestampMS-last < cfg.SetWindowMS {
				// Same set; remember its tail so slow drips extend the set.
				state.lastCounted[ev.TargetID] = ev.TimestampMS
				continue
			}
			state.lastCounted[ev.TargetID] = ev.TimestampMS
		}

		fight, _ := snap.FightByID(ev.FightID)
		counts[target.Name]++
		traces = append(traces, EventTrace{
			Player:       target.Name,
			FightID:      ev.FightID,
			FightName:    fight.Name,
			PullIndex:    ev.PullIndex,
			TimestampMS:  ev.TimestampMS,
			OffsetMS:     ev.OffsetMS,
			AbilityID:    ev.AbilityID,
			AbilityLabel: ev.AbilityName,
		})
	}
	return counts, traces
}
