package analyzer

import (
	"raidwatch/internal/apperr"
	"raidwatch/internal/domain"
)

const (
	metricHits = "hits"

	// Besiege, the Nexus-King frontal. Overridable per request.
	defaultHitAbilityID     = 1227472
	defaultCombinedDedupeMS = 1500
)

// HitConfig controls the avoidable-hit counter.
type HitConfig struct {
	AbilityID          int     `json:"ability_id"`
	FirstHitOnly       bool    `json:"first_hit_only"`
	IgnoreAfterDeaths  int     `json:"ignore_after_deaths,omitempty"`
	IgnoreFinalSeconds float64 `json:"ignore_final_seconds,omitempty"`
	DedupeMS           int64   `json:"dedupe_ms,omitempty"`
}

func (c *HitConfig) normalize() error {
	if c.AbilityID == 0 {
		c.AbilityID = defaultHitAbilityID
	}
	if c.IgnoreAfterDeaths < 0 {
		return apperr.New(apperr.KindBadRequest, "ignore_after_deaths must be nonnegative")
	}
	if c.IgnoreFinalSeconds < 0 {
		return apperr.New(apperr.KindBadRequest, "ignore_final_seconds must be nonnegative")
	}
	return nil
}

// hitState is the per-pull fold state; it resets on every fight boundary.
type hitState struct {
	fightID     int
	seenTargets map[int]bool
	lastHit     map[hitKey]int64
}

type hitKey struct {
	target  int
	ability int
}

func runHits(snap *domain.ReportSnapshot, cfg HitConfig) (*Result, error) {
	counts, _ := countHits(snap, cfg)

	res := newResult(snap, AnalyzerHits)
	res.AbilityIDs = map[string]int{"hit": cfg.AbilityID}
	res.Filters = map[string]any{
		"ability_id":           cfg.AbilityID,
		"first_hit_only":       cfg.FirstHitOnly,
		"ignore_after_deaths":  cfg.IgnoreAfterDeaths,
		"ignore_final_seconds": cfg.IgnoreFinalSeconds,
	}

	pulls := snap.PullCount()
	var total float64
	res.Entries = playerRows(snap, res, metricHits, func(player string) PlayerRow {
		hits := counts[player]
		total += float64(hits)
		return PlayerRow{
			Player: player,
			Role:   res.PlayerRoles[player],
			Class:  res.PlayerClasses[player],
			Pulls:  pulls,
			Metrics: map[string]MetricValue{
				metricHits: {Total: float64(hits), PerPull: perPull(float64(hits), pulls)},
			},
		}
	})
	res.Totals[metricHits] = total
	res.Totals["hits_per_pull"] = perPull(total, pulls)
	return res, nil
}

// countHits folds damage events into per-player hit counts, applying the
// death cutoff, end-of-pull trim, dedupe window and first-hit-only rules.
// The second return value lists the counted events for diagnostics.
func countHits(snap *domain.ReportSnapshot, cfg HitConfig) (map[string]int, []EventTrace) {
	cutoffs := deathCutoffs(snap, cfg.IgnoreAfterDeaths)
	counts := map[string]int{}
	var traces []EventTrace

	state := hitState{fightID: -1}
	for _, ev := range snap.Events {
		if ev.Type != domain.EventDamage || ev.AbilityID != cfg.AbilityID {
			continue
		}
		if ev.FightID != state.fightID {
			state = hitState{
				fightID:     ev.FightID,
				seenTargets: map[int]bool{},
				lastHit:     map[hitKey]int64{},
			}
		}

		fight, ok := snap.FightByID(ev.FightID)
		if !ok {
			continue
		}
		if cfg.IgnoreFinalSeconds > 0 {
			trim := fight.DurationMS() - int64(cfg.IgnoreFinalSeconds*1000)
			if ev.OffsetMS >= trim {
				continue
			}
		}
		if cutoff, ok := cutoffs[ev.FightID]; ok && ev.TimestampMS >= cutoff {
			continue
		}

		target := snap.ActorByID(ev.TargetID)
		if !target.IsPlayer() {
			continue
		}

		if cfg.DedupeMS > 0 {
			key := hitKey{target: ev.TargetID, ability: ev.AbilityID}
			if last, ok := state.lastHit[key]; ok && ev.TimestampMS-last < cfg.DedupeMS {
				continue
			}
			state.lastHit[key] = ev.TimestampMS
		}
		if cfg.FirstHitOnly {
			if state.seenTargets[ev.TargetID] {
				continue
			}
			state.seenTargets[ev.TargetID] = true
		}

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
