package analyzer

import (
	"raidwatch/internal/domain"
)

// runCombined folds hits and ghost misses under shared filters into a
// single table with a combined rate per player.
func runCombined(snap *domain.ReportSnapshot, hitCfg HitConfig, ghostCfg GhostConfig) (*Result, error) {
	// Both folds honor the same death cutoff.
	if ghostCfg.IgnoreAfterDeaths == 0 {
		ghostCfg.IgnoreAfterDeaths = hitCfg.IgnoreAfterDeaths
	}

	hitCounts, _ := countHits(snap, hitCfg)
	ghostCounts, ghostTraces := countGhosts(snap, ghostCfg)

	res := newResult(snap, AnalyzerCombined)
	res.AbilityIDs = map[string]int{
		"hit":   hitCfg.AbilityID,
		"ghost": ghostCfg.AbilityID,
	}
	res.Filters = map[string]any{
		"hit_ability_id":       hitCfg.AbilityID,
		"ghost_ability_id":     ghostCfg.AbilityID,
		"first_hit_only":       hitCfg.FirstHitOnly,
		"ignore_after_deaths":  hitCfg.IgnoreAfterDeaths,
		"ignore_final_seconds": hitCfg.IgnoreFinalSeconds,
		"ghost_mode":           ghostCfg.Mode,
		"set_window_ms":        ghostCfg.SetWindowMS,
	}

	pulls := snap.PullCount()
	var totalHits, totalGhosts float64
	res.Entries = playerRows(snap, res, metricFuckupRate, func(player string) PlayerRow {
		hits := float64(hitCounts[player])
		ghosts := float64(ghostCounts[player])
		totalHits += hits
		totalGhosts += ghosts
		return PlayerRow{
			Player: player,
			Role:   res.PlayerRoles[player],
			Class:  res.PlayerClasses[player],
			Pulls:  pulls,
			Metrics: map[string]MetricValue{
				metricHits:        {Total: hits, PerPull: perPull(hits, pulls)},
				metricGhostMisses: {Total: ghosts, PerPull: perPull(ghosts, pulls)},
			},
			FuckupRate: perPull(hits+ghosts, pulls),
		}
	})

	res.Totals[metricHits] = totalHits
	res.Totals[metricGhostMisses] = totalGhosts
	res.Totals["combined_per_pull"] = perPull(totalHits+totalGhosts, pulls)

	res.PlayerEvents = map[string][]EventTrace{}
	for _, tr := range ghostTraces {
		res.PlayerEvents[tr.Player] = append(res.PlayerEvents[tr.Player], tr)
	}
	return res, nil
}
