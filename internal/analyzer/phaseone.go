package analyzer

import (
	"sort"

	"raidwatch/internal/apperr"
	"raidwatch/internal/domain"
)

// Dimensius Stage One debuffs.
const (
	ReverseGravityID = 1243577
	ExcessMassID     = 1228206

	metricOverlap       = "rg_em_overlap"
	metricEarlyMass     = "early_mass"
	metricAvoidableHits = "avoidable_hits"

	minEarlyMassWindowS = 1
	maxEarlyMassWindowS = 15
)

// PhaseOneConfig enables the Stage One mechanic detections. A metric counts
// toward the combined rate only when enabled; a player can score in several
// metrics for one mistake, which is accepted and documented.
type PhaseOneConfig struct {
	IncludeOverlap     bool  `json:"include_overlap"`
	EarlyMassWindowS   int   `json:"early_mass_window_s,omitempty"`
	IncludeEarlyMass   bool  `json:"include_early_mass"`
	AvoidableAbilityID int   `json:"avoidable_ability_id,omitempty"`
	ReverseGravityID   int   `json:"reverse_gravity_id,omitempty"`
	ExcessMassID       int   `json:"excess_mass_id,omitempty"`
}

func (c *PhaseOneConfig) normalize() error {
	if !c.IncludeOverlap && !c.IncludeEarlyMass && c.AvoidableAbilityID == 0 {
		c.IncludeOverlap = true
	}
	if c.IncludeEarlyMass {
		if c.EarlyMassWindowS == 0 {
			c.EarlyMassWindowS = 5
		}
		if c.EarlyMassWindowS < minEarlyMassWindowS || c.EarlyMassWindowS > maxEarlyMassWindowS {
			return apperr.New(apperr.KindBadRequest,
				"early_mass_window_s must be within [%d, %d], got %d",
				minEarlyMassWindowS, maxEarlyMassWindowS, c.EarlyMassWindowS)
		}
	}
	if c.ReverseGravityID == 0 {
		c.ReverseGravityID = ReverseGravityID
	}
	if c.ExcessMassID == 0 {
		c.ExcessMassID = ExcessMassID
	}
	return nil
}

type interval struct {
	start int64
	end   int64
}

// runPhaseOne detects Stage One mechanic failures: simultaneous Reverse
// Gravity + Excess Mass, Excess Mass collected shortly before Reverse
// Gravity, and hits from a named avoidable ability.
func runPhaseOne(snap *domain.ReportSnapshot, cfg PhaseOneConfig) (*Result, error) {
	overlapCounts := map[string]int{}
	earlyMassCounts := map[string]int{}
	avoidableCounts := map[string]int{}

	if cfg.IncludeOverlap {
		rg := debuffIntervals(snap, cfg.ReverseGravityID)
		em := debuffIntervals(snap, cfg.ExcessMassID)
		for key, rgIvs := range rg {
			emIvs, ok := em[key]
			if !ok {
				continue
			}
			if n := countOverlaps(rgIvs, emIvs); n > 0 {
				player := snap.ActorByID(key.targetID)
				if player.IsPlayer() {
					overlapCounts[player.Name] += n
				}
			}
		}
	}

	if cfg.IncludeEarlyMass {
		window := int64(cfg.EarlyMassWindowS) * 1000
		// Excess Mass application times per (fight, player).
		massTimes := map[flaggedKey][]int64{}
		for _, ev := range snap.Events {
			if ev.AbilityID != cfg.ExcessMassID || !ev.IsDebuffApply() {
				continue
			}
			key := flaggedKey{fightID: ev.FightID, targetID: ev.TargetID}
			massTimes[key] = append(massTimes[key], ev.TimestampMS)
		}
		for _, ts := range massTimes {
			sort.Slice(ts, func(i, j int) bool { return ts[i] < ts[j] })
		}
		for _, ev := range snap.Events {
			if ev.AbilityID != cfg.ReverseGravityID || !ev.IsDebuffApply() {
				continue
			}
			stamps := massTimes[flaggedKey{fightID: ev.FightID, targetID: ev.TargetID}]
			lo := ev.TimestampMS - window
			idx := sort.Search(len(stamps), func(i int) bool { return stamps[i] >= lo })
			if idx < len(stamps) && stamps[idx] < ev.TimestampMS {
				player := snap.ActorByID(ev.TargetID)
				if player.IsPlayer() {
					earlyMassCounts[player.Name]++
				}
			}
		}
	}

	if cfg.AvoidableAbilityID != 0 {
		for _, ev := range snap.Events {
			if ev.Type != domain.EventDamage || ev.AbilityID != cfg.AvoidableAbilityID {
				continue
			}
			player := snap.ActorByID(ev.TargetID)
			if player.IsPlayer() {
				avoidableCounts[player.Name]++
			}
		}
	}

	res := newResult(snap, AnalyzerPhaseOne)
	res.AbilityIDs = map[string]int{
		"reverse_gravity": cfg.ReverseGravityID,
		"excess_mass":     cfg.ExcessMassID,
	}
	if cfg.AvoidableAbilityID != 0 {
		res.AbilityIDs["avoidable"] = cfg.AvoidableAbilityID
	}
	res.Filters = map[string]any{
		"include_overlap":      cfg.IncludeOverlap,
		"include_early_mass":   cfg.IncludeEarlyMass,
		"early_mass_window_s":  cfg.EarlyMassWindowS,
		"avoidable_ability_id": cfg.AvoidableAbilityID,
	}

	pulls := snap.PullCount()
	totalsByMetric := map[string]float64{}
	res.Entries = playerRows(snap, res, metricFuckupRate, func(player string) PlayerRow {
		row := PlayerRow{
			Player:  player,
			Role:    res.PlayerRoles[player],
			Class:   res.PlayerClasses[player],
			Pulls:   pulls,
			Metrics: map[string]MetricValue{},
		}
		var combined float64
		record := func(metric string, count int) {
			total := float64(count)
			row.Metrics[metric] = MetricValue{Total: total, PerPull: perPull(total, pulls)}
			totalsByMetric[metric] += total
			combined += total
		}
		if cfg.IncludeOverlap {
			record(metricOverlap, overlapCounts[player])
		}
		if cfg.IncludeEarlyMass {
			record(metricEarlyMass, earlyMassCounts[player])
		}
		if cfg.AvoidableAbilityID != 0 {
			record(metricAvoidableHits, avoidableCounts[player])
		}
		row.FuckupRate = perPull(combined, pulls)
		return row
	})

	var combinedTotal float64
	for metric, total := range totalsByMetric {
		res.Totals[metric] = total
		combinedTotal += total
	}
	res.Totals["combined_per_pull"] = perPull(combinedTotal, pulls)
	return res, nil
}

// debuffIntervals reconstructs active intervals per (fight, target) from
// apply/remove pairs, tracking stacks so nested applications extend rather
// than split an interval. Debuffs still active at fight end close there.
func debuffIntervals(snap *domain.ReportSnapshot, abilityID int) map[flaggedKey][]interval {
	intervals := map[flaggedKey][]interval{}
	activeStart := map[flaggedKey]int64{}
	stacks := map[flaggedKey]int{}

	flush := func(key flaggedKey, end int64) {
		if start, ok := activeStart[key]; ok && end >= start {
			intervals[key] = append(intervals[key], interval{start: start, end: end})
		}
		delete(activeStart, key)
		delete(stacks, key)
	}

	currentFight := -1
	var fightEnd int64
	closeFight := func() {
		for key := range activeStart {
			if key.fightID == currentFight {
				flush(key, fightEnd)
			}
		}
	}

	for _, ev := range snap.Events {
		if ev.FightID != currentFight {
			closeFight()
			currentFight = ev.FightID
			if fight, ok := snap.FightByID(ev.FightID); ok {
				fightEnd = fight.EndMS
			}
		}
		if ev.AbilityID != abilityID {
			continue
		}
		key := flaggedKey{fightID: ev.FightID, targetID: ev.TargetID}
		switch {
		case ev.IsDebuffApply():
			if stacks[key] == 0 {
				activeStart[key] = ev.TimestampMS
			}
			stacks[key]++
		case ev.IsDebuffRemove():
			if stacks[key] <= 1 {
				flush(key, ev.TimestampMS)
			} else {
				stacks[key]--
			}
		}
	}
	closeFight()

	for key := range intervals {
		ivs := intervals[key]
		sort.Slice(ivs, func(i, j int) bool { return ivs[i].start < ivs[j].start })
		intervals[key] = ivs
	}
	return intervals
}

// countOverlaps counts pairs of intervals with positive overlap using a
// two-pointer sweep over the sorted lists.
func countOverlaps(first, second []interval) int {
	count := 0
	i, j := 0, 0
	for i < len(first) && j < len(second) {
		start := max64(first[i].start, second[j].start)
		end := min64(first[i].end, second[j].end)
		if start < end {
			count++
		}
		if first[i].end <= second[j].end {
			i++
		} else {
			j++
		}
	}
	return count
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
