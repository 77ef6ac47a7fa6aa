package analyzer

import (
	"sort"

	"raidwatch/internal/apperr"
	"raidwatch/internal/domain"
)

const metricDeaths = "deaths"

// Dimensius ability ids involved in death attribution.
const (
	OblivionID        = 1249077
	AirborneID        = 1243609
	FistsOfVoidlordID = 1227665
	DevourID          = 1243373

	defaultRecentWindowMS = 8000
)

// Oblivion filter modes.
const (
	OblivionIncludeAll           = "include_all"
	OblivionExcludeWithoutRecent = "exclude_without_recent"
	OblivionExcludeAll           = "exclude_all"
)

// DeathsConfig controls death counting.
type DeathsConfig struct {
	OblivionFilter    string `json:"oblivion_filter"`
	RecentWindowMS    int64  `json:"recent_window_ms,omitempty"`
	IgnoreAfterDeaths int    `json:"ignore_after_deaths,omitempty"`
}

func (c *DeathsConfig) normalize() error {
	if c.OblivionFilter == "" {
		c.OblivionFilter = OblivionIncludeAll
	}
	switch c.OblivionFilter {
	case OblivionIncludeAll, OblivionExcludeWithoutRecent, OblivionExcludeAll:
	default:
		return apperr.New(apperr.KindBadRequest, "invalid oblivion_filter %q", c.OblivionFilter)
	}
	if c.RecentWindowMS == 0 {
		c.RecentWindowMS = defaultRecentWindowMS
	}
	if c.RecentWindowMS < 0 {
		return apperr.New(apperr.KindBadRequest, "recent_window_ms must be nonnegative")
	}
	if c.IgnoreAfterDeaths < 0 {
		return apperr.New(apperr.KindBadRequest, "ignore_after_deaths must be nonnegative")
	}
	return nil
}

// flaggedKey indexes flagged-debuff timestamps per fight and player.
type flaggedKey struct {
	fightID  int
	targetID int
}

// runDeaths counts player deaths per pull. Under exclude_without_recent an
// Oblivion death only counts when Airborne, Fists of the Voidlord or Devour
// touched the player within the recent window before it.
func runDeaths(snap *domain.ReportSnapshot, cfg DeathsConfig) (*Result, error) {
	cutoffs := deathCutoffs(snap, cfg.IgnoreAfterDeaths)

	// First pass: timestamps of the flagged precursor events.
	flagged := map[flaggedKey][]int64{}
	for _, ev := range snap.Events {
		switch ev.AbilityID {
		case AirborneID:
			if !ev.IsDebuffApply() {
				continue
			}
		case FistsOfVoidlordID, DevourID:
			if ev.Type != domain.EventDamage {
				continue
			}
		default:
			continue
		}
		key := flaggedKey{fightID: ev.FightID, targetID: ev.TargetID}
		flagged[key] = append(flagged[key], ev.TimestampMS)
	}
	for _, ts := range flagged {
		sort.Slice(ts, func(i, j int) bool { return ts[i] < ts[j] })
	}

	hasRecent := func(fightID, targetID int, ts int64) bool {
		stamps := flagged[flaggedKey{fightID: fightID, targetID: targetID}]
		if len(stamps) == 0 {
			return false
		}
		lo := ts - cfg.RecentWindowMS
		idx := sort.Search(len(stamps), func(i int) bool { return stamps[i] >= lo })
		return idx < len(stamps) && stamps[idx] <= ts
	}

	counts := map[string]int{}
	events := map[string][]EventTrace{}
	for _, ev := range snap.Events {
		if !ev.IsDeath() {
			continue
		}
		if cutoff, ok := cutoffs[ev.FightID]; ok && ev.TimestampMS > cutoff {
			continue
		}
		target := snap.ActorByID(ev.TargetID)
		if !target.IsPlayer() {
			continue
		}

		killingID := killingAbility(ev)
		if killingID == OblivionID {
			switch cfg.OblivionFilter {
			case OblivionExcludeAll:
				continue
			case OblivionExcludeWithoutRecent:
				if !hasRecent(ev.FightID, ev.TargetID, ev.TimestampMS) {
					continue
				}
			}
		}

		fight, _ := snap.FightByID(ev.FightID)
		counts[target.Name]++
		events[target.Name] = append(events[target.Name], EventTrace{
			Player:       target.Name,
			FightID:      ev.FightID,
			FightName:    fight.Name,
			PullIndex:    ev.PullIndex,
			TimestampMS:  ev.TimestampMS,
			OffsetMS:     ev.OffsetMS,
			AbilityID:    killingID,
			AbilityLabel: abilityLabel(snap, killingID, ev),
		})
	}

	res := newResult(snap, AnalyzerDeaths)
	res.AbilityIDs = map[string]int{
		"oblivion": OblivionID,
		"airborne": AirborneID,
		"fists":    FistsOfVoidlordID,
		"devour":   DevourID,
	}
	res.Filters = map[string]any{
		"oblivion_filter":     cfg.OblivionFilter,
		"recent_window_ms":    cfg.RecentWindowMS,
		"ignore_after_deaths": cfg.IgnoreAfterDeaths,
	}

	pulls := snap.PullCount()
	var total float64
	res.Entries = playerRows(snap, res, metricDeaths, func(player string) PlayerRow {
		deaths := counts[player]
		total += float64(deaths)
		return PlayerRow{
			Player: player,
			Role:   res.PlayerRoles[player],
			Class:  res.PlayerClasses[player],
			Pulls:  pulls,
			Metrics: map[string]MetricValue{
				metricDeaths: {Total: float64(deaths), PerPull: perPull(float64(deaths), pulls)},
			},
		}
	})
	res.Totals[metricDeaths] = total
	res.Totals["death_rate"] = perPull(total, pulls)
	res.PlayerEvents = events
	return res, nil
}

// killingAbility prefers the explicit killer field over the event ability.
func killingAbility(ev domain.Event) int {
	if raw, ok := ev.Raw["killingAbilityGameID"]; ok {
		if id := asRawInt(raw); id != 0 {
			return id
		}
	}
	return ev.AbilityID
}

func abilityLabel(snap *domain.ReportSnapshot, id int, ev domain.Event) string {
	if name := snap.AbilityName(id); name != "" {
		return name
	}
	return ev.AbilityName
}

func asRawInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	}
	return 0
}
