package analyzer

import (
	"sort"
	"strings"

	"raidwatch/internal/apperr"
	"raidwatch/internal/domain"
	"raidwatch/internal/report"
)

// ID names an analyzer mode.
type ID string

const (
	AnalyzerHits        ID = "hits"
	AnalyzerGhosts      ID = "ghosts"
	AnalyzerCombined    ID = "combined"
	AnalyzerPhaseDamage ID = "phase_damage"
	AnalyzerAddDamage   ID = "add_damage"
	AnalyzerDeaths      ID = "deaths"
	AnalyzerPhaseOne    ID = "phase1_mechanics"
)

// Request selects an analyzer and carries its mode-specific configuration.
type Request struct {
	Analyzer    ID                `json:"analyzer"`
	Hits        HitConfig         `json:"hits,omitzero"`
	Ghosts      GhostConfig       `json:"ghosts,omitzero"`
	PhaseDamage PhaseDamageConfig `json:"phase_damage,omitzero"`
	AddDamage   AddDamageConfig   `json:"add_damage,omitzero"`
	Deaths      DeathsConfig      `json:"deaths,omitzero"`
	PhaseOne    PhaseOneConfig    `json:"phase1,omitzero"`
}

// MetricValue pairs a metric total with its per-pull average.
type MetricValue struct {
	Total   float64 `json:"total"`
	PerPull float64 `json:"per_pull"`
}

// PlayerRow is one player's aggregates. Metrics keys depend on the analyzer
// mode; phase analyzers use the phase maps instead.
type PlayerRow struct {
	Player string `json:"player"`
	Role   string `json:"role"`
	Class  string `json:"class,omitempty"`
	Pulls  int    `json:"pulls"`

	Metrics       map[string]MetricValue `json:"metrics,omitempty"`
	FuckupRate    float64                `json:"fuckup_rate,omitempty"`
	PhaseTotals   map[string]float64     `json:"phase_totals,omitempty"`
	PhaseAverages map[string]float64     `json:"phase_averages,omitempty"`
}

// EventTrace is a diagnostic record attached to ghost and death results.
type EventTrace struct {
	Player       string `json:"player"`
	FightID      int    `json:"fight_id"`
	FightName    string `json:"fight_name"`
	PullIndex    int    `json:"pull_index"`
	TimestampMS  int64  `json:"timestamp_ms"`
	OffsetMS     int64  `json:"offset_ms"`
	AbilityID    int    `json:"ability_id,omitempty"`
	AbilityLabel string `json:"ability_label,omitempty"`
}

// Result is the output of one analyzer run. All fields are freshly
// allocated; the snapshot is never referenced mutably.
type Result struct {
	Report        string                  `json:"report"`
	Reports       []string                `json:"reports"`
	Analyzer      ID                      `json:"analyzer"`
	PullCount     int                     `json:"pull_count"`
	Entries       []PlayerRow             `json:"entries"`
	Totals        map[string]float64      `json:"totals"`
	Filters       map[string]any          `json:"filters"`
	Phases        []string                `json:"phases,omitempty"`
	PhaseLabels   map[string]string       `json:"phase_labels,omitempty"`
	AbilityIDs    map[string]int          `json:"ability_ids,omitempty"`
	PlayerClasses map[string]string       `json:"player_classes"`
	PlayerRoles   map[string]string       `json:"player_roles"`
	PlayerEvents  map[string][]EventTrace `json:"player_events,omitempty"`
}

// Run applies the requested analyzer to a snapshot. Analyzers are pure:
// identical (snapshot, request) pairs produce identical results.
func Run(snap *domain.ReportSnapshot, req Request) (*Result, error) {
	if err := req.Normalize(); err != nil {
		return nil, err
	}
	switch req.Analyzer {
	case AnalyzerHits:
		return runHits(snap, req.Hits)
	case AnalyzerGhosts:
		return runGhosts(snap, req.Ghosts)
	case AnalyzerCombined:
		return runCombined(snap, req.Hits, req.Ghosts)
	case AnalyzerPhaseDamage:
		return runPhaseDamage(snap, req.PhaseDamage)
	case AnalyzerAddDamage:
		return runAddDamage(snap, req.AddDamage)
	case AnalyzerDeaths:
		return runDeaths(snap, req.Deaths)
	case AnalyzerPhaseOne:
		return runPhaseOne(snap, req.PhaseOne)
	default:
		return nil, apperr.New(apperr.KindBadRequest, "unknown analyzer %q", req.Analyzer)
	}
}

// Normalize validates the request and fills mode defaults in place so that
// equal logical requests fingerprint identically.
func (r *Request) Normalize() error {
	switch r.Analyzer {
	case AnalyzerHits:
		return r.Hits.normalize()
	case AnalyzerGhosts:
		return r.Ghosts.normalize()
	case AnalyzerCombined:
		if err := r.Hits.normalize(); err != nil {
			return err
		}
		if r.Hits.DedupeMS == 0 {
			r.Hits.DedupeMS = defaultCombinedDedupeMS
		}
		return r.Ghosts.normalize()
	case AnalyzerPhaseDamage:
		return r.PhaseDamage.normalize()
	case AnalyzerAddDamage:
		r.AddDamage.normalize()
		return nil
	case AnalyzerDeaths:
		return r.Deaths.normalize()
	case AnalyzerPhaseOne:
		return r.PhaseOne.normalize()
	default:
		return apperr.New(apperr.KindBadRequest, "unknown analyzer %q", r.Analyzer)
	}
}

// DataRequests lists the upstream event tables an analyzer needs. The set
// feeds the snapshot fingerprint, so it must be deterministic.
func DataRequests(req Request) []report.TypeRequest {
	switch req.Analyzer {
	case AnalyzerHits:
		return []report.TypeRequest{
			{DataType: report.DataDamageTaken, AbilityID: req.Hits.AbilityID},
			{DataType: report.DataDeaths},
		}
	case AnalyzerGhosts:
		return []report.TypeRequest{
			{DataType: report.DataDebuffs},
			{DataType: report.DataDeaths},
		}
	case AnalyzerCombined:
		return []report.TypeRequest{
			{DataType: report.DataDamageTaken, AbilityID: req.Hits.AbilityID},
			{DataType: report.DataDebuffs},
			{DataType: report.DataDeaths},
		}
	case AnalyzerPhaseDamage:
		return []report.TypeRequest{
			{DataType: report.DataDamageDone},
			{DataType: report.DataHealing},
		}
	case AnalyzerAddDamage:
		return []report.TypeRequest{
			{DataType: report.DataDamageDone},
		}
	case AnalyzerDeaths:
		return []report.TypeRequest{
			{DataType: report.DataDeaths},
			{DataType: report.DataDebuffs},
			{DataType: report.DataDamageTaken},
		}
	case AnalyzerPhaseOne:
		return []report.TypeRequest{
			{DataType: report.DataDebuffs},
			{DataType: report.DataDamageTaken, AbilityID: req.PhaseOne.AvoidableAbilityID},
			{DataType: report.DataDeaths},
		}
	default:
		return nil
	}
}

// newResult seeds the common result fields from the snapshot roster.
func newResult(snap *domain.ReportSnapshot, analyzer ID) *Result {
	res := &Result{
		Report:        snap.Code,
		Reports:       append([]string(nil), snap.SourceCodes...),
		Analyzer:      analyzer,
		PullCount:     snap.PullCount(),
		Totals:        map[string]float64{},
		Filters:       map[string]any{},
		PlayerClasses: map[string]string{},
		PlayerRoles:   map[string]string{},
	}
	for _, a := range snap.Actors {
		if !a.IsPlayer() {
			continue
		}
		res.PlayerClasses[a.Name] = a.SubType
		res.PlayerRoles[a.Name] = string(a.Role)
	}
	return res
}

// perPull divides defensively: zero pulls yield zero, never NaN.
func perPull(total float64, pulls int) float64 {
	if pulls <= 0 {
		return 0
	}
	return total / float64(pulls)
}

// deathCutoffs returns, per fight, the timestamp of the maxDeaths-th death;
// events at or after the cutoff are ignored by analyzers honoring the
// filter. Fights with fewer deaths have no cutoff.
func deathCutoffs(snap *domain.ReportSnapshot, maxDeaths int) map[int]int64 {
	if maxDeaths <= 0 {
		return nil
	}
	cutoffs := map[int]int64{}
	counts := map[int]int{}
	for _, ev := range snap.Events {
		if !ev.IsDeath() {
			continue
		}
		if _, done := cutoffs[ev.FightID]; done {
			continue
		}
		counts[ev.FightID]++
		if counts[ev.FightID] >= maxDeaths {
			cutoffs[ev.FightID] = ev.TimestampMS
		}
	}
	return cutoffs
}

// playerRows materializes one row for every roster player, sorted by role
// priority, primary metric descending, then name.
func playerRows(
	snap *domain.ReportSnapshot,
	res *Result,
	primaryMetric string,
	build func(player string) PlayerRow,
) []PlayerRow {
	names := snap.PlayerNames()
	rows := make([]PlayerRow, 0, len(names))
	for _, name := range names {
		rows = append(rows, build(name))
	}
	sortRows(rows, primaryMetric)
	return rows
}

func sortRows(rows []PlayerRow, primaryMetric string) {
	sort.SliceStable(rows, func(i, j int) bool {
		pi := domain.RolePriority(domain.Role(rows[i].Role))
		pj := domain.RolePriority(domain.Role(rows[j].Role))
		if pi != pj {
			return pi < pj
		}
		var mi, mj float64
		if primaryMetric == metricFuckupRate {
			mi, mj = rows[i].FuckupRate, rows[j].FuckupRate
		} else if primaryMetric != "" {
			mi = rows[i].Metrics[primaryMetric].Total
			mj = rows[j].Metrics[primaryMetric].Total
		}
		if mi != mj {
			return mi > mj
		}
		return strings.ToLower(rows[i].Player) < strings.ToLower(rows[j].Player)
	})
}

const metricFuckupRate = "fuckup_rate"
