package report

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"raidwatch/internal/api"
	"raidwatch/internal/apperr"
	"raidwatch/internal/config"
	"raidwatch/internal/constants"
	"raidwatch/internal/domain"
)

// DataType names an upstream event table.
type DataType string

const (
	DataDamageDone  DataType = "DamageDone"
	DataDamageTaken DataType = "DamageTaken"
	DataHealing     DataType = "Healing"
	DataCasts       DataType = "Casts"
	DataDeaths      DataType = "Deaths"
	DataResources   DataType = "Resources"
	DataBuffs       DataType = "Buffs"
	DataDebuffs     DataType = "Debuffs"
)

// TypeRequest asks for one event table, optionally server-filtered to a
// single ability.
type TypeRequest struct {
	DataType  DataType `json:"data_type"`
	AbilityID int      `json:"ability_id,omitempty"`
}

// FetchParams identifies one logical fetch. The same params always produce
// the same snapshot (modulo upstream changes), which is what makes the
// snapshot cacheable.
type FetchParams struct {
	Code        string        `json:"code"`
	FightFilter string        `json:"fight_filter,omitempty"`
	Requests    []TypeRequest `json:"requests"`
}

// Fetcher materializes report snapshots.
type Fetcher interface {
	Fetch(ctx context.Context, params FetchParams) (*domain.ReportSnapshot, error)
}

// WCLFetcher pages reportData.report.events per retained fight and data
// type, overlapping page fetches up to the configured in-flight limit.
type WCLFetcher struct {
	gql         api.Executor
	logger      zerolog.Logger
	maxInflight int
	pageLimit   int
}

func NewFetcher(cfg *config.Config, gql api.Executor, logger zerolog.Logger) *WCLFetcher {
	inflight := cfg.MaxInflightPerJob
	if inflight < 1 {
		inflight = 1
	}
	return &WCLFetcher{
		gql:         gql,
		logger:      logger,
		maxInflight: inflight,
		pageLimit:   constants.EventsPageLimit,
	}
}

type rawActor struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	SubType  string `json:"subType"`
	Icon     string `json:"icon"`
	PetOwner int    `json:"petOwner"`
}

type rawAbility struct {
	GameID int    `json:"gameID"`
	Name   string `json:"name"`
}

type rawPhaseTransition struct {
	ID        int     `json:"id"`
	StartTime float64 `json:"startTime"`
}

type rawFight struct {
	ID               int                  `json:"id"`
	Name             string               `json:"name"`
	Boss             int                  `json:"boss"`
	StartTime        float64              `json:"startTime"`
	EndTime          float64              `json:"endTime"`
	Kill             bool                 `json:"kill"`
	PhaseTransitions []rawPhaseTransition `json:"phaseTransitions"`
}

type rawOverview struct {
	ReportData struct {
		Report *struct {
			Title      string  `json:"title"`
			StartTime  float64 `json:"startTime"`
			EndTime    float64 `json:"endTime"`
			MasterData struct {
				Actors    []rawActor   `json:"actors"`
				Abilities []rawAbility `json:"abilities"`
			} `json:"masterData"`
			Fights []rawFight `json:"fights"`
		} `json:"report"`
	} `json:"reportData"`
}

type rawEventsPage struct {
	ReportData struct {
		Report *struct {
			Events struct {
				Data              []map[string]any `json:"data"`
				NextPageTimestamp *float64         `json:"nextPageTimestamp"`
			} `json:"events"`
		} `json:"report"`
	} `json:"reportData"`
}

// Fetch builds a complete snapshot for one report code. Any page failure
// after retries discards all partial data.
func (f *WCLFetcher) Fetch(ctx context.Context, params FetchParams) (*domain.ReportSnapshot, error) {
	traceID, _ := gonanoid.New(8)
	logger := f.logger.With().Str("fetch_id", traceID).Str("code", params.Code).Logger()

	overview, err := f.fetchOverview(ctx, params.Code)
	if err != nil {
		return nil, err
	}

	actors := buildActors(overview.ReportData.Report.MasterData.Actors)
	abilities := buildAbilities(overview.ReportData.Report.MasterData.Abilities)
	fights := selectFights(overview.ReportData.Report.Fights, params.FightFilter)

	logger.Debug().
		Int("fights", len(fights)).
		Int("actors", len(actors)).
		Str("fight_filter", params.FightFilter).
		Msg("report overview fetched")

	// An empty selection still yields a valid, cacheable snapshot.
	batches := make([][]map[string]any, len(fights)*len(params.Requests))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(f.maxInflight)

	for fi, fight := range fights {
		for ri, req := range params.Requests {
			slot := fi*len(params.Requests) + ri
			group.Go(func() error {
				rows, err := f.pageEvents(groupCtx, params.Code, req, fight)
				if err != nil {
					return err
				}
				batches[slot] = rows
				return nil
			})
		}
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	snap := buildSnapshot(params.Code, overview.ReportData.Report.Title, fights, actors, abilities, batches)
	logger.Debug().
		Int("events", len(snap.Events)).
		Int("dropped", snap.DroppedEvents).
		Msg("snapshot materialized")
	return snap, nil
}

func (f *WCLFetcher) fetchOverview(ctx context.Context, code string) (*rawOverview, error) {
	data, err := f.gql.Query(ctx, reportOverviewQuery, map[string]any{"code": code})
	if err != nil {
		return nil, err
	}
	var overview rawOverview
	if err := json.Unmarshal(data, &overview); err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamQueryError, err, "malformed report overview")
	}
	if overview.ReportData.Report == nil {
		return nil, apperr.New(apperr.KindReportNotFound, "report %s not found", code)
	}
	return &overview, nil
}

// pageEvents follows nextPageTimestamp until it reaches the window end or
// goes null, failing fast when the cursor stops advancing. Cancellation is
// checked between pages, never mid-request.
func (f *WCLFetcher) pageEvents(ctx context.Context, code string, req TypeRequest, fight domain.Fight) ([]map[string]any, error) {
	var rows []map[string]any
	cursor := float64(fight.StartMS)
	end := float64(fight.EndMS)
	var lastNext *float64
	stalled := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, apperr.Wrap(apperr.KindCanceled, err, "fetch aborted between pages")
		}

		variables := map[string]any{
			"code":      code,
			"dataType":  string(req.DataType),
			"start":     cursor,
			"end":       end,
			"limit":     f.pageLimit,
			"abilityID": nil,
		}
		if req.AbilityID != 0 {
			variables["abilityID"] = float64(req.AbilityID)
		}

		data, err := f.gql.Query(ctx, reportEventsQuery, variables)
		if err != nil {
			return nil, err
		}
		var page rawEventsPage
		if err := json.Unmarshal(data, &page); err != nil {
			return nil, apperr.Wrap(apperr.KindUpstreamQueryError, err, "malformed events page")
		}
		if page.ReportData.Report == nil {
			return nil, apperr.New(apperr.KindReportNotFound, "report %s not found", code)
		}

		rows = append(rows, page.ReportData.Report.Events.Data...)

		next := page.ReportData.Report.Events.NextPageTimestamp
		if next == nil || *next >= end {
			return rows, nil
		}
		if lastNext != nil && *next == *lastNext {
			stalled++
			if stalled >= constants.MaxStalledPages {
				return nil, apperr.New(apperr.KindPaginationStalled,
					"events cursor stuck at %.0f for %s/%s", *next, code, req.DataType)
			}
		} else {
			stalled = 0
		}
		lastNext = next
		cursor = *next
	}
}

func buildActors(raw []rawActor) map[int]domain.Actor {
	actors := make(map[int]domain.Actor, len(raw))
	for _, a := range raw {
		actor := domain.Actor{
			ID:       a.ID,
			Name:     a.Name,
			Type:     a.Type,
			SubType:  a.SubType,
			PetOwner: a.PetOwner,
			Role:     domain.RoleUnknown,
		}
		if actor.IsPlayer() {
			actor.Spec = domain.SpecFromIcon(a.Icon)
			actor.Role = domain.RoleFor(a.SubType, actor.Spec)
		}
		actors[a.ID] = actor
	}
	return actors
}

func buildAbilities(raw []rawAbility) map[int]string {
	abilities := make(map[int]string, len(raw))
	for _, a := range raw {
		if a.GameID != 0 && a.Name != "" {
			abilities[a.GameID] = a.Name
		}
	}
	return abilities
}

// selectFights retains fights whose name matches the filter
// (case-insensitive substring, boss or not), or every boss fight when no
// filter is given. Order follows ascending start time.
func selectFights(raw []rawFight, filter string) []domain.Fight {
	needle := strings.ToLower(strings.TrimSpace(filter))
	fights := make([]domain.Fight, 0, len(raw))
	for _, rf := range raw {
		if needle != "" {
			if !strings.Contains(strings.ToLower(rf.Name), needle) {
				continue
			}
		} else if rf.Boss == 0 {
			continue
		}
		fight := domain.Fight{
			ID:      rf.ID,
			Name:    rf.Name,
			BossID:  rf.Boss,
			StartMS: int64(rf.StartTime),
			EndMS:   int64(rf.EndTime),
			Kill:    rf.Kill,
		}
		for _, tr := range rf.PhaseTransitions {
			fight.PhaseTransitions = append(fight.PhaseTransitions, domain.PhaseTransition{
				ID:      tr.ID,
				StartMS: int64(tr.StartTime),
			})
		}
		sort.Slice(fight.PhaseTransitions, func(i, j int) bool {
			return fight.PhaseTransitions[i].StartMS < fight.PhaseTransitions[j].StartMS
		})
		fights = append(fights, fight)
	}
	sort.SliceStable(fights, func(i, j int) bool { return fights[i].StartMS < fights[j].StartMS })
	return fights
}
