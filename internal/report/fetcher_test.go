package report

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"raidwatch/internal/apperr"
	"raidwatch/internal/config"
)

// scriptedExecutor answers overview queries from a fixture and events
// queries from a per-window page script.
type scriptedExecutor struct {
	overview     string
	pages        map[string][]string // key: dataType@start -> sequential pages
	pageCalls    map[string]int
	queryCount   atomic.Int64
	failOverview bool
}

func newScriptedExecutor(overview string) *scriptedExecutor {
	return &scriptedExecutor{
		overview:  overview,
		pages:     map[string][]string{},
		pageCalls: map[string]int{},
	}
}

func (s *scriptedExecutor) addPage(dataType string, start float64, page string) {
	key := fmt.Sprintf("%s@%.0f", dataType, start)
	s.pages[key] = append(s.pages[key], page)
}

func (s *scriptedExecutor) Query(_ context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	s.queryCount.Add(1)
	if strings.Contains(query, "masterData") {
		if s.failOverview {
			return nil, apperr.New(apperr.KindUpstreamUnavail, "scripted failure")
		}
		return json.RawMessage(s.overview), nil
	}
	key := fmt.Sprintf("%s@%.0f", variables["dataType"], variables["start"])
	pages := s.pages[key]
	idx := s.pageCalls[key]
	s.pageCalls[key]++
	if idx >= len(pages) {
		return nil, fmt.Errorf("no scripted page for %s call %d", key, idx)
	}
	return json.RawMessage(pages[idx]), nil
}

const overviewFixture = `{
  "reportData": {
    "report": {
      "title": "weekly reclear",
      "startTime": 0,
      "endTime": 1000000,
      "masterData": {
        "actors": [
          {"id": 1, "name": "PlayerA", "type": "Player", "subType": "Mage", "icon": "Mage-Fire", "petOwner": 0},
          {"id": 2, "name": "Boss", "type": "NPC", "subType": "Boss", "petOwner": 0}
        ],
        "abilities": [
          {"gameID": 555, "name": "Besiege"}
        ]
      },
      "fights": [
        {"id": 1, "name": "Nexus-King Salhadaar", "boss": 3134, "startTime": 100000, "endTime": 200000, "kill": false,
         "phaseTransitions": [{"id": 1, "startTime": 100000}, {"id": 2, "startTime": 150000}]}
      ]
    }
  }
}`

func eventsPage(nextPage string, timestamps ...int64) string {
	var rows []string
	for _, ts := range timestamps {
		rows = append(rows, fmt.Sprintf(
			`{"timestamp": %d, "type": "damage", "sourceID": 2, "targetID": 1, "abilityGameID": 555, "amount": 100}`, ts))
	}
	return fmt.Sprintf(`{
	  "reportData": {"report": {"events": {"data": [%s], "nextPageTimestamp": %s}}}
	}`, strings.Join(rows, ","), nextPage)
}

func testFetcher(gql *scriptedExecutor) *WCLFetcher {
	cfg := &config.Config{MaxInflightPerJob: 4}
	f := NewFetcher(cfg, gql, zerolog.Nop())
	return f
}

func TestFetchFollowsPagination(t *testing.T) {
	gql := newScriptedExecutor(overviewFixture)
	gql.addPage("DamageTaken", 100000, eventsPage("150000", 110000, 120000))
	gql.addPage("DamageTaken", 150000, eventsPage("null", 160000))

	snap, err := testFetcher(gql).Fetch(context.Background(), FetchParams{
		Code:     "CODE1234",
		Requests: []TypeRequest{{DataType: DataDamageTaken}},
	})
	require.NoError(t, err)
	require.Len(t, snap.Events, 3)
	require.Equal(t, "weekly reclear", snap.Title)
	require.Equal(t, 1, snap.PullCount())
	// Pages landed in timestamp order after the stable sort.
	require.Equal(t, int64(110000), snap.Events[0].TimestampMS)
	require.Equal(t, int64(160000), snap.Events[2].TimestampMS)
}

func TestFetchCursorAtEndStops(t *testing.T) {
	gql := newScriptedExecutor(overviewFixture)
	// nextPageTimestamp equal to the window end means done.
	gql.addPage("DamageTaken", 100000, eventsPage("200000", 110000))

	snap, err := testFetcher(gql).Fetch(context.Background(), FetchParams{
		Code:     "CODE1234",
		Requests: []TypeRequest{{DataType: DataDamageTaken}},
	})
	require.NoError(t, err)
	require.Len(t, snap.Events, 1)
}

func TestFetchPaginationStalled(t *testing.T) {
	gql := newScriptedExecutor(overviewFixture)
	// The cursor advances once, then repeats the same value forever.
	gql.addPage("DamageTaken", 100000, eventsPage("150000", 110000))
	for i := 0; i < 5; i++ {
		gql.addPage("DamageTaken", 150000, eventsPage("150000", 151000))
	}

	_, err := testFetcher(gql).Fetch(context.Background(), FetchParams{
		Code:     "CODE1234",
		Requests: []TypeRequest{{DataType: DataDamageTaken}},
	})
	require.Error(t, err)
	require.True(t, apperr.IsKind(err, apperr.KindPaginationStalled), "got %v", err)
}

func TestFetchReportNotFound(t *testing.T) {
	gql := newScriptedExecutor(`{"reportData": {"report": null}}`)
	_, err := testFetcher(gql).Fetch(context.Background(), FetchParams{
		Code:     "MISSING1",
		Requests: []TypeRequest{{DataType: DataDamageTaken}},
	})
	require.True(t, apperr.IsKind(err, apperr.KindReportNotFound), "got %v", err)
}

func TestFetchEmptySelectionStillSnapshots(t *testing.T) {
	gql := newScriptedExecutor(overviewFixture)
	snap, err := testFetcher(gql).Fetch(context.Background(), FetchParams{
		Code:        "CODE1234",
		FightFilter: "dimensius",
		Requests:    []TypeRequest{{DataType: DataDamageTaken}},
	})
	require.NoError(t, err)
	require.Zero(t, snap.PullCount())
	require.Empty(t, snap.Events)
}

func TestFetchCanceledBetweenPages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	gql := newScriptedExecutor(overviewFixture)
	_, err := testFetcher(gql).Fetch(ctx, FetchParams{
		Code:     "CODE1234",
		Requests: []TypeRequest{{DataType: DataDamageTaken}},
	})
	require.Error(t, err)
}
