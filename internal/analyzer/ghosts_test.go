package analyzer

import (
	"testing"

	"raidwatch/internal/apperr"
	"raidwatch/internal/domain"
)

const ghostID = 1224737

// Scenario: applications at 1000, 1200 and 4500ms offsets with a 3000ms set
// window form two sets: {1000, 1200} and {4500}.
func TestGhostsFirstPerSet(t *testing.T) {
	fights := []domain.Fight{
		{ID: 1, Name: "Nexus-King Salhadaar", BossID: 3134, StartMS: 0, EndMS: 60_000},
	}
	snap := testSnapshot(fights, nexusRoster(), []domain.Event{
		debuffEvent(1000, 1, ghostID),
		debuffEvent(1200, 1, ghostID),
		debuffEvent(4500, 1, ghostID),
	})

	res, err := runGhosts(snap, GhostConfig{
		AbilityID:   ghostID,
		Mode:        GhostModeFirstPerSet,
		SetWindowMS: 3000,
	})
	if err != nil {
		t.Fatalf("runGhosts: %v", err)
	}

	row, ok := findRow(res.Entries, "PlayerA")
	if !ok {
		t.Fatal("PlayerA missing from entries")
	}
	if got := row.Metrics[metricGhostMisses].Total; got != 2 {
		t.Errorf("ghost_misses = %v, want 2", got)
	}
	if traces := res.PlayerEvents["PlayerA"]; len(traces) != 2 {
		t.Errorf("ghost_events trace count = %d, want 2", len(traces))
	}
}

// A drip of applications each within the window of the previous one stays a
// single set even when the total span exceeds the window.
func TestGhostsSetExtension(t *testing.T) {
	fights := []domain.Fight{
		{ID: 1, Name: "Nexus-King Salhadaar", BossID: 3134, StartMS: 0, EndMS: 60_000},
	}
	snap := testSnapshot(fights, nexusRoster(), []domain.Event{
		debuffEvent(1000, 1, ghostID),
		debuffEvent(3500, 1, ghostID),
		debuffEvent(6000, 1, ghostID),
	})

	res, err := runGhosts(snap, GhostConfig{AbilityID: ghostID, Mode: GhostModeFirstPerSet, SetWindowMS: 3000})
	if err != nil {
		t.Fatalf("runGhosts: %v", err)
	}
	row, _ := findRow(res.Entries, "PlayerA")
	if got := row.Metrics[metricGhostMisses].Total; got != 1 {
		t.Errorf("ghost_misses = %v, want 1 (one extended set)", got)
	}
}

func TestGhostsModes(t *testing.T) {
	fights := []domain.Fight{
		{ID: 1, Name: "Nexus-King Salhadaar", BossID: 3134, StartMS: 0, EndMS: 60_000},
	}
	events := []domain.Event{
		debuffEvent(1000, 1, ghostID),
		debuffEvent(1200, 1, ghostID),
		debuffEvent(30_000, 1, ghostID),
	}

	cases := []struct {
		mode string
		want float64
	}{
		{GhostModeAll, 3},
		{GhostModeFirstPerPull, 1},
		{GhostModeFirstPerSet, 2},
	}
	for _, tc := range cases {
		snap := testSnapshot(fights, nexusRoster(), append([]domain.Event(nil), events...))
		res, err := runGhosts(snap, GhostConfig{AbilityID: ghostID, Mode: tc.mode, SetWindowMS: 3000})
		if err != nil {
			t.Fatalf("mode %s: %v", tc.mode, err)
		}
		row, _ := findRow(res.Entries, "PlayerA")
		if got := row.Metrics[metricGhostMisses].Total; got != tc.want {
			t.Errorf("mode %s: ghost_misses = %v, want %v", tc.mode, got, tc.want)
		}
	}
}

func TestGhostModeAliases(t *testing.T) {
	cases := map[string]string{
		"":              GhostModeFirstPerSet,
		"first-per-set": GhostModeFirstPerSet,
		"Per Set":       GhostModeFirstPerSet,
		"set_first":     GhostModeFirstPerSet,
		"first_per_pull": GhostModeFirstPerPull,
		"PerPull":        GhostModeFirstPerPull,
		"all":            GhostModeAll,
		"every":          GhostModeAll,
	}
	for raw, want := range cases {
		got, err := NormalizeGhostMode(raw)
		if err != nil {
			t.Errorf("NormalizeGhostMode(%q): %v", raw, err)
			continue
		}
		if got != want {
			t.Errorf("NormalizeGhostMode(%q) = %s, want %s", raw, got, want)
		}
	}

	if _, err := NormalizeGhostMode("bogus"); !apperr.IsKind(err, apperr.KindBadRequest) {
		t.Errorf("expected bad_request for invalid mode, got %v", err)
	}
}

func TestGhostsGraceWindow(t *testing.T) {
	fights := []domain.Fight{
		{ID: 1, Name: "Nexus-King Salhadaar", BossID: 3134, StartMS: 0, EndMS: 60_000},
	}
	snap := testSnapshot(fights, nexusRoster(), []domain.Event{
		debuffEvent(1000, 1, ghostID),
		debuffEvent(20_000, 1, ghostID),
	})

	res, err := runGhosts(snap, GhostConfig{
		AbilityID:     ghostID,
		Mode:          GhostModeAll,
		SetWindowMS:   3000,
		GraceWindowMS: 15_000,
	})
	if err != nil {
		t.Fatalf("runGhosts: %v", err)
	}
	row, _ := findRow(res.Entries, "PlayerA")
	if got := row.Metrics[metricGhostMisses].Total; got != 1 {
		t.Errorf("ghost_misses = %v, want 1 (opening application inside grace window)", got)
	}
}
