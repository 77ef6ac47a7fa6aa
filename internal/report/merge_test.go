package report

import (
	"testing"

	"github.com/stretchr/testify/require"

	"raidwatch/internal/domain"
)

func snapshotWithPulls(code string, pullCount int, playerName string) *domain.ReportSnapshot {
	snap := &domain.ReportSnapshot{
		Code:        code,
		SourceCodes: []string{code},
		Title:       code,
		Actors: map[int]domain.Actor{
			1: {ID: 1, Name: playerName, Type: domain.ActorTypePlayer, SubType: "Mage", Role: domain.RoleRanged},
			2: {ID: 2, Name: "Boss", Type: domain.ActorTypeNPC, Role: domain.RoleUnknown},
		},
		Abilities: map[int]string{555: "Besiege"},
	}
	for i := 0; i < pullCount; i++ {
		start := int64(i * 100_000)
		fight := domain.Fight{
			ID:      i + 1,
			Name:    "Nexus-King Salhadaar",
			BossID:  3134,
			StartMS: start,
			EndMS:   start + 90_000,
		}
		snap.Fights = append(snap.Fights, fight)
		snap.Events = append(snap.Events, domain.Event{
			TimestampMS: start + 10_000,
			Type:        domain.EventDamage,
			SourceID:    2,
			TargetID:    1,
			AbilityID:   555,
			Amount:      100,
			FightID:     fight.ID,
			PullIndex:   i + 1,
			PhaseID:     1,
			OffsetMS:    10_000,
		})
	}
	return snap
}

// Merging two three-pull reports yields six pulls with globally renumbered
// pull indexes preserving per-report order.
func TestMergePullRenumbering(t *testing.T) {
	r1 := snapshotWithPulls("AAAA1111", 3, "PlayerP")
	r2 := snapshotWithPulls("BBBB2222", 3, "PlayerP")

	merged := Merge([]*domain.ReportSnapshot{r1, r2})

	require.Equal(t, 6, merged.PullCount())
	require.Equal(t, []string{"AAAA1111", "BBBB2222"}, merged.SourceCodes)

	var pulls []int
	for _, ev := range merged.Events {
		pulls = append(pulls, ev.PullIndex)
	}
	require.Equal(t, []int{1, 2, 3, 4, 5, 6}, pulls)

	// Fight ids stay unique.
	seen := map[int]bool{}
	for _, f := range merged.Fights {
		require.False(t, seen[f.ID], "duplicate fight id %d", f.ID)
		seen[f.ID] = true
	}
}

// Players unify by name across reports; the first report decides class.
func TestMergeActorUnification(t *testing.T) {
	r1 := snapshotWithPulls("AAAA1111", 1, "PlayerP")
	r2 := snapshotWithPulls("BBBB2222", 1, "PlayerP")
	// Same name, different class in the second report.
	a := r2.Actors[1]
	a.SubType = "Priest"
	r2.Actors[1] = a

	merged := Merge([]*domain.ReportSnapshot{r1, r2})

	var players []domain.Actor
	for _, actor := range merged.Actors {
		if actor.IsPlayer() {
			players = append(players, actor)
		}
	}
	require.Len(t, players, 1)
	require.Equal(t, "Mage", players[0].SubType, "first occurrence wins")

	// Both reports' events resolve to the same player id.
	playerID := players[0].ID
	for _, ev := range merged.Events {
		require.Equal(t, playerID, ev.TargetID)
	}
}

func TestMergeSingleSnapshotPassthrough(t *testing.T) {
	r1 := snapshotWithPulls("AAAA1111", 2, "PlayerP")
	require.Same(t, r1, Merge([]*domain.ReportSnapshot{r1}))
}

func TestMergeKeepsNPCsDistinct(t *testing.T) {
	r1 := snapshotWithPulls("AAAA1111", 1, "PlayerP")
	r2 := snapshotWithPulls("BBBB2222", 1, "PlayerQ")

	merged := Merge([]*domain.ReportSnapshot{r1, r2})

	var npcs int
	for _, actor := range merged.Actors {
		if !actor.IsPlayer() {
			npcs++
		}
	}
	require.Equal(t, 2, npcs, "NPC identity stays per-report")
}
