package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thenvoi/thenvoi-go/platform"
)

func roster(ids ...string) []platform.Participant {
	out := make([]platform.Participant, 0, len(ids))
	for _, id := range ids {
		out = append(out, platform.Participant{ID: id, Name: "name-" + id, Type: "User"})
	}
	return out
}

func TestDiffRostersUnchanged(t *testing.T) {
	prev := roster("a", "b")
	// Platforms resend full snapshots; identical rosters must not
	// re-announce anyone.
	d := DiffRosters(prev, roster("a", "b"))
	assert.True(t, d.Empty())
}

func TestDiffRostersJoinedAndLeft(t *testing.T) {
	d := DiffRosters(roster("a", "b"), roster("b", "c"))

	assert.Len(t, d.Joined, 1)
	assert.Equal(t, "c", d.Joined[0].ID)
	assert.Len(t, d.Left, 1)
	assert.Equal(t, "a", d.Left[0].ID)
}

func TestDiffRostersFromEmpty(t *testing.T) {
	d := DiffRosters(nil, roster("a"))
	assert.Len(t, d.Joined, 1)
	assert.Empty(t, d.Left)
}

func TestDiffMerge(t *testing.T) {
	var d Diff
	d.Merge(Diff{Joined: roster("a")})
	d.Merge(Diff{Joined: roster("b")})
	assert.Len(t, d.Joined, 2)

	// Join then leave within the same window cancels out.
	d.Merge(Diff{Left: roster("a")})
	assert.Len(t, d.Joined, 1)
	assert.Equal(t, "b", d.Joined[0].ID)
	assert.Empty(t, d.Left)

	// Leave then rejoin cancels too.
	d.Merge(Diff{Left: roster("c")})
	d.Merge(Diff{Joined: roster("c")})
	assert.Empty(t, d.Left)
}

func TestDiffMergeDeduplicates(t *testing.T) {
	var d Diff
	d.Merge(Diff{Joined: roster("a")})
	d.Merge(Diff{Joined: roster("a")})
	assert.Len(t, d.Joined, 1)
}
