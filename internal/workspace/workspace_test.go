package workspace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/overseer/internal/errors"
)

func seed() []Idea {
	return []Idea{
		{ID: "A", Content: "handle", Type: TypeComponent, X: 0, Y: 0},
		{ID: "B", Content: "lid", Type: TypeComponent, X: 10, Y: 10},
		{ID: "C", Content: "insulation", Type: TypeConstraint, X: 100, Y: 40, Meta: map[string]string{"w": "2"}},
	}
}

func find(ideas []Idea, id string) (Idea, bool) {
	for _, i := range ideas {
		if i.ID == id {
			return i, true
		}
	}
	return Idea{}, false
}

func TestRoleForTurn(t *testing.T) {
	assert.Equal(t, RoleCoordinator, RoleForTurn(0))
	assert.Equal(t, RoleCritic, RoleForTurn(1))
	assert.Equal(t, RoleCoordinator, RoleForTurn(8))
	assert.Equal(t, RoleCritic, RoleForTurn(9))
}

func TestRender(t *testing.T) {
	assert.Equal(t, "[ID: A]: handle\n[ID: B]: lid\n[ID: C]: insulation", Render(seed()))
	assert.Equal(t, "", Render(nil))
}

func TestParseActionType(t *testing.T) {
	for _, a := range ActionTypes {
		got, err := ParseActionType(string(a))
		require.NoError(t, err)
		assert.Equal(t, a, got)
	}
	_, err := ParseActionType("merge")
	assert.True(t, errors.Is(err, errors.ErrMalformedResponse))
}

func TestApply_Merge(t *testing.T) {
	ws := seed()
	out, err := Apply(ws, Action{Type: ActionMerge, TargetIDs: []string{"A", "B"}}, RoleCoordinator, "ergonomic lid-handle")
	require.NoError(t, err)

	require.Len(t, out, 2)
	_, okA := find(out, "A")
	_, okB := find(out, "B")
	assert.False(t, okA)
	assert.False(t, okB)

	merged := out[1]
	assert.NotEmpty(t, merged.ID)
	assert.Equal(t, TypeInsight, merged.Type)
	assert.Equal(t, "ergonomic lid-handle", merged.Content)
	assert.Equal(t, 5.0, merged.X)
	assert.Equal(t, 5.0, merged.Y)

	// input untouched
	assert.Len(t, ws, 3)

	again, err := Apply(out, Action{Type: ActionMerge, TargetIDs: []string{"A", "C"}}, RoleCoordinator, "x")
	require.NoError(t, err)
	assert.Equal(t, out, again)
}

func TestApply_MergeFallbackLabel(t *testing.T) {
	out, err := Apply(seed(), Action{Type: ActionMerge, TargetIDs: []string{"A", "B", "gone"}}, RoleCritic, "")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, MergeFallback, out[1].Content)
}

func TestApply_Explode(t *testing.T) {
	out, err := Apply(seed(), Action{Type: ActionExplode, TargetIDs: []string{"C"}}, RoleCritic, "")
	require.NoError(t, err)
	require.Len(t, out, 4)

	_, ok := find(out, "C")
	assert.False(t, ok)

	children := out[2:]
	assert.Equal(t, "insulation (part 1/2)", children[0].Content)
	assert.Equal(t, "insulation (part 2/2)", children[1].Content)
	assert.Equal(t, 50.0, children[0].X)
	assert.Equal(t, 150.0, children[1].X)
	assert.Equal(t, 90.0, children[0].Y)
	assert.Equal(t, TypeConstraint, children[0].Type)
	assert.NotEqual(t, children[0].ID, children[1].ID)

	// children do not share the parent's meta map
	children[0].Meta["w"] = "9"
	assert.Equal(t, "2", children[1].Meta["w"])
}

func TestApply_ExplodeSkips(t *testing.T) {
	ws := seed()
	for _, targets := range [][]string{{"missing"}, {"A", "B"}, nil} {
		out, err := Apply(ws, Action{Type: ActionExplode, TargetIDs: targets}, RoleCritic, "")
		require.NoError(t, err)
		assert.Equal(t, ws, out)
	}
}

func TestApply_ShakeAndIdleMark(t *testing.T) {
	out, err := Apply(seed(), Action{Type: ActionShake, TargetIDs: []string{"B", "gone"}}, RoleCritic, "")
	require.NoError(t, err)
	b, _ := find(out, "B")
	a, _ := find(out, "A")
	assert.Equal(t, "#ef4444", b.Color)
	assert.Empty(t, a.Color)

	out, err = Apply(out, Action{Type: ActionIdle, TargetIDs: []string{"A"}}, RoleCoordinator, "")
	require.NoError(t, err)
	a, _ = find(out, "A")
	assert.Equal(t, "#3b82f6", a.Color)
	assert.Len(t, out, 3)
}

func TestApply_ReadStreamLeavesWorkspace(t *testing.T) {
	ws := seed()
	out, err := Apply(ws, Action{Type: ActionReadStream, TargetIDs: []string{"A"}, TargetStreamID: "s"}, RoleCoordinator, "Fetched")
	require.NoError(t, err)
	assert.Equal(t, ws, out)
}

func TestApply_UnknownAction(t *testing.T) {
	_, err := Apply(seed(), Action{Type: "TELEPORT"}, RoleCoordinator, "")
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}
