package workspace

import (
	"fmt"
	"slices"

	"github.com/hpungsan/overseer/internal/errors"
	"github.com/hpungsan/overseer/internal/ids"
)

// ActionType is the closed set of agent actions.
type ActionType string

const (
	ActionMerge      ActionType = "MERGE"
	ActionExplode    ActionType = "EXPLODE"
	ActionShake      ActionType = "SHAKE"
	ActionReadStream ActionType = "READ_STREAM"
	ActionIdle       ActionType = "IDLE"
)

// ActionTypes lists every action in schema order.
var ActionTypes = []ActionType{ActionMerge, ActionExplode, ActionShake, ActionReadStream, ActionIdle}

// ParseActionType validates s against the closed action set.
func ParseActionType(s string) (ActionType, error) {
	t := ActionType(s)
	if slices.Contains(ActionTypes, t) {
		return t, nil
	}
	return "", errors.NewMalformedResponse(fmt.Sprintf("unknown action %q", s))
}

// Action is what an agent decided to do on its turn.
type Action struct {
	Type           ActionType `json:"type"`
	TargetIDs      []string   `json:"target_ids,omitempty"`
	TargetStreamID string     `json:"target_stream_id,omitempty"`
	Description    string     `json:"description,omitempty"`
}

// MergeFallback labels a merged idea when the turn produced no output.
const MergeFallback = "Merged Insight"

const (
	explodeOffsetX = 50
	explodeOffsetY = 50
)

// Apply returns the workspace after action. ideas is never modified. Targets that are no
// longer present are skipped; an action whose preconditions are not met returns the
// workspace unchanged.
func Apply(ideas []Idea, action Action, role Role, output string) ([]Idea, error) {
	switch action.Type {
	case ActionMerge:
		return merge(ideas, action.TargetIDs, output), nil
	case ActionExplode:
		return explode(ideas, action.TargetIDs), nil
	case ActionShake, ActionIdle:
		return mark(ideas, action.TargetIDs, role.Color()), nil
	case ActionReadStream:
		return Clone(ideas), nil
	default:
		return nil, errors.NewInvalidRequest(fmt.Sprintf("unhandled action %q", action.Type))
	}
}

func merge(ideas []Idea, targets []string, output string) []Idea {
	var present []Idea
	for _, idea := range ideas {
		if slices.Contains(targets, idea.ID) {
			present = append(present, idea)
		}
	}
	if len(present) < 2 {
		return Clone(ideas)
	}

	var sumX, sumY float64
	for _, idea := range present {
		sumX += idea.X
		sumY += idea.Y
	}
	n := float64(len(present))

	content := output
	if content == "" {
		content = MergeFallback
	}

	out := make([]Idea, 0, len(ideas)-len(present)+1)
	for _, idea := range ideas {
		if !slices.Contains(targets, idea.ID) {
			out = append(out, idea.clone())
		}
	}
	return append(out, Idea{
		ID:      ids.New(),
		Content: content,
		Type:    TypeInsight,
		X:       sumX / n,
		Y:       sumY / n,
	})
}

func explode(ideas []Idea, targets []string) []Idea {
	if len(targets) != 1 {
		return Clone(ideas)
	}
	idx := slices.IndexFunc(ideas, func(i Idea) bool { return i.ID == targets[0] })
	if idx < 0 {
		return Clone(ideas)
	}
	parent := ideas[idx]

	out := make([]Idea, 0, len(ideas)+1)
	for i, idea := range ideas {
		if i != idx {
			out = append(out, idea.clone())
		}
	}
	for part, dx := range []float64{-explodeOffsetX, explodeOffsetX} {
		child := parent.clone()
		child.ID = ids.New()
		child.Content = fmt.Sprintf("%s (part %d/2)", parent.Content, part+1)
		child.X = parent.X + dx
		child.Y = parent.Y + explodeOffsetY
		out = append(out, child)
	}
	return out
}

func mark(ideas []Idea, targets []string, color string) []Idea {
	out := Clone(ideas)
	for i := range out {
		if slices.Contains(targets, out[i].ID) {
			out[i].Color = color
		}
	}
	return out
}
