// Package workspace holds the idea set a simulation mutates and the rules each agent
// action applies to it.
package workspace

import (
	"fmt"
	"strings"
)

// IdeaType classifies an idea.
type IdeaType string

const (
	TypeConcept    IdeaType = "concept"
	TypeConstraint IdeaType = "constraint"
	TypeData       IdeaType = "data"
	TypeInsight    IdeaType = "insight"
	TypeComponent  IdeaType = "component"
)

// Idea is one unit on the workspace. X, Y, Color and Meta are placement payload carried
// through unchanged unless an action computes new values.
type Idea struct {
	ID      string            `json:"id"`
	Content string            `json:"content"`
	Type    IdeaType          `json:"type"`
	X       float64           `json:"x"`
	Y       float64           `json:"y"`
	Color   string            `json:"color,omitempty"`
	Meta    map[string]string `json:"meta,omitempty"`
}

// Role is one of the two alternating agent roles.
type Role string

const (
	RoleCoordinator Role = "Coordinator"
	RoleCritic      Role = "Critic"
)

// RoleForTurn returns the role that acts on the given 0-based turn.
func RoleForTurn(turnCount int) Role {
	if turnCount%2 == 0 {
		return RoleCoordinator
	}
	return RoleCritic
}

// Color returns the marker a role leaves on ideas it touches.
func (r Role) Color() string {
	if r == RoleCritic {
		return "#ef4444"
	}
	return "#3b82f6"
}

// Render dumps the workspace one idea per line for prompts.
func Render(ideas []Idea) string {
	lines := make([]string, 0, len(ideas))
	for _, idea := range ideas {
		lines = append(lines, fmt.Sprintf("[ID: %s]: %s", idea.ID, idea.Content))
	}
	return strings.Join(lines, "\n")
}

// Clone returns a deep copy of ideas.
func Clone(ideas []Idea) []Idea {
	if ideas == nil {
		return nil
	}
	out := make([]Idea, len(ideas))
	for i, idea := range ideas {
		out[i] = idea.clone()
	}
	return out
}

func (i Idea) clone() Idea {
	if i.Meta != nil {
		meta := make(map[string]string, len(i.Meta))
		for k, v := range i.Meta {
			meta[k] = v
		}
		i.Meta = meta
	}
	return i
}
