package supervisor

import (
	"fmt"
	"time"

	"github.com/hpungsan/overseer/internal/errors"
)

// DecisionType is the gate a decision applies.
type DecisionType string

const (
	DecisionInhibit         DecisionType = "inhibit"
	DecisionAllow           DecisionType = "allow"
	DecisionRequestGuidance DecisionType = "request_guidance"
)

func parseDecisionType(s string) (DecisionType, error) {
	switch t := DecisionType(s); t {
	case DecisionInhibit, DecisionAllow, DecisionRequestGuidance:
		return t, nil
	default:
		return "", errors.NewMalformedResponse(fmt.Sprintf("unknown decision type %q", s))
	}
}

// DisplayMode is how prominently a decision is surfaced.
type DisplayMode string

const (
	DisplayToast  DisplayMode = "toast"
	DisplayWidget DisplayMode = "widget"
)

// ConfidenceThreshold is the score below which a decision is always a toast.
const ConfidenceThreshold = 70

// DisplayModeFor derives the display mode. It is never taken from the gateway.
func DisplayModeFor(t DecisionType, confidence int) DisplayMode {
	if t == DecisionInhibit || t == DecisionRequestGuidance || confidence < ConfidenceThreshold {
		return DisplayToast
	}
	return DisplayWidget
}

// DefaultRelevantGoal is used when the gateway names no goal.
const DefaultRelevantGoal = "General Alignment"

// Decision is one supervisor evaluation outcome.
type Decision struct {
	ID               string       `json:"id"`
	Timestamp        time.Time    `json:"timestamp"`
	StreamID         string       `json:"stream_id,omitempty"`
	Type             DecisionType `json:"type"`
	ConfidenceScore  int          `json:"confidence_score"`
	SimulationResult string       `json:"simulation_result"`
	Reasoning        string       `json:"reasoning"`
	UserMessage      string       `json:"user_message"`
	RelevantGoal     string       `json:"relevant_goal"`
	PolicyUpdate     string       `json:"policy_update,omitempty"`
	DisplayMode      DisplayMode  `json:"display_mode"`
}

// MetaPolicy is a learned behavioural rule fed back into later evaluations.
// Weight is always 1 and is not used for ordering.
type MetaPolicy struct {
	ID             string    `json:"id"`
	Rule           string    `json:"rule"`
	CreatedContext string    `json:"created_context"`
	Weight         float64   `json:"weight"`
	CreatedAt      time.Time `json:"created_at"`
}

// Profile is the user context evaluations are made against.
type Profile struct {
	Goals       string `json:"goals" yaml:"goals"`
	Aspirations string `json:"aspirations" yaml:"aspirations"`
	Values      string `json:"values" yaml:"values"`
}
