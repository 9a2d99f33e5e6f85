// Package dispatch executes alternating Coordinator/Critic turns against a stream and
// its workspace.
package dispatch

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hpungsan/overseer/internal/config"
	"github.com/hpungsan/overseer/internal/errors"
	"github.com/hpungsan/overseer/internal/gateway"
	"github.com/hpungsan/overseer/internal/logging"
	"github.com/hpungsan/overseer/internal/memory"
	"github.com/hpungsan/overseer/internal/metrics"
	"github.com/hpungsan/overseer/internal/training"
	"github.com/hpungsan/overseer/internal/workspace"
)

// DefaultMaxTurns bounds a simulation when no limit is configured.
const DefaultMaxTurns = 10

const turnTemperature = 0.7

// DefaultRolePrompts are used for roles the caller supplies no instruction for.
var DefaultRolePrompts = config.RolePrompts{
	string(workspace.RoleCoordinator): "You are the Coordinator. Organise the workspace toward the goal: " +
		"merge related ideas into insights, explode broad ideas into concrete parts, and keep the team moving.",
	string(workspace.RoleCritic): "You are the Critic. Challenge weak or vague ideas, surface missing " +
		"constraints, and shake the workspace when it converges too early.",
}

// AgentTurn is the structured result of one turn.
type AgentTurn struct {
	Step           int                  `json:"step"`
	AgentName      string               `json:"agent_name"`
	Thought        string               `json:"thought"`
	Action         workspace.ActionType `json:"action"`
	TargetIDs      []string             `json:"target_ids,omitempty"`
	TargetStreamID string               `json:"target_stream_id,omitempty"`
	OutputContent  string               `json:"output_content"`
}

// turnResponse is the gateway's structured reply.
type turnResponse struct {
	AgentName      string   `json:"agentName"`
	Thought        string   `json:"thought"`
	Action         string   `json:"action"`
	TargetBlockIDs []string `json:"targetBlockIds"`
	TargetStreamID string   `json:"targetStreamId"`
	OutputContent  string   `json:"outputContent"`
}

var turnSchema = func() *gateway.Schema {
	actions := make([]string, len(workspace.ActionTypes))
	for i, a := range workspace.ActionTypes {
		actions[i] = string(a)
	}
	return &gateway.Schema{
		Type: gateway.TypeObject,
		Properties: map[string]*gateway.Schema{
			"agentName":      {Type: gateway.TypeString},
			"thought":        {Type: gateway.TypeString, Description: "Internal reasoning for this turn."},
			"action":         {Type: gateway.TypeString, Enum: actions},
			"targetBlockIds": {Type: gateway.TypeArray, Items: &gateway.Schema{Type: gateway.TypeString}},
			"targetStreamId": {Type: gateway.TypeString, Description: "Stream to read when action is READ_STREAM."},
			"outputContent":  {Type: gateway.TypeString},
		},
		Required: []string{"agentName", "thought", "action", "targetBlockIds", "outputContent"},
	}
}()

// Options configures a Dispatcher.
type Options struct {
	Memory   *memory.Store
	Gateway  gateway.Gateway
	Training training.Sink

	// MaxTurns defaults to DefaultMaxTurns.
	MaxTurns int

	// ShortTermLimit defaults to memory.DefaultShortTermLimit.
	ShortTermLimit int

	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// Dispatcher runs turns. It holds no per-simulation state and is safe for concurrent use.
type Dispatcher struct {
	memory    *memory.Store
	gateway   gateway.Gateway
	training  training.Sink
	maxTurns  int
	shortTerm int
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// New creates a Dispatcher.
func New(opts Options) *Dispatcher {
	d := &Dispatcher{
		memory:    opts.Memory,
		gateway:   opts.Gateway,
		training:  opts.Training,
		maxTurns:  opts.MaxTurns,
		shortTerm: opts.ShortTermLimit,
		metrics:   opts.Metrics,
		logger:    logging.OrNop(opts.Logger),
	}
	if d.training == nil {
		d.training = training.Discard
	}
	if d.maxTurns <= 0 {
		d.maxTurns = DefaultMaxTurns
	}
	if d.shortTerm <= 0 {
		d.shortTerm = memory.DefaultShortTermLimit
	}
	return d
}

// MaxTurns returns the turn bound.
func (d *Dispatcher) MaxTurns() int {
	return d.maxTurns
}

// ExecuteTurn runs turn turnCount of the simulation on streamID and returns the turn and
// the resulting workspace. ideas is never modified. A gateway failure, a malformed reply or
// a cancelled ctx aborts the turn before memory or workspace are touched. Once turnCount
// reaches the bound an ErrTerminal is returned.
func (d *Dispatcher) ExecuteTurn(
	ctx context.Context,
	streamID, goal string,
	ideas []workspace.Idea,
	turnCount int,
	prompts config.RolePrompts,
) (AgentTurn, []workspace.Idea, error) {
	if turnCount < 0 {
		return AgentTurn{}, nil, errors.NewInvalidRequest("turn count must be non-negative")
	}
	if turnCount >= d.maxTurns {
		return AgentTurn{}, nil, errors.NewTerminal(turnCount, d.maxTurns)
	}

	role := workspace.RoleForTurn(turnCount)
	instruction := rolePrompt(prompts, role)
	shortTerm := d.memory.ShortTerm(streamID, d.shortTerm)
	prompt := composePrompt(streamID, goal, role, shortTerm, d.memory.MediumTerm(streamID), ideas)

	raw, err := d.gateway.Generate(ctx, gateway.Request{
		System:      instruction,
		Prompt:      prompt,
		Temperature: turnTemperature,
		Schema:      turnSchema,
	})
	if err != nil {
		return d.fail(streamID, turnCount, err)
	}

	resp, err := gateway.DecodeJSON[turnResponse](raw)
	if err != nil {
		return d.fail(streamID, turnCount, err)
	}
	actionType, err := workspace.ParseActionType(resp.Action)
	if err != nil {
		return d.fail(streamID, turnCount, err)
	}

	thought := resp.Thought
	output := resp.OutputContent
	if actionType == workspace.ActionReadStream && resp.TargetStreamID != "" {
		// peek output is never interpreted, so a remote READ_STREAM is not followed
		output = "Fetched: " + d.memory.SharePeek(resp.TargetStreamID)
		thought = fmt.Sprintf("%s [Accessed stream %s]", thought, resp.TargetStreamID)
	}

	action := workspace.Action{
		Type:           actionType,
		TargetIDs:      resp.TargetBlockIDs,
		TargetStreamID: resp.TargetStreamID,
		Description:    thought,
	}
	next, err := workspace.Apply(ideas, action, role, output)
	if err != nil {
		return d.fail(streamID, turnCount, err)
	}

	if err := ctx.Err(); err != nil {
		return d.fail(streamID, turnCount, errors.NewGateway(err))
	}

	d.memory.AppendFrame(ctx, streamID, memory.Frame{
		AgentName: string(role),
		Input:     fmt.Sprintf("Turn %d", turnCount+1),
		Thought:   thought,
		Action:    string(actionType),
		Output:    output,
		Tags:      []string{string(actionType)},
	})
	d.training.Record(ctx, training.SourceDispatcher, d.gateway.Model(),
		training.Input{System: instruction, User: prompt, Context: shortTerm}, raw)
	d.metrics.TurnExecuted(string(role), string(actionType))

	d.logger.Debug("turn executed",
		zap.String("stream_id", streamID),
		zap.Int("step", turnCount+1),
		zap.String("role", string(role)),
		zap.String("action", string(actionType)))

	return AgentTurn{
		Step:           turnCount + 1,
		AgentName:      string(role),
		Thought:        thought,
		Action:         actionType,
		TargetIDs:      resp.TargetBlockIDs,
		TargetStreamID: resp.TargetStreamID,
		OutputContent:  output,
	}, next, nil
}

func (d *Dispatcher) fail(streamID string, turnCount int, err error) (AgentTurn, []workspace.Idea, error) {
	d.metrics.TurnFailed(string(errors.CodeOf(err)))
	d.logger.Warn("turn failed",
		zap.String("stream_id", streamID),
		zap.Int("turn", turnCount),
		zap.Error(err))
	return AgentTurn{}, nil, err
}

func rolePrompt(prompts config.RolePrompts, role workspace.Role) string {
	if p := strings.TrimSpace(prompts[string(role)]); p != "" {
		return p
	}
	return DefaultRolePrompts[string(role)]
}

func composePrompt(streamID, goal string, role workspace.Role, shortTerm, mediumTerm string, ideas []workspace.Idea) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Stream: %s\n", streamID)
	fmt.Fprintf(&b, "Goal: %s\n", goal)
	fmt.Fprintf(&b, "You are acting as: %s\n\n", role)
	b.WriteString("Recent activity:\n")
	b.WriteString(orNone(shortTerm))
	b.WriteString("\n\nHistory:\n")
	b.WriteString(orNone(mediumTerm))
	b.WriteString("\n\nWorkspace:\n")
	b.WriteString(orNone(workspace.Render(ideas)))
	b.WriteString("\n\nChoose one action: MERGE (two or more ideas), EXPLODE (exactly one idea), " +
		"SHAKE, IDLE, or READ_STREAM (set targetStreamId). Reference ideas by their ID in targetBlockIds.")
	return b.String()
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
