package dispatch

import (
	"context"
	"sync"

	"github.com/hpungsan/overseer/internal/config"
	"github.com/hpungsan/overseer/internal/errors"
	"github.com/hpungsan/overseer/internal/workspace"
)

// Simulation owns the turn counter and workspace of one stream. Steps are serialized.
type Simulation struct {
	dispatcher *Dispatcher
	streamID   string
	goal       string
	prompts    config.RolePrompts

	mu        sync.Mutex
	turnCount int
	ideas     []workspace.Idea
	turns     []AgentTurn

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSimulation starts a simulation on an existing stream with an initial workspace.
func (d *Dispatcher) NewSimulation(streamID, goal string, ideas []workspace.Idea, prompts config.RolePrompts) *Simulation {
	ctx, cancel := context.WithCancel(context.Background())
	return &Simulation{
		dispatcher: d,
		streamID:   streamID,
		goal:       goal,
		prompts:    prompts,
		ideas:      workspace.Clone(ideas),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// StreamID returns the stream the simulation writes to.
func (s *Simulation) StreamID() string {
	return s.streamID
}

// Step runs the next turn. The counter and workspace advance only on success. After
// Cancel, or once the turn bound is reached, Step returns an ErrTerminal without calling
// the gateway.
func (s *Simulation) Step(ctx context.Context) (AgentTurn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return AgentTurn{}, errors.NewTerminal(s.turnCount, s.dispatcher.maxTurns)
	}

	// Cancel must be observed synchronously, so the step derives from the simulation
	stepCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	turn, next, err := s.dispatcher.ExecuteTurn(stepCtx, s.streamID, s.goal, s.ideas, s.turnCount, s.prompts)
	if err != nil {
		if s.ctx.Err() != nil {
			return AgentTurn{}, errors.NewTerminal(s.turnCount, s.dispatcher.maxTurns)
		}
		return AgentTurn{}, err
	}

	s.turnCount++
	s.ideas = next
	s.turns = append(s.turns, turn)
	return turn, nil
}

// Run steps until the bound is reached, a turn fails, ctx is done or the simulation is
// cancelled. onTurn, if set, is called after every successful turn. Reaching the bound or
// being cancelled is not an error.
func (s *Simulation) Run(ctx context.Context, onTurn func(AgentTurn)) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		turn, err := s.Step(ctx)
		if errors.Is(err, errors.ErrTerminal) {
			return nil
		}
		if err != nil {
			return err
		}
		if onTurn != nil {
			onTurn(turn)
		}
	}
}

// Cancel stops the simulation. An in-flight turn is discarded and later steps are no-ops.
func (s *Simulation) Cancel() {
	s.cancel()
}

// TurnCount returns the number of completed turns.
func (s *Simulation) TurnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turnCount
}

// Workspace returns a copy of the current workspace.
func (s *Simulation) Workspace() []workspace.Idea {
	s.mu.Lock()
	defer s.mu.Unlock()
	return workspace.Clone(s.ideas)
}

// Turns returns the completed turns in order.
func (s *Simulation) Turns() []AgentTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AgentTurn(nil), s.turns...)
}

// Done reports whether the simulation reached its bound or was cancelled.
func (s *Simulation) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx.Err() != nil || s.turnCount >= s.dispatcher.maxTurns
}
