// Package supervisor evaluates recent stream activity on a timer, emits gating decisions
// and accumulates meta-policies.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/hpungsan/overseer/internal/broadcast"
	"github.com/hpungsan/overseer/internal/errors"
	"github.com/hpungsan/overseer/internal/gateway"
	"github.com/hpungsan/overseer/internal/ids"
	"github.com/hpungsan/overseer/internal/kv"
	"github.com/hpungsan/overseer/internal/logging"
	"github.com/hpungsan/overseer/internal/memory"
	"github.com/hpungsan/overseer/internal/metrics"
	"github.com/hpungsan/overseer/internal/training"
)

// Defaults applied to zero Options fields.
const (
	DefaultInterval        = 45 * time.Second
	DefaultShortTermLimit  = 6
	DefaultMinMemoryChars  = 20
	DefaultProfileMinChars = 10
	DefaultTimeout         = 60 * time.Second
)

const evalTemperature = 0.2

const systemInstruction = "You are the Overseer, a supervisory process watching a team of agents. " +
	"Judge whether their recent activity serves the user's goals and values. Inhibit drift, allow " +
	"aligned progress, and request guidance when you cannot tell. When you notice a recurring " +
	"mistake, state one short reusable rule as newPolicy."

var decisionSchema = &gateway.Schema{
	Type: gateway.TypeObject,
	Properties: map[string]*gateway.Schema{
		"type": {Type: gateway.TypeString, Enum: []string{
			string(DecisionInhibit), string(DecisionAllow), string(DecisionRequestGuidance),
		}},
		"confidenceScore":   {Type: gateway.TypeNumber, Description: "0 to 100."},
		"simulationResult":  {Type: gateway.TypeString},
		"internalReasoning": {Type: gateway.TypeString},
		"userMessage":       {Type: gateway.TypeString},
		"newPolicy":         {Type: gateway.TypeString, Description: "Optional new behavioural rule."},
		"relevantGoal":      {Type: gateway.TypeString},
	},
	Required: []string{"type", "confidenceScore", "simulationResult", "internalReasoning", "userMessage"},
}

type evaluation struct {
	Type              string  `json:"type"`
	ConfidenceScore   float64 `json:"confidenceScore"`
	SimulationResult  string  `json:"simulationResult"`
	InternalReasoning string  `json:"internalReasoning"`
	UserMessage       string  `json:"userMessage"`
	NewPolicy         string  `json:"newPolicy"`
	RelevantGoal      string  `json:"relevantGoal"`
}

// Options configures a Supervisor.
type Options struct {
	Memory   *memory.Store
	Gateway  gateway.Gateway
	Training training.Sink

	// KV persists meta-policies. Defaults to an in-memory store.
	KV kv.Store

	Profile Profile

	Interval        time.Duration
	ShortTermLimit  int
	MinMemoryChars  int
	ProfileMinChars int

	// Timeout bounds each gateway call so the single-flight guard is always released.
	Timeout time.Duration

	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// Supervisor is one supervisory loop for one user context.
type Supervisor struct {
	opts     Options
	training training.Sink
	kv       kv.Store
	metrics  *metrics.Metrics
	logger   *zap.Logger

	processing atomic.Bool
	// epoch changes on Stop; ticks started under an older epoch discard their result
	epoch    atomic.Uint64
	profiled atomic.Bool
	// commitMu orders a tick's epoch check, append and publish against Stop
	commitMu sync.Mutex

	mu        sync.RWMutex
	profile   Profile
	policies  []MetaPolicy
	decisions []Decision // most recent first

	persistMu sync.Mutex

	schedMu   sync.Mutex
	scheduler gocron.Scheduler
	started   bool
	job       gocron.Job

	events *broadcast.Broadcaster[Decision]
}

// New creates a supervisor and loads persisted policies.
func New(ctx context.Context, opts Options) (*Supervisor, error) {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.ShortTermLimit <= 0 {
		opts.ShortTermLimit = DefaultShortTermLimit
	}
	if opts.MinMemoryChars <= 0 {
		opts.MinMemoryChars = DefaultMinMemoryChars
	}
	if opts.ProfileMinChars <= 0 {
		opts.ProfileMinChars = DefaultProfileMinChars
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	s := &Supervisor{
		opts:      opts,
		training:  opts.Training,
		kv:        opts.KV,
		metrics:   opts.Metrics,
		logger:    logging.OrNop(opts.Logger),
		profile:   opts.Profile,
		scheduler: scheduler,
	}
	if s.training == nil {
		s.training = training.Discard
	}
	if s.kv == nil {
		s.kv = kv.NewMemory()
	}
	s.events = broadcast.New(s.Decisions, s.logger)

	if err := s.loadPolicies(ctx); err != nil {
		_ = scheduler.Shutdown()
		s.events.Close()
		return nil, err
	}
	return s, nil
}

// Close stops the loop, shuts the scheduler down and ends decision delivery.
func (s *Supervisor) Close() error {
	s.Stop()
	err := s.scheduler.Shutdown()
	s.events.Close()
	return err
}

// Subscribe registers handler for the decision log. handler is called immediately with the
// current log and again after every new decision.
func (s *Supervisor) Subscribe(handler broadcast.Handler[Decision]) func() {
	return s.events.Subscribe(handler)
}

// Decisions returns the decision log, most recent first.
func (s *Supervisor) Decisions() []Decision {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.decisions)
}

// Policies returns the meta-policies in creation order.
func (s *Supervisor) Policies() []MetaPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.policies)
}

// SetProfile replaces the profile used by later ticks.
func (s *Supervisor) SetProfile(p Profile) {
	s.mu.Lock()
	s.profile = p
	s.mu.Unlock()
}

// Tick evaluates the recent activity of streamID. It returns ErrBusy without calling the
// gateway when another tick is in flight, and a nil decision when there is nothing worth
// evaluating or the loop was stopped while the gateway call was outstanding.
func (s *Supervisor) Tick(ctx context.Context, streamID string) (*Decision, error) {
	if !s.processing.CompareAndSwap(false, true) {
		s.metrics.Tick(metrics.TickSkippedBusy)
		return nil, errors.NewBusy("supervisor tick")
	}
	defer s.processing.Store(false)

	epoch := s.epoch.Load()

	recent := s.opts.Memory.ShortTerm(streamID, s.opts.ShortTermLimit)
	if len(strings.TrimSpace(recent)) < s.opts.MinMemoryChars {
		s.metrics.Tick(metrics.TickSkippedEmpty)
		return nil, nil
	}

	s.mu.RLock()
	profile := s.profile
	rules := make([]string, len(s.policies))
	for i, p := range s.policies {
		rules[i] = p.Rule
	}
	s.mu.RUnlock()

	prompt := composePrompt(profile, rules, recent)

	callCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	raw, err := s.opts.Gateway.Generate(callCtx, gateway.Request{
		System:      systemInstruction,
		Prompt:      prompt,
		Temperature: evalTemperature,
		Schema:      decisionSchema,
	})
	cancel()
	var eval evaluation
	if err == nil {
		eval, err = decodeEvaluation(raw)
	}
	if err != nil {
		s.metrics.Tick(metrics.TickGatewayError)
		s.logger.Warn("supervisor evaluation failed", zap.String("stream_id", streamID), zap.Error(err))
		return nil, err
	}
	decision := newDecision(streamID, eval)

	s.commitMu.Lock()
	s.mu.Lock()
	if s.epoch.Load() != epoch {
		s.mu.Unlock()
		s.commitMu.Unlock()
		s.metrics.Tick(metrics.TickDiscarded)
		s.logger.Debug("supervisor result discarded after stop", zap.String("stream_id", streamID))
		return nil, nil
	}
	var policyAdded bool
	if decision.PolicyUpdate != "" {
		s.policies = append(s.policies, MetaPolicy{
			ID:             ids.New(),
			Rule:           decision.PolicyUpdate,
			CreatedContext: decision.SimulationResult,
			Weight:         1,
			CreatedAt:      decision.Timestamp,
		})
		policyAdded = true
	}
	s.decisions = append([]Decision{decision}, s.decisions...)
	snapshot := slices.Clone(s.decisions)
	s.mu.Unlock()
	s.events.Publish(snapshot)
	s.commitMu.Unlock()

	if policyAdded {
		s.metrics.PolicyCreated()
		s.persistPolicies(ctx)
	}
	s.metrics.Tick(metrics.TickEvaluated)
	s.metrics.Decision(string(decision.Type), string(decision.DisplayMode))
	s.training.Record(ctx, training.SourceSupervisor, s.opts.Gateway.Model(),
		training.Input{System: systemInstruction, User: prompt, Context: recent}, raw)

	s.logger.Info("supervisor decision",
		zap.String("stream_id", streamID),
		zap.String("type", string(decision.Type)),
		zap.Int("confidence", decision.ConfidenceScore),
		zap.String("display_mode", string(decision.DisplayMode)))
	return &decision, nil
}

func decodeEvaluation(raw string) (evaluation, error) {
	eval, err := gateway.DecodeJSON[evaluation](raw)
	if err != nil {
		return evaluation{}, err
	}
	if _, err := parseDecisionType(eval.Type); err != nil {
		return evaluation{}, err
	}
	return eval, nil
}

func newDecision(streamID string, eval evaluation) Decision {
	t, _ := parseDecisionType(eval.Type)
	// NaN fails both comparisons and maps to 0
	score := 0
	if eval.ConfidenceScore >= 100 {
		score = 100
	} else if eval.ConfidenceScore > 0 {
		score = int(eval.ConfidenceScore)
	}

	goal := strings.TrimSpace(eval.RelevantGoal)
	if goal == "" {
		goal = DefaultRelevantGoal
	}

	return Decision{
		ID:               ids.New(),
		Timestamp:        time.Now().UTC(),
		StreamID:         streamID,
		Type:             t,
		ConfidenceScore:  score,
		SimulationResult: eval.SimulationResult,
		Reasoning:        eval.InternalReasoning,
		UserMessage:      eval.UserMessage,
		RelevantGoal:     goal,
		PolicyUpdate:     strings.TrimSpace(eval.NewPolicy),
		DisplayMode:      DisplayModeFor(t, score),
	}
}

func composePrompt(p Profile, rules []string, recent string) string {
	var b strings.Builder
	b.WriteString("User profile:\n")
	fmt.Fprintf(&b, "Goals: %s\n", orNone(p.Goals))
	fmt.Fprintf(&b, "Aspirations: %s\n", orNone(p.Aspirations))
	fmt.Fprintf(&b, "Values: %s\n\n", orNone(p.Values))

	b.WriteString("Learned policies:\n")
	if len(rules) == 0 {
		b.WriteString("(none)\n")
	}
	for _, r := range rules {
		fmt.Fprintf(&b, "- %s\n", r)
	}

	b.WriteString("\nRecent agent activity:\n")
	b.WriteString(recent)
	return b.String()
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}

func (s *Supervisor) persistPolicies(ctx context.Context) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.RLock()
	data, err := json.Marshal(s.policies)
	s.mu.RUnlock()
	if err != nil {
		s.logger.Error("policy encoding failed", zap.Error(err))
		return
	}
	if err := s.kv.Set(context.WithoutCancel(ctx), kv.PoliciesKey, data); err != nil {
		s.logger.Error("policy persistence failed", zap.Error(err))
	}
}

func (s *Supervisor) loadPolicies(ctx context.Context) error {
	data, ok, err := s.kv.Get(ctx, kv.PoliciesKey)
	if err != nil {
		return errors.NewInternal(fmt.Errorf("load policies: %w", err))
	}
	if !ok || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &s.policies); err != nil {
		return errors.NewInternal(fmt.Errorf("decode policies: %w", err))
	}
	return nil
}
