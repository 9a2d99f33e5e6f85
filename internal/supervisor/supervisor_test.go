package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hpungsan/overseer/internal/errors"
	"github.com/hpungsan/overseer/internal/gateway"
	"github.com/hpungsan/overseer/internal/kv"
	"github.com/hpungsan/overseer/internal/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// started at init by genai's dependency tree, not by this package
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

func evalReply(t DecisionType, score int, policy string) string {
	b, _ := json.Marshal(map[string]any{
		"type":              t,
		"confidenceScore":   score,
		"simulationResult":  "agents converge on a ceramic cup",
		"internalReasoning": "matches stated goals",
		"userMessage":       "Looks on track.",
		"newPolicy":         policy,
	})
	return string(b)
}

type countingGateway struct {
	calls atomic.Int32
	fn    func(ctx context.Context, req gateway.Request) (string, error)
}

func (g *countingGateway) Generate(ctx context.Context, req gateway.Request) (string, error) {
	g.calls.Add(1)
	return g.fn(ctx, req)
}

func (g *countingGateway) Model() string { return "counting" }

func replying(s string) *countingGateway {
	return &countingGateway{fn: func(context.Context, gateway.Request) (string, error) { return s, nil }}
}

func newStore(t *testing.T) *memory.Store {
	t.Helper()
	store, err := memory.Open(context.Background(), memory.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	return store
}

func activeStream(t *testing.T, store *memory.Store) string {
	t.Helper()
	ctx := context.Background()
	id := store.CreateStream(ctx, "Design a cup")
	store.AppendFrame(ctx, id, memory.Frame{AgentName: "Coordinator", Thought: "merge the lid", Action: "MERGE", Output: "lid-handle"})
	store.AppendFrame(ctx, id, memory.Frame{AgentName: "Critic", Thought: "too heavy", Action: "SHAKE", Output: "rethink"})
	return id
}

func newSupervisor(t *testing.T, opts Options) *Supervisor {
	t.Helper()
	s, err := New(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDisplayModeFor(t *testing.T) {
	for score := 0; score <= 100; score += 10 {
		assert.Equal(t, DisplayToast, DisplayModeFor(DecisionInhibit, score))
		assert.Equal(t, DisplayToast, DisplayModeFor(DecisionRequestGuidance, score))
	}
	assert.Equal(t, DisplayWidget, DisplayModeFor(DecisionAllow, 70))
	assert.Equal(t, DisplayWidget, DisplayModeFor(DecisionAllow, 100))
	assert.Equal(t, DisplayToast, DisplayModeFor(DecisionAllow, 69))
}

func TestTick_EmitsDecision(t *testing.T) {
	store := newStore(t)
	id := activeStream(t, store)
	gw := replying(evalReply(DecisionAllow, 85, ""))
	s := newSupervisor(t, Options{Memory: store, Gateway: gw, Profile: Profile{Goals: "ship a cup"}})

	d, err := s.Tick(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, DecisionAllow, d.Type)
	assert.Equal(t, 85, d.ConfidenceScore)
	assert.Equal(t, DisplayWidget, d.DisplayMode)
	assert.Equal(t, DefaultRelevantGoal, d.RelevantGoal)
	assert.Equal(t, id, d.StreamID)

	assert.Equal(t, []Decision{*d}, s.Decisions())
	assert.Empty(t, s.Policies())
}

func TestTick_PromptContents(t *testing.T) {
	store := newStore(t)
	id := activeStream(t, store)
	var prompt string
	gw := &countingGateway{fn: func(_ context.Context, req gateway.Request) (string, error) {
		prompt = req.Prompt
		return evalReply(DecisionInhibit, 90, "Never merge before the Critic has spoken."), nil
	}}
	s := newSupervisor(t, Options{Memory: store, Gateway: gw, Profile: Profile{Goals: "ship a cup", Values: "sustainability"}})
	ctx := context.Background()

	_, err := s.Tick(ctx, id)
	require.NoError(t, err)
	assert.Contains(t, prompt, "Goals: ship a cup")
	assert.Contains(t, prompt, "Values: sustainability")
	assert.Contains(t, prompt, "[ShortTerm] Critic: too heavy")

	_, err = s.Tick(ctx, id)
	require.NoError(t, err)
	assert.Contains(t, prompt, "- Never merge before the Critic has spoken.")
}

func TestTick_PolicyCreatedAndPersisted(t *testing.T) {
	store := newStore(t)
	id := activeStream(t, store)
	policies := kv.NewMemory()
	gw := replying(evalReply(DecisionInhibit, 95, "Keep handles heat-safe."))
	s := newSupervisor(t, Options{Memory: store, Gateway: gw, KV: policies})

	d, err := s.Tick(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, DisplayToast, d.DisplayMode)
	assert.Equal(t, "Keep handles heat-safe.", d.PolicyUpdate)

	got := s.Policies()
	require.Len(t, got, 1)
	assert.Equal(t, "Keep handles heat-safe.", got[0].Rule)
	assert.Equal(t, "agents converge on a ceramic cup", got[0].CreatedContext)
	assert.Equal(t, 1.0, got[0].Weight)

	reloaded := newSupervisor(t, Options{Memory: store, Gateway: gw, KV: policies})
	assert.Equal(t, got[0].Rule, reloaded.Policies()[0].Rule)
}

func TestTick_DecisionLogMostRecentFirst(t *testing.T) {
	store := newStore(t)
	id := activeStream(t, store)
	var n atomic.Int32
	gw := &countingGateway{fn: func(context.Context, gateway.Request) (string, error) {
		if n.Add(1) == 1 {
			return evalReply(DecisionAllow, 80, ""), nil
		}
		return evalReply(DecisionInhibit, 80, ""), nil
	}}
	s := newSupervisor(t, Options{Memory: store, Gateway: gw})

	_, err := s.Tick(context.Background(), id)
	require.NoError(t, err)
	_, err = s.Tick(context.Background(), id)
	require.NoError(t, err)

	log := s.Decisions()
	require.Len(t, log, 2)
	assert.Equal(t, DecisionInhibit, log[0].Type)
	assert.Equal(t, DecisionAllow, log[1].Type)
}

func TestTick_SkipsThinMemory(t *testing.T) {
	store := newStore(t)
	gw := replying(evalReply(DecisionAllow, 80, ""))
	s := newSupervisor(t, Options{Memory: store, Gateway: gw})
	ctx := context.Background()

	empty := store.CreateStream(ctx, "g")
	d, err := s.Tick(ctx, empty)
	assert.NoError(t, err)
	assert.Nil(t, d)

	d, err = s.Tick(ctx, "missing")
	assert.NoError(t, err)
	assert.Nil(t, d)

	assert.Equal(t, int32(0), gw.calls.Load())
	assert.Empty(t, s.Decisions())
}

func TestTick_SingleFlight(t *testing.T) {
	store := newStore(t)
	id := activeStream(t, store)
	entered := make(chan struct{})
	release := make(chan struct{})
	gw := &countingGateway{fn: func(context.Context, gateway.Request) (string, error) {
		close(entered)
		<-release
		return evalReply(DecisionAllow, 90, ""), nil
	}}
	s := newSupervisor(t, Options{Memory: store, Gateway: gw})
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = s.Tick(ctx, id)
	}()
	<-entered

	d, err := s.Tick(ctx, id)
	assert.Nil(t, d)
	assert.True(t, errors.Is(err, errors.ErrBusy))
	assert.Equal(t, int32(1), gw.calls.Load())
	assert.Empty(t, s.Decisions())

	close(release)
	wg.Wait()
	assert.Len(t, s.Decisions(), 1)
}

func TestTick_GatewayFailureReleasesGuard(t *testing.T) {
	store := newStore(t)
	id := activeStream(t, store)
	var fail atomic.Bool
	fail.Store(true)
	gw := &countingGateway{fn: func(context.Context, gateway.Request) (string, error) {
		if fail.Load() {
			return "", fmt.Errorf("unavailable")
		}
		return evalReply(DecisionAllow, 90, ""), nil
	}}
	s := newSupervisor(t, Options{Memory: store, Gateway: gw})
	ctx := context.Background()

	_, err := s.Tick(ctx, id)
	require.Error(t, err)
	assert.Empty(t, s.Decisions())

	fail.Store(false)
	d, err := s.Tick(ctx, id)
	require.NoError(t, err)
	assert.NotNil(t, d)
}

func TestTick_MalformedReply(t *testing.T) {
	store := newStore(t)
	id := activeStream(t, store)
	for _, reply := range []string{"not json", `{"type":"veto","confidenceScore":50}`} {
		s := newSupervisor(t, Options{Memory: store, Gateway: replying(reply)})
		_, err := s.Tick(context.Background(), id)
		assert.True(t, errors.Is(err, errors.ErrMalformedResponse), reply)
		assert.Empty(t, s.Decisions())
	}
}

func TestTick_TimeoutReleasesGuard(t *testing.T) {
	store := newStore(t)
	id := activeStream(t, store)
	gw := &countingGateway{fn: func(ctx context.Context, _ gateway.Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	s := newSupervisor(t, Options{Memory: store, Gateway: gw, Timeout: 20 * time.Millisecond})

	_, err := s.Tick(context.Background(), id)
	require.Error(t, err)

	_, err = s.Tick(context.Background(), id)
	assert.False(t, errors.Is(err, errors.ErrBusy))
	assert.Equal(t, int32(2), gw.calls.Load())
}

func TestTick_ClampsConfidence(t *testing.T) {
	store := newStore(t)
	id := activeStream(t, store)
	s := newSupervisor(t, Options{Memory: store, Gateway: replying(evalReply(DecisionAllow, 250, ""))})

	d, err := s.Tick(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 100, d.ConfidenceScore)
}

func TestNewDecision_ClampsOutOfRangeScores(t *testing.T) {
	cases := []struct {
		in   float64
		want int
	}{
		{1e20, 100},
		{-1e20, 0},
		{math.Inf(1), 100},
		{math.Inf(-1), 0},
		{math.NaN(), 0},
		{72.9, 72},
	}
	for _, tc := range cases {
		d := newDecision("s1", evaluation{Type: string(DecisionAllow), ConfidenceScore: tc.in})
		assert.Equal(t, tc.want, d.ConfidenceScore, "score %v", tc.in)
	}
}

func TestTick_DiscardedAfterStop(t *testing.T) {
	store := newStore(t)
	id := activeStream(t, store)
	var s *Supervisor
	gw := &countingGateway{fn: func(context.Context, gateway.Request) (string, error) {
		s.Stop()
		return evalReply(DecisionInhibit, 90, "a rule that must not be kept"), nil
	}}
	s = newSupervisor(t, Options{Memory: store, Gateway: gw})

	d, err := s.Tick(context.Background(), id)
	assert.NoError(t, err)
	assert.Nil(t, d)
	assert.Empty(t, s.Decisions())
	assert.Empty(t, s.Policies())
}

func TestSubscribe_ReceivesLogImmediatelyAndOnDecision(t *testing.T) {
	store := newStore(t)
	id := activeStream(t, store)
	s := newSupervisor(t, Options{Memory: store, Gateway: replying(evalReply(DecisionAllow, 90, ""))})

	got := make(chan []Decision, 4)
	unsubscribe := s.Subscribe(func(d []Decision) { got <- d })
	defer unsubscribe()

	select {
	case initial := <-got:
		assert.Empty(t, initial)
	default:
		t.Fatal("handler not invoked on subscribe")
	}

	_, err := s.Tick(context.Background(), id)
	require.NoError(t, err)
	select {
	case log := <-got:
		require.Len(t, log, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("decision not broadcast")
	}
}

func TestStop_NothingCommittedAfterReturn(t *testing.T) {
	store := newStore(t)
	id := activeStream(t, store)

	for i := 0; i < 20; i++ {
		entered := make(chan struct{})
		gw := &countingGateway{fn: func(context.Context, gateway.Request) (string, error) {
			close(entered)
			return evalReply(DecisionAllow, 90, ""), nil
		}}
		s := newSupervisor(t, Options{Memory: store, Gateway: gw})
		var published atomic.Int32
		unsubscribe := s.Subscribe(func([]Decision) { published.Add(1) })

		done := make(chan struct{})
		go func() {
			defer close(done)
			_, _ = s.Tick(context.Background(), id)
		}()
		// the tick is in flight; it either commits before Stop or is discarded
		<-entered
		s.Stop()
		decisions := len(s.Decisions())
		<-done

		assert.Equal(t, decisions, len(s.Decisions()), "decision appended after Stop returned")
		require.Eventually(t, func() bool { return published.Load() == int32(1+decisions) },
			time.Second, 5*time.Millisecond)
		unsubscribe()
	}
}

func TestSubscribe_SlowSubscriberGetsEveryDecision(t *testing.T) {
	store := newStore(t)
	id := activeStream(t, store)
	s := newSupervisor(t, Options{Memory: store, Gateway: replying(evalReply(DecisionAllow, 90, ""))})

	var mu sync.Mutex
	var sizes []int
	unsubscribe := s.Subscribe(func(d []Decision) {
		time.Sleep(30 * time.Millisecond)
		mu.Lock()
		sizes = append(sizes, len(d))
		mu.Unlock()
	})
	defer unsubscribe()

	for i := 0; i < 3; i++ {
		_, err := s.Tick(context.Background(), id)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(sizes) == 4
	}, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2, 3}, sizes)
}

func TestSubscribe_PanickingSubscriberDoesNotBreakTick(t *testing.T) {
	store := newStore(t)
	id := activeStream(t, store)
	s := newSupervisor(t, Options{Memory: store, Gateway: replying(evalReply(DecisionAllow, 90, ""))})

	var first atomic.Bool
	unsubscribe := s.Subscribe(func([]Decision) {
		if first.Swap(true) {
			panic("subscriber bug")
		}
	})
	defer unsubscribe()

	for i := 0; i < 2; i++ {
		_, err := s.Tick(context.Background(), id)
		require.NoError(t, err)
	}
	assert.Len(t, s.Decisions(), 2)
}

func TestCheckProfileCompleteness(t *testing.T) {
	gw := replying(evalReply(DecisionAllow, 90, ""))
	s := newSupervisor(t, Options{Memory: newStore(t), Gateway: gw})

	d, fired := s.CheckProfileCompleteness(Profile{Goals: "", Aspirations: ""})
	require.True(t, fired)
	assert.Equal(t, DecisionRequestGuidance, d.Type)
	assert.Equal(t, DisplayToast, d.DisplayMode)
	assert.Equal(t, int32(0), gw.calls.Load())
	assert.Len(t, s.Decisions(), 1)

	_, fired = s.CheckProfileCompleteness(Profile{})
	assert.False(t, fired)
	assert.Len(t, s.Decisions(), 1)
}

func TestCheckProfileCompleteness_CompleteProfile(t *testing.T) {
	s := newSupervisor(t, Options{Memory: newStore(t), Gateway: replying("")})

	_, fired := s.CheckProfileCompleteness(Profile{Goals: "Build a sustainable product line", Aspirations: "  "})
	assert.False(t, fired)
	_, fired = s.CheckProfileCompleteness(Profile{Goals: "short", Aspirations: "Run a design studio"})
	assert.False(t, fired)
	assert.Empty(t, s.Decisions())

	_, fired = s.CheckProfileCompleteness(Profile{Goals: "short", Aspirations: "tiny"})
	assert.True(t, fired)
}
