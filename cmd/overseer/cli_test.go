package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/hpungsan/overseer/internal/config"
	"github.com/hpungsan/overseer/internal/db"
	"github.com/hpungsan/overseer/internal/gateway"
	"github.com/hpungsan/overseer/internal/memory"
	"github.com/hpungsan/overseer/internal/supervisor"
	"github.com/hpungsan/overseer/internal/workspace"
)

const (
	turnReply = `{"agentName":"Coordinator","thought":"Nothing to reshape yet.","action":"IDLE",` +
		`"targetBlockIds":[],"outputContent":"Waiting for more ideas."}`
	decisionReply = `{"type":"inhibit","confidenceScore":91,"simulationResult":"drift",` +
		`"internalReasoning":"off goal","userMessage":"Refocus.","newPolicy":"Stay on the cup."}`
)

// scriptedGateway answers turn requests with turnReply and evaluations with decisionReply.
func scriptedGateway(calls *atomic.Int64) gateway.Gateway {
	return gateway.Func(func(_ context.Context, req gateway.Request) (string, error) {
		if calls != nil {
			calls.Add(1)
		}
		if req.Schema != nil && req.Schema.Properties["agentName"] != nil {
			return turnReply, nil
		}
		return decisionReply, nil
	})
}

// setupTestServices wires the full component graph on a temporary database.
func setupTestServices(t *testing.T, gw gateway.Gateway) *services {
	t.Helper()
	tmpDir := t.TempDir()
	database, err := db.Init(tmpDir)
	if err != nil {
		t.Fatalf("failed to init test db: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.GatewayMaxRetries = 0

	svc, err := newServices(context.Background(), cfg, tmpDir, database, gw, zap.NewNop())
	if err != nil {
		database.Close()
		t.Fatalf("newServices: %v", err)
	}
	t.Cleanup(func() {
		svc.close()
		database.Close()
	})
	return svc
}

// runCLI runs the app with args and returns what it wrote to stdout.
func runCLI(t *testing.T, svc *services, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	old := stdout
	stdout = &buf
	defer func() { stdout = old }()

	err := newCLIApp(svc).Run(append([]string{"overseer"}, args...))
	return buf.String(), err
}

func mustRun(t *testing.T, svc *services, args ...string) string {
	t.Helper()
	out, err := runCLI(t, svc, args...)
	if err != nil {
		t.Fatalf("overseer %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func decode[T any](t *testing.T, out string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("failed to parse output %q: %v", out, err)
	}
	return v
}

func createStream(t *testing.T, svc *services, goal string) string {
	t.Helper()
	out := decode[map[string]string](t, mustRun(t, svc, "stream", "create", goal))
	if out["stream_id"] == "" {
		t.Fatalf("stream create returned no id: %v", out)
	}
	return out["stream_id"]
}

func TestCLIStreamLifecycle(t *testing.T) {
	svc := setupTestServices(t, scriptedGateway(nil))

	id := createStream(t, svc, "Design a cup")
	other := createStream(t, svc, "Plan a garden")

	frame := decode[memory.Frame](t, mustRun(t, svc, "stream", "inject", id, "Make", "it", "stackable"))
	if frame.AgentName != memory.UserAgent || frame.Input != "Make it stackable" {
		t.Errorf("inject frame = %+v", frame)
	}

	list := decode[[]memory.StreamSummary](t, mustRun(t, svc, "stream", "list"))
	if len(list) != 2 || list[0].ID != id || list[1].ID != other {
		t.Fatalf("list = %+v, want [%s %s]", list, id, other)
	}

	stream := decode[memory.Stream](t, mustRun(t, svc, "stream", "show", id))
	if stream.Goal != "Design a cup" || len(stream.Frames) != 1 {
		t.Errorf("show = %+v", stream)
	}

	peek := decode[map[string]string](t, mustRun(t, svc, "stream", "peek", id))
	if peek["peek"] != "Stream Goal: Design a cup. Recent Activity: User did USER_INPUT" {
		t.Errorf("peek = %q", peek["peek"])
	}

	mustRun(t, svc, "stream", "archive", id)

	archived := decode[[]memory.StreamSummary](t, mustRun(t, svc, "stream", "list", "--status", "archived"))
	if len(archived) != 1 || archived[0].ID != id {
		t.Errorf("archived list = %+v", archived)
	}
	active := decode[[]memory.StreamSummary](t, mustRun(t, svc, "stream", "list", "-s", "active"))
	if len(active) != 1 || active[0].ID != other {
		t.Errorf("active list = %+v", active)
	}

	long := decode[map[string]string](t, mustRun(t, svc, "memory", "long", "cup"))
	want := fmt.Sprintf("[Archived Stream %s]: Goal - Design a cup", id)
	if long["context"] != want {
		t.Errorf("long = %q, want %q", long["context"], want)
	}
}

func TestCLIStreamErrors(t *testing.T) {
	svc := setupTestServices(t, scriptedGateway(nil))

	tests := []struct {
		name string
		args []string
		code string
	}{
		{"create without goal", []string{"stream", "create"}, "INVALID_REQUEST"},
		{"show unknown", []string{"stream", "show", "missing"}, "NOT_FOUND"},
		{"show without id", []string{"stream", "show"}, "INVALID_REQUEST"},
		{"archive unknown", []string{"stream", "archive", "missing"}, "NOT_FOUND"},
		{"inject unknown", []string{"stream", "inject", "missing", "hello"}, "NOT_FOUND"},
		{"invalid status", []string{"stream", "list", "--status", "paused"}, "INVALID_REQUEST"},
		{"long without query", []string{"memory", "long"}, "INVALID_REQUEST"},
		{"short with zero limit", []string{"memory", "short", "--limit", "0", "x"}, "INVALID_REQUEST"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCLI(t, svc, tt.args...)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), "["+tt.code+"]") {
				t.Errorf("error = %q, want code %s", err.Error(), tt.code)
			}
		})
	}
}

func TestCLIMemoryTiers(t *testing.T) {
	svc := setupTestServices(t, scriptedGateway(nil))
	id := createStream(t, svc, "Design a cup")
	for _, text := range []string{"one", "two", "three", "four"} {
		mustRun(t, svc, "stream", "inject", id, text)
	}

	short := decode[map[string]string](t, mustRun(t, svc, "memory", "short", "--limit", "2", id))
	lines := strings.Split(short["context"], "\n")
	if len(lines) != 2 {
		t.Fatalf("short lines = %d, want 2: %q", len(lines), short["context"])
	}
	if lines[1] != "[ShortTerm] User: External input -> Action: USER_INPUT -> Output: four" {
		t.Errorf("last short line = %q", lines[1])
	}

	medium := decode[map[string]string](t, mustRun(t, svc, "memory", "medium", id))
	if got := strings.Count(medium["context"], "\n"); got != 4 {
		t.Errorf("medium has %d step lines, want 4", got)
	}
	if !strings.HasPrefix(medium["context"], "[MediumTerm] Goal: Design a cup") {
		t.Errorf("medium = %q", medium["context"])
	}
}

func TestCLISimulate(t *testing.T) {
	var calls atomic.Int64
	svc := setupTestServices(t, scriptedGateway(&calls))

	ideas := []workspace.Idea{{ID: "a", Content: "Handle", Type: workspace.TypeConcept}}
	data, _ := json.Marshal(ideas)
	ideasPath := filepath.Join(t.TempDir(), "ideas.json")
	if err := os.WriteFile(ideasPath, data, 0600); err != nil {
		t.Fatal(err)
	}

	out := decode[simulationOutput](t, mustRun(t, svc, "simulate", "--goal", "Design a cup", "--ideas", ideasPath, "--archive"))
	if out.TurnCount != svc.dispatcher.MaxTurns() {
		t.Errorf("turn_count = %d, want %d", out.TurnCount, svc.dispatcher.MaxTurns())
	}
	if got := calls.Load(); got != int64(svc.dispatcher.MaxTurns()) {
		t.Errorf("gateway calls = %d, want %d", got, svc.dispatcher.MaxTurns())
	}
	if len(out.Workspace) != 1 || out.Workspace[0].ID != "a" {
		t.Errorf("workspace = %+v", out.Workspace)
	}

	stream, ok := svc.memory.Get(out.StreamID)
	if !ok {
		t.Fatalf("stream %s not found", out.StreamID)
	}
	if stream.Status != memory.StatusArchived {
		t.Errorf("status = %s, want archived", stream.Status)
	}
	if len(stream.Frames) != svc.dispatcher.MaxTurns() {
		t.Errorf("frames = %d, want %d", len(stream.Frames), svc.dispatcher.MaxTurns())
	}
}

func TestCLISimulate_Validation(t *testing.T) {
	svc := setupTestServices(t, scriptedGateway(nil))

	if _, err := runCLI(t, svc, "simulate"); err == nil || !strings.Contains(err.Error(), "[INVALID_REQUEST]") {
		t.Errorf("no goal: err = %v", err)
	}
	if _, err := runCLI(t, svc, "simulate", "--stream", "missing"); err == nil || !strings.Contains(err.Error(), "[NOT_FOUND]") {
		t.Errorf("unknown stream: err = %v", err)
	}

	id := createStream(t, svc, "Design a cup")
	mustRun(t, svc, "stream", "archive", id)
	if _, err := runCLI(t, svc, "simulate", "--stream", id); err == nil || !strings.Contains(err.Error(), "archived") {
		t.Errorf("archived stream: err = %v", err)
	}
}

func TestCLISimulate_GatewayFailure(t *testing.T) {
	failing := gateway.Func(func(context.Context, gateway.Request) (string, error) {
		return "", fmt.Errorf("quota exceeded")
	})
	svc := setupTestServices(t, failing)

	_, err := runCLI(t, svc, "simulate", "--goal", "Design a cup")
	if err == nil || !strings.Contains(err.Error(), "[GATEWAY]") {
		t.Fatalf("err = %v, want GATEWAY", err)
	}
}

func TestCLISuperviseOnce(t *testing.T) {
	svc := setupTestServices(t, scriptedGateway(nil))
	id := createStream(t, svc, "Design a cup")
	mustRun(t, svc, "stream", "inject", id, "Let's build a rocket instead")

	out := decode[struct {
		StreamID string               `json:"stream_id"`
		Decision *supervisor.Decision `json:"decision"`
	}](t, mustRun(t, svc, "supervise", "--once", "--goals", "Ship a reusable cup design"))

	if out.StreamID != id {
		t.Errorf("stream_id = %s, want newest active %s", out.StreamID, id)
	}
	if out.Decision == nil {
		t.Fatal("expected a decision")
	}
	if out.Decision.Type != supervisor.DecisionInhibit || out.Decision.DisplayMode != supervisor.DisplayToast {
		t.Errorf("decision = %+v", out.Decision)
	}
	if policies := svc.supervisor.Policies(); len(policies) != 1 || policies[0].Rule != "Stay on the cup." {
		t.Errorf("policies = %+v", policies)
	}
}

func TestCLISuperviseOnce_NoStream(t *testing.T) {
	svc := setupTestServices(t, scriptedGateway(nil))
	_, err := runCLI(t, svc, "supervise", "--once")
	if err == nil || !strings.Contains(err.Error(), "no active stream") {
		t.Errorf("err = %v", err)
	}
}

func TestCLIProfileCheck(t *testing.T) {
	var calls atomic.Int64
	svc := setupTestServices(t, scriptedGateway(&calls))

	type result struct {
		Complete bool                 `json:"complete"`
		Decision *supervisor.Decision `json:"decision"`
	}

	first := decode[result](t, mustRun(t, svc, "profile-check"))
	if first.Complete || first.Decision == nil {
		t.Fatalf("first check = %+v, want a nudge", first)
	}
	if first.Decision.Type != supervisor.DecisionRequestGuidance || first.Decision.DisplayMode != supervisor.DisplayToast {
		t.Errorf("decision = %+v", first.Decision)
	}

	second := decode[result](t, mustRun(t, svc, "profile-check"))
	if !second.Complete || second.Decision != nil {
		t.Errorf("second check = %+v, want no repeat", second)
	}
	if calls.Load() != 0 {
		t.Errorf("gateway called %d times", calls.Load())
	}
}

func TestProfileFromFile(t *testing.T) {
	svc := setupTestServices(t, scriptedGateway(nil))

	path := filepath.Join(t.TempDir(), "profile.yaml")
	body := "goals: Ship a reusable cup design\naspirations: Run a small design studio\nvalues: Craft\n"
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}

	out := decode[map[string]any](t, mustRun(t, svc, "profile-check", "--profile", path, "--values", "Honesty"))
	if out["complete"] != true {
		t.Errorf("complete = %v, want true", out["complete"])
	}

	if _, err := runCLI(t, svc, "profile-check", "--profile", filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing profile file")
	}
}

func TestLoadIdeas(t *testing.T) {
	ideas, err := loadIdeas("")
	if err != nil || ideas != nil {
		t.Errorf("empty path: ideas = %v, err = %v", ideas, err)
	}

	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := loadIdeas(path); err == nil {
		t.Error("expected error for malformed ideas")
	}
}

func TestOpenKV(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.Config
		wantErr bool
	}{
		{"default sqlite", config.Config{}, false},
		{"explicit sqlite", config.Config{Storage: config.StorageSQLite}, false},
		{"redis without url", config.Config{Storage: config.StorageRedis}, true},
		{"unknown", config.Config{Storage: "etcd"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := openKV(context.Background(), &tt.cfg, nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("openKV() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestHelpWithoutServices(t *testing.T) {
	if _, err := runCLI(t, nil, "--help"); err != nil {
		t.Errorf("help: %v", err)
	}
}

func TestCLIExportImport(t *testing.T) {
	svc := setupTestServices(t, scriptedGateway(nil))
	id := createStream(t, svc, "Design a cup")
	mustRun(t, svc, "stream", "inject", id, "Make it stackable")

	exported := decode[map[string]any](t, mustRun(t, svc, "stream", "export"))
	path, _ := exported["path"].(string)
	if exported["count"] != float64(1) || filepath.Dir(path) != svc.transfer.ExportsDir {
		t.Fatalf("export = %v", exported)
	}

	if _, err := runCLI(t, svc, "stream", "import", path); err == nil || !strings.Contains(err.Error(), "[INVALID_REQUEST]") {
		t.Errorf("import over existing stream: err = %v", err)
	}

	imported := decode[map[string]any](t, mustRun(t, svc, "stream", "import", "--mode", "replace", path))
	if imported["imported"] != float64(1) {
		t.Errorf("import = %v", imported)
	}
	if list := svc.memory.List(); len(list) != 1 || list[0].FrameCount != 1 {
		t.Errorf("streams after import = %+v", list)
	}

	if _, err := runCLI(t, svc, "stream", "export", "--path", filepath.Join(t.TempDir(), "out.jsonl")); err == nil {
		t.Error("expected error for export outside allowed directories")
	}
}
