package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/hpungsan/overseer/internal/dispatch"
	"github.com/hpungsan/overseer/internal/errors"
	"github.com/hpungsan/overseer/internal/mcp"
	"github.com/hpungsan/overseer/internal/memory"
	"github.com/hpungsan/overseer/internal/supervisor"
	"github.com/hpungsan/overseer/internal/transfer"
	"github.com/hpungsan/overseer/internal/web"
	"github.com/hpungsan/overseer/internal/workspace"
)

// stdout receives command output. Tests swap it for a buffer.
var stdout io.Writer = os.Stdout

// newCLIApp creates the CLI application with all commands.
func newCLIApp(svc *services) *cli.App {
	app := &cli.App{
		Name:    "overseer",
		Usage:   "Multi-agent simulation memory and supervisor",
		Version: Version,
		Commands: []*cli.Command{
			streamCmd(svc),
			memoryCmd(svc),
			simulateCmd(svc),
			superviseCmd(svc),
			profileCheckCmd(svc),
			mcpCmd(svc),
			serveCmd(svc),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// streamCmd groups the stream lifecycle subcommands.
func streamCmd(svc *services) *cli.Command {
	return &cli.Command{
		Name:  "stream",
		Usage: "Create, inspect and archive memory streams",
		Subcommands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "Create a stream for a goal",
				ArgsUsage: "<goal>",
				Action: func(c *cli.Context) error {
					goal := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
					if goal == "" {
						return outputError(errors.NewInvalidRequest("goal is required"))
					}
					id := svc.memory.CreateStream(c.Context, goal)
					return outputJSON(map[string]string{"stream_id": id, "goal": goal})
				},
			},
			{
				Name:  "list",
				Usage: "List streams in creation order",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "status", Aliases: []string{"s"}, Usage: "Filter by status: active|archived"},
				},
				Action: func(c *cli.Context) error {
					status := memory.Status(c.String("status"))
					if status != "" && status != memory.StatusActive && status != memory.StatusArchived {
						return outputError(errors.NewInvalidRequest(fmt.Sprintf("invalid status %q", status)))
					}
					streams := svc.memory.List()
					filtered := make([]memory.StreamSummary, 0, len(streams))
					for _, s := range streams {
						if status == "" || s.Status == status {
							filtered = append(filtered, s)
						}
					}
					return outputJSON(filtered)
				},
			},
			{
				Name:      "show",
				Usage:     "Show a stream with all its frames",
				ArgsUsage: "<stream-id>",
				Action: func(c *cli.Context) error {
					id, err := requireArg(c, "stream id")
					if err != nil {
						return outputError(err)
					}
					stream, ok := svc.memory.Get(id)
					if !ok {
						return outputError(errors.NewNotFound(id))
					}
					return outputJSON(stream)
				},
			},
			{
				Name:      "inject",
				Usage:     "Append user input to a stream (text from args or stdin)",
				ArgsUsage: "<stream-id> [text]",
				Action: func(c *cli.Context) error {
					id, err := requireArg(c, "stream id")
					if err != nil {
						return outputError(err)
					}
					text := strings.TrimSpace(strings.Join(c.Args().Tail(), " "))
					if text == "" && stdinHasData() {
						if text, err = readStdin(); err != nil {
							return outputError(errors.NewInternal(err))
						}
					}
					if text == "" {
						return outputError(errors.NewInvalidRequest("text is required"))
					}
					frame, ok := svc.memory.Inject(c.Context, id, text)
					if !ok {
						return outputError(errors.NewNotFound(id))
					}
					return outputJSON(frame)
				},
			},
			{
				Name:      "archive",
				Usage:     "Archive a stream",
				ArgsUsage: "<stream-id>",
				Action: func(c *cli.Context) error {
					id, err := requireArg(c, "stream id")
					if err != nil {
						return outputError(err)
					}
					if err := svc.memory.Archive(c.Context, id); err != nil {
						return outputError(err)
					}
					stream, _ := svc.memory.Get(id)
					return outputJSON(map[string]any{"stream_id": id, "status": stream.Status, "archived_at": stream.ArchivedAt})
				},
			},
			{
				Name:  "export",
				Usage: "Export streams to a JSONL file",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "path", Usage: "Output path (default: ~/.overseer/exports/<status|all>-<timestamp>.jsonl)"},
					&cli.StringFlag{Name: "status", Aliases: []string{"s"}, Usage: "Export only active|archived streams"},
				},
				Action: func(c *cli.Context) error {
					output, err := transfer.Export(c.Context, svc.memory, svc.transfer, transfer.ExportInput{
						Path:   c.String("path"),
						Status: memory.Status(c.String("status")),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "import",
				Usage:     "Restore streams from a JSONL export",
				ArgsUsage: "<path>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Value: string(memory.RestoreError), Usage: "Collision mode: error|skip|replace"},
				},
				Action: func(c *cli.Context) error {
					path, err := requireArg(c, "path")
					if err != nil {
						return outputError(err)
					}
					output, err := transfer.Import(c.Context, svc.memory, svc.transfer, transfer.ImportInput{
						Path: path,
						Mode: memory.RestoreMode(c.String("mode")),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "peek",
				Usage:     "Summarize another stream's goal and recent activity",
				ArgsUsage: "<stream-id>",
				Action: func(c *cli.Context) error {
					id, err := requireArg(c, "stream id")
					if err != nil {
						return outputError(err)
					}
					return outputJSON(map[string]string{"stream_id": id, "peek": svc.memory.SharePeek(id)})
				},
			},
		},
	}
}

// memoryCmd groups the retrieval tiers.
func memoryCmd(svc *services) *cli.Command {
	return &cli.Command{
		Name:  "memory",
		Usage: "Render memory context for prompts",
		Subcommands: []*cli.Command{
			{
				Name:      "short",
				Usage:     "Most recent frames of a stream",
				ArgsUsage: "<stream-id>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: memory.DefaultShortTermLimit, Usage: "Number of frames"},
				},
				Action: func(c *cli.Context) error {
					id, err := requireArg(c, "stream id")
					if err != nil {
						return outputError(err)
					}
					if c.Int("limit") < 1 {
						return outputError(errors.NewInvalidRequest("limit must be at least 1"))
					}
					return outputJSON(map[string]string{"stream_id": id, "context": svc.memory.ShortTerm(id, c.Int("limit"))})
				},
			},
			{
				Name:      "medium",
				Usage:     "Goal and full step history of a stream",
				ArgsUsage: "<stream-id>",
				Action: func(c *cli.Context) error {
					id, err := requireArg(c, "stream id")
					if err != nil {
						return outputError(err)
					}
					return outputJSON(map[string]string{"stream_id": id, "context": svc.memory.MediumTerm(id)})
				},
			},
			{
				Name:      "long",
				Usage:     "Archived streams whose goal matches a query",
				ArgsUsage: "<query>",
				Action: func(c *cli.Context) error {
					query := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
					if query == "" {
						return outputError(errors.NewInvalidRequest("query is required"))
					}
					return outputJSON(map[string]string{"query": query, "context": svc.memory.LongTerm(c.Context, query)})
				},
			},
		},
	}
}

// simulationOutput is the result of the simulate command.
type simulationOutput struct {
	StreamID  string               `json:"stream_id"`
	Goal      string               `json:"goal"`
	TurnCount int                  `json:"turn_count"`
	Turns     []dispatch.AgentTurn `json:"turns"`
	Workspace []workspace.Idea     `json:"workspace"`
}

// simulateCmd runs a full simulation until the turn bound, a failure or SIGINT.
func simulateCmd(svc *services) *cli.Command {
	return &cli.Command{
		Name:  "simulate",
		Usage: "Run agent turns against a goal until the turn bound",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "goal", Aliases: []string{"g"}, Usage: "Goal for a new stream"},
			&cli.StringFlag{Name: "stream", Usage: "Continue on an existing active stream"},
			&cli.StringFlag{Name: "ideas", Usage: "JSON file with the initial workspace ideas"},
			&cli.BoolFlag{Name: "archive", Usage: "Archive the stream when the simulation ends"},
		},
		Action: func(c *cli.Context) error {
			ideas, err := loadIdeas(c.String("ideas"))
			if err != nil {
				return outputError(err)
			}

			streamID, goal := c.String("stream"), strings.TrimSpace(c.String("goal"))
			switch {
			case streamID != "":
				stream, ok := svc.memory.Get(streamID)
				if !ok {
					return outputError(errors.NewNotFound(streamID))
				}
				if stream.Status != memory.StatusActive {
					return outputError(errors.NewInvalidRequest("stream is archived"))
				}
				goal = stream.Goal
			case goal != "":
				streamID = svc.memory.CreateStream(c.Context, goal)
			default:
				return outputError(errors.NewInvalidRequest("--goal or --stream is required"))
			}

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sim := svc.dispatcher.NewSimulation(streamID, goal, ideas, svc.prompts)
			defer sim.Cancel()
			runErr := sim.Run(ctx, nil)
			if runErr != nil && ctx.Err() == nil {
				return outputError(runErr)
			}

			if c.Bool("archive") {
				if err := svc.memory.Archive(context.WithoutCancel(ctx), streamID); err != nil {
					return outputError(err)
				}
			}

			return outputJSON(simulationOutput{
				StreamID:  streamID,
				Goal:      goal,
				TurnCount: sim.TurnCount(),
				Turns:     sim.Turns(),
				Workspace: sim.Workspace(),
			})
		},
	}
}

// superviseCmd runs the supervisor loop, or a single tick with --once.
func superviseCmd(svc *services) *cli.Command {
	return &cli.Command{
		Name:  "supervise",
		Usage: "Evaluate agent activity against the user profile",
		Flags: append(profileFlags(),
			&cli.StringFlag{Name: "stream", Usage: "Stream to evaluate (defaults to the newest active stream)"},
			&cli.BoolFlag{Name: "once", Usage: "Run a single tick and exit"},
		),
		Action: func(c *cli.Context) error {
			profile, err := profileFromFlags(c)
			if err != nil {
				return outputError(err)
			}
			svc.supervisor.SetProfile(profile)

			provider := func() string {
				if id := c.String("stream"); id != "" {
					return id
				}
				return newestActiveStream(svc.memory)
			}

			if c.Bool("once") {
				streamID := provider()
				if streamID == "" {
					return outputError(errors.NewInvalidRequest("no active stream to evaluate"))
				}
				decision, err := svc.supervisor.Tick(c.Context, streamID)
				if err != nil {
					return outputError(err)
				}
				return outputJSON(map[string]any{"stream_id": streamID, "decision": decision})
			}

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			seen := map[string]bool{}
			unsubscribe := svc.supervisor.Subscribe(func(decisions []supervisor.Decision) {
				// decisions arrive most recent first
				for i := len(decisions) - 1; i >= 0; i-- {
					if seen[decisions[i].ID] {
						continue
					}
					seen[decisions[i].ID] = true
					_ = outputJSON(decisions[i])
				}
			})
			defer unsubscribe()

			svc.supervisor.CheckProfileCompleteness(profile)

			if err := svc.supervisor.Start(ctx, provider); err != nil {
				return outputError(err)
			}
			<-ctx.Done()
			svc.supervisor.Stop()
			return nil
		},
	}
}

// profileCheckCmd runs the one-time profile completeness check.
func profileCheckCmd(svc *services) *cli.Command {
	return &cli.Command{
		Name:  "profile-check",
		Usage: "Request guidance when the profile is too thin to evaluate against",
		Flags: profileFlags(),
		Action: func(c *cli.Context) error {
			profile, err := profileFromFlags(c)
			if err != nil {
				return outputError(err)
			}
			decision, nudged := svc.supervisor.CheckProfileCompleteness(profile)
			return outputJSON(map[string]any{"complete": !nudged, "decision": decision})
		},
	}
}

// mcpCmd serves the MCP tools over stdio.
func mcpCmd(svc *services) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve MCP tools over stdio",
		Action: func(c *cli.Context) error {
			return mcp.Run(mcpServices(svc), svc.cfg, Version)
		},
	}
}

// serveCmd runs the HTTP API with metrics.
func serveCmd(svc *services) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the JSON API and Prometheus metrics",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Address to bind"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Value: 8080, Usage: "Port to listen on"},
		},
		Action: func(c *cli.Context) error {
			srv := web.NewServer(web.Services{
				Memory:     svc.memory,
				Supervisor: svc.supervisor,
				Registry:   svc.metrics.Registry(),
			}, Version, c.String("bind"), c.Int("port"))
			return web.Run(srv, svc.logger)
		},
	}
}

func mcpServices(svc *services) mcp.Services {
	return mcp.Services{
		Memory:     svc.memory,
		Dispatcher: svc.dispatcher,
		Supervisor: svc.supervisor,
		Prompts:    svc.prompts,
		Transfer:   svc.transfer,
	}
}

// Helper functions

func profileFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "profile", Usage: "YAML file with goals, aspirations and values"},
		&cli.StringFlag{Name: "goals", Usage: "User goals (overrides the profile file)"},
		&cli.StringFlag{Name: "aspirations", Usage: "User aspirations (overrides the profile file)"},
		&cli.StringFlag{Name: "values", Usage: "User values (overrides the profile file)"},
	}
}

// profileFromFlags reads --profile, then overlays the individual flags.
func profileFromFlags(c *cli.Context) (supervisor.Profile, error) {
	var p supervisor.Profile
	if path := c.String("profile"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return p, errors.NewInvalidRequest(fmt.Sprintf("read profile: %v", err))
		}
		if err := yaml.Unmarshal(data, &p); err != nil {
			return p, errors.NewInvalidRequest(fmt.Sprintf("parse profile: %v", err))
		}
	}
	if c.IsSet("goals") {
		p.Goals = c.String("goals")
	}
	if c.IsSet("aspirations") {
		p.Aspirations = c.String("aspirations")
	}
	if c.IsSet("values") {
		p.Values = c.String("values")
	}
	return p, nil
}

// loadIdeas reads the initial workspace from a JSON array file. An empty path yields no ideas.
func loadIdeas(path string) ([]workspace.Idea, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("read ideas: %v", err))
	}
	var ideas []workspace.Idea
	if err := json.Unmarshal(data, &ideas); err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("parse ideas: %v", err))
	}
	return ideas, nil
}

// newestActiveStream returns the most recently created active stream, or "".
func newestActiveStream(store *memory.Store) string {
	streams := store.List()
	for i := len(streams) - 1; i >= 0; i-- {
		if streams[i].Status == memory.StatusActive {
			return streams[i].ID
		}
	}
	return ""
}

func requireArg(c *cli.Context, what string) (string, error) {
	if c.NArg() == 0 || strings.TrimSpace(c.Args().First()) == "" {
		return "", errors.NewInvalidRequest(what + " is required")
	}
	return c.Args().First(), nil
}

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	var oe *errors.OverseerError
	if errors.As(err, &oe) {
		return cli.Exit(fmt.Sprintf("[%s] %s", oe.Code, oe.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads all content from stdin.
func readStdin() (string, error) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
