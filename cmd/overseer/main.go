package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hpungsan/overseer/internal/config"
	"github.com/hpungsan/overseer/internal/logging"
	"github.com/hpungsan/overseer/internal/mcp"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"stream": true, "memory": true, "simulate": true, "supervise": true,
	"profile-check": true, "mcp": true, "serve": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v"
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
    ___  _   _____ ___  ___ ___ ___ ___
   / _ \| | / / __| _ \/ __| __| __| _ \
  | (_) | |/ /| _||   /\__ \ _|| _||   /
   \___/|___/ |___|_|_\|___/___|___|_|_\

  Multi-agent simulation memory and supervisor

  Usage: overseer <command> [options]
         overseer --help

  MCP server mode requires piped input.`)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before any storage is opened
	if isHelpOrVersion() {
		if err := newCLIApp(nil).Run(os.Args); err != nil {
			fatal("%v", err)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if !isCLIMode() && len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'overseer --help' for usage.\n")
		os.Exit(1)
	}

	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	logger, err := logging.New(logging.Options{Debug: os.Getenv("OVERSEER_DEBUG") != ""})
	if err != nil {
		fatal("failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fatal("could not determine home directory: %v", err)
	}
	baseDir := filepath.Join(homeDir, ".overseer")

	cwd, _ := os.Getwd()
	cfg, err := config.LoadWithRepo(baseDir, cwd)
	if err != nil {
		fatal("failed to load config: %v", err)
	}

	database, err := openDatabase(baseDir, cfg)
	if err != nil {
		fatal("failed to initialize database: %v", err)
	}
	defer database.Close()

	ctx := context.Background()
	gw, err := newGateway(ctx, cfg)
	if err != nil {
		fatal("failed to initialize gateway: %v", err)
	}

	svc, err := newServices(ctx, cfg, baseDir, database, gw, logger)
	if err != nil {
		fatal("failed to initialize services: %v", err)
	}
	defer svc.close()

	if isCLIMode() {
		if err := newCLIApp(svc).Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			svc.close()
			os.Exit(1)
		}
		return
	}

	// MCP server mode (default)
	logger.Debug("starting MCP server", zap.String("version", Version))
	if err := mcp.Run(mcpServices(svc), cfg, Version); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		svc.close()
		os.Exit(1)
	}
}
