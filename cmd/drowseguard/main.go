// Command drowseguard runs the drowsiness monitoring server and its
// operator tools.
//
//	drowseguard serve    -config drowseguard.yaml
//	drowseguard validate -config drowseguard.yaml
//	drowseguard replay   -in frames.jsonl [-grpc host:50051]
//	drowseguard stats    -addr http://localhost:8080
//	drowseguard sessions -config drowseguard.yaml [-stream cab-1]
//	drowseguard hashkey  <key>
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

const usage = `usage: drowseguard <command> [flags]

commands:
  serve      run the HTTP, WebSocket and gRPC server
  validate   check a config file and its alert rules
  replay     run a JSONL frame file through an engine and print transitions
  stats      print a summary of a running server's metrics
  sessions   list recorded sessions from the history store
  hashkey    print a bcrypt hash of an API key for key_hash_env
`

type command func(ctx context.Context, args []string, stdout io.Writer) error

var commands = map[string]command{
	"serve":    runServe,
	"validate": runValidate,
	"replay":   runReplay,
	"stats":    runStats,
	"sessions": runSessions,
	"hashkey":  runHashKey,
}

func main() {
	if err := loadDotEnv(".env"); err != nil {
		fmt.Fprintln(os.Stderr, "drowseguard:", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "drowseguard:", err)
		os.Exit(1)
	}
}

// run dispatches to the named subcommand.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stdout, usage)
		return errors.New("missing command")
	}
	if args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		fmt.Fprint(stdout, usage)
		return nil
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprint(stdout, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
	return cmd(ctx, args[1:], stdout)
}

// loadDotEnv exports variables from path when it exists. Variables already
// set in the environment win.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// newLogger builds the process logger. level is shared so config reloads can
// change verbosity.
func newLogger(w io.Writer, format string, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
