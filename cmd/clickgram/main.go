package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/basket/clickgram/internal/config"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.3-dev"

func printUsage(w io.Writer, flags *pflag.FlagSet) {
	fmt.Fprintf(w, `Usage of %[1]s:

  %[1]s [serve] [flags]                Run the webhook relay (default)
  %[1]s webhook telegram set [--url U] [--drop-pending]
  %[1]s webhook telegram info
  %[1]s webhook telegram delete [--drop-pending]
  %[1]s webhook clickup set --endpoint U
  %[1]s webhook clickup list
  %[1]s webhook clickup delete <id>
  %[1]s doctor [--json]               Run diagnostic checks
  %[1]s version

FLAGS:
`, "clickgram")
	if flags != nil {
		fmt.Fprint(w, flags.FlagUsages())
	}
	fmt.Fprint(w, `
ENVIRONMENT VARIABLES:
  CLICKGRAM_PORT          Overrides the configured port
  CLICKGRAM_LOG_LEVEL     Overrides the configured log level
`)
}

// globalFlags are accepted by every subcommand.
type globalFlags struct {
	configPath  string
	quiet       bool
	skipSecrets bool
}

func (g *globalFlags) register(flags *pflag.FlagSet) {
	flags.StringVarP(&g.configPath, "config", "c", config.DefaultPath, "config file (.json, .jsonc, .yaml)")
	flags.BoolVarP(&g.quiet, "quiet", "q", false, "log to files only")
	flags.BoolVar(&g.skipSecrets, "skip-secrets", false, "do not wait for the secrets file")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	command := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command, args = strings.ToLower(strings.TrimSpace(args[0])), args[1:]
	}
	switch command {
	case "serve":
		return runServe(ctx, args, stdout, stderr)
	case "webhook":
		return runWebhookCommand(ctx, args, stdout, stderr)
	case "doctor":
		return runDoctorCommand(ctx, args, stdout, stderr)
	case "version":
		fmt.Fprintln(stdout, "clickgram", Version)
		return 0
	case "help":
		printUsage(stdout, nil)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		printUsage(stderr, nil)
		return 2
	}
}

// parseFlags parses args into flags. It returns done when the caller should
// exit with code right away.
func parseFlags(flags *pflag.FlagSet, args []string, stdout, stderr io.Writer) (code int, done bool) {
	flags.SetOutput(io.Discard)
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printUsage(stdout, flags)
			return 0, true
		}
		fmt.Fprintln(stderr, err)
		printUsage(stderr, flags)
		return 2, true
	}
	return 0, false
}

// fatalStartup logs a structured startup failure. Before the logger exists
// the record is written to stderr by hand in the same shape.
func fatalStartup(logger *slog.Logger, stderr io.Writer, reasonCode string, err error) int {
	message := ""
	if err != nil {
		message = err.Error()
	}
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(
			stderr,
			`{"timestamp":"%s","level":"ERROR","component":"runtime","trace_id":"-","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano),
			reasonCode,
			message,
		)
	}
	return 1
}
