package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/pflag"

	"github.com/basket/clickgram/internal/config"
	"github.com/basket/clickgram/internal/doctor"
)

func runDoctorCommand(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var (
		g          globalFlags
		jsonOutput bool
	)
	flags := pflag.NewFlagSet("doctor", pflag.ContinueOnError)
	g.register(flags)
	flags.BoolVar(&jsonOutput, "json", false, "print the report as JSON")
	if code, done := parseFlags(flags, args, stdout, stderr); done {
		return code
	}

	// A broken config is itself a finding; keep going.
	cfg, err := config.Load(g.configPath)
	diag := doctor.Run(ctx, &cfg, err, Version)

	if jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(diag); err != nil {
			fmt.Fprintf(stderr, "encode report: %v\n", err)
			return 1
		}
	} else {
		printDiagnosis(stdout, diag)
	}
	if diag.Failed() {
		return 1
	}
	return 0
}

func printDiagnosis(w io.Writer, diag doctor.Diagnosis) {
	fmt.Fprintf(w, "clickgram doctor %s (%s)\n", diag.System.Version, diag.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(w, "System: %s/%s (%s)\n", diag.System.OS, diag.System.Arch, diag.System.Go)
	fmt.Fprintln(w, "---")
	for _, res := range diag.Results {
		fmt.Fprintf(w, "[%s] %-12s %s\n", res.Status, res.Name, res.Message)
		if res.Detail != "" {
			fmt.Fprintf(w, "       %s\n", res.Detail)
		}
	}
}
