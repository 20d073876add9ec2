package main

import (
	"encoding/json"
	"io"

	"github.com/kursadbilgin/telemetry-engine/internal/observability"
	"github.com/kursadbilgin/telemetry-engine/internal/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:           "telemetryctl",
	Short:         "Inspect notification hub telemetry",
	Long:          "telemetryctl parses NotificationDetails documents from a file, stdin or a live notification hub and prints the record as JSON.",
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level for field diagnostics (debug|info|warn|error)")
	rootCmd.PersistentFlags().Bool("diagnostics", false, "include field conversion diagnostics in the output")
}

func setupLogger() (*zap.Logger, error) {
	return observability.NewLogger(logLevel)
}

type recordOutput struct {
	Record      *telemetry.Details `json:"record"`
	Diagnostics []string           `json:"diagnostics"`
}

// writeRecord prints the record, wrapped together with its diagnostics when
// withDiagnostics is set.
func writeRecord(w io.Writer, details *telemetry.Details, withDiagnostics bool) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if !withDiagnostics {
		return enc.Encode(details)
	}

	out := recordOutput{Record: details, Diagnostics: []string{}}
	for _, d := range details.Diagnostics() {
		out.Diagnostics = append(out.Diagnostics, d.String())
	}
	return enc.Encode(out)
}
