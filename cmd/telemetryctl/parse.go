package main

import (
	"fmt"
	"io"
	"os"

	"github.com/kursadbilgin/telemetry-engine/internal/telemetry"
	"github.com/spf13/cobra"
)

var parseCmd = &cobra.Command{
	Use:   "parse [file|-]",
	Short: "Parse a telemetry document",
	Long:  "Parses a NotificationDetails document read from a file, or from stdin when the argument is '-' or omitted.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		withDiagnostics, _ := cmd.Flags().GetBool("diagnostics")

		logger, err := setupLogger()
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		in, closeInput, err := openInput(cmd, args)
		if err != nil {
			return err
		}
		defer closeInput()

		details, err := telemetry.NewParser(logger).Parse(in)
		if err != nil {
			return err
		}

		return writeRecord(cmd.OutOrStdout(), details, withDiagnostics)
	},
}

func init() {
	rootCmd.AddCommand(parseCmd)
}

func openInput(cmd *cobra.Command, args []string) (io.Reader, func(), error) {
	if len(args) == 0 || args[0] == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}

	f, err := os.Open(args[0])
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open telemetry document: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}
