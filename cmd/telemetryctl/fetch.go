package main

import (
	"bytes"
	"context"
	"fmt"

	"github.com/kursadbilgin/telemetry-engine/internal/config"
	"github.com/kursadbilgin/telemetry-engine/internal/hub"
	"github.com/kursadbilgin/telemetry-engine/internal/telemetry"
	"github.com/spf13/cobra"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <notification-id>",
	Short: "Fetch and parse telemetry from the notification hub",
	Long:  "Reads HUB_CONNECTION_STRING and HUB_NAME from the environment, queries the hub for the notification's telemetry and prints the parsed record.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		withDiagnostics, _ := cmd.Flags().GetBool("diagnostics")

		logger, err := setupLogger()
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		cfg, err := config.LoadHub()
		if err != nil {
			return err
		}

		client, err := hub.NewClient(hub.Options{
			ConnectionString: cfg.ConnectionString,
			HubName:          cfg.HubName,
			APIVersion:       cfg.APIVersion,
			Timeout:          cfg.Timeout(),
		})
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		doc, err := client.GetNotificationTelemetry(ctx, args[0])
		if err != nil {
			return fmt.Errorf("fetch %s: %w", args[0], err)
		}

		details, err := telemetry.NewParser(logger).Parse(bytes.NewReader(doc))
		if err != nil {
			return err
		}

		return writeRecord(cmd.OutOrStdout(), details, withDiagnostics)
	},
}

func init() {
	rootCmd.AddCommand(fetchCmd)
}
