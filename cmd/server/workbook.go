package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/trip-approval/internal/container"
)

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import [file.xlsx]",
		Short: "Load a legacy workbook into the database",
		Long: `Load the Logs, Expenses and Settings sheets of a legacy workbook.

Reference data is replaced. Requests and expenses whose id already exists are
skipped, so running the same import twice is safe. Requests that received new
expenses get their approved-expense totals recomputed afterwards.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, func(c *container.Container) error {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("failed to open workbook: %w", err)
				}
				defer f.Close()

				result, err := c.Workbook().Importer.Import(cmd.Context(), f)
				if err != nil {
					return err
				}
				for _, reqID := range result.ExpenseRequests {
					if _, err := c.Services().Expenses.RecomputeApproved(cmd.Context(), reqID); err != nil {
						return fmt.Errorf("failed to recompute request %s: %w", reqID, err)
					}
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			})
		},
	}
}

func exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export [file.xlsx]",
		Short: "Write all requests, expenses and reference data to a workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, func(c *container.Container) error {
				f, err := os.Create(args[0])
				if err != nil {
					return fmt.Errorf("failed to create workbook: %w", err)
				}
				if err := c.Workbook().Exporter.Export(cmd.Context(), f); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return fmt.Errorf("failed to write workbook: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "exported to %s\n", args[0])
				return nil
			})
		},
	}
}

// withContainer starts the full container for a one-shot command
func withContainer(cmd *cobra.Command, fn func(c *container.Container) error) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync()

	c, err := container.NewContainer(cfg, logger)
	if err != nil {
		return err
	}
	if err := c.Start(cmd.Context()); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Error("Shutdown finished with errors", zap.Error(err))
		}
	}()

	return fn(c)
}
