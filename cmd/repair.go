package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Repair the stored ticket collection",
	Long: `Repair removes duplicate ticket ids from the stored collection,
keeping the first occurrence of each id. Safe to run repeatedly.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return repairRun()
	},
}

func init() {
	rootCmd.AddCommand(repairCmd)
}

func repairRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	before, err := s.List(ctx)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would repair collection (%d tickets)", len(before))
		return nil
	}

	cleaned, err := s.Deduplicate(ctx)
	if err != nil {
		return err
	}

	removed := len(before) - len(cleaned)
	if removed > 0 {
		ui.Success("Removed %d duplicate ticket(s), %d remain", removed, len(cleaned))
	} else {
		ui.Info("No duplicates found (%d tickets)", len(cleaned))
	}
	return nil
}
