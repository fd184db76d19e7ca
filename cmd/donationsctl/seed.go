package main

import (
	"fmt"
	"os"

	"github.com/noor/donation-service/internal/seed"
	"github.com/spf13/cobra"
)

func seedCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "seed [file]",
		Short: "Create or update campaigns from a YAML file",
		Long: `Create or update campaigns from a YAML file.

Campaigns are matched by slug. Descriptive fields are overwritten, collected
amounts and donor counts are never touched.

Examples:
  donationsctl seed campaigns.yaml
  donationsctl seed campaigns.yaml --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			campaigns, err := seed.Load(f)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if dryRun {
				for _, c := range campaigns {
					fmt.Fprintf(out, "%-24s %-12s goal=%s %s active=%t\n", c.Slug, c.Category, c.GoalAmount.StringFixed(2), c.Currency, c.Active)
				}
				fmt.Fprintf(out, "dry run: %d campaigns validated, nothing written\n", len(campaigns))
				return nil
			}

			repo, closeDB, err := openRepository(cmd.Context())
			if err != nil {
				return err
			}
			defer closeDB()

			stored, err := seed.Apply(cmd.Context(), repo, campaigns)
			for _, c := range stored {
				fmt.Fprintf(out, "%-24s %s collected=%s donors=%d\n", c.Slug, c.ID, c.CollectedAmount.StringFixed(2), c.DonorCount)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "seeded %d campaigns\n", len(stored))
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate the file without writing")
	return cmd
}
