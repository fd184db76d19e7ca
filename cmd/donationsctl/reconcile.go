package main

import (
	"fmt"
	"log/slog"

	"github.com/noor/donation-service/internal/app"
	"github.com/spf13/cobra"
)

func reconcileCmd(logger *slog.Logger) *cobra.Command {
	var repair bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare campaign aggregates with the payment ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, closeDB, err := openRepository(cmd.Context())
			if err != nil {
				return err
			}
			defer closeDB()

			report, err := app.NewReconciler(repo, logger).Run(cmd.Context(), repair)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, d := range report.Drifted {
				fmt.Fprintf(out, "%-24s stored=%s/%d derived=%s/%d\n", d.Slug, d.StoredAmount.StringFixed(2), d.StoredDonors, d.DerivedAmount.StringFixed(2), d.DerivedDonors)
			}
			fmt.Fprintf(out, "checked=%d drifted=%d repaired=%d\n", report.Checked, len(report.Drifted), report.Repaired)
			if len(report.Drifted) > 0 && !repair {
				return fmt.Errorf("%d campaigns drifted; rerun with --repair to fix", len(report.Drifted))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&repair, "repair", false, "overwrite drifted aggregates with the derived totals")
	return cmd
}
