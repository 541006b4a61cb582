package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kbsync/kbsync/internal/app"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show knowledge base statistics",
	Args:  cobra.NoArgs,
	RunE:  withApp(runStatus),
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(ctx context.Context, a *app.App, args []string) error {
	sum, err := a.Store.Summary(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Tracked pages:        %d (%d removed)\n", sum.Pages, sum.RemovedPages)
	fmt.Printf("Generated Q&A pairs:  %d\n", sum.QAUnits)
	fmt.Printf("Confirmed corrections: %d\n", sum.ConfirmedPairs)

	generatedCount, err := a.Generated.Count(ctx)
	if err != nil {
		return err
	}
	confirmedCount, err := a.Confirmed.Count(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Vector index:          %d generated, %d confirmed\n",
		generatedCount, confirmedCount)

	if len(sum.Spaces) > 0 {
		fmt.Println()
		fmt.Println("Per space:")
		for _, sc := range sum.Spaces {
			fmt.Printf("  %-12s %4d pages, %4d pairs\n", sc.SpaceKey, sc.Pages, sc.QAUnits)
		}
	}
	return nil
}
