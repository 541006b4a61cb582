package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kbsync/kbsync/internal/app"
)

var syncForce bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize wiki pages into the knowledge base",
	Long: `Sync walks every configured wiki space, detects pages whose version or
content changed since the last run, regenerates their Q&A pairs, and
updates the vector index. Unchanged pages are skipped.`,
	Args: cobra.NoArgs,
	RunE: withApp(runSync),
}

func init() {
	syncCmd.Flags().BoolVar(&syncForce, "force", false,
		"reprocess every page, ignoring change detection")
	rootCmd.AddCommand(syncCmd)
}

func runSync(ctx context.Context, a *app.App, args []string) error {
	result, err := a.Engine.SyncAll(ctx, syncForce)
	if err != nil {
		return err
	}

	fmt.Printf("Pages seen:    %d\n", result.PagesSeen)
	fmt.Printf("Pages synced:  %d\n", result.PagesSynced)
	fmt.Printf("Pages skipped: %d\n", result.PagesSkipped)
	fmt.Printf("Pages failed:  %d\n", result.PagesFailed)
	if result.SpacesFailed > 0 {
		fmt.Printf("Spaces failed: %d\n", result.SpacesFailed)
	}
	fmt.Printf("Duration:      %s\n", result.Duration.Round(time.Millisecond))

	if result.PagesFailed > 0 || result.SpacesFailed > 0 {
		return fmt.Errorf("%d page(s) and %d space(s) failed to sync",
			result.PagesFailed, result.SpacesFailed)
	}
	return nil
}
