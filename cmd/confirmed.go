package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kbsync/kbsync/internal/app"
)

var confirmedCmd = &cobra.Command{
	Use:   "confirmed",
	Short: "Manage human-confirmed corrections",
	Long: `Confirmed corrections are question/answer pairs verified by a human.
They override generated pairs during retrieval: when a confirmed pair
matches a question, generated material is not consulted at all.`,
}

var confirmedListCmd = &cobra.Command{
	Use:   "list",
	Short: "List confirmed corrections",
	Args:  cobra.NoArgs,
	RunE:  withApp(runConfirmedList),
}

var confirmedSaveCmd = &cobra.Command{
	Use:   "save <question> <answer>",
	Short: "Save or update a confirmed correction",
	Long: `Save stores a correction. Saving the same question again replaces the
answer and raises its confidence score.`,
	Args: cobra.ExactArgs(2),
	RunE: withApp(runConfirmedSave),
}

var confirmedDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a confirmed correction",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(runConfirmedDelete),
}

func init() {
	confirmedCmd.AddCommand(confirmedListCmd, confirmedSaveCmd, confirmedDeleteCmd)
	rootCmd.AddCommand(confirmedCmd)
}

func runConfirmedList(ctx context.Context, a *app.App, args []string) error {
	pairs, err := a.Store.ListConfirmed(ctx)
	if err != nil {
		return err
	}
	if len(pairs) == 0 {
		fmt.Println("No confirmed corrections.")
		return nil
	}

	for _, pair := range pairs {
		fmt.Printf("[%d] (confidence %d, updated %s)\n",
			pair.ID, pair.Confidence, pair.UpdatedAt.Format("2006-01-02 15:04"))
		fmt.Printf("  Q: %s\n", pair.Question)
		fmt.Printf("  A: %s\n", pair.Answer)
	}
	return nil
}

func runConfirmedSave(ctx context.Context, a *app.App, args []string) error {
	pair, err := a.Engine.SaveCorrection(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Printf("Saved correction %d (confidence %d)\n", pair.ID, pair.Confidence)
	return nil
}

func runConfirmedDelete(ctx context.Context, a *app.App, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid correction ID %q", args[0])
	}

	deleted, err := a.Engine.RemoveConfirmed(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("no confirmed correction with ID %d", id)
	}
	fmt.Printf("Deleted correction %d\n", id)
	return nil
}
