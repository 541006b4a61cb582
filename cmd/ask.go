package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kbsync/kbsync/internal/answer"
	"github.com/kbsync/kbsync/internal/app"
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the knowledge base a question",
	Long: `Ask retrieves the most relevant Q&A material for the question and
generates an answer from it. Human-confirmed corrections always take
precedence over generated pairs.`,
	Args: cobra.MinimumNArgs(1),
	RunE: withApp(runAsk),
}

func init() {
	rootCmd.AddCommand(askCmd)
}

func runAsk(ctx context.Context, a *app.App, args []string) error {
	question := strings.Join(args, " ")

	resp, err := a.Answerer.Answer(ctx, question, "")
	if err != nil {
		return err
	}

	fmt.Println(resp.Text)

	if len(resp.Citations) > 0 {
		fmt.Println()
		fmt.Println("Sources:")
		for _, c := range resp.Citations {
			switch {
			case c.Confirmed:
				fmt.Printf("  - confirmed answer: %s\n", c.Title)
			case c.URL != "":
				fmt.Printf("  - %s (%s) %s\n", c.Title, c.Space, c.URL)
			default:
				fmt.Printf("  - %s (%s)\n", c.Title, c.Space)
			}
		}
	}

	if resp.Source == answer.SourceConfirmed {
		fmt.Println()
		fmt.Println("This answer is based on human-confirmed corrections.")
	}
	return nil
}
