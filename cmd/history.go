package cmd

import (
	"github.com/spf13/cobra"

	"github.com/pintubhai440/fileshare/internal/ui"
)

var historyLimit int

// historyCmd lists recorded transfers
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent transfers",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openHistory()
		if err != nil {
			return err
		}
		console := ui.NewConsoleUIWithIO("", cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		if store == nil {
			console.ShowMessage("Transfer history is disabled.")
			return nil
		}
		defer store.Close()

		records, err := store.List(historyLimit)
		if err != nil {
			return err
		}
		console.History(records)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of transfers to show")
}
