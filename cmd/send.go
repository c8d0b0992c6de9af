package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pintubhai440/fileshare/internal/app"
	"github.com/pintubhai440/fileshare/internal/logging"
)

type SendFlags struct {
	Files []string
}

var sendFlags SendFlags

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send files to a peer (creates offer)",
	Long: `Send one or more files to a peer via WebRTC. This will:

1. Create a WebRTC peer connection and data channel
2. Publish an SDP offer and print the session code
3. Wait for the receiver to answer with that code
4. Send the files one after another once connected

Repeat --file to send several files in order.`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return validateSendFlags(&sendFlags)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		logging.Log.WithField("files", len(sendFlags.Files)).Info("Starting sender")
		return runSenderApp(&sendFlags)
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().StringSliceVarP(&sendFlags.Files, "file", "f", nil, "Path to a file to send (required, repeatable)")
	sendCmd.MarkFlagRequired("file")
}

// validateSendFlags validates the send command flags
func validateSendFlags(flags *SendFlags) error {
	if len(flags.Files) == 0 {
		return fmt.Errorf("at least one file path is required")
	}
	for _, f := range flags.Files {
		if f == "" {
			return fmt.Errorf("file path must not be empty")
		}
	}
	return nil
}

// runSenderApp creates and runs the sender application
func runSenderApp(flags *SendFlags) error {
	ctx, stop := createContext()
	defer stop()

	deps, cleanup, err := createDeps(ctx, "sender")
	if err != nil {
		return err
	}
	defer cleanup()

	_, err = app.NewSenderApp(deps).Run(ctx, &app.SenderOptions{Paths: flags.Files})
	return err
}
