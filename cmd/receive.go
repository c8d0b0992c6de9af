package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pintubhai440/fileshare/internal/app"
	"github.com/pintubhai440/fileshare/internal/logging"
	"github.com/pintubhai440/fileshare/pkg/utils"
)

type ReceiveFlags struct {
	DstDir string
	Code   string
	Memory bool
}

var receiveFlags ReceiveFlags

// receiveCmd represents the receive command
var receiveCmd = &cobra.Command{
	Use:   "receive",
	Short: "Receive files from a peer (responds to offer)",
	Long: `Receive files from a peer via WebRTC. This will:

1. Ask for the code printed by the sender (or take it from --code)
2. Fetch the sender's SDP offer and publish an answer
3. Save every announced file into the destination directory

Files stream straight to disk. With --memory each file is held in memory and
written out once it is complete.`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return validateReceiveFlags(&receiveFlags)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		logging.Log.WithField("dst", receiveFlags.DstDir).Info("Starting receiver")
		return runReceiverApp(&receiveFlags)
	},
}

func init() {
	rootCmd.AddCommand(receiveCmd)

	receiveCmd.Flags().StringVarP(&receiveFlags.DstDir, "dst", "d", "", "Directory to save received files in (required)")
	receiveCmd.Flags().StringVarP(&receiveFlags.Code, "code", "c", "", "Session code from the sender")
	receiveCmd.Flags().BoolVar(&receiveFlags.Memory, "memory", false, "Receive into memory and write files once complete")
	receiveCmd.MarkFlagRequired("dst")
}

// validateReceiveFlags validates the receive command flags
func validateReceiveFlags(flags *ReceiveFlags) error {
	if flags.DstDir == "" {
		return fmt.Errorf("destination directory is required")
	}
	if flags.Code != "" && !utils.IsValidCode(flags.Code) {
		return fmt.Errorf("invalid session code %q", flags.Code)
	}
	if info, err := os.Stat(flags.DstDir); err == nil && !info.IsDir() {
		return fmt.Errorf("destination path '%s' is not a directory", flags.DstDir)
	}
	return nil
}

// runReceiverApp creates and runs the receiver application
func runReceiverApp(flags *ReceiveFlags) error {
	ctx, stop := createContext()
	defer stop()

	deps, cleanup, err := createDeps(ctx, "receiver")
	if err != nil {
		return err
	}
	defer cleanup()

	_, err = app.NewReceiverApp(deps).Run(ctx, &app.ReceiverOptions{
		DestDir: flags.DstDir,
		Code:    flags.Code,
		Memory:  flags.Memory,
	})
	return err
}
