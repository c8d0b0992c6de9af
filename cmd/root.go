package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pintubhai440/fileshare/internal/app"
	"github.com/pintubhai440/fileshare/internal/config"
	"github.com/pintubhai440/fileshare/internal/history"
	"github.com/pintubhai440/fileshare/internal/logging"
	"github.com/pintubhai440/fileshare/internal/signalling"
	"github.com/pintubhai440/fileshare/internal/transport"
	"github.com/pintubhai440/fileshare/internal/ui"
)

var (
	cfg     *config.Config
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "fileshare",
	Short: "fileshare - peer-to-peer file transfer over WebRTC",
	Long: `fileshare sends files directly between two machines over a WebRTC data channel.

The sender publishes an offer and prints a short code; the receiver enters the
code to join. Files are streamed with flow control, written to disk as they
arrive and recovered from memory if the disk fails mid-transfer.

Usage:
  Send files:     fileshare send --file a.pdf --file b.zip
  Receive files:  fileshare receive --dst ~/Downloads
  Past transfers: fileshare history`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.fileshare.yaml)")
}

// initConfig reads the .env file, the config file and FILESHARE_* variables
func initConfig() error {
	// a missing .env is fine
	_ = godotenv.Load()

	v := viper.GetViper()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
		v.SetConfigType("yaml")
		v.SetConfigName(".fileshare")
	}
	config.Bind(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	loaded, err := config.Load(v)
	if err != nil {
		return err
	}
	if err := logging.Init(loaded.Log.Level, loaded.Log.Format); err != nil {
		return fmt.Errorf("invalid log level %q: %w", loaded.Log.Level, err)
	}
	if used := v.ConfigFileUsed(); used != "" {
		logging.Log.WithField("file", used).Debug("Using config file")
	}
	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	cfg = loaded
	return nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// createContext creates a context that cancels on interrupt signals
func createContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// openHistory opens the configured history store, or returns nil when disabled
func openHistory() (*history.Store, error) {
	if !cfg.History.Enabled {
		return nil, nil
	}
	path := cfg.History.Path
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot locate history directory: %w", err)
		}
		path = filepath.Join(home, ".fileshare", "history")
	}
	return history.Open(path)
}

// createDeps creates and wires up all the application services
func createDeps(ctx context.Context, operation string) (app.Deps, func(), error) {
	if err := cfg.ValidateFirebase(); err != nil {
		return app.Deps{}, nil, fmt.Errorf("signalling is not configured: %w", err)
	}

	log := logging.Component(operation)
	sig, err := signalling.NewFirebaseService(ctx, &cfg.Firebase, logging.Component("signalling"))
	if err != nil {
		return app.Deps{}, nil, err
	}

	store, err := openHistory()
	if err != nil {
		log.WithError(err).Warn("Transfer history unavailable")
		store = nil
	}
	cleanup := func() {
		if store != nil {
			store.Close()
		}
	}

	label := "Sending"
	if operation == "receiver" {
		label = "Receiving"
	}
	return app.Deps{
		Config:     cfg,
		Peers:      transport.NewPeerService(cfg.WebRTC, logging.Component("peer")),
		Signalling: sig,
		UI:         ui.NewConsoleUI(label),
		History:    store,
		Log:        log,
	}, cleanup, nil
}
