package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rolledback/cloudbridge/internal/config"
	"github.com/rolledback/cloudbridge/internal/logger"
	"github.com/rolledback/cloudbridge/internal/notify"
	"github.com/rolledback/cloudbridge/internal/provider"
	"github.com/rolledback/cloudbridge/internal/provider/dropbox"
	"github.com/rolledback/cloudbridge/internal/provider/mock"
	"github.com/rolledback/cloudbridge/internal/provider/onedrive"
	"github.com/rolledback/cloudbridge/internal/provider/s3"
	"github.com/rolledback/cloudbridge/internal/service"
	"github.com/rolledback/cloudbridge/internal/transfer"
)

var (
	cfg     *config.Config
	log     *logrus.Logger
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "cloudbridge",
	Short: "Cloud storage bridge with background transfers",
	Long: `cloudbridge lists folders and moves files between the local disk and a
remote store (Dropbox, OneDrive or any S3-compatible bucket).

Run "cloudbridge serve" to expose the method channel and the event stream
over HTTP, or use the one-shot ls, upload and download commands.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initConfig(); err != nil {
			return err
		}
		cfg = config.Load(viper.GetViper())
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		l, err := logger.Init(cfg.LogLevel, cfg.LogPath)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		log = l
		return nil
	},
}

func init() {
	config.SetDefaults(viper.GetViper())

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.cloudbridge.yaml)")
	flags.String("provider", "dropbox", "remote store: dropbox, onedrive, s3 or mock")
	flags.String("token", "", "access token for the remote store")
	flags.String("storage", "./data", "directory holding stored provider settings")
	flags.String("log-level", "info", "log level")
	flags.String("log-path", "", "also write logs to this file")

	viper.BindPFlag("provider", flags.Lookup("provider"))
	viper.BindPFlag("access_token", flags.Lookup("token"))
	viper.BindPFlag("storage.directory", flags.Lookup("storage"))
	viper.BindPFlag("log.level", flags.Lookup("log-level"))
	viper.BindPFlag("log.path", flags.Lookup("log-path"))

	rootCmd.AddCommand(serveCmd, lsCmd, uploadCmd, downloadCmd)
}

// initConfig reads in config file and ENV variables
func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		return nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	viper.AddConfigPath(home)
	viper.SetConfigType("yaml")
	viper.SetConfigName(".cloudbridge")
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return nil
}

// app is the wired bridge shared by every command.
type app struct {
	providers *provider.Registry
	queue     *notify.Queue
	tasks     *transfer.Registry
	bridge    *service.Bridge
}

func newApp(ctx context.Context) *app {
	providers := provider.NewRegistry(log)
	registerProviders(providers)

	queue := notify.NewQueue(cfg.EventBuffer, cfg.EventResultTimeout, log)
	tasks := transfer.NewRegistry(ctx, queue, log)
	bridge := service.NewBridge(providers, tasks, service.BridgeOptions{
		StorageDir: cfg.StorageDir,
		ProviderID: cfg.Provider,
	}, log)

	if cfg.ClientID != "" {
		bridge.Init(cfg.ClientID, "", "")
	}
	if cfg.AccessToken != "" {
		if resp := bridge.AuthorizeWithAccessToken(cfg.Provider, cfg.AccessToken); !resp.Success {
			log.WithField("code", resp.Code).Warn(resp.Message)
		}
	}

	return &app{providers: providers, queue: queue, tasks: tasks, bridge: bridge}
}

// close drops undelivered events and waits for running tasks to stop.
func (a *app) close() {
	a.queue.Close()
	a.tasks.Stop()
}

func registerProviders(r *provider.Registry) {
	r.Register(dropbox.ProviderID, dropbox.Factory(cfg.DropboxChunkSize))
	r.Register(onedrive.ProviderID, onedrive.Factory(onedrive.Config{
		BaseURL:  cfg.OneDriveBaseURL,
		PageSize: cfg.OneDrivePageSize,
		RPS:      cfg.OneDriveRPS,
	}))
	r.Register(s3.ProviderID, s3.Factory(cfg.S3PageSize))

	// in-memory store for trying the channel without an account
	demo := mock.NewProvider("mock")
	r.Register("mock", func(string, provider.Settings) (provider.RemoteStore, error) {
		return demo, nil
	})
}

// signalContext cancels on interrupt signals
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
