package main

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/proclean/internal/config"
	"github.com/MarcoPoloResearchLab/proclean/internal/logging"
)

var (
	cfgFile string
	envFile string
	noColor bool
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "proclean",
		Short:        "ProClean workstation agent and reference API",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)

	rootCmd.AddCommand(
		newServeCommand(),
		newAgentCommand(),
		newSyncCommand(),
		newQueueCommand(),
		newSubmitCommand(),
		newTokenCommand(),
	)
	return rootCmd
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.StringVar(&envFile, "env-file", ".env", "Dotenv file loaded before configuration when present")
	flags.BoolVar(&noColor, "no-color", false, "Disable colored notifications")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	flags.String("http-address", defaults.GetString("http.address"), "Reference API listen address")
	flags.String("database-path", defaults.GetString("database.path"), "Reference API SQLite database path")
	flags.String("signing-secret", "", "Workstation token signing secret (overrides env)")
	flags.Int("token-ttl-hours", defaults.GetInt("auth.token_ttl_hours"), "Workstation token TTL in hours")
	flags.String("storage-backend", defaults.GetString("storage.backend"), "Local storage backend (file, sqlite, memory)")
	flags.String("storage-path", defaults.GetString("storage.path"), "Local storage path (defaults to the XDG state dir)")
	flags.String("remote-url", defaults.GetString("remote.url"), "Remote system base URL")
	flags.String("api-key", "", "Remote system API key (overrides the stored key)")
	flags.String("replay-order", defaults.GetString("sync.replay_order"), "Queue replay order (fifo, lifo)")
	flags.String("workstation", defaults.GetString("workstation.name"), "Workstation name")

	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.token_ttl_hours", "token-ttl-hours")
	bindFlag(cmd, "storage.backend", "storage-backend")
	bindFlag(cmd, "storage.path", "storage-path")
	bindFlag(cmd, "remote.url", "remote-url")
	bindFlag(cmd, "remote.api_key", "api-key")
	bindFlag(cmd, "sync.replay_order", "replay-order")
	bindFlag(cmd, "workstation.name", "workstation")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func loadRuntime() (config.AppConfig, *zap.Logger, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	return appConfig, logger, nil
}
