// Command chatd runs the realtime presence and message fan-out engine.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alochat/realtime/internal/config"
)

// defaultConfigPath is read when --config is not given and the file exists.
const defaultConfigPath = "configs/chatd.yaml"

// devSecret signs credentials in memory-store mode when no secret is configured.
const devSecret = "chatd-dev-secret"

type globalFlags struct {
	configPath string
	store      string
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}
	serve := newServeCommand(flags)

	cmd := &cobra.Command{
		Use:           "chatd",
		Short:         "Alo Chat realtime engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          serve.RunE,
	}
	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&flags.store, "store", "", "record store driver (mongo|memory)")

	cmd.AddCommand(serve, newTokenCommand(flags))
	return cmd
}

// loadConfig resolves the config file and applies flag overrides.
func loadConfig(flags *globalFlags) (config.Config, error) {
	path := flags.configPath
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			path = defaultConfigPath
		}
	}

	var opts []config.Option
	if flags.store != "" {
		opts = append(opts, config.Override("store.driver", flags.store))
	}
	cfg, err := config.Load(path, opts...)
	if err != nil {
		return config.Config{}, err
	}
	if cfg.Store.Driver == config.DriverMemory && cfg.Auth.Secret == "" {
		cfg.Auth.Secret = devSecret
	}
	return cfg, nil
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "chatd:", err)
		os.Exit(1)
	}
}
