package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cnvrt/convnet/internal/config"
)

var (
	cfgFile   string
	activeCfg config.RuntimeConfig
)

func NewRootCmd() *cobra.Command {
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "convnet",
		Short: "Train, predict with, and serve convolutional networks",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load(config.LoadOptions{
				Cmd:        cmd,
				ConfigFile: cfgFile,
				Defaults:   defaults,
			})
			if err != nil {
				return fmt.Errorf("convnet: %w", err)
			}
			activeCfg = loaded
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Optional config file (yaml|toml|json)")
	config.RegisterFlags(cmd.PersistentFlags(), defaults)

	cmd.AddCommand(newTrainCmd())
	cmd.AddCommand(newPredictCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}
