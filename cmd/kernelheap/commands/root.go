package commands

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/notargets/kernelheap/config"
	"github.com/notargets/kernelheap/device"
	"github.com/notargets/kernelheap/memory"
)

var (
	cfgFile string
	verbose bool

	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "kernelheap",
	Short: "Inspect a device heap context",
	Long: `kernelheap opens the configured compute device, lays out its call
stack and heap regions, and reports how host values map onto them.`,
	Version:           "0.1.0",
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./kernelheap.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

// initConfig loads the configuration and installs the logger
func initConfig(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	logger, err = cfg.NewLogger()
	if err != nil {
		return err
	}
	memory.SetLogger(logger)
	device.SetLogger(logger)
	return nil
}
