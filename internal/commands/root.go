// Package commands implements the cew command line interface.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cewlabs/cew/internal/config"
	"github.com/cewlabs/cew/internal/version"
)

var (
	cfgFile     string
	backendMode string
	cfg         *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "cew",
	Short: "Ephemeral lab orchestration for isolated training networks",
	Long: `cew materializes isolated, ephemeral container labs from declarative
topologies, supervises their health and resource usage, and guarantees
safe teardown including a global kill-switch.

Every lab runs under strict air-gap invariants: internal-only networks,
no capabilities, no route to the outside world.`,
	Version: version.Version,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&backendMode, "backend-mode", "", "container backend mode (auto, simulation)")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "%s" .Version}}
`)
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	// The flag overrides file and environment.
	if backendMode != "" {
		switch backendMode {
		case config.BackendModeAuto, config.BackendModeSimulation:
			cfg.Backend.Mode = backendMode
		default:
			fmt.Fprintf(os.Stderr, "Invalid backend mode: %q\n", backendMode)
			os.Exit(1)
		}
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("cew %s (commit %s, built %s)\n",
			version.Version, version.GitCommit, version.BuildTime)
	},
}
