// Command mdpserver runs the multi-robot control server and talks to a
// running one.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-mdp/internal/config"
)

var (
	version = "dev"

	configPath string
	serverURL  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mdpserver",
		Short: "Multi-robot control server",
		Long: `Runs the fixed-rate control loop for a fleet of quadrotors and ground
obstacles, fed by motion capture and driven over REST or pub/sub.
The other subcommands talk to a running server.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "mdp.yaml", "Path to the YAML configuration")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", config.ServerURL(config.DefaultServerURL), "Server URL for client commands")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(robotsCmd())
	rootCmd.AddCommand(addCmd())
	rootCmd.AddCommand(removeCmd())
	rootCmd.AddCommand(sendCmd())
	rootCmd.AddCommand(waitCmd())
	rootCmd.AddCommand(timeCmd())
	rootCmd.AddCommand(rateCmd())
	rootCmd.AddCommand(emergencyCmd())
	rootCmd.AddCommand(shutdownCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("mdpserver", version)
		},
	}
}

// configCmd writes the effective configuration, defaults included.
func configCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write the effective configuration to a file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Save(out); err != nil {
				return err
			}
			fmt.Printf("✅ Wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "mdp.yaml", "Output path")
	return cmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
