// Command minibridge bridges a chat relay to the host agent gateway: it
// polls relay accounts for updates, injects them into agent sessions, and
// delivers the streamed replies back through the relay.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"minibridge/internal/config"
)

var version = "dev"

var (
	configPath string
)

var rootCmd = &cobra.Command{
	Use:     "minibridge",
	Short:   "Chat relay to agent runtime bridge",
	Version: version,
	Long: `MiniBridge connects a Telegram-compatible chat relay to the host agent
gateway. It long-polls each configured account for updates, routes them into
agent sessions, and sends the replies back, media included.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath(), "config file path")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(gatewayCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(doctorCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("config already exists at %s", configPath)
		}
		cfg := config.Defaults()
		cfg.Accounts = []config.AccountConfig{
			{
				ID:      "default",
				APIKey:  "${MINIBRIDGE_API_KEY:-}",
				Enabled: false,
			},
		}
		if err := config.Save(configPath, cfg); err != nil {
			return err
		}
		fmt.Printf("Config written to %s\n", configPath)
		fmt.Println("Set the account apiKey and enabled=true, then run: minibridge gateway")
		return nil
	},
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}
