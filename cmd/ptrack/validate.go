package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/goodtune/ptrack/internal/config"
)

var validateDump bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the ptrack configuration file for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "Dump the resolved configuration")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation failed: %v\n", err)
		return err
	}

	fmt.Printf("✅ Configuration is valid: %s\n", configPath)

	if !validateDump {
		return nil
	}

	cyan := color.New(color.FgCyan, color.Bold)

	fmt.Println()
	cyan.Println("Servers")
	servers, _ := cfg.ServerList()
	for _, spec := range servers {
		fmt.Printf("  %s: %s:%d\n", spec.Name, spec.Host, spec.Port)
	}

	cyan.Println("Tracker")
	fmt.Printf("  poll_interval:   %s\n", cfg.Tracker.PollInterval)
	fmt.Printf("  reload_interval: %s\n", cfg.Tracker.ReloadInterval)
	fmt.Printf("  probe_timeout:   %s\n", cfg.Tracker.ProbeTimeout)
	fmt.Printf("  probe_retries:   %d\n", cfg.Tracker.ProbeRetries)

	cyan.Println("Storage")
	fmt.Printf("  type: %s\n", cfg.Storage.Type)
	if cfg.Storage.Type == "redis" {
		fmt.Printf("  redis: %s:%d db=%d\n", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port, cfg.Storage.Redis.DB)
	} else {
		fmt.Printf("  path: %s\n", cfg.Storage.Path)
	}

	cyan.Println("Logging")
	fmt.Printf("  level:  %s\n", cfg.Logging.Level)
	fmt.Printf("  format: %s\n", cfg.Logging.Format)

	cyan.Println("Metrics")
	fmt.Printf("  enabled: %v\n", cfg.Metrics.Enabled)
	if cfg.Metrics.Enabled {
		fmt.Printf("  addr: %s:%d\n", cfg.Metrics.BindAddress, cfg.Metrics.Port)
	}

	cyan.Println("Chat")
	fmt.Printf("  channel_name:   %s\n", cfg.Chat.ChannelName)
	fmt.Printf("  command_prefix: %s\n", cfg.Chat.CommandPrefix)

	return nil
}
