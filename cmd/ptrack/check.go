package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/goodtune/ptrack/internal/config"
	"github.com/goodtune/ptrack/internal/probe"
)

var checkCmd = &cobra.Command{
	Use:   "check [server...]",
	Short: "Probe configured game servers once",
	Long:  `Query each configured game server (or only the named ones) and print its status, map, and roster.`,
	Example: `  ptrack -c config.yaml check
  ptrack check ttt`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	servers, err := cfg.ServerList()
	if err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	if len(args) > 0 {
		wanted := make(map[string]struct{}, len(args))
		for _, name := range args {
			wanted[name] = struct{}{}
		}
		filtered := servers[:0]
		for _, spec := range servers {
			if _, ok := wanted[spec.Name]; ok {
				filtered = append(filtered, spec)
				delete(wanted, spec.Name)
			}
		}
		if len(wanted) > 0 {
			var unknown []string
			for name := range wanted {
				unknown = append(unknown, name)
			}
			return fmt.Errorf("unknown server(s): %s", strings.Join(unknown, ", "))
		}
		servers = filtered
	}

	prober := probe.NewA2S(
		parseDuration(cfg.Tracker.ProbeTimeout, 3*time.Second),
		cfg.Tracker.ProbeRetries,
		zerolog.Nop(),
	)

	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Println("SERVER CHECK")
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	down := 0
	ctx := context.Background()
	for _, spec := range servers {
		status := prober.Probe(ctx, spec)

		fmt.Println()
		fmt.Printf("Server:  %s (%s:%d)\n", spec.Name, spec.Host, spec.Port)
		if !status.Online {
			red.Println("Status:  DOWN")
			down++
			continue
		}

		green.Println("Status:  UP")
		fmt.Printf("Title:   %s\n", status.Title)
		fmt.Printf("Map:     %s\n", status.Map)
		fmt.Printf("Latency: %s\n", status.Latency)
		fmt.Printf("Players: %d/%d\n", len(status.Players), status.MaxPlayers)
		for _, name := range status.Players {
			fmt.Printf("  - %s\n", name)
		}
	}

	fmt.Println()
	if down > 0 {
		return fmt.Errorf("%d of %d server(s) unreachable", down, len(servers))
	}
	green.Printf("All %d server(s) reachable\n", len(servers))
	return nil
}
