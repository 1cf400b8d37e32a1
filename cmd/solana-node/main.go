package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	serverrun "github.com/davidrhodus/solana-node/internal/cmd/server"
	cfgpkg "github.com/davidrhodus/solana-node/internal/config"
	pebblestore "github.com/davidrhodus/solana-node/internal/storage/pebble"
	logpkg "github.com/davidrhodus/solana-node/pkg/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func main() {
	// Respect SOLNODE_LOG_LEVEL for both CLI and server start output
	level := os.Getenv("SOLNODE_LOG_LEVEL")
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(parsed),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)
	logpkg.RedirectStdLog(logger)

	rootCmd := &cobra.Command{
		Use:   "solana-node",
		Short: "Solana transaction archiver CLI",
		Long:  "solana-node streams transaction signatures from Solana endpoints, fetches full details, and archives them durably. This CLI manages the server and basic operations.",
	}

	// config init
	configCmd := &cobra.Command{Use: "config", Short: "Configuration commands"}
	configInitCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("path")
			written, err := cfgpkg.WriteDefault(path)
			if err != nil {
				return err
			}
			if !written {
				fmt.Printf("config already exists at %s\n", path)
				return nil
			}
			fmt.Printf("wrote default config to %s\n", path)
			return nil
		},
	}
	configInitCmd.Flags().String("path", "config.json", "Destination path (.json, .yaml or .yml)")
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)

	// server start
	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the archiver node",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			httpAddr, _ := cmd.Flags().GetString("http")
			fsyncMode, _ := cmd.Flags().GetString("fsync")
			fsyncIntervalMs, _ := cmd.Flags().GetInt("fsync-interval-ms")
			sweepIntervalMin, _ := cmd.Flags().GetInt("sweep-interval-min")
			logLevel, _ := cmd.Flags().GetString("log-level")
			logFormat, _ := cmd.Flags().GetString("log-format")

			mode := pebblestore.FsyncModeInterval
			switch fsyncMode {
			case "never":
				mode = pebblestore.FsyncModeNever
			case "interval":
				mode = pebblestore.FsyncModeInterval
			case "always":
				mode = pebblestore.FsyncModeAlways
			default:
				return fmt.Errorf("invalid --fsync; use always|interval|never")
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			cfg, err := cfgpkg.Load(configPath)
			if err != nil {
				return err
			}
			cfgpkg.FromEnv(&cfg)
			if logLevel != "" {
				_ = os.Setenv("SOLNODE_LOG_LEVEL", logLevel)
			}
			if logFormat != "" {
				_ = os.Setenv("SOLNODE_LOG_FORMAT", logFormat)
			}
			if err := serverrun.Run(ctx, serverrun.Options{
				Config:        cfg,
				HTTPAddr:      httpAddr,
				Fsync:         mode,
				FsyncInterval: time.Duration(fsyncIntervalMs) * time.Millisecond,
				SweepInterval: time.Duration(sweepIntervalMin) * time.Minute,
				Registry:      prometheus.NewRegistry(),
			}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
	serverStartCmd.Flags().String("config", "", "Config file path (.json or .yaml); defaults apply when empty")
	serverStartCmd.Flags().String("http", "", "Status API listen address (overrides node.listen_port)")
	serverStartCmd.Flags().String("fsync", "interval", "Fsync mode: always|interval|never")
	serverStartCmd.Flags().Int("fsync-interval-ms", 5, "When --fsync=interval, group-commit window in ms (default 5)")
	serverStartCmd.Flags().Int("sweep-interval-min", 0, "Retention sweep cadence in minutes (0 = default hourly)")
	serverStartCmd.Flags().String("log-level", os.Getenv("SOLNODE_LOG_LEVEL"), "Log level: debug|info|warn|error")
	serverStartCmd.Flags().String("log-format", os.Getenv("SOLNODE_LOG_FORMAT"), "Log format: text|json (default text)")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	// tx get
	txCmd := &cobra.Command{Use: "tx", Short: "Stored transaction operations"}
	txGetCmd := &cobra.Command{
		Use:   "get <signature>",
		Short: "Fetch a stored transaction from a running node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := http.Get(apiURL() + "/v1/tx/" + args[0])
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusNotFound {
				return fmt.Errorf("transaction %s not stored", args[0])
			}
			if resp.StatusCode != http.StatusOK {
				io.Copy(io.Discard, resp.Body)
				return fmt.Errorf("status: %s", resp.Status)
			}
			return printJSON(resp.Body)
		},
	}
	txCmd.AddCommand(txGetCmd)

	txSlotsCmd := &cobra.Command{
		Use:   "slots",
		Short: "List stored transactions in a slot range",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, _ := cmd.Flags().GetUint64("start")
			end, _ := cmd.Flags().GetUint64("end")
			limit, _ := cmd.Flags().GetInt("limit")
			url := fmt.Sprintf("%s/v1/slots?start=%d&end=%d&limit=%d", apiURL(), start, end, limit)
			resp, err := http.Get(url)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				io.Copy(io.Discard, resp.Body)
				return fmt.Errorf("status: %s", resp.Status)
			}
			return printJSON(resp.Body)
		},
	}
	txSlotsCmd.Flags().Uint64("start", 0, "Start slot (inclusive)")
	txSlotsCmd.Flags().Uint64("end", 0, "End slot (inclusive)")
	txSlotsCmd.Flags().Int("limit", 100, "Maximum records to return")
	txCmd.AddCommand(txSlotsCmd)
	rootCmd.AddCommand(txCmd)

	// stats
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show pipeline stats from a running node",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := http.Get(apiURL() + "/v1/stats")
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				io.Copy(io.Discard, resp.Body)
				return fmt.Errorf("status: %s", resp.Status)
			}
			return printJSON(resp.Body)
		},
	}
	rootCmd.AddCommand(statsCmd)

	err = rootCmd.Execute()
	_ = logger.Close()
	if err != nil {
		os.Exit(1)
	}
}

func apiURL() string {
	if v := os.Getenv("SOLNODE_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:8899"
}

func printJSON(r io.Reader) error {
	var v any
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		return err
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
