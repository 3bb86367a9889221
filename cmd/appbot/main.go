// Package main provides the entry point for the AppOmar WhatsApp bot.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/appbot/internal/bot"
	"github.com/Veraticus/appbot/internal/config"
	"github.com/Veraticus/appbot/internal/retry"
	"github.com/Veraticus/appbot/internal/whatsapp"
)

// dialFunc opens a transport to the bridge.
type dialFunc func(ctx context.Context, addr string) (whatsapp.Transport, error)

// app carries what the subcommands share.
type app struct {
	v    *viper.Viper
	dial dialFunc
	out  io.Writer
}

func main() {
	os.Exit(runMain())
}

func runMain() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Shutting down gracefully...")
		cancel()
	}()

	a := &app{v: viper.New(), dial: whatsapp.Dial, out: os.Stdout}
	if err := a.rootCmd().ExecuteContext(ctx); err != nil {
		log.Printf("Error: %v", err)
		return 1
	}
	return 0
}

func (a *app) rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "appbot",
		Short:         "WhatsApp bot that searches and delivers Android apps",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(a.out)

	flags := cmd.PersistentFlags()
	flags.String("config", "", "Config file path (optional).")
	flags.String("log-level", "", "Logging level: debug|info|warn|error.")
	flags.String("log-format", "", "Logging format: text|json.")
	flags.Bool("log-add-source", false, "Include source file:line in logs.")
	flags.String("bridge", "", "Bridge address: ws://, wss://, unix:// or a socket path.")
	flags.String("phone", "", "Phone number to pair with (country code, digits only).")

	_ = a.v.BindPFlag("config", flags.Lookup("config"))
	_ = a.v.BindPFlag("logging.level", flags.Lookup("log-level"))
	_ = a.v.BindPFlag("logging.format", flags.Lookup("log-format"))
	_ = a.v.BindPFlag("logging.add_source", flags.Lookup("log-add-source"))
	_ = a.v.BindPFlag("bridge.address", flags.Lookup("bridge"))
	_ = a.v.BindPFlag("pairing.phone", flags.Lookup("phone"))

	cmd.AddCommand(a.runCmd(), a.pairCmd(), a.versionCmd())
	return cmd
}

// loadConfig layers defaults, the config file, the environment and flags.
func (a *app) loadConfig() (*config.Config, error) {
	config.SetDefaults(a.v)
	if err := config.BindEnv(a.v); err != nil {
		return nil, err
	}
	if path := strings.TrimSpace(a.v.GetString("config")); path != "" {
		a.v.SetConfigFile(path)
		if err := a.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return config.Load(a.v)
}

func (a *app) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to the bridge and serve users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			return a.run(cmd.Context(), cfg)
		},
	}
}

func (a *app) pairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pair",
		Short: "Request a pairing code for the configured phone number",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			return a.pair(cmd.Context(), cfg)
		},
	}
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the bot version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "appbot %s\n", bot.Version)
		},
	}
}

// pairAttempts covers a bridge that is still starting when pair runs.
const pairAttempts = 5

// pair asks the bridge for a pairing code and prints it.
func (a *app) pair(ctx context.Context, cfg *config.Config) error {
	if cfg.Pairing.Phone == "" {
		return bot.ErrNoPairingPhone
	}

	var code string
	policy := retry.Policy{
		MaxAttempts: pairAttempts,
		Backoff:     retry.Exponential(time.Second, 15*time.Second),
		Retryable: func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		},
		OnRetry: func(attempt int, err error, wait time.Duration) {
			log.Printf("Pairing attempt %d failed: %v (retrying in %s)", attempt, err, wait.Round(time.Second))
		},
	}
	err := retry.Do(ctx, policy, func(ctx context.Context, _ int) error {
		transport, err := a.dial(ctx, cfg.Bridge.Address)
		if err != nil {
			return fmt.Errorf("failed to connect to bridge: %w", err)
		}
		client := whatsapp.NewClient(transport)
		defer func() { _ = client.Close() }()

		code, err = client.RequestPairingCode(ctx, cfg.Pairing.Phone)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to request pairing code: %w", err)
	}
	_, _ = fmt.Fprintf(a.out, "Pairing code for %s: %s\nEnter it under Linked devices > Link with phone number.\n", cfg.Pairing.Phone, code)
	return nil
}
