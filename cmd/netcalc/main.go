// Command netcalc runs the line-oriented TCP arithmetic expression
// evaluator: the -a/-p/-c/-t flags mirror the original get_config
// argument meanings (address, port, maximum clients, worker threads).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Egorov-Alexey/netcalc-go/internal/config"
	"github.com/Egorov-Alexey/netcalc-go/internal/logging"
	"github.com/Egorov-Alexey/netcalc-go/internal/server"
)

// Exit codes: 0 on a clean shutdown, 1 for an invalid configuration
// (bad flags), 2 if the server failed to start or exited on an error.
const (
	exitOK = iota
	exitBadConfig
	exitRuntime
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		address string
		port    uint16
		clients uint
		threads uint
		debug   bool
	)

	exitCode := exitOK

	rootCmd := &cobra.Command{
		Use:           "netcalc",
		Short:         "Serve a line-oriented TCP arithmetic expression evaluator",
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New(config.Config{
				Address: address,
				Port:    port,
				Clients: clients,
				Threads: threads,
			})
			if err != nil {
				cmd.SilenceUsage = true
				exitCode = exitBadConfig
				return fmt.Errorf("invalid configuration: %w", err)
			}

			level := zerolog.InfoLevel
			if debug {
				level = zerolog.DebugLevel
			}
			logger := logging.New(os.Stderr, level)

			srv, err := server.New(cfg, logger)
			if err != nil {
				cmd.SilenceUsage = true
				exitCode = exitRuntime
				return fmt.Errorf("building server: %w", err)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := srv.Start(ctx); err != nil {
				cmd.SilenceUsage = true
				exitCode = exitRuntime
				return fmt.Errorf("starting server: %w", err)
			}

			cmd.SilenceUsage = true
			if err := srv.Wait(); err != nil {
				exitCode = exitRuntime
				return fmt.Errorf("server exited: %w", err)
			}
			return nil
		},
	}

	rootCmd.Flags().StringVarP(&address, "address", "a", config.DefaultAddress, "Listen address")
	rootCmd.Flags().Uint16VarP(&port, "port", "p", 0, "Listen port (required)")
	rootCmd.Flags().UintVarP(&clients, "clients", "c", 0, "Maximum number of simultaneous clients (required)")
	rootCmd.Flags().UintVarP(&threads, "threads", "t", config.DefaultThreads(), "Number of worker threads (can't exceed clients)")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if exitCode == exitOK {
			exitCode = exitBadConfig
		}
		return exitCode
	}
	return exitOK
}
