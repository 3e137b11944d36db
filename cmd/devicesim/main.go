// cmd/devicesim/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"device-bridge/internal/config"
	"device-bridge/internal/model"
	"device-bridge/internal/simulator"
	"device-bridge/internal/utils"
)

var (
	logLevelFlag  string
	logFormatFlag string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "devicesim",
		Short:        "Simulated alarm host for exercising the device bridge",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormatFlag, "log-format", "console", "Log format (console or json)")

	rootCmd.AddCommand(
		serveCmd(),
		behaviorsCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var (
		listen      string
		format      string
		behavior    string
		delay       time.Duration
		readTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the simulated device over TCP",
		RunE: func(cmd *cobra.Command, args []string) error {
			wireFormat, err := model.ParseFormat(format)
			if err != nil {
				return err
			}
			mode, err := simulator.ParseBehavior(behavior)
			if err != nil {
				return err
			}

			logger, err := utils.NewLogger(&config.LoggingConfig{
				Level:  logLevelFlag,
				Format: logFormatFlag,
				Output: "stdout",
			})
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer utils.CloseLogger(logger)

			server, err := simulator.NewServer(simulator.ServerConfig{
				Address:     listen,
				Format:      wireFormat,
				Behavior:    mode,
				ReplyDelay:  delay,
				ReadTimeout: readTimeout,
			}, simulator.NewState(), logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := server.Start(ctx); err != nil {
				return err
			}

			<-ctx.Done()
			logger.Info("Shutting down simulated device", zap.Int64("requests", server.Requests()))
			return server.Stop()
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", ":9000", "TCP address to listen on")
	cmd.Flags().StringVarP(&format, "format", "f", "json", "Wire format (json, xml, csv, raw_line)")
	cmd.Flags().StringVarP(&behavior, "behavior", "b", string(simulator.BehaviorNormal), "Reply behavior, see 'devicesim behaviors'")
	cmd.Flags().DurationVar(&delay, "delay", 0, "Delay before each reply")
	cmd.Flags().DurationVar(&readTimeout, "read-timeout", 30*time.Second, "How long to wait for a request")

	return cmd
}

func behaviorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "behaviors",
		Short: "List reply behaviors",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			names := make([]string, 0, len(simulator.Behaviors))
			for _, b := range simulator.Behaviors {
				names = append(names, string(b))
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(names, "\n"))
		},
	}
}
