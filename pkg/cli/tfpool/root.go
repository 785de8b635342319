package tfpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/kralicky/tfpool/pkg/cli/tfpool/commands"
	"github.com/kralicky/tfpool/pkg/config"
	"github.com/kralicky/tfpool/pkg/logger"
	"github.com/kralicky/tfpool/pkg/metrics"
)

// rootCmd represents the base command when called without any subcommands
func BuildRootCmd() *cobra.Command {
	var logLevel string
	var configFile string
	var concurrency int
	var binary string
	var metricsAddress string
	var metricsServer *metrics.Server

	cmd := &cobra.Command{
		Use:          "tfpool",
		Short:        "Run terraform across many projects in parallel.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.GroupID != commands.GroupIdTerraformCommands {
				return nil
			}
			if logLevel != "" {
				if err := logger.SetLevel(logLevel); err != nil {
					return err
				}
			}

			conf := config.Default()
			if configFile != "" {
				var err error
				if conf, err = config.Load(configFile); err != nil {
					return err
				}
			}
			flags := cmd.Flags()
			if flags.Changed("concurrency") {
				conf.Concurrency = concurrency
			}
			if flags.Changed("terraform") {
				conf.Terraform.Binary = binary
			}
			if flags.Changed("metrics-address") {
				conf.Metrics.Address = metricsAddress
			}
			if err := conf.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			if conf.Metrics.Address != "" {
				srv := metrics.NewServer(conf.Metrics.Address, slog.Default())
				if err := srv.Start(); err != nil {
					return err
				}
				metricsServer = srv
			}
			cmd.SetContext(commands.ContextWithConfig(cmd.Context(), conf))
			return nil
		},
	}

	cmd.AddGroup(&cobra.Group{
		ID:    commands.GroupIdTerraformCommands,
		Title: "Terraform Commands:",
	})

	cmd.InitDefaultCompletionCmd()
	cmd.InitDefaultHelpCmd()

	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to a configuration file")
	cmd.PersistentFlags().IntVarP(&concurrency, "concurrency", "j", config.Default().Concurrency, "maximum number of terraform processes to run at once (0 for one per cpu)")
	cmd.PersistentFlags().StringVar(&binary, "terraform", config.Default().Terraform.Binary, "terraform binary to run")
	cmd.PersistentFlags().StringVar(&metricsAddress, "metrics-address", "", "address to serve prometheus metrics on while running")

	cmd.AddCommand(
		commands.BuildInitCmd(),
		commands.BuildPlanCmd(),
		commands.BuildApplyCmd(),
		commands.BuildStateCmd(),
	)

	// cobra skips post-run hooks when RunE fails, so the metrics server is
	// stopped by the commands themselves
	stopMetrics := func() error {
		if metricsServer == nil {
			return nil
		}
		ctx, ca := context.WithTimeout(context.Background(), 5*time.Second)
		defer ca()
		err := metricsServer.Shutdown(ctx)
		metricsServer = nil
		return err
	}
	for _, sub := range cmd.Commands() {
		if sub.GroupID != commands.GroupIdTerraformCommands || sub.RunE == nil {
			continue
		}
		runE := sub.RunE
		sub.RunE = func(cmd *cobra.Command, args []string) error {
			err := runE(cmd, args)
			if stopErr := stopMetrics(); stopErr != nil {
				return errors.Join(err, stopErr)
			}
			return err
		}
	}

	return cmd
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, ca := signal.NotifyContext(context.Background(), os.Interrupt)
	defer ca()
	if err := BuildRootCmd().ExecuteContext(ctx); err != nil {
		ca()
		os.Exit(1)
	}
}
