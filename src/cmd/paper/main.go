package main

import (
	"context"
	"os"
	"os/signal"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jiaming2012/broker-bridge/src/cmd/paper/run"
	"github.com/jiaming2012/broker-bridge/src/config"
	"github.com/jiaming2012/broker-bridge/src/utils"
)

var rootCmd = &cobra.Command{
	Use:   "paper",
	Short: "Paper trading tools for the simulated broker",
}

var replayCmd = &cobra.Command{
	Use:   "replay --script orders.csv",
	Short: "Replay a CSV order script against a simulated account and print the result",
	Run: func(cmd *cobra.Command, args []string) {
		envDir, err := cmd.Flags().GetString("env-dir")
		if err != nil {
			log.Fatalf("error getting env-dir: %v", err)
		}

		configPath, err := cmd.Flags().GetString("config")
		if err != nil {
			log.Fatalf("error getting config: %v", err)
		}

		scriptPath, err := cmd.Flags().GetString("script")
		if err != nil {
			log.Fatalf("error getting script: %v", err)
		}

		if envDir != "" || os.Getenv("PROJECTS_DIR") != "" {
			if err := utils.InitEnvironmentVariables(envDir); err != nil {
				log.Fatalf("error loading environment variables: %v", err)
			}
		}

		cfg, err := config.Load(configPath)
		if err != nil {
			log.Fatalf("error loading config: %v", err)
		}

		cfg.ApplyLogging()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		if err := replay(ctx, cfg, scriptPath); err != nil {
			log.Fatalf("replay failed: %v", err)
		}
	},
}

func replay(ctx context.Context, cfg *config.Config, scriptPath string) error {
	rows, err := run.ReadScriptFile(scriptPath)
	if err != nil {
		return err
	}

	st, err := run.OpenStore(cfg)
	if err != nil {
		return err
	}

	adapter, err := run.StartSimulator(ctx, cfg, st)
	if err != nil {
		return err
	}
	defer adapter.Stop()

	result, err := run.Replay(ctx, adapter, rows)
	if err != nil {
		return err
	}

	run.WriteReport(os.Stdout, result)

	return nil
}

func main() {
	replayCmd.PersistentFlags().String("script", "", "The CSV order script to replay.")
	replayCmd.PersistentFlags().String("config", "", "The YAML config file. Defaults and environment are used when empty.")
	replayCmd.PersistentFlags().String("env-dir", "", "The directory holding .env files. Defaults to $PROJECTS_DIR/broker-bridge.")

	replayCmd.MarkPersistentFlagRequired("script")

	rootCmd.AddCommand(replayCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
