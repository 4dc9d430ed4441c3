package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"leadflow/config"
	"leadflow/nurturing"
	"leadflow/utils"
)

const version = "1.0.0"

var (
	rulesFile string
	validate  bool
)

var rootCmd = &cobra.Command{
	Use:   "leadflow",
	Short: "Real-estate lead qualification and nurturing engine",
	Long: `leadflow receives inbound WhatsApp and email conversations, extracts what
each lead is looking for, scores and labels them, creates tasks for the sales
team and follows up on schedule according to the nurturing rules.

Run without arguments to start the HTTP server and background workers.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "rules" {
			return nil
		}
		if err := config.LoadConfig(); err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		return utils.InitLogging(config.AppConfig.LogLevel, config.AppConfig.SentryDSN, config.AppConfig.Environment)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		utils.FlushSentry()
	},
	RunE: runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API, the nurturing schedule and the inbox poller",
	RunE:  runServe,
}

var nurtureCmd = &cobra.Command{
	Use:   "nurture",
	Short: "Run one nurturing pass now and exit",
	RunE:  runNurture,
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Print the effective nurturing rule table as YAML",
	Long: `Print the nurturing rule table that the scheduler would load.

Without --file the built-in defaults are printed, which makes a good starting
point for a custom NURTURING_RULES_FILE. With --validate only the exit code
reports whether the file is usable.`,
	RunE: runRules,
}

func init() {
	rulesCmd.Flags().StringVarP(&rulesFile, "file", "f", "", "Rules file to load (default: built-in rules)")
	rulesCmd.Flags().BoolVar(&validate, "validate", false, "Only validate the rules file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(nurtureCmd)
	rootCmd.AddCommand(rulesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := utils.Logger("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := buildComponents(ctx, config.AppConfig, logger)
	if err != nil {
		return err
	}
	defer c.close()

	if err := c.startWorkers(ctx); err != nil {
		return err
	}

	app := c.newApp()
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("🚀 Server starting on port %s", config.AppConfig.ServerPort)
		errCh <- app.Listen(":" + config.AppConfig.ServerPort)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.WithError(err).Warn("server shutdown incomplete")
	}
	return nil
}

func runNurture(cmd *cobra.Command, args []string) error {
	logger := utils.Logger("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := buildComponents(ctx, config.AppConfig, logger)
	if err != nil {
		return err
	}
	defer c.close()

	passCtx, cancel := context.WithTimeout(ctx, config.AppConfig.Nurturing.PassTimeout)
	defer cancel()

	actions, err := c.scheduler.RunPass(passCtx, time.Now())
	if errors.Is(err, nurturing.ErrPassInProgress) {
		logger.Info("another nurturing pass is running, nothing to do")
		return nil
	}
	if err != nil {
		return fmt.Errorf("nurturing pass failed: %w", err)
	}

	logger.WithFields(logrus.Fields{"actions": len(actions)}).Info("nurturing pass finished")
	for _, a := range actions {
		fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\t%s\n", a.LeadID, a.RuleID, a.Channel, a.Status)
	}
	return nil
}

func runRules(cmd *cobra.Command, args []string) error {
	rules, err := nurturing.LoadRules(rulesFile)
	if err != nil {
		return err
	}
	if validate {
		fmt.Fprintf(cmd.OutOrStdout(), "%d rules OK\n", len(rules))
		return nil
	}
	return nurturing.EncodeRules(cmd.OutOrStdout(), rules)
}
