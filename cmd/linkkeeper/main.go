package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/stellarlinkco/linkkeeper/internal/config"
	"github.com/stellarlinkco/linkkeeper/internal/gateway"
	"github.com/stellarlinkco/linkkeeper/internal/store"
	"github.com/stellarlinkco/linkkeeper/internal/task"
)

// gatewayOptions are passed to the gateway; tests swap the notifier and clock.
var gatewayOptions gateway.Options

var rootCmd = &cobra.Command{
	Use:   "linkkeeper",
	Short: "linkkeeper - track links, deadlines and progress from chat",
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the gateway (telegram + reminder loop)",
	RunE:  runGateway,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and data directory",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show linkkeeper status",
	RunE:  runStatus,
}

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run one reminder pass and exit",
	RunE:  runTick,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked tasks",
	RunE:  runList,
}

var ownerFlag string

func init() {
	listCmd.Flags().StringVarP(&ownerFlag, "owner", "o", "", "Only list tasks of this chat id")
	rootCmd.AddCommand(gatewayCmd, onboardCmd, statusCmd, tickCmd, listCmd)
}

func main() {
	// A missing .env is fine.
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.Channels.Telegram.Enabled && gatewayOptions.Notifier == nil {
		return fmt.Errorf("telegram is not enabled. Run 'linkkeeper onboard' and set channels.telegram, or set LINKKEEPER_TELEGRAM_TOKEN")
	}

	gw, err := gateway.NewWithOptions(cfg, gatewayOptions)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}
	return gw.Run(cmdContext(cmd))
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func runTick(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gw, err := gateway.NewWithOptions(cfg, gatewayOptions)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}
	defer gw.Shutdown()

	rep, err := gw.TickOnce(cmdContext(cmd))
	if err != nil {
		return fmt.Errorf("tick: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Window: %s - %s\n", rep.Window[0].Format(time.RFC3339), rep.Window[1].Format(time.RFC3339))
	fmt.Fprintf(out, "Tasks: %d, expired: %d, sent: %d, failed: %d\n", rep.Tasks, rep.Expired, rep.Sent, rep.Failed)
	for _, f := range rep.Failures {
		fmt.Fprintf(out, "  error: %v\n", f)
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	engine, err := store.NewEngine(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer engine.Close()

	var tasks []*task.Task
	if ownerFlag != "" {
		tasks, err = engine.ListByOwner(ownerFlag)
	} else {
		tasks, err = engine.ListAll()
	}
	if err != nil {
		return err
	}

	loc, _ := cfg.Reminder.Location()
	printTasks(cmd.OutOrStdout(), tasks, loc)
	return nil
}

func printTasks(w io.Writer, tasks []*task.Task, loc *time.Location) {
	if len(tasks) == 0 {
		fmt.Fprintln(w, "No tasks.")
		return
	}
	for _, t := range tasks {
		due := "-"
		if t.Deadline != nil {
			due = t.Deadline.In(loc).Format("2006-01-02")
		}
		name := t.Title
		if name == "" {
			name = t.URL
		}
		fmt.Fprintf(w, "%s  %-11s %-9s %-10s %3d%%  %s\n",
			task.ShortID(t.ID), t.Status, t.Category, due, task.ComputeProgress(t), name)
	}
}

func runOnboard(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfgPath := config.ConfigPath()

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(out, "Created config: %s\n", cfgPath)
	} else {
		fmt.Fprintf(out, "Config already exists: %s\n", cfgPath)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	dataDir := filepath.Dir(cfg.DBPath())
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	fmt.Fprintf(out, "Data directory ready: %s\n", dataDir)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintf(out, "  1. Edit %s to enable telegram and set the bot token\n", cfgPath)
	fmt.Fprintln(out, "  2. Or set LINKKEEPER_TELEGRAM_TOKEN (a .env file works too)")
	fmt.Fprintln(out, "  3. Run 'linkkeeper gateway'")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(out, "Config: error (%v)\n", err)
		return nil
	}

	fmt.Fprintf(out, "Config: %s\n", config.ConfigPath())
	fmt.Fprintf(out, "Database: %s\n", cfg.DBPath())
	fmt.Fprintf(out, "Classifier: %s\n", cfg.Classifier.Mode)
	if strings.EqualFold(cfg.Classifier.Mode, config.ClassifierLLM) {
		fmt.Fprintf(out, "Model: %s\n", cfg.Classifier.Model)
		fmt.Fprintf(out, "Provider: %s\n", providerDisplay(cfg.Provider.Type))
		fmt.Fprintf(out, "API Key: %s\n", maskKey(cfg.Provider.APIKey))
	}
	fmt.Fprintf(out, "Telegram: enabled=%v\n", cfg.Channels.Telegram.Enabled)
	tz := cfg.Reminder.Timezone
	if tz == "" {
		tz = "local"
	}
	fmt.Fprintf(out, "Reminders: every %s, summaries at %02d:00 %s\n", cfg.Reminder.Interval(), cfg.Reminder.SummaryHour, tz)

	if _, err := os.Stat(cfg.DBPath()); err != nil {
		fmt.Fprintln(out, "Tasks: no database yet (run 'linkkeeper onboard')")
		return nil
	}
	engine, err := store.NewEngine(cfg.DBPath())
	if err != nil {
		fmt.Fprintf(out, "Tasks: error (%v)\n", err)
		return nil
	}
	defer engine.Close()

	tasks, err := engine.ListAll()
	if err != nil {
		fmt.Fprintf(out, "Tasks: error (%v)\n", err)
		return nil
	}
	fmt.Fprintf(out, "Tasks: %d\n", len(tasks))
	if last, ok, err := engine.LastTick(); err == nil && ok {
		fmt.Fprintf(out, "Last tick: %s\n", last.Format(time.RFC3339))
	} else {
		fmt.Fprintln(out, "Last tick: never")
	}
	return nil
}

func providerDisplay(t string) string {
	if t == "" {
		return "anthropic (default)"
	}
	return t
}

func maskKey(key string) string {
	switch {
	case key == "":
		return "not set"
	case len(key) > 8:
		return key[:4] + "..." + key[len(key)-4:]
	}
	return "set"
}
