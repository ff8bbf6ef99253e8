package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"ebakup-go/internal/app"
	"ebakup-go/internal/config"
	"ebakup-go/internal/snapshot"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var verbose bool

// newApp reads the config and creates an EbakupApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "backup", "verify").
func newApp(operation string) (*app.EbakupApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewEbakupApp(cfg, operation, verbose)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

var rootCmd = &cobra.Command{
	Use:          "ebakup",
	Short:        "Deduplicating backup tool",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir:   %s\n", defaults["base_dir"])
		fmt.Printf("Collection: %s\n", cfg.Collection.Path)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("Collection: %s\n", cfg.Collection.Path)
		fmt.Printf("Journal:    %s %s\n", cfg.Journal.Type, cfg.Journal.DataDir)
		for _, s := range cfg.Sources {
			fmt.Printf("Source:     %s", s.Path)
			if len(s.Ignore) > 0 {
				fmt.Printf(" (ignore %s)", strings.Join(s.Ignore, ", "))
			}
			fmt.Println()
		}
		return nil
	},
}

// create command
var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create the backup collection",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("create")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.CreateCollection(); err != nil {
			return fmt.Errorf("creating collection: %w", err)
		}
		fmt.Println("Collection created")
		return nil
	},
}

// backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Back up all configured sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("backup")
		if err != nil {
			return err
		}
		defer a.Close()

		name, stats, err := a.Backup(cmd.Context())
		if err != nil {
			return fmt.Errorf("backup failed: %w", err)
		}

		fmt.Printf("Snapshot %s: %d file(s), %d special, %d directories, %d bytes\n",
			name, stats.Files, stats.Special, stats.Directories, stats.Bytes)
		if stats.Skipped > 0 {
			fmt.Printf("Skipped %d entries (see log)\n", stats.Skipped)
		}
		return nil
	},
}

// list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("list")
		if err != nil {
			return err
		}
		defer a.Close()

		names, err := a.ListBackups()
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Println("No snapshots.")
			return nil
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	},
}

// show command
var showCmd = &cobra.Command{
	Use:   "show [SNAPSHOT]",
	Short: "Show the files of a snapshot (default: the most recent)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("show")
		if err != nil {
			return err
		}
		defer a.Close()

		name := ""
		if len(args) > 0 {
			name = args[0]
		}
		snap, err := a.ShowBackup(name)
		if err != nil {
			return err
		}

		fmt.Printf("Snapshot %s (started %s, ended %s)\n", snap.Name,
			snap.Start.Format("2006-01-02 15:04:05"), snap.End.Format("2006-01-02 15:04:05"))
		return snap.Walk(func(e snapshot.Entry) error {
			if e.Dir != nil {
				fmt.Printf("%-8s %12s  %s  %s/\n", "dir", "", strings.Repeat(" ", 19), e.Path)
				return nil
			}
			f := e.File
			fmt.Printf("%-8s %12d  %s  %s", f.Type, f.Size, f.MTime.Format("2006-01-02 15:04:05"), e.Path)
			if f.ContentID != "" {
				fmt.Printf("  %s", shortID(f.ContentID.Hex()))
			}
			fmt.Println()
			return nil
		})
	},
}

// info command
var infoCmd = &cobra.Command{
	Use:   "info CONTENT_ID",
	Short: "Show the checksum history of stored content",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("info")
		if err != nil {
			return err
		}
		defer a.Close()

		info, err := a.ContentInfo(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Content %s\n", info.ID.Hex())
		fmt.Printf("Good checksum %x\n", info.GoodChecksum)
		fmt.Printf("First seen    %s\n", info.FirstSeen().Format("2006-01-02 15:04:05"))
		if bytes.Equal(info.LastChecksum(), info.GoodChecksum) {
			fmt.Println("Last check    good")
		} else {
			fmt.Printf("Last check    damaged (%x)\n", info.LastChecksum())
		}
		for _, e := range info.Timeline {
			restored := ""
			if e.Restored {
				restored = "  [good]"
			}
			fmt.Printf("%s .. %s  %x%s\n",
				e.FirstSeen.Format("2006-01-02 15:04:05"),
				e.LastSeen.Format("2006-01-02 15:04:05"),
				e.Checksum, restored)
		}
		return nil
	},
}

// verify command
var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify all stored content against its checksums",
	RunE: func(cmd *cobra.Command, args []string) error {
		record, _ := cmd.Flags().GetBool("record")

		a, err := newApp("verify")
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Verify(cmd.Context(), record)
		if err != nil {
			return fmt.Errorf("verify failed: %w", err)
		}
		for _, id := range report.Missing {
			fmt.Printf("missing  %s\n", id.Hex())
		}
		for _, id := range report.Corrupt {
			fmt.Printf("corrupt  %s\n", id.Hex())
		}
		fmt.Printf("Checked %d blob(s): %d missing, %d corrupt\n", report.Checked, len(report.Missing), len(report.Corrupt))
		if !report.OK() {
			return fmt.Errorf("collection has %d damaged blob(s)", len(report.Missing)+len(report.Corrupt))
		}
		return nil
	},
}

// shadow command
var shadowCmd = &cobra.Command{
	Use:   "shadow SNAPSHOT DEST",
	Short: "Build a browsable tree of a snapshot without copying data",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("shadow")
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.Shadow(args[0], args[1])
		if err != nil {
			return fmt.Errorf("shadow copy failed: %w", err)
		}
		fmt.Printf("Linked %d file(s) into %s\n", n, args[1])
		return nil
	},
}

// restore command
var restoreCmd = &cobra.Command{
	Use:   "restore SNAPSHOT PATH DEST",
	Short: "Restore a file or directory from a snapshot",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("restore")
		if err != nil {
			return err
		}
		defer a.Close()

		written, err := a.Restore(cmd.Context(), args[0], args[1], args[2])
		for _, p := range written {
			fmt.Println(p)
		}
		if err != nil {
			return fmt.Errorf("restore failed: %w", err)
		}
		fmt.Printf("Restored %d file(s)\n", len(written))
		return nil
	},
}

// log command
var logCmd = &cobra.Command{
	Use:   "log PATH",
	Short: "View the versions of a file across snapshots",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("log")
		if err != nil {
			return err
		}
		defer a.Close()

		versions, err := a.FileHistory(args[0])
		if err != nil {
			return err
		}
		for _, v := range versions {
			changed := ""
			if v.Changed {
				changed = "  [changed]"
			}
			fmt.Printf("%s  %s  %d  mtime:%s%s\n",
				v.Snapshot,
				shortID(v.ContentID.Hex()),
				v.Size,
				v.MTime.Local().Format("2006-01-02 15:04:05"),
				changed,
			)
		}
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp("history")
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.History(limit)
		if err != nil {
			return err
		}

		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}

		for _, op := range ops {
			duration := ""
			if op.Finished() {
				duration = op.Duration().Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-8s  %s  %-7s  %-8s  %s\n",
				op.ID,
				op.Operation,
				op.StartedAt.Local().Format("2006-01-02 15:04:05"),
				op.Status,
				duration,
				op.Detail,
			)
		}
		return nil
	},
}

// shortID abbreviates a hex content id for listings.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug messages")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().Bool("record", false, "Add the computed checksums to the checksum history")
	rootCmd.AddCommand(shadowCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
}
