package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"chartbak/internal/app"
	"chartbak/internal/config"
	"chartbak/internal/engine"
	"chartbak/internal/sched"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and wires the application. The caller must defer
// a.Close().
func newApp() (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	a, err := app.New(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// readPassphrase prompts on the terminal without echoing.
func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	pass, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(pass), nil
}

var rootCmd = &cobra.Command{
	Use:   "chartbak",
	Short: "Backup and restore for the records database",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init DATA_DIR",
	Short: "Initialize configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(args[0], defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Data Dir:  %s\n", args[0])
		fmt.Printf("State Dir: %s\n", defaults["base_dir"])
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

		m := &config.Manager{}
		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		return m.Write(os.Stdout, cfg)
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage encryption material",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate encryption key pair and salt",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if a.Material.IsConfigured() {
			return fmt.Errorf("encryption material already exists")
		}

		pass, err := readPassphrase("New passphrase: ")
		if err != nil {
			return err
		}
		confirm, err := readPassphrase("Confirm passphrase: ")
		if err != nil {
			return err
		}
		if pass != confirm {
			return fmt.Errorf("passphrases do not match")
		}

		if err := a.Material.Setup(pass); err != nil {
			return fmt.Errorf("generating encryption material: %w", err)
		}

		fmt.Println("Encryption material generated.")
		return nil
	},
}

// backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Run a backup now",
	RunE: func(cmd *cobra.Command, args []string) error {
		full, _ := cmd.Flags().GetBool("full")
		reason, _ := cmd.Flags().GetString("reason")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Coordinator.Execute(cmd.Context(), reason, full)
		if err != nil {
			return fmt.Errorf("backup failed: %w", err)
		}

		fmt.Printf("Backup %s complete (%s, %d bytes)\n",
			res.Backup.ID, res.Backup.Kind, res.Backup.ArchiveSize)
		return nil
	},
}

// list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List restorable backups, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		backups, err := a.Engine.ListBackups(all)
		if err != nil {
			return err
		}

		if len(backups) == 0 {
			fmt.Println("No backups recorded.")
			return nil
		}

		for _, b := range backups {
			parent := "-"
			if b.ParentID != "" {
				parent = b.ParentID
			}
			fmt.Printf("%s  %-11s  %-11s  %s  %12d  %s\n",
				b.ID,
				b.Kind,
				b.Status,
				b.CreatedAt.Format("2006-01-02 15:04:05"),
				b.ArchiveSize,
				parent,
			)
		}
		return nil
	},
}

// restore command
var restoreCmd = &cobra.Command{
	Use:   "restore BACKUP_ID",
	Short: "Restore the database and attachments from a backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		var sess engine.DecryptionContext
		if a.Material.IsConfigured() {
			pass, err := readPassphrase("Passphrase: ")
			if err != nil {
				return err
			}
			sess, err = a.Material.Unlock(pass)
			if err != nil {
				return fmt.Errorf("unlocking private key: %w", err)
			}
		}

		if err := a.Engine.Restore(cmd.Context(), args[0], sess); err != nil {
			return fmt.Errorf("restore failed: %w", err)
		}

		fmt.Printf("Restored backup %s\n", args[0])
		return nil
	},
}

// prune command
var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Apply retention rules now",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Engine.Prune(); err != nil {
			return fmt.Errorf("prune failed: %w", err)
		}
		fmt.Println("Retention applied.")
		return nil
	},
}

// agent command
var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run alongside the records application, backing up per schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		var scheduler *sched.Scheduler
		if a.Config.Backup.Frequency == string(engine.ModeDaily) {
			scheduler, err = sched.New(a.Coordinator, a.Logger, a.Config.Backup.DailyAt)
			if err != nil {
				return err
			}
			scheduler.Start()
			defer scheduler.Stop()
		}

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

		a.Logger.Info("agent running", "frequency", a.Config.Backup.Frequency)
		sig := <-sigs
		a.Logger.Info("shutting down", "signal", sig.String())

		// Blocks until the shutdown backup occurrence has finished.
		a.Coordinator.OnInterrupt()
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	keysCmd.AddCommand(keysInitCmd)

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(backupCmd)
	backupCmd.Flags().Bool("full", false, "Force a full backup")
	backupCmd.Flags().String("reason", "manual", "Reason recorded with the backup")
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().Bool("all", false, "Include corrupt and in-progress records")
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(agentCmd)
}
