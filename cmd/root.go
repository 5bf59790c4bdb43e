package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/tix/internal/kv"
	"github.com/joescharf/tix/internal/models"
	"github.com/joescharf/tix/internal/output"
	"github.com/joescharf/tix/internal/ticket"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui          *output.UI
	ticketStore *ticket.Store

	verbose bool
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "tix",
	Short: "tix - local-first ticket tracking",
	Long: `tix keeps a durable ticket collection on your machine, usable without
any server. Tickets carry a unique id and a monotonically increasing
serial number, and only the user who created a ticket may change or
delete it.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return ticketListRun()
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/tix/config.yaml)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "tix")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("TIX")
	viper.AutomaticEnv()

	// Defaults via viper.SetDefault()
	home, _ := os.UserHomeDir()
	defaultConfigDir := filepath.Join(home, ".config", "tix")

	viper.SetDefault("state_dir", defaultConfigDir)
	viper.SetDefault("db_path", filepath.Join(defaultConfigDir, "tix.db"))
	viper.SetDefault("user.id", "")
	viper.SetDefault("user.name", "")
	viper.SetDefault("user.avatar", "")
	viper.SetDefault("serve.port", 8080)

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	// Initialize the store lazily — only when commands actually need it.
	// This allows config/version commands to run without a database.
}

// getStore returns the shared ticket store, initializing it on first call.
func getStore() (*ticket.Store, error) {
	if ticketStore != nil {
		return ticketStore, nil
	}

	dbPath := viper.GetString("db_path")
	b, err := kv.NewSQLiteBackend(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := b.Migrate(rootCmd.Context()); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	ticketStore = ticket.New(b)
	return ticketStore, nil
}

// currentUser returns the configured local identity. The id may be empty;
// mutating commands will then fail the ownership check.
func currentUser() models.Identity {
	return models.Identity{
		ID:     viper.GetString("user.id"),
		Name:   viper.GetString("user.name"),
		Avatar: viper.GetString("user.avatar"),
	}
}

// requireUser returns the configured identity or an error telling the user
// how to set one up.
func requireUser() (models.Identity, error) {
	id := currentUser()
	if id.ID == "" {
		return models.Identity{}, fmt.Errorf("no user configured — set user.id and user.name in the config (tix config init) or TIX_USER_ID")
	}
	return id, nil
}
