package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/tablequeue/internal/config"
	"github.com/alfredjeanlab/tablequeue/internal/ui"
)

var (
	profilePath string
	userFlag    string
	jsonOutput  bool
	verbose     bool

	profile config.Profile
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "tq <command>",
	Short:         "Restaurant waitlist and group orders",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)

		if !ui.ShouldUseColor() {
			ui.ForceNoColor()
		}

		if profilePath == "" {
			p, err := config.ProfilePath()
			if err != nil {
				return fmt.Errorf("locating profile: %w", err)
			}
			profilePath = p
		}
		p, err := config.LoadProfile(profilePath)
		if err != nil {
			return err
		}
		p.ApplyEnv()
		if userFlag != "" {
			p.UserID = userFlag
		}
		profile = p
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&profilePath, "profile", "", "device profile (default $TQ_PROFILE or ~/.local/state/tablequeue/profile.toml)")
	rootCmd.PersistentFlags().StringVar(&userFlag, "user", "", "user id (overrides the profile)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddGroup(
		&cobra.Group{ID: "waitlist", Title: "Waitlist:"},
		&cobra.Group{ID: "group", Title: "Group orders:"},
		&cobra.Group{ID: "staff", Title: "Staff:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)
	cobra.EnableCommandSorting = false

	// Waitlist
	rootCmd.AddCommand(joinCmd)
	rootCmd.AddCommand(positionCmd)
	rootCmd.AddCommand(leaveCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(nearbyCmd)

	// Group orders
	rootCmd.AddCommand(sessionCmd)

	// Staff
	rootCmd.AddCommand(staffCmd)

	// System
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(profileCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
