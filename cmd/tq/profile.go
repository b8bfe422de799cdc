package main

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/tablequeue/internal/config"
	"github.com/alfredjeanlab/tablequeue/internal/model"
)

var profileCmd = &cobra.Command{
	Use:     "profile",
	Short:   "Show the device profile",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if jsonOutput {
			return printJSON(profile)
		}
		fmt.Printf("# %s\n", profilePath)
		return toml.NewEncoder(cmd.OutOrStdout()).Encode(profile)
	},
}

var profileSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Update the device profile (--user sets the user id)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Start from the file, not the env-merged profile, so overrides are
		// not persisted by accident.
		p, err := config.LoadProfile(profilePath)
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		if userFlag != "" {
			p.UserID = userFlag
			if !model.ValidID(p.UserID) {
				return fmt.Errorf("invalid user id %q", p.UserID)
			}
		}
		if flags.Changed("name") {
			p.LeaderName, _ = flags.GetString("name")
		}
		if flags.Changed("server") {
			p.ServerURL, _ = flags.GetString("server")
		}
		if flags.Changed("token") {
			p.Token, _ = flags.GetString("token")
		}
		if flags.Changed("nats") {
			p.NATSURL, _ = flags.GetString("nats")
		}
		if flags.Changed("redis") {
			p.RedisURL, _ = flags.GetString("redis")
		}
		if err := config.SaveProfile(profilePath, p); err != nil {
			return err
		}
		fmt.Printf("Saved %s\n", profilePath)
		return nil
	},
}

func init() {
	f := profileSetCmd.Flags()
	f.String("name", "", "default party leader name")
	f.String("server", "", "server URL")
	f.String("token", "", "bearer token")
	f.String("nats", "", "NATS URL for the change feed (empty = SSE)")
	f.String("redis", "", "Redis URL for device state (empty = files)")

	profileCmd.AddCommand(profileSetCmd)
}
