package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/tablequeue/internal/client"
	"github.com/alfredjeanlab/tablequeue/internal/model"
)

// Staff commands are plain HTTP calls; they never run the guest engine.
var staffCmd = &cobra.Command{
	Use:     "staff",
	Short:   "Host-stand console",
	GroupID: "staff",
}

func staffClient() *client.HTTPClient {
	return client.NewHTTPClient(profile.ServerURL, client.WithToken(profile.Token))
}

var staffListCmd = &cobra.Command{
	Use:   "list <restaurant-id>",
	Short: "List the waiting and notified parties",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		f := model.EntryFilter{RestaurantID: args[0]}
		if !all {
			f.Status = []model.EntryStatus{model.EntryWaiting, model.EntryNotified}
		}
		entries, err := staffClient().ListEntries(context.Background(), f)
		if err != nil {
			return err
		}
		printEntries(entries)
		return nil
	},
}

func entryActionCmd(use, short string, fn func(c *client.HTTPClient, ctx context.Context, id string) (*model.WaitlistEntry, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <entry-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := fn(staffClient(), context.Background(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(e)
			}
			fmt.Printf("%s %s\n", e.ID, e.Status)
			return nil
		},
	}
}

var (
	staffNotifyCmd = entryActionCmd("notify", "Tell a party their table is ready", (*client.HTTPClient).NotifyEntry)
	staffSeatCmd   = entryActionCmd("seat", "Mark a notified party seated", (*client.HTTPClient).SeatEntry)
	staffRemoveCmd = entryActionCmd("remove", "Remove a waiting party", (*client.HTTPClient).CancelEntry)
)

var staffWaitCmd = &cobra.Command{
	Use:   "wait <restaurant-id> <minutes>",
	Short: "Publish the current wait time",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		minutes, err := strconv.Atoi(args[1])
		if err != nil || minutes < 0 {
			return fmt.Errorf("invalid minutes %q", args[1])
		}
		r, err := staffClient().SetWaitTime(context.Background(), args[0], minutes)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(r)
		}
		fmt.Printf("%s: %d min\n", r.Name, r.CurrentWaitTimeMinutes)
		return nil
	},
}

var staffUpsertCmd = &cobra.Command{
	Use:   "upsert <restaurant-id>",
	Short: "Create or replace a restaurant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r := &model.Restaurant{ID: args[0]}
		r.Name, _ = cmd.Flags().GetString("name")
		r.Address, _ = cmd.Flags().GetString("address")
		r.Latitude, _ = cmd.Flags().GetFloat64("lat")
		r.Longitude, _ = cmd.Flags().GetFloat64("lng")
		r.CurrentWaitTimeMinutes, _ = cmd.Flags().GetInt("wait")
		r.OpensAt, _ = cmd.Flags().GetString("opens")
		r.ClosesAt, _ = cmd.Flags().GetString("closes")

		out, err := staffClient().UpsertRestaurant(context.Background(), r)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(out)
		}
		fmt.Printf("Saved %s (%s)\n", out.ID, out.Name)
		return nil
	},
}

var staffListRestaurantsCmd = &cobra.Command{
	Use:   "restaurants",
	Short: "List restaurants and their open state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rs, err := staffClient().ListRestaurants(context.Background())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(rs)
		}
		pol := profile.Policy.HoursPolicy()
		now := time.Now()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tWAIT\tHOURS\tSTATE")
		for _, r := range rs {
			fmt.Fprintf(w, "%s\t%s\t%d min\t%s-%s\t%s\n",
				r.ID, r.Name, r.CurrentWaitTimeMinutes, r.OpensAt, r.ClosesAt, r.OpenState(now, pol))
		}
		w.Flush()
		return nil
	},
}

var staffWatchersCmd = &cobra.Command{
	Use:   "watchers <restaurant-id>",
	Short: "Show which guests are still watching their place in line",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		stale, _ := cmd.Flags().GetDuration("stale")
		ws, active, err := staffClient().Watchers(context.Background(), args[0], stale)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(map[string]any{"watchers": ws, "active": active})
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ENTRY\tUSER\tDEVICE\tLAST SEEN\tIDLE")
		for _, wt := range ws {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s ago\t%v\n",
				wt.EntryID, wt.UserID, wt.DeviceID, time.Duration(wt.IdleSecs*float64(time.Second)).Round(time.Second), wt.Idle)
		}
		w.Flush()
		fmt.Printf("\n%d watching (%d active)\n", len(ws), active)
		return nil
	},
}

func init() {
	staffListCmd.Flags().Bool("all", false, "include seated and cancelled entries")

	staffUpsertCmd.Flags().String("name", "", "display name")
	staffUpsertCmd.Flags().String("address", "", "street address")
	staffUpsertCmd.Flags().Float64("lat", 0, "latitude")
	staffUpsertCmd.Flags().Float64("lng", 0, "longitude")
	staffUpsertCmd.Flags().Int("wait", 0, "current wait in minutes")
	staffUpsertCmd.Flags().String("opens", "", "opening time HH:MM")
	staffUpsertCmd.Flags().String("closes", "", "closing time HH:MM")
	staffUpsertCmd.MarkFlagRequired("name")

	staffWatchersCmd.Flags().Duration("stale", 0, "hide devices silent for longer than this")

	staffCmd.AddCommand(staffListRestaurantsCmd)
	staffCmd.AddCommand(staffListCmd)
	staffCmd.AddCommand(staffNotifyCmd)
	staffCmd.AddCommand(staffSeatCmd)
	staffCmd.AddCommand(staffRemoveCmd)
	staffCmd.AddCommand(staffWaitCmd)
	staffCmd.AddCommand(staffUpsertCmd)
	staffCmd.AddCommand(staffWatchersCmd)
}
