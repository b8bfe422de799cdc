package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/tablequeue/internal/model"
	"github.com/alfredjeanlab/tablequeue/internal/waitlist"
)

var joinCmd = &cobra.Command{
	Use:     "join <restaurant-id>",
	Short:   "Join a restaurant's waitlist",
	GroupID: "waitlist",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := requireUser()
		if err != nil {
			return err
		}
		party, _ := cmd.Flags().GetInt("party")
		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			name = profile.LeaderName
		}
		stay, _ := cmd.Flags().GetBool("watch")

		ctx := context.Background()
		d, err := openDevice(ctx, stay, printView)
		if err != nil {
			return err
		}
		defer d.Close()

		_, view, err := d.engine.Join(ctx, waitlist.JoinRequest{
			RestaurantID: args[0],
			UserID:       userID,
			PartySize:    party,
			LeaderName:   name,
		})
		if err != nil {
			return err
		}
		printView(view)
		if !stay {
			return nil
		}
		return runUntilSignal(d, 1)
	},
}

var positionCmd = &cobra.Command{
	Use:     "position [entry-id]",
	Short:   "Show your place in line",
	GroupID: "waitlist",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		d, err := openDevice(ctx, false, nil)
		if err != nil {
			return err
		}
		defer d.Close()

		ids := args
		if len(ids) == 0 {
			userID, err := requireUser()
			if err != nil {
				return err
			}
			active, err := d.client.ListEntries(ctx, model.EntryFilter{
				UserID: userID,
				Status: []model.EntryStatus{model.EntryWaiting, model.EntryNotified},
			})
			if err != nil {
				return err
			}
			if len(active) == 0 {
				fmt.Println("Not in any line.")
				return nil
			}
			for _, e := range active {
				ids = append(ids, e.ID)
			}
		}
		for _, id := range ids {
			view, err := d.engine.Position(ctx, id)
			if err != nil {
				return err
			}
			printView(view)
		}
		return nil
	},
}

var leaveCmd = &cobra.Command{
	Use:     "leave <entry-id>",
	Short:   "Leave a waitlist",
	GroupID: "waitlist",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := requireUser()
		if err != nil {
			return err
		}
		ctx := context.Background()
		d, err := openDevice(ctx, false, nil)
		if err != nil {
			return err
		}
		defer d.Close()

		e, err := d.engine.Leave(ctx, userID, args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(e)
		}
		fmt.Printf("Left the line at %s.\n", e.RestaurantID)
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:     "watch",
	Short:   "Follow your live entries and alert when a table is ready",
	GroupID: "waitlist",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := requireUser()
		if err != nil {
			return err
		}
		ctx := context.Background()
		d, err := openDevice(ctx, true, printView)
		if err != nil {
			return err
		}
		defer d.Close()

		if _, err := d.engine.ResumeSession(ctx, userID); err != nil {
			logger.Warn("session not resumed", "err", err)
		}
		active, err := d.engine.Resume(ctx, userID)
		if err != nil {
			return err
		}
		if len(active) == 0 {
			fmt.Println("Not in any line.")
			return nil
		}
		printEntries(active)
		return runUntilSignal(d, len(active))
	},
}

// runUntilSignal drives the change feed until SIGINT or SIGTERM, or until
// seated parties have returned home from n entries.
func runUntilSignal(d *device, n int) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		for seen := 0; seen < n; seen++ {
			select {
			case <-ctx.Done():
				return
			case <-d.returned:
			}
		}
		stop()
	}()
	if err := d.engine.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func init() {
	joinCmd.Flags().IntP("party", "p", 2, "party size")
	joinCmd.Flags().StringP("name", "n", "", "party leader name (default from the profile)")
	joinCmd.Flags().BoolP("watch", "w", false, "keep running and alert when the table is ready")
}
