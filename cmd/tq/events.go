package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:     "events",
	Short:   "Show your notification history",
	GroupID: "waitlist",
	Args:    cobra.NoArgs,
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

		evs, err := d.engine.Events(ctx, userID)
		if err != nil {
			return err
		}
		unread, err := d.engine.UnreadCount(ctx, userID)
		if err != nil {
			return err
		}
		printEvents(evs, unread)
		return nil
	},
}

var eventsReadCmd = &cobra.Command{
	Use:   "read",
	Short: "Mark every event read",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUserEngine(func(ctx context.Context, d *device, userID string) error {
			return d.engine.MarkAllRead(ctx, userID)
		})
	},
}

var eventsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete your notification history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUserEngine(func(ctx context.Context, d *device, userID string) error {
			if err := d.engine.Clear(ctx, userID); err != nil {
				return err
			}
			fmt.Println("History cleared.")
			return nil
		})
	},
}

func withUserEngine(fn func(ctx context.Context, d *device, userID string) error) error {
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
	return fn(ctx, d, userID)
}

func init() {
	eventsCmd.AddCommand(eventsReadCmd)
	eventsCmd.AddCommand(eventsClearCmd)
}
