package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/tablequeue/internal/idgen"
	"github.com/alfredjeanlab/tablequeue/internal/model"
	"github.com/alfredjeanlab/tablequeue/internal/party"
)

var sessionCmd = &cobra.Command{
	Use:     "session",
	Short:   "Start and share group orders",
	GroupID: "group",
}

var sessionStartCmd = &cobra.Command{
	Use:   "start <restaurant-id>",
	Short: "Start a group order, or reuse your open one",
	Args:  cobra.ExactArgs(1),
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

		out, err := d.engine.StartOrJoinSession(ctx, userID, args[0])
		if err != nil {
			return err
		}
		return printOutcome(out, args[0])
	},
}

var sessionResolveCmd = &cobra.Command{
	Use:       "resolve <restaurant-id> navigate|cancel",
	Short:     "Resolve an open group order at another restaurant",
	Long:      "navigate keeps the existing group order; cancel drops it and starts one at <restaurant-id>.",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"navigate", "cancel"},
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := requireUser()
		if err != nil {
			return err
		}
		var action party.Resolution
		switch args[1] {
		case "navigate":
			action = party.ResolveNavigate
		case "cancel":
			action = party.ResolveCancel
		default:
			return fmt.Errorf("unknown resolution %q (must be navigate or cancel)", args[1])
		}

		ctx := context.Background()
		d, err := openDevice(ctx, false, nil)
		if err != nil {
			return err
		}
		defer d.Close()

		out, err := d.engine.StartOrJoinSession(ctx, userID, args[0])
		if err != nil {
			return err
		}
		if out.Kind == party.Conflict {
			out, err = d.engine.ResolveSessionConflict(ctx, userID, args[0], out, action)
			if err != nil {
				return err
			}
		}
		return printOutcome(out, args[0])
	},
}

func printOutcome(out party.Outcome, restaurantID string) error {
	if jsonOutput {
		return printJSON(map[string]any{"outcome": out.Kind.String(), "session": out.Session})
	}
	switch out.Kind {
	case party.Created:
		fmt.Println("Started a group order.")
	case party.Reused:
		fmt.Println("You already have a group order here.")
	case party.Conflict:
		printSession(out.Session)
		return fmt.Errorf("you have an open group order at %s: run `tq session resolve %s navigate|cancel`",
			out.Session.RestaurantID, restaurantID)
	}
	printSession(out.Session)
	return nil
}

var sessionJoinCmd = &cobra.Command{
	Use:   "join <session-id>",
	Short: "Join someone else's group order",
	Args:  cobra.ExactArgs(1),
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

		ps, err := d.engine.JoinSession(ctx, userID, args[0])
		if err != nil {
			return err
		}
		printSession(ps)
		return nil
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the group order this device is attached to",
	Args:  cobra.NoArgs,
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

		ps, err := d.engine.ResumeSession(ctx, userID)
		if err != nil {
			return err
		}
		if ps == nil {
			fmt.Println("No open group order.")
			return nil
		}
		printSession(ps)
		return nil
	},
}

var sessionCancelCmd = &cobra.Command{
	Use:   "cancel <session-id>",
	Short: "Cancel your group order and its cart",
	Args:  cobra.ExactArgs(1),
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

		ps, err := d.engine.CancelSession(ctx, userID, args[0])
		if err != nil {
			return err
		}
		printSession(ps)
		return nil
	},
}

var sessionAddCmd = &cobra.Command{
	Use:   "add <session-id> <item>",
	Short: "Add an item to a group order",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := requireUser()
		if err != nil {
			return err
		}
		qty, _ := cmd.Flags().GetInt("qty")
		notes, _ := cmd.Flags().GetString("notes")

		id, err := idgen.Item()
		if err != nil {
			return err
		}
		it := &model.SessionItem{
			ID:        id,
			SessionID: args[0],
			UserID:    userID,
			Name:      args[1],
			Quantity:  qty,
			Notes:     notes,
		}

		ctx := context.Background()
		d, err := openDevice(ctx, false, nil)
		if err != nil {
			return err
		}
		defer d.Close()

		if err := d.engine.AddItem(ctx, it); err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(it)
		}
		fmt.Printf("Added %d x %s.\n", it.Quantity, it.Name)
		return nil
	},
}

var sessionItemsCmd = &cobra.Command{
	Use:   "items <session-id>",
	Short: "List a group order's cart",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		d, err := openDevice(ctx, false, nil)
		if err != nil {
			return err
		}
		defer d.Close()

		items, err := d.engine.Items(ctx, args[0])
		if err != nil {
			return err
		}
		printItems(items)
		return nil
	},
}

func init() {
	sessionAddCmd.Flags().IntP("qty", "q", 1, "quantity")
	sessionAddCmd.Flags().String("notes", "", "notes for the kitchen")

	sessionCmd.AddCommand(sessionStartCmd)
	sessionCmd.AddCommand(sessionResolveCmd)
	sessionCmd.AddCommand(sessionJoinCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionCancelCmd)
	sessionCmd.AddCommand(sessionAddCmd)
	sessionCmd.AddCommand(sessionItemsCmd)
}
