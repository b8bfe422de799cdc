package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/alfredjeanlab/tablequeue/internal/model"
	"github.com/alfredjeanlab/tablequeue/internal/ui"
)

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func printView(v model.ActiveEntryView) {
	if jsonOutput {
		printJSON(v)
		return
	}
	fmt.Printf("%s  %s  %s\n", ui.RenderAccent(v.EntryID), v.RestaurantName, ui.RenderStatus(string(v.Status)))
	if v.Status == model.EntryWaiting {
		fmt.Printf("  position %d of %d, about %d min\n", v.Position, v.TotalInQueue, v.WaitTimeMinutes)
	}
}

func printEntries(entries []*model.WaitlistEntry) {
	if jsonOutput {
		printJSON(entries)
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tRESTAURANT\tSTATUS\tPARTY\tLEADER\tJOINED")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			e.ID, e.RestaurantID, e.Status, e.PartySize, e.PartyLeaderName,
			e.CreatedAt.Local().Format("15:04:05"))
	}
	w.Flush()
}

func printSession(ps *model.PartySession) {
	if jsonOutput {
		printJSON(ps)
		return
	}
	fmt.Printf("%s  %s  host %s  %s\n", ui.RenderAccent(ps.ID), ps.RestaurantID, ps.HostUserID, ui.RenderStatus(string(ps.Status)))
}

func printItems(items []*model.SessionItem) {
	if jsonOutput {
		printJSON(items)
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "QTY\tITEM\tUSER\tNOTES")
	for _, it := range items {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", it.Quantity, it.Name, it.UserID, it.Notes)
	}
	w.Flush()
}

func printEvents(evs []model.NotificationEvent, unread int) {
	if jsonOutput {
		printJSON(evs)
		return
	}
	for _, ev := range evs {
		mark := " "
		if !ev.Read {
			mark = ui.RenderWarn("*")
		}
		fmt.Printf("%s %s  %s\n", mark, ui.RenderMuted(ev.Timestamp.Local().Format("Jan 2 15:04")), ui.Banner(ev))
	}
	fmt.Printf("\n%d events (%d unread)\n", len(evs), unread)
}
