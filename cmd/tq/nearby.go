package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/tablequeue/internal/geo"
	"github.com/alfredjeanlab/tablequeue/internal/model"
	"github.com/alfredjeanlab/tablequeue/internal/ui"
)

var nearbyCmd = &cobra.Command{
	Use:     "nearby",
	Short:   "List restaurants near a location, grouped into clusters",
	GroupID: "waitlist",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		lat, _ := cmd.Flags().GetFloat64("lat")
		lng, _ := cmd.Flags().GetFloat64("lng")
		cycle, _ := cmd.Flags().GetInt("cycle")

		ctx := context.Background()
		d, err := openDevice(ctx, false, nil)
		if err != nil {
			return err
		}
		defer d.Close()

		clusters, err := d.engine.Nearby(ctx, geo.Point{Lat: lat, Lng: lng})
		if err != nil {
			return err
		}
		if cycle > 0 {
			var order []geo.Cluster
			for i := 0; i < cycle; i++ {
				c, ok := d.engine.CycleNext()
				if !ok {
					break
				}
				order = append(order, c)
			}
			clusters = order
		}
		if jsonOutput {
			return printJSON(clusters)
		}
		if len(clusters) == 0 {
			fmt.Println("Nothing nearby.")
			return nil
		}

		rs, err := d.client.ListRestaurants(ctx)
		if err != nil {
			return err
		}
		byID := make(map[string]*model.Restaurant, len(rs))
		for _, r := range rs {
			byID[r.ID] = r
		}
		for i, c := range clusters {
			fmt.Printf("%s\n", ui.RenderAccent(fmt.Sprintf("Cluster %d", i+1)))
			for _, m := range c.Members {
				wait := ""
				if r := byID[m.ID]; r != nil {
					wait = fmt.Sprintf("  ~%d min", r.CurrentWaitTimeMinutes)
				}
				fmt.Printf("  %-24s %5.1f mi%s\n", m.Name, m.Miles, ui.RenderMuted(wait))
			}
		}
		return nil
	},
}

func init() {
	nearbyCmd.Flags().Float64("lat", 0, "latitude")
	nearbyCmd.Flags().Float64("lng", 0, "longitude")
	nearbyCmd.Flags().Int("cycle", 0, "print clusters in map-cycle order, this many steps")
	nearbyCmd.MarkFlagRequired("lat")
	nearbyCmd.MarkFlagRequired("lng")
}
