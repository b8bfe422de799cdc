package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/tablequeue/internal/client"
	"github.com/alfredjeanlab/tablequeue/internal/server"
)

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check the server's HTTP and gRPC health",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		grpcAddr, _ := cmd.Flags().GetString("grpc")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		status, err := staffClient().Health(ctx)
		if err != nil {
			return fmt.Errorf("checking health: %w", err)
		}
		out := map[string]string{"http": status}
		if grpcAddr != "" {
			gs, err := client.CheckGRPCHealth(ctx, grpcAddr, server.ServiceName)
			if err != nil {
				return err
			}
			out["grpc"] = gs
		}

		if jsonOutput {
			if err := printJSON(out); err != nil {
				return err
			}
		} else {
			fmt.Printf("HTTP: %s\n", status)
			if gs, ok := out["grpc"]; ok {
				fmt.Printf("gRPC: %s\n", gs)
			}
		}
		if status != "ok" {
			return fmt.Errorf("unhealthy: %s", status)
		}
		if gs, ok := out["grpc"]; ok && gs != "SERVING" {
			return fmt.Errorf("gRPC not serving: %s", gs)
		}
		return nil
	},
}

func init() {
	healthCmd.Flags().String("grpc", "", "also check the gRPC health service at this address")
}
