// Command rabiactl is a small CLI that talks to a running rabiad node's
// admin HTTP server to submit batches and inspect topology/leader state.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jabolina/rabia/pkg/httpclient"
)

func main() {
	var addr string
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	root := &cobra.Command{
		Use:   "rabiactl",
		Short: "Control a running rabiad node",
	}
	root.PersistentFlags().StringVar(&addr, "addr", "http://127.0.0.1:8080", "admin HTTP address of the target node")

	root.AddCommand(submitCmd(&addr, log), topologyCmd(&addr, log), leaderCmd(&addr, log))

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func submitCmd(addr *string, log zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "submit [commands...]",
		Short: "Submit a batch of commands and wait for its commit result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := httpclient.New(*addr, log)
			var resp struct {
				CorrelationId string   `json:"correlation_id"`
				Results       []string `json:"results,omitempty"`
				Error         string   `json:"error,omitempty"`
			}
			req := struct {
				Commands []string `json:"commands"`
			}{Commands: args}
			if err := client.PostJSON(context.Background(), "/batches", req, &resp); err != nil {
				return err
			}
			if resp.Error != "" {
				return fmt.Errorf("batch failed: %s", resp.Error)
			}
			for _, r := range resp.Results {
				fmt.Println(r)
			}
			return nil
		},
	}
}

func topologyCmd(addr *string, log zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "topology",
		Short: "Print the node's current membership view",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := httpclient.New(*addr, log)
			var resp struct {
				Members []string `json:"members"`
			}
			if err := client.GetJSON(context.Background(), "/topology", &resp); err != nil {
				return err
			}
			for _, m := range resp.Members {
				fmt.Println(m)
			}
			return nil
		},
	}
}

func leaderCmd(addr *string, log zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "leader",
		Short: "Print the cluster's current leader, if any",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := httpclient.New(*addr, log)
			var resp struct {
				Leader    string `json:"leader,omitempty"`
				HasLeader bool   `json:"has_leader"`
			}
			if err := client.GetJSON(context.Background(), "/leader", &resp); err != nil {
				return err
			}
			if !resp.HasLeader {
				fmt.Println("no leader")
				return nil
			}
			fmt.Println(resp.Leader)
			return nil
		},
	}
}
