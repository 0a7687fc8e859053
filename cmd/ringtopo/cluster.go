package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Submit cluster-wide topology requests (cleanup, new-cdc-generation)",
}

func init() {
	clusterCmd.AddCommand(clusterCleanupCmd)
	clusterCmd.AddCommand(clusterNewCDCGenerationCmd)
}

var clusterCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Drive every normal node through a cleanup pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		var reply requestAccepted
		if err := newAdminClient(cmd).post("/v1/global/cleanup", nil, &reply); err != nil {
			return err
		}
		fmt.Printf("cleanup accepted: request_id=%s\n", reply.RequestID)
		return nil
	},
}

var clusterNewCDCGenerationCmd = &cobra.Command{
	Use:   "new-cdc-generation",
	Short: "Roll over to a new CDC generation against the current ring",
	RunE: func(cmd *cobra.Command, args []string) error {
		var reply requestAccepted
		if err := newAdminClient(cmd).post("/v1/global/new-cdc-generation", nil, &reply); err != nil {
			return err
		}
		fmt.Printf("new-cdc-generation accepted: request_id=%s\n", reply.RequestID)
		return nil
	},
}
