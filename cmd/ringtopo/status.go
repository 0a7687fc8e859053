package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

type nodeStatusView struct {
	ID            string `json:"id"`
	State         string `json:"state"`
	Datacenter    string `json:"datacenter"`
	Rack          string `json:"rack"`
	TokenCount    int    `json:"token_count"`
	CleanupStatus string `json:"cleanup_status"`
}

type clusterStatusView struct {
	TState               string           `json:"tstate,omitempty"`
	Version              uint64           `json:"version"`
	FenceVersion         uint64           `json:"fence_version"`
	PendingGlobalRequest string           `json:"pending_global_request,omitempty"`
	GlobalRequest        string           `json:"global_request,omitempty"`
	Normal               []nodeStatusView `json:"normal_nodes"`
	New                  []nodeStatusView `json:"new_nodes"`
	Transition           []nodeStatusView `json:"transition_nodes"`
	LeftCount            int              `json:"left_nodes_count"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the cluster's current topology",
	RunE: func(cmd *cobra.Command, args []string) error {
		var view clusterStatusView
		if err := newAdminClient(cmd).get("/v1/status", &view); err != nil {
			return err
		}

		tstate := view.TState
		if tstate == "" {
			tstate = "-"
		}
		global := view.GlobalRequest
		if global == "" {
			global = "-"
		}
		pending := view.PendingGlobalRequest
		if pending == "" {
			pending = "-"
		}
		fmt.Printf("version=%d fence_version=%d tstate=%s pending_global_request=%s global_request=%s left_nodes=%d\n",
			view.Version, view.FenceVersion, tstate, pending, global, view.LeftCount)

		w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATE\tDC\tRACK\tTOKENS\tCLEANUP")
		printRows(w, view.Normal)
		printRows(w, view.New)
		printRows(w, view.Transition)
		return w.Flush()
	},
}

func printRows(w *tabwriter.Writer, nodes []nodeStatusView) {
	for _, n := range nodes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", n.ID, n.State, n.Datacenter, n.Rack, n.TokenCount, n.CleanupStatus)
	}
}
