package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Submit node-level topology requests (join, replace, leave, remove, rebuild)",
}

type requestAccepted struct {
	RequestID string `json:"request_id"`
}

func init() {
	nodeCmd.AddCommand(nodeJoinCmd)
	nodeCmd.AddCommand(nodeReplaceCmd)
	nodeCmd.AddCommand(nodeLeaveCmd)
	nodeCmd.AddCommand(nodeRemoveCmd)
	nodeCmd.AddCommand(nodeRebuildCmd)

	for _, c := range []*cobra.Command{nodeJoinCmd, nodeReplaceCmd} {
		c.Flags().String("datacenter", "dc1", "datacenter the new node reports")
		c.Flags().String("rack", "rack1", "rack the new node reports")
		c.Flags().String("release-version", "", "release version the new node reports")
		c.Flags().Int("shard-count", 1, "shard count the new node reports")
		c.Flags().Int("partitioner-tuning", 256, "partitioner tuning value the new node reports")
		c.Flags().StringSlice("supported-features", nil, "features the new node supports")
	}
	nodeJoinCmd.Flags().Int("num-tokens", 256, "number of ring tokens to allocate for the joining node")
	nodeReplaceCmd.Flags().String("replaced-id", "", "id of the dead node being replaced (required)")
	nodeReplaceCmd.Flags().StringSlice("ignored-ids", nil, "node ids the operation's barriers do not wait for")
	_ = nodeReplaceCmd.MarkFlagRequired("replaced-id")

	nodeRemoveCmd.Flags().StringSlice("ignored-ids", nil, "node ids the operation's barriers do not wait for")

	nodeRebuildCmd.Flags().String("source-datacenter", "", "datacenter to stream replacement data from (required)")
	_ = nodeRebuildCmd.MarkFlagRequired("source-datacenter")
}

type nodeSpecBody struct {
	Datacenter        string   `json:"datacenter"`
	Rack              string   `json:"rack"`
	ReleaseVersion    string   `json:"release_version"`
	ShardCount        int      `json:"shard_count"`
	PartitionerTuning int      `json:"partitioner_tuning"`
	SupportedFeatures []string `json:"supported_features"`
}

func specFromFlags(cmd *cobra.Command) nodeSpecBody {
	dc, _ := cmd.Flags().GetString("datacenter")
	rack, _ := cmd.Flags().GetString("rack")
	release, _ := cmd.Flags().GetString("release-version")
	shards, _ := cmd.Flags().GetInt("shard-count")
	tuning, _ := cmd.Flags().GetInt("partitioner-tuning")
	features, _ := cmd.Flags().GetStringSlice("supported-features")
	return nodeSpecBody{
		Datacenter:        dc,
		Rack:              rack,
		ReleaseVersion:    release,
		ShardCount:        shards,
		PartitionerTuning: tuning,
		SupportedFeatures: features,
	}
}

var nodeJoinCmd = &cobra.Command{
	Use:   "join <node-id>",
	Short: "Admit a brand-new node into the cluster",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		numTokens, _ := cmd.Flags().GetInt("num-tokens")
		body := struct {
			NodeID    string       `json:"node_id"`
			Spec      nodeSpecBody `json:"spec"`
			NumTokens int          `json:"num_tokens"`
		}{NodeID: args[0], Spec: specFromFlags(cmd), NumTokens: numTokens}

		var reply requestAccepted
		if err := newAdminClient(cmd).post("/v1/nodes/join", body, &reply); err != nil {
			return err
		}
		fmt.Printf("join accepted: request_id=%s\n", reply.RequestID)
		return nil
	},
}

var nodeReplaceCmd = &cobra.Command{
	Use:   "replace <node-id>",
	Short: "Admit a new node taking over a dead node's token ranges",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		replacedID, _ := cmd.Flags().GetString("replaced-id")
		ignored, _ := cmd.Flags().GetStringSlice("ignored-ids")
		body := struct {
			NodeID     string       `json:"node_id"`
			Spec       nodeSpecBody `json:"spec"`
			ReplacedID string       `json:"replaced_id"`
			IgnoredIDs []string     `json:"ignored_ids"`
		}{NodeID: args[0], Spec: specFromFlags(cmd), ReplacedID: replacedID, IgnoredIDs: ignored}

		var reply requestAccepted
		if err := newAdminClient(cmd).post("/v1/nodes/replace", body, &reply); err != nil {
			return err
		}
		fmt.Printf("replace accepted: request_id=%s\n", reply.RequestID)
		return nil
	},
}

var nodeLeaveCmd = &cobra.Command{
	Use:   "leave <node-id>",
	Short: "Gracefully remove a live node from the ring",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := struct {
			NodeID string `json:"node_id"`
		}{NodeID: args[0]}
		var reply requestAccepted
		if err := newAdminClient(cmd).post("/v1/nodes/leave", body, &reply); err != nil {
			return err
		}
		fmt.Printf("leave accepted: request_id=%s\n", reply.RequestID)
		return nil
	},
}

var nodeRemoveCmd = &cobra.Command{
	Use:   "remove <node-id>",
	Short: "Force-remove a dead node from the ring without streaming its data off it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ignored, _ := cmd.Flags().GetStringSlice("ignored-ids")
		body := struct {
			NodeID     string   `json:"node_id"`
			IgnoredIDs []string `json:"ignored_ids"`
		}{NodeID: args[0], IgnoredIDs: ignored}
		var reply requestAccepted
		if err := newAdminClient(cmd).post("/v1/nodes/remove", body, &reply); err != nil {
			return err
		}
		fmt.Printf("remove accepted: request_id=%s\n", reply.RequestID)
		return nil
	},
}

var nodeRebuildCmd = &cobra.Command{
	Use:   "rebuild <node-id>",
	Short: "Refill a node's data from another datacenter's replicas",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sourceDC, _ := cmd.Flags().GetString("source-datacenter")
		body := struct {
			NodeID           string `json:"node_id"`
			SourceDatacenter string `json:"source_datacenter"`
		}{NodeID: args[0], SourceDatacenter: sourceDC}
		var reply requestAccepted
		if err := newAdminClient(cmd).post("/v1/nodes/rebuild", body, &reply); err != nil {
			return err
		}
		fmt.Printf("rebuild accepted: request_id=%s\n", reply.RequestID)
		return nil
	},
}
