package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/ringtopo/ringtopo/pkg/coordinator"
	"github.com/ringtopo/ringtopo/pkg/coordinator/adminhttp"
	"github.com/ringtopo/ringtopo/pkg/coordinator/rpc"
	"github.com/ringtopo/ringtopo/pkg/gossip"
	rtlog "github.com/ringtopo/ringtopo/pkg/log"
	"github.com/ringtopo/ringtopo/pkg/manager"
	"github.com/ringtopo/ringtopo/pkg/metrics"
	"github.com/ringtopo/ringtopo/pkg/streaming"
	"github.com/ringtopo/ringtopo/pkg/topology"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a replica: consensus, coordinator, RPC and admin surfaces",
	Long: `serve boots one replica of the cluster: opens its BoltDB-backed
store, starts (or joins) its Raft instance, and, only while it holds
leadership, runs the Topology Coordinator driving node transitions and
global requests. It always runs the Coordinator RPC Surface server and
the Readiness Watcher, since both are per-replica duties independent of
leadership.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("node-id", "", "this replica's Raft node id (required)")
	serveCmd.Flags().String("raft-addr", "127.0.0.1:7000", "bind address for Raft consensus traffic")
	serveCmd.Flags().String("rpc-addr", "127.0.0.1:7010", "bind address for the Coordinator RPC Surface")
	serveCmd.Flags().String("admin-http-addr", "127.0.0.1:7090", "bind address for the administrative HTTP API")
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:7091", "bind address for /metrics, /health, /ready, /live")
	serveCmd.Flags().String("data-dir", "./data", "directory for BoltDB and Raft state")
	serveCmd.Flags().Bool("bootstrap", false, "bootstrap a new single-node cluster rooted at this replica")
	_ = serveCmd.MarkFlagRequired("node-id")
}

func runServe(cmd *cobra.Command, args []string) error {
	nodeID, _ := cmd.Flags().GetString("node-id")
	raftAddr, _ := cmd.Flags().GetString("raft-addr")
	rpcAddr, _ := cmd.Flags().GetString("rpc-addr")
	adminAddr, _ := cmd.Flags().GetString("admin-http-addr")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	bootstrap, _ := cmd.Flags().GetBool("bootstrap")

	logger := rtlog.WithComponent("serve")

	mgr, err := manager.NewManager(&manager.Config{
		NodeID:   nodeID,
		BindAddr: raftAddr,
		DataDir:  dataDir,
	})
	if err != nil {
		return fmt.Errorf("construct manager: %w", err)
	}
	metrics.RegisterComponent("storage", true, "boltdb store opened")

	if bootstrap {
		if err := mgr.Bootstrap(); err != nil {
			return fmt.Errorf("bootstrap cluster: %w", err)
		}
	} else {
		if err := mgr.Join(); err != nil {
			return fmt.Errorf("start raft for join: %w", err)
		}
	}

	// The gossip membership/anti-entropy layer and the range-streaming
	// storage engine are both external collaborators the core only ever
	// calls through the narrow interfaces in pkg/gossip and
	// pkg/streaming (§1, §6); neither has a production implementation in
	// this repo's lineage, so a single-process stand-in backs both here.
	hub := gossip.NewHub()
	hub.SetAddress(topology.NodeID(nodeID), raftAddr)
	streamer := streaming.NewLocal()

	coord := coordinator.New(coordinator.Config{
		Manager:   mgr,
		Addresses: hub,
		Dialer:    rpc.GRPCDialer{},
		Streaming: streamer,
	})
	coord.Start()
	defer coord.Stop()
	metrics.RegisterComponent("coordinator", true, "drive loop started")

	watcher := gossip.NewWatcher(topology.NodeID(nodeID), mgr, gossip.NewReadinessPublisher(hub.View(topology.NodeID(nodeID))))
	watcher.Start()
	defer watcher.Stop()

	rpcServer := rpc.NewServer(rpc.ServerConfig{
		Fencing:   mgr.Fencing(),
		Streaming: streamer,
		Addresses: hub,
		Snapshot:  mgr,
	})
	grpcServer := grpc.NewServer()
	rpc.RegisterNodeServer(grpcServer, rpcServer)

	rpcListener, err := net.Listen("tcp", rpcAddr)
	if err != nil {
		return fmt.Errorf("listen on rpc-addr: %w", err)
	}
	go func() {
		if err := grpcServer.Serve(rpcListener); err != nil {
			logger.Error().Err(err).Msg("rpc server stopped")
		}
	}()
	defer grpcServer.GracefulStop()

	collector := metrics.NewCollector(mgr)
	collector.Start()
	defer collector.Stop()

	metrics.SetVersion(Version)
	metrics.RegisterComponent("raft", true, "started")

	adminServer := adminhttp.NewServer(coord)
	adminHTTPServer := &http.Server{Addr: adminAddr, Handler: adminServer}
	go func() {
		if err := adminHTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("admin http server stopped")
		}
	}()
	defer adminHTTPServer.Close()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsMux.HandleFunc("/health", metrics.HealthHandler())
	metricsMux.HandleFunc("/ready", metrics.ReadyHandler())
	metricsMux.HandleFunc("/live", metrics.LivenessHandler())
	metricsHTTPServer := &http.Server{Addr: metricsAddr, Handler: metricsMux}
	go func() {
		if err := metricsHTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics http server stopped")
		}
	}()
	defer metricsHTTPServer.Close()

	logger.Info().
		Str("node_id", nodeID).
		Str("raft_addr", raftAddr).
		Str("rpc_addr", rpcAddr).
		Str("admin_addr", adminAddr).
		Msg("ringtopo replica started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = metricsHTTPServer.Shutdown(ctx)
	_ = adminHTTPServer.Shutdown(ctx)

	return mgr.Shutdown()
}
