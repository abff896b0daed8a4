package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dreamware/torua-sql/internal/catalog"
	"github.com/dreamware/torua-sql/internal/cluster"
	"github.com/dreamware/torua-sql/internal/dispatcher"
	"github.com/dreamware/torua-sql/internal/gossip"
	"github.com/dreamware/torua-sql/internal/kv"
	"github.com/dreamware/torua-sql/internal/logging"
	"github.com/dreamware/torua-sql/internal/metrics"
	"github.com/dreamware/torua-sql/internal/rpcserver"
	"github.com/dreamware/torua-sql/internal/sqlparser"
	"github.com/dreamware/torua-sql/internal/wire"
)

// runNode wires every package into a running peer and blocks until it
// receives SIGINT/SIGTERM, mirroring the coordinator's listen/signal/
// shutdown sequencing.
func runNode(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	sqlAddr, _ := flags.GetString("sql-addr")
	grpcAddr, _ := flags.GetString("grpc-addr")
	dataDir, _ := flags.GetString("data-dir")
	region, _ := flags.GetString("region")
	join, _ := flags.GetString("join")
	debugAddr, _ := flags.GetString("debug-addr")
	logLevel, _ := flags.GetString("log-level")
	logJSON, _ := flags.GetBool("log-json")

	logging.Init(logging.Config{Level: logLevel, JSONOutput: logJSON})
	logger := logging.Component("main")

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir %s: %w", dataDir, err)
	}

	selfID := uuid.NewString()
	store := kv.NewMemoryStore()
	cat := catalog.New(store)
	if err := cat.Load(); err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	gs := gossip.NewStore()
	self := cluster.Descriptor{
		ID:       selfID,
		SQLAddr:  sqlAddr,
		GRPCAddr: grpcAddr,
		DataDir:  dataDir,
		Region:   region,
		SeedPeer: join,
	}
	selfJSON, err := json.Marshal(self)
	if err != nil {
		return fmt.Errorf("marshal self descriptor: %w", err)
	}
	gs.Put(gossip.NodeKey(selfID), selfJSON, time.Now().UnixNano())

	disp := &dispatcher.Dispatcher{
		Catalog:     cat,
		Store:       store,
		Gossip:      gs,
		SelfID:      selfID,
		WriteRow:    rpcserver.WriteRow,
		ApplyUpdate: rpcserver.ApplyUpdate,
	}

	parser := &sqlparser.Parser{
		ColumnsForTable: func(table string) ([]string, error) {
			tbl, err := cat.GetTable(table)
			if err != nil {
				return nil, err
			}
			names := make([]string, len(tbl.Columns))
			for i, c := range tbl.Columns {
				names[i] = c.Name
			}
			return names, nil
		},
	}

	rpc := &rpcserver.Server{Gossip: gs, Catalog: cat, Dispatcher: disp}

	worker := gossip.NewWorker(gs, selfID, join, 3*time.Second, rpcserver.Exchange, func() (map[string]cluster.Descriptor, error) {
		return gs.GetNodes(nil)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go worker.Start(ctx)

	rpcHTTP := &http.Server{
		Addr:              grpcAddr,
		Handler:           rpc.Mux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", grpcAddr).Msg("peer rpc listener starting")
		if err := rpcHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("peer rpc listener failed")
		}
	}()

	debugMux := http.NewServeMux()
	debugMux.Handle("/metrics", metrics.Handler())
	debugHTTP := &http.Server{
		Addr:              debugAddr,
		Handler:           debugMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", debugAddr).Msg("debug listener starting")
		if err := debugHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("debug listener failed")
		}
	}()

	sqlListener, err := net.Listen("tcp", sqlAddr)
	if err != nil {
		return fmt.Errorf("listen on sql-addr %s: %w", sqlAddr, err)
	}
	go serveSQL(ctx, sqlListener, parser, disp)
	logger.Info().Str("addr", sqlAddr).Str("region", region).Str("id", selfID).Msg("sql listener starting")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info().Msg("shutting down")
	cancel()
	worker.Stop()
	_ = sqlListener.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := rpcHTTP.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("peer rpc listener shutdown error")
	}
	if err := debugHTTP.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("debug listener shutdown error")
	}
	logger.Info().Msg("stopped")
	return nil
}

// serveSQL accepts wire-protocol connections until ctx is cancelled or the
// listener is closed, handing each one its own Session goroutine.
func serveSQL(ctx context.Context, ln net.Listener, parser *sqlparser.Parser, disp *dispatcher.Dispatcher) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			return
		}
		session := wire.NewSession(conn, parser.Parse, disp)
		go func() {
			_ = session.Serve(ctx)
		}()
	}
}
