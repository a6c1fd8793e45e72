// Command zdbserver exposes a read-only admin/status surface over gRPC
// for an open zdb database, plus a Prometheus /metrics endpoint.
// Modeled on SimonWaldherr-tinySQL's cmd/server/main.go (hand-written
// ServiceDesc + JSON codec, no protoc step) and
// tree_db/cmd/treestore/main.go's flag/signal/reflection bootstrap.
package main

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/asmuth-labs/zdb/internal/logger"
	"github.com/asmuth-labs/zdb/internal/metrics"
	"github.com/asmuth-labs/zdb/pkg/tsdb"
)

func main() {
	dbPath := flag.String("db", "", "database file path")
	grpcAddr := flag.String("grpc-addr", ":7070", "gRPC listen address")
	httpAddr := flag.String("http-addr", ":7071", "HTTP /metrics listen address")
	pretty := flag.Bool("log-pretty", false, "use human-readable console log output")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "error: -db is required")
		os.Exit(2)
	}

	log := logger.NewLogger(logger.Config{Pretty: *pretty})
	logger.InitGlobalLogger(log)
	grpcLog := log.GrpcLogger()

	db, err := tsdb.Open(*dbPath, tsdb.ModeReadOnly)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
		os.Exit(1)
	}
	defer db.Close()

	metricsSrv := metrics.NewServer(time.Now())
	db.SetMetrics(metricsSrv.Storage)
	defer metricsSrv.Stop()

	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(metricsInterceptor(metricsSrv, grpcLog)),
	)
	grpcServer.RegisterService(&adminServiceDesc, newAdminServer(db, grpcLog, metricsSrv))
	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", *grpcAddr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", *grpcAddr).Msg("failed to listen")
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:    *httpAddr,
		Handler: metricsMux(metricsSrv),
	}

	go func() {
		log.LogServerStart(*grpcAddr)
		if err := grpcServer.Serve(lis); err != nil {
			log.Error().Err(err).Msg("grpc server stopped")
		}
	}()

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http metrics server stopped")
		}
	}()

	log.LogServerReady(*grpcAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.LogServerShutdown()
	grpcServer.GracefulStop()
	_ = httpServer.Close()
}

func metricsMux(m *metrics.Server) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return mux
}
