package main

import (
	"context"
	"time"

	"google.golang.org/grpc"

	"github.com/asmuth-labs/zdb/internal/logger"
	"github.com/asmuth-labs/zdb/internal/metrics"
)

// metricsInterceptor records request latency/outcome to m and logs the
// call via log, grounded on tree_db/internal/server/observability.go's
// GrpcMetricsInterceptor.
func metricsInterceptor(m *metrics.Server, log *logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		elapsed := time.Since(start)

		status := "ok"
		if err != nil {
			status = "error"
		}
		m.RecordRequest(info.FullMethod, status, elapsed.Seconds())
		log.LogGrpcRequest(info.FullMethod, float64(elapsed.Milliseconds()), err)

		return resp, err
	}
}
