package main

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/asmuth-labs/zdb/internal/logger"
	"github.com/asmuth-labs/zdb/internal/metrics"
	"github.com/asmuth-labs/zdb/pkg/tsdb"
)

// Request/response types. These are plain Go structs marshaled by
// jsonCodec, not protoc-generated messages — the one legitimate
// protobuf dependency here is timestamppb.Timestamp, used so
// OpenedAt travels in a wire-portable form without pulling in a whole
// generated package for it.

type StatRequest struct{}

type StatResponse struct {
	InstanceID  string                 `json:"instance_id"`
	Path        string                 `json:"path"`
	Generation  uint64                 `json:"generation"`
	SeriesCount int                    `json:"series_count"`
	OpenedAt    *timestamppb.Timestamp `json:"opened_at"`
}

type ListSeriesRequest struct{}

type SeriesSummary struct {
	SeriesID  uint64 `json:"series_id"`
	ValueSize uint64 `json:"value_size"`
	PageCount int    `json:"page_count"`
}

type ListSeriesResponse struct {
	Series []SeriesSummary `json:"series"`
}

type DescribeRequest struct {
	SeriesID uint64 `json:"series_id"`
}

type DescribeResponse struct {
	SeriesID       uint64 `json:"series_id"`
	ValueSize      uint64 `json:"value_size"`
	PageCount      int    `json:"page_count"`
	FirstTimestamp uint64 `json:"first_timestamp"`
	LastTimestamp  uint64 `json:"last_timestamp"`
}

// AdminService is the read-only admin/status surface exposed over gRPC.
type AdminService interface {
	Stat(context.Context, *StatRequest) (*StatResponse, error)
	ListSeries(context.Context, *ListSeriesRequest) (*ListSeriesResponse, error)
	Describe(context.Context, *DescribeRequest) (*DescribeResponse, error)
}

type adminServer struct {
	db        *tsdb.Database
	log       *logger.Logger
	metricsSv *metrics.Server
	startedAt time.Time
}

func newAdminServer(db *tsdb.Database, log *logger.Logger, m *metrics.Server) *adminServer {
	return &adminServer{db: db, log: log, metricsSv: m, startedAt: time.Now()}
}

func (s *adminServer) Stat(ctx context.Context, req *StatRequest) (*StatResponse, error) {
	return &StatResponse{
		InstanceID:  s.db.InstanceID().String(),
		Path:        s.db.Path(),
		Generation:  s.db.Generation(),
		SeriesCount: len(s.db.ListSeries()),
		OpenedAt:    timestamppb.New(s.startedAt),
	}, nil
}

func (s *adminServer) ListSeries(ctx context.Context, req *ListSeriesRequest) (*ListSeriesResponse, error) {
	items := s.db.ListSeries()
	out := make([]SeriesSummary, len(items))
	for i, it := range items {
		out[i] = SeriesSummary{SeriesID: it.SeriesID, ValueSize: it.ValueSize, PageCount: it.PageCount}
	}
	return &ListSeriesResponse{Series: out}, nil
}

func (s *adminServer) Describe(ctx context.Context, req *DescribeRequest) (*DescribeResponse, error) {
	txn, err := s.db.Begin(req.SeriesID, true)
	if err != nil {
		return nil, err
	}
	defer txn.Abort()

	cur := tsdb.NewCursor(txn)
	var first, last uint64
	if cur.SeekToFirst() {
		first, _, _ = cur.Get()
	}
	if cur.SeekToLast() {
		last, _, _ = cur.Get()
	}

	idx := txn.GetPageIndex()
	return &DescribeResponse{
		SeriesID:       req.SeriesID,
		ValueSize:      txn.ValueSize(),
		PageCount:      idx.Size(),
		FirstTimestamp: first,
		LastTimestamp:  last,
	}, nil
}

// The handlers and ServiceDesc below are hand-written rather than
// protoc-generated, mirroring SimonWaldherr-tinySQL's cmd/server/main.go
// _TinySQL_Exec_Handler pattern: a grpc.ServiceDesc built directly from
// grpc.MethodDesc values, each decoding its request via jsonCodec.

func _Admin_Stat_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(StatRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminService).Stat(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/zdb.admin.Admin/Stat"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AdminService).Stat(ctx, req.(*StatRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Admin_ListSeries_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ListSeriesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminService).ListSeries(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/zdb.admin.Admin/ListSeries"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AdminService).ListSeries(ctx, req.(*ListSeriesRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Admin_Describe_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(DescribeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminService).Describe(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/zdb.admin.Admin/Describe"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AdminService).Describe(ctx, req.(*DescribeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var adminServiceDesc = grpc.ServiceDesc{
	ServiceName: "zdb.admin.Admin",
	HandlerType: (*AdminService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Stat", Handler: _Admin_Stat_Handler},
		{MethodName: "ListSeries", Handler: _Admin_ListSeries_Handler},
		{MethodName: "Describe", Handler: _Admin_Describe_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "zdb_admin.proto",
}
