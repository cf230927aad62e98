package rpc

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"keeper/persistence"
	"keeper/stats_collector"
)

// Backend is the part of persistence.Manager served over gRPC
type Backend interface {
	GetStats() persistence.Stats
	LoadEntity(ctx context.Context, entityType, ownerKey string) persistence.LoadResult
	FlushOwner(ctx context.Context, ownerKey string) persistence.FlushSummary
}

type Server struct {
	backend Backend
	secret  string
	stats   stats_collector.StatsCollector
}

var _ PersistenceServer = (*Server)(nil)

// NewServer serves backend, requiring secret in the authorization metadata
// when it is set.
func NewServer(backend Backend, secret string, stats stats_collector.StatsCollector) *Server {
	if stats == nil {
		stats = stats_collector.NewNoopStatsCollector()
	}
	return &Server{backend: backend, secret: secret, stats: stats}
}

func (s *Server) authorise(ctx context.Context, api string) error {
	if s.secret == "" {
		return nil
	}
	md, _ := metadata.FromIncomingContext(ctx)
	if auth := md.Get("authorization"); len(auth) == 0 || auth[0] != s.secret {
		s.stats.IncApiRequests(api, "unauthorised")
		return status.Error(codes.Unauthenticated, "incorrect authorisation received")
	}
	return nil
}

func (s *Server) Stats(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if err := s.authorise(ctx, "grpc_stats"); err != nil {
		return nil, err
	}
	stats := s.backend.GetStats()
	s.stats.IncApiRequests("grpc_stats", "ok")
	return structpb.NewStruct(map[string]any{
		"queue_depth":      stats.QueueDepth,
		"available_tokens": stats.AvailableTokens,
		"capacity":         stats.Capacity,
	})
}

func (s *Server) Load(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.authorise(ctx, "grpc_load"); err != nil {
		return nil, err
	}
	fields := in.GetFields()
	entityType := fields["entity_type"].GetStringValue()
	owner := fields["owner"].GetStringValue()
	if entityType == "" || owner == "" {
		s.stats.IncApiRequests("grpc_load", "invalid")
		return nil, status.Error(codes.InvalidArgument, "entity_type and owner are required")
	}

	result := s.backend.LoadEntity(ctx, entityType, owner)
	reply := map[string]any{
		"key":      persistence.StorageKey(entityType, owner),
		"outcome":  result.Outcome.String(),
		"attempts": result.Attempts,
	}
	if result.Outcome == persistence.Found {
		reply["data"] = PlainMap(result.Data)
	}
	if result.Err != nil {
		reply["error"] = result.Err.Error()
	}

	out, err := structpb.NewStruct(reply)
	if err != nil {
		log.Warnf("GRPC: load reply for %s could not be encoded: %s", reply["key"], err)
		s.stats.IncApiRequests("grpc_load", "error")
		return nil, status.Error(codes.Internal, err.Error())
	}
	s.stats.IncApiRequests("grpc_load", result.Outcome.String())
	return out, nil
}

func (s *Server) FlushOwner(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.authorise(ctx, "grpc_flush"); err != nil {
		return nil, err
	}
	owner := in.GetFields()["owner"].GetStringValue()
	if owner == "" {
		s.stats.IncApiRequests("grpc_flush", "invalid")
		return nil, status.Error(codes.InvalidArgument, "owner is required")
	}

	summary := s.backend.FlushOwner(ctx, owner)
	s.stats.IncApiRequests("grpc_flush", "ok")
	return structpb.NewStruct(SummaryMap(summary))
}

// SummaryMap renders a flush summary with elapsed time in milliseconds
func SummaryMap(summary persistence.FlushSummary) map[string]any {
	return map[string]any{
		"succeeded":  summary.Succeeded,
		"failed":     summary.Failed,
		"abandoned":  summary.Abandoned,
		"elapsed_ms": summary.Elapsed.Milliseconds(),
	}
}

// PlainMap converts stored field values into types structpb accepts.
// Numbers become float64, times RFC 3339 strings and bytes base64.
func PlainMap(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = plainValue(v)
	}
	return out
}

func plainValue(v any) any {
	switch value := v.(type) {
	case interface{ Float64() (float64, error) }:
		// json.Number from the store codec
		f, err := value.Float64()
		if err != nil {
			return fmt.Sprint(value)
		}
		return f
	case int64:
		return float64(value)
	case uint64:
		return float64(value)
	case time.Time:
		return value.Format(time.RFC3339Nano)
	case []byte:
		return base64.StdEncoding.EncodeToString(value)
	case map[string]any:
		return PlainMap(value)
	case []any:
		out := make([]any, len(value))
		for i := range value {
			out[i] = plainValue(value[i])
		}
		return out
	default:
		return v
	}
}
