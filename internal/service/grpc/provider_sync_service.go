package grpcsvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/smmsync/internal/adminapi"
	"github.com/vladislavdragonenkov/smmsync/internal/domain"
	"github.com/vladislavdragonenkov/smmsync/internal/service/audit"
	"github.com/vladislavdragonenkov/smmsync/internal/service/reconcile"
	smmsyncv1 "github.com/vladislavdragonenkov/smmsync/proto/smmsync/v1"
)

const (
	authorizationHeader = "authorization"
	adminKeyHeader      = "x-admin-key"
)

// SyncRunner запускает прогон синхронизации.
type SyncRunner interface {
	Run(ctx context.Context, req reconcile.Request) (reconcile.Summary, error)
}

// LogLister читает журнал синхронизации.
type LogLister interface {
	List(ctx context.Context, filter domain.LogFilter) (domain.LogPage, error)
}

// ProviderSyncService реализует gRPC API запуска синхронизации и чтения журнала.
type ProviderSyncService struct {
	smmsyncv1.UnimplementedProviderSyncServiceServer

	runner SyncRunner
	logs   LogLister
	keys   *adminapi.KeySet
	logger *log.Entry
}

var _ smmsyncv1.ProviderSyncServiceServer = (*ProviderSyncService)(nil)

// NewProviderSyncService конструирует сервис с зависимостями.
func NewProviderSyncService(runner SyncRunner, logs LogLister, keys *adminapi.KeySet, logger *log.Entry) *ProviderSyncService {
	if logger == nil {
		logger = log.New().WithField("component", "provider-sync-grpc")
	}
	return &ProviderSyncService{
		runner: runner,
		logs:   logs,
		keys:   keys,
		logger: logger,
	}
}

// SyncOrders запускает прогон. Частичный прогон возвращается как успешный ответ.
func (s *ProviderSyncService) SyncOrders(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.authorize(ctx); err != nil {
		return nil, err
	}

	var req adminapi.SyncRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	summary, err := s.runner.Run(ctx, req.RunRequest())
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSyncRequest) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		s.logger.WithError(err).Error("sync run failed")
		return nil, status.Error(codes.Internal, "sync run failed")
	}

	return encodeStruct(adminapi.SyncEnvelope(summary))
}

// ListLogs возвращает страницу журнала синхронизации.
func (s *ProviderSyncService) ListLogs(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.authorize(ctx); err != nil {
		return nil, err
	}

	var q adminapi.LogQuery
	if err := decodeStruct(in, &q); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := q.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	page, err := s.logs.List(ctx, q.Filter())
	if err != nil {
		if errors.Is(err, audit.ErrInvalidFilter) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		s.logger.WithError(err).Error("failed to list sync logs")
		return nil, status.Error(codes.Internal, "failed to list sync logs")
	}

	return encodeStruct(adminapi.LogsEnvelope(page))
}

func (s *ProviderSyncService) authorize(ctx context.Context) error {
	md, _ := metadata.FromIncomingContext(ctx)
	key := adminapi.ExtractKey(first(md.Get(authorizationHeader)), first(md.Get(adminKeyHeader)))
	if err := s.keys.Verify(key); err != nil {
		return status.Error(codes.Unauthenticated, "valid admin key is required")
	}
	return nil
}

// UnaryLoggingInterceptor пишет в лог метод, код и длительность каждого вызова.
func UnaryLoggingInterceptor(logger *log.Entry) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = log.New().WithField("component", "grpc")
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		entry := logger.WithFields(log.Fields{
			"method": info.FullMethod,
			"code":   status.Code(err).String(),
		})
		if err != nil {
			entry.WithError(err).Warn("grpc call failed")
			return resp, err
		}
		entry.Debug("grpc call completed")
		return resp, nil
	}
}

func decodeStruct(in *structpb.Struct, dst any) error {
	if in == nil {
		return errors.New("request is required")
	}
	raw, err := protojson.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func encodeStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	return out, nil
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
