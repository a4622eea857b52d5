package transport

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	cerrors "github.com/devrev/causality/internal/errors"
	"github.com/devrev/causality/internal/metrics"
	"github.com/devrev/causality/internal/model"
	"github.com/devrev/causality/internal/validation"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// maxMessageSize bounds exchange messages in both directions
const maxMessageSize = 4 * 1024 * 1024

// Timestamps is the part of the timestamp service the exchange serves
type Timestamps interface {
	NodeID() string
	SyncEvent(ctx context.Context, remote model.RemoteTimestamp, eventType string, payload json.RawMessage) (*model.CausalityEvent, error)
	Status() model.NodeStatus
}

// ServerConfig configures the exchange server
type ServerConfig struct {
	// RateLimit is the sustained Ingest rate per second; zero disables limiting
	RateLimit float64
	Burst     int
}

// Server implements TimestampExchangeServer on top of the timestamp service
type Server struct {
	timestamps Timestamps
	validator  *validation.Validator
	limiter    *rate.Limiter
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// NewServer creates an exchange server
func NewServer(timestamps Timestamps, validator *validation.Validator, cfg ServerConfig, logger *zap.Logger, m *metrics.Metrics) *Server {
	if validator == nil {
		validator = validation.NewValidator()
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = int(cfg.RateLimit)
		}
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return &Server{
		timestamps: timestamps,
		validator:  validator,
		limiter:    limiter,
		logger:     logger,
		metrics:    m,
	}
}

// NewGRPCServer builds a grpc.Server with the exchange registered
func (s *Server) NewGRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.MaxRecvMsgSize(maxMessageSize),
		grpc.MaxSendMsgSize(maxMessageSize),
		grpc.ChainUnaryInterceptor(s.rateLimitInterceptor, s.loggingInterceptor),
	}, opts...)

	srv := grpc.NewServer(opts...)
	RegisterTimestampExchangeServer(srv, s)
	return srv
}

// Ingest folds a peer's event into the local clocks and logs it
func (s *Server) Ingest(ctx context.Context, req *IngestRequest) (*IngestResponse, error) {
	if err := s.validator.ValidateRemoteTimestamp(req.Remote); err != nil {
		s.metrics.RecordTransportMessage("inbound", "invalid")
		return nil, toStatus(err)
	}
	if err := s.validator.ValidateEvent(req.EventType, req.Payload); err != nil {
		s.metrics.RecordTransportMessage("inbound", "invalid")
		return nil, toStatus(err)
	}
	if req.Remote.NodeID == s.timestamps.NodeID() {
		s.metrics.RecordTransportMessage("inbound", "invalid")
		return nil, status.Error(codes.InvalidArgument, "event originated on this node")
	}

	event, err := s.timestamps.SyncEvent(ctx, req.Remote.Decode(), req.EventType, req.Payload)
	if err != nil {
		s.metrics.RecordTransportMessage("inbound", "error")
		return nil, toStatus(err)
	}
	s.metrics.RecordTransportMessage("inbound", "ok")

	// snapshot taken after the ingest; concurrent local events may already be included
	snapshot := s.timestamps.Status()
	return &IngestResponse{
		NodeID:  snapshot.NodeID,
		EventID: event.ID,
		Timestamp: model.Timestamp{
			LogicalTime:   snapshot.LamportTime,
			VectorClock:   snapshot.VectorClock,
			VersionVector: snapshot.VersionVector,
		},
	}, nil
}

// Status returns the local clock snapshot
func (s *Server) Status(ctx context.Context, req *StatusRequest) (*StatusResponse, error) {
	return &StatusResponse{Status: s.timestamps.Status()}, nil
}

func (s *Server) rateLimitInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	if s.limiter != nil && info.FullMethod == ingestMethod && !s.limiter.Allow() {
		s.metrics.RecordTransportMessage("inbound", "rate_limited")
		s.logger.Warn("Ingest rate limit exceeded", zap.String("method", info.FullMethod))
		return nil, status.Error(codes.ResourceExhausted, "ingest rate limit exceeded")
	}
	return handler(ctx, req)
}

func (s *Server) loggingInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	if err != nil {
		s.logger.Warn("Exchange request failed",
			zap.String("method", info.FullMethod),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return resp, err
	}
	s.logger.Debug("Exchange request served",
		zap.String("method", info.FullMethod),
		zap.Duration("duration", time.Since(start)))
	return resp, nil
}

func toStatus(err error) error {
	var ce *cerrors.CausalityError
	if errors.As(err, &ce) {
		return ce.ToGRPCStatus().Err()
	}
	return status.Error(codes.Internal, err.Error())
}
