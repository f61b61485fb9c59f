// Package grpc hosts the gRPC transport: a server with health checking,
// optional reflection and the interceptors shared by every service.
package grpc

import (
	"context"
	"fmt"
	"net"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/turtacn/ChargeAssign/internal/config"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/monitoring/prometheus"
)

const (
	defaultMaxMsgSize      = 16 << 20
	defaultGracefulTimeout = 10 * time.Second

	// RequestIDKey is the metadata key carrying the request id, matching the
	// X-Request-ID header of the HTTP API.
	RequestIDKey = "x-request-id"
)

// Option configures the gRPC Server.
type Option func(*serverOptions)

type serverOptions struct {
	logger          logging.Logger
	metrics         *prometheus.ChargeMetrics
	listener        net.Listener
	gracefulTimeout time.Duration
}

func WithLogger(l logging.Logger) Option {
	return func(o *serverOptions) { o.logger = l }
}

func WithMetrics(m *prometheus.ChargeMetrics) Option {
	return func(o *serverOptions) { o.metrics = m }
}

// WithListener serves on lis instead of binding the configured address.
func WithListener(lis net.Listener) Option {
	return func(o *serverOptions) { o.listener = lis }
}

func WithGracefulTimeout(d time.Duration) Option {
	return func(o *serverOptions) {
		if d > 0 {
			o.gracefulTimeout = d
		}
	}
}

// Server is a gRPC server with a health service and graceful shutdown.
type Server struct {
	grpcServer   *grpc.Server
	healthServer *health.Server
	listener     net.Listener
	opts         serverOptions

	mu      sync.Mutex
	started bool
}

// NewServer creates a Server bound to cfg's address. Health is always
// registered; reflection only when cfg.Debug is set.
func NewServer(cfg config.GRPCConfig, opts ...Option) (*Server, error) {
	so := serverOptions{gracefulTimeout: defaultGracefulTimeout}
	for _, o := range opts {
		o(&so)
	}
	if so.logger == nil {
		so.logger = logging.NewNopLogger()
	}

	lis := so.listener
	if lis == nil {
		addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
		var err error
		if lis, err = net.Listen("tcp", addr); err != nil {
			return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
	}

	maxRecv := defaultMaxMsgSize
	if cfg.MaxRecvMsgSize > 0 {
		maxRecv = cfg.MaxRecvMsgSize
	}

	gs := grpc.NewServer(
		grpc.MaxRecvMsgSize(maxRecv),
		grpc.MaxSendMsgSize(defaultMaxMsgSize),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle: 15 * time.Minute,
			Time:              5 * time.Minute,
			Timeout:           time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		// outermost first
		grpc.ChainUnaryInterceptor(
			recoveryUnaryInterceptor(so.logger),
			observeUnaryInterceptor(so.logger, so.metrics),
		),
		grpc.ChainStreamInterceptor(
			recoveryStreamInterceptor(so.logger),
			observeStreamInterceptor(so.logger),
		),
	)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	if cfg.Debug {
		reflection.Register(gs)
		so.logger.Info("grpc reflection enabled")
	}

	return &Server{
		grpcServer:   gs,
		healthServer: hs,
		listener:     lis,
		opts:         so,
	}, nil
}

// RegisterService registers a service implementation and marks it serving.
// Must be called before Start.
func (s *Server) RegisterService(desc *grpc.ServiceDesc, impl interface{}) {
	s.grpcServer.RegisterService(desc, impl)
	s.healthServer.SetServingStatus(desc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	s.opts.logger.Info("grpc service registered", logging.String("service", desc.ServiceName))
}

// SetServing flips the health status of service ("" for the whole server).
func (s *Server) SetServing(service string, serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.healthServer.SetServingStatus(service, st)
}

// Start serves until the server is stopped.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}
	s.started = true
	s.mu.Unlock()

	s.opts.logger.Info("grpc server starting", logging.String("address", s.Addr()))
	return s.grpcServer.Serve(s.listener)
}

// Stop drains in-flight calls and forces a stop once the graceful period
// or ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return nil
	}

	s.opts.logger.Info("grpc server stopping")
	s.healthServer.Shutdown()

	ctx, cancel := context.WithTimeout(ctx, s.opts.gracefulTimeout)
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		s.opts.logger.Info("grpc server stopped gracefully")
	case <-ctx.Done():
		s.opts.logger.Warn("grpc graceful stop timed out, forcing stop")
		s.grpcServer.Stop()
	}
	return nil
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// ---------------------------------------------------------------------------
// Interceptors
// ---------------------------------------------------------------------------

// recovered converts a recovered panic into codes.Internal.
func recovered(logger logging.Logger, method string, r interface{}) error {
	logger.Error("grpc panic recovered",
		logging.String("method", method),
		logging.String("panic", fmt.Sprint(r)),
		logging.String("stack", string(debug.Stack())),
	)
	return status.Error(codes.Internal, "internal server error")
}

func recoveryUnaryInterceptor(logger logging.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = recovered(logger, info.FullMethod, r)
			}
		}()
		return handler(ctx, req)
	}
}

func recoveryStreamInterceptor(logger logging.Logger) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = recovered(logger, info.FullMethod, r)
			}
		}()
		return handler(srv, ss)
	}
}

func isHealthCheck(method string) bool {
	return strings.HasPrefix(method, "/grpc.health.v1.Health/")
}

// RequestIDFromContext returns the request id of an incoming call, or "".
func RequestIDFromContext(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get(RequestIDKey); len(v) > 0 {
		return v[0]
	}
	return ""
}

// withRequestID makes sure the incoming metadata carries a request id and
// echoes it in the response header.
func withRequestID(ctx context.Context) (context.Context, string) {
	id := RequestIDFromContext(ctx)
	if id == "" {
		id = uuid.NewString()
		md, _ := metadata.FromIncomingContext(ctx)
		md = md.Copy()
		md.Set(RequestIDKey, id)
		ctx = metadata.NewIncomingContext(ctx, md)
	}
	_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDKey, id))
	return ctx, id
}

// observeUnaryInterceptor logs and measures every call except health checks.
func observeUnaryInterceptor(logger logging.Logger, m *prometheus.ChargeMetrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if isHealthCheck(info.FullMethod) {
			return handler(ctx, req)
		}

		ctx, id := withRequestID(ctx)
		start := time.Now()
		resp, err := handler(ctx, req)
		elapsed := time.Since(start)

		code := status.Code(err)
		if m != nil {
			prometheus.RecordGRPCRequest(m, methodName(info.FullMethod), code.String(), elapsed)
		}

		fields := []logging.Field{
			logging.String("method", info.FullMethod),
			logging.String("request_id", id),
			logging.Duration("duration", elapsed),
			logging.String("code", code.String()),
		}
		switch code {
		case codes.Internal, codes.Unknown, codes.Unavailable:
			logger.Error("grpc request", append(fields, logging.Err(err))...)
		default:
			logger.Info("grpc request", fields...)
		}
		return resp, err
	}
}

func observeStreamInterceptor(logger logging.Logger) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if isHealthCheck(info.FullMethod) {
			return handler(srv, ss)
		}
		start := time.Now()
		err := handler(srv, ss)
		logger.Debug("grpc stream",
			logging.String("method", info.FullMethod),
			logging.Duration("duration", time.Since(start)),
			logging.String("code", status.Code(err).String()),
		)
		return err
	}
}

// methodName returns the last element of "/package.Service/Method".
func methodName(fullMethod string) string {
	if i := strings.LastIndex(fullMethod, "/"); i >= 0 {
		return fullMethod[i+1:]
	}
	return fullMethod
}
