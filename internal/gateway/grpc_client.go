package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

// Sidecar service and method names.
const (
	GrpcServiceName         = "zerocode.gateway.v1.Gateway"
	grpcMethodComplete      = "/" + GrpcServiceName + "/Complete"
	grpcMethodGenerateImage = "/" + GrpcServiceName + "/GenerateImage"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errSidecarResponse          = errors.New("sidecar returned error")
)

// GrpcConfig holds configuration for the completion sidecar client.
type GrpcConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
	ImageModel       string
	ImageSize        string
}

// DefaultGrpcConfig returns default configuration.
func DefaultGrpcConfig() GrpcConfig {
	return GrpcConfig{
		Address:          "localhost:50051",
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   2 * time.Minute,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// Grpc forwards completions to a sidecar service. Messages are
// google.protobuf.Struct values so no generated stubs are needed.
type Grpc struct {
	conn   *grpc.ClientConn
	health grpc_health_v1.HealthClient
	cfg    GrpcConfig
	logger *slog.Logger
}

// NewGrpc dials the sidecar and waits until the connection is ready.
func NewGrpc(cfg GrpcConfig, logger *slog.Logger) (*Grpc, error) {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultGrpcConfig()
	if cfg.Address == "" {
		cfg.Address = def.Address
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.KeepaliveTime <= 0 {
		cfg.KeepaliveTime = def.KeepaliveTime
	}
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = def.KeepaliveTimeout
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	conn, err := grpc.NewClient(cfg.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sidecar client for %s: %w", cfg.Address, err)
	}

	// Fail fast on bad sidecar endpoints.
	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("completion sidecar at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to completion sidecar", "address", cfg.Address)

	return &Grpc{
		conn:   conn,
		health: grpc_health_v1.NewHealthClient(conn),
		cfg:    cfg,
		logger: logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Name implements Provider.
func (c *Grpc) Name() string { return "grpc" }

// Close closes the gRPC connection.
func (c *Grpc) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Ping checks the sidecar with the standard gRPC health service.
func (c *Grpc) Ping(ctx context.Context) error {
	resp, err := c.health.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: GrpcServiceName})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		return fmt.Errorf("sidecar status %s", resp.GetStatus())
	}
	return nil
}

// Complete implements Gateway. A "text" field in the reply is returned as a
// string; any other reply is returned as the structured message.
func (c *Grpc) Complete(ctx context.Context, req Request) (any, error) {
	history := make([]any, 0, len(req.History))
	for _, turn := range req.History {
		history = append(history, map[string]any{"role": string(turn.Role), "text": turn.Text})
	}

	in, err := structpb.NewStruct(map[string]any{
		"model":   req.Model,
		"system":  req.System,
		"prompt":  req.Prompt,
		"history": history,
	})
	if err != nil {
		return nil, fmt.Errorf("build completion request: %w", err)
	}

	out, err := c.invoke(ctx, grpcMethodComplete, in)
	if err != nil {
		return nil, err
	}
	if text := out.GetFields()["text"].GetStringValue(); text != "" {
		return text, nil
	}
	if len(out.GetFields()) == 0 {
		return nil, ErrEmptyResponse
	}
	return out, nil
}

// GenerateImage implements Gateway.
func (c *Grpc) GenerateImage(ctx context.Context, prompt string) (any, error) {
	in, err := structpb.NewStruct(map[string]any{
		"prompt": prompt,
		"model":  c.cfg.ImageModel,
		"size":   c.cfg.ImageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("build image request: %w", err)
	}

	out, err := c.invoke(ctx, grpcMethodGenerateImage, in)
	if err != nil {
		return nil, err
	}
	url := out.GetFields()["url"].GetStringValue()
	if url == "" {
		return nil, ErrEmptyResponse
	}
	return url, nil
}

func (c *Grpc) invoke(ctx context.Context, method string, in *structpb.Struct) (*structpb.Struct, error) {
	if c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, method, in, out, grpc.WaitForReady(true)); err != nil {
		c.logger.Error("Sidecar call failed", "method", method, "error", err)
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if msg := out.GetFields()["error"].GetStringValue(); msg != "" {
		return nil, fmt.Errorf("%w: %s", errSidecarResponse, msg)
	}
	return out, nil
}

var (
	_ Provider = (*Grpc)(nil)
	_ Pinger   = (*Grpc)(nil)
)
