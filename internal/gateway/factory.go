package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/zerocode/internal/config"
)

// New builds the configured provider wrapped in the soft failure policy.
func New(ctx context.Context, cfg config.GatewayConfig, logger *slog.Logger) (*Fallback, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		p   Provider
		err error
	)
	switch cfg.Provider {
	case config.ProviderOpenAI:
		p, err = NewOpenAI(OpenAIConfig{
			BaseURL:       cfg.BaseURL,
			Credential:    cfg.Credential,
			Timeout:       cfg.Timeout,
			GitHubHeaders: cfg.GitHubHeaders,
			ImageModel:    cfg.ImageModel,
			ImageSize:     cfg.ImageSize,
		})
	case config.ProviderGenAI:
		imageModel := cfg.ImageModel
		if strings.HasPrefix(imageModel, "openai/") {
			imageModel = DefaultGenAIImageModel
		}
		p, err = NewGenAI(ctx, GenAIConfig{
			APIKey:     cfg.Credential,
			Project:    cfg.GCPProject,
			Location:   cfg.GCPLocation,
			BaseURL:    cfg.GenAIBaseURL,
			ImageModel: imageModel,
			Timeout:    cfg.Timeout,
		})
	case config.ProviderGrpc:
		gc := DefaultGrpcConfig()
		gc.Address = cfg.GrpcAddress
		gc.RequestTimeout = cfg.Timeout
		gc.ImageModel = cfg.ImageModel
		gc.ImageSize = cfg.ImageSize
		p, err = NewGrpc(gc, logger)
	case config.ProviderScripted, "":
		p = NewScripted(0)
	default:
		return nil, fmt.Errorf("unknown gateway provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s provider: %w", cfg.Provider, err)
	}

	logger.Info("Completion gateway ready", "provider", p.Name())
	return WithFallback(p, logger), nil
}
