package app

import (
	"context"
	"fmt"

	"github.com/antoniostano/janela/internal/chat"
	"github.com/antoniostano/janela/internal/completion"
	"github.com/antoniostano/janela/internal/config"
	"github.com/antoniostano/janela/internal/httpapi"
	"github.com/antoniostano/janela/internal/observability"
	"github.com/antoniostano/janela/internal/reliability"
	"github.com/antoniostano/janela/internal/session"
	"github.com/antoniostano/janela/internal/transcript"
	"github.com/antoniostano/janela/internal/window"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions *session.Manager
	Chat     *chat.Service
	Gateway  *completion.Gateway
	Metrics  *observability.Metrics

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	win, err := window.New(cfg.WindowSize)
	if err != nil {
		return nil, fmt.Errorf("sliding window init failed: %w", err)
	}

	provider, err := completion.NewProvider(ctx, completion.Config{
		Provider:         cfg.CompletionProvider,
		AnthropicAPIKey:  cfg.AnthropicAPIKey,
		AnthropicBaseURL: cfg.AnthropicBaseURL,
		OpenAIAPIKey:     cfg.OpenAIAPIKey,
		OpenAIBaseURL:    cfg.OpenAIBaseURL,
		GeminiAPIKey:     cfg.GeminiAPIKey,
		GCPProject:       cfg.GCPProject,
		GCPLocation:      cfg.GCPLocation,
	})
	if err != nil {
		return nil, fmt.Errorf("completion provider init failed: %w", err)
	}
	gateway := completion.NewGateway(provider, completion.Options{
		Model:     cfg.CompletionModel,
		Timeout:   cfg.CompletionTimeout,
		MaxTokens: cfg.CompletionMaxTokens,
	})

	archive, err := transcript.NewStore(ctx, cfg.TranscriptStore, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("transcript store init failed: %w", err)
	}

	sessions := session.NewManager(cfg.SessionIdleTTL)
	sessions.SetExpireHook(func(s session.Summary) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
		if f, ok := archive.(transcript.Forgetter); ok {
			f.Forget(s.ID)
		}
		observability.Logger().Info("session expired", "session_id", s.ID, "total_messages", s.TotalMessages)
	})

	chatService, err := chat.NewService(sessions, win, gateway, chat.Config{
		MaxMessageLength: cfg.MaxMessageLength,
		SystemPrompt:     cfg.SystemPrompt,
		Retry: reliability.Policy{
			MaxRetries: cfg.CompletionMaxRetries,
			Base:       cfg.CompletionRetryBackoff,
		},
	})
	if err != nil {
		_ = archive.Close()
		return nil, fmt.Errorf("chat service init failed: %w", err)
	}
	chatService.SetArchive(archive)
	chatService.SetMetrics(metrics)

	api := httpapi.New(cfg, chatService, sessions, metrics)

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Sessions: sessions,
		Chat:     chatService,
		Gateway:  gateway,
		Metrics:  metrics,
		Cleanup:  archive.Close,
	}, nil
}
