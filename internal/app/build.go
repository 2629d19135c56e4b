package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/antoniostano/nessievoice/internal/agent"
	"github.com/antoniostano/nessievoice/internal/artifact"
	"github.com/antoniostano/nessievoice/internal/banking"
	"github.com/antoniostano/nessievoice/internal/callflow"
	"github.com/antoniostano/nessievoice/internal/config"
	"github.com/antoniostano/nessievoice/internal/directory"
	"github.com/antoniostano/nessievoice/internal/httpapi"
	"github.com/antoniostano/nessievoice/internal/observability"
	"github.com/antoniostano/nessievoice/internal/session"
	"github.com/antoniostano/nessievoice/internal/telephony"
)

type VoiceInfo struct {
	Provider string
	Detail   string
}

type BuildResult struct {
	Config     config.Config
	API        *httpapi.Server
	Engine     *callflow.Engine
	Sessions   *session.Manager
	Artifacts  *artifact.Store
	Directory  *directory.Directory
	Metrics    *observability.Metrics
	Voice      VoiceInfo
	AgentMode  string
	LedgerLive bool
}

// Build wires every component from cfg. The directory is loaded once here;
// nothing on the callback path reaches the directory backend again.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	return build(ctx, cfg, logger, observability.NewMetrics(cfg.MetricsNamespace))
}

func build(ctx context.Context, cfg config.Config, logger *slog.Logger, metrics *observability.Metrics) (*BuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dir, err := directory.Load(ctx, cfg.DirectoryPath, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("identity directory init failed: %w", err)
	}
	if dir.Len() == 0 {
		logger.Warn("identity directory is empty; every caller will be rejected")
	}

	convAgent, err := agent.NewAdapter(ctx, agent.Config{
		Mode:         cfg.AgentMode,
		GoogleAPIKey: cfg.GoogleAPIKey,
		GeminiModel:  cfg.GeminiModel,
		HTTPURL:      cfg.AgentHTTPURL,
	})
	if err != nil {
		return nil, fmt.Errorf("conversation agent init failed: %w", err)
	}

	voiceSetup, err := resolveVoiceProviders(cfg)
	if err != nil {
		return nil, err
	}
	cfg.VoiceProvider = voiceSetup.resolvedProvider

	var ledger banking.Ledger = banking.Static{}
	ledgerLive := strings.TrimSpace(cfg.NessieAPIKey) != ""
	if ledgerLive {
		ledger = banking.NewClient(cfg.NessieBaseURL, cfg.NessieAPIKey, nil)
	}

	backend, err := newArtifactBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	artifacts := artifact.NewStore(backend, cfg.ArtifactRetention, logger)

	sessions := session.NewManager(cfg.SessionIdleTimeout())
	sessions.SetExpireHook(func(s *session.CallSession) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveCalls.Set(float64(sessions.ActiveCount()))
		artifacts.Release(context.Background(), s.CallID)
		logger.Info("call session expired", "call_id", s.CallID, "phase", string(s.Phase))
	})

	engine, err := callflow.NewEngine(callflow.Config{
		MaxAttempts:      cfg.MaxSecurityAttempts,
		RecordMaxLength:  cfg.RecordMaxLength,
		SilenceTimeout:   cfg.RecordSilenceTimeout,
		MaxSilentPrompts: cfg.MaxSilentPrompts,
		CallbackTimeout:  cfg.CallbackTimeout,
		TransactionCount: cfg.NessieTransactionCount,
		PublicBaseURL:    cfg.PublicBaseURL,
	}, callflow.Deps{
		Sessions:    sessions,
		Recordings:  telephony.NewRecordingClient(cfg.TwilioAccountSID, cfg.TwilioAuthToken, nil),
		Transcriber: voiceSetup.transcriber,
		Synthesizer: voiceSetup.synthesizer,
		Agent:       convAgent,
		Directory:   dir,
		Ledger:      ledger,
		Artifacts:   artifacts,
		Metrics:     metrics,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	api := httpapi.New(httpapi.Options{
		PublicBaseURL: cfg.PublicBaseURL,
		Sessions:      sessions,
		Calls:         engine,
		Validator:     telephony.NewValidator(cfg.TwilioAuthToken, cfg.TwilioValidateSignature),
		Renderer:      telephony.NewRenderer(cfg.PublicBaseURL),
		Artifacts:     artifacts,
		Metrics:       metrics,
		Logger:        logger,
	})

	return &BuildResult{
		Config:     cfg,
		API:        api,
		Engine:     engine,
		Sessions:   sessions,
		Artifacts:  artifacts,
		Directory:  dir,
		Metrics:    metrics,
		Voice:      VoiceInfo{Provider: voiceSetup.resolvedProvider, Detail: voiceSetup.detail},
		AgentMode:  agentMode(convAgent),
		LedgerLive: ledgerLive,
	}, nil
}

func newArtifactBackend(ctx context.Context, cfg config.Config) (artifact.Backend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.ArtifactStore)) {
	case "", "memory":
		return artifact.NewMemoryBackend(), nil
	case "s3":
		backend, err := artifact.NewS3Backend(ctx, artifact.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			Prefix:          cfg.S3Prefix,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("artifact store init failed: %w", err)
		}
		return backend, nil
	default:
		return nil, fmt.Errorf("invalid ARTIFACT_STORE: %q (expected memory|s3)", cfg.ArtifactStore)
	}
}

func agentMode(a agent.Agent) string {
	switch a.(type) {
	case *agent.GeminiAdapter:
		return "gemini"
	case *agent.HTTPAdapter:
		return "http"
	case *agent.FallbackAdapter:
		return "gemini+http"
	case *agent.MockAdapter:
		return "mock"
	default:
		return fmt.Sprintf("%T", a)
	}
}
