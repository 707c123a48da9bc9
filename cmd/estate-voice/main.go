package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"estate-voice-server/pkg/analysis"
	"estate-voice-server/pkg/audio"
	"estate-voice-server/pkg/cache"
	"estate-voice-server/pkg/circuitbreaker"
	"estate-voice-server/pkg/config"
	http_server "estate-voice-server/pkg/http"
	"estate-voice-server/pkg/messaging"
	"estate-voice-server/pkg/metrics"
	"estate-voice-server/pkg/pipeline"
	"estate-voice-server/pkg/response"
	"estate-voice-server/pkg/session"
	"estate-voice-server/pkg/stt"
	"estate-voice-server/pkg/telemetry/tracing"
	"estate-voice-server/pkg/tts"
	"estate-voice-server/pkg/version"
)

var (
	logger    = logrus.New()
	appConfig *config.Config

	rootCtx    context.Context
	rootCancel context.CancelFunc

	cbManager       *circuitbreaker.Manager
	sttManager      *stt.ProviderManager
	ttsManager      *tts.ProviderManager
	transcriptCache *cache.LRU[string, stt.Result]
	audioStore      *tts.AudioStore
	sessionManager  *session.Manager
	amqpClient      *messaging.AMQPClient
	publisher       messaging.Publisher
	orchestrator    *pipeline.Orchestrator
	httpServer      *http_server.Server

	runtimeMetrics *metrics.RuntimeCollector

	tracingShutdown = func(ctx context.Context) error { return nil }
)

func main() {
	rootCtx, rootCancel = context.WithCancel(context.Background())
	defer rootCancel()

	if err := initialize(); err != nil {
		logger.WithError(err).Fatal("Failed to initialize application")
	}

	sessionManager.Start()

	if appConfig.HTTP.Enabled {
		httpServer.Start()
		logger.Info("HTTP server started")
	} else {
		logger.Info("HTTP server is disabled by configuration")
	}

	logger.WithFields(logrus.Fields{
		"version":      version.Version,
		"stt_provider": appConfig.STT.Provider,
		"tts_provider": appConfig.TTS.Provider,
	}).Info("Estate voice server running")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigChan
	logger.WithField("signal", sig.String()).Info("Received shutdown signal, cleaning up...")

	shutdown()
	logger.Info("Application shut down gracefully")
}

// initialize loads configuration and wires every component
func initialize() error {
	var err error

	appConfig, err = config.Load(logger)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := appConfig.ApplyLogging(logger); err != nil {
		return fmt.Errorf("failed to apply logging configuration: %w", err)
	}
	logger.WithField("level", logger.GetLevel().String()).Info("Log level set")

	metrics.Init(logger)
	metrics.SetMetricsEnabled(appConfig.HTTP.EnableMetrics)
	if appConfig.HTTP.EnableMetrics {
		runtimeMetrics = metrics.InitRuntimeMetrics(logger, 10*time.Second)
	}
	logger.Info("Metrics system initialized")

	shutdownTracing, err := tracing.Init(rootCtx, appConfig.Tracing, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	tracingShutdown = shutdownTracing

	cbManager = circuitbreaker.NewManager(logger, nil, appConfig.CircuitBreaker.Enabled)

	sttProvider, err := initializeSTT()
	if err != nil {
		return err
	}
	ttsProvider, err := initializeTTS()
	if err != nil {
		return err
	}

	// Breakers are created lazily; register them up front with per-kind settings
	cbManager.GetCircuitBreaker("stt:"+sttProvider.Name(), circuitbreaker.SpeechProviderConfig(
		appConfig.CircuitBreaker.STTFailureThreshold, appConfig.CircuitBreaker.STTTimeout))
	cbManager.GetCircuitBreaker("tts:"+ttsProvider.Name(), circuitbreaker.SpeechProviderConfig(
		appConfig.CircuitBreaker.TTSFailureThreshold, appConfig.CircuitBreaker.TTSTimeout))
	logger.Info("Circuit breaker manager initialized")

	pcfg := appConfig.Pipeline

	transcriptCache = cache.NewLRU[string, stt.Result](pcfg.CacheSize, pcfg.CacheTTL,
		cache.WithCleanupInterval[string, stt.Result](time.Minute))
	audioStore = tts.NewAudioStore(appConfig.TTS.AudioStoreSize, appConfig.TTS.AudioStoreTTL, appConfig.TTS.PublicBaseURL)

	processing := audio.DefaultProcessingConfig()
	processing.SampleRate = pcfg.SampleRate
	processing.FrameDuration = pcfg.FrameDuration
	processing.VADMode = pcfg.VADMode
	processing.NoiseThreshold = pcfg.NoiseThreshold

	transcriberConfig := stt.DefaultTranscriberConfig()
	transcriberConfig.SampleRate = pcfg.SampleRate
	transcriberConfig.Language = appConfig.STT.Language
	transcriberConfig.MinSpeech = pcfg.MinSpeech
	transcriberConfig.CachePrefixBytes = pcfg.CachePrefixSize
	transcriberConfig.Timeout = appConfig.STT.Timeout

	synthesizerConfig := tts.DefaultSynthesizerConfig()
	synthesizerConfig.DefaultVoice = appConfig.TTS.DefaultVoice
	synthesizerConfig.Streaming = appConfig.TTS.Streaming
	synthesizerConfig.Timeout = appConfig.TTS.Timeout
	synthesizerConfig.SampleRate = pcfg.SampleRate

	seed := pcfg.TemplateSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	stages := pipeline.Stages{
		Preprocessor: audio.NewPreprocessor(logger, processing),
		Transcriber:  stt.NewTranscriber(logger, sttProvider, transcriptCache, cbManager, transcriberConfig),
		Features:     audio.NewFeatureExtractor(logger, pcfg.SampleRate),
		Emotion:      analysis.NewEmotionClassifier(logger, pcfg.ExcitedEnergy),
		Intent:       analysis.NewIntentClassifier(logger),
		Objections:   analysis.NewObjectionDetector(logger),
		Entities:     analysis.NewEntityExtractor(logger),
		Generator:    response.NewGenerator(logger, rand.New(rand.NewSource(seed))),
		Synthesizer:  tts.NewSynthesizer(logger, ttsProvider, audioStore, cbManager, synthesizerConfig),
	}

	if err := initializeSessions(); err != nil {
		return err
	}
	initializeMessaging()

	orchestrator, err = pipeline.New(logger, stages, sessionManager, publisher, pipeline.Config{
		LatencyTarget:      pcfg.LatencyTarget,
		HardDeadline:       pcfg.HardDeadline,
		MinTranscriptChars: pipeline.DefaultConfig().MinTranscriptChars,
	})
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	deps := http_server.Dependencies{
		Conversations: orchestrator,
		Audio:         audioStore,
		Sessions:      sessionManager,
		Breakers:      cbManager,
	}
	if amqpClient != nil {
		deps.Messaging = amqpClient
	}
	httpServer, err = http_server.NewServer(logger, appConfig.HTTP, deps)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	return nil
}

func initializeSTT() (stt.Provider, error) {
	cfg := appConfig.STT
	sttManager = stt.NewProviderManager(logger, "mock")

	if err := sttManager.RegisterProvider(stt.NewMockProvider(logger)); err != nil {
		return nil, fmt.Errorf("failed to register mock STT provider: %w", err)
	}

	var candidate stt.Provider
	switch cfg.Provider {
	case "google":
		candidate = stt.NewGoogleProvider(logger, &cfg.Google, cfg.Language)
	case "amazon":
		candidate = stt.NewAmazonTranscribeProvider(logger, &cfg.Amazon, cfg.Language)
	case "openai":
		candidate = stt.NewOpenAIProvider(logger, &cfg.OpenAI, cfg.Language)
	}
	if candidate != nil {
		if err := sttManager.RegisterProvider(candidate); err != nil {
			logger.WithError(err).WithField("provider", cfg.Provider).Warn("STT provider unavailable, using mock")
		}
	}

	provider, err := sttManager.Resolve(cfg.Provider)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve STT provider: %w", err)
	}
	logger.WithField("provider", provider.Name()).Info("STT provider selected")
	return provider, nil
}

func initializeTTS() (tts.Provider, error) {
	cfg := appConfig.TTS
	ttsManager = tts.NewProviderManager(logger, "mock")

	if err := ttsManager.RegisterProvider(tts.NewMockProvider(logger)); err != nil {
		return nil, fmt.Errorf("failed to register mock TTS provider: %w", err)
	}
	if cfg.Provider == "elevenlabs" {
		if err := ttsManager.RegisterProvider(tts.NewElevenLabsProvider(logger, &cfg.ElevenLabs)); err != nil {
			logger.WithError(err).Warn("ElevenLabs unavailable, using mock")
		}
	}

	provider, err := ttsManager.Resolve(cfg.Provider)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve TTS provider: %w", err)
	}
	logger.WithField("provider", provider.Name()).Info("TTS provider selected")
	return provider, nil
}

func initializeSessions() error {
	managerConfig := session.ManagerConfig{
		IdleTimeout:   appConfig.Pipeline.SessionIdleTimeout,
		SweepInterval: appConfig.Pipeline.SessionSweep,
		LatencyTarget: appConfig.Pipeline.LatencyTarget,
		MaxObjections: appConfig.Pipeline.MaxObjections,
	}

	var store session.Store
	if appConfig.Redis.Enabled {
		redisStore, err := session.NewRedisStore(appConfig.Redis, logger)
		if err != nil {
			return fmt.Errorf("failed to connect session store: %w", err)
		}
		store = redisStore
		logger.WithField("address", appConfig.Redis.Address).Info("Redis session store connected")
	}

	sessionManager = session.NewManager(logger, store, managerConfig)
	return nil
}

// initializeMessaging connects the analytics feed. A broker that is down at
// startup is retried in the background; events are dropped meanwhile.
func initializeMessaging() {
	if !appConfig.Messaging.Enabled {
		publisher = messaging.NopPublisher{}
		logger.Debug("Analytics publishing disabled by configuration")
		return
	}

	amqpClient = messaging.NewAMQPClient(logger, messaging.AMQPConfigFrom(appConfig.Messaging))
	if err := amqpClient.Connect(); err != nil {
		logger.WithError(err).Warn("AMQP broker unreachable at startup, reconnecting in background")
		amqpClient.ConnectInBackground()
	}

	publisherConfig := messaging.DefaultPublisherConfig()
	publisherConfig.RoutingKey = amqpClient.BaseRoutingKey()

	eventPublisher := messaging.NewEventPublisher(logger, amqpClient, cbManager, publisherConfig)
	eventPublisher.Start()
	publisher = eventPublisher
	logger.WithField("exchange", appConfig.Messaging.ExchangeName).Info("Analytics publisher started")
}

// shutdown stops ingress first so that session summaries are published
// before the broker link closes
func shutdown() {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), appConfig.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Error shutting down HTTP server")
		} else {
			logger.Info("HTTP server shut down successfully")
		}
	}

	if sessionManager != nil {
		if err := sessionManager.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Error shutting down session manager")
		}
	}

	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.WithError(err).Warn("Error closing analytics publisher")
		}
	}

	rootCancel()

	if runtimeMetrics != nil {
		runtimeMetrics.Stop()
	}
	if transcriptCache != nil {
		transcriptCache.Close()
	}
	if audioStore != nil {
		audioStore.Close()
	}

	shutdownTraceCtx, shutdownTraceCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := tracingShutdown(shutdownTraceCtx); err != nil {
		logger.WithError(err).Warn("Failed to flush tracing spans during shutdown")
	}
	shutdownTraceCancel()
}
