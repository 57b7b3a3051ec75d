// Command server runs the conversation engine as a standalone HTTP/WS
// process: a ControlSurface for session lifecycle, a websocket Transport for
// duplex audio, and a Prometheus metrics endpoint.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lokutor-ai/convo-engine/internal/config"
	"github.com/lokutor-ai/convo-engine/internal/observe"
	"github.com/lokutor-ai/convo-engine/internal/sink"
	"github.com/lokutor-ai/convo-engine/pkg/control"
	"github.com/lokutor-ai/convo-engine/pkg/orchestrator"
	llmProvider "github.com/lokutor-ai/convo-engine/pkg/providers/llm"
	sttProvider "github.com/lokutor-ai/convo-engine/pkg/providers/stt"
	ttsProvider "github.com/lokutor-ai/convo-engine/pkg/providers/tts"
	"github.com/lokutor-ai/convo-engine/pkg/session"
	"github.com/lokutor-ai/convo-engine/pkg/transport"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONVO_CONFIG_FILE"))
	if err != nil {
		log.Fatalf("Error: failed to load configuration: %v", err)
	}

	logger := observe.NewTextLogger(slog.LevelInfo)

	mp, err := observe.InitProvider()
	if err != nil {
		log.Fatalf("Error: failed to init metrics provider: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mp.Shutdown(shutdownCtx)
	}()
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		log.Fatalf("Error: failed to build metrics instruments: %v", err)
	}

	if cfg.LokutorAPIKey == "" {
		log.Fatal("Error: LOKUTOR_API_KEY must be set.")
	}

	stt := buildSTT(cfg)
	llm := buildLLM(cfg)

	fmt.Printf("Configured: STT=%s | LLM=%s | TTS=lokutor | store=%s\n",
		cfg.STTProvider, cfg.LLMProvider, storeKind(cfg))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store sink.Sink
	if cfg.StoreDSN != "" {
		store, err = sink.NewPostgresSink(ctx, cfg.StoreDSN, logger)
		if err != nil {
			log.Fatalf("Error: failed to connect to session store: %v", err)
		}
	} else {
		store = sink.NewMemorySink()
	}
	defer store.Close()

	tr := transport.New(nil, logger,
		transport.WithVADDefaults(cfg.VADThreshold, cfg.VADSilenceWindow),
		transport.WithReconnectGrace(cfg.ReconnectGrace),
		transport.WithMetrics(metrics),
	)

	orch := orchestrator.New(stt, llm, func() orchestrator.Synthesizer { return ttsProvider.NewLokutorTTS(cfg.LokutorAPIKey) }, tr, logger, metrics)

	manager := session.NewManager(orch.DriverFactory(),
		session.WithLogger(logger),
		session.WithMetrics(metrics),
		session.WithIdleThreshold(cfg.IdleThreshold),
		session.WithCleanupInterval(cfg.CleanupInterval),
	)
	tr.BindManager(manager)
	manager.SetObserver(session.NewFanOutObserver(tr, store))
	manager.SetTransportCloser(tr)

	transportURL := "ws://" + publicHost(cfg.ListenAddr) + "/ws"
	surface := control.New(manager, store, transportURL, logger,
		control.HTTPReachability(sttHealthURL(cfg)),
		control.HTTPReachability(llmHealthURL(cfg)),
		control.HTTPReachability("https://api.lokutor.ai"),
	)

	go manager.RunCleanup(ctx)

	mux := surface.Routes()
	mux.HandleFunc("/ws/", tr.HandleWebSocket)

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler()}

	go func() {
		logger.Info("control/transport listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Error: http server: %v", err)
		}
	}()
	go func() {
		logger.Info("metrics listening", "addr", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	fmt.Println("Conversation engine started. Press Ctrl+C to exit.")
	<-ctx.Done()
	fmt.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)
}

func buildSTT(cfg config.Config) orchestrator.Transcriber {
	switch cfg.STTProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			log.Fatal("Error: OPENAI_API_KEY must be set for openai STT")
		}
		return sttProvider.NewOpenAISTT(cfg.OpenAIAPIKey, cfg.OpenAISTTModel)
	case "deepgram":
		if cfg.DeepgramAPIKey == "" {
			log.Fatal("Error: DEEPGRAM_API_KEY must be set for deepgram STT")
		}
		return sttProvider.NewDeepgramSTT(cfg.DeepgramAPIKey)
	case "assemblyai":
		if cfg.AssemblyAIAPIKey == "" {
			log.Fatal("Error: ASSEMBLYAI_API_KEY must be set for assemblyai STT")
		}
		return sttProvider.NewAssemblyAISTT(cfg.AssemblyAIAPIKey)
	case "groq":
		fallthrough
	default:
		if cfg.GroqAPIKey == "" {
			log.Fatal("Error: GROQ_API_KEY must be set for groq STT")
		}
		return sttProvider.NewGroqSTT(cfg.GroqAPIKey, cfg.GroqSTTModel)
	}
}

func buildLLM(cfg config.Config) orchestrator.Reasoner {
	switch cfg.LLMProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			log.Fatal("Error: OPENAI_API_KEY must be set for openai LLM")
		}
		return llmProvider.NewOpenAILLM(cfg.OpenAIAPIKey, cfg.OpenAILLMModel)
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			log.Fatal("Error: ANTHROPIC_API_KEY must be set for anthropic LLM")
		}
		return llmProvider.NewAnthropicLLM(cfg.AnthropicAPIKey, cfg.AnthropicLLMModel)
	case "google":
		if cfg.GoogleAPIKey == "" {
			log.Fatal("Error: GOOGLE_API_KEY must be set for google LLM")
		}
		return llmProvider.NewGoogleLLM(cfg.GoogleAPIKey, cfg.GoogleLLMModel)
	case "groq":
		fallthrough
	default:
		if cfg.GroqAPIKey == "" {
			log.Fatal("Error: GROQ_API_KEY must be set for groq LLM")
		}
		return llmProvider.NewGroqLLM(cfg.GroqAPIKey, cfg.GroqLLMModel)
	}
}

func storeKind(cfg config.Config) string {
	if cfg.StoreDSN != "" {
		return "postgres"
	}
	return "memory"
}

func sttHealthURL(cfg config.Config) string {
	switch cfg.STTProvider {
	case "deepgram":
		return "https://api.deepgram.com"
	case "assemblyai":
		return "https://api.assemblyai.com"
	case "openai":
		return "https://api.openai.com"
	default:
		return "https://api.groq.com"
	}
}

func llmHealthURL(cfg config.Config) string {
	switch cfg.LLMProvider {
	case "openai":
		return "https://api.openai.com"
	case "anthropic":
		return "https://api.anthropic.com"
	case "google":
		return "https://generativelanguage.googleapis.com"
	default:
		return "https://api.groq.com"
	}
}

// publicHost strips a leading ":" from a listen address like ":8080" down
// to "localhost:8080" for the transport_url the ControlSurface hands back
// to clients. A bound host is used verbatim.
func publicHost(listenAddr string) string {
	if len(listenAddr) > 0 && listenAddr[0] == ':' {
		return "localhost" + listenAddr
	}
	return listenAddr
}
