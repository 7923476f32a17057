// Package app 按配置组装网关与服务。
package app

import (
	"context"

	"go.uber.org/zap"

	"github.com/zhouzirui/pitch-arena/backend/internal/config"
	"github.com/zhouzirui/pitch-arena/backend/internal/logger"
	"github.com/zhouzirui/pitch-arena/backend/internal/metrics"
	"github.com/zhouzirui/pitch-arena/backend/internal/model/persona"
	"github.com/zhouzirui/pitch-arena/backend/internal/service/ai"
	"github.com/zhouzirui/pitch-arena/backend/internal/service/analysis"
	"github.com/zhouzirui/pitch-arena/backend/internal/service/interview"
	"github.com/zhouzirui/pitch-arena/backend/internal/service/speech"
)

// Services 是按配置组装好的全部服务。
type Services struct {
	Personas    persona.Store
	Interviews  *interview.Service
	Events      *interview.Broadcaster
	Generator   *ai.Gateway
	Transcriber *speech.Transcriber
	Synthesizer *speech.Synthesizer
}

// Build 按配置组装各个网关。缺少凭证的提供方会被跳过，服务仍然可以启动。
// sink 为空时使用新建的 Broadcaster。
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger, recorder *metrics.Recorder, sink interview.EventSink) *Services {
	log = logger.OrNop(log)
	personas := persona.NewMemoryStore(persona.Seed())

	primary, fallback := BuildCompleters(ctx, cfg, log)

	var strategies []ai.Strategy
	if primary != nil {
		strategies = append(strategies, ai.NewStructuredStrategy(primary, cfg.Interview.PreviewMaxChars))
	}
	if fallback != nil {
		strategies = append(strategies, ai.NewFreeformStrategy(fallback))
	}
	if len(strategies) == 0 {
		log.Warn("no generation provider configured, every turn will fail until ARK_* or GEMINI_API_KEY is set")
	}
	gateway := ai.NewGateway(strategies,
		ai.WithTimeout(cfg.AI.Timeout),
		ai.WithLogger(log),
		ai.WithMetrics(recorder),
	)

	var analyzerCompleter ai.Completer
	switch {
	case fallback != nil:
		analyzerCompleter = fallback
	case primary != nil:
		analyzerCompleter = primary
	}
	var analyzer interview.Analyzer
	if analyzerCompleter != nil {
		analyzer = analysis.New(analyzerCompleter,
			analysis.WithTimeout(cfg.Interview.AnalysisTimeout),
			analysis.WithLogger(log),
			analysis.WithMetrics(recorder),
		)
	}

	var recognizer speech.Recognizer
	var backends []speech.Backend
	if cfg.Voice.Enabled() {
		backends = append(backends, speech.NewElevenLabsClient(speech.ElevenLabsOptions{
			APIKey:          cfg.Voice.ElevenLabsAPIKey,
			Model:           cfg.Voice.ElevenLabsModel,
			OutputFormat:    cfg.Voice.OutputFormat,
			WSURL:           cfg.Voice.WSBaseURL,
			Stability:       cfg.Voice.Stability,
			SimilarityBoost: cfg.Voice.SimilarityBoost,
		}, log))
	}
	if cfg.Speech.Enabled {
		client := cfg.Speech.ClientConfig()
		recognizer = speech.NewVolcengineASRClient(client, log)
		backends = append(backends, speech.NewVolcengineBackend(speech.NewVolcengineTTSClient(client, log)))
	} else {
		log.Info("volcengine speech credentials missing, transcription disabled")
	}

	transcriber := speech.NewTranscriber(recognizer, cfg.Speech.ASRLanguage, log, recorder)
	synthesizer := speech.NewSynthesizer(backends, log, recorder)

	orch := interview.NewOrchestrator(interview.Dependencies{
		Personas:    personas,
		Generator:   gateway,
		Transcriber: transcriber,
		Synthesizer: synthesizer,
		Analyzer:    analyzer,
	},
		interview.WithOpeningDelay(cfg.Interview.OpeningDelay),
		interview.WithSpeechTimeout(cfg.Voice.Timeout),
		interview.WithPreviewMaxChars(cfg.Interview.PreviewMaxChars),
		interview.WithLogger(log),
		interview.WithMetrics(recorder),
	)

	events := interview.NewBroadcaster(0, log)
	if sink == nil {
		sink = events
	}

	log.Info("services ready",
		zap.Strings("generation", gateway.Providers()),
		zap.Strings("speech", synthesizer.Backends()),
		zap.Bool("transcription", transcriber.Available()),
		zap.Bool("analysis", analyzer != nil),
	)

	return &Services{
		Personas:    personas,
		Interviews:  interview.NewService(orch, sink, log),
		Events:      events,
		Generator:   gateway,
		Transcriber: transcriber,
		Synthesizer: synthesizer,
	}
}

// BuildCompleters 返回主提供方（Ark）与备用提供方（Gemini），未配置的为 nil。
func BuildCompleters(ctx context.Context, cfg *config.Config, log *zap.Logger) (primary, fallback ai.Completer) {
	if cfg.AI.Enabled() {
		chatModel, err := cfg.AI.NewChatModel(ctx)
		if err != nil {
			log.Warn("ark chat model unavailable", zap.Error(err))
		} else if completer, err := ai.NewChatCompleter(ctx, "ark", chatModel); err != nil {
			log.Warn("ark chain compile failed", zap.Error(err))
		} else {
			primary = completer
		}
	} else {
		log.Info("ark credentials missing, primary provider disabled")
	}

	if cfg.Gemini.Enabled() {
		completer, err := ai.NewGeminiCompleter(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model)
		if err != nil {
			log.Warn("gemini client unavailable", zap.Error(err))
		} else {
			fallback = completer
		}
	}
	return primary, fallback
}
