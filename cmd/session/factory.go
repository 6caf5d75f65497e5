package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Taichi-iskw/rewind-lang/internal/api"
	"github.com/Taichi-iskw/rewind-lang/internal/config"
	"github.com/Taichi-iskw/rewind-lang/internal/model"
	"github.com/Taichi-iskw/rewind-lang/internal/playback"
	"github.com/Taichi-iskw/rewind-lang/internal/repository/feed"
	"github.com/Taichi-iskw/rewind-lang/internal/service/common"
	"github.com/Taichi-iskw/rewind-lang/internal/service/rewind"
	"github.com/Taichi-iskw/rewind-lang/internal/service/source"
	"github.com/Taichi-iskw/rewind-lang/internal/service/speech"
	"github.com/Taichi-iskw/rewind-lang/internal/service/transcription"
	"github.com/Taichi-iskw/rewind-lang/internal/service/translation"
)

// Overrides are command-line settings applied over the configuration file
type Overrides struct {
	Method        string
	SourceLang    string
	TargetLang    string
	RewindSeconds float64
	ReplayWindow  bool
}

func (o Overrides) apply(cfg *config.Config) {
	if o.Method != "" {
		cfg.TranscriptionMethod = o.Method
	}
	if o.SourceLang != "" {
		cfg.SourceLang = o.SourceLang
	}
	if o.TargetLang != "" {
		cfg.TargetLang = o.TargetLang
	}
	if o.RewindSeconds > 0 {
		cfg.RewindSeconds = o.RewindSeconds
	}
	if o.ReplayWindow {
		cfg.ReplayWindow = true
	}
}

// Session is a loaded media source with everything needed to rewind it
type Session struct {
	Config   *config.Config
	Title    string
	Resource playback.Resource
	Rewinder api.Rewinder
	Speech   api.SpeechCanceler
	Feeds    feed.Repository // nil without a database
	Logger   *zap.SugaredLogger

	close func()
}

// Close stops playback and releases every process and connection
func (s *Session) Close() {
	if s.close != nil {
		s.close()
	}
}

// Factory creates sessions
type Factory interface {
	CreateSession(ctx context.Context, mediaSource string, overrides Overrides) (*Session, error)
	// Plan resolves settings and the capture strategy without loading media
	Plan(ctx context.Context, overrides Overrides) (*config.Config, transcription.CaptureStrategy, error)
}

// ServiceFactory wires sessions from the configuration file
type ServiceFactory struct {
	cmdRunner common.CmdRunner
	logger    func() *zap.SugaredLogger
}

// NewServiceFactory creates a new service factory
func NewServiceFactory(logger func() *zap.SugaredLogger) *ServiceFactory {
	return &ServiceFactory{
		cmdRunner: common.NewCmdRunner(),
		logger:    logger,
	}
}

func (f *ServiceFactory) loadConfig(overrides Overrides) (*config.Config, error) {
	cfg, err := config.NewConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	overrides.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (f *ServiceFactory) Plan(ctx context.Context, overrides Overrides) (*config.Config, transcription.CaptureStrategy, error) {
	cfg, err := f.loadConfig(overrides)
	if err != nil {
		return nil, nil, err
	}
	logger := f.logger()

	// nothing is loaded, so strategies get a resource-less holder and no buffer
	selector := f.newSelector(cfg, playback.NewTapHolder(nil), nil, logger)
	strategy, err := selector.Select(model.TranscriptionMethod(cfg.TranscriptionMethod))
	if err != nil {
		return cfg, nil, err
	}
	return cfg, strategy, nil
}

func (f *ServiceFactory) CreateSession(ctx context.Context, mediaSource string, overrides Overrides) (*Session, error) {
	cfg, err := f.loadConfig(overrides)
	if err != nil {
		return nil, err
	}
	logger := f.logger()

	resolved, err := source.NewResolverWithCmdRunner(f.cmdRunner, logger).Resolve(ctx, mediaSource)
	if err != nil {
		return nil, err
	}

	translator, err := translation.New(translation.Config{
		Provider: cfg.Translation.Provider,
		APIURL:   cfg.Translation.APIURL,
		APIKey:   cfg.Translation.APIKey,
		Model:    cfg.Translation.Model,
		Command:  cfg.Translation.Command,
		Fallback: cfg.Translation.Fallback,
	}, f.cmdRunner, logger)
	if err != nil {
		return nil, err
	}

	player := playback.NewProcessPlayer(f.cmdRunner, resolved.Location, logger)
	if err := player.Load(ctx); err != nil {
		return nil, err
	}

	var cleanups []func()
	closeAll := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	cleanups = append(cleanups, func() { _ = player.Pause() })

	taps := playback.NewTapHolder(player)

	var buffer transcription.WindowBuffer
	if cfg.BufferSeconds > 0 && cfg.TranscriptionMethod != string(model.MethodLocal) {
		if tap, err := taps.Acquire(); err != nil {
			logger.Warnw("rolling buffer disabled", "error", err)
		} else {
			rolling := playback.NewRollingBuffer(cfg.BufferSeconds)
			bufferCtx, cancel := context.WithCancel(context.Background())
			go rolling.Run(bufferCtx, tap)
			cleanups = append(cleanups, cancel)
			buffer = rolling
		}
	}

	selector := f.newSelector(cfg, taps, buffer, logger)

	speaker := speech.NewExclusiveSpeaker(
		speech.NewCommandSpeaker(f.cmdRunner, cfg.Speech.Command, cfg.Speech.Args, logger), logger)
	cleanups = append(cleanups, speaker.Cancel)

	orchestrator := rewind.NewOrchestrator(player, selector, translator, speaker, cfg, logger,
		rewind.Options{ReadyTimeout: cfg.ReadyTimeout})

	session := &Session{
		Config:   cfg,
		Title:    resolved.Title,
		Resource: player,
		Rewinder: orchestrator,
		Speech:   speaker,
		Logger:   logger,
	}

	if cfg.DatabaseURL != "" {
		pool, err := config.NewDatabasePool(ctx, cfg)
		if err != nil {
			logger.Warnw("feed history disabled", "error", err)
		} else {
			cleanups = append(cleanups, pool.Close)
			session.Feeds = feed.NewRepository(pool)
			if _, err := session.Feeds.Touch(ctx, mediaSource, resolved.Title); err != nil {
				logger.Warnw("failed to record feed", "error", err)
			}
		}
	}

	session.close = closeAll
	return session, nil
}

func (f *ServiceFactory) newSelector(cfg *config.Config, taps *playback.TapHolder, buffer transcription.WindowBuffer, logger *zap.SugaredLogger) *transcription.Selector {
	recognizer := transcription.NewCommandRecognizer(f.cmdRunner, cfg.Local.Command, cfg.Local.Args, logger)

	return transcription.NewSelector(
		transcription.NewLocalCapture(recognizer, taps, logger),
		transcription.NewCloudCapture(transcription.CloudConfig{
			APIKey:   cfg.Cloud.APIKey,
			Endpoint: cfg.Cloud.Endpoint,
			Model:    cfg.Cloud.Model,
		}, buffer, logger),
		transcription.NewSelfHostedCapture(transcription.SelfHostedConfig{
			APIURL: cfg.SelfHosted.APIURL,
		}, buffer, logger),
	)
}
