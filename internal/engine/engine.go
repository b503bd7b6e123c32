package engine

import (
	"context"
	"sync"
	"time"

	"github.com/genricoloni/stagelink/internal/config"
	"github.com/genricoloni/stagelink/internal/domain"
	"github.com/genricoloni/stagelink/internal/remote"
	"github.com/genricoloni/stagelink/internal/stage"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	streamBuffer = 32
	// slides arriving closer together than this are logged once
	debounceDuration = 500 * time.Millisecond
)

// StageSource is the part of the stage display client the engine watches
type StageSource interface {
	domain.Client
	Updates(buffer int) (<-chan stage.Status, func())
	Slides(buffer int) (<-chan domain.Slides, func())
	Messages(buffer int) (<-chan string, func())
	Timers(buffer int) (<-chan domain.Timer, func())
}

// RemoteSource is the part of the control client the engine watches
type RemoteSource interface {
	domain.Client
	Updates(buffer int) (<-chan remote.Status, func())
	ClockState(buffer int) (<-chan []domain.CatalogClock, func())
}

// Engine runs the enabled clients and reports what they mirror
type Engine struct {
	logger *zap.Logger
	cfg    config.Config
	stage  StageSource
	remote RemoteSource

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates a new orchestration engine
func NewEngine(logger *zap.Logger, cfg config.Config, st StageSource, rc RemoteSource) *Engine {
	return &Engine{
		logger: logger.Named("engine"),
		cfg:    cfg,
		stage:  st,
		remote: rc,
	}
}

// Start connects the enabled clients and launches the event loop.
// It returns immediately (non-blocking).
func (e *Engine) Start(ctx context.Context) error {
	e.logger.Info("Engine starting...")

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return nil
	}

	w := e.watch()

	if e.cfg.Stage.Enabled {
		if err := e.stage.Start(ctx); err != nil {
			w.close()
			return err
		}
	}
	if e.cfg.Remote.Enabled {
		if err := e.remote.Start(ctx); err != nil {
			w.close()
			if e.cfg.Stage.Enabled {
				err = multierr.Append(err, e.stage.Stop(ctx))
			}
			return err
		}
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	go e.runLoop(loopCtx, w, e.done)
	return nil
}

// Stop closes both clients and waits for the event loop to exit
func (e *Engine) Stop(ctx context.Context) error {
	e.logger.Info("Engine stopping...")

	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.mu.Unlock()

	var err error
	if e.cfg.Stage.Enabled {
		err = multierr.Append(err, e.stage.Stop(ctx))
	}
	if e.cfg.Remote.Enabled {
		err = multierr.Append(err, e.remote.Stop(ctx))
	}

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			err = multierr.Append(err, ctx.Err())
		}
	}
	return err
}

// watcher holds the subscriptions of one event loop
type watcher struct {
	stageStatus <-chan stage.Status
	slides      <-chan domain.Slides
	messages    <-chan string
	timers      <-chan domain.Timer
	remoteStat  <-chan remote.Status
	clocks      <-chan []domain.CatalogClock
	cancels     []func()
}

func (w *watcher) close() {
	for _, cancel := range w.cancels {
		cancel()
	}
}

// watch subscribes before the clients start so no early update is missed.
// Streams of a disabled client stay nil and never fire.
func (e *Engine) watch() *watcher {
	w := &watcher{}
	add := func(cancel func()) { w.cancels = append(w.cancels, cancel) }

	if e.cfg.Stage.Enabled {
		var cancel func()
		w.stageStatus, cancel = e.stage.Updates(streamBuffer)
		add(cancel)
		w.slides, cancel = e.stage.Slides(streamBuffer)
		add(cancel)
		w.messages, cancel = e.stage.Messages(streamBuffer)
		add(cancel)
		w.timers, cancel = e.stage.Timers(streamBuffer)
		add(cancel)
	}
	if e.cfg.Remote.Enabled {
		var cancel func()
		w.remoteStat, cancel = e.remote.Updates(streamBuffer)
		add(cancel)
		w.clocks, cancel = e.remote.ClockState(streamBuffer)
		add(cancel)
	}
	return w
}

// runLoop logs what the clients report. Slide snapshots are debounced:
// operators clicking through slides quickly produce one log line.
func (e *Engine) runLoop(ctx context.Context, w *watcher, done chan struct{}) {
	defer close(done)
	defer w.close()

	timer := time.NewTimer(debounceDuration)
	timer.Stop()

	var (
		pendingSlides *domain.Slides
		stageState    domain.ConnectionState
		remoteState   domain.ConnectionState
		presentation  string
		slideIndex    = -1
	)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Engine loop stopped")
			return

		case s, ok := <-w.stageStatus:
			if !ok {
				w.stageStatus = nil
				continue
			}
			if s.Connection != stageState {
				stageState = s.Connection
				e.logger.Info("Stage display connection", zap.Stringer("state", stageState))
			}

		case slides, ok := <-w.slides:
			if !ok {
				w.slides = nil
				continue
			}
			pendingSlides = &slides
			timer.Reset(debounceDuration)

		case <-timer.C:
			if pendingSlides != nil {
				e.logger.Info("Slide changed",
					zap.String("current", pendingSlides.Current.Text),
					zap.String("next", pendingSlides.Next.Text))
				pendingSlides = nil
			}

		case msg, ok := <-w.messages:
			if !ok {
				w.messages = nil
				continue
			}
			e.logger.Info("Stage message", zap.String("text", msg))

		case t, ok := <-w.timers:
			if !ok {
				w.timers = nil
				continue
			}
			e.logger.Debug("Timer", zap.String("uid", t.ID), zap.String("text", t.RawTime), zap.Int("seconds", t.Seconds))

		case s, ok := <-w.remoteStat:
			if !ok {
				w.remoteStat = nil
				continue
			}
			if s.Connection != remoteState {
				remoteState = s.Connection
				e.logger.Info("Remote connection",
					zap.Stringer("state", remoteState),
					zap.Bool("controlling", s.Controlling))
			}
			if p := s.CurrentPresentation; p != nil && p.Location != presentation {
				presentation = p.Location
				e.logger.Info("Presentation changed", zap.String("name", p.Name), zap.String("location", p.Location))
			}
			if s.HasSlideIndex && s.SlideIndex != slideIndex {
				slideIndex = s.SlideIndex
				e.logger.Debug("Slide index", zap.Int("index", slideIndex))
			}

		case clocks, ok := <-w.clocks:
			if !ok {
				w.clocks = nil
				continue
			}
			for _, c := range clocks {
				if !c.Updated {
					continue
				}
				e.logger.Debug("Clock",
					zap.Int("index", c.Index),
					zap.String("name", c.Name),
					zap.String("kind", c.KindLabel),
					zap.String("text", c.RawTime),
					zap.Bool("running", c.IsRunning))
			}
		}
	}
}
