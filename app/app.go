package studyroom

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/putto11262002/studyroom/core"
)

// App wires the engine together for one signed-in user: the room registry,
// the session tracker, the pomodoro timer, the sharing coordinator, and at
// most one open shared space at a time.
type App struct {
	config  *Config
	context context.Context
	cancel  context.CancelFunc
	logger  *slog.Logger

	api      *core.APIClient
	registry *core.Registry
	timer    *core.Timer
	tracker  *core.Tracker
	sharer   *core.Sharer

	devices core.MediaDevices
	peers   core.PeerFactory

	// xpTotal caches the user's XP for the capacity fallback; refreshed from
	// the collaborator's stats and bumped locally as sessions complete.
	xpTotal atomic.Int64

	mu    sync.Mutex
	space *core.Space

	cleanupFuncs []func(context.Context)

	wg sync.WaitGroup
}

func New(ctx context.Context, config *Config, devices core.MediaDevices, peers core.PeerFactory) (*App, error) {
	app := &App{
		devices: devices,
		peers:   peers,
	}
	if ctx == nil {
		ctx, _ = signal.NotifyContext(
			context.Background(),
			syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
	}
	// the run loops hang off an internal context so Close can stop them even
	// when the caller's context never cancels
	app.context, app.cancel = context.WithCancel(ctx)

	if config == nil {
		var err error
		config, err = LoadConfig()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %s", FormatValidationErrors(err))
	}
	app.config = config

	app.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug,
		AddSource: true,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.SourceKey {
				source, _ := a.Value.Any().(*slog.Source)
				if source != nil {
					source.File = filepath.Base(source.File)
				}
			}
			return a
		},
	}))

	app.api = core.NewAPIClient(config.API.BaseURL, config.API.Token)

	app.tracker = core.NewTracker(app.context, app.api, app.api,
		core.WithTrackerLogger(app.logger))
	app.timer = core.NewTimer(app.context, app.api,
		func() bool { return app.tracker.State().State == core.SessionActive },
		core.WithTimerLogger(app.logger))
	app.registry = core.NewRegistry(app.api, app.api, config.User.ID,
		func() int { return int(app.xpTotal.Load()) },
		core.WithRegistryLogger(app.logger))
	app.sharer = core.NewSharer(core.NewArtifactClient(app.api), app.registry,
		core.WithSharerLogger(app.logger))

	return app, nil
}

// Start launches the timer and tracker loops and begins folding completed
// session summaries into the cached XP total.
func (app *App) Start() {
	if err := app.RefreshXP(app.context); err != nil {
		app.logger.Warn(fmt.Sprintf("initial stats unavailable: %v", err))
	}

	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		app.timer.Run(app.context)
	}()
	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		app.tracker.Run(app.context)
	}()
	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		for {
			select {
			case <-app.context.Done():
				return
			case s := <-app.tracker.Summaries():
				app.xpTotal.Add(int64(s.EarnedXP))
				app.logger.Info(fmt.Sprintf("session %s ended with %d XP", s.ID, s.EarnedXP))
			}
		}
	}()

	app.AddCleanupFunc(func(ctx context.Context) {
		app.CloseSpace()
	})
}

// Close tears the app down: the open space is disposed, the loops drain, and
// every registered cleanup runs within the deadline.
func (app *App) Close() {
	app.cancel()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer closeCancel()
	var wg sync.WaitGroup
	for _, f := range app.cleanupFuncs {
		wg.Add(1)
		go func(f func(context.Context)) {
			defer wg.Done()
			f(closeCtx)
		}(f)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		app.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		app.logger.Info("app shutdown gracefully")
	case <-closeCtx.Done():
		app.logger.Info("app shutdown timed out")
	}
}

func (app *App) AddCleanupFunc(f func(context.Context)) {
	app.cleanupFuncs = append(app.cleanupFuncs, f)
}

// OpenSpace enters the room and opens its shared space, replacing any space
// already open. Returns the live space once the channel is connected.
func (app *App) OpenSpace(ctx context.Context, roomID string) (*core.Space, error) {
	if _, err := app.registry.EnterRoom(ctx, roomID); err != nil {
		return nil, err
	}

	app.mu.Lock()
	prev := app.space
	app.space = nil
	app.mu.Unlock()
	if prev != nil {
		prev.Dispose()
	}

	space := core.NewSpace(core.SpaceConfig{
		RoomID:      roomID,
		UserID:      app.config.User.ID,
		Username:    app.config.User.Name,
		RealtimeURL: app.config.RealtimeURL,
		Devices:     app.devices,
		Peers:       app.peers,
		Logger:      app.logger,
	})
	if err := space.Connect(ctx); err != nil {
		space.Dispose()
		return nil, err
	}

	app.mu.Lock()
	app.space = space
	app.mu.Unlock()
	return space, nil
}

// CloseSpace disposes the open shared space, if any. Idempotent.
func (app *App) CloseSpace() {
	app.mu.Lock()
	space := app.space
	app.space = nil
	app.mu.Unlock()
	if space != nil {
		space.Dispose()
	}
}

// Space returns the open shared space, if any.
func (app *App) Space() (*core.Space, bool) {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.space, app.space != nil
}

// RefreshXP re-pulls the user's lifetime XP from the collaborator's stats.
func (app *App) RefreshXP(ctx context.Context) error {
	stats, err := app.api.Stats(ctx)
	if err != nil {
		return err
	}
	app.xpTotal.Store(int64(stats.TotalXPEarned))
	return nil
}

func (app *App) Registry() *core.Registry { return app.registry }
func (app *App) Timer() *core.Timer      { return app.timer }
func (app *App) Tracker() *core.Tracker  { return app.tracker }
func (app *App) Sharer() *core.Sharer    { return app.sharer }
