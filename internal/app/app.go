// Package app assembles the certification services from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	api "github.com/mind-engage/mindengage-cert/internal/api/http"
	"github.com/mind-engage/mindengage-cert/internal/auth"
	"github.com/mind-engage/mindengage-cert/internal/certificate"
	"github.com/mind-engage/mindengage-cert/internal/config"
	"github.com/mind-engage/mindengage-cert/internal/db"
	"github.com/mind-engage/mindengage-cert/internal/directory"
	"github.com/mind-engage/mindengage-cert/internal/exam"
	"github.com/mind-engage/mindengage-cert/internal/lock"
	"github.com/mind-engage/mindengage-cert/internal/progress"
	"github.com/mind-engage/mindengage-cert/internal/rbac"
	"github.com/mind-engage/mindengage-cert/internal/render"
	"github.com/mind-engage/mindengage-cert/internal/review"
	"github.com/mind-engage/mindengage-cert/internal/storage"
	"github.com/mind-engage/mindengage-cert/internal/window"
)

type App struct {
	Config config.Config
	Log    *slog.Logger

	DB           *db.DB
	Orders       progress.Orders
	Tracker      *progress.Tracker
	Exams        *exam.Manager
	Catalog      *exam.Catalog
	Review       *review.Coordinator
	Certificates *certificate.Engine
	People       *directory.SQLDirectory
	Blobs        storage.BlobStore
	Checker      *rbac.Checker

	closers []func() error
}

// Backends are the external collaborators New would otherwise build from config.
type Backends struct {
	Blobs    storage.BlobStore
	Renderer certificate.Renderer
	Locker   lock.Locker
}

// New opens the database, blob store, renderer and lock from cfg.
func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	driver, err := db.ParseDriver(cfg.DBDriver)
	if err != nil {
		return nil, err
	}
	d, err := db.Open(ctx, driver, cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	closers := []func() error{d.Close}
	fail := func(err error) (*App, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return nil, err
	}

	bs, err := storage.NewFSStore(cfg.BlobBasePath)
	if err != nil {
		return fail(fmt.Errorf("blob store: %w", err))
	}

	var locker lock.Locker = lock.NewLocal()
	if cfg.RedisAddr != "" {
		rl, err := lock.NewRedis(ctx, lock.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      LockTTL(cfg),
			Prefix:   "cert:render:",
		})
		if err != nil {
			return fail(err)
		}
		closers = append(closers, rl.Close)
		locker = rl
	} else {
		log.Warn("REDIS_ADDR not set; certificate generation is only serialized within this process")
	}

	a := Assemble(cfg, d, Backends{
		Blobs:    bs,
		Renderer: render.New(cfg.RenderURL, cfg.RenderTimeout),
		Locker:   locker,
	}, log)
	a.closers = closers
	return a, nil
}

// LockTTL is the configured lock TTL, raised so the lock outlives a render
// that exhausts every retry plus time to store the artifact.
func LockTTL(cfg config.Config) time.Duration {
	floor := render.WorstCase(cfg.RenderTimeout) + 30*time.Second
	if cfg.LockTTL < floor {
		return floor
	}
	return cfg.LockTTL
}

// Assemble wires the services over an open database. The returned App does
// not own d.
func Assemble(cfg config.Config, d *db.DB, b Backends, log *slog.Logger) *App {
	if log == nil {
		log = slog.Default()
	}
	if b.Locker == nil {
		b.Locker = lock.Noop{}
	}
	orders := progress.NewOrders(cfg.Orders())
	checker := rbac.NewChecker(nil)
	people := directory.NewSQL(d)
	tracker := progress.NewTracker(d, orders, window.New(cfg.WindowDays), progress.WithLogger(log))

	return &App{
		Config:  cfg,
		Log:     log,
		DB:      d,
		Orders:  orders,
		Tracker: tracker,
		Exams:   exam.NewManager(d, tracker, exam.WithLogger(log)),
		Catalog: exam.NewCatalog(d, orders, log),
		Review:  review.NewCoordinator(d, people, review.WithLogger(log), review.WithChecker(checker)),
		Certificates: certificate.NewEngine(d, orders, b.Blobs, b.Renderer, people,
			certificate.WithLogger(log),
			certificate.WithLocker(b.Locker),
			certificate.WithTitles(cfg.Titles()),
		),
		People:  people,
		Blobs:   b.Blobs,
		Checker: checker,
	}
}

// Router returns the HTTP API over the app's services.
func (a *App) Router(accessLog bool) http.Handler {
	return api.NewRouter(api.Deps{
		Tracker:        a.Tracker,
		Exams:          a.Exams,
		Catalog:        a.Catalog,
		Review:         a.Review,
		Certificates:   a.Certificates,
		People:         a.People,
		Blobs:          a.Blobs,
		Verifier:       auth.NewVerifier(a.Config.IdentitySecret),
		Checker:        a.Checker,
		CORSOrigins:    a.Config.CORSOrigins,
		AccessLog:      accessLog,
		AllowClaimRole: a.Config.AllowClaimRole,
	})
}

// StartRebuildJob schedules RebuildAll on the configured cron spec. The
// returned stop func waits for a running rebuild to finish.
func (a *App) StartRebuildJob(ctx context.Context) (stop func(), err error) {
	spec := strings.TrimSpace(a.Config.RebuildSchedule)
	if spec == "" {
		return func() {}, nil
	}
	c := cron.New()
	_, err = c.AddFunc(spec, func() {
		created, err := a.Certificates.RebuildAll(ctx, "")
		if err != nil {
			a.Log.Error("certificate rebuild finished with errors", "created", len(created), "err", err)
			return
		}
		a.Log.Info("certificate rebuild finished", "created", len(created))
	})
	if err != nil {
		return nil, fmt.Errorf("rebuild schedule %q: %w", spec, err)
	}
	c.Start()
	a.Log.Info("certificate rebuild scheduled", "schedule", spec)
	return func() { <-c.Stop().Done() }, nil
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// NewLogger returns a JSON logger at level ("debug", "info", "warn", "error").
func NewLogger(w io.Writer, level string) *slog.Logger {
	var lv slog.Level
	if err := lv.UnmarshalText([]byte(level)); err != nil {
		lv = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lv}))
}
