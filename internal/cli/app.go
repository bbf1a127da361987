package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/calvinalkan/postgate/internal/config"
	"github.com/calvinalkan/postgate/internal/fs"
	"github.com/calvinalkan/postgate/internal/micropub"
	"github.com/calvinalkan/postgate/internal/reconcile"
	"github.com/calvinalkan/postgate/internal/store"
)

// app carries what every command needs: the resolved config, the logger and
// the principal this invocation acts as.
type app struct {
	cfg         config.Config
	log         *logrus.Logger
	principal   micropub.Principal
	lockTimeout time.Duration
}

func newApp(cfg config.Config, logOut io.Writer) *app {
	return &app{
		cfg:         cfg,
		log:         NewLogger(cfg, logOut),
		principal:   micropub.Principal{Me: cfg.Me, Scopes: cfg.Scopes},
		lockTimeout: micropub.DefaultLockTimeout,
	}
}

// NewLogger builds the logger described by cfg. cfg must be validated.
func NewLogger(cfg config.Config, w io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(w)

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}

	log.SetLevel(level)

	if cfg.LogFormat == config.LogFormatJSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{DisableColors: true, FullTimestamp: true})
	}

	return log
}

// withService opens the store, builds the service and runs fn. The store is
// closed afterwards.
func (a *app) withService(ctx context.Context, fn func(*micropub.Service) error) error {
	st, err := store.Open(ctx, a.cfg.Store.Driver, a.cfg.StoreDSN())
	if err != nil {
		return err
	}

	defer func() {
		if cerr := st.Close(); cerr != nil {
			a.log.WithError(cerr).Warn("closing store")
		}
	}()

	fsys := fs.NewReal()
	rec := reconcile.New(fsys, a.cfg.OutputDirAbs,
		reconcile.WithExtension(a.cfg.Extension),
		reconcile.WithPreserve(a.cfg.Preserve...),
	)

	svc, err := micropub.New(a.cfg.Me, st, rec,
		micropub.WithLogger(a.log),
		micropub.WithRetries(a.cfg.CreateRetries),
		micropub.WithLock(fs.NewLocker(fsys), a.cfg.LockPath()),
		micropub.WithLockTimeout(a.lockTimeout),
	)
	if err != nil {
		return err
	}

	return fn(svc)
}

// readInput reads a request body from path, or stdin when path is "" or "-".
func (a *app) readInput(o *IO, path string) ([]byte, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(o.In())
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}

		return data, nil
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(a.cfg.EffectiveCwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading request: %w", err)
	}

	return data, nil
}
