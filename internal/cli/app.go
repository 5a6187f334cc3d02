package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/surrealdb/surrealtodo"
	"github.com/surrealdb/surrealtodo/internal/codec"
	"github.com/surrealdb/surrealtodo/internal/config"
	"github.com/surrealdb/surrealtodo/pkg/conflict"
	"github.com/surrealdb/surrealtodo/pkg/connection"
	"github.com/surrealdb/surrealtodo/pkg/connection/gorillaws"
	httpconn "github.com/surrealdb/surrealtodo/pkg/connection/http"
	"github.com/surrealdb/surrealtodo/pkg/connection/rews"
	"github.com/surrealdb/surrealtodo/pkg/kv"
	"github.com/surrealdb/surrealtodo/pkg/kv/gormkv"
	"github.com/surrealdb/surrealtodo/pkg/kv/s3kv"
	"github.com/surrealdb/surrealtodo/pkg/kv/sqlite"
	"github.com/surrealdb/surrealtodo/pkg/logger"
	"github.com/surrealdb/surrealtodo/pkg/remote"
	"github.com/surrealdb/surrealtodo/pkg/syncmgr"
)

// app is one opened client with everything it owns.
type app struct {
	cfg    *config.Config
	log    logger.Logger
	client *surrealtodo.Client

	logCloser io.Closer
}

func openApp(ctx context.Context, cfg *config.Config, stderr io.Writer) (*app, error) {
	log, logCloser, err := newLogger(cfg.Logging, stderr)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, logCloser: logCloser}

	client, err := a.newClient(ctx)
	if err != nil {
		_ = a.closeLog()
		return nil, err
	}
	a.client = client
	return a, nil
}

func (a *app) newClient(ctx context.Context) (*surrealtodo.Client, error) {
	cfg := a.cfg
	c, err := codec.ByName(cfg.Store.Codec)
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	sender, err := newSender(ctx, cfg.Remote, cfg.Sync.ProbeInterval, a.log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	var policy conflict.AutoPolicy = conflict.NeverPolicy{}
	if cfg.Sync.AutoResolve {
		policy = conflict.SameValuePolicy{}
	}

	retryer := syncmgr.NewExponentialBackoffRetryer()
	retryer.InitialDelay = cfg.Sync.InitialDelay
	retryer.MaxDelay = cfg.Sync.MaxDelay
	retryer.MaxRetries = cfg.Sync.MaxRetries

	client, err := surrealtodo.New(ctx, surrealtodo.Options{
		Store: store,
		Remote: remote.NewDocumentClient(sender,
			remote.WithTable(cfg.Remote.Table),
			remote.WithTimeout(cfg.Remote.Timeout),
			remote.WithLogger(a.log),
		),
		Sender:        sender,
		ProbeInterval: cfg.Sync.ProbeInterval,
		Codec:         c,
		Retryer:       retryer,
		AutoPolicy:    policy,
		RetryInterval: cfg.Sync.RetryInterval,
		Logger:        a.log,
	})
	if err != nil {
		_ = sender.Close(ctx)
		_ = store.Close()
		return nil, err
	}
	return client, nil
}

func (a *app) Close(ctx context.Context) error {
	return errors.Join(a.client.Close(ctx), a.closeLog())
}

func (a *app) closeLog() error {
	if a.logCloser == nil {
		return nil
	}
	return a.logCloser.Close()
}

func openStore(ctx context.Context, cfg config.StoreConfig) (kv.Store, error) {
	var (
		store kv.Store
		err   error
	)
	switch cfg.Driver {
	case "memory":
		store = kv.NewMemory()
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
		store, err = sqlite.Open(cfg.Path)
	case "postgres":
		store, err = gormkv.Open(cfg.DSN)
	case "s3":
		store, err = s3kv.New(ctx, s3kv.Config{
			Bucket:          cfg.S3.Bucket,
			Prefix:          cfg.S3.Prefix,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			UsePathStyle:    cfg.S3.UsePathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Compression == "snappy" {
		store = kv.WithSnappy(store)
	}
	return kv.WithPrefix(store, cfg.Prefix), nil
}

// newSender builds the transport. The WebSocket one redials every
// checkInterval after losing the server, and an unreachable server at
// startup only delays the first call.
func newSender(ctx context.Context, cfg config.RemoteConfig, checkInterval time.Duration, log logger.Logger) (connection.Sender, error) {
	u, err := url.ParseRequestURI(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid remote url: %w", err)
	}
	conf := connection.NewConfig(u)
	conf.Namespace = cfg.Namespace
	conf.Database = cfg.Database
	conf.Token = cfg.Token
	conf.Timeout = cfg.Timeout
	conf.Logger = log

	switch cfg.Transport {
	case "ws":
		if err := conf.Validate(); err != nil {
			return nil, err
		}
		conn := rews.New(func() *gorillaws.Connection { return gorillaws.New(conf) }, checkInterval, log)
		if err := conn.Connect(ctx); err != nil {
			log.Warn("remote unreachable, working offline", "url", cfg.URL, "error", err)
		}
		return conn, nil
	default:
		return httpconn.New(conf), nil
	}
}

func newLogger(cfg config.LoggingConfig, stderr io.Writer) (logger.Logger, io.Closer, error) {
	if cfg.Format == "zerolog" {
		data, err := logger.Build().FromBuffer(stderr).FromPath(cfg.Path).Level(cfg.Level).Make()
		if err != nil {
			return nil, nil, err
		}
		return data.Log(), data, nil
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, nil, fmt.Errorf("logging level: %w", err)
	}
	var (
		w      = stderr
		closer io.Closer
	)
	if cfg.Path != "" {
		f := &lumberjack.Logger{Filename: cfg.Path, MaxSize: 10, MaxBackups: 3}
		w, closer = f, f
	}
	return logger.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})), closer, nil
}
