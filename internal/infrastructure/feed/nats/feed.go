// Package nats carries file-discovered notifications between the API
// process and the pipeline daemon.
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ivankoval/vault-inbox/internal/core/ports"
	"github.com/ivankoval/vault-inbox/internal/infrastructure/resilience"
)

const (
	queueGroup   = "pipeline"
	drainTimeout = 5 * time.Second
)

type Feed struct {
	conn     *nats.Conn
	subject  string
	executor *resilience.Executor
	logger   *slog.Logger
}

var _ ports.EventFeed = (*Feed)(nil)

type Options struct {
	ConnectTimeout     time.Duration
	ReconnectWait      time.Duration
	MaxReconnects      int
	ResilienceExecutor *resilience.Executor
	Logger             *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 2 * time.Second
	}
	if o.ReconnectWait <= 0 {
		o.ReconnectWait = 2 * time.Second
	}
	if o.MaxReconnects <= 0 {
		o.MaxReconnects = 60
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

func New(url, subject string) (*Feed, error) {
	return NewWithOptions(url, subject, Options{})
}

func NewWithOptions(url, subject string, options Options) (*Feed, error) {
	options = options.withDefaults()
	logger := options.Logger

	conn, err := nats.Connect(url,
		nats.Name("vault-inbox"),
		nats.Timeout(options.ConnectTimeout),
		nats.ReconnectWait(options.ReconnectWait),
		nats.MaxReconnects(options.MaxReconnects),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("feed disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("feed reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("feed connect: %w", err)
	}
	return &Feed{
		conn:     conn,
		subject:  subject,
		executor: options.ResilienceExecutor,
		logger:   logger,
	}, nil
}

func (f *Feed) Close() {
	if f.conn != nil {
		f.conn.Close()
	}
}

func (f *Feed) PublishFileDiscovered(ctx context.Context, path string) error {
	return f.publish(ctx, f.subject, path)
}

func (f *Feed) PublishRequeue(ctx context.Context, recordID string) error {
	return f.publish(ctx, f.requeueSubject(), recordID)
}

func (f *Feed) publish(ctx context.Context, subject, payload string) error {
	call := func(context.Context) error {
		if err := f.conn.Publish(subject, []byte(payload)); err != nil {
			return fmt.Errorf("feed publish %s: %w", subject, err)
		}
		return nil
	}

	var err error
	if f.executor != nil {
		err = f.executor.Execute(ctx, "feed.publish", call, classifyFeedError)
	} else {
		err = call(ctx)
	}
	return wrapTemporaryIfNeeded(err)
}

// SubscribeFileDiscovered blocks until ctx is done, draining the
// subscription on shutdown. Lost notifications are tolerated: the
// backlog scan re-discovers any file still sitting in the inbox.
func (f *Feed) SubscribeFileDiscovered(ctx context.Context, handler func(context.Context, string) error) error {
	return f.subscribe(ctx, f.subject, handler)
}

func (f *Feed) SubscribeRequeue(ctx context.Context, handler func(context.Context, string) error) error {
	return f.subscribe(ctx, f.requeueSubject(), handler)
}

func (f *Feed) requeueSubject() string {
	return f.subject + ".requeue"
}

func (f *Feed) subscribe(ctx context.Context, subject string, handler func(context.Context, string) error) error {
	sub, err := f.conn.QueueSubscribe(subject, queueGroup, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handler(handlerCtx, string(msg.Data)); err != nil {
			f.logger.Error("feed handler failed",
				"subject", subject,
				"payload", string(msg.Data),
				"error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("feed subscribe %s: %w", subject, err)
	}
	if err := f.conn.Flush(); err != nil {
		return fmt.Errorf("feed flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("drain feed subscription: %w", err)
	}
	if err := f.conn.FlushTimeout(drainTimeout); err != nil {
		return fmt.Errorf("feed flush after drain: %w", err)
	}
	return nil
}
