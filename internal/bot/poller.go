package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tgbot-facade/internal/metrics"
	"tgbot-facade/internal/telegram"
)

const (
	// DefaultPollTimeout — время ожидания новых обновлений на стороне сервера, в секундах.
	DefaultPollTimeout = 30
	// DefaultPollLimit — максимальное число обновлений за один запрос.
	DefaultPollLimit = 100
	// DefaultInitialBackoff — пауза после первой неудачи getUpdates.
	DefaultInitialBackoff = time.Second
	// DefaultMaxBackoff ограничивает паузу между неудачными запросами.
	DefaultMaxBackoff = time.Minute

	pollSource = "poll"
)

// Caller выполняет метод Bot API. Реализуется telegram.Bot и telegram.Transport.
type Caller interface {
	Call(ctx context.Context, method string, params telegram.Params) (telegram.Result, error)
}

// UpdateObserver учитывает результат обработки обновлений.
type UpdateObserver interface {
	ObserveUpdate(source, result string)
}

// PollerConfig — параметры getUpdates и паузы между неудачными запросами.
type PollerConfig struct {
	Timeout        int
	Limit          int
	AllowedUpdates []string
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Poller получает обновления методом getUpdates и передает их обработчику.
//
// Смещение сдвигается на update_id+1 только после возврата обработчика, поэтому
// при перезапуске необработанное обновление будет получено повторно.
type Poller struct {
	caller     Caller
	cfg        PollerConfig
	offset     atomic.Int64
	logger     *slog.Logger
	observer   UpdateObserver
	newBackOff func() backoff.BackOff
	sleep      func(ctx context.Context, d time.Duration) error
}

// PollerOption определяет функциональную опцию для Poller.
type PollerOption func(*Poller)

// WithPollerLogger устанавливает логгер.
func WithPollerLogger(l *slog.Logger) PollerOption {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithUpdateObserver подключает учет обработанных обновлений.
func WithUpdateObserver(o UpdateObserver) PollerOption {
	return func(p *Poller) {
		p.observer = o
	}
}

// WithBackOff подменяет стратегию пауз после неудачных запросов.
func WithBackOff(newBackOff func() backoff.BackOff) PollerOption {
	return func(p *Poller) {
		if newBackOff != nil {
			p.newBackOff = newBackOff
		}
	}
}

// NewPoller создает цикл long polling поверх caller.
func NewPoller(caller Caller, cfg PollerConfig, opts ...PollerOption) *Poller {
	if cfg.Timeout < 0 {
		cfg.Timeout = DefaultPollTimeout
	}
	if cfg.Limit <= 0 || cfg.Limit > DefaultPollLimit {
		cfg.Limit = DefaultPollLimit
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = max(DefaultMaxBackoff, cfg.InitialBackoff)
	}

	p := &Poller{
		caller: caller,
		cfg:    cfg,
		logger: slog.Default(),
		sleep:  sleepContext,
	}
	p.newBackOff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = p.cfg.InitialBackoff
		b.MaxInterval = p.cfg.MaxBackoff
		b.MaxElapsedTime = 0
		return b
	}

	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Offset возвращает смещение, с которого будет запрошена следующая порция.
// Безопасно вызывать из любой горутины параллельно с Run.
func (p *Poller) Offset() int {
	return int(p.offset.Load())
}

// Poll выполняет один запрос getUpdates с текущим смещением.
func (p *Poller) Poll(ctx context.Context) ([]tgbotapi.Update, error) {
	params := telegram.Params{
		"offset":  p.Offset(),
		"timeout": p.cfg.Timeout,
		"limit":   p.cfg.Limit,
	}
	if p.cfg.AllowedUpdates != nil {
		params["allowed_updates"] = p.cfg.AllowedUpdates
	}

	res, err := p.caller.Call(ctx, "getUpdates", params)
	if err != nil {
		return nil, err
	}

	var updates []tgbotapi.Update
	if err := res.Decode(&updates); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	return updates, nil
}

// Run получает обновления до отмены ctx и возвращает ctx.Err().
//
// Ошибки и паники обработчика логируются и не прерывают цикл. После неудачного
// getUpdates цикл ждет retry_after при FloodWait, иначе экспоненциально растущую паузу.
func (p *Poller) Run(ctx context.Context, h Handler) error {
	bo := p.newBackOff()
	bo.Reset()

	p.logger.Info("Starting long polling", slog.Int("offset", p.Offset()), slog.Int("timeout", p.cfg.Timeout))

	for {
		if err := ctx.Err(); err != nil {
			p.logger.Info("Context cancelled, stopping long polling")
			return err
		}

		updates, err := p.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				p.logger.Info("Context cancelled, stopping long polling")
				return ctx.Err()
			}

			delay := p.failureDelay(err, bo)
			p.logger.Warn("getUpdates failed",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", delay),
			)
			if err := p.sleep(ctx, delay); err != nil {
				return err
			}
			continue
		}
		bo.Reset()

		for _, update := range updates {
			p.dispatch(ctx, h, update)
			p.offset.Store(int64(update.UpdateID) + 1)
		}
	}
}

func (p *Poller) failureDelay(err error, bo backoff.BackOff) time.Duration {
	if d, ok := telegram.RetryAfter(err); ok {
		return d
	}
	next := bo.NextBackOff()
	if next == backoff.Stop {
		return p.cfg.MaxBackoff
	}
	return next
}

func (p *Poller) dispatch(ctx context.Context, h Handler, update tgbotapi.Update) {
	logger := p.logger.With(slog.Int("update_id", update.UpdateID))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("update handler panicked", slog.Any("panic", r))
			p.observe(metrics.UpdateFailed)
		}
	}()

	if err := h.HandleUpdate(ctx, update, p.reply); err != nil {
		logger.Error("failed to handle update", slog.String("error", err.Error()))
		p.observe(metrics.UpdateFailed)
		return
	}
	p.observe(metrics.UpdateHandled)
}

func (p *Poller) reply(ctx context.Context, method string, params telegram.Params) error {
	_, err := p.caller.Call(ctx, method, params)
	return err
}

func (p *Poller) observe(result string) {
	if p.observer != nil {
		p.observer.ObserveUpdate(pollSource, result)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
