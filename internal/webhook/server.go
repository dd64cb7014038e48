// Package webhook принимает обновления Bot API по HTTP и позволяет отвечать
// на них прямо в теле ответа.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tgbot-facade/internal/bot"
	"tgbot-facade/internal/cache"
	"tgbot-facade/internal/metrics"
	"tgbot-facade/internal/telegram"
)

const (
	// SecretTokenHeader — заголовок, в котором Telegram передает secret_token из setWebhook.
	SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

	webhookSource = "webhook"
)

// Config содержит параметры webhook-сервера
type Config struct {
	Addr         string
	Path         string
	SecretToken  string
	DedupTTL     time.Duration
	MetricsPath  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	MaxBodyBytes int64
}

// Server представляет HTTP-сервер, принимающий обновления
type Server struct {
	HTTPServer *http.Server
	cfg        Config
	handler    bot.Handler
	seen       *cache.SeenStore
	observer   bot.UpdateObserver
	gatherer   prometheus.Gatherer
	logger     *slog.Logger
	stop       context.CancelFunc
}

// Option определяет функциональную опцию для Server.
type Option func(*Server)

// WithLogger устанавливает логгер.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithUpdateObserver подключает учет обработанных обновлений.
func WithUpdateObserver(o bot.UpdateObserver) Option {
	return func(s *Server) {
		s.observer = o
	}
}

// WithMetrics публикует метрики из g по адресу Config.MetricsPath.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// New создает новый экземпляр Server
func New(cfg Config, handler bot.Handler, opts ...Option) *Server {
	if cfg.Path == "" {
		cfg.Path = "/webhook"
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 10 * time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}

	s := &Server{
		cfg:     cfg,
		handler: handler,
		seen:    cache.NewSeenStore(cfg.DedupTTL),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	chiRouter := chi.NewRouter()

	// Промежуточное ПО
	chiRouter.Use(s.requestID)
	chiRouter.Use(s.requestLogger)
	chiRouter.Use(middleware.Recoverer)

	// Конечная точка для проверки работоспособности
	chiRouter.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if s.gatherer != nil && cfg.MetricsPath != "" {
		chiRouter.Handle(cfg.MetricsPath, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	chiRouter.Post(cfg.Path, s.handleUpdate)

	s.HTTPServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      chiRouter,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	// Записи о доставленных обновлениях чистятся, пока сервер не остановлен.
	ctx, cancel := context.WithCancel(context.Background())
	s.stop = cancel
	s.seen.StartCleanupTicker(ctx, cfg.DedupTTL)

	return s
}

// handleUpdate принимает одно обновление.
//
// Ошибки обработчика логируются, а Telegram получает 200, как и при long polling:
// повторная доставка того же обновления ошибку не исправит.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	logger := s.loggerFor(r)

	if s.cfg.SecretToken != "" {
		got := r.Header.Get(SecretTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.SecretToken)) != 1 {
			logger.Warn("rejected update with invalid secret token")
			s.observe(metrics.UpdateRejected)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	var update tgbotapi.Update
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(&update); err != nil {
		logger.Warn("failed to decode update", slog.String("error", err.Error()))
		s.observe(metrics.UpdateRejected)
		http.Error(w, "bad update", http.StatusBadRequest)
		return
	}

	logger = logger.With(slog.Int("update_id", update.UpdateID))
	if !s.seen.MarkSeen(int64(update.UpdateID)) {
		logger.Info("duplicate update dropped")
		s.observe(metrics.UpdateDuplicate)
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}

	q := telegram.NewQuickReplier(w)
	reply := func(_ context.Context, method string, params telegram.Params) error {
		return q.Reply(method, params)
	}

	if err := s.dispatch(r.Context(), update, reply); err != nil {
		logger.Error("failed to handle update", slog.String("error", err.Error()))
		s.observe(metrics.UpdateFailed)
	} else {
		s.observe(metrics.UpdateHandled)
	}

	if !q.Used() {
		writeJSON(w, http.StatusOK, struct{}{})
	}
}

// dispatch вызывает обработчик, превращая панику в ошибку.
func (s *Server) dispatch(ctx context.Context, update tgbotapi.Update, reply bot.ReplyFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("update handler panicked: %v", r)
		}
	}()
	return s.handler.HandleUpdate(ctx, update, reply)
}

func (s *Server) observe(result string) {
	if s.observer != nil {
		s.observer.ObserveUpdate(webhookSource, result)
	}
}

// ListenAndServe запускает HTTP-сервер
func (s *Server) ListenAndServe() error {
	s.logger.Info("Starting webhook server", slog.String("addr", s.cfg.Addr), slog.String("path", s.cfg.Path))
	return s.HTTPServer.ListenAndServe()
}

// Shutdown корректно завершает работу HTTP-сервера
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down webhook server")
	s.stop()
	return s.HTTPServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type requestIDKey struct{}

// requestID присваивает запросу идентификатор для сквозного логирования.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(middleware.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(middleware.RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func (s *Server) loggerFor(r *http.Request) *slog.Logger {
	if id, ok := r.Context().Value(requestIDKey{}).(string); ok {
		return s.logger.With(slog.String("request_id", id))
	}
	return s.logger
}

// requestLogger пишет в лог итог каждого запроса.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.loggerFor(r).Debug("request served",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("elapsed", time.Since(start)),
		)
	})
}
