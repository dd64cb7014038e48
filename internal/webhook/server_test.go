package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"tgbot-facade/internal/bot"
	"tgbot-facade/internal/metrics"
	"tgbot-facade/internal/telegram"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type recordingHandler struct {
	mu      sync.Mutex
	updates []int
	fn      func(ctx context.Context, u tgbotapi.Update, reply bot.ReplyFunc) error
}

func (h *recordingHandler) HandleUpdate(ctx context.Context, u tgbotapi.Update, reply bot.ReplyFunc) error {
	h.mu.Lock()
	h.updates = append(h.updates, u.UpdateID)
	h.mu.Unlock()
	if h.fn != nil {
		return h.fn(ctx, u, reply)
	}
	return nil
}

func newTestServer(t *testing.T, cfg Config, h bot.Handler, opts ...Option) *Server {
	t.Helper()
	opts = append([]Option{WithLogger(discardLogger)}, opts...)
	s := New(cfg, h, opts...)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

func postUpdate(s *Server, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	s.HTTPServer.Handler.ServeHTTP(rr, req)
	return rr
}

const messageUpdate = `{"update_id":1001,"message":{"message_id":5,"date":0,"chat":{"id":77,"type":"private"},"text":"ping"}}`

func TestServer_Health(t *testing.T) {
	s := newTestServer(t, Config{}, &recordingHandler{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	s.HTTPServer.Handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "ok", resp["status"])
	assert.NotEmpty(t, rr.Header().Get("X-Request-Id"))
}

func TestServer_QuickReply(t *testing.T) {
	h := &recordingHandler{fn: func(ctx context.Context, u tgbotapi.Update, reply bot.ReplyFunc) error {
		return reply(ctx, "sendMessage", telegram.Params{"chat_id": u.Message.Chat.ID, "text": "pong"})
	}}
	s := newTestServer(t, Config{Path: "/hook"}, h)

	rr := postUpdate(s, "/hook", messageUpdate, map[string]string{"X-Request-Id": "abc"})

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.Equal(t, "abc", rr.Header().Get("X-Request-Id"))
	assert.JSONEq(t, `{"method":"sendMessage","chat_id":77,"text":"pong"}`, rr.Body.String())
	assert.Equal(t, []int{1001}, h.updates)
}

func TestServer_SecondQuickReplyIsRejected(t *testing.T) {
	var secondErr error
	h := &recordingHandler{fn: func(ctx context.Context, u tgbotapi.Update, reply bot.ReplyFunc) error {
		if err := reply(ctx, "sendMessage", telegram.Params{"chat_id": 77, "text": "first"}); err != nil {
			return err
		}
		secondErr = reply(ctx, "sendMessage", telegram.Params{"chat_id": 77, "text": "second"})
		return nil
	}}
	s := newTestServer(t, Config{}, h)

	rr := postUpdate(s, "/webhook", messageUpdate, nil)

	assert.ErrorIs(t, secondErr, telegram.ErrQuickReplyUsed)
	assert.JSONEq(t, `{"method":"sendMessage","chat_id":77,"text":"first"}`, rr.Body.String())
}

func TestServer_NoReplyGivesEmptyObject(t *testing.T) {
	s := newTestServer(t, Config{}, &recordingHandler{})

	rr := postUpdate(s, "/webhook", messageUpdate, nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{}`, rr.Body.String())
}

func TestServer_SecretToken(t *testing.T) {
	tests := []struct {
		name     string
		headers  map[string]string
		expected int
	}{
		{"missing header", nil, http.StatusUnauthorized},
		{"wrong secret", map[string]string{SecretTokenHeader: "nope"}, http.StatusUnauthorized},
		{"valid secret", map[string]string{SecretTokenHeader: "s3cret"}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &recordingHandler{}
			s := newTestServer(t, Config{SecretToken: "s3cret"}, h)

			rr := postUpdate(s, "/webhook", messageUpdate, tt.headers)
			assert.Equal(t, tt.expected, rr.Code)
			if tt.expected != http.StatusOK {
				assert.Empty(t, h.updates)
			}
		})
	}
}

func TestServer_BadJSON(t *testing.T) {
	h := &recordingHandler{}
	s := newTestServer(t, Config{}, h)

	rr := postUpdate(s, "/webhook", `{"update_id":`, nil)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Empty(t, h.updates)
}

func TestServer_OversizedBody(t *testing.T) {
	h := &recordingHandler{}
	s := newTestServer(t, Config{MaxBodyBytes: 16}, h)

	rr := postUpdate(s, "/webhook", messageUpdate, nil)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Empty(t, h.updates)
}

func TestServer_DropsDuplicates(t *testing.T) {
	h := &recordingHandler{}
	s := newTestServer(t, Config{DedupTTL: time.Minute}, h)

	first := postUpdate(s, "/webhook", messageUpdate, nil)
	second := postUpdate(s, "/webhook", messageUpdate, nil)

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.JSONEq(t, `{}`, second.Body.String())
	assert.Equal(t, []int{1001}, h.updates)
}

func TestServer_HandlerFailuresStillAcknowledge(t *testing.T) {
	tests := []struct {
		name string
		fn   func(context.Context, tgbotapi.Update, bot.ReplyFunc) error
	}{
		{"error", func(context.Context, tgbotapi.Update, bot.ReplyFunc) error { return errors.New("boom") }},
		{"panic", func(context.Context, tgbotapi.Update, bot.ReplyFunc) error { panic("boom") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, Config{}, &recordingHandler{fn: tt.fn})

			rr := postUpdate(s, "/webhook", messageUpdate, nil)
			assert.Equal(t, http.StatusOK, rr.Code)
			assert.JSONEq(t, `{}`, rr.Body.String())
		})
	}
}

func TestServer_Metrics(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	m := metrics.New(reg)
	h := &recordingHandler{fn: func(context.Context, tgbotapi.Update, bot.ReplyFunc) error { return nil }}
	s := newTestServer(t, Config{SecretToken: "s3cret", MetricsPath: "/metrics"}, h,
		WithUpdateObserver(m), WithMetrics(reg))

	postUpdate(s, "/webhook", messageUpdate, map[string]string{SecretTokenHeader: "s3cret"})
	postUpdate(s, "/webhook", messageUpdate, map[string]string{SecretTokenHeader: "s3cret"})
	postUpdate(s, "/webhook", messageUpdate, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	s.HTTPServer.Handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, `tgbot_updates_total{result="handled",source="webhook"} 1`)
	assert.Contains(t, body, `tgbot_updates_total{result="duplicate",source="webhook"} 1`)
	assert.Contains(t, body, `tgbot_updates_total{result="rejected",source="webhook"} 1`)
}

func TestServer_MetricsDisabled(t *testing.T) {
	s := newTestServer(t, Config{}, &recordingHandler{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	s.HTTPServer.Handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestServer_ListenAndShutdown(t *testing.T) {
	s := New(Config{Addr: "127.0.0.1:0"}, &recordingHandler{}, WithLogger(discardLogger))

	errCh := make(chan error, 1)
	go func() { errCh <- s.ListenAndServe() }()

	// Дожидаемся запуска, затем останавливаем сервер.
	time.Sleep(50 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(time.Second):
		t.Fatal("server did not stop")
	}
}
