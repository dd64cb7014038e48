package telegram

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	testToken = "123456789:AAABCdEfGhIjKlMnOpQrStUvWxYz1234567"
	testBotID = int64(123456789)
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// methodFromPath извлекает имя метода из пути вида /bot<token>/<method>.
func methodFromPath(t *testing.T, path string) string {
	t.Helper()
	prefix := "/bot" + testToken + "/"
	require.True(t, strings.HasPrefix(path, prefix), "unexpected path %q", path)
	return strings.TrimPrefix(path, prefix)
}

func decodeJSONBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var params map[string]any
	require.NoError(t, json.NewDecoder(r.Body).Decode(&params))
	return params
}

func writeOK(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": result})
}

func writeAPIError(w http.ResponseWriter, code int, description string, parameters map[string]any) {
	body := map[string]any{"ok": false, "error_code": code, "description": description}
	if parameters != nil {
		body["parameters"] = parameters
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// newTestBot создает бота, направленного на тестовый сервер.
func newTestBot(t *testing.T, handler http.HandlerFunc, opts ...TransportOption) *Bot {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	opts = append([]TransportOption{WithBaseURL(srv.URL), WithLogger(discardLogger)}, opts...)
	b, err := NewBot(testToken, opts...)
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return b
}
