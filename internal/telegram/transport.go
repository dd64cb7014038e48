package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	tglog "tgbot-facade/internal/log"
)

const (
	// DefaultAPIBaseURL — адрес публичного Bot API.
	DefaultAPIBaseURL = "https://api.telegram.org"
	// DefaultConnectTimeout ограничивает установку TCP/TLS соединения.
	DefaultConnectTimeout = 30 * time.Second
	// DefaultRequestTimeout ограничивает весь запрос целиком.
	DefaultRequestTimeout = 60 * time.Second
)

// Observer получает сведения о каждом вызове (используется для метрик).
type Observer interface {
	ObserveCall(method string, elapsed time.Duration, err error)
}

// envelope — общий вид ответа Bot API.
type envelope struct {
	Ok          bool                `json:"ok"`
	Result      json.RawMessage     `json:"result,omitempty"`
	Description string              `json:"description,omitempty"`
	ErrorCode   int                 `json:"error_code,omitempty"`
	Parameters  *ResponseParameters `json:"parameters,omitempty"`
}

// Transport превращает пару (метод, параметры) в результат или типизированную ошибку.
//
// Transport владеет одним *http.Client, который безопасен для конкурентного
// использования, поэтому один Transport можно разделять между горутинами.
// Вызовы не повторяются, не ставятся в очередь и не ограничиваются по частоте.
type Transport struct {
	apiBase        string
	endpoint       string
	httpClient     *http.Client
	connectTimeout time.Duration
	requestTimeout time.Duration
	observer       Observer
	log            *slog.Logger
}

// TransportOption определяет функциональную опцию для Transport.
type TransportOption func(*Transport)

// WithBaseURL задает адрес сервера Bot API (например, локальный bot-api сервер).
func WithBaseURL(u string) TransportOption {
	return func(t *Transport) {
		if u != "" {
			t.apiBase = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient подменяет HTTP-клиент. Таймауты из опций в этом случае не применяются.
func WithHTTPClient(c *http.Client) TransportOption {
	return func(t *Transport) {
		if c != nil {
			t.httpClient = c
		}
	}
}

// WithConnectTimeout задает таймаут установки соединения.
func WithConnectTimeout(d time.Duration) TransportOption {
	return func(t *Transport) {
		if d > 0 {
			t.connectTimeout = d
		}
	}
}

// WithRequestTimeout задает таймаут запроса целиком.
func WithRequestTimeout(d time.Duration) TransportOption {
	return func(t *Transport) {
		if d > 0 {
			t.requestTimeout = d
		}
	}
}

// WithObserver подключает наблюдателя за вызовами.
func WithObserver(o Observer) TransportOption {
	return func(t *Transport) {
		t.observer = o
	}
}

// WithLogger устанавливает логгер.
func WithLogger(l *slog.Logger) TransportOption {
	return func(t *Transport) {
		if l != nil {
			t.log = l
		}
	}
}

// NewTransport открывает сессию к Bot API для указанного токена.
func NewTransport(cred Credential, opts ...TransportOption) *Transport {
	t := &Transport{
		apiBase:        DefaultAPIBaseURL,
		connectTimeout: DefaultConnectTimeout,
		requestTimeout: DefaultRequestTimeout,
		log:            slog.Default(),
	}

	for _, opt := range opts {
		opt(t)
	}

	if t.httpClient == nil {
		t.httpClient = &http.Client{
			Timeout: t.requestTimeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				DialContext:         (&net.Dialer{Timeout: t.connectTimeout, KeepAlive: 30 * time.Second}).DialContext,
				TLSHandshakeTimeout: t.connectTimeout,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	t.endpoint = t.apiBase + "/bot" + cred.Token() + "/"
	return t
}

// Call выполняет метод Bot API.
//
// При ok=true возвращается поле result как есть. При ok=false возвращается
// *APIError, при сетевом сбое или неразборчивом ответе — *TransportError.
func (t *Transport) Call(ctx context.Context, method string, params Params) (Result, error) {
	start := time.Now()
	res, err := t.call(ctx, method, params)
	if t.observer != nil {
		t.observer.ObserveCall(method, time.Since(start), err)
	}
	return res, err
}

func (t *Transport) call(ctx context.Context, method string, params Params) (Result, error) {
	t.log.DebugContext(ctx, "Executing API call", slog.String("method", method))

	body, contentType, err := encodeParams(params)
	if err != nil {
		return nil, fmt.Errorf("telegram: %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint+method, body)
	if err != nil {
		return nil, newTransportError(method, 0, err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, newTransportError(method, 0, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newTransportError(method, resp.StatusCode, err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, newTransportError(method, resp.StatusCode, fmt.Errorf("undecodable response: %w", err))
	}

	if env.Ok {
		return Result(env.Result), nil
	}

	apiErr := Classify(RawError{
		Code:        env.ErrorCode,
		Description: env.Description,
		Parameters:  env.Parameters,
	})
	apiErr.Method = method
	if apiErr.Code == 0 {
		apiErr.Code = resp.StatusCode
	}

	t.log.WarnContext(ctx, "API call failed",
		slog.String("method", method),
		slog.Int("code", apiErr.Code),
		slog.String("kind", apiErr.Kind.String()),
		slog.String("description", apiErr.Description),
	)
	return nil, apiErr
}

// Close освобождает простаивающие соединения. Повторный вызов безопасен.
func (t *Transport) Close() {
	t.httpClient.CloseIdleConnections()
}

func newTransportError(method string, code int, err error) *TransportError {
	return &TransportError{
		Method:  method,
		Message: tglog.MaskTokens(err.Error()),
		Code:    code,
		Err:     err,
	}
}

// encodeParams выбирает JSON или multipart в зависимости от наличия файлов.
func encodeParams(params Params) (io.Reader, string, error) {
	if params == nil {
		params = Params{}
	}
	if params.hasFiles() {
		return encodeMultipart(params)
	}

	data, err := json.Marshal(params)
	if err != nil {
		return nil, "", fmt.Errorf("marshal params: %w", err)
	}
	return bytes.NewReader(data), "application/json", nil
}

func encodeMultipart(params Params) (io.Reader, string, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, key := range keys {
		switch v := params[key].(type) {
		case InputFile:
			if err := writeFormFile(w, key, v); err != nil {
				return nil, "", err
			}
		case *InputFile:
			if v == nil {
				continue
			}
			if err := writeFormFile(w, key, *v); err != nil {
				return nil, "", err
			}
		case nil:
			continue
		default:
			value, err := formValue(v)
			if err != nil {
				return nil, "", fmt.Errorf("encode field %s: %w", key, err)
			}
			if err := w.WriteField(key, value); err != nil {
				return nil, "", fmt.Errorf("write field %s: %w", key, err)
			}
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return &b, w.FormDataContentType(), nil
}

func writeFormFile(w *multipart.Writer, key string, f InputFile) error {
	name := f.Name
	if name == "" {
		name = key
	}
	fw, err := w.CreateFormFile(key, name)
	if err != nil {
		return fmt.Errorf("failed to create form file for %s: %w", name, err)
	}
	if f.Reader == nil {
		return fmt.Errorf("upload %s has no content", name)
	}
	if _, err := io.Copy(fw, f.Reader); err != nil {
		return fmt.Errorf("failed to copy file content for %s: %w", name, err)
	}
	return nil
}

// formValue кодирует значение поля формы: строки как есть, скаляры текстом,
// все остальное — в JSON (reply_markup, entities и т.п.).
func formValue(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
		return fmt.Sprint(x), nil
	default:
		data, err := json.Marshal(x)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}
