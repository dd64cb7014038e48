package telegram

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// QuickReplier отвечает на входящий webhook вызовом метода Bot API прямо в теле
// HTTP-ответа. Это экономит один запрос, но результат вызова получить нельзя.
//
// Экземпляр создается на каждый входящий запрос и может ответить только один раз.
type QuickReplier struct {
	w    http.ResponseWriter
	mu   sync.Mutex
	used bool
}

// NewQuickReplier создает отвечающего для одного входящего запроса.
func NewQuickReplier(w http.ResponseWriter) *QuickReplier {
	return &QuickReplier{w: w}
}

// Reply записывает в ответ params вместе с полем method.
// Повторный вызов возвращает *ProtocolViolationError и ничего не пишет.
func (q *QuickReplier) Reply(method string, params Params) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.used {
		return &ProtocolViolationError{
			Message: fmt.Sprintf("second quick reply (%s)", method),
			Err:     ErrQuickReplyUsed,
		}
	}

	body, err := json.Marshal(params.Merge(Params{"method": method}))
	if err != nil {
		return fmt.Errorf("telegram: quick reply %s: marshal: %w", method, err)
	}

	// Заголовки, выставленные сервером раньше (например, X-Request-Id), сохраняются.
	q.w.Header().Set("Content-Type", "application/json")
	q.w.WriteHeader(http.StatusOK)
	q.used = true

	if _, err := q.w.Write(body); err != nil {
		return fmt.Errorf("telegram: quick reply %s: write: %w", method, err)
	}
	return nil
}

// Used сообщает, был ли уже отправлен быстрый ответ.
func (q *QuickReplier) Used() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.used
}
