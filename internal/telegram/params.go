package telegram

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Params — параметры метода Bot API. Значения: строки, числа, bool,
// вложенные структуры (кодируются в JSON) или InputFile.
type Params map[string]any

// Merge возвращает новую карту: сначала p, затем extras поверх.
// Исходные карты не изменяются.
func (p Params) Merge(extras Params) Params {
	out := make(Params, len(p)+len(extras))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range extras {
		out[k] = v
	}
	return out
}

// hasFiles сообщает, нужно ли отправлять запрос как multipart/form-data.
func (p Params) hasFiles() bool {
	for _, v := range p {
		switch v.(type) {
		case InputFile, *InputFile:
			return true
		}
	}
	return false
}

// InputFile — файл для загрузки в составе запроса.
type InputFile struct {
	Name   string
	Reader io.Reader
}

// FileFromPath открывает локальный файл для загрузки. Закрыть его должен вызывающий.
func FileFromPath(path string) (InputFile, *os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return InputFile{}, nil, fmt.Errorf("failed to open upload %s: %w", path, err)
	}
	return InputFile{Name: filepath.Base(path), Reader: f}, f, nil
}

// Result — поле result успешного ответа без какой-либо схемы.
type Result json.RawMessage

// Decode разбирает результат в v.
func (r Result) Decode(v any) error {
	if len(r) == 0 {
		return fmt.Errorf("empty result")
	}
	if err := json.Unmarshal(r, v); err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}
	return nil
}

// Bool разбирает результат вида true/false (deleteMessage, setChatTitle и т.п.).
func (r Result) Bool() (bool, error) {
	var ok bool
	err := r.Decode(&ok)
	return ok, err
}

// Message разбирает результат как сообщение.
func (r Result) Message() (Message, error) {
	var m Message
	err := r.Decode(&m)
	return m, err
}

// MarshalJSON позволяет встраивать Result в другие JSON-документы без повторного кодирования.
func (r Result) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

func (r Result) String() string {
	return string(r)
}

// Message — минимальная проекция сообщения, достаточная для цепочки
// send → edit → delete. Остальные поля доступны через Result.Decode.
type Message struct {
	MessageID int64  `json:"message_id"`
	Chat      Chat   `json:"chat"`
	Date      int64  `json:"date"`
	Text      string `json:"text,omitempty"`
}

// Chat — идентификатор и тип чата.
type Chat struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title,omitempty"`
}
