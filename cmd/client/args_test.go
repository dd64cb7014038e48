package main

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tgbot-facade/internal/telegram"
)

func TestParseArgs(t *testing.T) {
	photo := filepath.Join(t.TempDir(), "photo.png")
	require.NoError(t, os.WriteFile(photo, []byte("png"), 0o600))

	params, files, err := parseArgs([]string{
		"chat_id:=-1001234567890",
		"text=hello=world",
		"reply_markup:={\"inline_keyboard\":[]}",
		"photo@" + photo,
	})
	require.NoError(t, err)
	require.Len(t, files, 1)
	defer files[0].Close()

	assert.Equal(t, json.RawMessage("-1001234567890"), params["chat_id"])
	assert.Equal(t, "hello=world", params["text"])
	assert.Equal(t, json.RawMessage(`{"inline_keyboard":[]}`), params["reply_markup"])

	upload, ok := params["photo"].(telegram.InputFile)
	require.True(t, ok)
	assert.Equal(t, "photo.png", upload.Name)
}

func TestParseArgs_Errors(t *testing.T) {
	testCases := []struct {
		name string
		args []string
	}{
		{"no separator", []string{"chat_id"}},
		{"empty key", []string{"=value"}},
		{"bad json", []string{"chat_id:={"}},
		{"colon without equals", []string{"chat_id:5"}},
		{"missing file", []string{"photo@/definitely/not/here.png"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, files, err := parseArgs(tc.args)
			assert.Error(t, err)
			assert.Nil(t, files)
		})
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 2, exitCode(&telegram.APIError{Code: 400}))
	assert.Equal(t, 3, exitCode(&telegram.TransportError{Method: "getMe"}))
	assert.Equal(t, 1, exitCode(errors.New("usage")))
	assert.Equal(t, 1, exitCode(&telegram.ConfigurationError{Message: "bad token"}))
}
