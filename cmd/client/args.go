package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"tgbot-facade/internal/telegram"
)

// parseArgs разбирает аргументы вида key=value (строка), key:=json (JSON как есть)
// и key@path (загрузка файла). Открытые файлы возвращаются для закрытия.
func parseArgs(args []string) (telegram.Params, []*os.File, error) {
	params := make(telegram.Params, len(args))
	var files []*os.File

	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}

	for _, arg := range args {
		idx := strings.IndexAny(arg, "=:@")
		if idx <= 0 {
			closeAll()
			return nil, nil, fmt.Errorf("invalid argument %q: expected key=value, key:=json or key@path", arg)
		}

		key, rest := arg[:idx], arg[idx:]
		switch {
		case strings.HasPrefix(rest, ":="):
			raw := rest[2:]
			if !json.Valid([]byte(raw)) {
				closeAll()
				return nil, nil, fmt.Errorf("argument %s: invalid JSON %q", key, raw)
			}
			params[key] = json.RawMessage(raw)
		case strings.HasPrefix(rest, "="):
			params[key] = rest[1:]
		case strings.HasPrefix(rest, "@"):
			upload, f, err := telegram.FileFromPath(rest[1:])
			if err != nil {
				closeAll()
				return nil, nil, fmt.Errorf("argument %s: %w", key, err)
			}
			files = append(files, f)
			params[key] = upload
		default:
			closeAll()
			return nil, nil, fmt.Errorf("invalid argument %q: expected key=value, key:=json or key@path", arg)
		}
	}

	return params, files, nil
}
