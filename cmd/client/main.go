// Команда client вызывает произвольный метод Bot API и печатает результат:
//
//	client sendMessage chat_id:=-1001234567890 text='hello'
//	client setChatPhoto chat_id:=-1001234567890 photo@avatar.png
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"tgbot-facade/internal/log"
	"tgbot-facade/internal/pkg/config"
	"tgbot-facade/internal/telegram"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func run(argv []string) error {
	var configPath string
	var token string
	var timeout time.Duration

	flagSet := pflag.NewFlagSet("client", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "config.yml", "path to the YAML configuration file")
	flagSet.StringVar(&token, "token", "", "bot token (overrides bot.token and BOT_TOKEN)")
	flagSet.DurationVar(&timeout, "timeout", time.Minute, "overall call timeout")
	flagSet.SetInterspersed(false)
	if err := flagSet.Parse(argv); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	args := flagSet.Args()
	if len(args) == 0 {
		return errors.New("usage: client [flags] <method> [key=value | key:=json | key@path]...")
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if token != "" {
		cfg.Bot.Token = token
	}

	params, files, err := parseArgs(args[1:])
	if err != nil {
		return err
	}
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
	}()

	logger := log.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	b, err := telegram.NewBot(cfg.Bot.Token,
		telegram.WithBaseURL(cfg.Bot.APIBaseURL),
		telegram.WithConnectTimeout(cfg.Bot.ConnectTimeout),
		telegram.WithRequestTimeout(timeout),
		telegram.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	res, err := b.Call(ctx, args[0], params)
	if err != nil {
		return err
	}

	var out bytes.Buffer
	if err := json.Indent(&out, res, "", "  "); err != nil {
		out.Reset()
		out.Write(res)
	}
	out.WriteByte('\n')
	_, err = os.Stdout.Write(out.Bytes())
	return err
}

// exitCode различает ошибки API (2), транспорта (3) и прочие (1).
func exitCode(err error) int {
	var apiErr *telegram.APIError
	var trErr *telegram.TransportError
	switch {
	case errors.As(err, &apiErr):
		return 2
	case errors.As(err, &trErr):
		return 3
	default:
		return 1
	}
}
