package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tgbot-facade/internal/telegram"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type pollStep struct {
	result string
	err    error
}

// scriptedCaller отдает заранее заданные ответы на getUpdates и отменяет
// контекст, когда ответы заканчиваются.
type scriptedCaller struct {
	mu      sync.Mutex
	steps   []pollStep
	cancel  context.CancelFunc
	polls   []telegram.Params
	methods []string
	sent    []telegram.Params
}

func (c *scriptedCaller) Call(ctx context.Context, method string, params telegram.Params) (telegram.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if method != "getUpdates" {
		c.methods = append(c.methods, method)
		c.sent = append(c.sent, params)
		return telegram.Result(`{"message_id":1}`), nil
	}

	c.polls = append(c.polls, params)
	if len(c.steps) == 0 {
		c.cancel()
		return nil, &telegram.TransportError{Method: method, Message: "context canceled", Err: ctx.Err()}
	}

	step := c.steps[0]
	c.steps = c.steps[1:]
	if step.err != nil {
		return nil, step.err
	}
	return telegram.Result(step.result), nil
}

type countingObserver struct {
	mu     sync.Mutex
	counts map[string]int
}

func (o *countingObserver) ObserveUpdate(source, result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counts == nil {
		o.counts = make(map[string]int)
	}
	o.counts[source+"/"+result]++
}

// stubBackOff возвращает паузы step, 2*step, 3*step... и считает сбросы.
type stubBackOff struct {
	step   time.Duration
	n      int
	resets int
}

func (b *stubBackOff) NextBackOff() time.Duration {
	b.n++
	return time.Duration(b.n) * b.step
}

func (b *stubBackOff) Reset() {
	b.n = 0
	b.resets++
}

func updatesJSON(ids ...int) string {
	s := "["
	for i, id := range ids {
		if i > 0 {
			s += ","
		}
		s += fmt.Sprintf(`{"update_id":%d,"message":{"message_id":%d,"date":0,"chat":{"id":5,"type":"private"},"text":"hi"}}`, id, id)
	}
	return s + "]"
}

func newScriptedPoller(t *testing.T, steps []pollStep, opts ...PollerOption) (*Poller, *scriptedCaller, context.Context, *[]time.Duration) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	caller := &scriptedCaller{steps: steps, cancel: cancel}
	opts = append([]PollerOption{WithPollerLogger(discardLogger)}, opts...)
	p := NewPoller(caller, PollerConfig{Timeout: 30, Limit: 50}, opts...)

	var sleeps []time.Duration
	p.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return p, caller, ctx, &sleeps
}

func TestPoller_Run_DeliversUpdatesAndAdvancesOffset(t *testing.T) {
	obs := &countingObserver{}
	p, caller, ctx, sleeps := newScriptedPoller(t, []pollStep{
		{result: updatesJSON(10, 11)},
		{result: updatesJSON()},
		{result: updatesJSON(12)},
	}, WithUpdateObserver(obs))

	var seen []int
	err := p.Run(ctx, HandlerFunc(func(ctx context.Context, u tgbotapi.Update, reply ReplyFunc) error {
		seen = append(seen, u.UpdateID)
		switch u.UpdateID {
		case 11:
			return errors.New("handler failed")
		case 12:
			panic("handler exploded")
		}
		return nil
	}))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []int{10, 11, 12}, seen)
	assert.Equal(t, 13, p.Offset())
	assert.Empty(t, *sleeps)

	require.Len(t, caller.polls, 4)
	assert.Equal(t, 0, caller.polls[0]["offset"])
	assert.Equal(t, 12, caller.polls[1]["offset"])
	assert.Equal(t, 12, caller.polls[2]["offset"])
	assert.Equal(t, 13, caller.polls[3]["offset"])

	assert.Equal(t, map[string]int{"poll/handled": 1, "poll/failed": 2}, obs.counts)
}

func TestPoller_OffsetReadableDuringRun(t *testing.T) {
	p, _, ctx, _ := newScriptedPoller(t, []pollStep{
		{result: updatesJSON(1, 2, 3)},
		{result: updatesJSON(4)},
	})

	done := make(chan struct{})
	observed := make(chan []int, 1)
	go func() {
		var seen []int
		for {
			select {
			case <-done:
				observed <- seen
				return
			default:
				seen = append(seen, p.Offset())
			}
		}
	}()

	err := p.Run(ctx, HandlerFunc(func(ctx context.Context, u tgbotapi.Update, reply ReplyFunc) error {
		return nil
	}))
	close(done)
	seen := <-observed

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 5, p.Offset())
	for i := 1; i < len(seen); i++ {
		assert.LessOrEqual(t, seen[i-1], seen[i])
	}
}

func TestPoller_Run_FloodWaitSleepsRetryAfter(t *testing.T) {
	flood := &telegram.APIError{Method: "getUpdates", Code: 429, Kind: telegram.KindFloodWait, RetryAfter: 7}
	bo := &stubBackOff{step: time.Second}
	p, _, ctx, sleeps := newScriptedPoller(t, []pollStep{
		{err: flood},
		{result: updatesJSON()},
	}, WithBackOff(func() backoff.BackOff { return bo }))

	err := p.Run(ctx, HandlerFunc(func(context.Context, tgbotapi.Update, ReplyFunc) error { return nil }))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []time.Duration{7 * time.Second}, *sleeps)
	assert.Zero(t, bo.n, "flood wait must not consume the backoff")
}

func TestPoller_Run_BacksOffAndResetsOnSuccess(t *testing.T) {
	failure := &telegram.TransportError{Method: "getUpdates", Message: "connection reset"}
	bo := &stubBackOff{step: 100 * time.Millisecond}
	p, _, ctx, sleeps := newScriptedPoller(t, []pollStep{
		{err: failure},
		{err: failure},
		{result: updatesJSON()},
		{err: failure},
	}, WithBackOff(func() backoff.BackOff { return bo }))

	err := p.Run(ctx, HandlerFunc(func(context.Context, tgbotapi.Update, ReplyFunc) error { return nil }))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		100 * time.Millisecond,
	}, *sleeps)
	assert.Equal(t, 2, bo.resets)
}

func TestPoller_Run_StopBackOffFallsBackToMax(t *testing.T) {
	failure := errors.New("boom")
	p, _, ctx, sleeps := newScriptedPoller(t, []pollStep{{err: failure}},
		WithBackOff(func() backoff.BackOff { return &backoff.StopBackOff{} }))

	_ = p.Run(ctx, HandlerFunc(func(context.Context, tgbotapi.Update, ReplyFunc) error { return nil }))
	assert.Equal(t, []time.Duration{DefaultMaxBackoff}, *sleeps)
}

func TestPoller_Run_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	caller := &scriptedCaller{cancel: cancel}
	p := NewPoller(caller, PollerConfig{}, WithPollerLogger(discardLogger))

	err := p.Run(ctx, HandlerFunc(func(context.Context, tgbotapi.Update, ReplyFunc) error { return nil }))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, caller.polls)
}

func TestPoller_Run_ReplyUsesCaller(t *testing.T) {
	p, caller, ctx, _ := newScriptedPoller(t, []pollStep{{result: updatesJSON(1)}})

	err := p.Run(ctx, HandlerFunc(func(ctx context.Context, u tgbotapi.Update, reply ReplyFunc) error {
		return reply(ctx, "sendMessage", telegram.Params{"chat_id": u.Message.Chat.ID, "text": "pong"})
	}))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"sendMessage"}, caller.methods)
	assert.Equal(t, telegram.Params{"chat_id": int64(5), "text": "pong"}, caller.sent[0])
}

func TestPoller_Poll(t *testing.T) {
	t.Run("params", func(t *testing.T) {
		caller := &scriptedCaller{steps: []pollStep{{result: updatesJSON(3)}}}
		p := NewPoller(caller, PollerConfig{Timeout: 10, Limit: 20, AllowedUpdates: []string{"message"}})

		updates, err := p.Poll(context.Background())
		require.NoError(t, err)
		require.Len(t, updates, 1)
		assert.Equal(t, 3, updates[0].UpdateID)
		assert.Equal(t, "hi", updates[0].Message.Text)

		assert.Equal(t, telegram.Params{
			"offset":          0,
			"timeout":         10,
			"limit":           20,
			"allowed_updates": []string{"message"},
		}, caller.polls[0])
	})

	t.Run("undecodable result", func(t *testing.T) {
		caller := &scriptedCaller{steps: []pollStep{{result: `{"not":"a list"}`}}}
		p := NewPoller(caller, PollerConfig{})

		_, err := p.Poll(context.Background())
		assert.ErrorContains(t, err, "decode updates")
	})
}

func TestNewPoller_Defaults(t *testing.T) {
	p := NewPoller(&scriptedCaller{}, PollerConfig{Timeout: -1, Limit: 1000, MaxBackoff: time.Millisecond})

	assert.Equal(t, DefaultPollTimeout, p.cfg.Timeout)
	assert.Equal(t, DefaultPollLimit, p.cfg.Limit)
	assert.Equal(t, DefaultInitialBackoff, p.cfg.InitialBackoff)
	assert.Equal(t, DefaultMaxBackoff, p.cfg.MaxBackoff)

	bo, ok := p.newBackOff().(*backoff.ExponentialBackOff)
	require.True(t, ok)
	assert.Equal(t, DefaultInitialBackoff, bo.InitialInterval)
	assert.Zero(t, bo.MaxElapsedTime)
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
