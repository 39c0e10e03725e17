package push

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Proton-105/globalization/internal/errors"
	"github.com/Proton-105/globalization/internal/ratelimit"
	"github.com/Proton-105/globalization/pkg/config"
)

type fakeChannel struct {
	name string
	fail map[string]error

	mu       sync.Mutex
	sent     []Message
	attempts atomic.Int32
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Send(ctx context.Context, msg Message) error {
	f.attempts.Add(1)

	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	if err, ok := f.fail[msg.Recipient]; ok {
		return err
	}

	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) recipients() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, 0, len(f.sent))
	for _, msg := range f.sent {
		out = append(out, msg.Recipient)
	}
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastRetry() apperrors.RetryPolicy {
	return apperrors.RetryPolicy{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func newTestRouter(channels ...Channel) *Router {
	router := NewRouter(Options{Concurrency: 4, Timeout: time.Second, Retry: fastRetry()}, quietLogger())
	for _, ch := range channels {
		router.Register(ch)
	}
	return router
}

func TestSendPush_DeliversToEveryRecipientOnce(t *testing.T) {
	ch := &fakeChannel{name: ChannelSlack}
	router := newTestRouter(ch)

	err := router.SendPush(context.Background(), "Slack", []string{"u1", " u2 ", "u1", ""}, "hello")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u1", "u2"}, ch.recipients())
}

func TestSendPush_EmptyRecipientsIsNoop(t *testing.T) {
	ch := &fakeChannel{name: ChannelSlack}
	router := newTestRouter(ch)

	assert.NoError(t, router.SendPush(context.Background(), "slack", nil, "hello"))
	assert.NoError(t, router.SendPush(context.Background(), "unknown", []string{}, ""))
	assert.Zero(t, ch.attempts.Load())
}

func TestSendPush_Validation(t *testing.T) {
	router := newTestRouter(&fakeChannel{name: ChannelSlack})

	err := router.SendPush(context.Background(), "slack", []string{"u1"}, "  ")
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))

	err = router.SendPush(context.Background(), "pager", []string{"u1"}, "hi")
	assert.Equal(t, apperrors.CodeUnknownChannel, apperrors.CodeOf(err))
}

func TestSendPush_AliasesResolve(t *testing.T) {
	ch := &fakeChannel{name: ChannelWeChat}
	router := newTestRouter(ch)

	require.NoError(t, router.SendPush(context.Background(), "Weixin", []string{"zhang"}, "你好"))
	assert.Equal(t, []string{"zhang"}, ch.recipients())
	assert.Equal(t, []string{ChannelWeChat}, router.Channels())
}

func TestSendPush_PartialFailure(t *testing.T) {
	declined := apperrors.NewDeclinedError(ChannelSlack, errors.New("channel_not_found"))
	ch := &fakeChannel{name: ChannelSlack, fail: map[string]error{"bad": declined}}
	router := newTestRouter(ch)

	err := router.SendPush(context.Background(), "slack", []string{"good", "bad"}, "hello")

	var delivery *DeliveryError
	require.ErrorAs(t, err, &delivery)
	assert.Equal(t, []string{"bad"}, delivery.Recipients())
	assert.ErrorIs(t, err, declined)
	assert.Equal(t, []string{"good"}, ch.recipients())
	// declines are not retried
	assert.Equal(t, int32(2), ch.attempts.Load())
}

func TestSendPush_RetriesTransientErrors(t *testing.T) {
	transient := apperrors.NewExternalAPIError(ChannelSlack, errors.New("502"))
	ch := &fakeChannel{name: ChannelSlack, fail: map[string]error{"flaky": transient}}
	router := newTestRouter(ch)

	err := router.SendPush(context.Background(), "slack", []string{"flaky"}, "hello")
	require.Error(t, err)
	assert.Equal(t, int32(3), ch.attempts.Load())
}

func TestSendPush_BoundsConcurrency(t *testing.T) {
	ch := &fakeChannel{name: ChannelLog, delay: 10 * time.Millisecond}
	router := NewRouter(Options{Concurrency: 2, Retry: fastRetry()}, quietLogger())
	router.Register(ch)

	recipients := []string{"a", "b", "c", "d", "e", "f"}
	require.NoError(t, router.SendPush(context.Background(), "log", recipients, "hi"))
	assert.LessOrEqual(t, ch.peak.Load(), int32(2))
	assert.Len(t, ch.recipients(), len(recipients))
}

func TestSendPush_ChannelRateLimit(t *testing.T) {
	ch := &fakeChannel{name: ChannelTelegram}
	rules := ratelimit.NewRules(config.RateLimitConfig{
		Channels: map[string]config.RateLimitRule{"telegram": {Limit: 2, Window: "1m"}},
	})
	router := NewRouter(Options{
		Concurrency: 1,
		Retry:       fastRetry(),
		Limiter:     ratelimit.NewMemoryLimiter(),
		Rules:       rules,
	}, quietLogger())
	router.Register(ch)

	err := router.SendPush(context.Background(), "telegram", []string{"1", "2", "3"}, "hi")

	var delivery *DeliveryError
	require.ErrorAs(t, err, &delivery)
	assert.Len(t, delivery.Recipients(), 1)
	assert.Len(t, ch.recipients(), 2)
	assert.Equal(t, apperrors.CodeRateLimit, apperrors.CodeOf(delivery.Failed[delivery.Recipients()[0]]))
}

func TestSendPush_OpenCircuitRejectsWithoutCalling(t *testing.T) {
	transient := apperrors.NewExternalAPIError(ChannelSlack, errors.New("down"))
	ch := &fakeChannel{name: ChannelSlack, fail: map[string]error{"x": transient}}
	breakers := apperrors.NewBreakerSet(apperrors.BreakerSettings{
		MinRequests:      1,
		ErrorThreshold:   0.5,
		Timeout:          time.Hour,
	})
	router := NewRouter(Options{Concurrency: 1, Retry: apperrors.RetryPolicy{MaxRetries: 0}, Breakers: breakers}, quietLogger())
	router.Register(ch)

	require.Error(t, router.SendPush(context.Background(), "slack", []string{"x"}, "hi"))
	attempts := ch.attempts.Load()

	err := router.SendPush(context.Background(), "slack", []string{"y"}, "hi")
	require.Error(t, err)
	assert.True(t, apperrors.IsCircuitRejection(err))
	assert.Equal(t, attempts, ch.attempts.Load())
}

func TestSendPush_HealthyChannelProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("healthy channel never errors", prop.ForAll(
		func(recipients []string, content string) bool {
			ch := &fakeChannel{name: ChannelLog}
			router := newTestRouter(ch)

			if err := router.SendPush(context.Background(), "log", recipients, content); err != nil {
				return false
			}
			return len(ch.recipients()) == len(uniqueRecipients(recipients))
		},
		gen.SliceOf(gen.Identifier()),
		gen.AlphaString().SuchThat(func(s string) bool { return s != "" }),
	))

	properties.TestingRun(t)
}
