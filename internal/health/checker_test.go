package health

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/globalization/internal/audit"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type telegramStub struct {
	err   error
	delay time.Duration
}

func (s telegramStub) Raw(method string, _ interface{}) ([]byte, error) {
	time.Sleep(s.delay)
	return []byte(`{"ok":true}`), s.err
}

func TestChecker_AllHealthy(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	mock.ExpectPing()

	checker := NewChecker(quietLogger(), time.Second)
	checker.AddCheck("redis", NewRedisChecker(client))
	checker.AddCheck("postgres", NewDBChecker(db))
	checker.AddCheck("telegram", NewTelegramChecker(telegramStub{}))
	checker.AddCheck("audit", NewAuditChecker(audit.NewMemorySink()))

	report := checker.Check(context.Background())
	assert.True(t, report.Healthy())
	assert.Equal(t, map[string]string{
		"redis":    StatusOK,
		"postgres": StatusOK,
		"telegram": StatusOK,
		"audit":    StatusOK,
	}, report.Components)
	assert.Equal(t, []string{"audit", "postgres", "redis", "telegram"}, checker.Components())
}

func TestChecker_ReportsFailures(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	checker := NewChecker(quietLogger(), 50*time.Millisecond)
	checker.AddCheck("redis", NewRedisChecker(client))
	checker.AddCheck("telegram", NewTelegramChecker(telegramStub{err: errors.New("unauthorized")}))
	checker.AddCheck("slow", NewTelegramChecker(telegramStub{delay: time.Second}))
	checker.AddCheck("custom", CheckFunc(func(context.Context) error { return nil }))

	report := checker.Check(context.Background())
	assert.False(t, report.Healthy())
	assert.Equal(t, StatusDegraded, report.Status)
	assert.NotEqual(t, StatusOK, report.Components["redis"])
	assert.Equal(t, "unauthorized", report.Components["telegram"])
	assert.Equal(t, context.DeadlineExceeded.Error(), report.Components["slow"])
	assert.Equal(t, StatusOK, report.Components["custom"])
}

func TestCheckers_NilTargets(t *testing.T) {
	ctx := context.Background()
	assert.Error(t, NewDBChecker(nil).HealthCheck(ctx))
	assert.Error(t, NewRedisChecker(nil).HealthCheck(ctx))
	assert.Error(t, NewTelegramChecker(nil).HealthCheck(ctx))
	assert.Error(t, NewAuditChecker(nil).HealthCheck(ctx))
}
