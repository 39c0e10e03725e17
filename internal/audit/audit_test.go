package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Proton-105/globalization/internal/errors"
	"github.com/Proton-105/globalization/pkg/config"
	"github.com/Proton-105/globalization/pkg/logger"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type failingSink struct{}

func (failingSink) Name() string { return "broken" }

func (failingSink) Write(context.Context, Entry) error { return errors.New("disk full") }

func TestLogAudit_ChainsEntries(t *testing.T) {
	sink := NewMemorySink()
	rec := NewRecorder(quietLogger(), sink)
	ctx := logger.WithCorrelationID(context.Background(), "corr-1")

	first, err := rec.LogAudit(ctx, "payment.succeeded", "u-1", map[string]any{"amount": "10.00"})
	require.NoError(t, err)
	second, err := rec.LogAudit(ctx, "push.sent", "u-2", nil)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, GenesisHash, first.PrevHash)
	assert.Equal(t, first.Hash, second.PrevHash)
	assert.Equal(t, "corr-1", first.CorrelationID)
	assert.Len(t, first.Hash, 64)

	_, err = VerifyChain(sink.Entries(), GenesisHash)
	assert.NoError(t, err)

	seq, head := rec.Head()
	assert.Equal(t, uint64(2), seq)
	assert.Equal(t, second.Hash, head)
}

func TestLogAudit_Validation(t *testing.T) {
	rec := NewRecorder(quietLogger())

	_, err := rec.LogAudit(context.Background(), "  ", "u-1", nil)
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))

	entry, err := rec.LogAudit(context.Background(), "config.reload", "", nil)
	require.NoError(t, err)
	assert.Equal(t, SystemUser, entry.UserID)
}

func TestLogAudit_RedactsSensitiveDetails(t *testing.T) {
	rec := NewRecorder(quietLogger())

	entry, err := rec.LogAudit(context.Background(), "user.update", "u-1", map[string]any{
		"password": "hunter2",
		"profile": map[string]any{
			"api_key": "k",
			"name":    "Ana",
		},
		"cards": []any{map[string]any{"card_number": "4111"}},
	})
	require.NoError(t, err)

	assert.Equal(t, logger.MaskedValue, entry.Details["password"])
	profile := entry.Details["profile"].(map[string]any)
	assert.Equal(t, logger.MaskedValue, profile["api_key"])
	assert.Equal(t, "Ana", profile["name"])
	card := entry.Details["cards"].([]any)[0].(map[string]any)
	assert.Equal(t, logger.MaskedValue, card["card_number"])
}

func TestLogAudit_SinkFailureStillAdvancesChain(t *testing.T) {
	memory := NewMemorySink()
	rec := NewRecorder(quietLogger(), memory, failingSink{})

	entry, err := rec.LogAudit(context.Background(), "push.failed", "u-1", nil)
	require.Error(t, err)
	require.NotNil(t, entry)
	assert.Contains(t, err.Error(), "audit sink broken")
	assert.Len(t, memory.Entries(), 1)

	seq, head := rec.Head()
	assert.Equal(t, entry.Seq, seq)
	assert.Equal(t, entry.Hash, head)
}

func TestLogAudit_PrimarySinkFailureKeepsHead(t *testing.T) {
	memory := NewMemorySink()
	rec := NewRecorder(quietLogger(), failingSink{}, memory)

	entry, err := rec.LogAudit(context.Background(), "payment.failed", "u-1", nil)
	require.Error(t, err)
	assert.Nil(t, entry)
	assert.Equal(t, apperrors.CodeDatabase, apperrors.CodeOf(err))
	assert.Empty(t, memory.Entries())

	seq, head := rec.Head()
	assert.Zero(t, seq)
	assert.Equal(t, GenesisHash, head)
}

type ctxSink struct {
	*MemorySink
}

func (s ctxSink) Write(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemorySink.Write(ctx, entry)
}

func TestLogAudit_CancelledCallerStillChains(t *testing.T) {
	sink := ctxSink{NewMemorySink()}
	rec := NewRecorder(quietLogger(), sink)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := rec.LogAudit(ctx, "push.failed", "u-1", map[string]any{"error": "context canceled"})
	require.NoError(t, err)
	_, err = rec.LogAudit(context.Background(), "push.sent", "u-1", nil)
	require.NoError(t, err)

	n, err := Verify(context.Background(), sink.MemorySink)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestVerifyChain_DetectsTampering(t *testing.T) {
	sink := NewMemorySink()
	rec := NewRecorder(quietLogger(), sink)
	for _, action := range []string{"a", "b", "c"} {
		_, err := rec.LogAudit(context.Background(), action, "u", map[string]any{"n": 1})
		require.NoError(t, err)
	}

	entries := sink.Entries()
	entries[1].Details = map[string]any{"n": 2}

	_, err := VerifyChain(entries, GenesisHash)
	var chainErr *ChainError
	require.ErrorAs(t, err, &chainErr)
	assert.Equal(t, uint64(2), chainErr.Seq)

	entries = sink.Entries()
	entries = append(entries[:1], entries[2:]...)
	_, err = VerifyChain(entries, GenesisHash)
	require.ErrorAs(t, err, &chainErr)
	assert.Equal(t, uint64(3), chainErr.Seq)
}

func TestResumeAndVerify(t *testing.T) {
	sink := NewMemorySink()
	first := NewRecorder(quietLogger(), sink)
	_, err := first.LogAudit(context.Background(), "a", "u", nil)
	require.NoError(t, err)

	second := NewRecorder(quietLogger(), sink)
	require.NoError(t, second.Resume(context.Background(), sink))
	entry, err := second.LogAudit(context.Background(), "b", "u", nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), entry.Seq)

	checked, err := Verify(context.Background(), sink)
	require.NoError(t, err)
	assert.Equal(t, 2, checked)
}

func TestHash_SurvivesJSONRoundTrip(t *testing.T) {
	rec := NewRecorder(quietLogger())
	rec.now = func() time.Time { return time.Date(2025, 5, 1, 8, 30, 0, 123456789, time.FixedZone("CST", 8*3600)) }

	entry, err := rec.LogAudit(context.Background(), "payment.succeeded", "u-1", map[string]any{
		"amount": 12.5,
		"big":    int64(9007199254740993),
		"tags":   []string{"x", "y"},
	})
	require.NoError(t, err)

	raw, err := json.Marshal(entry)
	require.NoError(t, err)

	var decoded struct {
		Entry
		Details json.RawMessage `json:"details"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	reloaded := decoded.Entry
	reloaded.Details, err = DecodeDetails(decoded.Details)
	require.NoError(t, err)

	hash, err := ComputeHash(reloaded)
	require.NoError(t, err)
	assert.Equal(t, entry.Hash, hash)
}

func TestFileSink_WritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	sink := NewFileSink(config.AuditConfig{File: path, MaxSizeMB: 1})
	rec := NewRecorder(quietLogger(), sink)

	_, err := rec.LogAudit(context.Background(), "a", "u", nil)
	require.NoError(t, err)
	_, err = rec.LogAudit(context.Background(), "b", "u", nil)
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		entries = append(entries, e)
	}
	require.Len(t, entries, 2)

	_, err = VerifyChain(entries, GenesisHash)
	assert.NoError(t, err)
}

func TestLogAudit_AlwaysChainsProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("every entry links to its predecessor", prop.ForAll(
		func(actions []string) bool {
			sink := NewMemorySink()
			rec := NewRecorder(quietLogger(), sink)

			prev := GenesisHash
			for _, action := range actions {
				entry, err := rec.LogAudit(context.Background(), action, "u", map[string]any{"action": action})
				if err != nil || entry.PrevHash != prev {
					return false
				}
				prev = entry.Hash
			}

			_, err := VerifyChain(sink.Entries(), GenesisHash)
			return err == nil
		},
		gen.SliceOf(gen.Identifier()),
	))

	properties.TestingRun(t)
}
