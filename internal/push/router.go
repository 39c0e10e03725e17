package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "github.com/Proton-105/globalization/internal/errors"
	"github.com/Proton-105/globalization/internal/ratelimit"
	"github.com/Proton-105/globalization/pkg/logger"
	"github.com/Proton-105/globalization/pkg/metrics"
)

// DeliveryError lists the recipients a push could not reach.
type DeliveryError struct {
	Channel string
	Failed  map[string]error
}

func (e *DeliveryError) Error() string {
	recipients := e.Recipients()
	return fmt.Sprintf("push via %s failed for %d recipient(s): %s", e.Channel, len(recipients), strings.Join(recipients, ", "))
}

// Unwrap exposes every per-recipient cause to errors.Is and errors.As.
func (e *DeliveryError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, recipient := range e.Recipients() {
		errs = append(errs, e.Failed[recipient])
	}
	return errs
}

// Recipients returns the failed recipients in sorted order.
func (e *DeliveryError) Recipients() []string {
	recipients := make([]string, 0, len(e.Failed))
	for recipient := range e.Failed {
		recipients = append(recipients, recipient)
	}
	sort.Strings(recipients)
	return recipients
}

// Options tunes a Router.
type Options struct {
	Concurrency int
	Timeout     time.Duration
	Retry       apperrors.RetryPolicy
	Breakers    *apperrors.BreakerSet
	Limiter     ratelimit.Limiter
	Rules       *ratelimit.Rules
}

// Router dispatches pushes to registered channels by platform name.
type Router struct {
	mu       sync.RWMutex
	channels map[string]Channel
	opts     Options
	log      *slog.Logger
}

// NewRouter builds a Router with no channels registered.
func NewRouter(opts Options, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Breakers == nil {
		opts.Breakers = apperrors.NewBreakerSet(apperrors.BreakerSettings{})
	}

	return &Router{
		channels: make(map[string]Channel),
		opts:     opts,
		log:      log,
	}
}

// Register adds ch under its normalized name, replacing any previous channel.
func (r *Router) Register(ch Channel) {
	if ch == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.channels[NormalizePlatform(ch.Name())] = ch
}

// Channels lists the registered channel names in sorted order.
func (r *Router) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Breakers exposes the per-channel circuit breakers.
func (r *Router) Breakers() *apperrors.BreakerSet {
	return r.opts.Breakers
}

// SendPush delivers content to every recipient over the channel named by platform.
// Deliveries are independent: a failure for one recipient does not stop the others,
// and the returned *DeliveryError names every recipient that was not reached.
func (r *Router) SendPush(ctx context.Context, platform string, recipients []string, content string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	targets := uniqueRecipients(recipients)
	if len(targets) == 0 {
		return nil
	}

	if strings.TrimSpace(content) == "" {
		return apperrors.NewValidationError("content is required")
	}

	name := NormalizePlatform(platform)

	r.mu.RLock()
	ch, ok := r.channels[name]
	r.mu.RUnlock()
	if !ok {
		return apperrors.NewUnknownChannelError(platform)
	}

	log := r.log.With(slog.String("channel", name))
	if correlationID := logger.CorrelationIDFromContext(ctx); correlationID != "" {
		log = log.With(slog.String("correlation_id", correlationID))
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed = make(map[string]error)
		sem    = make(chan struct{}, r.opts.Concurrency)
	)

	for _, recipient := range targets {
		select {
		case <-ctx.Done():
			mu.Lock()
			failed[recipient] = ctx.Err()
			mu.Unlock()
			continue
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(recipient string) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := r.deliver(ctx, ch, name, Message{Recipient: recipient, Content: content}); err != nil {
				log.Warn("push delivery failed", slog.String("recipient", recipient), slog.Any("error", err))
				mu.Lock()
				failed[recipient] = err
				mu.Unlock()
			}
		}(recipient)
	}

	wg.Wait()

	if len(failed) > 0 {
		return &DeliveryError{Channel: name, Failed: failed}
	}

	log.Debug("push delivered", slog.Int("recipients", len(targets)))
	return nil
}

func (r *Router) deliver(ctx context.Context, ch Channel, name string, msg Message) error {
	start := time.Now()

	if err := r.checkLimit(ctx, name); err != nil {
		metrics.RecordPushDelivery(name, err, time.Since(start))
		return err
	}

	err := r.opts.Breakers.Get(name).Call(func() error {
		return apperrors.WithRetryPolicy(ctx, r.opts.Retry, func() error {
			sendCtx := ctx
			if r.opts.Timeout > 0 {
				var cancel context.CancelFunc
				sendCtx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
				defer cancel()
			}
			return ch.Send(sendCtx, msg)
		})
	})

	metrics.RecordPushDelivery(name, err, time.Since(start))
	return err
}

func (r *Router) checkLimit(ctx context.Context, name string) error {
	if r.opts.Limiter == nil || r.opts.Rules == nil {
		return nil
	}

	limit, window, err := r.opts.Rules.GetChannelLimit(name)
	if err != nil {
		if !errors.Is(err, ratelimit.ErrNoRule) {
			r.log.Error("invalid channel rate limit", slog.String("channel", name), slog.Any("error", err))
		}
		return nil
	}

	result, err := r.opts.Limiter.Check(ctx, ratelimit.ChannelKey(name), limit, window)
	if err != nil && !errors.Is(err, ratelimit.ErrLimitExceeded) {
		r.log.Warn("rate limiter error", slog.String("channel", name), slog.Any("error", err))
		return nil
	}

	if result != nil && !result.Allowed {
		return apperrors.NewRateLimitError(result.RetryAfter(time.Now()))
	}

	return nil
}

func uniqueRecipients(recipients []string) []string {
	seen := make(map[string]struct{}, len(recipients))
	out := make([]string, 0, len(recipients))

	for _, recipient := range recipients {
		recipient = strings.TrimSpace(recipient)
		if recipient == "" {
			continue
		}
		if _, ok := seen[recipient]; ok {
			continue
		}
		seen[recipient] = struct{}{}
		out = append(out, recipient)
	}

	return out
}
