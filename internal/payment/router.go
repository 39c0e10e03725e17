package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Proton-105/globalization/internal/domain"
	apperrors "github.com/Proton-105/globalization/internal/errors"
	"github.com/Proton-105/globalization/internal/idempotency"
	"github.com/Proton-105/globalization/pkg/logger"
	"github.com/Proton-105/globalization/pkg/metrics"
)

// Receipt describes a payout the router has finished with. Status is
// processing when a gateway accepted the request without confirming it.
type Receipt struct {
	PayoutID  string              `json:"payout_id"`
	UserID    string              `json:"user_id"`
	Channel   string              `json:"channel"`
	Reference string              `json:"reference"`
	Amount    decimal.Decimal     `json:"amount"`
	Currency  string              `json:"currency"`
	Status    domain.PayoutStatus `json:"status"`
	CreatedAt time.Time           `json:"created_at"`
	FromCache bool                `json:"-"`
}

// Options tunes a Router.
type Options struct {
	Currency       string
	Timeout        time.Duration
	IdempotencyTTL time.Duration
	Retry          apperrors.RetryPolicy
	Breakers       *apperrors.BreakerSet
}

type payOptions struct {
	currency string
	key      string
}

// PayOption customizes a single PayUser call.
type PayOption func(*payOptions)

// WithCurrency overrides the default currency.
func WithCurrency(code string) PayOption {
	return func(o *payOptions) {
		o.currency = code
	}
}

// WithIdempotencyKey makes repeated calls with the same key return the first receipt.
func WithIdempotencyKey(key string) PayOption {
	return func(o *payOptions) {
		o.key = key
	}
}

// Router pays users through the first working provider among their payment channels.
type Router struct {
	mu        sync.RWMutex
	providers map[string]Provider
	store     Store
	idem      idempotency.Manager
	opts      Options
	log       *slog.Logger
}

// NewRouter builds a Router. idem may be nil, in which case idempotency keys are ignored.
func NewRouter(opts Options, store Store, idem idempotency.Manager, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	if store == nil {
		store = NewMemoryStore()
	}
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = 24 * time.Hour
	}
	if opts.Breakers == nil {
		opts.Breakers = apperrors.NewBreakerSet(apperrors.BreakerSettings{})
	}

	return &Router{
		providers: make(map[string]Provider),
		store:     store,
		idem:      idem,
		opts:      opts,
		log:       log,
	}
}

// Register adds p under its normalized name.
func (r *Router) Register(p Provider) {
	if p == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.providers[NormalizeChannel(p.Name())] = p
}

// Providers lists the registered provider names in sorted order.
func (r *Router) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Breakers exposes the per-provider circuit breakers.
func (r *Router) Breakers() *apperrors.BreakerSet {
	return r.opts.Breakers
}

// PayUser transfers amount to user. Channels are tried in the order the user
// declared them. Failures that prove the request never ran fall through to
// the next channel. A decline stops the walk with an error, and an
// unconfirmed attempt stops it with a processing receipt.
func (r *Router) PayUser(ctx context.Context, amount decimal.Decimal, user domain.User, opts ...PayOption) (*Receipt, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	o := payOptions{currency: r.opts.Currency}
	for _, opt := range opts {
		opt(&o)
	}
	if o.key == "" {
		o.key = idempotency.KeyFromContext(ctx)
	}

	amount = amount.Round(2)
	if !amount.IsPositive() {
		return nil, apperrors.NewValidationError("amount must be positive")
	}

	currency := strings.ToUpper(strings.TrimSpace(o.currency))
	if len(currency) != 3 {
		return nil, apperrors.NewValidationError(fmt.Sprintf("invalid currency %q", o.currency))
	}

	if err := user.Validate(); err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}

	if o.key == "" || r.idem == nil {
		return r.dispatch(ctx, amount, currency, user, o.key)
	}

	result, err := r.idem.Execute(ctx, idempotency.ScopedKey("payout", user.ID, o.key), r.opts.IdempotencyTTL,
		func(ctx context.Context) (interface{}, error) {
			return r.dispatch(ctx, amount, currency, user, o.key)
		})
	if err != nil {
		if errors.Is(err, idempotency.ErrRequestInProgress) {
			return nil, apperrors.NewStateError("a payout with this idempotency key is already in progress")
		}
		return nil, err
	}

	receipt, ok := result.Response.(*Receipt)
	if !ok {
		receipt = &Receipt{}
		if err := result.Decode(receipt); err != nil {
			return nil, fmt.Errorf("decode stored receipt: %w", err)
		}
	}
	receipt.FromCache = result.FromCache

	if receipt.FromCache && (!receipt.Amount.Equal(amount) || receipt.Currency != currency) {
		return nil, apperrors.NewValidationError("idempotency key was already used for a different payout")
	}

	return receipt, nil
}

func (r *Router) dispatch(ctx context.Context, amount decimal.Decimal, currency string, user domain.User, key string) (*Receipt, error) {
	candidates := r.candidates(user)
	if len(candidates) == 0 {
		return nil, apperrors.NewNoPaymentChannelError(user.ID)
	}

	now := time.Now().UTC()
	payout := &domain.Payout{
		ID:             uuid.NewString(),
		UserID:         user.ID,
		Amount:         amount,
		Currency:       currency,
		Status:         domain.PayoutPending,
		IdempotencyKey: key,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.store.Create(ctx, payout); err != nil {
		return nil, err
	}

	log := r.log.With(slog.String("payout_id", payout.ID), slog.String("user_id", user.ID))
	if correlationID := logger.CorrelationIDFromContext(ctx); correlationID != "" {
		log = log.With(slog.String("correlation_id", correlationID))
	}

	var lastErr error
	for _, provider := range candidates {
		channel := provider.Name()

		if err := r.store.UpdateStatus(ctx, payout.ID, StatusUpdate{Status: domain.PayoutProcessing, Channel: channel}); err != nil {
			lastErr = err
			break
		}

		confirmation, err := r.attempt(ctx, provider, PayoutRequest{
			PayoutID:       payout.ID,
			UserID:         user.ID,
			Email:          user.Email,
			Amount:         amount,
			Currency:       currency,
			IdempotencyKey: payout.ID + ":" + channel,
		})
		metrics.RecordPayout(channel, currency, amount, err)

		if err == nil {
			if err := r.store.UpdateStatus(context.WithoutCancel(ctx), payout.ID, StatusUpdate{
				Status:    domain.PayoutSucceeded,
				Channel:   channel,
				Reference: confirmation.Reference,
			}); err != nil {
				// Money has moved; report success and leave reconciliation to the store owner.
				log.Error("failed to record payout success", slog.String("channel", channel), slog.Any("error", err))
			}

			log.Info("payout succeeded", slog.String("channel", channel), slog.String("reference", confirmation.Reference))
			return &Receipt{
				PayoutID:  payout.ID,
				UserID:    user.ID,
				Channel:   channel,
				Reference: confirmation.Reference,
				Amount:    amount,
				Currency:  currency,
				Status:    domain.PayoutSucceeded,
				CreatedAt: payout.CreatedAt,
			}, nil
		}

		if errors.Is(err, ErrOutcomeUnknown) {
			// The gateway may have paid; another provider would pay twice.
			log.Warn("payout outcome unknown, awaiting reconciliation",
				slog.String("channel", channel), slog.Any("error", err))
			return &Receipt{
				PayoutID:  payout.ID,
				UserID:    user.ID,
				Channel:   channel,
				Amount:    amount,
				Currency:  currency,
				Status:    domain.PayoutProcessing,
				CreatedAt: payout.CreatedAt,
			}, nil
		}

		lastErr = err
		log.Warn("payout attempt failed", slog.String("channel", channel), slog.Any("error", err))

		if !apperrors.IsRetryable(err) && !apperrors.IsCircuitRejection(err) {
			break
		}
	}

	if err := r.store.UpdateStatus(context.WithoutCancel(ctx), payout.ID, StatusUpdate{
		Status: domain.PayoutFailed,
		Error:  lastErr.Error(),
	}); err != nil {
		log.Error("failed to record payout failure", slog.Any("error", err))
	}

	return nil, lastErr
}

func (r *Router) attempt(ctx context.Context, provider Provider, req PayoutRequest) (*Confirmation, error) {
	var confirmation *Confirmation

	err := r.opts.Breakers.Get(provider.Name()).Call(func() error {
		return apperrors.WithRetryPolicy(ctx, r.opts.Retry, func() error {
			payCtx := ctx
			if r.opts.Timeout > 0 {
				var cancel context.CancelFunc
				payCtx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
				defer cancel()
			}

			c, err := provider.Pay(payCtx, req)
			if err != nil {
				return err
			}
			confirmation = c
			return nil
		})
	})

	return confirmation, err
}

// candidates resolves the user's declared channels to providers, in order and
// without duplicates.
func (r *Router) candidates(user domain.User) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{}, len(user.PaymentChannels))
	out := make([]Provider, 0, len(user.PaymentChannels))

	for _, channel := range user.PaymentChannels {
		name := NormalizeChannel(channel)
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		if provider, ok := r.providers[name]; ok {
			out = append(out, provider)
		}
	}

	return out
}
