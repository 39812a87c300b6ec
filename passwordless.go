package passwordless

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrNoStore     = errors.New("no store has been configured")
	ErrNoTransport = errors.New("no transport has been configured")
	ErrNoUsers     = errors.New("no user lookup has been configured")
)

const (
	// DefaultRedeemBaseURL is where redeem links point unless configured.
	DefaultRedeemBaseURL = "http://localhost:8080/login/ott"
	// DefaultDeliveryTimeout bounds each background delivery.
	DefaultDeliveryTimeout = 30 * time.Second
)

// Acknowledgement is the response given to every accepted token request,
// whether or not the user exists or delivery succeeded.
type Acknowledgement struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// GenericAcknowledgement is returned by RequestToken on success.
var GenericAcknowledgement = Acknowledgement{
	Status:  "ok",
	Message: "A magic link has been sent to your email address. Please check your inbox.",
}

// Hooks are optional callbacks invoked as tokens move through their
// lifecycle. They run synchronously on the request path.
type Hooks struct {
	OnIssued    func(ctx context.Context, t *Token)
	OnValidated func(ctx context.Context, p *Principal)
	OnFailed    func(ctx context.Context, reason FailureReason, err error)
}

// RecipientFunc maps a username onto the address a link is sent to.
type RecipientFunc func(ctx context.Context, username string) (string, error)

// Options holds the settings of a Passwordless instance.
type Options struct {
	TokenTTL        time.Duration
	TokenByteLength int
	RedeemBaseURL   string
	Generator       TokenGenerator
	Recipient       RecipientFunc
	Clock           Clock
	Hooks           Hooks
	DeliveryTimeout time.Duration
}

// Option modifies Options.
type Option func(*Options)

// WithTTL sets the lifetime of issued tokens.
func WithTTL(d time.Duration) Option {
	return func(o *Options) { o.TokenTTL = d }
}

// WithTokenByteLength sets the random bytes per token for the default
// generator.
func WithTokenByteLength(n int) Option {
	return func(o *Options) { o.TokenByteLength = n }
}

// WithRedeemBaseURL sets the URL redeem links are built on.
func WithRedeemBaseURL(u string) Option {
	return func(o *Options) { o.RedeemBaseURL = u }
}

// WithGenerator replaces the default URL-safe token generator.
func WithGenerator(g TokenGenerator) Option {
	return func(o *Options) { o.Generator = g }
}

// WithRecipientFunc sets how usernames map onto delivery addresses.
func WithRecipientFunc(f RecipientFunc) Option {
	return func(o *Options) { o.Recipient = f }
}

// WithClock sets the time source used for issuing tokens.
func WithClock(c Clock) Option {
	return func(o *Options) { o.Clock = c }
}

// WithHooks installs lifecycle callbacks.
func WithHooks(h Hooks) Option {
	return func(o *Options) { o.Hooks = h }
}

// WithDeliveryTimeout bounds how long a single delivery may run.
func WithDeliveryTimeout(d time.Duration) Option {
	return func(o *Options) { o.DeliveryTimeout = d }
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		TokenTTL:        DefaultTTL,
		TokenByteLength: DefaultTokenByteLength,
		RedeemBaseURL:   DefaultRedeemBaseURL,
		DeliveryTimeout: DefaultDeliveryTimeout,
		Clock:           time.Now,
		Recipient: func(ctx context.Context, username string) (string, error) {
			return username, nil
		},
	}
}

// Passwordless issues magic links and redeems them for principals.
type Passwordless struct {
	issuer    *Issuer
	validator *Validator
	transport Transport
	redeem    *url.URL
	recipient RecipientFunc
	hooks     Hooks
	timeout   time.Duration
	inflight  sync.WaitGroup
}

// New creates a Passwordless service on top of the given store, transport
// and user lookup.
func New(store TokenStore, transport Transport, users UserLookup, opts ...Option) (*Passwordless, error) {
	if store == nil {
		return nil, ErrNoStore
	}
	if transport == nil {
		return nil, ErrNoTransport
	}
	if users == nil {
		return nil, ErrNoUsers
	}

	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.DeliveryTimeout <= 0 {
		return nil, fmt.Errorf("delivery timeout must be positive, got %s", o.DeliveryTimeout)
	}
	if o.Generator == nil {
		o.Generator = NewURLSafeGenerator(o.TokenByteLength)
	}

	base, err := ParseRedeemBase(o.RedeemBaseURL)
	if err != nil {
		return nil, err
	}
	issuer, err := NewIssuer(store, o.Generator, o.TokenTTL, o.Clock)
	if err != nil {
		return nil, err
	}

	return &Passwordless{
		issuer:    issuer,
		validator: NewValidator(store, users, o.Generator),
		transport: transport,
		redeem:    base,
		recipient: o.Recipient,
		hooks:     o.Hooks,
		timeout:   o.DeliveryTimeout,
	}, nil
}

// RequestToken issues a token for `username` and delivers a redeem link in
// the background, so neither the outcome nor the duration of delivery shows
// in the reply. Only ErrInvalidRequest and ErrStoreUnavailable are
// reported; delivery failures are logged at warn.
func (p *Passwordless) RequestToken(ctx context.Context, username string) (Acknowledgement, error) {
	log := zerolog.Ctx(ctx)

	tok, err := p.issuer.Issue(ctx, username)
	if err != nil {
		if !errors.Is(err, ErrInvalidRequest) {
			log.Error().Err(err).Msg("token issuance failed")
			if !errors.Is(err, ErrStoreUnavailable) {
				err = fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
			}
		}
		return Acknowledgement{}, err
	}
	log.Info().Str("token", tok.Fingerprint()).Time("expires_at", tok.ExpiresAt).
		Msg("token issued")
	if p.hooks.OnIssued != nil {
		p.hooks.OnIssued(ctx, tok.clone())
	}

	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		defer cancel()
		if err := p.deliver(dctx, tok); err != nil {
			log.Warn().Err(err).Str("token", tok.Fingerprint()).Msg("token delivery failed")
		}
	}()
	return GenericAcknowledgement, nil
}

// Wait blocks until every delivery started by RequestToken has finished.
func (p *Passwordless) Wait() {
	p.inflight.Wait()
}

func (p *Passwordless) deliver(ctx context.Context, tok *Token) error {
	recipient, err := p.recipient(ctx, tok.Username)
	if err != nil {
		return fmt.Errorf("%w: resolve recipient: %w", ErrDeliveryFailed, err)
	}
	d := Delivery{
		Recipient: recipient,
		Username:  tok.Username,
		Token:     tok.Value,
		RedeemURL: RedeemURL(p.redeem, tok.Value),
		ExpiresAt: tok.ExpiresAt,
	}
	if err := p.transport.Send(ctx, d); err != nil {
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	return nil
}

// Redeem consumes the token and returns the authenticated principal. All
// failures match ErrAuthenticationFailed; the *AuthError carries the reason.
func (p *Passwordless) Redeem(ctx context.Context, token string) (*Principal, error) {
	log := zerolog.Ctx(ctx)

	principal, err := p.validator.Validate(ctx, token)
	if err != nil {
		reason := ReasonStore
		var authErr *AuthError
		if errors.As(err, &authErr) {
			reason = authErr.Reason
		}
		log.Info().Str("reason", string(reason)).AnErr("cause", errors.Unwrap(err)).
			Msg("token rejected")
		if p.hooks.OnFailed != nil {
			p.hooks.OnFailed(ctx, reason, err)
		}
		return nil, err
	}

	log.Info().Str("username", principal.Username).Msg("token redeemed")
	if p.hooks.OnValidated != nil {
		p.hooks.OnValidated(ctx, principal)
	}
	return principal, nil
}

// TTL returns the lifetime of issued tokens.
func (p *Passwordless) TTL() time.Duration {
	return p.issuer.TTL()
}
