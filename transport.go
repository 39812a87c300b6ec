package passwordless

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Delivery is everything a transport needs to send a login link.
type Delivery struct {
	// Recipient is where the link is sent, such as an email address.
	Recipient string
	Username  string
	Token     string
	RedeemURL string
	ExpiresAt time.Time
}

// Transport represents a mechanism that sends a named recipient a token.
type Transport interface {
	// Send instructs the transport to deliver the login link described by
	// `d` to its recipient.
	Send(ctx context.Context, d Delivery) error
}

// TransportFunc adapts a function into a Transport.
type TransportFunc func(ctx context.Context, d Delivery) error

func (f TransportFunc) Send(ctx context.Context, d Delivery) error {
	return f(ctx, d)
}

// LogTransport is intended for testing/debugging purposes. It records each
// delivery on the context logger at debug level. Only the token fingerprint
// is logged unless MessageFunc is set, in which case its message is logged
// as well; that message may carry the link.
type LogTransport struct {
	MessageFunc func(d Delivery) string
}

func (lt LogTransport) Send(ctx context.Context, d Delivery) error {
	ev := zerolog.Ctx(ctx).Debug().
		Str("recipient", d.Recipient).
		Str("token", hashToken(d.Token)[:12]).
		Time("expires_at", d.ExpiresAt)
	if lt.MessageFunc != nil {
		ev.Msg(lt.MessageFunc(d))
		return nil
	}
	ev.Msg("login link issued")
	return nil
}
