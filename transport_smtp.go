package passwordless

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"sort"
	"time"
)

// DefaultSubject is the subject line of login mails.
const DefaultSubject = "Your One Time Token"

// ComposerFunc is called when writing the contents of an email, including
// preamble headers.
type ComposerFunc func(ctx context.Context, d Delivery, w io.Writer) error

// Email is a helper for creating multipart (text and html) emails
type Email struct {
	To      string
	From    string
	Subject string
	Date    time.Time
	Body    map[string]string
}

// AddBody sets a content section within the email. The `contentType` should
// be a known type, such as "text/html" or "text/plain". If no `contentType`
// is provided, "text/plain" is used.
func (e *Email) AddBody(contentType, body string) {
	if e.Body == nil {
		e.Body = make(map[string]string)
	}
	if contentType == "" {
		contentType = "text/plain"
	}
	e.Body[contentType] = body
}

// Write emits the Email to the specified writer.
func (e Email) Write(w io.Writer) (int64, error) {
	return e.Buffer().WriteTo(w)
}

// Bytes returns the contents of the email as a series of bytes.
func (e Email) Bytes() []byte {
	return e.Buffer().Bytes()
}

// Buffer renders the email. Sections are emitted with text/plain first so
// clients fall back to it.
func (e Email) Buffer() *bytes.Buffer {
	crlf := "\r\n"
	b := bytes.NewBuffer(nil)

	date := e.Date
	if date.IsZero() {
		date = time.Now()
	}
	b.WriteString("Date: " + date.UTC().Format(time.RFC822) + crlf)
	if e.From != "" {
		b.WriteString("From: " + e.From + crlf)
	}
	if e.To != "" {
		b.WriteString("To: " + e.To + crlf)
	}
	if e.Subject != "" {
		b.WriteString("Subject: " + e.Subject + crlf)
	}
	b.WriteString("MIME-Version: 1.0" + crlf)

	types := make([]string, 0, len(e.Body))
	for ct := range e.Body {
		types = append(types, ct)
	}
	sort.Slice(types, func(i, j int) bool {
		// text/plain sorts ahead of everything else
		if types[i] == "text/plain" || types[j] == "text/plain" {
			return types[i] == "text/plain"
		}
		return types[i] < types[j]
	})

	if len(types) <= 1 {
		ct := "text/plain"
		if len(types) == 1 {
			ct = types[0]
		}
		b.WriteString("Content-Type: " + ct + "; charset=\"UTF-8\";" + crlf + crlf)
		if len(types) == 1 {
			b.WriteString(e.Body[ct] + crlf)
		}
		return b
	}

	boundary := newBoundary()
	b.WriteString("Content-Type: multipart/alternative; boundary=" +
		boundary + crlf + crlf)
	for _, ct := range types {
		b.WriteString("--" + boundary + crlf)
		b.WriteString("Content-Type: " + ct + "; charset=\"UTF-8\";" + crlf + crlf)
		b.WriteString(e.Body[ct] + crlf)
	}
	b.WriteString("--" + boundary + "--" + crlf)
	return b
}

func newBoundary() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return fmt.Sprintf("%x", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf[:])
}

// DefaultComposer writes a plain text and HTML mail containing the redeem
// link.
func DefaultComposer(from, subject string) ComposerFunc {
	return func(ctx context.Context, d Delivery, w io.Writer) error {
		e := Email{
			To:      d.Recipient,
			From:    from,
			Subject: subject,
		}
		e.AddBody("text/plain", "Use the following link to sign in into the application: "+d.RedeemURL)
		e.AddBody("text/html", `<p>Use the following link to sign in into the application: <a href="`+
			d.RedeemURL+`">Sign in</a></p>`)
		_, err := e.Write(w)
		return err
	}
}

// SMTPTransport delivers a user token via e-mail.
type SMTPTransport struct {
	UseSSL   bool
	auth     smtp.Auth
	from     string
	addr     string
	composer ComposerFunc
}

// NewSMTPTransport returns a new transport capable of sending emails via
// SMTP. `addr` should be in the form "host:port" of the email server. A nil
// composer uses DefaultComposer with DefaultSubject.
func NewSMTPTransport(addr, from string, auth smtp.Auth, c ComposerFunc) *SMTPTransport {
	if c == nil {
		c = DefaultComposer(from, DefaultSubject)
	}
	return &SMTPTransport{
		addr:     addr,
		auth:     auth,
		from:     from,
		composer: c,
	}
}

// Send sends an email to the address in `d.Recipient` containing the
// redeem link.
func (t *SMTPTransport) Send(ctx context.Context, d Delivery) error {
	host, _, err := net.SplitHostPort(t.addr)
	if err != nil {
		return fmt.Errorf("smtp address %q: %w", t.addr, err)
	}

	dialer := &net.Dialer{Timeout: 10 * time.Second}
	var conn net.Conn
	if t.UseSSL {
		td := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{ServerName: host}}
		conn, err = td.DialContext(ctx, "tcp", t.addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", t.addr)
	}
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			conn.Close()
			return fmt.Errorf("set smtp deadline: %w", err)
		}
	}

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	// Use STARTTLS if available
	if !t.UseSSL {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
				return err
			}
		}
	}

	// Use auth credentials if supported and provided
	if ok, _ := c.Extension("AUTH"); ok && t.auth != nil {
		if err := c.Auth(t.auth); err != nil {
			return err
		}
	}

	if err := c.Mail(t.from); err != nil {
		return err
	}
	if err := c.Rcpt(d.Recipient); err != nil {
		return err
	}

	w, err := c.Data()
	if err != nil {
		return err
	}
	if err := t.composer(ctx, d, w); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}
