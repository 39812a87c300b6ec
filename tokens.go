package passwordless

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strings"
)

// MinTokenEntropy is the minimum number of random bits a generated token
// must carry.
const MinTokenEntropy = 128

var (
	crockfordBytes = []byte("0123456789abcdefghjkmnpqrstvwxyz")

	ErrWeakGenerator = errors.New("token generator yields fewer than 128 bits of entropy")
)

// TokenGenerator defines an interface for generating and sanitising
// cryptographically-secure tokens.
type TokenGenerator interface {
	// Generate should return a token and nil error on success, or an empty
	// string and error on failure.
	Generate(ctx context.Context) (string, error)

	// Sanitize should take a user provided input and sanitize it such that
	// it can be passed to a function that expects the same input as
	// `Generate()`. Useful for cases where the token may be subject to
	// minor transcription errors by a user. (e.g. 0 == O)
	Sanitize(ctx context.Context, s string) (string, error)

	// Entropy returns the number of random bits in each generated token.
	Entropy() int
}

// URLSafeGenerator generates tokens from `Length` random bytes encoded with
// unpadded base64url, so they can be placed in a query string unescaped.
type URLSafeGenerator struct {
	Length int
}

// NewURLSafeGenerator returns a URLSafeGenerator reading `n` random bytes
// per token.
func NewURLSafeGenerator(n int) *URLSafeGenerator {
	return &URLSafeGenerator{Length: n}
}

func (g URLSafeGenerator) Generate(ctx context.Context) (string, error) {
	b := make([]byte, g.Length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Sanitize trims surrounding whitespace, which mail clients tend to add
// when a link is copied by hand.
func (g URLSafeGenerator) Sanitize(ctx context.Context, s string) (string, error) {
	return strings.TrimSpace(s), nil
}

func (g URLSafeGenerator) Entropy() int {
	return g.Length * 8
}

// ByteGenerator generates random sequences of bytes from the specified set
// of the specified length.
type ByteGenerator struct {
	Bytes  []byte
	Length int
}

// NewByteGenerator creates and returns a ByteGenerator.
func NewByteGenerator(b []byte, l int) *ByteGenerator {
	return &ByteGenerator{
		Bytes:  b,
		Length: l,
	}
}

// Generate returns a string generated from random bytes of the configured
// set, of the given length. An error may be returned if there is insufficient
// entropy to generate a result.
func (g ByteGenerator) Generate(ctx context.Context) (string, error) {
	b, err := randBytes(g.Bytes, g.Length)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (g ByteGenerator) Sanitize(ctx context.Context, s string) (string, error) {
	return strings.TrimSpace(s), nil
}

func (g ByteGenerator) Entropy() int {
	if len(g.Bytes) < 2 {
		return 0
	}
	return int(float64(g.Length) * math.Log2(float64(len(g.Bytes))))
}

// CrockfordGenerator generates random tokens using Douglas Crockford's base
// 32 alphabet which limits characters of similar appearances. The
// Sanitize method of this generator will deal with transcribing incorrect
// characters back to the correct value.
type CrockfordGenerator struct {
	Length int
}

// NewCrockfordGenerator returns a new Crockford token generator that creates
// tokens of the specified length.
func NewCrockfordGenerator(l int) *CrockfordGenerator {
	return &CrockfordGenerator{l}
}

func (g CrockfordGenerator) Generate(ctx context.Context) (string, error) {
	b, err := randBytes(crockfordBytes, g.Length)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Sanitize attempts to translate strings back to the correct Crockford
// alphabet, in case of user transcribe errors.
func (g CrockfordGenerator) Sanitize(ctx context.Context, s string) (string, error) {
	bs := []byte(strings.ToLower(strings.TrimSpace(s)))
	for i, b := range bs {
		if b == 'i' || b == 'l' || b == '|' {
			bs[i] = '1'
		} else if b == 'o' {
			bs[i] = '0'
		}
	}
	return string(bs), nil
}

func (g CrockfordGenerator) Entropy() int {
	return g.Length * 5
}

// checkEntropy rejects generators too weak for login links.
func checkEntropy(g TokenGenerator) error {
	if bits := g.Entropy(); bits < MinTokenEntropy {
		return fmt.Errorf("%w: got %d bits", ErrWeakGenerator, bits)
	}
	return nil
}

// randBytes returns a random array of bytes picked uniformly from `p` of
// length `n`.
func randBytes(p []byte, n int) ([]byte, error) {
	if len(p) == 0 || len(p) > 256 {
		return nil, errors.New("randBytes requires a pool of 1 to 256 items")
	}
	c := len(p)
	// Reject bytes above the largest multiple of c to avoid modulo bias.
	limit := 256 - 256%c
	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return nil, err
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, p[int(b)%c])
			if len(out) == n {
				break
			}
		}
	}
	return out, nil
}
