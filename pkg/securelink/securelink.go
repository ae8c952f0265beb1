package securelink

import (
	"crypto/rand"
	"fmt"
	"io"
	"net/url"
	"strings"
)

const (
	// TokenLength is the number of characters in a generated token.
	TokenLength = 64
	alphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	// largest multiple of len(alphabet) that fits in a byte; bytes above are rejected
	maxUnbiased = 256 - (256 % len(alphabet))
	downloadDir = "secure-download"
)

// Generator produces opaque download tokens and the public URLs that carry them.
type Generator struct {
	baseURL string
	random  io.Reader
}

// NewGenerator builds a generator for links rooted at baseURL.
func NewGenerator(baseURL string) *Generator {
	return &Generator{baseURL: strings.TrimRight(baseURL, "/"), random: rand.Reader}
}

// Token returns a fresh random token drawn uniformly from [A-Za-z0-9].
func (g *Generator) Token() (string, error) {
	out := make([]byte, 0, TokenLength)
	buf := make([]byte, TokenLength*2)
	for len(out) < TokenLength {
		if _, err := io.ReadFull(g.random, buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= maxUnbiased {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == TokenLength {
				break
			}
		}
	}
	return string(out), nil
}

// URL composes https://<host>/secure-download/<token>?email=<recipient>.
// The email parameter only pre-fills the verification form.
func (g *Generator) URL(token, recipientEmail string) string {
	return fmt.Sprintf("%s/%s/%s?email=%s", g.baseURL, downloadDir, url.PathEscape(token), url.QueryEscape(recipientEmail))
}

// ValidFormat reports whether raw has the shape of a generated token.
func ValidFormat(raw string) bool {
	if len(raw) != TokenLength {
		return false
	}
	for i := 0; i < len(raw); i++ {
		if !strings.ContainsRune(alphabet, rune(raw[i])) {
			return false
		}
	}
	return true
}
