package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"net/url"
	"strings"

	"golang.org/x/crypto/hkdf"

	"github.com/saiset-co/sai-web/types"
)

const (
	signedPrefix  = "s:"
	signingInfo   = "sai-web cookie signature"
	signingKeyLen = 32
)

// CookieSigner signs cookie values as "s:<value>.<mac>" with a key derived
// from the session secret.
type CookieSigner struct {
	key []byte
}

func NewCookieSigner(secret string) (*CookieSigner, error) {
	if secret == "" {
		return nil, types.ErrSecretEmpty
	}

	key := make([]byte, signingKeyLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(signingInfo)), key); err != nil {
		return nil, types.WrapError(err, "failed to derive cookie signing key")
	}

	return &CookieSigner{key: key}, nil
}

func (s *CookieSigner) Sign(value string) string {
	return signedPrefix + value + "." + s.mac(value)
}

// Unsign returns the original value when raw carries a valid signature.
func (s *CookieSigner) Unsign(raw string) (string, bool) {
	if !strings.HasPrefix(raw, signedPrefix) {
		return "", false
	}
	raw = raw[len(signedPrefix):]

	dot := strings.LastIndexByte(raw, '.')
	if dot < 0 {
		return "", false
	}

	value, sig := raw[:dot], raw[dot+1:]
	if !hmac.Equal([]byte(sig), []byte(s.mac(value))) {
		return "", false
	}
	return value, true
}

func (s *CookieSigner) mac(value string) string {
	h := hmac.New(sha256.New, s.key)
	h.Write([]byte(value))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// CookieParser fills ctx.Cookies and ctx.SignedCookies. Signed cookies with
// a bad signature are dropped.
type CookieParser struct {
	signer *CookieSigner
}

func NewCookieParser(secret string) (types.Stage, error) {
	signer, err := NewCookieSigner(secret)
	if err != nil {
		return nil, err
	}
	return &CookieParser{signer: signer}, nil
}

func (p *CookieParser) Name() string { return StageCookieParser }

func (p *CookieParser) Handle(ctx *types.RequestCtx) error {
	ctx.Request.Header.VisitAllCookie(func(key, value []byte) {
		name := string(key)
		raw := string(value)
		if decoded, err := url.QueryUnescape(raw); err == nil {
			raw = decoded
		}

		if !strings.HasPrefix(raw, signedPrefix) {
			ctx.Cookies[name] = raw
			return
		}

		if unsigned, ok := p.signer.Unsign(raw); ok {
			ctx.SignedCookies[name] = unsigned
		}
	})

	return nil
}
