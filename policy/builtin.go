package policy

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/saiset-co/sai-web/types"
)

const (
	TokenPolicy = "token"
	BasicPolicy = "basic"
)

// Token accepts requests carrying the expected token in the Token header
// or as a Bearer/Token Authorization credential.
func Token(expected string) types.Policy {
	return func(ctx *types.RequestCtx) error {
		token := extractToken(ctx)
		if token == "" {
			return Unauthorized("token required")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
			return Unauthorized("invalid token")
		}
		ctx.Locals["auth_type"] = TokenPolicy
		return nil
	}
}

func extractToken(ctx *types.RequestCtx) string {
	if token := string(ctx.Request.Header.Peek("Token")); token != "" {
		return token
	}

	header := string(ctx.Request.Header.Peek("Authorization"))
	for _, scheme := range []string{"Bearer ", "Token "} {
		if strings.HasPrefix(header, scheme) {
			return strings.TrimPrefix(header, scheme)
		}
	}
	return header
}

// Basic checks HTTP basic credentials and sends a challenge on failure.
func Basic(username, password, realm string) types.Policy {
	if realm == "" {
		realm = "Protected Area"
	}
	challenge := fmt.Sprintf(`Basic realm=%q`, realm)

	return func(ctx *types.RequestCtx) error {
		user, pass, ok := basicCredentials(string(ctx.Request.Header.Peek("Authorization")))
		if !ok {
			ctx.Response.Header.Set("WWW-Authenticate", challenge)
			return Unauthorized("basic authentication required")
		}

		userOK := subtle.ConstantTimeCompare([]byte(user), []byte(username)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(password)) == 1
		if !userOK || !passOK {
			ctx.Response.Header.Set("WWW-Authenticate", challenge)
			return Unauthorized("invalid username or password")
		}

		ctx.Locals["authenticated_user"] = user
		ctx.Locals["auth_type"] = BasicPolicy
		return nil
	}
}

func basicCredentials(header string) (string, string, bool) {
	if !strings.HasPrefix(header, "Basic ") {
		return "", "", false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, "Basic "))
	if err != nil {
		return "", "", false
	}

	user, pass, found := strings.Cut(string(decoded), ":")
	return user, pass, found
}

// RegisterBuiltins adds the token and basic policies configured under auth.
func RegisterBuiltins(registry *Registry, cfg *types.AuthConfig) error {
	if cfg == nil {
		return nil
	}

	if cfg.Token != "" {
		if err := registry.Register(TokenPolicy, Token(cfg.Token)); err != nil {
			return err
		}
	}

	if cfg.Basic != nil {
		if err := registry.Register(BasicPolicy, Basic(cfg.Basic.Username, cfg.Basic.Password, cfg.Basic.Realm)); err != nil {
			return err
		}
	}

	return nil
}
