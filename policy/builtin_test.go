package policy

import (
	"encoding/base64"
	"net/http"
	"testing"

	"github.com/saiset-co/sai-web/types"
)

func TestTokenPolicy(t *testing.T) {
	policy := Token("secret")

	tests := []struct {
		name   string
		header string
		value  string
		status int
	}{
		{"token header", "Token", "secret", 0},
		{"bearer", "Authorization", "Bearer secret", 0},
		{"token scheme", "Authorization", "Token secret", 0},
		{"wrong token", "Token", "nope", http.StatusUnauthorized},
		{"missing", "", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := newRequest()
			if tt.header != "" {
				ctx.Request.Header.Set(tt.header, tt.value)
			}

			err := policy(ctx)
			if tt.status == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if ctx.Locals["auth_type"] != TokenPolicy {
					t.Errorf("auth_type = %v", ctx.Locals["auth_type"])
				}
				return
			}
			if types.StatusOf(err) != tt.status {
				t.Errorf("status = %d, want %d (%v)", types.StatusOf(err), tt.status, err)
			}
		})
	}
}

func TestBasicPolicy(t *testing.T) {
	policy := Basic("admin", "pass", "")

	encode := func(s string) string {
		return "Basic " + base64.StdEncoding.EncodeToString([]byte(s))
	}

	ctx := newRequest()
	ctx.Request.Header.Set("Authorization", encode("admin:pass"))
	if err := policy(ctx); err != nil {
		t.Fatalf("valid credentials: %v", err)
	}
	if ctx.Locals["authenticated_user"] != "admin" {
		t.Errorf("authenticated_user = %v", ctx.Locals["authenticated_user"])
	}

	for _, header := range []string{"", "Basic !!!", encode("admin"), encode("admin:wrong")} {
		ctx := newRequest()
		if header != "" {
			ctx.Request.Header.Set("Authorization", header)
		}
		err := policy(ctx)
		if types.StatusOf(err) != http.StatusUnauthorized {
			t.Errorf("header %q: err = %v", header, err)
		}
		if got := string(ctx.Response.Header.Peek("WWW-Authenticate")); got != `Basic realm="Protected Area"` {
			t.Errorf("header %q: challenge = %q", header, got)
		}
	}
}

func TestRegisterBuiltins(t *testing.T) {
	registry := NewRegistry()
	cfg := &types.AuthConfig{
		Token: "secret",
		Basic: &types.BasicAuthConfig{Username: "u", Password: "p"},
	}

	if err := RegisterBuiltins(registry, cfg); err != nil {
		t.Fatalf("register: %v", err)
	}
	names := registry.Names()
	if len(names) != 2 || names[0] != BasicPolicy || names[1] != TokenPolicy {
		t.Errorf("names = %v", names)
	}

	if err := RegisterBuiltins(NewRegistry(), nil); err != nil {
		t.Errorf("nil config: %v", err)
	}
}
