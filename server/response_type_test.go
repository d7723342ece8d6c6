package server

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/giantswarm/oauth2-server/internal/testutil"
)

func TestCodeResponseType(t *testing.T) {
	srv, store, clock := setupTestServer(t, nil)
	ctx := context.Background()

	resp, err := srv.HandleAuthorize(ctx, &AuthorizeRequest{
		ResponseType: "code",
		ClientID:     testutil.DemoClient3,
		RedirectURI:  testutil.DemoRedirect3 + "?tenant=a",
		Scope:        "demoscope2 demoscope1",
		State:        "xyz 123",
	}, ResourceOwner{Username: testutil.DemoUser3})
	testutil.AssertNoError(t, err)

	u, err := url.Parse(resp.Location)
	testutil.AssertNoError(t, err)

	if got := u.Scheme + "://" + u.Host + u.Path; got != testutil.DemoRedirect3 {
		t.Errorf("redirect target = %q, want %q", got, testutil.DemoRedirect3)
	}
	q := u.Query()
	if q.Get("tenant") != "a" {
		t.Errorf("existing query parameter lost: %q", resp.Location)
	}
	if q.Get("state") != "xyz 123" {
		t.Errorf("state = %q, want %q", q.Get("state"), "xyz 123")
	}
	if u.Fragment != "" {
		t.Errorf("code response must not use a fragment: %q", resp.Location)
	}

	code, err := store.GetCode(ctx, q.Get("code"))
	testutil.AssertNoError(t, err)

	if code.ClientID != testutil.DemoClient3 || code.Username != testutil.DemoUser3 {
		t.Errorf("code bound to %q/%q", code.ClientID, code.Username)
	}
	if code.RedirectURI != testutil.DemoRedirect3+"?tenant=a" {
		t.Errorf("code redirect URI = %q", code.RedirectURI)
	}
	if strings.Join(code.Scopes, " ") != "demoscope2 demoscope1" {
		t.Errorf("code scopes = %v", code.Scopes)
	}
	if want := clock.Now().Add(srv.Config.codeTTL()); !code.ExpiresAt.Equal(want) {
		t.Errorf("code expires at %v, want %v", code.ExpiresAt, want)
	}
}

func TestTokenResponseType(t *testing.T) {
	srv, store, _ := setupTestServer(t, nil)
	ctx := context.Background()

	resp, err := srv.HandleAuthorize(ctx, &AuthorizeRequest{
		ResponseType: "token",
		ClientID:     testutil.DemoClient2,
		Scope:        "demoscope1",
		State:        "abc",
	}, ResourceOwner{Username: testutil.DemoUser2})
	testutil.AssertNoError(t, err)

	prefix := testutil.DemoRedirect2 + "#"
	if !strings.HasPrefix(resp.Location, prefix) {
		t.Fatalf("Location = %q, want prefix %q", resp.Location, prefix)
	}

	params, err := url.ParseQuery(strings.TrimPrefix(resp.Location, prefix))
	testutil.AssertNoError(t, err)

	want := map[string]string{
		"token_type": "bearer",
		"expires_in": "3600",
		"scope":      "demoscope1",
		"state":      "abc",
	}
	for k, v := range want {
		if params.Get(k) != v {
			t.Errorf("%s = %q, want %q", k, params.Get(k), v)
		}
	}
	if params.Has("refresh_token") {
		t.Error("implicit flow must not issue a refresh token")
	}

	token, err := store.GetAccessToken(ctx, params.Get("access_token"))
	testutil.AssertNoError(t, err)
	if token.ClientID != testutil.DemoClient2 || token.Username != testutil.DemoUser2 {
		t.Errorf("token bound to %q/%q", token.ClientID, token.Username)
	}
}

func TestResponseType_EmptyScope(t *testing.T) {
	srv, _, _ := setupTestServer(t, nil)

	resp, err := srv.HandleAuthorize(context.Background(), &AuthorizeRequest{
		ResponseType: "token",
		ClientID:     testutil.DemoClient1,
	}, ResourceOwner{Username: testutil.DemoUser1})
	testutil.AssertNoError(t, err)

	if resp.Scopes != nil {
		t.Errorf("Scopes = %v, want none", resp.Scopes)
	}
	if !strings.Contains(resp.Location, "scope=&") && !strings.HasSuffix(resp.Location, "scope=") {
		t.Errorf("Location %q must carry an empty scope", resp.Location)
	}
}

func TestResponseType_Errors(t *testing.T) {
	tests := []struct {
		name          string
		config        *Config
		req           AuthorizeRequest
		owner         string
		wantKind      Kind
		wantRedirect  bool
		wantFragment  bool
		wantLocPrefix string
	}{
		{
			name:     "unauthenticated owner",
			req:      AuthorizeRequest{ResponseType: "code", ClientID: testutil.DemoClient1},
			wantKind: KindInvalidRequest,
		},
		{
			name:     "missing client_id",
			req:      AuthorizeRequest{ResponseType: "code"},
			owner:    testutil.DemoUser1,
			wantKind: KindInvalidRequest,
		},
		{
			name:     "unknown client",
			req:      AuthorizeRequest{ResponseType: "code", ClientID: "http://unknown.example/"},
			owner:    testutil.DemoUser1,
			wantKind: KindInvalidClient,
		},
		{
			name:     "unknown client reported as invalid_request",
			config:   &Config{UnknownClientError: KindInvalidRequest},
			req:      AuthorizeRequest{ResponseType: "code", ClientID: "http://unknown.example/"},
			owner:    testutil.DemoUser1,
			wantKind: KindInvalidRequest,
		},
		{
			name: "redirect_uri outside the registered prefix",
			req: AuthorizeRequest{
				ResponseType: "code",
				ClientID:     testutil.DemoClient1,
				RedirectURI:  "http://evil.example/redirect_uri",
			},
			owner:    testutil.DemoUser1,
			wantKind: KindInvalidRequest,
		},
		{
			name:     "no redirect_uri anywhere",
			req:      AuthorizeRequest{ResponseType: "code", ClientID: testutil.DemoClient4},
			owner:    testutil.DemoUser1,
			wantKind: KindInvalidRequest,
		},
		{
			name: "unauthorized scope redirects",
			req: AuthorizeRequest{
				ResponseType: "code",
				ClientID:     testutil.DemoClient1,
				Scope:        "demoscope2",
				State:        "s1",
			},
			owner:         testutil.DemoUser1,
			wantKind:      KindInvalidScope,
			wantRedirect:  true,
			wantLocPrefix: testutil.DemoRedirect1 + "?",
		},
		{
			name: "unauthorized scope uses the fragment for token",
			req: AuthorizeRequest{
				ResponseType: "token",
				ClientID:     testutil.DemoClient1,
				Scope:        "demoscope3",
			},
			owner:         testutil.DemoUser1,
			wantKind:      KindInvalidScope,
			wantRedirect:  true,
			wantFragment:  true,
			wantLocPrefix: testutil.DemoRedirect1 + "#",
		},
		{
			name: "malformed state redirects without it",
			req: AuthorizeRequest{
				ResponseType: "code",
				ClientID:     testutil.DemoClient1,
				State:        "bad\nstate",
			},
			owner:         testutil.DemoUser1,
			wantKind:      KindInvalidRequest,
			wantRedirect:  true,
			wantLocPrefix: testutil.DemoRedirect1 + "?",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, _ := setupTestServer(t, tt.config)

			_, err := srv.HandleAuthorize(context.Background(), &tt.req, ResourceOwner{Username: tt.owner})
			assertKind(t, err, tt.wantKind)

			var redirectErr *RedirectError
			isRedirect := errors.As(err, &redirectErr)
			if isRedirect != tt.wantRedirect {
				t.Fatalf("redirect error = %v, want %v", isRedirect, tt.wantRedirect)
			}
			if !isRedirect {
				return
			}

			if redirectErr.Fragment != tt.wantFragment {
				t.Errorf("Fragment = %v, want %v", redirectErr.Fragment, tt.wantFragment)
			}
			loc := redirectErr.Location()
			if !strings.HasPrefix(loc, tt.wantLocPrefix) {
				t.Errorf("Location() = %q, want prefix %q", loc, tt.wantLocPrefix)
			}
			if !strings.Contains(loc, "error="+tt.wantKind.Code()) {
				t.Errorf("Location() = %q, missing error code", loc)
			}
			if tt.req.State != "" && Validate(ParamState, tt.req.State) &&
				!strings.Contains(loc, "state="+url.QueryEscape(tt.req.State)) {
				t.Errorf("Location() = %q, missing state", loc)
			}
		})
	}
}

func TestResponseType_IssueFailureRedirects(t *testing.T) {
	srv, _, _ := setupTestServer(t, nil)
	srv.issuer.random = strings.NewReader("")

	_, err := srv.HandleAuthorize(context.Background(), &AuthorizeRequest{
		ResponseType: "code",
		ClientID:     testutil.DemoClient1,
		State:        "s",
	}, ResourceOwner{Username: testutil.DemoUser1})
	assertKind(t, err, KindServerError)

	var redirectErr *RedirectError
	if !errors.As(err, &redirectErr) {
		t.Fatal("issue failure after redirect resolution must redirect")
	}
	if strings.Contains(redirectErr.Location(), "EOF") {
		t.Errorf("Location() %q leaks the cause", redirectErr.Location())
	}
}
