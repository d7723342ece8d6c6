package server

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/giantswarm/oauth2-server/internal/testutil"
	"github.com/giantswarm/oauth2-server/storage"
	"github.com/giantswarm/oauth2-server/storage/mock"
)

func TestAuthorizationCodeGrant(t *testing.T) {
	srv, store, _ := setupTestServer(t, nil)
	ctx := context.Background()

	code := authorizeCode(t, srv, testutil.DemoClient2, testutil.DemoUser2, "demoscope2 demoscope1")

	resp, err := srv.HandleToken(ctx, &TokenRequest{GrantType: "authorization_code", Code: code},
		basicCredentials(testutil.DemoClient2, testutil.DemoSecret2))
	testutil.AssertNoError(t, err)

	if resp.TokenType != "bearer" {
		t.Errorf("TokenType = %q, want bearer", resp.TokenType)
	}
	if resp.ExpiresIn != DefaultAccessTokenTTL {
		t.Errorf("ExpiresIn = %d, want %d", resp.ExpiresIn, DefaultAccessTokenTTL)
	}
	if resp.Scope != "demoscope2 demoscope1" {
		t.Errorf("Scope = %q", resp.Scope)
	}
	if resp.RefreshToken == "" {
		t.Error("authorization_code must issue a refresh token")
	}

	access, err := store.GetAccessToken(ctx, resp.AccessToken)
	testutil.AssertNoError(t, err)
	if access.Username != testutil.DemoUser2 || access.ClientID != testutil.DemoClient2 {
		t.Errorf("access token bound to %q/%q", access.ClientID, access.Username)
	}

	refresh, err := store.GetRefreshToken(ctx, resp.RefreshToken)
	testutil.AssertNoError(t, err)
	if refresh.Username != testutil.DemoUser2 {
		t.Errorf("refresh token username = %q", refresh.Username)
	}

	if _, err := store.GetCode(ctx, code); !errors.Is(err, storage.ErrCodeNotFound) {
		t.Errorf("code still present after redemption: %v", err)
	}
}

func TestAuthorizationCodeGrant_SingleUse(t *testing.T) {
	srv, _, _ := setupTestServer(t, nil)
	ctx := context.Background()
	creds := basicCredentials(testutil.DemoClient1, testutil.DemoSecret1)

	code := authorizeCode(t, srv, testutil.DemoClient1, testutil.DemoUser1, "demoscope1")

	_, err := srv.HandleToken(ctx, &TokenRequest{GrantType: "authorization_code", Code: code}, creds)
	testutil.AssertNoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = srv.HandleToken(ctx, &TokenRequest{GrantType: "authorization_code", Code: code}, creds)
		assertKind(t, err, KindInvalidGrant)
	}
}

func TestAuthorizationCodeGrant_ConcurrentRedemption(t *testing.T) {
	srv, _, _ := setupTestServer(t, nil)
	creds := basicCredentials(testutil.DemoClient1, testutil.DemoSecret1)
	code := authorizeCode(t, srv, testutil.DemoClient1, testutil.DemoUser1, "demoscope1")

	const workers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  []error
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := srv.HandleToken(context.Background(), &TokenRequest{GrantType: "authorization_code", Code: code}, creds)

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else {
				failures = append(failures, err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("successful redemptions = %d, want exactly 1", successes)
	}
	for _, err := range failures {
		assertKind(t, err, KindInvalidGrant)
	}
}

func TestAuthorizationCodeGrant_LostConsumeRace(t *testing.T) {
	store := mock.New(testutil.NewSeededStore(t))
	srv, _ := setupTestServerWithStore(t, store, nil)
	code := authorizeCode(t, srv, testutil.DemoClient1, testutil.DemoUser1, "")

	store.ConsumeCodeFunc = func(context.Context, string) error {
		return storage.ErrCodeNotFound
	}

	_, err := srv.HandleToken(context.Background(), &TokenRequest{GrantType: "authorization_code", Code: code},
		basicCredentials(testutil.DemoClient1, testutil.DemoSecret1))
	assertKind(t, err, KindInvalidGrant)

	if got := store.CallCount("SaveAccessToken"); got != 0 {
		t.Errorf("SaveAccessToken called %d times after losing the race", got)
	}
}

func TestAuthorizationCodeGrant_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(req *TokenRequest)
		creds   ClientCredentials
		advance time.Duration
		want    Kind
	}{
		{
			name:   "missing code",
			mutate: func(req *TokenRequest) { req.Code = "" },
			creds:  basicCredentials(testutil.DemoClient1, testutil.DemoSecret1),
			want:   KindInvalidRequest,
		},
		{
			name:   "malformed code",
			mutate: func(req *TokenRequest) { req.Code = "abc" },
			creds:  basicCredentials(testutil.DemoClient1, testutil.DemoSecret1),
			want:   KindInvalidRequest,
		},
		{
			name:   "unknown code",
			mutate: func(req *TokenRequest) { req.Code = "0123456789abcdef0123456789abcdef" },
			creds:  basicCredentials(testutil.DemoClient1, testutil.DemoSecret1),
			want:   KindInvalidGrant,
		},
		{
			name:  "code issued to another client",
			creds: basicCredentials(testutil.DemoClient2, testutil.DemoSecret2),
			want:  KindInvalidGrant,
		},
		{
			name:    "expired code",
			creds:   basicCredentials(testutil.DemoClient1, testutil.DemoSecret1),
			advance: time.Duration(DefaultAuthorizationCodeTTL+1) * time.Second,
			want:    KindInvalidGrant,
		},
		{
			name:   "redirect_uri differs from the one bound to the code",
			mutate: func(req *TokenRequest) { req.RedirectURI = testutil.DemoRedirect1 + "/other" },
			creds:  basicCredentials(testutil.DemoClient1, testutil.DemoSecret1),
			want:   KindInvalidGrant,
		},
		{
			name:   "redirect_uri outside the registered prefix",
			mutate: func(req *TokenRequest) { req.RedirectURI = "http://evil.example/" },
			creds:  basicCredentials(testutil.DemoClient1, testutil.DemoSecret1),
			want:   KindInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, store, clock := setupTestServer(t, nil)
			code := authorizeCode(t, srv, testutil.DemoClient1, testutil.DemoUser1, "demoscope1")
			clock.Advance(tt.advance)

			req := &TokenRequest{GrantType: "authorization_code", Code: code}
			if tt.mutate != nil {
				tt.mutate(req)
			}

			_, err := srv.HandleToken(context.Background(), req, tt.creds)
			assertKind(t, err, tt.want)

			// Any code that reached lookup is gone, whatever the outcome.
			if req.Code == code {
				if _, err := store.GetCode(context.Background(), code); !errors.Is(err, storage.ErrCodeNotFound) {
					t.Errorf("code survived a failed exchange: %v", err)
				}
			}
		})
	}
}

func TestAuthorizationCodeGrant_ExplicitRedirectURI(t *testing.T) {
	srv, _, _ := setupTestServer(t, nil)
	ctx := context.Background()

	resp, err := srv.HandleAuthorize(ctx, &AuthorizeRequest{
		ResponseType: "code",
		ClientID:     testutil.DemoClient1,
		RedirectURI:  testutil.DemoRedirect1 + "/callback",
	}, ResourceOwner{Username: testutil.DemoUser1})
	testutil.AssertNoError(t, err)
	code := queryParam(t, resp.Location, "code")

	// Omitting redirect_uri resolves to the registered URI, which differs from the bound one.
	_, err = srv.HandleToken(ctx, &TokenRequest{GrantType: "authorization_code", Code: code},
		basicCredentials(testutil.DemoClient1, testutil.DemoSecret1))
	assertKind(t, err, KindInvalidGrant)

	resp, err = srv.HandleAuthorize(ctx, &AuthorizeRequest{
		ResponseType: "code",
		ClientID:     testutil.DemoClient1,
		RedirectURI:  testutil.DemoRedirect1 + "/callback",
	}, ResourceOwner{Username: testutil.DemoUser1})
	testutil.AssertNoError(t, err)
	code = queryParam(t, resp.Location, "code")

	_, err = srv.HandleToken(ctx, &TokenRequest{
		GrantType:   "authorization_code",
		Code:        code,
		RedirectURI: testutil.DemoRedirect1 + "/callback",
	}, basicCredentials(testutil.DemoClient1, testutil.DemoSecret1))
	testutil.AssertNoError(t, err)
}

func TestAuthorizationCodeGrant_UpstreamIdentity(t *testing.T) {
	srv, _, _ := setupTestServer(t, nil)
	code := authorizeCode(t, srv, testutil.DemoClient3, testutil.DemoUser3, "demoscope3")

	resp, err := srv.HandleToken(context.Background(), &TokenRequest{GrantType: "authorization_code", Code: code},
		ClientCredentials{Upstream: &ClientIdentity{ClientID: testutil.DemoClient3}})
	testutil.AssertNoError(t, err)

	if resp.Scope != "demoscope3" {
		t.Errorf("Scope = %q, want demoscope3", resp.Scope)
	}
}

func TestPasswordGrant(t *testing.T) {
	tests := []struct {
		name      string
		req       TokenRequest
		want      Kind
		wantScope string
	}{
		{
			name:      "valid credentials",
			req:       TokenRequest{Username: testutil.DemoUser3, Password: testutil.DemoPassword3, Scope: "demoscope1 demoscope3"},
			wantScope: "demoscope1 demoscope3",
		},
		{
			name: "no scope",
			req:  TokenRequest{Username: testutil.DemoUser3, Password: testutil.DemoPassword3},
		},
		{
			name: "missing username",
			req:  TokenRequest{Password: testutil.DemoPassword3},
			want: KindInvalidRequest,
		},
		{
			name: "missing password",
			req:  TokenRequest{Username: testutil.DemoUser3},
			want: KindInvalidRequest,
		},
		{
			name: "wrong password",
			req:  TokenRequest{Username: testutil.DemoUser3, Password: "wrong"},
			want: KindInvalidGrant,
		},
		{
			name: "unknown user",
			req:  TokenRequest{Username: "nobody", Password: "wrong"},
			want: KindInvalidGrant,
		},
		{
			name: "scope not authorized for this user",
			req:  TokenRequest{Username: testutil.DemoUser1, Password: testutil.DemoPassword1, Scope: "demoscope1"},
			want: KindInvalidScope,
		},
		{
			name: "unsupported scope",
			req:  TokenRequest{Username: testutil.DemoUser3, Password: testutil.DemoPassword3, Scope: "admin"},
			want: KindInvalidScope,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := mock.New(testutil.NewSeededStore(t))
			srv, _ := setupTestServerWithStore(t, store, nil)

			tt.req.GrantType = "password"
			resp, err := srv.HandleToken(context.Background(), &tt.req,
				basicCredentials(testutil.DemoClient3, testutil.DemoSecret3))

			if tt.want != 0 {
				assertKind(t, err, tt.want)
				if got := store.CallCount("SaveAccessToken") + store.CallCount("SaveRefreshToken"); got != 0 {
					t.Errorf("%d storage writes on a rejected request", got)
				}
				return
			}

			testutil.AssertNoError(t, err)
			if resp.Scope != tt.wantScope {
				t.Errorf("Scope = %q, want %q", resp.Scope, tt.wantScope)
			}
			if resp.RefreshToken == "" {
				t.Error("password grant must issue a refresh token")
			}
		})
	}
}

func TestClientCredentialsGrant(t *testing.T) {
	tests := []struct {
		name      string
		policy    ClientCredentialsScopePolicy
		clientID  string
		secret    string
		scope     string
		want      Kind
		wantScope string
	}{
		{
			name:      "authorized scopes",
			clientID:  testutil.DemoClient1,
			secret:    testutil.DemoSecret1,
			scope:     "demoscope3 demoscope1",
			wantScope: "demoscope3 demoscope1",
		},
		{
			name:     "client without its own consent",
			clientID: testutil.DemoClient2,
			secret:   testutil.DemoSecret2,
			scope:    "demoscope1",
			want:     KindInvalidScope,
		},
		{
			name:      "client without its own consent and no scope",
			clientID:  testutil.DemoClient2,
			secret:    testutil.DemoSecret2,
			wantScope: "",
		},
		{
			name:      "unrestricted policy allows any supported scope",
			policy:    ScopePolicyUnrestricted,
			clientID:  testutil.DemoClient2,
			secret:    testutil.DemoSecret2,
			scope:     "demoscope3",
			wantScope: "demoscope3",
		},
		{
			name:     "unrestricted policy still rejects unsupported scopes",
			policy:   ScopePolicyUnrestricted,
			clientID: testutil.DemoClient2,
			secret:   testutil.DemoSecret2,
			scope:    "admin",
			want:     KindInvalidScope,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, store, _ := setupTestServer(t, &Config{ClientCredentialsScopePolicy: tt.policy})

			resp, err := srv.HandleToken(context.Background(),
				&TokenRequest{GrantType: "client_credentials", Scope: tt.scope},
				basicCredentials(tt.clientID, tt.secret))
			if tt.want != 0 {
				assertKind(t, err, tt.want)
				return
			}
			testutil.AssertNoError(t, err)

			if resp.Scope != tt.wantScope {
				t.Errorf("Scope = %q, want %q", resp.Scope, tt.wantScope)
			}
			token, err := store.GetAccessToken(context.Background(), resp.AccessToken)
			testutil.AssertNoError(t, err)
			if token.Username != "" {
				t.Errorf("client_credentials token carries username %q", token.Username)
			}
		})
	}
}

func TestRefreshTokenGrant(t *testing.T) {
	creds := basicCredentials(testutil.DemoClient3, testutil.DemoSecret3)

	tests := []struct {
		name      string
		scope     string
		want      Kind
		wantScope string
	}{
		{name: "no scope keeps the original", wantScope: "demoscope1 demoscope2"},
		{name: "narrowed scope", scope: "demoscope2", wantScope: "demoscope2"},
		{name: "reordered scope", scope: "demoscope2 demoscope1", wantScope: "demoscope2 demoscope1"},
		{name: "widened scope", scope: "demoscope3", want: KindInvalidScope},
		{name: "malformed scope", scope: `demo"scope`, want: KindInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, _ := setupTestServer(t, nil)
			ctx := context.Background()

			issued, err := srv.HandleToken(ctx, &TokenRequest{
				GrantType: "password",
				Username:  testutil.DemoUser3,
				Password:  testutil.DemoPassword3,
				Scope:     "demoscope1 demoscope2",
			}, creds)
			testutil.AssertNoError(t, err)

			resp, err := srv.HandleToken(ctx, &TokenRequest{
				GrantType:    "refresh_token",
				RefreshToken: issued.RefreshToken,
				Scope:        tt.scope,
			}, creds)
			if tt.want != 0 {
				assertKind(t, err, tt.want)
				return
			}
			testutil.AssertNoError(t, err)

			if resp.Scope != tt.wantScope {
				t.Errorf("Scope = %q, want %q", resp.Scope, tt.wantScope)
			}
			if resp.AccessToken == issued.AccessToken {
				t.Error("refresh must issue a new access token")
			}
			if resp.RefreshToken != issued.RefreshToken {
				t.Error("refresh token must be echoed when rotation is disabled")
			}
		})
	}
}

func TestRefreshTokenGrant_Rotation(t *testing.T) {
	srv, store, _ := setupTestServer(t, &Config{RotateRefreshTokens: true})
	ctx := context.Background()
	creds := basicCredentials(testutil.DemoClient1, testutil.DemoSecret1)

	issued, err := srv.HandleToken(ctx, &TokenRequest{GrantType: "client_credentials", Scope: "demoscope1 demoscope2"}, creds)
	testutil.AssertNoError(t, err)

	resp, err := srv.HandleToken(ctx, &TokenRequest{
		GrantType:    "refresh_token",
		RefreshToken: issued.RefreshToken,
		Scope:        "demoscope1",
	}, creds)
	testutil.AssertNoError(t, err)

	if resp.RefreshToken == issued.RefreshToken {
		t.Fatal("rotation must issue a new refresh token")
	}
	if _, err := store.GetRefreshToken(ctx, issued.RefreshToken); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("old refresh token still present: %v", err)
	}

	// The replacement keeps the original grant.
	rotated, err := store.GetRefreshToken(ctx, resp.RefreshToken)
	testutil.AssertNoError(t, err)
	if len(rotated.Scopes) != 2 {
		t.Errorf("rotated refresh token scopes = %v, want the original two", rotated.Scopes)
	}

	_, err = srv.HandleToken(ctx, &TokenRequest{GrantType: "refresh_token", RefreshToken: issued.RefreshToken}, creds)
	assertKind(t, err, KindInvalidGrant)
}

func TestRefreshTokenGrant_ConcurrentRotation(t *testing.T) {
	srv, _, _ := setupTestServer(t, &Config{RotateRefreshTokens: true})
	creds := basicCredentials(testutil.DemoClient1, testutil.DemoSecret1)

	issued, err := srv.HandleToken(context.Background(), &TokenRequest{GrantType: "client_credentials"}, creds)
	testutil.AssertNoError(t, err)

	const workers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  []error
	)

	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := srv.HandleToken(context.Background(),
				&TokenRequest{GrantType: "refresh_token", RefreshToken: issued.RefreshToken}, creds)

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else {
				failures = append(failures, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if successes != 1 {
		t.Fatalf("successful rotations = %d, want exactly 1", successes)
	}
	for _, err := range failures {
		assertKind(t, err, KindInvalidGrant)
	}
}

func TestRefreshTokenGrant_LostRotationRace(t *testing.T) {
	store := mock.New(testutil.NewSeededStore(t))
	srv, _ := setupTestServerWithStore(t, store, &Config{RotateRefreshTokens: true})
	ctx := context.Background()
	creds := basicCredentials(testutil.DemoClient1, testutil.DemoSecret1)

	issued, err := srv.HandleToken(ctx, &TokenRequest{GrantType: "client_credentials"}, creds)
	testutil.AssertNoError(t, err)

	store.ConsumeRefreshTokenFunc = func(context.Context, string) error {
		return storage.ErrTokenNotFound
	}
	saved := store.CallCount("SaveAccessToken")

	_, err = srv.HandleToken(ctx, &TokenRequest{GrantType: "refresh_token", RefreshToken: issued.RefreshToken}, creds)
	assertKind(t, err, KindInvalidGrant)

	if got := store.CallCount("SaveAccessToken"); got != saved {
		t.Errorf("SaveAccessToken called %d more times after losing the race", got-saved)
	}
}

func TestRefreshTokenGrant_Errors(t *testing.T) {
	tests := []struct {
		name    string
		token   func(issued string) string
		creds   ClientCredentials
		advance time.Duration
		want    Kind
	}{
		{
			name:  "missing refresh_token",
			token: func(string) string { return "" },
			creds: basicCredentials(testutil.DemoClient1, testutil.DemoSecret1),
			want:  KindInvalidRequest,
		},
		{
			name:  "malformed refresh_token",
			token: func(string) string { return "xyz" },
			creds: basicCredentials(testutil.DemoClient1, testutil.DemoSecret1),
			want:  KindInvalidRequest,
		},
		{
			name:  "unknown refresh_token",
			token: func(string) string { return "ffffffffffffffffffffffffffffffff" },
			creds: basicCredentials(testutil.DemoClient1, testutil.DemoSecret1),
			want:  KindInvalidGrant,
		},
		{
			name:  "another client's refresh_token",
			token: func(issued string) string { return issued },
			creds: basicCredentials(testutil.DemoClient2, testutil.DemoSecret2),
			want:  KindInvalidGrant,
		},
		{
			name:    "expired refresh_token",
			token:   func(issued string) string { return issued },
			creds:   basicCredentials(testutil.DemoClient1, testutil.DemoSecret1),
			advance: time.Duration(DefaultRefreshTokenTTL+1) * time.Second,
			want:    KindInvalidGrant,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, clock := setupTestServer(t, nil)
			ctx := context.Background()

			issued, err := srv.HandleToken(ctx, &TokenRequest{GrantType: "client_credentials"},
				basicCredentials(testutil.DemoClient1, testutil.DemoSecret1))
			testutil.AssertNoError(t, err)
			clock.Advance(tt.advance)

			_, err = srv.HandleToken(ctx, &TokenRequest{
				GrantType:    "refresh_token",
				RefreshToken: tt.token(issued.RefreshToken),
			}, tt.creds)
			assertKind(t, err, tt.want)
		})
	}
}

func TestExpiresIn_IgnoresElapsedTime(t *testing.T) {
	// Every reading of the clock moves it forward, so time passes between issuing
	// the token and rendering the response.
	clock := testutil.NewMockTime(testEpoch)
	config := &Config{Now: func() time.Time {
		clock.Advance(700 * time.Millisecond)
		return clock.Now()
	}}
	srv, err := New(testutil.NewSeededStore(t), config, testLogger())
	testutil.AssertNoError(t, err)
	ctx := context.Background()

	t.Run("client_credentials", func(t *testing.T) {
		resp, err := srv.HandleToken(ctx, &TokenRequest{GrantType: "client_credentials"},
			basicCredentials(testutil.DemoClient1, testutil.DemoSecret1))
		testutil.AssertNoError(t, err)
		if resp.ExpiresIn != DefaultAccessTokenTTL {
			t.Errorf("ExpiresIn = %d, want %d", resp.ExpiresIn, DefaultAccessTokenTTL)
		}
	})

	t.Run("implicit", func(t *testing.T) {
		resp, err := srv.HandleAuthorize(ctx, &AuthorizeRequest{
			ResponseType: "token",
			ClientID:     testutil.DemoClient1,
		}, ResourceOwner{Username: testutil.DemoUser1})
		testutil.AssertNoError(t, err)

		_, fragment, _ := strings.Cut(resp.Location, "#")
		params, err := url.ParseQuery(fragment)
		testutil.AssertNoError(t, err)
		if got := params.Get("expires_in"); got != "3600" {
			t.Errorf("expires_in = %q, want 3600", got)
		}
	})
}
