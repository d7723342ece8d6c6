// Package storagetest provides a conformance suite that every storage backend runs.
package storagetest

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oauth2-server/security"
	"github.com/giantswarm/oauth2-server/storage"
)

// Backend is what a storage implementation must provide to run the suite.
type Backend interface {
	storage.Store
	storage.Seeder
}

// Factory returns a fresh, empty backend. Cleanup should be registered on t.
type Factory func(t *testing.T) Backend

// concurrentConsumers is the number of goroutines racing to redeem one code
const concurrentConsumers = 16

// Run executes the conformance suite against backends produced by newBackend.
func Run(t *testing.T, newBackend Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, b Backend)
	}{
		{"Clients", testClients},
		{"Authorizations", testAuthorizations},
		{"Scopes", testScopes},
		{"AuthenticateUser", testAuthenticateUser},
		{"Codes", testCodes},
		{"ExpiredCodeIsStillReturned", testExpiredCode},
		{"ConcurrentConsumeCode", testConcurrentConsume},
		{"AccessTokens", testAccessTokens},
		{"RefreshTokens", testRefreshTokens},
		{"ConcurrentConsumeRefreshToken", testConcurrentConsumeRefreshToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newBackend(t))
		})
	}
}

func seed(t *testing.T, b Backend) {
	t.Helper()
	if err := storage.Seed(context.Background(), b, storage.DemoFixtures(), bcrypt.MinCost); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
}

func testClients(t *testing.T, b Backend) {
	ctx := context.Background()
	seed(t, b)

	client, err := b.GetClient(ctx, "http://democlient1.com/")
	if err != nil {
		t.Fatalf("GetClient() error = %v", err)
	}
	if client.RedirectURI != "http://democlient1.com/redirect_uri" {
		t.Errorf("RedirectURI = %q, want %q", client.RedirectURI, "http://democlient1.com/redirect_uri")
	}
	if client.SecretHash == "demosecret1" {
		t.Error("SecretHash holds the plain secret")
	}
	if !security.CompareSecret(client.SecretHash, "demosecret1") {
		t.Error("SecretHash does not verify the seeded secret")
	}

	noRedirect, err := b.GetClient(ctx, "http://democlient4.com/")
	if err != nil {
		t.Fatalf("GetClient() error = %v", err)
	}
	if noRedirect.RedirectURI != "" {
		t.Errorf("RedirectURI = %q, want empty", noRedirect.RedirectURI)
	}

	if _, err := b.GetClient(ctx, "http://unknown.example/"); !errors.Is(err, storage.ErrClientNotFound) {
		t.Errorf("GetClient(unknown) error = %v, want ErrClientNotFound", err)
	}
}

func testAuthorizations(t *testing.T, b Backend) {
	ctx := context.Background()
	seed(t, b)

	tests := []struct {
		name     string
		clientID string
		username string
		want     []string
		wantErr  error
	}{
		{
			name:     "user consent",
			clientID: "http://democlient2.com/",
			username: "demousername2",
			want:     []string{"demoscope1", "demoscope2"},
		},
		{
			name:     "client consent",
			clientID: "http://democlient1.com/",
			username: "",
			want:     []string{"demoscope1", "demoscope2", "demoscope3"},
		},
		{
			name:     "mismatched pair",
			clientID: "http://democlient1.com/",
			username: "demousername2",
			wantErr:  storage.ErrAuthorizationNotFound,
		},
		{
			name:     "client without consent",
			clientID: "http://democlient2.com/",
			username: "",
			wantErr:  storage.ErrAuthorizationNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := b.GetAuthorization(ctx, tt.clientID, tt.username)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("GetAuthorization() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("GetAuthorization() error = %v", err)
			}
			if !sameSet(got.Scopes, tt.want) {
				t.Errorf("Scopes = %v, want %v", got.Scopes, tt.want)
			}
		})
	}
}

func testScopes(t *testing.T, b Backend) {
	ctx := context.Background()

	scopes, err := b.ListScopes(ctx)
	if err != nil {
		t.Fatalf("ListScopes() error = %v", err)
	}
	if len(scopes) != 0 {
		t.Errorf("ListScopes() on empty store = %v, want none", scopes)
	}

	seed(t, b)
	// Seeding twice must not duplicate entries.
	if err := b.SaveScope(ctx, "demoscope1"); err != nil {
		t.Fatalf("SaveScope() error = %v", err)
	}

	scopes, err = b.ListScopes(ctx)
	if err != nil {
		t.Fatalf("ListScopes() error = %v", err)
	}
	want := []string{"demoscope1", "demoscope2", "demoscope3"}
	if len(scopes) != len(want) || !sameSet(scopes, want) {
		t.Errorf("ListScopes() = %v, want %v", scopes, want)
	}
}

func testAuthenticateUser(t *testing.T, b Backend) {
	ctx := context.Background()
	seed(t, b)

	tests := []struct {
		name     string
		username string
		password string
		wantErr  bool
	}{
		{name: "valid", username: "demousername1", password: "demopassword1"},
		{name: "wrong password", username: "demousername1", password: "demopassword2", wantErr: true},
		{name: "unknown user", username: "nobody", password: "demopassword1", wantErr: true},
		{name: "empty password", username: "demousername1", password: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := b.AuthenticateUser(ctx, tt.username, tt.password)
			if tt.wantErr {
				if !errors.Is(err, storage.ErrInvalidCredentials) {
					t.Errorf("AuthenticateUser() error = %v, want ErrInvalidCredentials", err)
				}
				return
			}
			if err != nil {
				t.Errorf("AuthenticateUser() error = %v", err)
			}
		})
	}
}

func testCodes(t *testing.T, b Backend) {
	ctx := context.Background()
	expiresAt := time.Now().Add(10 * time.Minute).Truncate(time.Second)

	code := &storage.Code{
		Code:        "code-value-1",
		ClientID:    "http://democlient1.com/",
		RedirectURI: "http://democlient1.com/redirect_uri",
		Username:    "demousername1",
		Scopes:      []string{"demoscope1"},
		ExpiresAt:   expiresAt,
	}

	if err := b.SaveCode(ctx, code); err != nil {
		t.Fatalf("SaveCode() error = %v", err)
	}
	if err := b.SaveCode(ctx, code); !errors.Is(err, storage.ErrDuplicate) {
		t.Errorf("SaveCode(duplicate) error = %v, want ErrDuplicate", err)
	}

	got, err := b.GetCode(ctx, code.Code)
	if err != nil {
		t.Fatalf("GetCode() error = %v", err)
	}
	if got.ClientID != code.ClientID || got.RedirectURI != code.RedirectURI || got.Username != code.Username {
		t.Errorf("GetCode() = %+v, want %+v", got, code)
	}
	if !slices.Equal(got.Scopes, code.Scopes) {
		t.Errorf("Scopes = %v, want %v", got.Scopes, code.Scopes)
	}
	if !got.ExpiresAt.Equal(expiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, expiresAt)
	}

	if err := b.ConsumeCode(ctx, code.Code); err != nil {
		t.Fatalf("ConsumeCode() error = %v", err)
	}
	if err := b.ConsumeCode(ctx, code.Code); !errors.Is(err, storage.ErrCodeNotFound) {
		t.Errorf("second ConsumeCode() error = %v, want ErrCodeNotFound", err)
	}
	if _, err := b.GetCode(ctx, code.Code); !errors.Is(err, storage.ErrCodeNotFound) {
		t.Errorf("GetCode(consumed) error = %v, want ErrCodeNotFound", err)
	}
	if _, err := b.GetCode(ctx, "never-issued"); !errors.Is(err, storage.ErrCodeNotFound) {
		t.Errorf("GetCode(unknown) error = %v, want ErrCodeNotFound", err)
	}
}

func testExpiredCode(t *testing.T, b Backend) {
	ctx := context.Background()

	code := &storage.Code{
		Code:      "expired-code",
		ClientID:  "http://democlient1.com/",
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	if err := b.SaveCode(ctx, code); err != nil {
		t.Fatalf("SaveCode() error = %v", err)
	}

	got, err := b.GetCode(ctx, code.Code)
	if err != nil {
		t.Fatalf("GetCode() error = %v", err)
	}
	if !security.IsExpired(got.ExpiresAt, time.Now()) {
		t.Errorf("ExpiresAt = %v, want a time in the past", got.ExpiresAt)
	}
}

func testConcurrentConsume(t *testing.T, b Backend) {
	ctx := context.Background()

	code := &storage.Code{
		Code:      "raced-code",
		ClientID:  "http://democlient1.com/",
		ExpiresAt: time.Now().Add(time.Minute),
	}
	if err := b.SaveCode(ctx, code); err != nil {
		t.Fatalf("SaveCode() error = %v", err)
	}

	raceConsumers(t, storage.ErrCodeNotFound, func() error {
		return b.ConsumeCode(ctx, code.Code)
	})
}

func testConcurrentConsumeRefreshToken(t *testing.T, b Backend) {
	ctx := context.Background()

	token := &storage.RefreshToken{
		Token:     "raced-refresh-token",
		ClientID:  "http://democlient1.com/",
		Username:  "demouser1",
		ExpiresAt: time.Now().Add(time.Hour),
	}
	if err := b.SaveRefreshToken(ctx, token); err != nil {
		t.Fatalf("SaveRefreshToken() error = %v", err)
	}

	raceConsumers(t, storage.ErrTokenNotFound, func() error {
		return b.ConsumeRefreshToken(ctx, token.Token)
	})
}

// raceConsumers releases concurrentConsumers calls of consume at once and expects a
// single winner, with every other caller receiving notFound.
func raceConsumers(t *testing.T, notFound error, consume func() error) {
	t.Helper()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  int
		losers   int
		unexpect []error
	)

	start := make(chan struct{})
	for range concurrentConsumers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := consume()

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, notFound):
				losers++
			default:
				unexpect = append(unexpect, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if len(unexpect) > 0 {
		t.Fatalf("unexpected errors: %v", unexpect)
	}
	if winners != 1 {
		t.Errorf("winners = %d, want exactly 1", winners)
	}
	if losers != concurrentConsumers-1 {
		t.Errorf("losers = %d, want %d", losers, concurrentConsumers-1)
	}
}

func testAccessTokens(t *testing.T, b Backend) {
	ctx := context.Background()
	expiresAt := time.Now().Add(time.Hour).Truncate(time.Second)

	token := &storage.AccessToken{
		Token:     "access-token-1",
		TokenType: storage.TokenTypeBearer,
		ClientID:  "http://democlient1.com/",
		Scopes:    []string{"demoscope1", "demoscope2"},
		ExpiresAt: expiresAt,
	}

	if err := b.SaveAccessToken(ctx, token); err != nil {
		t.Fatalf("SaveAccessToken() error = %v", err)
	}
	if err := b.SaveAccessToken(ctx, token); !errors.Is(err, storage.ErrDuplicate) {
		t.Errorf("SaveAccessToken(duplicate) error = %v, want ErrDuplicate", err)
	}

	got, err := b.GetAccessToken(ctx, token.Token)
	if err != nil {
		t.Fatalf("GetAccessToken() error = %v", err)
	}
	if got.TokenType != storage.TokenTypeBearer || got.ClientID != token.ClientID || got.Username != "" {
		t.Errorf("GetAccessToken() = %+v, want %+v", got, token)
	}
	if !slices.Equal(got.Scopes, token.Scopes) {
		t.Errorf("Scopes = %v, want %v", got.Scopes, token.Scopes)
	}
	if !got.ExpiresAt.Equal(expiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, expiresAt)
	}

	if _, err := b.GetAccessToken(ctx, "unknown"); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("GetAccessToken(unknown) error = %v, want ErrTokenNotFound", err)
	}
}

func testRefreshTokens(t *testing.T, b Backend) {
	ctx := context.Background()

	token := &storage.RefreshToken{
		Token:     "refresh-token-1",
		ClientID:  "http://democlient1.com/",
		Username:  "demousername1",
		Scopes:    []string{"demoscope1"},
		ExpiresAt: time.Now().Add(24 * time.Hour).Truncate(time.Second),
	}

	if err := b.SaveRefreshToken(ctx, token); err != nil {
		t.Fatalf("SaveRefreshToken() error = %v", err)
	}
	if err := b.SaveRefreshToken(ctx, token); !errors.Is(err, storage.ErrDuplicate) {
		t.Errorf("SaveRefreshToken(duplicate) error = %v, want ErrDuplicate", err)
	}

	got, err := b.GetRefreshToken(ctx, token.Token)
	if err != nil {
		t.Fatalf("GetRefreshToken() error = %v", err)
	}
	if got.Username != token.Username || !slices.Equal(got.Scopes, token.Scopes) {
		t.Errorf("GetRefreshToken() = %+v, want %+v", got, token)
	}

	if err := b.ConsumeRefreshToken(ctx, token.Token); err != nil {
		t.Fatalf("ConsumeRefreshToken() error = %v", err)
	}
	if _, err := b.GetRefreshToken(ctx, token.Token); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("GetRefreshToken(consumed) error = %v, want ErrTokenNotFound", err)
	}
	if err := b.ConsumeRefreshToken(ctx, token.Token); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("second ConsumeRefreshToken() error = %v, want ErrTokenNotFound", err)
	}
}

func sameSet(a, b []string) bool {
	a, b = slices.Clone(a), slices.Clone(b)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}
