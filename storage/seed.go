package storage

import (
	"context"
	"fmt"

	"github.com/giantswarm/oauth2-server/security"
)

// Fixtures is the reference data a deployment is seeded with. Secrets and passwords are
// plain text here and hashed by Seed.
type Fixtures struct {
	Scopes         []string               `toml:"scopes"`
	Clients        []ClientFixture        `toml:"clients"`
	Users          []UserFixture          `toml:"users"`
	Authorizations []AuthorizationFixture `toml:"authorizations"`
}

// ClientFixture describes a client to seed
type ClientFixture struct {
	ClientID    string `toml:"client_id"`
	Secret      string `toml:"secret"`
	RedirectURI string `toml:"redirect_uri"`
}

// UserFixture describes a resource owner to seed
type UserFixture struct {
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// AuthorizationFixture describes a standing consent to seed
type AuthorizationFixture struct {
	ClientID string   `toml:"client_id"`
	Username string   `toml:"username"`
	Scopes   []string `toml:"scopes"`
}

// IsEmpty reports whether the fixtures carry no data at all.
func (f Fixtures) IsEmpty() bool {
	return len(f.Scopes) == 0 && len(f.Clients) == 0 && len(f.Users) == 0 && len(f.Authorizations) == 0
}

// Seed writes fixtures through s, hashing secrets and passwords with the given bcrypt cost
// (zero selects the default cost).
func Seed(ctx context.Context, s Seeder, f Fixtures, bcryptCost int) error {
	for _, scope := range f.Scopes {
		if err := s.SaveScope(ctx, scope); err != nil {
			return fmt.Errorf("failed to seed scope %q: %w", scope, err)
		}
	}

	for _, c := range f.Clients {
		hash, err := security.HashSecretWithCost(c.Secret, bcryptCost)
		if err != nil {
			return err
		}
		client := &Client{
			ClientID:    c.ClientID,
			SecretHash:  hash,
			RedirectURI: c.RedirectURI,
		}
		if err := s.SaveClient(ctx, client); err != nil {
			return fmt.Errorf("failed to seed client %q: %w", c.ClientID, err)
		}
	}

	for _, u := range f.Users {
		hash, err := security.HashSecretWithCost(u.Password, bcryptCost)
		if err != nil {
			return err
		}
		if err := s.SaveUser(ctx, &User{Username: u.Username, PasswordHash: hash}); err != nil {
			return fmt.Errorf("failed to seed user %q: %w", u.Username, err)
		}
	}

	for _, a := range f.Authorizations {
		authorization := &Authorization{
			ClientID: a.ClientID,
			Username: a.Username,
			Scopes:   a.Scopes,
		}
		if err := s.SaveAuthorization(ctx, authorization); err != nil {
			return fmt.Errorf("failed to seed authorization for client %q: %w", a.ClientID, err)
		}
	}

	return nil
}

// DemoFixtures returns the demo clients, users, scopes, and consents used by the demo
// deployment and the test suites.
func DemoFixtures() Fixtures {
	return Fixtures{
		Scopes: []string{"demoscope1", "demoscope2", "demoscope3"},
		Clients: []ClientFixture{
			{ClientID: "http://democlient1.com/", Secret: "demosecret1", RedirectURI: "http://democlient1.com/redirect_uri"},
			{ClientID: "http://democlient2.com/", Secret: "demosecret2", RedirectURI: "http://democlient2.com/redirect_uri"},
			{ClientID: "http://democlient3.com/", Secret: "demosecret3", RedirectURI: "http://democlient3.com/redirect_uri"},
			{ClientID: "http://democlient4.com/", Secret: "demosecret4"},
		},
		Users: []UserFixture{
			{Username: "demousername1", Password: "demopassword1"},
			{Username: "demousername2", Password: "demopassword2"},
			{Username: "demousername3", Password: "demopassword3"},
		},
		Authorizations: []AuthorizationFixture{
			{ClientID: "http://democlient1.com/", Username: "demousername1", Scopes: []string{"demoscope1"}},
			{ClientID: "http://democlient2.com/", Username: "demousername2", Scopes: []string{"demoscope1", "demoscope2"}},
			{ClientID: "http://democlient3.com/", Username: "demousername3", Scopes: []string{"demoscope1", "demoscope2", "demoscope3"}},
			{ClientID: "http://democlient1.com/", Username: "", Scopes: []string{"demoscope1", "demoscope2", "demoscope3"}},
		},
	}
}
