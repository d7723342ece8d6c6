package sql

import (
	"time"

	"github.com/giantswarm/oauth2-server/storage"
)

// clientRow stores a registered OAuth client.
type clientRow struct {
	ClientID    string `gorm:"column:client_id;type:text;primaryKey"`
	SecretHash  string `gorm:"column:secret_hash;type:text;not null"`
	RedirectURI string `gorm:"column:redirect_uri;type:text"`
}

func (clientRow) TableName() string { return "oauth_clients" }

// userRow stores a resource owner.
type userRow struct {
	Username     string `gorm:"column:username;type:text;primaryKey"`
	PasswordHash string `gorm:"column:password_hash;type:text;not null"`
}

func (userRow) TableName() string { return "oauth_users" }

// scopeRow stores one supported scope. ID preserves insertion order.
type scopeRow struct {
	ID   uint   `gorm:"column:id;primaryKey;autoIncrement"`
	Name string `gorm:"column:name;type:text;not null;uniqueIndex"`
}

func (scopeRow) TableName() string { return "oauth_scopes" }

// authorizationRow stores a standing consent. Username is empty for client consents.
type authorizationRow struct {
	ClientID string   `gorm:"column:client_id;type:text;primaryKey"`
	Username string   `gorm:"column:username;type:text;primaryKey"`
	Scopes   []string `gorm:"column:scopes;type:text;serializer:json"`
}

func (authorizationRow) TableName() string { return "oauth_authorizations" }

// codeRow stores an issued authorization code.
type codeRow struct {
	Code        string    `gorm:"column:code;type:text;primaryKey"`
	ClientID    string    `gorm:"column:client_id;type:text;not null;index"`
	RedirectURI string    `gorm:"column:redirect_uri;type:text"`
	Username    string    `gorm:"column:username;type:text"`
	Scopes      []string  `gorm:"column:scopes;type:text;serializer:json"`
	ExpiresAt   time.Time `gorm:"column:expires_at;not null;index"`
}

func (codeRow) TableName() string { return "oauth_authorization_codes" }

// accessTokenRow stores an issued access token.
type accessTokenRow struct {
	Token     string    `gorm:"column:token;type:text;primaryKey"`
	TokenType string    `gorm:"column:token_type;type:text;not null"`
	ClientID  string    `gorm:"column:client_id;type:text;not null;index"`
	Username  string    `gorm:"column:username;type:text"`
	Scopes    []string  `gorm:"column:scopes;type:text;serializer:json"`
	ExpiresAt time.Time `gorm:"column:expires_at;not null;index"`
}

func (accessTokenRow) TableName() string { return "oauth_access_tokens" }

// refreshTokenRow stores an issued refresh token.
type refreshTokenRow struct {
	Token     string    `gorm:"column:token;type:text;primaryKey"`
	ClientID  string    `gorm:"column:client_id;type:text;not null;index"`
	Username  string    `gorm:"column:username;type:text"`
	Scopes    []string  `gorm:"column:scopes;type:text;serializer:json"`
	ExpiresAt time.Time `gorm:"column:expires_at;not null;index"`
}

func (refreshTokenRow) TableName() string { return "oauth_refresh_tokens" }

func (r *clientRow) toClient() *storage.Client {
	return &storage.Client{
		ClientID:    r.ClientID,
		SecretHash:  r.SecretHash,
		RedirectURI: r.RedirectURI,
	}
}

func (r *authorizationRow) toAuthorization() *storage.Authorization {
	return &storage.Authorization{
		ClientID: r.ClientID,
		Username: r.Username,
		Scopes:   r.Scopes,
	}
}

func codeRowFrom(c *storage.Code) *codeRow {
	return &codeRow{
		Code:        c.Code,
		ClientID:    c.ClientID,
		RedirectURI: c.RedirectURI,
		Username:    c.Username,
		Scopes:      c.Scopes,
		ExpiresAt:   c.ExpiresAt,
	}
}

func (r *codeRow) toCode() *storage.Code {
	return &storage.Code{
		Code:        r.Code,
		ClientID:    r.ClientID,
		RedirectURI: r.RedirectURI,
		Username:    r.Username,
		Scopes:      r.Scopes,
		ExpiresAt:   r.ExpiresAt,
	}
}

func accessTokenRowFrom(t *storage.AccessToken) *accessTokenRow {
	return &accessTokenRow{
		Token:     t.Token,
		TokenType: t.TokenType,
		ClientID:  t.ClientID,
		Username:  t.Username,
		Scopes:    t.Scopes,
		ExpiresAt: t.ExpiresAt,
	}
}

func (r *accessTokenRow) toAccessToken() *storage.AccessToken {
	return &storage.AccessToken{
		Token:     r.Token,
		TokenType: r.TokenType,
		ClientID:  r.ClientID,
		Username:  r.Username,
		Scopes:    r.Scopes,
		ExpiresAt: r.ExpiresAt,
	}
}

func refreshTokenRowFrom(t *storage.RefreshToken) *refreshTokenRow {
	return &refreshTokenRow{
		Token:     t.Token,
		ClientID:  t.ClientID,
		Username:  t.Username,
		Scopes:    t.Scopes,
		ExpiresAt: t.ExpiresAt,
	}
}

func (r *refreshTokenRow) toRefreshToken() *storage.RefreshToken {
	return &storage.RefreshToken{
		Token:     r.Token,
		ClientID:  r.ClientID,
		Username:  r.Username,
		Scopes:    r.Scopes,
		ExpiresAt: r.ExpiresAt,
	}
}
