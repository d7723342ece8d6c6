package sql

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/giantswarm/oauth2-server/instrumentation"
	"github.com/giantswarm/oauth2-server/internal/util"
	"github.com/giantswarm/oauth2-server/security"
	"github.com/giantswarm/oauth2-server/storage"
)

const (
	// DefaultDSN opens a private in-memory database
	DefaultDSN = ":memory:"

	// tokenIDLogLength is the number of characters to include when logging token IDs
	tokenIDLogLength = 8

	storageType = "sql"
)

// Config holds configuration for the SQL storage backend
type Config struct {
	// DSN is the SQLite data source, a file path or ":memory:" (default)
	DSN string

	// Debug enables gorm's SQL statement logging
	Debug bool

	// Logger is used for store diagnostics (default slog.Default())
	Logger *slog.Logger
}

// Store is a gorm-backed implementation of all storage interfaces.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger

	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
}

// Compile-time interface checks to ensure Store implements all storage interfaces
var (
	_ storage.Store  = (*Store)(nil)
	_ storage.Seeder = (*Store)(nil)
)

// New opens the database and migrates the schema.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		cfg.DSN = DefaultDSN
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	logLevel := logger.Silent
	if cfg.Debug {
		logLevel = logger.Info
	}

	db, err := gorm.Open(sqlite.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access database handle: %w", err)
	}
	// SQLite has a single writer; one connection also keeps ":memory:" databases alive.
	sqlDB.SetMaxOpenConns(1)

	if err := db.WithContext(ctx).AutoMigrate(
		&clientRow{},
		&userRow{},
		&scopeRow{},
		&authorizationRow{},
		&codeRow{},
		&accessTokenRow{},
		&refreshTokenRow{},
	); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	cfg.Logger.Info("SQL storage initialized", "dsn", cfg.DSN)

	return &Store{db: db, logger: cfg.Logger}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
}

// ============================================================
// Seeder Implementation
// ============================================================

// SaveClient inserts or replaces a client
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if client == nil || client.ClientID == "" {
		return fmt.Errorf("invalid client")
	}
	row := &clientRow{ClientID: client.ClientID, SecretHash: client.SecretHash, RedirectURI: client.RedirectURI}
	return s.db.WithContext(ctx).Save(row).Error
}

// SaveUser inserts or replaces a resource owner
func (s *Store) SaveUser(ctx context.Context, user *storage.User) error {
	if user == nil || user.Username == "" {
		return fmt.Errorf("invalid user")
	}
	row := &userRow{Username: user.Username, PasswordHash: user.PasswordHash}
	return s.db.WithContext(ctx).Save(row).Error
}

// SaveScope adds a scope to the supported set. Existing scopes are left untouched.
func (s *Store) SaveScope(ctx context.Context, scope string) error {
	if scope == "" {
		return fmt.Errorf("invalid scope")
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}).
		Create(&scopeRow{Name: scope}).Error
}

// SaveAuthorization inserts or replaces a standing consent
func (s *Store) SaveAuthorization(ctx context.Context, authorization *storage.Authorization) error {
	if authorization == nil || authorization.ClientID == "" {
		return fmt.Errorf("invalid authorization")
	}
	row := &authorizationRow{
		ClientID: authorization.ClientID,
		Username: authorization.Username,
		Scopes:   authorization.Scopes,
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(row).Error
}

// ============================================================
// Lookup Implementation
// ============================================================

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	var row clientRow
	err := s.db.WithContext(ctx).Where("client_id = ?", clientID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrClientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return row.toClient(), nil
}

// GetAuthorization retrieves the standing consent for a client/user pair
func (s *Store) GetAuthorization(ctx context.Context, clientID, username string) (*storage.Authorization, error) {
	var row authorizationRow
	err := s.db.WithContext(ctx).
		Where("client_id = ? AND username = ?", clientID, username).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrAuthorizationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get authorization: %w", err)
	}
	return row.toAuthorization(), nil
}

// ListScopes returns the supported scopes in insertion order
func (s *Store) ListScopes(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.WithContext(ctx).Model(&scopeRow{}).Order("id").Pluck("name", &names).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list scopes: %w", err)
	}
	return names, nil
}

// AuthenticateUser verifies a resource owner's password using bcrypt.
// Unknown users are compared against a dummy hash to keep timing uniform.
func (s *Store) AuthenticateUser(ctx context.Context, username, password string) error {
	var row userRow
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&row).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to get user: %w", err)
	}

	if !security.CompareSecret(row.PasswordHash, password) {
		return storage.ErrInvalidCredentials
	}
	return nil
}

// ============================================================
// CodeStore Implementation
// ============================================================

// SaveCode persists a newly issued authorization code
func (s *Store) SaveCode(ctx context.Context, code *storage.Code) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_code")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "save_code", &err, time.Now())

	if code == nil || code.Code == "" {
		return fmt.Errorf("invalid authorization code")
	}

	if err = s.insertUnique(ctx, codeRowFrom(code)); err != nil {
		return err
	}
	s.logger.Debug("Saved authorization code", "code_prefix", util.SafeTruncate(code.Code, tokenIDLogLength))
	return nil
}

// GetCode retrieves an authorization code without consuming it
func (s *Store) GetCode(ctx context.Context, code string) (_ *storage.Code, err error) {
	ctx, span := s.startStorageSpan(ctx, "get_code")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "get_code", &err, time.Now())

	var row codeRow
	err = s.db.WithContext(ctx).Where("code = ?", code).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = storage.ErrCodeNotFound
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get authorization code: %w", err)
	}
	return row.toCode(), nil
}

// ConsumeCode atomically deletes an authorization code.
// SECURITY: The single DELETE statement decides the winner; every other caller sees zero
// affected rows and receives ErrCodeNotFound.
func (s *Store) ConsumeCode(ctx context.Context, code string) (err error) {
	ctx, span := s.startStorageSpan(ctx, "consume_code")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "consume_code", &err, time.Now())

	tx := s.db.WithContext(ctx).Where("code = ?", code).Delete(&codeRow{})
	if tx.Error != nil {
		return fmt.Errorf("failed to consume authorization code: %w", tx.Error)
	}
	if tx.RowsAffected == 0 {
		err = storage.ErrCodeNotFound
		return err
	}

	s.logger.Debug("Consumed authorization code", "code_prefix", util.SafeTruncate(code, tokenIDLogLength))
	return nil
}

// ============================================================
// TokenStore Implementation
// ============================================================

// SaveAccessToken persists a newly issued access token
func (s *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_access_token")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "save_access_token", &err, time.Now())

	if token == nil || token.Token == "" {
		return fmt.Errorf("invalid access token")
	}
	return s.insertUnique(ctx, accessTokenRowFrom(token))
}

// GetAccessToken retrieves an access token by value
func (s *Store) GetAccessToken(ctx context.Context, token string) (_ *storage.AccessToken, err error) {
	ctx, span := s.startStorageSpan(ctx, "get_access_token")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "get_access_token", &err, time.Now())

	var row accessTokenRow
	err = s.db.WithContext(ctx).Where("token = ?", token).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = storage.ErrTokenNotFound
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}
	return row.toAccessToken(), nil
}

// SaveRefreshToken persists a newly issued refresh token
func (s *Store) SaveRefreshToken(ctx context.Context, token *storage.RefreshToken) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_refresh_token")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "save_refresh_token", &err, time.Now())

	if token == nil || token.Token == "" {
		return fmt.Errorf("invalid refresh token")
	}
	return s.insertUnique(ctx, refreshTokenRowFrom(token))
}

// GetRefreshToken retrieves a refresh token by value
func (s *Store) GetRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	var row refreshTokenRow
	err := s.db.WithContext(ctx).Where("token = ?", token).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}
	return row.toRefreshToken(), nil
}

// ConsumeRefreshToken atomically deletes a refresh token. Like ConsumeCode, the
// affected row count decides the single winner.
func (s *Store) ConsumeRefreshToken(ctx context.Context, token string) (err error) {
	ctx, span := s.startStorageSpan(ctx, "consume_refresh_token")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "consume_refresh_token", &err, time.Now())

	tx := s.db.WithContext(ctx).Where("token = ?", token).Delete(&refreshTokenRow{})
	if tx.Error != nil {
		return fmt.Errorf("failed to consume refresh token: %w", tx.Error)
	}
	if tx.RowsAffected == 0 {
		err = storage.ErrTokenNotFound
		return err
	}

	s.logger.Debug("Consumed refresh token", "token_prefix", util.SafeTruncate(token, tokenIDLogLength))
	return nil
}

// insertUnique inserts row and reports ErrDuplicate when its primary key is taken.
func (s *Store) insertUnique(ctx context.Context, row any) error {
	tx := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	if tx.Error != nil {
		return fmt.Errorf("failed to insert record: %w", tx.Error)
	}
	if tx.RowsAffected == 0 {
		return storage.ErrDuplicate
	}
	return nil
}

// ============================================================
// Instrumentation Helpers
// ============================================================

func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	return s.tracer.Start(ctx, fmt.Sprintf("storage.%s", operation),
		trace.WithAttributes(
			attribute.String(instrumentation.AttrStorageOperation, operation),
			attribute.String(instrumentation.AttrStorageType, storageType),
		))
}

// recordStorageOperation is deferred with a pointer to the caller's named error result.
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, errp *error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Microseconds()) / 1000
	result := "success"
	if err := *errp; err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
