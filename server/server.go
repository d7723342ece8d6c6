package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oauth2-server/instrumentation"
	"github.com/giantswarm/oauth2-server/internal/util"
	"github.com/giantswarm/oauth2-server/security"
	"github.com/giantswarm/oauth2-server/storage"
)

// ErrAccessTokenInvalid is returned by LookupAccessToken for unknown and expired tokens.
var ErrAccessTokenInvalid = errors.New("access token is invalid or expired")

// grantTypeImplicit labels tokens issued by response_type=token in audit and metrics
const grantTypeImplicit GrantType = "implicit"

// tokenLogPrefix is how many characters of a code or token may appear in logs
const tokenLogPrefix = 8

// Server is the authorization engine. It dispatches authorization and token requests to the
// registered handlers and owns everything they share: storage, issuer, scope resolver,
// configuration, audit, and instrumentation.
type Server struct {
	store    storage.Store
	registry *Registry
	issuer   *Issuer
	scopes   *ScopeResolver

	Auditor         *security.Auditor
	Instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
	metrics         *instrumentation.Metrics

	Logger *slog.Logger
	Config *Config
}

// New creates a new authorization server using the default registry
func New(store storage.Store, config *Config, logger *slog.Logger) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	// Apply secure defaults
	config = applySecureDefaults(config, logger)

	srv := &Server{
		store:    store,
		registry: DefaultRegistry(),
		issuer:   NewIssuer(store, store, config),
		scopes:   NewScopeResolver(store, store),
		Logger:   logger,
		Config:   config,
	}

	// Disabled instrumentation keeps tracer and metrics usable without nil checks.
	inst, err := instrumentation.New(instrumentation.Config{Enabled: false})
	if err != nil {
		return nil, fmt.Errorf("failed to create instrumentation: %w", err)
	}
	srv.SetInstrumentation(inst)

	return srv, nil
}

// SetRegistry replaces the handler registry
func (s *Server) SetRegistry(registry *Registry) error {
	if registry == nil {
		return fmt.Errorf("registry is required")
	}
	s.registry = registry
	return nil
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetInstrumentation sets OpenTelemetry instrumentation for the server
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst == nil {
		return
	}
	s.Instrumentation = inst
	s.tracer = inst.Tracer("server")
	s.metrics = inst.Metrics()
}

// Registry returns the handler registry in use
func (s *Server) Registry() *Registry {
	return s.registry
}

// HandleAuthorize runs the authorization endpoint for an authenticated resource owner.
//
// Failures that occur once the client is known and its redirect URI is resolved are
// returned as *RedirectError; all others are *Error.
func (s *Server) HandleAuthorize(ctx context.Context, req *AuthorizeRequest, owner ResourceOwner) (*AuthorizeResponse, error) {
	ctx, span := s.tracer.Start(ctx, "oauth.authorize")
	defer span.End()

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrResponseType, req.ResponseType),
		attribute.String(instrumentation.AttrClientID, req.ClientID),
	)

	resp, err := s.handleAuthorize(ctx, req, owner)
	if err != nil {
		var redirectErr *RedirectError
		if !errors.As(err, &redirectErr) {
			err = Classify(err)
		}
		s.logFailure(ctx, span, "Authorization request failed", err, "client_id", req.ClientID, "response_type", req.ResponseType)
		return nil, err
	}

	instrumentation.AddOAuthFlowAttributes(span, resp.ClientID, util.JoinScopes(resp.Scopes))
	instrumentation.SetSpanSuccess(span)
	return resp, nil
}

func (s *Server) handleAuthorize(ctx context.Context, req *AuthorizeRequest, owner ResourceOwner) (*AuthorizeResponse, error) {
	if req.ResponseType == "" {
		return nil, ErrInvalidRequest("response_type is required")
	}
	if !Validate(ParamResponseType, req.ResponseType) {
		return nil, ErrInvalidRequest("response_type is malformed")
	}

	handler, ok := s.registry.ResponseType(req.ResponseType)
	if !ok {
		return nil, ErrUnsupportedResponseType(fmt.Sprintf("response_type %q is not supported", req.ResponseType))
	}

	return handler.HandleAuthorize(ctx, s, req, owner)
}

// HandleToken runs the token endpoint: it selects the grant, authenticates the client, and
// runs the grant handler. Every failure is an *Error.
func (s *Server) HandleToken(ctx context.Context, req *TokenRequest, creds ClientCredentials) (*TokenResponse, error) {
	ctx, span := s.tracer.Start(ctx, "oauth.token")
	defer span.End()

	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrGrantType, req.GrantType))

	resp, clientID, err := s.handleToken(ctx, req, creds)
	if err != nil {
		err = Classify(err)
		s.logFailure(ctx, span, "Token request failed", err, "client_id", clientID, "grant_type", req.GrantType)
		return nil, err
	}

	instrumentation.AddOAuthFlowAttributes(span, clientID, resp.Scope)
	instrumentation.SetSpanSuccess(span)
	return resp, nil
}

func (s *Server) handleToken(ctx context.Context, req *TokenRequest, creds ClientCredentials) (*TokenResponse, string, error) {
	if req.GrantType == "" {
		return nil, "", ErrInvalidRequest("grant_type is required")
	}
	if !Validate(ParamGrantType, req.GrantType) {
		return nil, "", ErrInvalidRequest("grant_type is malformed")
	}

	handler, ok := s.registry.GrantType(req.GrantType)
	if !ok {
		return nil, "", ErrUnsupportedGrantType(fmt.Sprintf("grant_type %q is not supported", req.GrantType))
	}

	client, err := s.AuthenticateClient(ctx, creds, GrantType(req.GrantType))
	if err != nil {
		return nil, "", err
	}

	resp, err := handler.HandleToken(ctx, s, req, client)
	return resp, client.ClientID, err
}

// AuthenticateResourceOwner checks end-user credentials presented to the authorization
// endpoint. It returns storage.ErrInvalidCredentials for any mismatch.
func (s *Server) AuthenticateResourceOwner(ctx context.Context, username, password string) error {
	if !Validate(ParamUsername, username) || !Validate(ParamPassword, password) {
		return storage.ErrInvalidCredentials
	}

	err := s.store.AuthenticateUser(ctx, username, password)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrInvalidCredentials), errors.Is(err, storage.ErrUserNotFound):
		s.Auditor.LogAuthFailure(username, "", security.GetRequestID(ctx), "invalid_resource_owner_credentials")
		return storage.ErrInvalidCredentials
	default:
		return ErrServerError(fmt.Errorf("failed to authenticate user: %w", err))
	}
}

// LookupAccessToken returns a live access token. Malformed input is invalid_request;
// unknown or expired tokens are ErrAccessTokenInvalid.
func (s *Server) LookupAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	if token == "" {
		return nil, ErrInvalidRequest("access_token is required")
	}
	if !Validate(ParamAccessToken, token) {
		return nil, ErrInvalidRequest("access_token is malformed")
	}

	accessToken, err := s.store.GetAccessToken(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return nil, ErrAccessTokenInvalid
		}
		return nil, ErrServerError(fmt.Errorf("failed to get access token: %w", err))
	}
	if s.isExpired(accessToken.ExpiresAt) {
		return nil, ErrAccessTokenInvalid
	}
	return accessToken, nil
}

// issueTokens mints an access token and, when withRefresh is set, a refresh token, and
// renders the token response.
func (s *Server) issueTokens(ctx context.Context, grantType GrantType, clientID, username string, scopes []string, withRefresh bool) (*TokenResponse, error) {
	accessToken, err := s.issuer.IssueAccessToken(ctx, clientID, username, scopes)
	if err != nil {
		return nil, err
	}

	resp := s.tokenResponse(accessToken)
	if withRefresh {
		refreshToken, err := s.issuer.IssueRefreshToken(ctx, clientID, username, scopes)
		if err != nil {
			return nil, err
		}
		resp.RefreshToken = refreshToken.Token
	}

	requestID := security.GetRequestID(ctx)
	if grantType == grantTypeImplicit {
		s.Auditor.LogImplicitTokenIssued(username, clientID, requestID, resp.Scope)
	} else {
		s.Auditor.LogTokenIssued(username, clientID, requestID, string(grantType), resp.Scope)
	}
	s.metrics.RecordTokenIssued(ctx, string(grantType))
	s.Logger.Info("Issued access token",
		"client_id", clientID,
		"grant_type", grantType,
		"token_prefix", util.SafeTruncate(accessToken.Token, tokenLogPrefix))

	return resp, nil
}

// tokenResponse reports the lifetime the token was issued with, not the time left when
// the response is rendered.
func (s *Server) tokenResponse(accessToken *storage.AccessToken) *TokenResponse {
	return &TokenResponse{
		AccessToken: accessToken.Token,
		TokenType:   accessToken.TokenType,
		ExpiresIn:   int64(s.Config.accessTokenTTL() / time.Second),
		Scope:       util.JoinScopes(accessToken.Scopes),
	}
}

// rejectGrant records an invalid_grant outcome and returns the error to send
func (s *Server) rejectGrant(ctx context.Context, clientID string, grantType GrantType, reason, description string) error {
	s.Auditor.LogInvalidGrant(clientID, security.GetRequestID(ctx), string(grantType), reason)
	return ErrInvalidGrant(description)
}

func (s *Server) isExpired(expiresAt time.Time) bool {
	return security.IsExpiredWithGracePeriod(expiresAt, s.Config.Now(), s.Config.gracePeriod())
}

// logFailure logs a classified failure at a level matching its kind
func (s *Server) logFailure(ctx context.Context, span trace.Span, msg string, err error, args ...any) {
	classified := Classify(err)
	args = append(args,
		"error", classified.Code(),
		"description", classified.Description,
		"request_id", security.GetRequestID(ctx))

	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrError, classified.Code()))
	if classified.Kind == KindServerError {
		instrumentation.RecordError(span, err)
		s.Logger.Error(msg, append(args, "cause", errors.Unwrap(classified))...)
		return
	}
	instrumentation.SetSpanError(span, classified.Code())
	s.Logger.Debug(msg, args...)
}
