package oauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oauth2-server/instrumentation"
	"github.com/giantswarm/oauth2-server/internal/util"
	"github.com/giantswarm/oauth2-server/security"
	"github.com/giantswarm/oauth2-server/server"
	"github.com/giantswarm/oauth2-server/storage"
)

// Endpoint paths
const (
	PathAuthorizeHTTP = "/oauth2/authorize/http"
	PathAuthorizeForm = "/oauth2/authorize/form"
	PathToken         = "/oauth2/token"
	PathDebug         = "/oauth2/debug"
)

// Form fields carrying resource owner credentials on the form login endpoint
const (
	FormFieldUsername = "_username"
	FormFieldPassword = "_password"
)

const unknownEndpoint = "unknown"

// Handler is a thin HTTP adapter for the authorization server.
// It parses requests, authenticates the resource owner, and renders engine results.
type Handler struct {
	server  *server.Server
	config  *Config
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *instrumentation.Metrics
}

// NewHandler creates a new HTTP handler. Instrumentation is taken from srv, so any
// instrumentation must be installed on srv first.
func NewHandler(srv *server.Server, config *Config, logger *slog.Logger) (*Handler, error) {
	if srv == nil {
		return nil, fmt.Errorf("server is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		server: srv,
		config: applyDefaults(config),
		logger: logger,
	}

	if srv.Instrumentation != nil {
		h.tracer = srv.Instrumentation.Tracer("http")
		h.metrics = srv.Instrumentation.Metrics()
	}

	return h, nil
}

// Routes returns a router serving every endpoint
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(security.RequestIDMiddleware)
	r.Use(h.instrument)

	r.Get(PathAuthorizeHTTP, h.ServeAuthorizeHTTP)
	r.Get(PathAuthorizeForm, h.ServeAuthorizeForm)
	r.Post(PathAuthorizeForm, h.ServeAuthorizeForm)
	r.Post(PathToken, h.ServeToken)
	r.Get(PathDebug, h.ServeDebug)
	r.Post(PathDebug, h.ServeDebug)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		h.writeError(w, server.ErrorCodeInvalidRequest, "unknown endpoint", http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		h.writeError(w, server.ErrorCodeInvalidRequest, "method not allowed", http.StatusMethodNotAllowed)
	})

	return r
}

// ServeAuthorizeHTTP handles the authorization endpoint with the resource owner
// authenticated by HTTP Basic credentials
func (h *Handler) ServeAuthorizeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}

	username, password, ok := r.BasicAuth()
	if !ok {
		h.writeOwnerChallenge(w, "resource owner authentication is required")
		return
	}
	if !h.authenticateOwner(w, r, username, password) {
		return
	}
	h.authorize(w, r, username)
}

// ServeAuthorizeForm handles the authorization endpoint with the resource owner
// authenticated by posted login form fields
func (h *Handler) ServeAuthorizeForm(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}

	username := r.PostForm.Get(FormFieldUsername)
	password := r.PostForm.Get(FormFieldPassword)
	if r.Method != http.MethodPost || username == "" {
		h.writeError(w, server.ErrorCodeInvalidRequest, "resource owner authentication is required", http.StatusUnauthorized)
		return
	}
	if !h.authenticateOwner(w, r, username, password) {
		return
	}
	h.authorize(w, r, username)
}

// authenticateOwner checks resource owner credentials and writes the failure response
func (h *Handler) authenticateOwner(w http.ResponseWriter, r *http.Request, username, password string) bool {
	err := h.server.AuthenticateResourceOwner(r.Context(), username, password)
	switch {
	case err == nil:
		return true
	case errors.Is(err, storage.ErrInvalidCredentials):
		h.logger.Debug("Resource owner authentication failed",
			"client_ip", h.clientIP(r),
			"request_id", security.GetRequestID(r.Context()))
		h.writeOwnerChallenge(w, "invalid resource owner credentials")
	default:
		h.logger.Error("Resource owner authentication errored",
			"error", err,
			"request_id", security.GetRequestID(r.Context()))
		h.writeServerError(w, err)
	}
	return false
}

// authorize runs the authorization request for an authenticated resource owner.
// The form must already be parsed.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, username string) {
	params, err := singleValues(r.Form,
		server.ParamResponseType, server.ParamClientID, server.ParamRedirectURI, server.ParamScope, server.ParamState)
	if err != nil {
		h.writeServerError(w, err)
		return
	}

	resp, err := h.server.HandleAuthorize(r.Context(), &server.AuthorizeRequest{
		ResponseType: params[server.ParamResponseType],
		ClientID:     params[server.ParamClientID],
		RedirectURI:  params[server.ParamRedirectURI],
		Scope:        params[server.ParamScope],
		State:        params[server.ParamState],
	}, server.ResourceOwner{Username: username})
	if err != nil {
		h.writeAuthorizeError(w, r, err)
		return
	}

	security.SetSecurityHeaders(w, h.config.Issuer)
	http.Redirect(w, r, resp.Location, http.StatusFound)
}

// ServeToken handles the token endpoint
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}

	params, err := singleValues(r.PostForm,
		server.ParamGrantType, server.ParamCode, server.ParamRedirectURI, server.ParamUsername,
		server.ParamPassword, server.ParamRefreshToken, server.ParamScope,
		server.ParamClientID, server.ParamClientSecret)
	if err != nil {
		h.writeTokenError(w, err)
		return
	}

	creds := server.ClientCredentials{
		PostID:     params[server.ParamClientID],
		PostSecret: params[server.ParamClientSecret],
	}
	if id, secret, ok := r.BasicAuth(); ok {
		creds.BasicPresent = true
		creds.BasicID = formUnescape(id)
		creds.BasicSecret = formUnescape(secret)
	}

	resp, err := h.server.HandleToken(r.Context(), &server.TokenRequest{
		GrantType:    params[server.ParamGrantType],
		Code:         params[server.ParamCode],
		RedirectURI:  params[server.ParamRedirectURI],
		Username:     params[server.ParamUsername],
		Password:     params[server.ParamPassword],
		RefreshToken: params[server.ParamRefreshToken],
		Scope:        params[server.ParamScope],
	}, creds)
	if err != nil {
		h.writeTokenError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// ServeDebug describes the access token presented with the request
func (h *Handler) ServeDebug(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}

	token, err := bearerToken(r)
	if err != nil {
		h.writeServerError(w, err)
		return
	}

	accessToken, err := h.server.LookupAccessToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, server.ErrAccessTokenInvalid) {
			h.logger.Debug("Debug request with invalid access token",
				"token_prefix", util.SafeTruncate(token, 8),
				"client_ip", h.clientIP(r))
			h.writeInvalidToken(w, "access token is invalid or expired")
			return
		}
		h.writeServerError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, TokenInfo{
		AccessToken: accessToken.Token,
		TokenType:   accessToken.TokenType,
		ClientID:    accessToken.ClientID,
		Username:    accessToken.Username,
		Expires:     accessToken.ExpiresAt.Unix(),
		Scope:       util.JoinScopes(accessToken.Scopes),
	})
}

// bearerToken extracts the access token from the Authorization header or the
// access_token parameter. Using both is an error (RFC 6750 Section 2).
func bearerToken(r *http.Request) (string, error) {
	params, err := singleValues(r.Form, server.ParamAccessToken)
	if err != nil {
		return "", err
	}
	param := params[server.ParamAccessToken]

	header := r.Header.Get("Authorization")
	if header == "" {
		if param == "" {
			return "", server.ErrInvalidRequest("access token is required")
		}
		return param, nil
	}

	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "bearer") || token == "" {
		return "", server.ErrInvalidRequest("authorization header must use the Bearer scheme")
	}
	if param != "" {
		return "", server.ErrInvalidRequest("access token must be sent in exactly one place")
	}
	return strings.TrimSpace(token), nil
}

// singleValues picks the named parameters from values. A parameter sent more than once
// is invalid (RFC 6749 Section 3.1).
func singleValues(values url.Values, names ...string) (map[string]string, error) {
	params := make(map[string]string, len(names))
	for _, name := range names {
		vs := values[name]
		if len(vs) > 1 {
			return nil, server.ErrInvalidRequest(fmt.Sprintf("%s must not be repeated", name))
		}
		if len(vs) == 1 {
			params[name] = vs[0]
		}
	}
	return params, nil
}

// formUnescape decodes Basic credentials that the client form-encoded (RFC 6749
// Section 2.3.1). Values that do not decode are used as sent.
func formUnescape(value string) string {
	decoded, err := url.QueryUnescape(value)
	if err != nil {
		return value
	}
	return decoded
}

// parseForm parses query and body parameters within the configured size limit
func (h *Handler) parseForm(w http.ResponseWriter, r *http.Request) bool {
	if r.Body != nil {
		r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxFormBytes)
	}
	if err := r.ParseForm(); err != nil {
		h.writeError(w, server.ErrorCodeInvalidRequest, "failed to parse request", http.StatusBadRequest)
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	security.SetSecurityHeaders(w, h.config.Issuer)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warn("Failed to encode response", "error", err)
	}
}

func (h *Handler) clientIP(r *http.Request) string {
	return security.ClientIP(r, security.TrustedProxies{Enabled: h.config.TrustProxy, Count: h.config.TrustedProxyCount})
}

// instrument traces, counts, and logs every request
func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		ctx := r.Context()
		var span trace.Span
		if h.tracer != nil {
			ctx, span = h.tracer.Start(ctx, "oauth.http.request")
			defer span.End()
			r = r.WithContext(ctx)
		}

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		endpoint := unknownEndpoint
		if rctx := chi.RouteContext(ctx); rctx != nil && rctx.RoutePattern() != "" {
			endpoint = rctx.RoutePattern()
		}

		if span != nil {
			instrumentation.AddHTTPAttributes(span, r.Method, endpoint, status)
			instrumentation.SetSpanAttributes(span, attribute.String("http.request_id", security.GetRequestID(ctx)))
			if status >= http.StatusInternalServerError {
				instrumentation.SetSpanError(span, http.StatusText(status))
			} else {
				instrumentation.SetSpanSuccess(span)
			}
		}
		h.recordHTTPMetrics(r, endpoint, status, startTime)

		h.logger.Debug("HTTP request",
			"method", r.Method,
			"endpoint", endpoint,
			"status", status,
			"duration_ms", time.Since(startTime).Milliseconds(),
			"client_ip", h.clientIP(r),
			"request_id", security.GetRequestID(ctx))
	})
}

// recordHTTPMetrics records HTTP request metrics (total count and duration)
func (h *Handler) recordHTTPMetrics(r *http.Request, endpoint string, status int, startTime time.Time) {
	if h.metrics == nil {
		return
	}

	duration := time.Since(startTime).Seconds() * 1000 // convert to milliseconds
	h.metrics.RecordHTTPRequest(r.Context(), r.Method, endpoint, status, duration)
}
