package oauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/giantswarm/oauth2-server/security"
	"github.com/giantswarm/oauth2-server/server"
)

// ErrorCodeInvalidToken is reported by the debug endpoint for an unknown or expired
// access token (RFC 6750 Section 3.1)
const ErrorCodeInvalidToken = "invalid_token"

// writeServerError renders an engine error as a JSON error response
func (h *Handler) writeServerError(w http.ResponseWriter, err error) {
	classified := server.Classify(err)
	h.writeError(w, classified.Code(), classified.Description, classified.Status())
}

// writeTokenError is writeServerError for the token endpoint, where invalid_client also
// challenges for client credentials (RFC 6749 Section 5.2)
func (h *Handler) writeTokenError(w http.ResponseWriter, err error) {
	if server.Classify(err).Kind == server.KindInvalidClient {
		w.Header().Set("WWW-Authenticate", h.basicChallenge())
	}
	h.writeServerError(w, err)
}

// writeAuthorizeError redirects to the client when the engine could resolve its redirect
// URI and writes a JSON error otherwise
func (h *Handler) writeAuthorizeError(w http.ResponseWriter, r *http.Request, err error) {
	var redirectErr *server.RedirectError
	if errors.As(err, &redirectErr) {
		security.SetSecurityHeaders(w, h.config.Issuer)
		http.Redirect(w, r, redirectErr.Location(), http.StatusFound)
		return
	}
	h.writeServerError(w, err)
}

// writeInvalidToken writes a 401 with a Bearer challenge
func (h *Handler) writeInvalidToken(w http.ResponseWriter, description string) {
	w.Header().Set("WWW-Authenticate",
		fmt.Sprintf("Bearer realm=%q, error=%q, error_description=%q", h.config.Realm, ErrorCodeInvalidToken, description))
	h.writeError(w, ErrorCodeInvalidToken, description, http.StatusUnauthorized)
}

// writeOwnerChallenge asks the user agent for resource owner credentials
func (h *Handler) writeOwnerChallenge(w http.ResponseWriter, description string) {
	w.Header().Set("WWW-Authenticate", h.basicChallenge())
	h.writeError(w, server.ErrorCodeInvalidRequest, description, http.StatusUnauthorized)
}

func (h *Handler) writeError(w http.ResponseWriter, code, description string, status int) {
	security.SetSecurityHeaders(w, h.config.Issuer)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            code,
		ErrorDescription: description,
	})
}

func (h *Handler) basicChallenge() string {
	return fmt.Sprintf("Basic realm=%q", h.config.Realm)
}
