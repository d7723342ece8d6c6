// Package server implements the core OAuth 2.0 authorization server logic.
//
// The Server dispatches authorization and token requests through a Registry of
// response type and grant type handlers. It authenticates clients and resource owners,
// resolves scopes, and issues codes and tokens through a storage.Store. Every failure
// is classified into the RFC 6749 error vocabulary by Classify; failures that must
// travel back to the client's redirect URI are returned as *RedirectError.
//
// Built-in handlers:
//   - response types "code" and "token"
//   - grant types authorization_code, password, client_credentials and refresh_token
//
// Example usage:
//
//	store := memory.New()
//	if err := storage.Seed(ctx, store, storage.DemoFixtures(), 0); err != nil {
//	    log.Fatal(err)
//	}
//
//	srv, err := server.New(store, server.DefaultConfig(), logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	resp, err := srv.HandleToken(ctx, &server.TokenRequest{
//	    GrantType: server.GrantTypeClientCredentials,
//	    Scope:     "demoscope1",
//	}, server.ClientCredentials{BasicID: "demoapp", BasicSecret: "demopass"})
package server
