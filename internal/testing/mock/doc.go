// Package mock provides in-process servers for exercising authentication
// paths of the steps without external infrastructure.
//
// OAuthServer is a client credentials authorization server. It publishes
// RFC 8414 and OpenID Connect discovery documents, issues opaque tokens
// whose lifetime follows a controllable Clock, and can guard any handler
// so that only tokens it issued are accepted:
//
//	srv := mock.NewOAuthServer(mock.OAuthServerConfig{ClientID: "svc", ClientSecret: "s"})
//	srv.Start()
//	defer srv.Close()
//	api := httptest.NewServer(srv.Protect(handler))
//
// Error simulation covers token endpoint failures, rejected clients and slow
// responses.
package mock
