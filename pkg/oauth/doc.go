// Package oauth discovers OAuth 2.0 authorization server metadata.
//
// Client fetches RFC 8414 metadata from
// <issuer>/.well-known/oauth-authorization-server and falls back to OpenID
// Connect discovery at <issuer>/.well-known/openid-configuration. Results
// are cached per issuer for a TTL; concurrent lookups of the same issuer
// share one request.
//
//	c := oauth.NewClient()
//	md, err := c.DiscoverMetadata(ctx, "https://login.example.com/realms/test")
//	tokenURL := md.TokenEndpoint
package oauth
