package armclient

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// DefaultAuthority is the Azure AD login endpoint.
const DefaultAuthority = "https://login.microsoftonline.com"

// Credentials identify a service principal.
type Credentials struct {
	Authority    string
	TenantID     string
	ClientID     string
	ClientSecret string
	// Resource is the audience tokens are requested for; defaults to the
	// management endpoint.
	Resource string
}

// Complete reports whether every credential needed for a token is present.
func (c Credentials) Complete() bool {
	return c.TenantID != "" && c.ClientID != "" && c.ClientSecret != ""
}

// TokenURL returns the v1 token endpoint of the tenant.
func (c Credentials) TokenURL() string {
	authority := c.Authority
	if authority == "" {
		authority = DefaultAuthority
	}
	return strings.TrimRight(authority, "/") + "/" + c.TenantID + "/oauth2/token"
}

// NewHTTPClient returns a client that attaches a client-credentials bearer
// token to every request, or a plain client when creds are incomplete.
func NewHTTPClient(ctx context.Context, creds Credentials, timeout time.Duration) *http.Client {
	if !creds.Complete() {
		return &http.Client{Timeout: timeout}
	}
	resource := creds.Resource
	if resource == "" {
		resource = DefaultBaseURL
	}
	cfg := clientcredentials.Config{
		ClientID:       creds.ClientID,
		ClientSecret:   creds.ClientSecret,
		TokenURL:       creds.TokenURL(),
		EndpointParams: url.Values{"resource": {resource}},
		AuthStyle:      oauth2.AuthStyleInParams,
	}
	client := cfg.Client(ctx)
	client.Timeout = timeout
	return client
}
