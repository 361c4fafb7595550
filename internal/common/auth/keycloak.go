// internal/common/auth/keycloak.go
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"formation-review/internal/common/errors"
	commonhttp "formation-review/internal/common/http"
)

// KeycloakClient verifies access tokens through Keycloak token introspection.
type KeycloakClient struct {
	baseURL      string
	realm        string
	clientID     string
	clientSecret string
	httpClient   *commonhttp.Client
}

// TokenInfo holds the fields of the introspection response we read.
type TokenInfo struct {
	Active            bool   `json:"active"`
	Scope             string `json:"scope,omitempty"`
	ClientID          string `json:"client_id,omitempty"`
	Username          string `json:"username,omitempty"`
	Email             string `json:"email,omitempty"`
	Name              string `json:"name,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
	Exp               int64  `json:"exp,omitempty"`
	Sub               string `json:"sub,omitempty"`
	Iss               string `json:"iss,omitempty"`
	RealmAccess       struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
}

func NewKeycloakClient(baseURL, realm, clientID, clientSecret string, timeout time.Duration) *KeycloakClient {
	return &KeycloakClient{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		realm:        realm,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   commonhttp.NewClient(timeout),
	}
}

// ValidateToken checks if an access token is valid and active.
func (k *KeycloakClient) ValidateToken(ctx context.Context, token string) (*TokenInfo, error) {
	introspectURL := fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token/introspect", k.baseURL, k.realm)

	data := url.Values{}
	data.Set("token", token)
	data.Set("token_type_hint", "access_token")
	data.Set("client_id", k.clientID)
	data.Set("client_secret", k.clientSecret)

	resp, err := k.httpClient.PostForm(ctx, introspectURL, data)
	if err != nil {
		return nil, errors.NewProviderError("keycloak", err)
	}
	defer commonhttp.Drain(resp)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		stdErr := errors.NewProviderError("keycloak", fmt.Errorf("introspection returned %d: %s", resp.StatusCode, body))
		stdErr.Retryable = isTransientHTTPError(resp.StatusCode)
		return nil, stdErr
	}

	var tokenInfo TokenInfo
	if err := json.NewDecoder(resp.Body).Decode(&tokenInfo); err != nil {
		return nil, errors.NewProviderError("keycloak", fmt.Errorf("decode introspection response: %w", err))
	}

	if !tokenInfo.Active {
		return nil, errors.NewAuthenticationError("token is expired, revoked or malformed")
	}

	return &tokenInfo, nil
}

// Verify resolves a token to an identity. The highest platform role found in
// realm_access wins; a token carrying none of them is rejected.
func (k *KeycloakClient) Verify(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, errors.NewAuthenticationError("missing bearer token")
	}

	info, err := k.ValidateToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if info.Sub == "" {
		return nil, errors.NewAuthenticationError("token has no subject")
	}

	role, ok := highestRole(info.RealmAccess.Roles)
	if !ok {
		return nil, errors.NewAuthenticationError("token carries no platform role")
	}

	name := info.Name
	if name == "" {
		name = info.PreferredUsername
	}

	return &Identity{
		UserID: info.Sub,
		Role:   role,
		Email:  info.Email,
		Name:   name,
	}, nil
}

func highestRole(roles []string) (Role, bool) {
	found := map[Role]bool{}
	for _, r := range roles {
		if role, err := ParseRole(r); err == nil {
			found[role] = true
		}
	}
	for _, r := range []Role{RoleAdmin, RoleRecruiter, RoleCandidate} {
		if found[r] {
			return r, true
		}
	}
	return "", false
}

func isTransientHTTPError(statusCode int) bool {
	switch statusCode {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
