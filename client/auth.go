package client

import (
	"context"
	"net/http"
)

// Register creates an account. If the server answers with a token pair the session
// is stored, otherwise the client stays as it was and the caller should Login. A 409
// for an existing account is returned as an *APIError; see IsConflict.
func (c *Client) Register(ctx context.Context, name, email, password string) (*AuthResponse, error) {
	raw, err := c.authCall(ctx, "/api/auth/register", map[string]string{
		"name":     name,
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, err
	}
	resp := &AuthResponse{Raw: raw}
	if _, ok := raw["accessToken"]; !ok {
		return resp, nil
	}
	if err := c.storeTokens(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Login authenticates and stores the returned token pair.
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResponse, error) {
	raw, err := c.authCall(ctx, "/api/auth/login", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, err
	}
	resp := &AuthResponse{Raw: raw}
	if err := c.storeTokens(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// RefreshAuth exchanges the held refresh token for a new pair.
func (c *Client) RefreshAuth(ctx context.Context) (*AuthResponse, error) {
	_, refreshToken := c.Tokens()
	if refreshToken == "" {
		return nil, ErrNoRefreshToken
	}
	raw, err := c.authCall(ctx, "/api/auth/refresh", map[string]string{
		"refreshToken": refreshToken,
	})
	if err != nil {
		return nil, err
	}
	resp := &AuthResponse{Raw: raw}
	if err := c.storeTokens(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Auth endpoints are called without the bearer header.
func (c *Client) authCall(ctx context.Context, path string, body any) (Object, error) {
	var out Object
	if err := c.do(ctx, request{method: http.MethodPost, path: path, body: body, public: true}, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = Object{}
	}
	return out, nil
}

// storeTokens validates both fields before touching the session, so a malformed
// response leaves the previous pair in place.
func (c *Client) storeTokens(resp *AuthResponse) error {
	access, ok := resp.Raw["accessToken"].(string)
	if !ok || access == "" {
		return &FieldError{Field: "accessToken"}
	}
	refresh, ok := resp.Raw["refreshToken"].(string)
	if !ok || refresh == "" {
		return &FieldError{Field: "refreshToken"}
	}
	resp.AccessToken = access
	resp.RefreshToken = refresh
	c.setTokens(access, refresh)
	return nil
}
