package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/tillpoint/pos-gateway/internal/domain"
)

// AuthAPI calls the login and refresh endpoints directly, without the session interceptors.
type AuthAPI struct {
	base        *url.URL
	http        *http.Client
	loginPath   string
	refreshPath string
}

// NewAuthAPI builds the auth endpoint client.
func NewAuthAPI(baseURL string, httpClient *http.Client, loginPath, refreshPath string) (*AuthAPI, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &AuthAPI{base: base, http: httpClient, loginPath: loginPath, refreshPath: refreshPath}, nil
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Login performs POST /auth/login.
func (a *AuthAPI) Login(ctx context.Context, creds domain.Credentials) (domain.LoginResult, error) {
	var result domain.LoginResult
	if err := a.post(ctx, a.loginPath, creds, &result); err != nil {
		return domain.LoginResult{}, err
	}
	if result.AccessToken == "" {
		return domain.LoginResult{}, errors.New("login response has no accessToken")
	}
	return result, nil
}

// Refresh performs POST /auth/refresh. The returned refresh token is empty when the server
// did not rotate it.
func (a *AuthAPI) Refresh(ctx context.Context, refreshToken string) (domain.TokenPair, error) {
	var pair domain.TokenPair
	if err := a.post(ctx, a.refreshPath, refreshRequest{RefreshToken: refreshToken}, &pair); err != nil {
		return domain.TokenPair{}, err
	}
	if pair.AccessToken == "" {
		return domain.TokenPair{}, errors.New("refresh response has no accessToken")
	}
	return pair, nil
}

func (a *AuthAPI) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base.JoinPath(path).String(), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read body: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Body: body}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode body: %w", path, err)
	}
	return nil
}
