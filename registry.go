package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const registryTimeout = 30 * time.Second

// ErrUnauthorized means the server rejected the stored token.
var ErrUnauthorized = errors.New("not authenticated")

// Project is a directory the server can open sessions in.
type Project struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Path       string  `json:"path"`
	HasSession bool    `json:"has_session"`
	SessionID  *string `json:"session_id"`
}

// SessionInfo describes a live session on the server.
type SessionInfo struct {
	SessionID string `json:"session_id"`
	ProjectID string `json:"project_id"`
	Directory string `json:"directory"`
}

// RegistryClient talks to the session registry API that hands out the
// handles a Terminal connects to.
type RegistryClient struct {
	base   *url.URL
	token  string
	client *http.Client
}

// NewRegistryClient creates a client for the server at base. token may
// be empty for Login.
func NewRegistryClient(base, token string) (*RegistryClient, error) {
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse server address: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("server address %q has no host", base)
	}
	return &RegistryClient{
		base:   parsed,
		token:  token,
		client: &http.Client{Timeout: registryTimeout},
	}, nil
}

// Login exchanges credentials for a bearer token.
func (rc *RegistryClient) Login(ctx context.Context, username, password string) (string, error) {
	var resp struct {
		Token    string `json:"token"`
		Username string `json:"username"`
	}
	body := map[string]string{"username": username, "password": password}
	if err := rc.do(ctx, http.MethodPost, "/api/login", body, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", fmt.Errorf("login: server returned no token")
	}
	return resp.Token, nil
}

func (rc *RegistryClient) Projects(ctx context.Context) ([]Project, error) {
	var projects []Project
	if err := rc.do(ctx, http.MethodGet, "/api/projects", nil, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

func (rc *RegistryClient) Sessions(ctx context.Context) ([]SessionInfo, error) {
	var sessions []SessionInfo
	if err := rc.do(ctx, http.MethodGet, "/api/sessions", nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// StartSession starts (or reuses) the session of a project and returns
// its handle.
func (rc *RegistryClient) StartSession(ctx context.Context, projectID string) (string, error) {
	var resp struct {
		SessionID string `json:"session_id"`
		ProjectID string `json:"project_id"`
	}
	path := "/api/projects/" + url.PathEscape(projectID) + "/session"
	if err := rc.do(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return "", err
	}
	if resp.SessionID == "" {
		return "", fmt.Errorf("start session: server returned no session id")
	}
	return resp.SessionID, nil
}

func (rc *RegistryClient) StopSession(ctx context.Context, projectID string) error {
	path := "/api/projects/" + url.PathEscape(projectID) + "/session"
	return rc.do(ctx, http.MethodDelete, path, nil, nil)
}

func (rc *RegistryClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	target := *rc.base
	target.RawPath = ""
	target.RawQuery = ""
	target.Path = strings.TrimSuffix(target.Path, "/") + path

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if rc.token != "" {
		req.Header.Set("Authorization", "Bearer "+rc.token)
	}

	resp, err := rc.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%s %s: %w: %s", method, path, ErrUnauthorized, errorDetail(resp.Body))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := errorDetail(resp.Body)
		if detail == "" {
			detail = fmt.Sprintf("request failed: %d", resp.StatusCode)
		}
		return fmt.Errorf("%s %s: %s", method, path, detail)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

// errorDetail extracts the "detail" field of an error response.
func errorDetail(r io.Reader) string {
	var payload struct {
		Detail any `json:"detail"`
	}
	data, err := io.ReadAll(io.LimitReader(r, 64<<10))
	if err != nil || json.Unmarshal(data, &payload) != nil || payload.Detail == nil {
		return ""
	}
	if s, ok := payload.Detail.(string); ok {
		return s
	}
	return fmt.Sprint(payload.Detail)
}
