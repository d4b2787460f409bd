/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package gateway programs the display gateway (Apache Guacamole): RDP
// connection records, ephemeral users, permissions, per-user tokens and the
// tokenized viewer URL handed to browsers.
package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/patrickmn/go-cache"
)

const (
	adminTokenKey = "admin"
	// Guacamole tokens live ~60 minutes; re-authenticating well before
	// expiry keeps a stale cached token from surfacing as 401s.
	adminTokenTTL = 5 * time.Minute

	requestTimeout = 10 * time.Second
)

// ActiveConnection is one live gateway session on a connection record.
type ActiveConnection struct {
	// UUID identifies the live session for kill operations.
	UUID string
	// StartTime is epoch seconds.
	StartTime int64
	RemoteHost string
}

type Provider interface {
	CreateConnection(ctx context.Context, name, host string, port int, username, password string) (string, error)
	DeleteConnection(ctx context.Context, connectionID string) error
	// KillSessions disconnects every live session on the connection and
	// returns how many it killed.
	KillSessions(ctx context.Context, connectionID string) (int, error)
	FindConnectionsByHost(ctx context.Context, host string) ([]string, error)
	// EnsureUser creates the user, updating the password if it already
	// exists. Idempotent so that gateway programming can be retried.
	EnsureUser(ctx context.Context, username, password string) error
	DeleteUser(ctx context.Context, username string) error
	GrantRead(ctx context.Context, username, connectionID string) error
	UserToken(ctx context.Context, username, password string) (string, error)
	AdminToken(ctx context.Context) (string, error)
	// ActiveConnections maps connection id to its live sessions. One call
	// fans out across every session the caller is sweeping.
	ActiveConnections(ctx context.Context) (map[string][]ActiveConnection, error)
	ConnectionURL(connectionID, token string) string
	PublicURL() string
}

type Config struct {
	// PublicURL is handed to browsers; InternalURL serves API calls.
	PublicURL   string
	InternalURL string
	DataSource  string
	AdminUser   string
	AdminPass   string
}

type DefaultProvider struct {
	cfg    Config
	client *http.Client
	tokens *cache.Cache
}

func NewDefaultProvider(cfg Config) *DefaultProvider {
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")
	cfg.InternalURL = strings.TrimRight(cfg.InternalURL, "/")
	if cfg.InternalURL == "" {
		cfg.InternalURL = cfg.PublicURL
	}
	if cfg.DataSource == "" {
		cfg.DataSource = "postgresql"
	}
	return &DefaultProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: requestTimeout},
		tokens: cache.New(adminTokenTTL, adminTokenTTL),
	}
}

func (p *DefaultProvider) PublicURL() string {
	return p.cfg.PublicURL
}

// ConnectionURL builds the tokenized viewer URL. The client identifier is
// the standard base64 of "<id>\x00c\x00<data source>", and the token query
// parameter must precede the fragment or the gateway drops it.
func (p *DefaultProvider) ConnectionURL(connectionID, token string) string {
	identifier := base64.StdEncoding.EncodeToString(
		[]byte(connectionID + "\x00" + "c" + "\x00" + p.cfg.DataSource))
	return fmt.Sprintf("%s/?token=%s#/client/%s", p.cfg.PublicURL, token, identifier)
}

func (p *DefaultProvider) AdminToken(ctx context.Context) (string, error) {
	if token, ok := p.tokens.Get(adminTokenKey); ok {
		return token.(string), nil
	}
	token, err := p.authenticate(ctx, p.cfg.AdminUser, p.cfg.AdminPass)
	if err != nil {
		return "", fmt.Errorf("authenticating gateway admin, %w", err)
	}
	p.tokens.SetDefault(adminTokenKey, token)
	return token, nil
}

func (p *DefaultProvider) UserToken(ctx context.Context, username, password string) (string, error) {
	var token string
	// Permission grants propagate asynchronously on the gateway; a fresh
	// user can fail its first login.
	err := retry.Do(func() error {
		var err error
		token, err = p.authenticate(ctx, username, password)
		return err
	}, retry.Context(ctx), retry.Attempts(3), retry.Delay(time.Second),
		retry.DelayType(retry.FixedDelay), retry.LastErrorOnly(true))
	if err != nil {
		return "", fmt.Errorf("authenticating gateway user %s, %w", username, err)
	}
	return token, nil
}

func (p *DefaultProvider) authenticate(ctx context.Context, username, password string) (string, error) {
	form := url.Values{"username": {username}, "password": {password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.InternalURL+"/api/tokens", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request returned %d", resp.StatusCode)
	}
	var result struct {
		AuthToken  string `json:"authToken"`
		DataSource string `json:"dataSource"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding token response, %w", err)
	}
	if result.AuthToken == "" {
		return "", fmt.Errorf("token response missing authToken")
	}
	return result.AuthToken, nil
}

func (p *DefaultProvider) CreateConnection(ctx context.Context, name, host string, port int, username, password string) (string, error) {
	parameters := map[string]string{
		"hostname":                   host,
		"port":                       strconv.Itoa(port),
		"security":                   "any",
		"ignore-cert":                "true",
		"resize-method":              "display-update",
		"enable-wallpaper":           "false",
		"enable-theming":             "false",
		"enable-font-smoothing":      "true",
		"enable-full-window-drag":    "false",
		"enable-desktop-composition": "false",
		"enable-menu-animations":     "false",
		"disable-bitmap-caching":     "false",
		"disable-offscreen-caching":  "false",
		"color-depth":                "24",
	}
	if username != "" {
		parameters["username"] = username
	}
	if password != "" {
		parameters["password"] = password
	}
	payload := map[string]any{
		"parentIdentifier": "ROOT",
		"name":             name,
		"protocol":         "rdp",
		"parameters":       parameters,
		"attributes": map[string]string{
			"max-connections":          "1",
			"max-connections-per-user": "1",
		},
	}
	var result struct {
		Identifier string `json:"identifier"`
	}
	if err := p.do(ctx, http.MethodPost, p.dataPath("/connections"), payload, &result); err != nil {
		return "", fmt.Errorf("creating connection %s, %w", name, err)
	}
	if result.Identifier == "" {
		return "", fmt.Errorf("creating connection %s, response missing identifier", name)
	}
	return result.Identifier, nil
}

func (p *DefaultProvider) DeleteConnection(ctx context.Context, connectionID string) error {
	if err := p.do(ctx, http.MethodDelete, p.dataPath("/connections/"+connectionID), nil, nil); err != nil {
		return fmt.Errorf("deleting connection %s, %w", connectionID, err)
	}
	return nil
}

func (p *DefaultProvider) KillSessions(ctx context.Context, connectionID string) (int, error) {
	active, err := p.ActiveConnections(ctx)
	if err != nil {
		return 0, err
	}
	sessions := active[connectionID]
	if len(sessions) == 0 {
		return 0, nil
	}
	patch := make([]map[string]string, 0, len(sessions))
	for _, session := range sessions {
		patch = append(patch, map[string]string{"op": "remove", "path": "/" + session.UUID})
	}
	if err := p.do(ctx, http.MethodPatch, p.dataPath("/activeConnections"), patch, nil); err != nil {
		return 0, fmt.Errorf("killing sessions on connection %s, %w", connectionID, err)
	}
	return len(sessions), nil
}

func (p *DefaultProvider) FindConnectionsByHost(ctx context.Context, host string) ([]string, error) {
	connections := map[string]json.RawMessage{}
	if err := p.do(ctx, http.MethodGet, p.dataPath("/connections"), nil, &connections); err != nil {
		return nil, fmt.Errorf("listing connections, %w", err)
	}
	var matches []string
	for id := range connections {
		parameters := map[string]string{}
		if err := p.do(ctx, http.MethodGet, p.dataPath("/connections/"+id+"/parameters"), nil, &parameters); err != nil {
			continue
		}
		if parameters["hostname"] == host {
			matches = append(matches, id)
		}
	}
	return matches, nil
}

func (p *DefaultProvider) EnsureUser(ctx context.Context, username, password string) error {
	payload := map[string]any{
		"username": username,
		"password": password,
		"attributes": map[string]string{
			"disabled":            "",
			"expired":             "",
			"access-window-start": "",
			"access-window-end":   "",
			"valid-from":          "",
			"valid-until":         "",
			"timezone":            "",
		},
	}
	if err := p.do(ctx, http.MethodPost, p.dataPath("/users"), payload, nil); err != nil {
		// Already exists: update the password instead.
		if err := p.do(ctx, http.MethodPut, p.dataPath("/users/"+username), payload, nil); err != nil {
			return fmt.Errorf("ensuring user %s, %w", username, err)
		}
	}
	return nil
}

func (p *DefaultProvider) DeleteUser(ctx context.Context, username string) error {
	if err := p.do(ctx, http.MethodDelete, p.dataPath("/users/"+username), nil, nil); err != nil {
		return fmt.Errorf("deleting user %s, %w", username, err)
	}
	return nil
}

func (p *DefaultProvider) GrantRead(ctx context.Context, username, connectionID string) error {
	patch := []map[string]string{{
		"op":    "add",
		"path":  "/connectionPermissions/" + connectionID,
		"value": "READ",
	}}
	if err := p.do(ctx, http.MethodPatch, p.dataPath("/users/"+username+"/permissions"), patch, nil); err != nil {
		return fmt.Errorf("granting %s read on connection %s, %w", username, connectionID, err)
	}
	return nil
}

func (p *DefaultProvider) ActiveConnections(ctx context.Context) (map[string][]ActiveConnection, error) {
	raw := map[string]struct {
		ConnectionIdentifier string `json:"connectionIdentifier"`
		StartDate            int64  `json:"startDate"`
		RemoteHost           string `json:"remoteHost"`
	}{}
	if err := p.do(ctx, http.MethodGet, p.dataPath("/activeConnections"), nil, &raw); err != nil {
		return nil, fmt.Errorf("listing active connections, %w", err)
	}
	active := map[string][]ActiveConnection{}
	for uuid, conn := range raw {
		active[conn.ConnectionIdentifier] = append(active[conn.ConnectionIdentifier], ActiveConnection{
			UUID:       uuid,
			StartTime:  conn.StartDate / 1000,
			RemoteHost: conn.RemoteHost,
		})
	}
	return active, nil
}

func (p *DefaultProvider) dataPath(suffix string) string {
	return "/session/data/" + p.cfg.DataSource + suffix
}

// do issues an admin-authenticated JSON request against the gateway API. A
// 401 invalidates the cached token so the next call re-authenticates.
func (p *DefaultProvider) do(ctx context.Context, method, path string, payload, out any) error {
	token, err := p.AdminToken(ctx)
	if err != nil {
		return err
	}
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding request, %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.cfg.InternalURL+"/api"+path+"?token="+url.QueryEscape(token), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		p.tokens.Delete(adminTokenKey)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s returned %d", method, path, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			return fmt.Errorf("decoding response, %w", err)
		}
	}
	return nil
}
