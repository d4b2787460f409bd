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

package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/hackdesk/orchestrator/pkg/providers/gateway"
)

// GatewayConnection is one connection registered on the fake gateway.
type GatewayConnection struct {
	ID       string
	Name     string
	Host     string
	Port     int
	Username string
}

// GatewayProvider is an in-memory gateway.Provider. Error injection goes
// through the AtomicError fields; everything else behaves like a healthy
// gateway.
type GatewayProvider struct {
	CreateConnectionError AtomicError
	EnsureUserError       AtomicError
	GrantReadError        AtomicError
	UserTokenError        AtomicError
	ActiveError           AtomicError

	mu           sync.Mutex
	nextID       int
	connections  map[string]*GatewayConnection
	users        map[string]string
	grants       map[string]map[string]bool
	active       map[string][]gateway.ActiveConnection
	killed       []string
	deletedUsers []string
	publicURL    string
}

var _ gateway.Provider = (*GatewayProvider)(nil)

func NewGatewayProvider() *GatewayProvider {
	g := &GatewayProvider{publicURL: "https://gateway.test/guacamole"}
	g.Reset()
	return g
}

// Reset must be called between tests otherwise tests will pollute
// each other.
func (g *GatewayProvider) Reset() {
	g.CreateConnectionError.Reset()
	g.EnsureUserError.Reset()
	g.GrantReadError.Reset()
	g.UserTokenError.Reset()
	g.ActiveError.Reset()
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID = 0
	g.connections = map[string]*GatewayConnection{}
	g.users = map[string]string{}
	g.grants = map[string]map[string]bool{}
	g.active = map[string][]gateway.ActiveConnection{}
	g.killed = nil
	g.deletedUsers = nil
}

// SetActive marks live sessions on a connection, as the real gateway's
// activeConnections endpoint would report them.
func (g *GatewayProvider) SetActive(connectionID string, sessions ...gateway.ActiveConnection) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(sessions) == 0 {
		delete(g.active, connectionID)
		return
	}
	g.active[connectionID] = sessions
}

func (g *GatewayProvider) Connection(connectionID string) *GatewayConnection {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connections[connectionID]
}

func (g *GatewayProvider) User(username string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	password, ok := g.users[username]
	return password, ok
}

func (g *GatewayProvider) KilledSessions() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string{}, g.killed...)
}

func (g *GatewayProvider) DeletedUsers() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string{}, g.deletedUsers...)
}

func (g *GatewayProvider) CreateConnection(_ context.Context, name, host string, port int, username, _ string) (string, error) {
	if err := g.CreateConnectionError.Get(); err != nil {
		return "", err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	id := fmt.Sprintf("%d", g.nextID)
	g.connections[id] = &GatewayConnection{ID: id, Name: name, Host: host, Port: port, Username: username}
	return id, nil
}

func (g *GatewayProvider) DeleteConnection(_ context.Context, connectionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.connections, connectionID)
	delete(g.active, connectionID)
	return nil
}

func (g *GatewayProvider) KillSessions(_ context.Context, connectionID string) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	sessions := g.active[connectionID]
	for _, s := range sessions {
		g.killed = append(g.killed, s.UUID)
	}
	delete(g.active, connectionID)
	return len(sessions), nil
}

func (g *GatewayProvider) FindConnectionsByHost(_ context.Context, host string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for id, connection := range g.connections {
		if connection.Host == host {
			out = append(out, id)
		}
	}
	return out, nil
}

func (g *GatewayProvider) EnsureUser(_ context.Context, username, password string) error {
	if err := g.EnsureUserError.Get(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.users[username] = password
	return nil
}

func (g *GatewayProvider) DeleteUser(_ context.Context, username string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.users, username)
	delete(g.grants, username)
	g.deletedUsers = append(g.deletedUsers, username)
	return nil
}

func (g *GatewayProvider) GrantRead(_ context.Context, username, connectionID string) error {
	if err := g.GrantReadError.Get(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.grants[username] == nil {
		g.grants[username] = map[string]bool{}
	}
	g.grants[username][connectionID] = true
	return nil
}

func (g *GatewayProvider) UserToken(_ context.Context, username, _ string) (string, error) {
	if err := g.UserTokenError.Get(); err != nil {
		return "", err
	}
	return "user-token-" + username, nil
}

func (g *GatewayProvider) AdminToken(context.Context) (string, error) {
	return "admin-token", nil
}

func (g *GatewayProvider) ActiveConnections(context.Context) (map[string][]gateway.ActiveConnection, error) {
	if err := g.ActiveError.Get(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	out := map[string][]gateway.ActiveConnection{}
	for id, sessions := range g.active {
		out[id] = append([]gateway.ActiveConnection{}, sessions...)
	}
	return out, nil
}

func (g *GatewayProvider) ConnectionURL(connectionID, token string) string {
	return fmt.Sprintf("%s/?token=%s#/client/%s", g.publicURL, token, connectionID)
}

func (g *GatewayProvider) PublicURL() string {
	return g.publicURL
}
