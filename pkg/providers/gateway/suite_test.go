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

package gateway_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hackdesk/orchestrator/pkg/providers/gateway"
)

func TestGateway(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Providers/Gateway")
}

// guacServer imitates the slice of the Guacamole REST API the provider
// programs: token minting, connection and user CRUD, permission patches and
// the active connection listing.
type guacServer struct {
	mu          sync.Mutex
	authCalls   int
	userFails   map[string]int
	users       map[string]string
	connections map[string]map[string]string
	permissions map[string][]string
	active      map[string]map[string]any
	kills       []string
	nextID      int
}

func newGuacServer() *guacServer {
	return &guacServer{
		userFails:   map[string]int{},
		users:       map[string]string{"guacadmin": "guacadmin"},
		connections: map[string]map[string]string{},
		permissions: map[string][]string{},
		active:      map[string]map[string]any{},
	}
}

//nolint:gocyclo
func (g *guacServer) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()
		path := strings.TrimPrefix(r.URL.Path, "/api")
		switch {
		case path == "/tokens" && r.Method == http.MethodPost:
			Expect(r.ParseForm()).To(Succeed())
			username, password := r.PostFormValue("username"), r.PostFormValue("password")
			g.authCalls++
			if g.userFails[username] > 0 {
				g.userFails[username]--
				w.WriteHeader(http.StatusForbidden)
				return
			}
			if g.users[username] != password {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]string{
				"authToken": "token-" + username, "dataSource": "postgresql",
			})
		case path == "/session/data/postgresql/connections" && r.Method == http.MethodGet:
			listing := map[string]map[string]string{}
			for id := range g.connections {
				listing[id] = map[string]string{"identifier": id}
			}
			_ = json.NewEncoder(w).Encode(listing)
		case strings.HasSuffix(path, "/parameters") && r.Method == http.MethodGet:
			id := strings.TrimSuffix(strings.TrimPrefix(path, "/session/data/postgresql/connections/"), "/parameters")
			_ = json.NewEncoder(w).Encode(g.connections[id])
		case path == "/session/data/postgresql/connections" && r.Method == http.MethodPost:
			var payload struct {
				Name       string            `json:"name"`
				Protocol   string            `json:"protocol"`
				Parameters map[string]string `json:"parameters"`
			}
			Expect(json.NewDecoder(r.Body).Decode(&payload)).To(Succeed())
			Expect(payload.Protocol).To(Equal("rdp"))
			g.nextID++
			id := fmt.Sprintf("%d", g.nextID)
			g.connections[id] = payload.Parameters
			_ = json.NewEncoder(w).Encode(map[string]string{"identifier": id})
		case strings.HasPrefix(path, "/session/data/postgresql/connections/") && r.Method == http.MethodDelete:
			id := strings.TrimPrefix(path, "/session/data/postgresql/connections/")
			if _, ok := g.connections[id]; !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			delete(g.connections, id)
			w.WriteHeader(http.StatusNoContent)
		case path == "/session/data/postgresql/users" && r.Method == http.MethodPost:
			var payload struct {
				Username string `json:"username"`
				Password string `json:"password"`
			}
			Expect(json.NewDecoder(r.Body).Decode(&payload)).To(Succeed())
			if _, exists := g.users[payload.Username]; exists {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			g.users[payload.Username] = payload.Password
		case strings.HasPrefix(path, "/session/data/postgresql/users/") && strings.HasSuffix(path, "/permissions") && r.Method == http.MethodPatch:
			username := strings.TrimSuffix(strings.TrimPrefix(path, "/session/data/postgresql/users/"), "/permissions")
			var patch []map[string]string
			Expect(json.NewDecoder(r.Body).Decode(&patch)).To(Succeed())
			for _, op := range patch {
				g.permissions[username] = append(g.permissions[username], op["path"])
			}
		case strings.HasPrefix(path, "/session/data/postgresql/users/") && r.Method == http.MethodPut:
			username := strings.TrimPrefix(path, "/session/data/postgresql/users/")
			var payload struct {
				Password string `json:"password"`
			}
			Expect(json.NewDecoder(r.Body).Decode(&payload)).To(Succeed())
			g.users[username] = payload.Password
			w.WriteHeader(http.StatusNoContent)
		case strings.HasPrefix(path, "/session/data/postgresql/users/") && r.Method == http.MethodDelete:
			delete(g.users, strings.TrimPrefix(path, "/session/data/postgresql/users/"))
			w.WriteHeader(http.StatusNoContent)
		case path == "/session/data/postgresql/activeConnections" && r.Method == http.MethodGet:
			_ = json.NewEncoder(w).Encode(g.active)
		case path == "/session/data/postgresql/activeConnections" && r.Method == http.MethodPatch:
			var patch []map[string]string
			Expect(json.NewDecoder(r.Body).Decode(&patch)).To(Succeed())
			for _, op := range patch {
				uuid := strings.TrimPrefix(op["path"], "/")
				g.kills = append(g.kills, uuid)
				delete(g.active, uuid)
			}
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

var _ = Describe("Gateway", func() {
	var ctx context.Context
	var guac *guacServer
	var server *httptest.Server
	var provider *gateway.DefaultProvider

	BeforeEach(func() {
		ctx = context.Background()
		guac = newGuacServer()
		server = httptest.NewServer(guac.handler())
		DeferCleanup(server.Close)
		provider = gateway.NewDefaultProvider(gateway.Config{
			PublicURL:   "https://gateway.test/guacamole",
			InternalURL: server.URL,
			AdminUser:   "guacadmin",
			AdminPass:   "guacadmin",
		})
	})

	Describe("credentials", func() {
		It("should derive gateway names from the session id tail", func() {
			Expect(gateway.EphemeralUsername("sess-a1b2c3d4e5f6")).To(Equal("session_c3d4e5f6"))
			Expect(gateway.ConnectionName("sess-a1b2c3d4e5f6")).To(Equal("workstation-c3d4e5f6"))
			Expect(gateway.EphemeralUsername("short")).To(Equal("session_short"))
		})

		It("should derive a stable password", func() {
			first := gateway.DerivePassword("sess-1", "user-1", "salt")
			Expect(gateway.DerivePassword("sess-1", "user-1", "salt")).To(Equal(first))
			Expect(first).To(HaveLen(16))
			Expect(gateway.DerivePassword("sess-1", "user-1", "other")).ToNot(Equal(first))
			Expect(gateway.DerivePassword("sess-2", "user-1", "salt")).ToNot(Equal(first))
		})
	})

	Describe("ConnectionURL", func() {
		It("should place the token before the client fragment", func() {
			url := provider.ConnectionURL("42", "tok")
			identifier := base64.StdEncoding.EncodeToString([]byte("42\x00c\x00postgresql"))
			Expect(url).To(Equal("https://gateway.test/guacamole/?token=tok#/client/" + identifier))
		})
	})

	Describe("AdminToken", func() {
		It("should cache the admin token across calls", func() {
			token, err := provider.AdminToken(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(token).To(Equal("token-guacadmin"))
			_, err = provider.AdminToken(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(guac.authCalls).To(Equal(1))
		})
	})

	Describe("UserToken", func() {
		It("should retry until the fresh user's login propagates", func() {
			guac.users["session_abc"] = "pw"
			guac.userFails["session_abc"] = 2
			token, err := provider.UserToken(ctx, "session_abc", "pw")
			Expect(err).ToNot(HaveOccurred())
			Expect(token).To(Equal("token-session_abc"))
		})

		It("should give up after bounded attempts", func() {
			guac.users["session_abc"] = "pw"
			guac.userFails["session_abc"] = 10
			_, err := provider.UserToken(ctx, "session_abc", "pw")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("CreateConnection", func() {
		It("should program an rdp connection and return its identifier", func() {
			id, err := provider.CreateConnection(ctx, "workstation-abc", "10.0.0.9", 3389, "workstation", "secret")
			Expect(err).ToNot(HaveOccurred())
			Expect(id).To(Equal("1"))
			Expect(guac.connections["1"]).To(HaveKeyWithValue("hostname", "10.0.0.9"))
			Expect(guac.connections["1"]).To(HaveKeyWithValue("port", "3389"))
			Expect(guac.connections["1"]).To(HaveKeyWithValue("username", "workstation"))
			Expect(guac.connections["1"]).To(HaveKeyWithValue("ignore-cert", "true"))
		})
	})

	Describe("EnsureUser", func() {
		It("should create a new user", func() {
			Expect(provider.EnsureUser(ctx, "session_abc", "pw")).To(Succeed())
			Expect(guac.users).To(HaveKeyWithValue("session_abc", "pw"))
		})

		It("should update the password when the user already exists", func() {
			guac.users["session_abc"] = "old"
			Expect(provider.EnsureUser(ctx, "session_abc", "new")).To(Succeed())
			Expect(guac.users).To(HaveKeyWithValue("session_abc", "new"))
		})
	})

	Describe("GrantRead", func() {
		It("should patch a READ permission onto the user", func() {
			guac.users["session_abc"] = "pw"
			Expect(provider.GrantRead(ctx, "session_abc", "42")).To(Succeed())
			Expect(guac.permissions["session_abc"]).To(ContainElement("/connectionPermissions/42"))
		})
	})

	Describe("ActiveConnections", func() {
		It("should group live sessions by connection and convert start times", func() {
			guac.active["uuid-1"] = map[string]any{"connectionIdentifier": "42", "startDate": int64(1700000000000), "remoteHost": "1.2.3.4"}
			guac.active["uuid-2"] = map[string]any{"connectionIdentifier": "42", "startDate": int64(1700000060000)}
			guac.active["uuid-3"] = map[string]any{"connectionIdentifier": "7"}

			active, err := provider.ActiveConnections(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(active["42"]).To(HaveLen(2))
			Expect(active["7"]).To(HaveLen(1))
			for _, conn := range active["42"] {
				if conn.UUID == "uuid-1" {
					Expect(conn.StartTime).To(Equal(int64(1700000000)))
					Expect(conn.RemoteHost).To(Equal("1.2.3.4"))
				}
			}
		})
	})

	Describe("KillSessions", func() {
		It("should disconnect every live session on the connection", func() {
			guac.active["uuid-1"] = map[string]any{"connectionIdentifier": "42"}
			guac.active["uuid-2"] = map[string]any{"connectionIdentifier": "42"}
			guac.active["uuid-3"] = map[string]any{"connectionIdentifier": "7"}

			killed, err := provider.KillSessions(ctx, "42")
			Expect(err).ToNot(HaveOccurred())
			Expect(killed).To(Equal(2))
			Expect(guac.kills).To(ConsistOf("uuid-1", "uuid-2"))
		})

		It("should be a no-op for an idle connection", func() {
			killed, err := provider.KillSessions(ctx, "42")
			Expect(err).ToNot(HaveOccurred())
			Expect(killed).To(BeZero())
		})
	})

	Describe("DeleteConnection", func() {
		It("should delete the connection record", func() {
			id, err := provider.CreateConnection(ctx, "workstation-abc", "10.0.0.9", 3389, "", "")
			Expect(err).ToNot(HaveOccurred())
			Expect(provider.DeleteConnection(ctx, id)).To(Succeed())
			Expect(guac.connections).To(BeEmpty())
		})

		It("should surface a missing connection as an error", func() {
			Expect(provider.DeleteConnection(ctx, "missing")).ToNot(Succeed())
		})
	})

	Describe("FindConnectionsByHost", func() {
		It("should match connections by their hostname parameter", func() {
			first, err := provider.CreateConnection(ctx, "a", "10.0.0.9", 3389, "", "")
			Expect(err).ToNot(HaveOccurred())
			_, err = provider.CreateConnection(ctx, "b", "10.0.0.10", 3389, "", "")
			Expect(err).ToNot(HaveOccurred())
			matches, err := provider.FindConnectionsByHost(ctx, "10.0.0.9")
			Expect(err).ToNot(HaveOccurred())
			Expect(matches).To(ConsistOf(first))
		})
	})
})
