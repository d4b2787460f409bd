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

// Package session implements the synchronous session lifecycle: create with
// race-free pool claim, status with recovery allocation, heartbeat,
// terminate and listing.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/hackdesk/orchestrator/pkg/apis"
	"github.com/hackdesk/orchestrator/pkg/auth"
	"github.com/hackdesk/orchestrator/pkg/logging"
	"github.com/hackdesk/orchestrator/pkg/notify"
	"github.com/hackdesk/orchestrator/pkg/operator/options"
	"github.com/hackdesk/orchestrator/pkg/providers/gateway"
	"github.com/hackdesk/orchestrator/pkg/providers/instance"
	"github.com/hackdesk/orchestrator/pkg/providers/pool"
	"github.com/hackdesk/orchestrator/pkg/providers/usage"
	"github.com/hackdesk/orchestrator/pkg/state"
)

const (
	// probeTimeout bounds gateway liveness probes so a slow gateway cannot
	// stall session creation.
	probeTimeout = 3 * time.Second
	// cleanupTimeout bounds each best-effort gateway call during
	// termination.
	cleanupTimeout = 2 * time.Second
	// permissionDelay lets a fresh permission grant propagate on the
	// gateway before the first user login.
	permissionDelay = time.Second
)

type Controller struct {
	opts      *options.Options
	store     *state.Store
	instances instance.Provider
	pool      pool.Provider
	gateway   gateway.Provider
	usage     usage.Provider
	verifier  *auth.Verifier
	notifier  *notify.Publisher
	clk       clock.Clock
}

// NewController wires the session controller. notifier may be nil when push
// notifications are disabled.
func NewController(opts *options.Options, store *state.Store, instances instance.Provider,
	poolProvider pool.Provider, gatewayProvider gateway.Provider, usageProvider usage.Provider,
	verifier *auth.Verifier, notifier *notify.Publisher, clk clock.Clock) *Controller {
	return &Controller{
		opts:      opts,
		store:     store,
		instances: instances,
		pool:      poolProvider,
		gateway:   gatewayProvider,
		usage:     usageProvider,
		verifier:  verifier,
		notifier:  notifier,
		clk:       clk,
	}
}

// identity is who the request acts as, resolved from the portal token or,
// in test modes, the request body.
type identity struct {
	OwnerID      string
	DisplayName  string
	Plan         apis.Plan
	QuotaMinutes int64
	Roles        []string
}

func newSessionID() string {
	return "sess-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

func (c *Controller) resolveIdentity(req CreateRequest) (*identity, error) {
	if req.Token != "" {
		claims, err := c.verifier.Verify(req.Token)
		if err != nil {
			if c.opts.RequireAuth {
				return nil, fmt.Errorf("%w, %v", ErrUnauthenticated, err)
			}
		} else {
			return &identity{
				OwnerID:      claims.UserID,
				DisplayName:  claims.Fullname,
				Plan:         apis.ParsePlan(claims.Plan),
				QuotaMinutes: claims.QuotaMinutes,
				Roles:        claims.Roles,
			}, nil
		}
	} else if c.opts.RequireAuth {
		return nil, fmt.Errorf("%w, missing token", ErrUnauthenticated)
	}
	// Unauthenticated fallback, for test environments only.
	if req.OwnerID == "" {
		return nil, &BadRequestError{Reason: "user_id is required"}
	}
	quota := req.QuotaMinutes
	if quota == 0 {
		quota = apis.QuotaUnlimited
	}
	return &identity{
		OwnerID:      req.OwnerID,
		DisplayName:  req.DisplayName,
		Plan:         apis.ParsePlan(req.Plan),
		QuotaMinutes: quota,
	}, nil
}

// authorize verifies the token on non-create operations. When auth is not
// required, a missing or invalid token degrades to anonymous.
func (c *Controller) authorize(token string) (*auth.Claims, error) {
	if token == "" {
		if c.opts.RequireAuth {
			return nil, fmt.Errorf("%w, missing token", ErrUnauthenticated)
		}
		return nil, nil
	}
	claims, err := c.verifier.Verify(token)
	if err != nil {
		if c.opts.RequireAuth {
			return nil, fmt.Errorf("%w, %v", ErrUnauthenticated, err)
		}
		return nil, nil
	}
	return claims, nil
}

// Create allocates a session: authenticate, enforce quota, reap stale
// sessions, claim an instance, program the gateway and commit.
//
//nolint:gocyclo
func (c *Controller) Create(ctx context.Context, req CreateRequest) (*Response, error) {
	who, err := c.resolveIdentity(req)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithLogger(ctx, logging.FromContext(ctx).With("owner-id", who.OwnerID, "plan", who.Plan))

	decision, err := c.usage.CheckQuota(ctx, who.OwnerID, who.QuotaMinutes)
	if err != nil {
		return nil, fmt.Errorf("checking quota, %w", err)
	}
	if !decision.Allowed {
		return nil, &QuotaExceededError{RemainingMinutes: decision.RemainingMinutes, ResetsAt: decision.ResetsAt}
	}

	if existing, err := c.reuseOrReap(ctx, who); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	now := c.clk.Now().Unix()
	session := &apis.Session{
		SessionID:        newSessionID(),
		OwnerID:          who.OwnerID,
		OwnerDisplayName: who.DisplayName,
		Plan:             who.Plan,
		QuotaMinutes:     who.QuotaMinutes,
		Status:           apis.SessionPending,
		CreatedAt:        now,
		UpdatedAt:        now,
		ExpiresAt:        now + int64(c.opts.SessionTTL().Seconds()),
		LastActiveAt:     now,
	}
	if err := c.store.Sessions.Put(ctx, session); err != nil {
		return nil, fmt.Errorf("writing session record, %w", err)
	}
	ctx = logging.WithLogger(ctx, logging.FromContext(ctx).With("session-id", session.SessionID))

	response, err := c.allocate(ctx, session)
	if err != nil {
		return nil, err
	}
	createdMetric.WithLabelValues(string(who.Plan), string(response.Status)).Inc()
	return response, nil
}

// allocate runs the claim loop, the cold-start path and gateway programming
// for a session that holds no instance yet. Shared by Create and by the
// status endpoint's recovery path.
func (c *Controller) allocate(ctx context.Context, session *apis.Session) (*Response, error) {
	claimed, err := c.pool.Claim(ctx, session.Plan, session.SessionID, session.OwnerID)
	if err != nil && !errors.Is(err, pool.ErrNoneAvailable) {
		return nil, fmt.Errorf("claiming instance, %w", err)
	}
	if claimed == nil {
		coldStart, err := c.pool.ColdStart(ctx, session.Plan, session.SessionID, session.OwnerID)
		if err != nil {
			if errors.Is(err, pool.ErrAtCapacity) {
				c.failSession(ctx, session, "capacity")
				return nil, ErrCapacity
			}
			return nil, fmt.Errorf("cold starting, %w", err)
		}
		if coldStart.Claimed == nil {
			return c.markProvisioning(ctx, session, coldStart.Note)
		}
		claimed = coldStart.Claimed
	}
	return c.finalize(ctx, session, claimed.Instance.InstanceID, claimed.PrivateIP)
}

// finalize programs the gateway for a claimed running instance and commits
// the session to ready. A gateway failure leaves the session provisioning
// with its instance attached; the status endpoint retries programming.
func (c *Controller) finalize(ctx context.Context, session *apis.Session, instanceID, privateIP string) (*Response, error) {
	connection, directURL, err := c.programGateway(ctx, session.SessionID, session.OwnerID, privateIP)
	if err != nil {
		logging.FromContext(ctx).Warnw("gateway programming failed, leaving session provisioning", "error", err)
		session.Status = apis.SessionProvisioning
		session.InstanceID = instanceID
		session.InstanceIP = privateIP
		session.InstanceState = instance.StateRunning
		if err := c.store.Sessions.Update(ctx, session.SessionID, state.SessionPatch{
			Status:        &session.Status,
			InstanceID:    &instanceID,
			InstanceIP:    &privateIP,
			InstanceState: &session.InstanceState,
		}); err != nil {
			return nil, fmt.Errorf("recording claimed instance, %w", err)
		}
		return c.format(session), nil
	}

	now := c.clk.Now().Unix()
	session.Status = apis.SessionReady
	session.InstanceID = instanceID
	session.InstanceIP = privateIP
	session.InstanceState = instance.StateRunning
	session.Connection = connection
	session.DirectURL = directURL
	session.LastActiveAt = now
	if err := c.store.Sessions.Update(ctx, session.SessionID, state.SessionPatch{
		Status:        &session.Status,
		InstanceID:    &instanceID,
		InstanceIP:    &privateIP,
		InstanceState: &session.InstanceState,
		Connection:    connection,
		DirectURL:     &directURL,
		LastActiveAt:  &now,
	}); err != nil {
		return nil, fmt.Errorf("committing ready session, %w", err)
	}
	c.publish(ctx, session)
	return c.format(session), nil
}

func (c *Controller) markProvisioning(ctx context.Context, session *apis.Session, note string) (*Response, error) {
	session.Status = apis.SessionProvisioning
	session.ProvisioningNote = note
	if err := c.store.Sessions.Update(ctx, session.SessionID, state.SessionPatch{
		Status:           &session.Status,
		ProvisioningNote: &note,
	}); err != nil {
		return nil, fmt.Errorf("recording provisioning session, %w", err)
	}
	return c.format(session), nil
}

func (c *Controller) failSession(ctx context.Context, session *apis.Session, reason string) {
	session.Status = apis.SessionError
	session.Error = reason
	if err := c.store.Sessions.Update(ctx, session.SessionID, state.SessionPatch{
		Status: &session.Status,
		Error:  &reason,
	}); err != nil {
		logging.FromContext(ctx).Errorw("recording failed session", "error", err)
	}
	c.publish(ctx, session)
}

// reuseOrReap enforces the per-owner session limit. A still-connected or
// recently-active session is returned as reused; a provably stale one is
// terminated so the new request can proceed.
func (c *Controller) reuseOrReap(ctx context.Context, who *identity) (*Response, error) {
	existing, err := c.store.Sessions.ByOwner(ctx, who.OwnerID, apis.ActiveSessionStatuses...)
	if err != nil {
		return nil, fmt.Errorf("listing owner sessions, %w", err)
	}
	if len(existing) < c.opts.MaxSessions {
		return nil, nil
	}
	current := existing[0]

	// No gateway connection yet: creation is still in flight, hand the
	// same session back.
	if current.Connection == nil || current.Connection.ConnectionID == "" {
		response := c.format(current)
		response.Reused = true
		return response, nil
	}

	connected := c.gatewayConnected(ctx, current.Connection.ConnectionID)
	if connected {
		response := c.format(current)
		response.Reused = true
		return response, nil
	}

	lastActive := current.LastActiveAt
	if lastActive == 0 {
		lastActive = current.CreatedAt
	}
	grace := int64(c.opts.IdleHeartbeatGracePeriod.Seconds())
	if lastActive+grace >= c.clk.Now().Unix() {
		// Not connected but within grace; assume a transient gateway
		// blip and reuse.
		response := c.format(current)
		response.Reused = true
		return response, nil
	}

	logging.FromContext(ctx).Infow("reaping stale session", "session-id", current.SessionID)
	staleReapsMetric.Inc()
	c.terminateSession(ctx, current, apis.ReasonStaleGatewayLogout, false)
	return nil, nil
}

func (c *Controller) gatewayConnected(ctx context.Context, connectionID string) bool {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	active, err := c.gateway.ActiveConnections(probeCtx)
	if err != nil {
		logging.FromContext(ctx).Warnw("probing gateway activity", "error", err)
		return false
	}
	return len(active[connectionID]) > 0
}

// programGateway creates the RDP connection and an ephemeral user, then
// mints a per-user token. Failures past the connection record degrade to an
// admin-authenticated URL rather than failing the session.
func (c *Controller) programGateway(ctx context.Context, sessionID, ownerID, privateIP string) (*apis.ConnectionInfo, string, error) {
	connectionID, err := c.gateway.CreateConnection(ctx, gateway.ConnectionName(sessionID),
		privateIP, apis.DefaultPorts.RDP, c.opts.RDPUsername, c.opts.RDPPassword)
	if err != nil {
		return nil, "", fmt.Errorf("creating gateway connection, %w", err)
	}

	username := gateway.EphemeralUsername(sessionID)
	password := gateway.DerivePassword(sessionID, ownerID, c.opts.CredentialSalt)
	var token string
	if err := c.gateway.EnsureUser(ctx, username, password); err != nil {
		logging.FromContext(ctx).Warnw("creating ephemeral user", "error", err)
	} else if err := c.gateway.GrantRead(ctx, username, connectionID); err != nil {
		logging.FromContext(ctx).Warnw("granting connection permission", "error", err)
	} else {
		c.clk.Sleep(permissionDelay)
		token, err = c.gateway.UserToken(ctx, username, password)
		if err != nil {
			logging.FromContext(ctx).Warnw("minting user token, falling back to admin token", "error", err)
			token = ""
		}
	}
	if token == "" {
		token, err = c.gateway.AdminToken(ctx)
		if err != nil {
			return nil, "", fmt.Errorf("authenticating gateway admin for fallback URL, %w", err)
		}
	}

	directURL := c.gateway.ConnectionURL(connectionID, token)
	connection := &apis.ConnectionInfo{
		Type:          "rdp",
		GatewayURL:    c.gateway.PublicURL(),
		ConnectionID:  connectionID,
		EphemeralUser: username,
		InstanceIP:    privateIP,
		Ports:         apis.DefaultPorts,
		DirectURL:     directURL,
	}
	return connection, directURL, nil
}

func (c *Controller) publish(ctx context.Context, session *apis.Session) {
	if c.notifier == nil {
		return
	}
	c.notifier.SessionStatus(ctx, session, c.clk.Now().Unix())
}
