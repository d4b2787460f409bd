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

package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/hackdesk/orchestrator/pkg/apis"
	"github.com/hackdesk/orchestrator/pkg/auth"
	"github.com/hackdesk/orchestrator/pkg/controllers/session"
	"github.com/hackdesk/orchestrator/pkg/fake"
	"github.com/hackdesk/orchestrator/pkg/operator/options"
	"github.com/hackdesk/orchestrator/pkg/providers/gateway"
	"github.com/hackdesk/orchestrator/pkg/providers/instance"
	"github.com/hackdesk/orchestrator/pkg/providers/pool"
	"github.com/hackdesk/orchestrator/pkg/providers/scaling"
	"github.com/hackdesk/orchestrator/pkg/providers/usage"
	"github.com/hackdesk/orchestrator/pkg/state"
	"github.com/hackdesk/orchestrator/pkg/test"
)

var (
	ctx        context.Context
	opts       *options.Options
	clk        *clocktesting.FakeClock
	store      *fake.MemoryStore
	ec2api     *fake.EC2API
	asgapi     *fake.AutoScalingAPI
	guac       *fake.GatewayProvider
	controller *session.Controller
)

func TestSession(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Controllers/Session")
}

var _ = BeforeSuite(func() {
	ec2api = fake.NewEC2API()
	asgapi = fake.NewAutoScalingAPI()
	guac = fake.NewGatewayProvider()
})

func newController() *session.Controller {
	instanceProvider := instance.NewDefaultProvider(ec2api)
	poolProvider := pool.NewDefaultProvider(store.Pool, store.Sessions, instanceProvider,
		scaling.NewDefaultProvider(asgapi), opts.TierGroups(), clk)
	return session.NewController(opts, store.Store(), instanceProvider, poolProvider,
		guac, usage.NewDefaultProvider(store.Usage, clk), auth.NewVerifier(test.PortalSecret, clk), nil, clk)
}

// token mints a verifiable portal token for user-1 on the pro plan.
func token(overrides map[string]any) string {
	claims := map[string]any{
		"user_id":       "user-1",
		"fullname":      "Test User",
		"plan":          "pro",
		"quota_minutes": apis.QuotaUnlimited,
		"expires":       time.Now().Add(24 * time.Hour).Unix(),
	}
	for k, v := range overrides {
		claims[k] = v
	}
	return test.PortalToken(test.PortalSecret, claims)
}

// seedInstance registers an available running pro workstation in both the
// pool table and the fake cloud.
func seedInstance(id, ip string) {
	Expect(store.Pool.Put(ctx, test.PoolInstance(func(i *apis.PoolInstance) {
		i.InstanceID = id
	}))).To(Succeed())
	ec2api.AddInstance(&fake.FleetInstance{ID: id, State: "running", PrivateIP: ip, Healthy: true})
}

var _ = Describe("Session", func() {
	BeforeEach(func() {
		ctx = context.Background()
		opts = test.Options()
		clk = clocktesting.NewFakeClock(time.Now())
		store = fake.NewMemoryStore(clk)
		ec2api.Reset()
		asgapi.Reset()
		guac.Reset()
		asgapi.AddGroup(&fake.Group{Name: "pool-pro", Min: 0, Max: 4, Desired: 1})
		controller = newController()
	})

	Describe("Create", func() {
		It("should reject a request without a token", func() {
			_, err := controller.Create(ctx, session.CreateRequest{})
			Expect(errors.Is(err, session.ErrUnauthenticated)).To(BeTrue())
		})

		It("should reject a forged token", func() {
			_, err := controller.Create(ctx, session.CreateRequest{
				Token: test.PortalToken("wrong-secret", map[string]any{"user_id": "user-1"}),
			})
			Expect(errors.Is(err, session.ErrUnauthenticated)).To(BeTrue())
		})

		It("should accept body identity when authentication is disabled", func() {
			opts.RequireAuth = false
			seedInstance("i-ready", "10.0.0.9")
			resp, err := controller.Create(ctx, session.CreateRequest{OwnerID: "anon-1", Plan: "pro"})
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.OwnerID).To(Equal("anon-1"))
			Expect(resp.Status).To(Equal(apis.SessionReady))
		})

		It("should still require an owner when authentication is disabled", func() {
			opts.RequireAuth = false
			_, err := controller.Create(ctx, session.CreateRequest{})
			var badRequest *session.BadRequestError
			Expect(errors.As(err, &badRequest)).To(BeTrue())
		})

		It("should deny an owner over quota", func() {
			_, err := store.Usage.Add(ctx, "user-1", usage.Month(clk.Now()), 600, 3, apis.PlanPro, 600)
			Expect(err).ToNot(HaveOccurred())
			_, err = controller.Create(ctx, session.CreateRequest{
				Token: token(map[string]any{"quota_minutes": int64(600)}),
			})
			var quotaErr *session.QuotaExceededError
			Expect(errors.As(err, &quotaErr)).To(BeTrue())
			Expect(quotaErr.RemainingMinutes).To(BeZero())
			Expect(quotaErr.ResetsAt).ToNot(BeEmpty())
		})

		It("should claim a pooled instance and program the gateway", func() {
			seedInstance("i-ready", "10.0.0.9")
			resp, err := controller.Create(ctx, session.CreateRequest{Token: token(nil)})
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.Status).To(Equal(apis.SessionReady))
			Expect(resp.InstanceID).To(Equal("i-ready"))
			Expect(resp.InstanceIP).To(Equal("10.0.0.9"))
			Expect(resp.Stage).To(Equal("ready"))
			Expect(resp.Progress).To(Equal(100))

			connection := guac.Connection("1")
			Expect(connection).ToNot(BeNil())
			Expect(connection.Host).To(Equal("10.0.0.9"))
			Expect(connection.Port).To(Equal(3389))
			Expect(connection.Username).To(Equal("workstation"))

			Expect(resp.Connection.EphemeralUser).To(Equal(gateway.EphemeralUsername(resp.SessionID)))
			_, exists := guac.User(resp.Connection.EphemeralUser)
			Expect(exists).To(BeTrue())
			Expect(resp.DirectURL).To(ContainSubstring("user-token-"))
			Expect(resp.DirectURL).To(ContainSubstring("#/client/1"))

			record, err := store.Pool.Get(ctx, "i-ready")
			Expect(err).ToNot(HaveOccurred())
			Expect(record.Status).To(Equal(apis.InstanceAssigned))
			Expect(record.SessionID).To(Equal(resp.SessionID))
		})

		It("should fall back to an admin URL when the user token cannot be minted", func() {
			seedInstance("i-ready", "10.0.0.9")
			guac.UserTokenError.Set(errors.New("login rejected"), fake.MaxCalls(10))
			resp, err := controller.Create(ctx, session.CreateRequest{Token: token(nil)})
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.Status).To(Equal(apis.SessionReady))
			Expect(resp.DirectURL).To(ContainSubstring("admin-token"))
		})

		It("should leave the session provisioning when the gateway rejects the connection", func() {
			seedInstance("i-ready", "10.0.0.9")
			guac.CreateConnectionError.Set(errors.New("gateway down"), fake.MaxCalls(10))
			resp, err := controller.Create(ctx, session.CreateRequest{Token: token(nil)})
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.Status).To(Equal(apis.SessionProvisioning))
			Expect(resp.InstanceID).To(Equal("i-ready"))

			stored, err := store.Sessions.Get(ctx, resp.SessionID)
			Expect(err).ToNot(HaveOccurred())
			Expect(stored.Status).To(Equal(apis.SessionProvisioning))
			Expect(stored.Connection).To(BeNil())
		})

		It("should scale the group up when the pool is drained", func() {
			resp, err := controller.Create(ctx, session.CreateRequest{Token: token(nil)})
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.Status).To(Equal(apis.SessionProvisioning))
			Expect(resp.Stage).To(Equal("scaling_up"))
			Expect(asgapi.Desired("pool-pro")).To(Equal(int32(2)))
		})

		It("should fail the session when the group is at capacity", func() {
			asgapi.AddGroup(&fake.Group{Name: "pool-pro", Max: 1, Desired: 1})
			_, err := controller.Create(ctx, session.CreateRequest{Token: token(nil)})
			Expect(errors.Is(err, session.ErrCapacity)).To(BeTrue())

			failed, listErr := store.Sessions.ByStatus(ctx, apis.SessionError)
			Expect(listErr).ToNot(HaveOccurred())
			Expect(failed).To(HaveLen(1))
			Expect(failed[0].Error).To(Equal("capacity"))
		})

		It("should reuse a session whose gateway connection is live", func() {
			seedInstance("i-ready", "10.0.0.9")
			first, err := controller.Create(ctx, session.CreateRequest{Token: token(nil)})
			Expect(err).ToNot(HaveOccurred())
			guac.SetActive("1", gateway.ActiveConnection{UUID: "uuid-1"})

			second, err := controller.Create(ctx, session.CreateRequest{Token: token(nil)})
			Expect(err).ToNot(HaveOccurred())
			Expect(second.SessionID).To(Equal(first.SessionID))
			Expect(second.Reused).To(BeTrue())
		})

		It("should reuse a disconnected session still inside the heartbeat grace window", func() {
			seedInstance("i-ready", "10.0.0.9")
			first, err := controller.Create(ctx, session.CreateRequest{Token: token(nil)})
			Expect(err).ToNot(HaveOccurred())

			clk.Step(time.Minute)
			second, err := controller.Create(ctx, session.CreateRequest{Token: token(nil)})
			Expect(err).ToNot(HaveOccurred())
			Expect(second.SessionID).To(Equal(first.SessionID))
			Expect(second.Reused).To(BeTrue())
		})

		It("should reap a stale session and allocate a fresh one", func() {
			seedInstance("i-ready", "10.0.0.9")
			first, err := controller.Create(ctx, session.CreateRequest{Token: token(nil)})
			Expect(err).ToNot(HaveOccurred())

			clk.Step(5 * time.Minute)
			second, err := controller.Create(ctx, session.CreateRequest{Token: token(nil)})
			Expect(err).ToNot(HaveOccurred())
			Expect(second.SessionID).ToNot(Equal(first.SessionID))
			Expect(second.Status).To(Equal(apis.SessionReady))

			stale, err := store.Sessions.Get(ctx, first.SessionID)
			Expect(err).ToNot(HaveOccurred())
			Expect(stale.Status).To(Equal(apis.SessionTerminated))
			Expect(stale.TerminationReason).To(Equal(apis.ReasonStaleGatewayLogout))
		})
	})

	Describe("Status", func() {
		It("should retry allocation for a session with no instance", func() {
			pending := test.Session(func(s *apis.Session) {
				s.OwnerID = "user-1"
				s.CreatedAt = clk.Now().Unix()
			})
			Expect(store.Sessions.Put(ctx, pending)).To(Succeed())
			seedInstance("i-late", "10.0.0.5")

			resp, err := controller.Status(ctx, pending.SessionID, token(nil))
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.Status).To(Equal(apis.SessionReady))
			Expect(resp.InstanceID).To(Equal("i-late"))
		})

		It("should fail a session stuck without an instance", func() {
			stuck := test.Session(func(s *apis.Session) {
				s.Status = apis.SessionProvisioning
				s.CreatedAt = clk.Now().Add(-9 * time.Minute).Unix()
			})
			Expect(store.Sessions.Put(ctx, stuck)).To(Succeed())

			resp, err := controller.Status(ctx, stuck.SessionID, token(nil))
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.Status).To(Equal(apis.SessionError))
			Expect(resp.Error).To(Equal("allocation timed out"))
		})

		It("should wait for health checks before finishing gateway programming", func() {
			provisioning := test.Session(func(s *apis.Session) {
				s.Status = apis.SessionProvisioning
				s.InstanceID = "i-booting"
				s.CreatedAt = clk.Now().Unix()
			})
			Expect(store.Sessions.Put(ctx, provisioning)).To(Succeed())
			ec2api.AddInstance(&fake.FleetInstance{ID: "i-booting", State: "running", PrivateIP: "10.0.0.5", Healthy: false})

			resp, err := controller.Status(ctx, provisioning.SessionID, token(nil))
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.Status).To(Equal(apis.SessionProvisioning))
			Expect(resp.Stage).To(Equal("waiting_health"))
			Expect(guac.Connection("1")).To(BeNil())
		})

		It("should promote a running instance once its checks pass", func() {
			provisioning := test.Session(func(s *apis.Session) {
				s.Status = apis.SessionProvisioning
				s.InstanceID = "i-booting"
				s.CreatedAt = clk.Now().Unix()
			})
			Expect(store.Sessions.Put(ctx, provisioning)).To(Succeed())
			ec2api.AddInstance(&fake.FleetInstance{ID: "i-booting", State: "running", PrivateIP: "10.0.0.5", Healthy: true})

			resp, err := controller.Status(ctx, provisioning.SessionID, token(nil))
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.Status).To(Equal(apis.SessionReady))
			Expect(resp.InstanceIP).To(Equal("10.0.0.5"))
			Expect(guac.Connection("1")).ToNot(BeNil())
		})

		It("should proceed despite unsettled checks after the fallback window", func() {
			provisioning := test.Session(func(s *apis.Session) {
				s.Status = apis.SessionProvisioning
				s.InstanceID = "i-booting"
				s.CreatedAt = clk.Now().Add(-3 * time.Minute).Unix()
			})
			Expect(store.Sessions.Put(ctx, provisioning)).To(Succeed())
			ec2api.AddInstance(&fake.FleetInstance{ID: "i-booting", State: "running", PrivateIP: "10.0.0.5", Healthy: false})

			resp, err := controller.Status(ctx, provisioning.SessionID, token(nil))
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.Status).To(Equal(apis.SessionReady))
		})

		It("should promote without reprogramming when a connection already exists", func() {
			provisioning := test.Session(func(s *apis.Session) {
				s.Status = apis.SessionProvisioning
				s.InstanceID = "i-booting"
				s.Connection = &apis.ConnectionInfo{ConnectionID: "7"}
			})
			Expect(store.Sessions.Put(ctx, provisioning)).To(Succeed())
			ec2api.AddInstance(&fake.FleetInstance{ID: "i-booting", State: "running", PrivateIP: "10.0.0.5", Healthy: true})

			resp, err := controller.Status(ctx, provisioning.SessionID, token(nil))
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.Status).To(Equal(apis.SessionReady))
			Expect(guac.Connection("1")).To(BeNil())
		})

		It("should return a terminal session untouched", func() {
			terminated := test.Session(func(s *apis.Session) {
				s.Status = apis.SessionTerminated
				s.TerminationReason = apis.ReasonUserRequested
			})
			Expect(store.Sessions.Put(ctx, terminated)).To(Succeed())
			resp, err := controller.Status(ctx, terminated.SessionID, token(nil))
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.Status).To(Equal(apis.SessionTerminated))
			Expect(resp.Stage).To(Equal("terminated"))
		})

		It("should surface an unknown session", func() {
			_, err := controller.Status(ctx, "sess-missing", token(nil))
			Expect(errors.Is(err, state.ErrNotFound)).To(BeTrue())
		})
	})

	Describe("Heartbeat", func() {
		var ready *apis.Session

		BeforeEach(func() {
			ready = test.Session(func(s *apis.Session) {
				s.OwnerID = "user-1"
				s.Plan = apis.PlanFreemium
				s.Status = apis.SessionReady
				s.CreatedAt = clk.Now().Unix()
				s.LastActiveAt = clk.Now().Unix()
				s.ExpiresAt = clk.Now().Add(4 * time.Hour).Unix()
				s.Connection = &apis.ConnectionInfo{ConnectionID: "7"}
			})
			Expect(store.Sessions.Put(ctx, ready)).To(Succeed())
		})

		It("should promote a visible browser heartbeat to active", func() {
			resp, err := controller.Heartbeat(ctx, ready.SessionID, session.HeartbeatRequest{
				Token: token(nil), ActivityType: "browser",
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.Status).To(Equal(apis.SessionActive))
			Expect(resp.IdleSeconds).To(BeZero())
			Expect(resp.WarningLevel).To(BeEmpty())
		})

		It("should not count a hidden tab as activity", func() {
			clk.Step(5 * time.Minute)
			hidden := false
			resp, err := controller.Heartbeat(ctx, ready.SessionID, session.HeartbeatRequest{
				Token: token(nil), ActivityType: "browser", TabVisible: &hidden,
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.Status).To(Equal(apis.SessionReady))
			Expect(resp.IdleSeconds).To(Equal(int64(300)))
			Expect(resp.TimeUntilWarning).To(Equal(int64(600)))
		})

		It("should keep a hidden tab alive while the gateway shows a live connection", func() {
			guac.SetActive("7", gateway.ActiveConnection{UUID: "uuid-1"})
			clk.Step(20 * time.Minute)
			hidden := false
			resp, err := controller.Heartbeat(ctx, ready.SessionID, session.HeartbeatRequest{
				Token: token(nil), ActivityType: "browser", TabVisible: &hidden,
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.GatewayConnected).To(BeTrue())
			Expect(resp.IdleSeconds).To(BeZero())
			Expect(resp.Status).To(Equal(apis.SessionActive))
		})

		It("should warn as the idle threshold passes", func() {
			clk.Step(16 * time.Minute)
			hidden := false
			resp, err := controller.Heartbeat(ctx, ready.SessionID, session.HeartbeatRequest{
				Token: token(nil), ActivityType: "browser", TabVisible: &hidden,
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.IdleWarning).To(BeTrue())
			Expect(resp.WarningLevel).To(Equal("warning"))
			Expect(resp.WarningMessage).To(Equal("Session idle - will terminate in 14 minutes"))

			stored, err := store.Sessions.Get(ctx, ready.SessionID)
			Expect(err).ToNot(HaveOccurred())
			Expect(stored.IdleWarningAt).ToNot(BeZero())
		})

		It("should escalate to critical near termination", func() {
			clk.Step(31 * time.Minute)
			hidden := false
			resp, err := controller.Heartbeat(ctx, ready.SessionID, session.HeartbeatRequest{
				Token: token(nil), ActivityType: "browser", TabVisible: &hidden,
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.IdleCritical).To(BeTrue())
			Expect(resp.WarningLevel).To(Equal("critical"))
			Expect(resp.WarningMessage).To(Equal("Session will be terminated due to inactivity"))
			Expect(resp.TimeUntilTermination).To(BeZero())
		})

		It("should clear an earlier warning once activity resumes", func() {
			clk.Step(16 * time.Minute)
			hidden := false
			_, err := controller.Heartbeat(ctx, ready.SessionID, session.HeartbeatRequest{
				Token: token(nil), ActivityType: "browser", TabVisible: &hidden,
			})
			Expect(err).ToNot(HaveOccurred())

			resp, err := controller.Heartbeat(ctx, ready.SessionID, session.HeartbeatRequest{
				Token: token(nil), ActivityType: "browser",
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.IdleWarning).To(BeFalse())
			stored, err := store.Sessions.Get(ctx, ready.SessionID)
			Expect(err).ToNot(HaveOccurred())
			Expect(stored.IdleWarningAt).To(BeZero())
		})

		It("should disable idle telemetry in focus mode", func() {
			clk.Step(16 * time.Minute)
			hidden := false
			resp, err := controller.Heartbeat(ctx, ready.SessionID, session.HeartbeatRequest{
				Token: token(nil), ActivityType: "browser", TabVisible: &hidden, FocusMode: true,
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.TimeUntilWarning).To(Equal(int64(-1)))
			Expect(resp.TimeUntilTermination).To(Equal(int64(-1)))
			Expect(resp.WarningLevel).To(BeEmpty())
		})

		It("should reject a heartbeat for another owner's session", func() {
			_, err := controller.Heartbeat(ctx, ready.SessionID, session.HeartbeatRequest{
				Token: token(map[string]any{"user_id": "user-2"}), ActivityType: "browser",
			})
			Expect(errors.Is(err, session.ErrForbidden)).To(BeTrue())
		})

		It("should reject a heartbeat for a pending session", func() {
			pending := test.Session(func(s *apis.Session) { s.OwnerID = "user-1" })
			Expect(store.Sessions.Put(ctx, pending)).To(Succeed())
			_, err := controller.Heartbeat(ctx, pending.SessionID, session.HeartbeatRequest{
				Token: token(nil), ActivityType: "browser",
			})
			var badRequest *session.BadRequestError
			Expect(errors.As(err, &badRequest)).To(BeTrue())
			Expect(badRequest.Reason).To(Equal("session is pending"))
		})
	})

	Describe("Terminate", func() {
		var active *apis.Session

		BeforeEach(func() {
			Expect(store.Pool.Put(ctx, test.PoolInstance(func(i *apis.PoolInstance) {
				i.InstanceID = "i-held"
				i.Status = apis.InstanceAssigned
				i.SessionID = "sess-live"
				i.OwnerID = "user-1"
			}))).To(Succeed())
			ec2api.AddInstance(&fake.FleetInstance{ID: "i-held", State: "running", PrivateIP: "10.0.0.9", Healthy: true})
			active = test.Session(func(s *apis.Session) {
				s.SessionID = "sess-live"
				s.OwnerID = "user-1"
				s.Status = apis.SessionActive
				s.InstanceID = "i-held"
				s.CreatedAt = clk.Now().Add(-10 * time.Minute).Unix()
				s.Connection = &apis.ConnectionInfo{ConnectionID: "7", EphemeralUser: "session_abc"}
			})
			Expect(store.Sessions.Put(ctx, active)).To(Succeed())
			guac.SetActive("7", gateway.ActiveConnection{UUID: "uuid-1"})
		})

		It("should run the full teardown", func() {
			resp, err := controller.Terminate(ctx, "sess-live", session.TerminateRequest{Token: token(nil)})
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.Status).To(Equal(apis.SessionTerminated))
			Expect(resp.TerminationReason).To(Equal(apis.ReasonUserRequested))

			Expect(guac.KilledSessions()).To(ConsistOf("uuid-1"))
			Expect(guac.DeletedUsers()).To(ConsistOf("session_abc"))
			Expect(guac.Connection("7")).To(BeNil())

			record, err := store.Pool.Get(ctx, "i-held")
			Expect(err).ToNot(HaveOccurred())
			Expect(record.Status).To(Equal(apis.InstanceStopping))
			Expect(record.SessionID).To(BeEmpty())
			Expect(ec2api.StopInstancesBehavior.Calls()).To(Equal(1))

			usageRecord, err := store.Usage.Get(ctx, "user-1", usage.Month(clk.Now()))
			Expect(err).ToNot(HaveOccurred())
			Expect(usageRecord.ConsumedMinutes).To(Equal(int64(10)))
			Expect(usageRecord.SessionCount).To(Equal(int64(1)))
		})

		It("should return the instance hot when asked not to stop it", func() {
			keep := false
			_, err := controller.Terminate(ctx, "sess-live", session.TerminateRequest{
				Token: token(nil), StopInstance: &keep,
			})
			Expect(err).ToNot(HaveOccurred())
			record, err := store.Pool.Get(ctx, "i-held")
			Expect(err).ToNot(HaveOccurred())
			Expect(record.Status).To(Equal(apis.InstanceAvailable))
			Expect(ec2api.StopInstancesBehavior.Calls()).To(BeZero())
		})

		It("should record a custom termination reason", func() {
			_, err := controller.Terminate(ctx, "sess-live", session.TerminateRequest{
				Token: token(nil), Reason: "maintenance",
			})
			Expect(err).ToNot(HaveOccurred())
			stored, err := store.Sessions.Get(ctx, "sess-live")
			Expect(err).ToNot(HaveOccurred())
			Expect(stored.TerminationReason).To(Equal("maintenance"))
		})

		It("should be a no-op on an already-terminated session", func() {
			_, err := controller.Terminate(ctx, "sess-live", session.TerminateRequest{Token: token(nil)})
			Expect(err).ToNot(HaveOccurred())
			resp, err := controller.Terminate(ctx, "sess-live", session.TerminateRequest{Token: token(nil)})
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.Status).To(Equal(apis.SessionTerminated))
			Expect(ec2api.StopInstancesBehavior.Calls()).To(Equal(1))
		})

		It("should refuse another owner's session", func() {
			_, err := controller.Terminate(ctx, "sess-live", session.TerminateRequest{
				Token: token(map[string]any{"user_id": "user-2"}),
			})
			Expect(errors.Is(err, session.ErrForbidden)).To(BeTrue())
		})

		It("should allow an admin to terminate any session", func() {
			_, err := controller.Terminate(ctx, "sess-live", session.TerminateRequest{
				Token: token(map[string]any{"user_id": "admin-1", "roles": []string{"admin"}}),
			})
			Expect(err).ToNot(HaveOccurred())
		})
	})

	Describe("ListOwner", func() {
		It("should split active sessions from recent history", func() {
			Expect(store.Sessions.Put(ctx, test.Session(func(s *apis.Session) {
				s.OwnerID = "user-1"
				s.Status = apis.SessionActive
			}))).To(Succeed())
			Expect(store.Sessions.Put(ctx, test.Session(func(s *apis.Session) {
				s.OwnerID = "user-1"
				s.Status = apis.SessionTerminated
			}))).To(Succeed())
			Expect(store.Sessions.Put(ctx, test.Session(func(s *apis.Session) {
				s.OwnerID = "user-2"
				s.Status = apis.SessionActive
			}))).To(Succeed())

			listing, err := controller.ListOwner(ctx, "user-1", token(nil))
			Expect(err).ToNot(HaveOccurred())
			Expect(listing.ActiveSessions).To(HaveLen(1))
			Expect(listing.RecentSessions).To(HaveLen(1))
		})

		It("should refuse listing another owner's sessions", func() {
			_, err := controller.ListOwner(ctx, "user-2", token(nil))
			Expect(errors.Is(err, session.ErrForbidden)).To(BeTrue())
		})
	})

	Describe("ListAdmin", func() {
		adminToken := func() string {
			return token(map[string]any{"user_id": "admin-1", "roles": []string{"admin"}})
		}

		BeforeEach(func() {
			Expect(store.Sessions.Put(ctx, test.Session(func(s *apis.Session) {
				s.SessionID = "sess-alpha"
				s.OwnerID = "user-1"
				s.Status = apis.SessionActive
			}))).To(Succeed())
			Expect(store.Sessions.Put(ctx, test.Session(func(s *apis.Session) {
				s.SessionID = "sess-beta"
				s.OwnerID = "user-2"
				s.OwnerDisplayName = "Beta Tester"
				s.Status = apis.SessionTerminated
			}))).To(Succeed())
		})

		It("should require the admin role", func() {
			_, err := controller.ListAdmin(ctx, session.AdminListRequest{Token: token(nil)})
			Expect(errors.Is(err, session.ErrForbidden)).To(BeTrue())
		})

		It("should list every session for an admin", func() {
			listing, err := controller.ListAdmin(ctx, session.AdminListRequest{Token: adminToken()})
			Expect(err).ToNot(HaveOccurred())
			Expect(listing).To(HaveLen(2))
		})

		It("should filter by status", func() {
			listing, err := controller.ListAdmin(ctx, session.AdminListRequest{
				Token: adminToken(), Status: "active",
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(listing).To(HaveLen(1))
			Expect(listing[0].SessionID).To(Equal("sess-alpha"))
		})

		It("should search across id, owner and display name", func() {
			listing, err := controller.ListAdmin(ctx, session.AdminListRequest{
				Token: adminToken(), Search: "beta tester",
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(listing).To(HaveLen(1))
			Expect(listing[0].SessionID).To(Equal("sess-beta"))
		})

		It("should honor the limit", func() {
			listing, err := controller.ListAdmin(ctx, session.AdminListRequest{
				Token: adminToken(), Limit: 1,
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(listing).To(HaveLen(1))
		})
	})
})
