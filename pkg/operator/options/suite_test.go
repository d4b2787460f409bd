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

package options_test

import (
	"os"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hackdesk/orchestrator/pkg/apis"
	"github.com/hackdesk/orchestrator/pkg/operator/options"
)

func TestOptions(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Options")
}

var environmentVariables = []string{
	"HTTP_PORT",
	"METRICS_PORT",
	"SESSIONS_TABLE",
	"INSTANCE_POOL_TABLE",
	"USAGE_TABLE",
	"CONNECTIONS_TABLE",
	"GATEWAY_URL",
	"GATEWAY_INTERNAL_URL",
	"PORTAL_WEBHOOK_SECRET",
	"REQUIRE_AUTH",
	"SESSION_TTL_HOURS",
	"MAX_SESSIONS",
	"IDLE_WARNING_FREEMIUM",
	"IDLE_TERMINATION_FREEMIUM",
	"ASG_NAME_FREEMIUM",
	"ASG_NAME_STARTER",
	"ASG_NAME_PRO",
	"RECONCILE_INTERVAL",
}

var _ = Describe("Options", func() {
	var envState map[string]string

	BeforeEach(func() {
		envState = map[string]string{}
		for _, ev := range environmentVariables {
			if val, ok := os.LookupEnv(ev); ok {
				envState[ev] = val
			}
			os.Unsetenv(ev)
		}
	})
	AfterEach(func() {
		for _, ev := range environmentVariables {
			os.Unsetenv(ev)
		}
		for ev, val := range envState {
			os.Setenv(ev, val)
		}
	})

	requiredFlags := []string{
		"--sessions-table", "sessions",
		"--instance-pool-table", "instance-pool",
		"--usage-table", "usage",
		"--gateway-url", "https://gateway.example.com/guacamole",
		"--portal-webhook-secret", "secret",
		"--asg-name-freemium", "pool-freemium",
		"--asg-name-starter", "pool-starter",
		"--asg-name-pro", "pool-pro",
	}

	It("should apply defaults", func() {
		opts := options.New()
		Expect(opts.Parse(requiredFlags)).To(Succeed())
		Expect(opts.Validate()).To(Succeed())
		Expect(opts.HTTPPort).To(Equal(8080))
		Expect(opts.MetricsPort).To(Equal(8081))
		Expect(opts.SessionTTLHours).To(Equal(4))
		Expect(opts.MaxSessions).To(Equal(1))
		Expect(opts.GatewayDataSource).To(Equal("postgresql"))
		Expect(opts.RequireAuth).To(BeTrue())
		Expect(opts.EnableIdleDetection).To(BeTrue())
		Expect(opts.ReconcileInterval).To(Equal(60 * time.Second))
	})

	It("should fall back to environment variables", func() {
		os.Setenv("SESSIONS_TABLE", "env-sessions")
		os.Setenv("IDLE_WARNING_FREEMIUM", "600")
		opts := options.New()
		Expect(opts.Parse([]string{})).To(Succeed())
		Expect(opts.SessionsTable).To(Equal("env-sessions"))
		Expect(opts.IdleWarningFreemium).To(Equal(10 * time.Minute))
	})

	It("should prefer flags over environment variables", func() {
		os.Setenv("SESSIONS_TABLE", "env-sessions")
		opts := options.New()
		Expect(opts.Parse([]string{"--sessions-table", "flag-sessions"})).To(Succeed())
		Expect(opts.SessionsTable).To(Equal("flag-sessions"))
	})

	It("should reject a missing sessions table", func() {
		opts := options.New()
		Expect(opts.Parse([]string{"--gateway-url", "https://gateway.example.com"})).To(Succeed())
		Expect(opts.Validate()).ToNot(Succeed())
	})

	It("should reject an invalid gateway url", func() {
		opts := options.New()
		flags := append([]string{}, requiredFlags...)
		flags = append(flags, "--gateway-url", "not-a-url")
		Expect(opts.Parse(flags)).To(Succeed())
		Expect(opts.Validate()).ToNot(Succeed())
	})

	It("should reject a missing webhook secret when auth is required", func() {
		opts := options.New()
		flags := append([]string{}, requiredFlags...)
		flags = append(flags, "--portal-webhook-secret", "")
		Expect(opts.Parse(flags)).To(Succeed())
		Expect(opts.Validate()).ToNot(Succeed())
	})

	It("should allow a missing webhook secret when auth is disabled", func() {
		opts := options.New()
		flags := append([]string{}, requiredFlags...)
		flags = append(flags, "--portal-webhook-secret", "", "--require-auth=false")
		Expect(opts.Parse(flags)).To(Succeed())
		Expect(opts.Validate()).To(Succeed())
	})

	It("should map tiers to their groups", func() {
		opts := options.New()
		Expect(opts.Parse(requiredFlags)).To(Succeed())
		Expect(opts.TierGroup(apis.PlanFreemium)).To(Equal("pool-freemium"))
		Expect(opts.TierGroup(apis.PlanPro)).To(Equal("pool-pro"))
		// An unset plan is served from the pro pool.
		Expect(opts.TierGroup(apis.Plan(""))).To(Equal("pool-pro"))
	})

	It("should return per-tier idle thresholds", func() {
		opts := options.New()
		Expect(opts.Parse(requiredFlags)).To(Succeed())
		warning, termination := opts.IdleThresholds(apis.PlanFreemium)
		Expect(warning).To(Equal(15 * time.Minute))
		Expect(termination).To(Equal(30 * time.Minute))
		warning, termination = opts.IdleThresholds(apis.PlanPro)
		Expect(warning).To(Equal(30 * time.Minute))
		Expect(termination).To(Equal(time.Hour))
	})

	It("should fall back to the public gateway url for internal calls", func() {
		opts := options.New()
		Expect(opts.Parse(requiredFlags)).To(Succeed())
		Expect(opts.InternalGatewayURL()).To(Equal("https://gateway.example.com/guacamole"))
		Expect(opts.Parse([]string{"--gateway-internal-url", "http://guacamole.internal:8080/guacamole"})).To(Succeed())
		Expect(opts.InternalGatewayURL()).To(Equal("http://guacamole.internal:8080/guacamole"))
	})
})
