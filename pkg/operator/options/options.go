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

package options

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"time"

	"go.uber.org/multierr"

	"github.com/hackdesk/orchestrator/pkg/apis"
	"github.com/hackdesk/orchestrator/pkg/utils/env"
)

// Options for running this binary
type Options struct {
	*flag.FlagSet

	// Serving
	HTTPPort    int
	MetricsPort int
	Development bool

	// State store tables
	SessionsTable     string
	InstancePoolTable string
	UsageTable        string
	ConnectionsTable  string

	// Display gateway
	GatewayURL         string
	GatewayInternalURL string
	GatewayDataSource  string
	GatewayAdminUser   string
	GatewayAdminPass   string
	EnableGatewayCleanup bool

	// Portal authentication
	PortalWebhookSecret string
	RequireAuth         bool

	// Session policy
	SessionTTLHours int
	MaxSessions     int
	CredentialSalt  string
	RDPUsername     string
	RDPPassword     string

	// Idle detection
	EnableIdleDetection      bool
	IdleHeartbeatGracePeriod time.Duration
	IdleWarningFreemium      time.Duration
	IdleTerminationFreemium  time.Duration
	IdleWarningStarter       time.Duration
	IdleTerminationStarter   time.Duration
	IdleWarningPro           time.Duration
	IdleTerminationPro       time.Duration

	// Pool autoscaling groups, one per tier
	ASGNameFreemium string
	ASGNameStarter  string
	ASGNamePro      string

	// Reconciler
	ReconcileInterval time.Duration

	// Push notifications
	WebsocketAPIEndpoint string

	// AWS
	Region string
}

// New creates an Options struct and registers CLI flags and environment variables to fill-in the Options struct fields
func New() *Options {
	opts := &Options{}
	f := flag.NewFlagSet("orchestrator", flag.ContinueOnError)
	opts.FlagSet = f

	f.IntVar(&opts.HTTPPort, "http-port", env.WithDefaultInt("HTTP_PORT", 8080), "The port the session API binds to")
	f.IntVar(&opts.MetricsPort, "metrics-port", env.WithDefaultInt("METRICS_PORT", 8081), "The port the metric endpoint binds to for operating metrics about the service itself")
	f.BoolVar(&opts.Development, "development", env.WithDefaultBool("DEVELOPMENT", false), "Use the human-readable console log encoder")

	f.StringVar(&opts.SessionsTable, "sessions-table", env.WithDefaultString("SESSIONS_TABLE", ""), "The sessions table name")
	f.StringVar(&opts.InstancePoolTable, "instance-pool-table", env.WithDefaultString("INSTANCE_POOL_TABLE", ""), "The instance pool table name")
	f.StringVar(&opts.UsageTable, "usage-table", env.WithDefaultString("USAGE_TABLE", ""), "The monthly usage table name")
	f.StringVar(&opts.ConnectionsTable, "connections-table", env.WithDefaultString("CONNECTIONS_TABLE", ""), "The push subscriber table name. Leave empty to disable push notifications")

	f.StringVar(&opts.GatewayURL, "gateway-url", env.WithDefaultString("GATEWAY_URL", ""), "The public display gateway base URL handed to browsers")
	f.StringVar(&opts.GatewayInternalURL, "gateway-internal-url", env.WithDefaultString("GATEWAY_INTERNAL_URL", ""), "The display gateway base URL used for API calls. Defaults to the public URL")
	f.StringVar(&opts.GatewayDataSource, "gateway-data-source", env.WithDefaultString("GATEWAY_DATA_SOURCE", "postgresql"), "The display gateway data source identifier")
	f.StringVar(&opts.GatewayAdminUser, "gateway-admin-user", env.WithDefaultString("GATEWAY_ADMIN_USER", "guacadmin"), "The display gateway admin username")
	f.StringVar(&opts.GatewayAdminPass, "gateway-admin-pass", env.WithDefaultString("GATEWAY_ADMIN_PASS", ""), "The display gateway admin password")
	f.BoolVar(&opts.EnableGatewayCleanup, "enable-gateway-cleanup", env.WithDefaultBool("ENABLE_GATEWAY_CLEANUP", true), "Delete gateway connections and ephemeral users on session termination")

	f.StringVar(&opts.PortalWebhookSecret, "portal-webhook-secret", env.WithDefaultString("PORTAL_WEBHOOK_SECRET", ""), "The shared HMAC secret used to verify portal tokens")
	f.BoolVar(&opts.RequireAuth, "require-auth", env.WithDefaultBool("REQUIRE_AUTH", true), "Reject requests without a valid portal token. Disable only for test environments")

	f.IntVar(&opts.SessionTTLHours, "session-ttl-hours", env.WithDefaultInt("SESSION_TTL_HOURS", 4), "Hours until a session expires regardless of activity")
	f.IntVar(&opts.MaxSessions, "max-sessions", env.WithDefaultInt("MAX_SESSIONS", 1), "Maximum concurrent sessions per owner")
	f.StringVar(&opts.CredentialSalt, "credential-salt", env.WithDefaultString("CREDENTIAL_SALT", "secret"), "Salt mixed into derived ephemeral gateway passwords")
	f.StringVar(&opts.RDPUsername, "rdp-username", env.WithDefaultString("RDP_USERNAME", ""), "The RDP username programmed into every gateway connection")
	f.StringVar(&opts.RDPPassword, "rdp-password", env.WithDefaultString("RDP_PASSWORD", ""), "The RDP password programmed into every gateway connection")

	f.BoolVar(&opts.EnableIdleDetection, "enable-idle-detection", env.WithDefaultBool("ENABLE_IDLE_DETECTION", true), "Enable the reconciler's idle sweep")
	f.DurationVar(&opts.IdleHeartbeatGracePeriod, "idle-heartbeat-grace-period", env.WithDefaultDuration("IDLE_HEARTBEAT_GRACE_PERIOD", 120*time.Second), "Grace window for treating a gateway-connected session as active and for stale-session liveness")
	f.DurationVar(&opts.IdleWarningFreemium, "idle-warning-freemium", env.WithDefaultDuration("IDLE_WARNING_FREEMIUM", 900*time.Second), "Idle warning threshold for the freemium tier")
	f.DurationVar(&opts.IdleTerminationFreemium, "idle-termination-freemium", env.WithDefaultDuration("IDLE_TERMINATION_FREEMIUM", 1800*time.Second), "Idle termination threshold for the freemium tier")
	f.DurationVar(&opts.IdleWarningStarter, "idle-warning-starter", env.WithDefaultDuration("IDLE_WARNING_STARTER", 1200*time.Second), "Idle warning threshold for the starter tier")
	f.DurationVar(&opts.IdleTerminationStarter, "idle-termination-starter", env.WithDefaultDuration("IDLE_TERMINATION_STARTER", 2400*time.Second), "Idle termination threshold for the starter tier")
	f.DurationVar(&opts.IdleWarningPro, "idle-warning-pro", env.WithDefaultDuration("IDLE_WARNING_PRO", 1800*time.Second), "Idle warning threshold for the pro tier")
	f.DurationVar(&opts.IdleTerminationPro, "idle-termination-pro", env.WithDefaultDuration("IDLE_TERMINATION_PRO", 3600*time.Second), "Idle termination threshold for the pro tier")

	f.StringVar(&opts.ASGNameFreemium, "asg-name-freemium", env.WithDefaultString("ASG_NAME_FREEMIUM", ""), "The autoscaling group backing the freemium pool")
	f.StringVar(&opts.ASGNameStarter, "asg-name-starter", env.WithDefaultString("ASG_NAME_STARTER", ""), "The autoscaling group backing the starter pool")
	f.StringVar(&opts.ASGNamePro, "asg-name-pro", env.WithDefaultString("ASG_NAME_PRO", ""), "The autoscaling group backing the pro pool")

	f.DurationVar(&opts.ReconcileInterval, "reconcile-interval", env.WithDefaultDuration("RECONCILE_INTERVAL", 60*time.Second), "Interval between reconciler cycles")

	f.StringVar(&opts.WebsocketAPIEndpoint, "websocket-api-endpoint", env.WithDefaultString("WEBSOCKET_API_ENDPOINT", ""), "The API Gateway management endpoint for pushing session updates to websocket subscribers")

	f.StringVar(&opts.Region, "region", env.WithDefaultString("AWS_REGION", ""), "The AWS region")
	return opts
}

// MustParse reads the user passed flags, environment variables, and default values.
// Options are validated and panics if an error is returned
func (o *Options) MustParse() *Options {
	err := o.Parse(os.Args[1:])

	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		panic(err)
	}
	if err := o.Validate(); err != nil {
		panic(err)
	}
	return o
}

func (o Options) Validate() (err error) {
	if o.SessionsTable == "" {
		err = multierr.Append(err, fmt.Errorf("SESSIONS_TABLE is required"))
	}
	if o.InstancePoolTable == "" {
		err = multierr.Append(err, fmt.Errorf("INSTANCE_POOL_TABLE is required"))
	}
	if o.UsageTable == "" {
		err = multierr.Append(err, fmt.Errorf("USAGE_TABLE is required"))
	}
	err = multierr.Append(err, o.validateGatewayURL())
	if o.RequireAuth && o.PortalWebhookSecret == "" {
		err = multierr.Append(err, fmt.Errorf("PORTAL_WEBHOOK_SECRET is required when REQUIRE_AUTH is enabled"))
	}
	if o.SessionTTLHours <= 0 {
		err = multierr.Append(err, fmt.Errorf("session-ttl-hours must be positive"))
	}
	if o.MaxSessions <= 0 {
		err = multierr.Append(err, fmt.Errorf("max-sessions must be positive"))
	}
	for plan, group := range o.TierGroups() {
		if group == "" {
			err = multierr.Append(err, fmt.Errorf("no autoscaling group configured for the %s tier", plan))
		}
	}
	return err
}

func (o Options) validateGatewayURL() error {
	gateway, err := url.Parse(o.GatewayURL)
	// url.Parse() will accept a lot of input without error; make
	// sure it's a real URL
	if err != nil || !gateway.IsAbs() || gateway.Hostname() == "" {
		return fmt.Errorf("%q not a valid GATEWAY_URL", o.GatewayURL)
	}
	return nil
}

// InternalGatewayURL returns the base URL used for gateway API calls,
// falling back to the public URL.
func (o Options) InternalGatewayURL() string {
	if o.GatewayInternalURL != "" {
		return o.GatewayInternalURL
	}
	return o.GatewayURL
}

// TierGroups maps each tier to its autoscaling group name.
func (o Options) TierGroups() map[apis.Plan]string {
	return map[apis.Plan]string{
		apis.PlanFreemium: o.ASGNameFreemium,
		apis.PlanStarter:  o.ASGNameStarter,
		apis.PlanPro:      o.ASGNamePro,
	}
}

// TierGroup returns the autoscaling group backing the given tier.
func (o Options) TierGroup(plan apis.Plan) string {
	return o.TierGroups()[apis.PoolPlan(plan)]
}

// IdleThresholds returns the warning and termination thresholds for the tier.
func (o Options) IdleThresholds(plan apis.Plan) (warning, termination time.Duration) {
	switch apis.PoolPlan(plan) {
	case apis.PlanStarter:
		return o.IdleWarningStarter, o.IdleTerminationStarter
	case apis.PlanPro:
		return o.IdleWarningPro, o.IdleTerminationPro
	default:
		return o.IdleWarningFreemium, o.IdleTerminationFreemium
	}
}

// SessionTTL is the configured session lifetime.
func (o Options) SessionTTL() time.Duration {
	return time.Duration(o.SessionTTLHours) * time.Hour
}
