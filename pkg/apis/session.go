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

package apis

// SessionStatus is the lifecycle state of a workstation session.
type SessionStatus string

const (
	SessionPending      SessionStatus = "pending"
	SessionProvisioning SessionStatus = "provisioning"
	SessionReady        SessionStatus = "ready"
	SessionActive       SessionStatus = "active"
	SessionTerminating  SessionStatus = "terminating"
	SessionTerminated   SessionStatus = "terminated"
	SessionError        SessionStatus = "error"
)

// ActiveSessionStatuses are the states in which a session may hold or acquire
// an instance. Per-owner session limits count these.
var ActiveSessionStatuses = []SessionStatus{
	SessionPending, SessionProvisioning, SessionReady, SessionActive,
}

// IsTerminal returns true once no later write may revive the session.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionTerminated || s == SessionError
}

// Termination reasons recorded on the session.
const (
	ReasonUserRequested      = "user_requested"
	ReasonExpired            = "expired"
	ReasonIdleTimeout        = "idle_timeout"
	ReasonStaleGatewayLogout = "stale_gateway_logout"
)

// ConnectionInfo is everything a browser needs to reach the workstation
// through the display gateway.
type ConnectionInfo struct {
	Type          string `json:"type" dynamodbav:"type"`
	GatewayURL    string `json:"gateway_url" dynamodbav:"gateway_url"`
	ConnectionID  string `json:"connection_id" dynamodbav:"connection_id"`
	EphemeralUser string `json:"ephemeral_user,omitempty" dynamodbav:"ephemeral_user,omitempty"`
	InstanceIP    string `json:"instance_ip" dynamodbav:"instance_ip"`
	Ports         Ports  `json:"ports" dynamodbav:"ports"`
	DirectURL     string `json:"direct_url,omitempty" dynamodbav:"direct_url,omitempty"`
}

type Ports struct {
	RDP int `json:"rdp" dynamodbav:"rdp"`
	VNC int `json:"vnc" dynamodbav:"vnc"`
	SSH int `json:"ssh" dynamodbav:"ssh"`
}

// DefaultPorts are the service ports every workstation image exposes.
var DefaultPorts = Ports{RDP: 3389, VNC: 5901, SSH: 22}

// HealthSummary captures the cloud's view of instance health at the time the
// session was last enriched. Stored for the status endpoint only.
type HealthSummary struct {
	SystemStatus   string `json:"system_status" dynamodbav:"system_status"`
	InstanceStatus string `json:"instance_status" dynamodbav:"instance_status"`
	PassedChecks   int    `json:"passed_checks" dynamodbav:"passed_checks"`
	TotalChecks    int    `json:"total_checks" dynamodbav:"total_checks"`
	AllPassed      bool   `json:"all_passed" dynamodbav:"all_passed"`
}

// Session is the primary entity. All timestamps are Unix epoch seconds.
type Session struct {
	SessionID        string            `json:"session_id" dynamodbav:"session_id"`
	OwnerID          string            `json:"owner_id" dynamodbav:"owner_id"`
	OwnerDisplayName string            `json:"owner_display_name,omitempty" dynamodbav:"owner_display_name,omitempty"`
	Plan             Plan              `json:"plan" dynamodbav:"plan"`
	QuotaMinutes     int64             `json:"quota_minutes,omitempty" dynamodbav:"quota_minutes,omitempty"`
	Status           SessionStatus     `json:"status" dynamodbav:"status"`
	CreatedAt        int64             `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt        int64             `json:"updated_at" dynamodbav:"updated_at"`
	ExpiresAt        int64             `json:"expires_at" dynamodbav:"expires_at"`
	InstanceID       string            `json:"instance_id,omitempty" dynamodbav:"instance_id,omitempty"`
	InstanceIP       string            `json:"instance_ip,omitempty" dynamodbav:"instance_ip,omitempty"`
	InstanceState    string            `json:"instance_state,omitempty" dynamodbav:"instance_state,omitempty"`
	Connection       *ConnectionInfo   `json:"connection_info,omitempty" dynamodbav:"connection_info,omitempty"`
	DirectURL        string            `json:"direct_url,omitempty" dynamodbav:"direct_url,omitempty"`
	Health           *HealthSummary    `json:"health_checks,omitempty" dynamodbav:"health_checks,omitempty"`
	LastActiveAt     int64             `json:"last_active_at,omitempty" dynamodbav:"last_active_at,omitempty"`
	LastHeartbeatAt  int64             `json:"last_heartbeat_at,omitempty" dynamodbav:"last_heartbeat_at,omitempty"`
	IdleWarningAt    int64             `json:"idle_warning_sent_at,omitempty" dynamodbav:"idle_warning_sent_at,omitempty"`
	FocusMode        bool              `json:"focus_mode,omitempty" dynamodbav:"focus_mode,omitempty"`
	TerminatedAt     int64             `json:"terminated_at,omitempty" dynamodbav:"terminated_at,omitempty"`
	TerminationReason string           `json:"termination_reason,omitempty" dynamodbav:"termination_reason,omitempty"`
	Error            string            `json:"error,omitempty" dynamodbav:"error,omitempty"`
	ProvisioningNote string            `json:"provisioning_note,omitempty" dynamodbav:"provisioning_note,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty" dynamodbav:"metadata,omitempty"`
}

// IsActive reports whether the session counts against the owner's session
// limit and may hold an instance.
func (s *Session) IsActive() bool {
	switch s.Status {
	case SessionPending, SessionProvisioning, SessionReady, SessionActive:
		return true
	}
	return false
}
