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

package session

import (
	"github.com/hackdesk/orchestrator/pkg/apis"
)

// CreateRequest carries the portal token plus body fields. Body identity
// fields are honored only when authentication is disabled.
type CreateRequest struct {
	Token        string `json:"-"`
	OwnerID      string `json:"user_id"`
	DisplayName  string `json:"display_name"`
	Plan         string `json:"plan"`
	QuotaMinutes int64  `json:"quota_minutes"`
}

// HeartbeatRequest reports client-side liveness.
type HeartbeatRequest struct {
	Token        string `json:"-"`
	ActivityType string `json:"activity_type"`
	TabVisible   *bool  `json:"tab_visible"`
	FocusMode    bool   `json:"focus_mode"`
}

// TerminateRequest tunes how a session is torn down. StopInstance defaults
// to true: the workstation is stopped and parked rather than returned hot.
type TerminateRequest struct {
	Token        string `json:"-"`
	Reason       string `json:"reason"`
	StopInstance *bool  `json:"stop_instance"`
}

// Response is the session payload every endpoint returns, including the
// advisory stage fields the portal uses for loading animations.
type Response struct {
	SessionID         string               `json:"session_id"`
	OwnerID           string               `json:"owner_id"`
	OwnerDisplayName  string               `json:"owner_display_name,omitempty"`
	Plan              apis.Plan            `json:"plan"`
	Status            apis.SessionStatus   `json:"status"`
	InstanceID        string               `json:"instance_id,omitempty"`
	InstanceIP        string               `json:"instance_ip,omitempty"`
	InstanceState     string               `json:"instance_state,omitempty"`
	Connection        *apis.ConnectionInfo `json:"connection_info,omitempty"`
	DirectURL         string               `json:"direct_url,omitempty"`
	CreatedAt         int64                `json:"created_at"`
	UpdatedAt         int64                `json:"updated_at"`
	ExpiresAt         int64                `json:"expires_at"`
	TimeRemaining     int64                `json:"time_remaining"`
	Error             string               `json:"error,omitempty"`
	TerminationReason string               `json:"termination_reason,omitempty"`
	Stage             string               `json:"stage"`
	Progress          int                  `json:"progress"`
	StageMessage      string               `json:"stage_message"`
	EstimatedSeconds  int                  `json:"estimated_seconds"`
	Reused            bool                 `json:"reused,omitempty"`
}

// HeartbeatResponse returns idle telemetry so the client can warn the user
// before the reconciler terminates the session.
type HeartbeatResponse struct {
	SessionID                string             `json:"session_id"`
	Status                   apis.SessionStatus `json:"status"`
	Plan                     apis.Plan          `json:"plan"`
	IdleSeconds              int64              `json:"idle_seconds"`
	IdleWarning              bool               `json:"idle_warning"`
	IdleCritical             bool               `json:"idle_critical"`
	IdleWarningThreshold     int64              `json:"idle_warning_threshold"`
	IdleTerminationThreshold int64              `json:"idle_termination_threshold"`
	TimeUntilWarning         int64              `json:"time_until_warning"`
	TimeUntilTermination     int64              `json:"time_until_termination"`
	GatewayConnected         bool               `json:"gateway_connected"`
	ExpiresAt                int64              `json:"expires_at"`
	FocusMode                bool               `json:"focus_mode"`
	WarningMessage           string             `json:"warning_message,omitempty"`
	WarningLevel             string             `json:"warning_level,omitempty"`
}

// OwnerSessions is the owner listing payload: everything currently active
// plus recent history.
type OwnerSessions struct {
	ActiveSessions []*Response `json:"active_sessions"`
	RecentSessions []*Response `json:"recent_sessions"`
}
