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
	"strings"

	"github.com/hackdesk/orchestrator/pkg/apis"
	"github.com/hackdesk/orchestrator/pkg/providers/instance"
)

// stage is the advisory progress snapshot the portal renders while a session
// provisions. Progress and estimates are cosmetic and carry no guarantees.
type stage struct {
	Name             string
	Progress         int
	Message          string
	EstimatedSeconds int
}

//nolint:gocyclo
func stageFor(session *apis.Session) stage {
	switch session.Status {
	case apis.SessionPending:
		if session.InstanceID != "" {
			return stage{"instance_claimed", 18, "Workstation reserved", 45}
		}
		return stage{"finding_instance", 10, "Looking for an available workstation", 55}
	case apis.SessionProvisioning:
		return provisioningStage(session)
	case apis.SessionReady, apis.SessionActive:
		return stage{"ready", 100, "Your workstation is ready", 0}
	case apis.SessionError:
		message := session.Error
		if message == "" {
			message = "Session failed"
		}
		return stage{"error", 0, message, 0}
	case apis.SessionTerminating, apis.SessionTerminated:
		return stage{"terminated", 0, "Session terminated", 0}
	}
	return stage{"session_created", 5, "Session created", 60}
}

func provisioningStage(session *apis.Session) stage {
	if session.InstanceID == "" {
		note := session.ProvisioningNote
		if strings.Contains(note, "ASG") || strings.Contains(note, "new instance") {
			return stage{"scaling_up", 15, "Provisioning a new workstation", 180}
		}
		return stage{"finding_instance", 10, "Looking for an available workstation", 60}
	}
	switch session.InstanceState {
	case instance.StatePending:
		return stage{"instance_starting", 25, "Starting the workstation", 40}
	case instance.StateRunning:
		health := session.Health
		if health != nil && !health.AllPassed {
			if health.PassedChecks > 0 && health.PassedChecks < health.TotalChecks {
				return stage{"waiting_health", 42 + health.PassedChecks*3,
					"Waiting for the workstation to pass health checks", 15}
			}
			return stage{"waiting_health", 42, "Waiting for the workstation to pass health checks", 25}
		}
		if session.Connection == nil {
			return stage{"health_check_passed", 50, "Workstation is healthy", 20}
		}
		if session.Connection.ConnectionID == "" {
			return stage{"creating_guac_connection", 62, "Setting up the remote desktop connection", 15}
		}
		return stage{"generating_token", 94, "Generating your access link", 3}
	default:
		return stage{"instance_starting", 25, "Starting the workstation", 45}
	}
}

// format renders the public session payload with stage fields and the
// remaining lifetime computed against the controller's clock.
func (c *Controller) format(session *apis.Session) *Response {
	current := stageFor(session)
	var timeRemaining int64
	if session.IsActive() && session.ExpiresAt > 0 {
		if remaining := session.ExpiresAt - c.clk.Now().Unix(); remaining > 0 {
			timeRemaining = remaining
		}
	}
	return &Response{
		SessionID:         session.SessionID,
		OwnerID:           session.OwnerID,
		OwnerDisplayName:  session.OwnerDisplayName,
		Plan:              session.Plan,
		Status:            session.Status,
		InstanceID:        session.InstanceID,
		InstanceIP:        session.InstanceIP,
		InstanceState:     session.InstanceState,
		Connection:        session.Connection,
		DirectURL:         session.DirectURL,
		CreatedAt:         session.CreatedAt,
		UpdatedAt:         session.UpdatedAt,
		ExpiresAt:         session.ExpiresAt,
		TimeRemaining:     timeRemaining,
		Error:             session.Error,
		TerminationReason: session.TerminationReason,
		Stage:             current.Name,
		Progress:          current.Progress,
		StageMessage:      current.Message,
		EstimatedSeconds:  current.EstimatedSeconds,
	}
}
