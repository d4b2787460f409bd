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

// InstanceStatus is the pool's view of a workstation.
type InstanceStatus string

const (
	InstanceAvailable InstanceStatus = "available"
	InstanceAssigned  InstanceStatus = "assigned"
	InstanceStarting  InstanceStatus = "starting"
	InstanceStopping  InstanceStatus = "stopping"
	InstanceUnhealthy InstanceStatus = "unhealthy"
)

// PoolInstance is a pool record, keyed by instance id. session_id and
// owner_id are set only while assigned; the reconciler is the sole authority
// that converges these records with cloud ground truth.
type PoolInstance struct {
	InstanceID    string         `json:"instance_id" dynamodbav:"instance_id"`
	Status        InstanceStatus `json:"status" dynamodbav:"status"`
	Plan          Plan           `json:"plan,omitempty" dynamodbav:"plan,omitempty"`
	SessionID     string         `json:"session_id,omitempty" dynamodbav:"session_id,omitempty"`
	OwnerID       string         `json:"owner_id,omitempty" dynamodbav:"owner_id,omitempty"`
	AssignedAt    int64          `json:"assigned_at,omitempty" dynamodbav:"assigned_at,omitempty"`
	ReleasedAt    int64          `json:"released_at,omitempty" dynamodbav:"released_at,omitempty"`
	InstanceState string         `json:"instance_state,omitempty" dynamodbav:"instance_state,omitempty"`
	UpdatedAt     int64          `json:"updated_at,omitempty" dynamodbav:"updated_at,omitempty"`
}
