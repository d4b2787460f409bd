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

package instance

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/samber/lo"

	"github.com/hackdesk/orchestrator/pkg/apis"
	"github.com/hackdesk/orchestrator/pkg/aws/sdk"
)

// Instance states as the cloud reports them.
const (
	StatePending  = "pending"
	StateRunning  = "running"
	StateStopping = "stopping"
	StateStopped  = "stopped"
)

// Tag keys applied on claim and cleared on release.
const (
	TagSessionID         = "SessionId"
	TagOwnerID           = "OwnerId"
	TagAssignedAt        = "AssignedAt"
	TagReleasedAt        = "ReleasedAt"
	TagTerminationReason = "TerminationReason"
)

// Instance is the orchestrator's view of a workstation.
type Instance struct {
	ID        string
	State     string
	PrivateIP string
	Health    *apis.HealthSummary
}

// Running reports whether the workstation can accept a connection.
func (i *Instance) Running() bool {
	return i.State == StateRunning
}

type Provider interface {
	// Get describes the workstation and summarizes its health checks.
	Get(ctx context.Context, instanceID string) (*Instance, error)
	// Start and Stop are idempotent; success means the request was
	// accepted, not that the transition completed.
	Start(ctx context.Context, instanceID string) error
	Stop(ctx context.Context, instanceID string) error
	// Tag and Untag are best-effort metadata updates.
	Tag(ctx context.Context, instanceID string, tags map[string]string) error
	Untag(ctx context.Context, instanceID string, keys []string) error
}

type DefaultProvider struct {
	ec2api sdk.EC2API
}

func NewDefaultProvider(ec2api sdk.EC2API) *DefaultProvider {
	return &DefaultProvider{ec2api: ec2api}
}

func (p *DefaultProvider) Get(ctx context.Context, instanceID string) (*Instance, error) {
	out, err := p.ec2api.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return nil, fmt.Errorf("describing instance %s, %w", instanceID, err)
	}
	instances := lo.Flatten(lo.Map(out.Reservations, func(r ec2types.Reservation, _ int) []ec2types.Instance {
		return r.Instances
	}))
	if len(instances) == 0 {
		return nil, fmt.Errorf("describing instance %s, not found", instanceID)
	}
	instance := &Instance{
		ID:        instanceID,
		State:     string(instances[0].State.Name),
		PrivateIP: aws.ToString(instances[0].PrivateIpAddress),
	}
	health, err := p.health(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	instance.Health = health
	return instance, nil
}

// health summarizes the instance's status checks. all_passed holds iff both
// summary statuses are benign or every individual check reports passed;
// "initializing" counts as not-yet-healthy.
func (p *DefaultProvider) health(ctx context.Context, instanceID string) (*apis.HealthSummary, error) {
	out, err := p.ec2api.DescribeInstanceStatus(ctx, &ec2.DescribeInstanceStatusInput{
		InstanceIds:         []string{instanceID},
		IncludeAllInstances: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("describing instance status %s, %w", instanceID, err)
	}
	if len(out.InstanceStatuses) == 0 {
		return &apis.HealthSummary{SystemStatus: "unknown", InstanceStatus: "unknown"}, nil
	}
	status := out.InstanceStatuses[0]
	summary := &apis.HealthSummary{
		SystemStatus:   string(status.SystemStatus.Status),
		InstanceStatus: string(status.InstanceStatus.Status),
	}
	details := append(status.SystemStatus.Details, status.InstanceStatus.Details...)
	summary.TotalChecks = len(details)
	summary.PassedChecks = lo.CountBy(details, func(d ec2types.InstanceStatusDetails) bool {
		return string(d.Status) == "passed"
	})
	summary.AllPassed = (benign(summary.SystemStatus) && benign(summary.InstanceStatus)) ||
		(summary.TotalChecks > 0 && summary.PassedChecks == summary.TotalChecks)
	return summary, nil
}

func benign(status string) bool {
	switch status {
	case "ok", "insufficient-data", "not-applicable":
		return true
	}
	return false
}

func (p *DefaultProvider) Start(ctx context.Context, instanceID string) error {
	if _, err := p.ec2api.StartInstances(ctx, &ec2.StartInstancesInput{
		InstanceIds: []string{instanceID},
	}); err != nil {
		return fmt.Errorf("starting instance %s, %w", instanceID, err)
	}
	return nil
}

func (p *DefaultProvider) Stop(ctx context.Context, instanceID string) error {
	if _, err := p.ec2api.StopInstances(ctx, &ec2.StopInstancesInput{
		InstanceIds: []string{instanceID},
	}); err != nil {
		return fmt.Errorf("stopping instance %s, %w", instanceID, err)
	}
	return nil
}

func (p *DefaultProvider) Tag(ctx context.Context, instanceID string, tags map[string]string) error {
	if len(tags) == 0 {
		return nil
	}
	if _, err := p.ec2api.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{instanceID},
		Tags: lo.MapToSlice(tags, func(k, v string) ec2types.Tag {
			return ec2types.Tag{Key: aws.String(k), Value: aws.String(v)}
		}),
	}); err != nil {
		return fmt.Errorf("tagging instance %s, %w", instanceID, err)
	}
	return nil
}

func (p *DefaultProvider) Untag(ctx context.Context, instanceID string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if _, err := p.ec2api.DeleteTags(ctx, &ec2.DeleteTagsInput{
		Resources: []string{instanceID},
		Tags: lo.Map(keys, func(k string, _ int) ec2types.Tag {
			return ec2types.Tag{Key: aws.String(k)}
		}),
	}); err != nil {
		return fmt.Errorf("untagging instance %s, %w", instanceID, err)
	}
	return nil
}
