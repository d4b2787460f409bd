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

package scaling

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	autoscalingtypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
	"github.com/samber/lo"

	"github.com/hackdesk/orchestrator/pkg/aws/sdk"
)

// LifecycleInService is the lifecycle state of a group member that is fully
// attached and counted toward desired capacity.
const LifecycleInService = "InService"

// Member is one instance attached to an autoscaling group.
type Member struct {
	InstanceID     string
	LifecycleState string
}

// InService reports whether the member counts toward serving capacity.
func (m Member) InService() bool {
	return m.LifecycleState == LifecycleInService
}

// Capacity is the group's configured size.
type Capacity struct {
	Min     int32
	Max     int32
	Desired int32
}

type Provider interface {
	Members(ctx context.Context, group string) ([]Member, error)
	Capacity(ctx context.Context, group string) (Capacity, error)
	// SetDesired adjusts desired capacity. n must satisfy min <= n <= max.
	SetDesired(ctx context.Context, group string, n int32) error
}

type DefaultProvider struct {
	api sdk.AutoScalingAPI
}

func NewDefaultProvider(api sdk.AutoScalingAPI) *DefaultProvider {
	return &DefaultProvider{api: api}
}

func (p *DefaultProvider) Members(ctx context.Context, group string) ([]Member, error) {
	asg, err := p.describe(ctx, group)
	if err != nil {
		return nil, err
	}
	return lo.Map(asg.Instances, func(i autoscalingtypes.Instance, _ int) Member {
		return Member{
			InstanceID:     aws.ToString(i.InstanceId),
			LifecycleState: string(i.LifecycleState),
		}
	}), nil
}

func (p *DefaultProvider) Capacity(ctx context.Context, group string) (Capacity, error) {
	asg, err := p.describe(ctx, group)
	if err != nil {
		return Capacity{}, err
	}
	return Capacity{
		Min:     aws.ToInt32(asg.MinSize),
		Max:     aws.ToInt32(asg.MaxSize),
		Desired: aws.ToInt32(asg.DesiredCapacity),
	}, nil
}

func (p *DefaultProvider) SetDesired(ctx context.Context, group string, n int32) error {
	if _, err := p.api.SetDesiredCapacity(ctx, &autoscaling.SetDesiredCapacityInput{
		AutoScalingGroupName: aws.String(group),
		DesiredCapacity:      aws.Int32(n),
		HonorCooldown:        aws.Bool(false),
	}); err != nil {
		return fmt.Errorf("setting desired capacity of %s to %d, %w", group, n, err)
	}
	return nil
}

func (p *DefaultProvider) describe(ctx context.Context, group string) (*autoscalingtypes.AutoScalingGroup, error) {
	out, err := p.api.DescribeAutoScalingGroups(ctx, &autoscaling.DescribeAutoScalingGroupsInput{
		AutoScalingGroupNames: []string{group},
	})
	if err != nil {
		return nil, fmt.Errorf("describing autoscaling group %s, %w", group, err)
	}
	if len(out.AutoScalingGroups) == 0 {
		return nil, fmt.Errorf("autoscaling group %s not found", group)
	}
	return &out.AutoScalingGroups[0], nil
}
