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

package fake

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	autoscalingtypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"

	"github.com/hackdesk/orchestrator/pkg/aws/sdk"
)

// Group is the fake's view of one autoscaling group. Members are always
// reported InService.
type Group struct {
	Name    string
	Min     int32
	Max     int32
	Desired int32
	Members []string
}

type AutoScalingBehavior struct {
	DescribeAutoScalingGroupsBehavior MockedFunction[autoscaling.DescribeAutoScalingGroupsInput, autoscaling.DescribeAutoScalingGroupsOutput]
	SetDesiredCapacityBehavior        MockedFunction[autoscaling.SetDesiredCapacityInput, autoscaling.SetDesiredCapacityOutput]
}

type AutoScalingAPI struct {
	AutoScalingBehavior

	mu     sync.Mutex
	groups map[string]*Group
}

var _ sdk.AutoScalingAPI = (*AutoScalingAPI)(nil)

func NewAutoScalingAPI() *AutoScalingAPI {
	return &AutoScalingAPI{groups: map[string]*Group{}}
}

// Reset must be called between tests otherwise tests will pollute
// each other.
func (a *AutoScalingAPI) Reset() {
	a.DescribeAutoScalingGroupsBehavior.Reset()
	a.SetDesiredCapacityBehavior.Reset()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.groups = map[string]*Group{}
}

func (a *AutoScalingAPI) AddGroup(group *Group) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.groups[group.Name] = group
}

func (a *AutoScalingAPI) Desired(name string) int32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if group, ok := a.groups[name]; ok {
		return group.Desired
	}
	return 0
}

func (a *AutoScalingAPI) DescribeAutoScalingGroups(_ context.Context, input *autoscaling.DescribeAutoScalingGroupsInput, _ ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingGroupsOutput, error) {
	return a.DescribeAutoScalingGroupsBehavior.Invoke(input, func(input *autoscaling.DescribeAutoScalingGroupsInput) (*autoscaling.DescribeAutoScalingGroupsOutput, error) {
		a.mu.Lock()
		defer a.mu.Unlock()
		out := &autoscaling.DescribeAutoScalingGroupsOutput{}
		for _, name := range input.AutoScalingGroupNames {
			group, ok := a.groups[name]
			if !ok {
				continue
			}
			asg := autoscalingtypes.AutoScalingGroup{
				AutoScalingGroupName: aws.String(group.Name),
				MinSize:              aws.Int32(group.Min),
				MaxSize:              aws.Int32(group.Max),
				DesiredCapacity:      aws.Int32(group.Desired),
			}
			for _, member := range group.Members {
				asg.Instances = append(asg.Instances, autoscalingtypes.Instance{
					InstanceId:     aws.String(member),
					LifecycleState: autoscalingtypes.LifecycleStateInService,
				})
			}
			out.AutoScalingGroups = append(out.AutoScalingGroups, asg)
		}
		return out, nil
	})
}

func (a *AutoScalingAPI) SetDesiredCapacity(_ context.Context, input *autoscaling.SetDesiredCapacityInput, _ ...func(*autoscaling.Options)) (*autoscaling.SetDesiredCapacityOutput, error) {
	return a.SetDesiredCapacityBehavior.Invoke(input, func(input *autoscaling.SetDesiredCapacityInput) (*autoscaling.SetDesiredCapacityOutput, error) {
		a.mu.Lock()
		defer a.mu.Unlock()
		if group, ok := a.groups[aws.ToString(input.AutoScalingGroupName)]; ok {
			group.Desired = aws.ToInt32(input.DesiredCapacity)
		}
		return &autoscaling.SetDesiredCapacityOutput{}, nil
	})
}
