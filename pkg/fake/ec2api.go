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
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"

	"github.com/hackdesk/orchestrator/pkg/aws/sdk"
)

// FleetInstance is the fake cloud's view of one workstation.
type FleetInstance struct {
	ID        string
	State     string
	PrivateIP string
	// Healthy drives the status checks: true reports both checks passed,
	// false reports initializing.
	Healthy bool
}

// EC2Behavior lets tests override individual calls while the fleet registry
// answers everything else.
type EC2Behavior struct {
	DescribeInstancesBehavior      MockedFunction[ec2.DescribeInstancesInput, ec2.DescribeInstancesOutput]
	DescribeInstanceStatusBehavior MockedFunction[ec2.DescribeInstanceStatusInput, ec2.DescribeInstanceStatusOutput]
	StartInstancesBehavior         MockedFunction[ec2.StartInstancesInput, ec2.StartInstancesOutput]
	StopInstancesBehavior          MockedFunction[ec2.StopInstancesInput, ec2.StopInstancesOutput]
	CreateTagsBehavior             MockedFunction[ec2.CreateTagsInput, ec2.CreateTagsOutput]
	DeleteTagsBehavior             MockedFunction[ec2.DeleteTagsInput, ec2.DeleteTagsOutput]
}

type EC2API struct {
	EC2Behavior

	mu    sync.Mutex
	fleet map[string]*FleetInstance
	tags  map[string]map[string]string
}

var _ sdk.EC2API = (*EC2API)(nil)

func NewEC2API() *EC2API {
	return &EC2API{
		fleet: map[string]*FleetInstance{},
		tags:  map[string]map[string]string{},
	}
}

// Reset must be called between tests otherwise tests will pollute
// each other.
func (a *EC2API) Reset() {
	a.DescribeInstancesBehavior.Reset()
	a.DescribeInstanceStatusBehavior.Reset()
	a.StartInstancesBehavior.Reset()
	a.StopInstancesBehavior.Reset()
	a.CreateTagsBehavior.Reset()
	a.DeleteTagsBehavior.Reset()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fleet = map[string]*FleetInstance{}
	a.tags = map[string]map[string]string{}
}

func (a *EC2API) AddInstance(instance *FleetInstance) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fleet[instance.ID] = instance
}

func (a *EC2API) SetState(instanceID, instanceState string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if instance, ok := a.fleet[instanceID]; ok {
		instance.State = instanceState
	}
}

// Tags returns the tags currently applied to the instance.
func (a *EC2API) Tags(instanceID string) map[string]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := map[string]string{}
	for k, v := range a.tags[instanceID] {
		out[k] = v
	}
	return out
}

func notFound(instanceID string) error {
	return &smithy.GenericAPIError{
		Code:    "InvalidInstanceID.NotFound",
		Message: fmt.Sprintf("The instance ID '%s' does not exist", instanceID),
	}
}

func (a *EC2API) DescribeInstances(_ context.Context, input *ec2.DescribeInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	return a.DescribeInstancesBehavior.Invoke(input, func(input *ec2.DescribeInstancesInput) (*ec2.DescribeInstancesOutput, error) {
		a.mu.Lock()
		defer a.mu.Unlock()
		var instances []ec2types.Instance
		for _, id := range input.InstanceIds {
			instance, ok := a.fleet[id]
			if !ok {
				return nil, notFound(id)
			}
			instances = append(instances, ec2types.Instance{
				InstanceId:       aws.String(instance.ID),
				State:            &ec2types.InstanceState{Name: ec2types.InstanceStateName(instance.State)},
				PrivateIpAddress: aws.String(instance.PrivateIP),
			})
		}
		return &ec2.DescribeInstancesOutput{
			Reservations: []ec2types.Reservation{{Instances: instances}},
		}, nil
	})
}

func (a *EC2API) DescribeInstanceStatus(_ context.Context, input *ec2.DescribeInstanceStatusInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstanceStatusOutput, error) {
	return a.DescribeInstanceStatusBehavior.Invoke(input, func(input *ec2.DescribeInstanceStatusInput) (*ec2.DescribeInstanceStatusOutput, error) {
		a.mu.Lock()
		defer a.mu.Unlock()
		var statuses []ec2types.InstanceStatus
		for _, id := range input.InstanceIds {
			instance, ok := a.fleet[id]
			if !ok {
				continue
			}
			summary, detail := "ok", "passed"
			if !instance.Healthy {
				summary, detail = "initializing", "initializing"
			}
			details := []ec2types.InstanceStatusDetails{{
				Name:   ec2types.StatusNameReachability,
				Status: ec2types.StatusType(detail),
			}}
			statuses = append(statuses, ec2types.InstanceStatus{
				InstanceId:     aws.String(id),
				SystemStatus:   &ec2types.InstanceStatusSummary{Status: ec2types.SummaryStatus(summary), Details: details},
				InstanceStatus: &ec2types.InstanceStatusSummary{Status: ec2types.SummaryStatus(summary), Details: details},
			})
		}
		return &ec2.DescribeInstanceStatusOutput{InstanceStatuses: statuses}, nil
	})
}

func (a *EC2API) StartInstances(_ context.Context, input *ec2.StartInstancesInput, _ ...func(*ec2.Options)) (*ec2.StartInstancesOutput, error) {
	return a.StartInstancesBehavior.Invoke(input, func(input *ec2.StartInstancesInput) (*ec2.StartInstancesOutput, error) {
		a.mu.Lock()
		defer a.mu.Unlock()
		for _, id := range input.InstanceIds {
			instance, ok := a.fleet[id]
			if !ok {
				return nil, notFound(id)
			}
			instance.State = "pending"
		}
		return &ec2.StartInstancesOutput{}, nil
	})
}

func (a *EC2API) StopInstances(_ context.Context, input *ec2.StopInstancesInput, _ ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error) {
	return a.StopInstancesBehavior.Invoke(input, func(input *ec2.StopInstancesInput) (*ec2.StopInstancesOutput, error) {
		a.mu.Lock()
		defer a.mu.Unlock()
		for _, id := range input.InstanceIds {
			instance, ok := a.fleet[id]
			if !ok {
				return nil, notFound(id)
			}
			instance.State = "stopping"
		}
		return &ec2.StopInstancesOutput{}, nil
	})
}

func (a *EC2API) CreateTags(_ context.Context, input *ec2.CreateTagsInput, _ ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error) {
	return a.CreateTagsBehavior.Invoke(input, func(input *ec2.CreateTagsInput) (*ec2.CreateTagsOutput, error) {
		a.mu.Lock()
		defer a.mu.Unlock()
		for _, resource := range input.Resources {
			if a.tags[resource] == nil {
				a.tags[resource] = map[string]string{}
			}
			for _, tag := range input.Tags {
				a.tags[resource][aws.ToString(tag.Key)] = aws.ToString(tag.Value)
			}
		}
		return &ec2.CreateTagsOutput{}, nil
	})
}

func (a *EC2API) DeleteTags(_ context.Context, input *ec2.DeleteTagsInput, _ ...func(*ec2.Options)) (*ec2.DeleteTagsOutput, error) {
	return a.DeleteTagsBehavior.Invoke(input, func(input *ec2.DeleteTagsInput) (*ec2.DeleteTagsOutput, error) {
		a.mu.Lock()
		defer a.mu.Unlock()
		for _, resource := range input.Resources {
			for _, tag := range input.Tags {
				delete(a.tags[resource], aws.ToString(tag.Key))
			}
		}
		return &ec2.DeleteTagsOutput{}, nil
	})
}
