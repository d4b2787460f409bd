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
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	"github.com/aws/smithy-go"

	"github.com/hackdesk/orchestrator/pkg/aws/sdk"
)

// ManagementAPI fakes the websocket management endpoint. Connections marked
// gone answer every post with GoneException, as the real endpoint does after
// a client disconnects.
type ManagementAPI struct {
	PostToConnectionBehavior MockedFunction[apigatewaymanagementapi.PostToConnectionInput, apigatewaymanagementapi.PostToConnectionOutput]
	DeleteConnectionBehavior MockedFunction[apigatewaymanagementapi.DeleteConnectionInput, apigatewaymanagementapi.DeleteConnectionOutput]

	mu   sync.Mutex
	gone map[string]bool
}

var _ sdk.ManagementAPI = (*ManagementAPI)(nil)

func NewManagementAPI() *ManagementAPI {
	return &ManagementAPI{gone: map[string]bool{}}
}

// Reset must be called between tests otherwise tests will pollute
// each other.
func (a *ManagementAPI) Reset() {
	a.PostToConnectionBehavior.Reset()
	a.DeleteConnectionBehavior.Reset()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gone = map[string]bool{}
}

func (a *ManagementAPI) MarkGone(connectionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gone[connectionID] = true
}

func (a *ManagementAPI) PostToConnection(_ context.Context, input *apigatewaymanagementapi.PostToConnectionInput, _ ...func(*apigatewaymanagementapi.Options)) (*apigatewaymanagementapi.PostToConnectionOutput, error) {
	return a.PostToConnectionBehavior.Invoke(input, func(input *apigatewaymanagementapi.PostToConnectionInput) (*apigatewaymanagementapi.PostToConnectionOutput, error) {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.gone[aws.ToString(input.ConnectionId)] {
			return nil, &smithy.GenericAPIError{Code: "GoneException", Message: "connection is gone"}
		}
		return &apigatewaymanagementapi.PostToConnectionOutput{}, nil
	})
}

func (a *ManagementAPI) DeleteConnection(_ context.Context, input *apigatewaymanagementapi.DeleteConnectionInput, _ ...func(*apigatewaymanagementapi.Options)) (*apigatewaymanagementapi.DeleteConnectionOutput, error) {
	return a.DeleteConnectionBehavior.Invoke(input, func(input *apigatewaymanagementapi.DeleteConnectionInput) (*apigatewaymanagementapi.DeleteConnectionOutput, error) {
		return &apigatewaymanagementapi.DeleteConnectionOutput{}, nil
	})
}
