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

// Package notify pushes session updates to websocket subscribers through
// the API Gateway management endpoint. Delivery is best-effort: the session
// state machine never depends on a push landing.
package notify

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	"github.com/samber/lo"

	"github.com/hackdesk/orchestrator/pkg/apis"
	"github.com/hackdesk/orchestrator/pkg/aws/sdk"
	awserrors "github.com/hackdesk/orchestrator/pkg/errors"
	"github.com/hackdesk/orchestrator/pkg/logging"
	"github.com/hackdesk/orchestrator/pkg/state"
)

// Event is the wire shape of a push message.
type Event struct {
	Type      string             `json:"type"`
	SessionID string             `json:"session_id"`
	Status    apis.SessionStatus `json:"status"`
	Payload   any                `json:"payload,omitempty"`
	Timestamp int64              `json:"timestamp"`
}

type Publisher struct {
	api         sdk.ManagementAPI
	subscribers state.SubscriberStore
}

func NewPublisher(api sdk.ManagementAPI, subscribers state.SubscriberStore) *Publisher {
	return &Publisher{api: api, subscribers: subscribers}
}

// SessionStatus fans a status transition out to every subscriber of the
// session and of its owner. Connections the endpoint reports Gone are
// dropped from the table.
func (p *Publisher) SessionStatus(ctx context.Context, session *apis.Session, timestamp int64) {
	event := Event{
		Type:      "session_status",
		SessionID: session.SessionID,
		Status:    session.Status,
		Payload: map[string]any{
			"instance_id":        session.InstanceID,
			"termination_reason": session.TerminationReason,
		},
		Timestamp: timestamp,
	}
	bySession, err := p.subscribers.BySession(ctx, session.SessionID)
	if err != nil {
		logging.FromContext(ctx).Warnw("listing session subscribers", "session-id", session.SessionID, "error", err)
	}
	byOwner, err := p.subscribers.ByOwner(ctx, session.OwnerID)
	if err != nil {
		logging.FromContext(ctx).Warnw("listing owner subscribers", "owner-id", session.OwnerID, "error", err)
	}
	subscribers := lo.UniqBy(append(bySession, byOwner...), func(s *apis.Subscriber) string {
		return s.ConnectionID
	})
	if len(subscribers) == 0 {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		logging.FromContext(ctx).Errorw("encoding push event", "error", err)
		return
	}
	for _, subscriber := range subscribers {
		if _, err := p.api.PostToConnection(ctx, &apigatewaymanagementapi.PostToConnectionInput{
			ConnectionId: aws.String(subscriber.ConnectionID),
			Data:         data,
		}); err != nil {
			if awserrors.IsGone(err) {
				if err := p.subscribers.Delete(ctx, subscriber.ConnectionID); err != nil {
					logging.FromContext(ctx).Warnw("dropping gone subscriber",
						"connection-id", subscriber.ConnectionID, "error", err)
				}
				continue
			}
			logging.FromContext(ctx).Warnw("pushing to subscriber",
				"connection-id", subscriber.ConnectionID, "error", err)
		}
	}
}
