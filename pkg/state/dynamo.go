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

package state

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"k8s.io/utils/clock"

	"github.com/hackdesk/orchestrator/pkg/apis"
	"github.com/hackdesk/orchestrator/pkg/aws/sdk"
	awserrors "github.com/hackdesk/orchestrator/pkg/errors"
)

const (
	sessionStatusIndex     = "StatusIndex"
	sessionOwnerIndex      = "OwnerIndex"
	poolStatusIndex        = "StatusIndex"
	subscriberSessionIndex = "SessionIndex"
	subscriberOwnerIndex   = "OwnerIndex"
)

// DynamoConfig names the tables backing each store.
type DynamoConfig struct {
	SessionsTable     string
	InstancePoolTable string
	UsageTable        string
	ConnectionsTable  string
}

// NewDynamoStore builds the production store over DynamoDB.
func NewDynamoStore(api sdk.DynamoDBAPI, cfg DynamoConfig, clk clock.Clock) *Store {
	return &Store{
		Sessions:    &dynamoSessions{api: api, table: cfg.SessionsTable, clk: clk},
		Pool:        &dynamoPool{api: api, table: cfg.InstancePoolTable, clk: clk},
		Usage:       &dynamoUsage{api: api, table: cfg.UsageTable, clk: clk},
		Subscribers: &dynamoSubscribers{api: api, table: cfg.ConnectionsTable},
	}
}

type dynamoSessions struct {
	api   sdk.DynamoDBAPI
	table string
	clk   clock.Clock
}

func (s *dynamoSessions) Get(ctx context.Context, sessionID string) (*apis.Session, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            map[string]types.AttributeValue{"session_id": &types.AttributeValueMemberS{Value: sessionID}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("getting session %s, %w", sessionID, err)
	}
	if len(out.Item) == 0 {
		return nil, fmt.Errorf("session %s, %w", sessionID, ErrNotFound)
	}
	session := &apis.Session{}
	if err := attributevalue.UnmarshalMap(out.Item, session); err != nil {
		return nil, fmt.Errorf("unmarshaling session %s, %w", sessionID, err)
	}
	return session, nil
}

func (s *dynamoSessions) Put(ctx context.Context, session *apis.Session) error {
	item, err := attributevalue.MarshalMap(session)
	if err != nil {
		return fmt.Errorf("marshaling session %s, %w", session.SessionID, err)
	}
	if _, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("putting session %s, %w", session.SessionID, err)
	}
	return nil
}

func (s *dynamoSessions) Update(ctx context.Context, sessionID string, patch SessionPatch) error {
	return s.update(ctx, sessionID, patch, nil)
}

func (s *dynamoSessions) UpdateIfActive(ctx context.Context, sessionID string, patch SessionPatch) error {
	cond := expression.Not(expression.Name("status").In(
		expression.Value(string(apis.SessionTerminated)),
		expression.Value(string(apis.SessionError)),
	))
	return s.update(ctx, sessionID, patch, &cond)
}

//nolint:gocyclo
func (s *dynamoSessions) update(ctx context.Context, sessionID string, patch SessionPatch, cond *expression.ConditionBuilder) error {
	update := expression.Set(expression.Name("updated_at"), expression.Value(s.clk.Now().Unix()))
	if patch.Status != nil {
		update = update.Set(expression.Name("status"), expression.Value(string(*patch.Status)))
	}
	if patch.ExpiresAt != nil {
		update = update.Set(expression.Name("expires_at"), expression.Value(*patch.ExpiresAt))
	}
	if patch.InstanceID != nil {
		update = update.Set(expression.Name("instance_id"), expression.Value(*patch.InstanceID))
	}
	if patch.InstanceIP != nil {
		update = update.Set(expression.Name("instance_ip"), expression.Value(*patch.InstanceIP))
	}
	if patch.InstanceState != nil {
		update = update.Set(expression.Name("instance_state"), expression.Value(*patch.InstanceState))
	}
	if patch.Connection != nil {
		update = update.Set(expression.Name("connection_info"), expression.Value(patch.Connection))
	}
	if patch.DirectURL != nil {
		update = update.Set(expression.Name("direct_url"), expression.Value(*patch.DirectURL))
	}
	if patch.Health != nil {
		update = update.Set(expression.Name("health_checks"), expression.Value(patch.Health))
	}
	if patch.LastActiveAt != nil {
		update = update.Set(expression.Name("last_active_at"), expression.Value(*patch.LastActiveAt))
	}
	if patch.LastHeartbeatAt != nil {
		update = update.Set(expression.Name("last_heartbeat_at"), expression.Value(*patch.LastHeartbeatAt))
	}
	if patch.IdleWarningAt != nil {
		update = update.Set(expression.Name("idle_warning_sent_at"), expression.Value(*patch.IdleWarningAt))
	}
	if patch.ClearIdleWarning {
		update = update.Remove(expression.Name("idle_warning_sent_at"))
	}
	if patch.FocusMode != nil {
		update = update.Set(expression.Name("focus_mode"), expression.Value(*patch.FocusMode))
	}
	if patch.TerminatedAt != nil {
		update = update.Set(expression.Name("terminated_at"), expression.Value(*patch.TerminatedAt))
	}
	if patch.TerminationReason != nil {
		update = update.Set(expression.Name("termination_reason"), expression.Value(*patch.TerminationReason))
	}
	if patch.Error != nil {
		update = update.Set(expression.Name("error"), expression.Value(*patch.Error))
	}
	if patch.ProvisioningNote != nil {
		update = update.Set(expression.Name("provisioning_note"), expression.Value(*patch.ProvisioningNote))
	}

	builder := expression.NewBuilder().WithUpdate(update)
	if cond != nil {
		builder = builder.WithCondition(*cond)
	}
	expr, err := builder.Build()
	if err != nil {
		return fmt.Errorf("building session update expression, %w", err)
	}
	if _, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       map[string]types.AttributeValue{"session_id": &types.AttributeValueMemberS{Value: sessionID}},
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}); err != nil {
		if awserrors.IsConditionalCheckFailed(err) {
			return fmt.Errorf("updating session %s, %w", sessionID, ErrConditionFailed)
		}
		return fmt.Errorf("updating session %s, %w", sessionID, err)
	}
	return nil
}

func (s *dynamoSessions) ByOwner(ctx context.Context, ownerID string, statuses ...apis.SessionStatus) ([]*apis.Session, error) {
	builder := expression.NewBuilder().
		WithKeyCondition(expression.Key("owner_id").Equal(expression.Value(ownerID)))
	if len(statuses) > 0 {
		first := expression.Value(string(statuses[0]))
		rest := make([]expression.OperandBuilder, 0, len(statuses)-1)
		for _, status := range statuses[1:] {
			rest = append(rest, expression.Value(string(status)))
		}
		builder = builder.WithFilter(expression.Name("status").In(first, rest...))
	}
	expr, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("building owner query expression, %w", err)
	}
	return s.query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.table),
		IndexName:                 aws.String(sessionOwnerIndex),
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(false),
	})
}

func (s *dynamoSessions) ByStatus(ctx context.Context, status apis.SessionStatus) ([]*apis.Session, error) {
	expr, err := expression.NewBuilder().
		WithKeyCondition(expression.Key("status").Equal(expression.Value(string(status)))).
		Build()
	if err != nil {
		return nil, fmt.Errorf("building status query expression, %w", err)
	}
	return s.query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.table),
		IndexName:                 aws.String(sessionStatusIndex),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
}

func (s *dynamoSessions) query(ctx context.Context, input *dynamodb.QueryInput) ([]*apis.Session, error) {
	var sessions []*apis.Session
	for {
		out, err := s.api.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("querying sessions, %w", err)
		}
		page := []*apis.Session{}
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshaling sessions, %w", err)
		}
		sessions = append(sessions, page...)
		if len(out.LastEvaluatedKey) == 0 {
			return sessions, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (s *dynamoSessions) List(ctx context.Context) ([]*apis.Session, error) {
	var sessions []*apis.Session
	input := &dynamodb.ScanInput{TableName: aws.String(s.table)}
	for {
		out, err := s.api.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("scanning sessions, %w", err)
		}
		page := []*apis.Session{}
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshaling sessions, %w", err)
		}
		sessions = append(sessions, page...)
		if len(out.LastEvaluatedKey) == 0 {
			return sessions, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

type dynamoPool struct {
	api   sdk.DynamoDBAPI
	table string
	clk   clock.Clock
}

func (p *dynamoPool) Get(ctx context.Context, instanceID string) (*apis.PoolInstance, error) {
	out, err := p.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(p.table),
		Key:            map[string]types.AttributeValue{"instance_id": &types.AttributeValueMemberS{Value: instanceID}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("getting pool record %s, %w", instanceID, err)
	}
	if len(out.Item) == 0 {
		return nil, fmt.Errorf("pool record %s, %w", instanceID, ErrNotFound)
	}
	instance := &apis.PoolInstance{}
	if err := attributevalue.UnmarshalMap(out.Item, instance); err != nil {
		return nil, fmt.Errorf("unmarshaling pool record %s, %w", instanceID, err)
	}
	return instance, nil
}

func (p *dynamoPool) Put(ctx context.Context, instance *apis.PoolInstance) error {
	instance.UpdatedAt = p.clk.Now().Unix()
	item, err := attributevalue.MarshalMap(instance)
	if err != nil {
		return fmt.Errorf("marshaling pool record %s, %w", instance.InstanceID, err)
	}
	if _, err := p.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(p.table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("putting pool record %s, %w", instance.InstanceID, err)
	}
	return nil
}

func (p *dynamoPool) PutIfAbsent(ctx context.Context, instance *apis.PoolInstance) error {
	instance.UpdatedAt = p.clk.Now().Unix()
	item, err := attributevalue.MarshalMap(instance)
	if err != nil {
		return fmt.Errorf("marshaling pool record %s, %w", instance.InstanceID, err)
	}
	expr, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.Name("instance_id"))).
		Build()
	if err != nil {
		return fmt.Errorf("building pool put expression, %w", err)
	}
	if _, err := p.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(p.table),
		Item:                      item,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
	}); err != nil {
		if awserrors.IsConditionalCheckFailed(err) {
			return fmt.Errorf("pool record %s exists, %w", instance.InstanceID, ErrConditionFailed)
		}
		return fmt.Errorf("putting pool record %s, %w", instance.InstanceID, err)
	}
	return nil
}

// Claim is the pool's synchronization primitive. The status guard makes
// concurrent claims on the same instance commute: exactly one caller wins.
func (p *dynamoPool) Claim(ctx context.Context, instanceID, sessionID, ownerID string, now int64) error {
	expr, err := expression.NewBuilder().
		WithCondition(expression.Name("status").Equal(expression.Value(string(apis.InstanceAvailable)))).
		WithUpdate(expression.
			Set(expression.Name("status"), expression.Value(string(apis.InstanceAssigned))).
			Set(expression.Name("session_id"), expression.Value(sessionID)).
			Set(expression.Name("owner_id"), expression.Value(ownerID)).
			Set(expression.Name("assigned_at"), expression.Value(now)).
			Set(expression.Name("updated_at"), expression.Value(now))).
		Build()
	if err != nil {
		return fmt.Errorf("building claim expression, %w", err)
	}
	if _, err := p.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(p.table),
		Key:                       map[string]types.AttributeValue{"instance_id": &types.AttributeValueMemberS{Value: instanceID}},
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}); err != nil {
		if awserrors.IsConditionalCheckFailed(err) {
			return fmt.Errorf("claiming instance %s, %w", instanceID, ErrConditionFailed)
		}
		return fmt.Errorf("claiming instance %s, %w", instanceID, err)
	}
	return nil
}

func (p *dynamoPool) Release(ctx context.Context, instanceID string, status apis.InstanceStatus, now int64) error {
	expr, err := expression.NewBuilder().
		WithUpdate(expression.
			Set(expression.Name("status"), expression.Value(string(status))).
			Set(expression.Name("released_at"), expression.Value(now)).
			Set(expression.Name("updated_at"), expression.Value(now)).
			Remove(expression.Name("session_id")).
			Remove(expression.Name("owner_id"))).
		Build()
	if err != nil {
		return fmt.Errorf("building release expression, %w", err)
	}
	if _, err := p.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(p.table),
		Key:                       map[string]types.AttributeValue{"instance_id": &types.AttributeValueMemberS{Value: instanceID}},
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}); err != nil {
		return fmt.Errorf("releasing instance %s, %w", instanceID, err)
	}
	return nil
}

func (p *dynamoPool) SetStatus(ctx context.Context, instanceID string, status apis.InstanceStatus) error {
	return p.set(ctx, instanceID, "status", string(status))
}

func (p *dynamoPool) SetInstanceState(ctx context.Context, instanceID, instanceState string) error {
	return p.set(ctx, instanceID, "instance_state", instanceState)
}

func (p *dynamoPool) set(ctx context.Context, instanceID, field, value string) error {
	expr, err := expression.NewBuilder().
		WithUpdate(expression.
			Set(expression.Name(field), expression.Value(value)).
			Set(expression.Name("updated_at"), expression.Value(p.clk.Now().Unix()))).
		Build()
	if err != nil {
		return fmt.Errorf("building pool update expression, %w", err)
	}
	if _, err := p.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(p.table),
		Key:                       map[string]types.AttributeValue{"instance_id": &types.AttributeValueMemberS{Value: instanceID}},
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}); err != nil {
		return fmt.Errorf("updating pool record %s, %w", instanceID, err)
	}
	return nil
}

func (p *dynamoPool) Delete(ctx context.Context, instanceID string) error {
	if _, err := p.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(p.table),
		Key:       map[string]types.AttributeValue{"instance_id": &types.AttributeValueMemberS{Value: instanceID}},
	}); err != nil {
		return fmt.Errorf("deleting pool record %s, %w", instanceID, err)
	}
	return nil
}

func (p *dynamoPool) ByStatus(ctx context.Context, status apis.InstanceStatus) ([]*apis.PoolInstance, error) {
	expr, err := expression.NewBuilder().
		WithKeyCondition(expression.Key("status").Equal(expression.Value(string(status)))).
		Build()
	if err != nil {
		return nil, fmt.Errorf("building pool status query expression, %w", err)
	}
	var instances []*apis.PoolInstance
	input := &dynamodb.QueryInput{
		TableName:                 aws.String(p.table),
		IndexName:                 aws.String(poolStatusIndex),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}
	for {
		out, err := p.api.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("querying pool records, %w", err)
		}
		page := []*apis.PoolInstance{}
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshaling pool records, %w", err)
		}
		instances = append(instances, page...)
		if len(out.LastEvaluatedKey) == 0 {
			return instances, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (p *dynamoPool) List(ctx context.Context) ([]*apis.PoolInstance, error) {
	var instances []*apis.PoolInstance
	input := &dynamodb.ScanInput{TableName: aws.String(p.table)}
	for {
		out, err := p.api.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("scanning pool records, %w", err)
		}
		page := []*apis.PoolInstance{}
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshaling pool records, %w", err)
		}
		instances = append(instances, page...)
		if len(out.LastEvaluatedKey) == 0 {
			return instances, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

type dynamoUsage struct {
	api   sdk.DynamoDBAPI
	table string
	clk   clock.Clock
}

func (u *dynamoUsage) key(ownerID, month string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"owner_id":    &types.AttributeValueMemberS{Value: ownerID},
		"usage_month": &types.AttributeValueMemberS{Value: month},
	}
}

func (u *dynamoUsage) Get(ctx context.Context, ownerID, month string) (*apis.UsageRecord, error) {
	out, err := u.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(u.table),
		Key:            u.key(ownerID, month),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("getting usage for %s/%s, %w", ownerID, month, err)
	}
	if len(out.Item) == 0 {
		return nil, fmt.Errorf("usage for %s/%s, %w", ownerID, month, ErrNotFound)
	}
	record := &apis.UsageRecord{}
	if err := attributevalue.UnmarshalMap(out.Item, record); err != nil {
		return nil, fmt.Errorf("unmarshaling usage for %s/%s, %w", ownerID, month, err)
	}
	return record, nil
}

// Add is the only write path for usage. ADD semantics keep the counter
// monotonic under concurrent terminations without read-modify-write.
func (u *dynamoUsage) Add(ctx context.Context, ownerID, month string, minutes, countDelta int64, plan apis.Plan, quotaMinutes int64) (*apis.UsageRecord, error) {
	expr, err := expression.NewBuilder().
		WithUpdate(expression.
			Add(expression.Name("consumed_minutes"), expression.Value(minutes)).
			Add(expression.Name("session_count"), expression.Value(countDelta)).
			Set(expression.Name("plan"), expression.Value(string(plan))).
			Set(expression.Name("quota_minutes"), expression.Value(quotaMinutes)).
			Set(expression.Name("updated_at"), expression.Value(u.clk.Now().Unix()))).
		Build()
	if err != nil {
		return nil, fmt.Errorf("building usage add expression, %w", err)
	}
	out, err := u.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(u.table),
		Key:                       u.key(ownerID, month),
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		return nil, fmt.Errorf("adding usage for %s/%s, %w", ownerID, month, err)
	}
	record := &apis.UsageRecord{}
	if err := attributevalue.UnmarshalMap(out.Attributes, record); err != nil {
		return nil, fmt.Errorf("unmarshaling usage for %s/%s, %w", ownerID, month, err)
	}
	return record, nil
}

type dynamoSubscribers struct {
	api   sdk.DynamoDBAPI
	table string
}

func (d *dynamoSubscribers) Put(ctx context.Context, sub *apis.Subscriber) error {
	item, err := attributevalue.MarshalMap(sub)
	if err != nil {
		return fmt.Errorf("marshaling subscriber %s, %w", sub.ConnectionID, err)
	}
	if _, err := d.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("putting subscriber %s, %w", sub.ConnectionID, err)
	}
	return nil
}

func (d *dynamoSubscribers) Delete(ctx context.Context, connectionID string) error {
	if _, err := d.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.table),
		Key:       map[string]types.AttributeValue{"connection_id": &types.AttributeValueMemberS{Value: connectionID}},
	}); err != nil {
		return fmt.Errorf("deleting subscriber %s, %w", connectionID, err)
	}
	return nil
}

func (d *dynamoSubscribers) BySession(ctx context.Context, sessionID string) ([]*apis.Subscriber, error) {
	return d.byIndex(ctx, subscriberSessionIndex, "session_id", sessionID)
}

func (d *dynamoSubscribers) ByOwner(ctx context.Context, ownerID string) ([]*apis.Subscriber, error) {
	return d.byIndex(ctx, subscriberOwnerIndex, "owner_id", ownerID)
}

func (d *dynamoSubscribers) byIndex(ctx context.Context, index, key, value string) ([]*apis.Subscriber, error) {
	expr, err := expression.NewBuilder().
		WithKeyCondition(expression.Key(key).Equal(expression.Value(value))).
		Build()
	if err != nil {
		return nil, fmt.Errorf("building subscriber query expression, %w", err)
	}
	out, err := d.api.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(d.table),
		IndexName:                 aws.String(index),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return nil, fmt.Errorf("querying subscribers, %w", err)
	}
	subs := []*apis.Subscriber{}
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &subs); err != nil {
		return nil, fmt.Errorf("unmarshaling subscribers, %w", err)
	}
	return subs, nil
}
