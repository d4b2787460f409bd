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
	"sort"
	"sync"

	"k8s.io/utils/clock"

	"github.com/hackdesk/orchestrator/pkg/apis"
	"github.com/hackdesk/orchestrator/pkg/state"
)

// MemoryStore is an in-memory state.Store with the same conditional-write
// semantics as the DynamoDB implementation: a claim transitions for exactly
// one caller, losers see ErrConditionFailed. Safe for concurrent use so
// claim races can be tested for real.
type MemoryStore struct {
	Sessions    *MemorySessions
	Pool        *MemoryPool
	Usage       *MemoryUsage
	Subscribers *MemorySubscribers
}

func NewMemoryStore(clk clock.Clock) *MemoryStore {
	return &MemoryStore{
		Sessions:    &MemorySessions{clk: clk, records: map[string]*apis.Session{}},
		Pool:        &MemoryPool{clk: clk, records: map[string]*apis.PoolInstance{}},
		Usage:       &MemoryUsage{clk: clk, records: map[string]*apis.UsageRecord{}},
		Subscribers: &MemorySubscribers{records: map[string]*apis.Subscriber{}},
	}
}

// Store bundles the fakes behind the interfaces the controllers consume.
func (m *MemoryStore) Store() *state.Store {
	return &state.Store{Sessions: m.Sessions, Pool: m.Pool, Usage: m.Usage, Subscribers: m.Subscribers}
}

func (m *MemoryStore) Reset() {
	m.Sessions.mu.Lock()
	m.Sessions.records = map[string]*apis.Session{}
	m.Sessions.mu.Unlock()
	m.Pool.mu.Lock()
	m.Pool.records = map[string]*apis.PoolInstance{}
	m.Pool.mu.Unlock()
	m.Usage.mu.Lock()
	m.Usage.records = map[string]*apis.UsageRecord{}
	m.Usage.mu.Unlock()
	m.Subscribers.mu.Lock()
	m.Subscribers.records = map[string]*apis.Subscriber{}
	m.Subscribers.mu.Unlock()
}

type MemorySessions struct {
	mu      sync.Mutex
	clk     clock.Clock
	records map[string]*apis.Session
}

func (m *MemorySessions) Get(_ context.Context, sessionID string) (*apis.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.records[sessionID]
	if !ok {
		return nil, state.ErrNotFound
	}
	return clone(session), nil
}

func (m *MemorySessions) Put(_ context.Context, session *apis.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := clone(session)
	cp.UpdatedAt = m.clk.Now().Unix()
	m.records[session.SessionID] = cp
	return nil
}

func (m *MemorySessions) Update(_ context.Context, sessionID string, patch state.SessionPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.records[sessionID]
	if !ok {
		return state.ErrNotFound
	}
	m.applyPatch(session, patch)
	return nil
}

func (m *MemorySessions) UpdateIfActive(_ context.Context, sessionID string, patch state.SessionPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.records[sessionID]
	if !ok {
		return state.ErrNotFound
	}
	if session.Status.IsTerminal() {
		return state.ErrConditionFailed
	}
	m.applyPatch(session, patch)
	return nil
}

//nolint:gocyclo
func (m *MemorySessions) applyPatch(session *apis.Session, patch state.SessionPatch) {
	if patch.Status != nil {
		session.Status = *patch.Status
	}
	if patch.ExpiresAt != nil {
		session.ExpiresAt = *patch.ExpiresAt
	}
	if patch.InstanceID != nil {
		session.InstanceID = *patch.InstanceID
	}
	if patch.InstanceIP != nil {
		session.InstanceIP = *patch.InstanceIP
	}
	if patch.InstanceState != nil {
		session.InstanceState = *patch.InstanceState
	}
	if patch.Connection != nil {
		session.Connection = clone(patch.Connection)
	}
	if patch.DirectURL != nil {
		session.DirectURL = *patch.DirectURL
	}
	if patch.Health != nil {
		session.Health = clone(patch.Health)
	}
	if patch.LastActiveAt != nil {
		session.LastActiveAt = *patch.LastActiveAt
	}
	if patch.LastHeartbeatAt != nil {
		session.LastHeartbeatAt = *patch.LastHeartbeatAt
	}
	if patch.IdleWarningAt != nil {
		session.IdleWarningAt = *patch.IdleWarningAt
	}
	if patch.ClearIdleWarning {
		session.IdleWarningAt = 0
	}
	if patch.FocusMode != nil {
		session.FocusMode = *patch.FocusMode
	}
	if patch.TerminatedAt != nil {
		session.TerminatedAt = *patch.TerminatedAt
	}
	if patch.TerminationReason != nil {
		session.TerminationReason = *patch.TerminationReason
	}
	if patch.Error != nil {
		session.Error = *patch.Error
	}
	if patch.ProvisioningNote != nil {
		session.ProvisioningNote = *patch.ProvisioningNote
	}
	session.UpdatedAt = m.clk.Now().Unix()
}

func (m *MemorySessions) ByOwner(_ context.Context, ownerID string, statuses ...apis.SessionStatus) ([]*apis.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*apis.Session
	for _, session := range m.records {
		if session.OwnerID != ownerID {
			continue
		}
		if len(statuses) > 0 && !containsStatus(statuses, session.Status) {
			continue
		}
		out = append(out, clone(session))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out, nil
}

func (m *MemorySessions) ByStatus(_ context.Context, status apis.SessionStatus) ([]*apis.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*apis.Session
	for _, session := range m.records {
		if session.Status == status {
			out = append(out, clone(session))
		}
	}
	return out, nil
}

func (m *MemorySessions) List(_ context.Context) ([]*apis.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*apis.Session
	for _, session := range m.records {
		out = append(out, clone(session))
	}
	return out, nil
}

func containsStatus(statuses []apis.SessionStatus, status apis.SessionStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

type MemoryPool struct {
	mu      sync.Mutex
	clk     clock.Clock
	records map[string]*apis.PoolInstance
}

func (m *MemoryPool) Get(_ context.Context, instanceID string) (*apis.PoolInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[instanceID]
	if !ok {
		return nil, state.ErrNotFound
	}
	return clone(record), nil
}

func (m *MemoryPool) Put(_ context.Context, record *apis.PoolInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := clone(record)
	cp.UpdatedAt = m.clk.Now().Unix()
	m.records[record.InstanceID] = cp
	return nil
}

func (m *MemoryPool) PutIfAbsent(_ context.Context, record *apis.PoolInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[record.InstanceID]; ok {
		return state.ErrConditionFailed
	}
	cp := clone(record)
	cp.UpdatedAt = m.clk.Now().Unix()
	m.records[record.InstanceID] = cp
	return nil
}

func (m *MemoryPool) Claim(_ context.Context, instanceID, sessionID, ownerID string, now int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[instanceID]
	if !ok {
		return state.ErrNotFound
	}
	if record.Status != apis.InstanceAvailable {
		return state.ErrConditionFailed
	}
	record.Status = apis.InstanceAssigned
	record.SessionID = sessionID
	record.OwnerID = ownerID
	record.AssignedAt = now
	record.UpdatedAt = m.clk.Now().Unix()
	return nil
}

func (m *MemoryPool) Release(_ context.Context, instanceID string, status apis.InstanceStatus, now int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[instanceID]
	if !ok {
		return state.ErrNotFound
	}
	record.Status = status
	record.SessionID = ""
	record.OwnerID = ""
	record.ReleasedAt = now
	record.UpdatedAt = m.clk.Now().Unix()
	return nil
}

func (m *MemoryPool) SetStatus(_ context.Context, instanceID string, status apis.InstanceStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[instanceID]
	if !ok {
		return state.ErrNotFound
	}
	record.Status = status
	record.UpdatedAt = m.clk.Now().Unix()
	return nil
}

func (m *MemoryPool) SetInstanceState(_ context.Context, instanceID, instanceState string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[instanceID]
	if !ok {
		return state.ErrNotFound
	}
	record.InstanceState = instanceState
	record.UpdatedAt = m.clk.Now().Unix()
	return nil
}

func (m *MemoryPool) Delete(_ context.Context, instanceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, instanceID)
	return nil
}

func (m *MemoryPool) ByStatus(_ context.Context, status apis.InstanceStatus) ([]*apis.PoolInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*apis.PoolInstance
	for _, record := range m.records {
		if record.Status == status {
			out = append(out, clone(record))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstanceID < out[j].InstanceID })
	return out, nil
}

func (m *MemoryPool) List(_ context.Context) ([]*apis.PoolInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*apis.PoolInstance
	for _, record := range m.records {
		out = append(out, clone(record))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstanceID < out[j].InstanceID })
	return out, nil
}

type MemoryUsage struct {
	mu      sync.Mutex
	clk     clock.Clock
	records map[string]*apis.UsageRecord
}

func usageKey(ownerID, month string) string {
	return fmt.Sprintf("%s|%s", ownerID, month)
}

func (m *MemoryUsage) Get(_ context.Context, ownerID, month string) (*apis.UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[usageKey(ownerID, month)]
	if !ok {
		return nil, state.ErrNotFound
	}
	return clone(record), nil
}

func (m *MemoryUsage) Add(_ context.Context, ownerID, month string, minutes, countDelta int64,
	plan apis.Plan, quotaMinutes int64) (*apis.UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := usageKey(ownerID, month)
	record, ok := m.records[key]
	if !ok {
		record = &apis.UsageRecord{OwnerID: ownerID, UsageMonth: month}
		m.records[key] = record
	}
	record.ConsumedMinutes += minutes
	record.SessionCount += countDelta
	record.Plan = plan
	record.QuotaMinutes = quotaMinutes
	record.UpdatedAt = m.clk.Now().Unix()
	return clone(record), nil
}

type MemorySubscribers struct {
	mu      sync.Mutex
	records map[string]*apis.Subscriber
}

func (m *MemorySubscribers) Put(_ context.Context, sub *apis.Subscriber) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[sub.ConnectionID] = clone(sub)
	return nil
}

func (m *MemorySubscribers) Delete(_ context.Context, connectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, connectionID)
	return nil
}

func (m *MemorySubscribers) BySession(_ context.Context, sessionID string) ([]*apis.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*apis.Subscriber
	for _, sub := range m.records {
		if sub.SessionID == sessionID {
			out = append(out, clone(sub))
		}
	}
	return out, nil
}

func (m *MemorySubscribers) ByOwner(_ context.Context, ownerID string) ([]*apis.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*apis.Subscriber
	for _, sub := range m.records {
		if sub.OwnerID == ownerID {
			out = append(out, clone(sub))
		}
	}
	return out, nil
}
