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

// Package state defines the durable store the orchestrator runs on. All
// cross-request coordination happens through these interfaces; the pool's
// claim races are serialized by the store's conditional writes, so every
// implementation must keep the ErrConditionFailed / I/O-error distinction
// intact.
package state

import (
	"context"
	"errors"

	"github.com/hackdesk/orchestrator/pkg/apis"
)

var (
	// ErrNotFound is returned when no record exists for the key.
	ErrNotFound = errors.New("record not found")
	// ErrConditionFailed is returned when a conditional write did not
	// commit because its condition evaluated false. Callers treat this as
	// a lost race, never as a fault.
	ErrConditionFailed = errors.New("condition failed")
)

// SessionPatch is a partial session update. Nil fields are left untouched.
type SessionPatch struct {
	Status            *apis.SessionStatus
	ExpiresAt         *int64
	InstanceID        *string
	InstanceIP        *string
	InstanceState     *string
	Connection        *apis.ConnectionInfo
	DirectURL         *string
	Health            *apis.HealthSummary
	LastActiveAt      *int64
	LastHeartbeatAt   *int64
	IdleWarningAt     *int64
	ClearIdleWarning  bool
	FocusMode         *bool
	TerminatedAt      *int64
	TerminationReason *string
	Error             *string
	ProvisioningNote  *string
}

type SessionStore interface {
	Get(ctx context.Context, sessionID string) (*apis.Session, error)
	Put(ctx context.Context, session *apis.Session) error
	// Update applies the patch unconditionally (last writer wins) and
	// always refreshes updated_at.
	Update(ctx context.Context, sessionID string, patch SessionPatch) error
	// UpdateIfActive applies the patch only while the session is in a
	// non-terminal status, returning ErrConditionFailed otherwise. Guards
	// against reviving a terminated session.
	UpdateIfActive(ctx context.Context, sessionID string, patch SessionPatch) error
	// ByOwner returns the owner's sessions, optionally filtered to the
	// given statuses, newest first.
	ByOwner(ctx context.Context, ownerID string, statuses ...apis.SessionStatus) ([]*apis.Session, error)
	// ByStatus returns every session currently in the given status.
	ByStatus(ctx context.Context, status apis.SessionStatus) ([]*apis.Session, error)
	// List returns every session. Admin listing only.
	List(ctx context.Context) ([]*apis.Session, error)
}

type PoolStore interface {
	Get(ctx context.Context, instanceID string) (*apis.PoolInstance, error)
	Put(ctx context.Context, instance *apis.PoolInstance) error
	// PutIfAbsent writes the record only if no record exists for the
	// instance, returning ErrConditionFailed when one does. Used when
	// claiming group members that have never been through the pool.
	PutIfAbsent(ctx context.Context, instance *apis.PoolInstance) error
	// Claim transitions available -> assigned for exactly one caller.
	// Losers observe ErrConditionFailed.
	Claim(ctx context.Context, instanceID, sessionID, ownerID string, now int64) error
	// Release returns the instance to the pool in the given status
	// (available or stopping), clearing session and owner.
	Release(ctx context.Context, instanceID string, status apis.InstanceStatus, now int64) error
	SetStatus(ctx context.Context, instanceID string, status apis.InstanceStatus) error
	SetInstanceState(ctx context.Context, instanceID, instanceState string) error
	Delete(ctx context.Context, instanceID string) error
	ByStatus(ctx context.Context, status apis.InstanceStatus) ([]*apis.PoolInstance, error)
	List(ctx context.Context) ([]*apis.PoolInstance, error)
}

type UsageStore interface {
	Get(ctx context.Context, ownerID, month string) (*apis.UsageRecord, error)
	// Add atomically increments consumed_minutes (and session_count by
	// countDelta), creating the record on first write, and returns the
	// post-increment record.
	Add(ctx context.Context, ownerID, month string, minutes, countDelta int64, plan apis.Plan, quotaMinutes int64) (*apis.UsageRecord, error)
}

type SubscriberStore interface {
	Put(ctx context.Context, sub *apis.Subscriber) error
	Delete(ctx context.Context, connectionID string) error
	BySession(ctx context.Context, sessionID string) ([]*apis.Subscriber, error)
	ByOwner(ctx context.Context, ownerID string) ([]*apis.Subscriber, error)
}

// Store bundles the per-table stores the controllers consume.
type Store struct {
	Sessions    SessionStore
	Pool        PoolStore
	Usage       UsageStore
	Subscribers SubscriberStore
}
