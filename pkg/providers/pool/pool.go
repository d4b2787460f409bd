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

// Package pool allocates workstations from the tiered instance pool. Claims
// are serialized by the state store's conditional writes: a lost race is a
// signal to try the next candidate, never an error.
package pool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/samber/lo"
	"k8s.io/utils/clock"

	"github.com/hackdesk/orchestrator/pkg/apis"
	"github.com/hackdesk/orchestrator/pkg/logging"
	"github.com/hackdesk/orchestrator/pkg/providers/instance"
	"github.com/hackdesk/orchestrator/pkg/providers/scaling"
	"github.com/hackdesk/orchestrator/pkg/state"
)

const (
	claimAttempts = 3
	claimBackoff  = 300 * time.Millisecond

	// scaleUpCap bounds how much desired capacity may grow per decision.
	scaleUpCap = 2
)

var (
	// ErrNoneAvailable means every pool candidate was taken or unhealthy.
	ErrNoneAvailable = errors.New("no available instance in pool")
	// ErrAtCapacity means the tier's group cannot grow any further.
	ErrAtCapacity = errors.New("pool at maximum capacity")
)

// Claimed is a successfully claimed, running workstation.
type Claimed struct {
	Instance  *apis.PoolInstance
	PrivateIP string
}

// ColdStartKind describes how a cold start made progress.
type ColdStartKind string

const (
	// ColdStartClaimed found an unrecorded or orphaned running member and
	// claimed it immediately.
	ColdStartClaimed ColdStartKind = "claimed"
	// ColdStartStarting issued a start on a stopped warm pool member.
	ColdStartStarting ColdStartKind = "starting"
	// ColdStartScaling raised the group's desired capacity.
	ColdStartScaling ColdStartKind = "scaling"
)

// ColdStart is the outcome of the no-candidates path.
type ColdStart struct {
	Kind    ColdStartKind
	Claimed *Claimed
	// Note is surfaced to the session's provisioning_note for progress
	// reporting.
	Note string
}

type Provider interface {
	// Claim picks a running available instance of the tier and claims it
	// race-freely, retrying across candidates with bounded backoff.
	// Returns ErrNoneAvailable when the pool is drained.
	Claim(ctx context.Context, plan apis.Plan, sessionID, ownerID string) (*Claimed, error)
	// ColdStart recovers capacity when Claim found nothing: adopt
	// unrecorded or orphaned group members, start stopped warm instances,
	// or scale the group up. Returns ErrAtCapacity at the group's max.
	ColdStart(ctx context.Context, plan apis.Plan, sessionID, ownerID string) (*ColdStart, error)
	// Release returns the instance to the pool and clears its claim tags.
	Release(ctx context.Context, instanceID string, toStatus apis.InstanceStatus) error
}

type DefaultProvider struct {
	pool      state.PoolStore
	sessions  state.SessionStore
	instances instance.Provider
	scaling   scaling.Provider
	groups    map[apis.Plan]string
	clk       clock.Clock
}

func NewDefaultProvider(pool state.PoolStore, sessions state.SessionStore, instances instance.Provider,
	scalingProvider scaling.Provider, groups map[apis.Plan]string, clk clock.Clock) *DefaultProvider {
	return &DefaultProvider{
		pool:      pool,
		sessions:  sessions,
		instances: instances,
		scaling:   scalingProvider,
		groups:    groups,
		clk:       clk,
	}
}

func (p *DefaultProvider) Claim(ctx context.Context, plan apis.Plan, sessionID, ownerID string) (*Claimed, error) {
	var claimed *Claimed
	err := retry.Do(func() error {
		var err error
		claimed, err = p.claimOnce(ctx, plan, sessionID, ownerID)
		return err
	},
		retry.Context(ctx),
		retry.Attempts(claimAttempts),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return time.Duration(n+1) * claimBackoff
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (p *DefaultProvider) claimOnce(ctx context.Context, plan apis.Plan, sessionID, ownerID string) (*Claimed, error) {
	candidates, err := p.pool.ByStatus(ctx, apis.InstanceAvailable)
	if err != nil {
		return nil, fmt.Errorf("listing available instances, %w", err)
	}
	candidates = lo.Filter(candidates, func(c *apis.PoolInstance, _ int) bool {
		return apis.PoolPlan(c.Plan) == plan
	})
	for _, candidate := range candidates {
		claimAttemptsMetric.WithLabelValues(string(plan)).Inc()
		// The pool table is authoritative only between reconciler
		// cycles; verify with the cloud before committing.
		workstation, err := p.instances.Get(ctx, candidate.InstanceID)
		if err != nil {
			logging.FromContext(ctx).Warnw("skipping unverifiable candidate",
				"instance-id", candidate.InstanceID, "error", err)
			continue
		}
		if !workstation.Running() {
			if err := p.pool.SetStatus(ctx, candidate.InstanceID, apis.InstanceUnhealthy); err != nil {
				logging.FromContext(ctx).Warnw("marking candidate unhealthy",
					"instance-id", candidate.InstanceID, "error", err)
			}
			continue
		}
		if err := p.pool.Claim(ctx, candidate.InstanceID, sessionID, ownerID, p.clk.Now().Unix()); err != nil {
			if errors.Is(err, state.ErrConditionFailed) {
				claimRacesMetric.WithLabelValues(string(plan)).Inc()
				continue
			}
			return nil, err
		}
		p.tagClaim(ctx, candidate.InstanceID, sessionID, ownerID)
		candidate.Status = apis.InstanceAssigned
		candidate.SessionID = sessionID
		candidate.OwnerID = ownerID
		candidate.InstanceState = workstation.State
		return &Claimed{Instance: candidate, PrivateIP: workstation.PrivateIP}, nil
	}
	return nil, ErrNoneAvailable
}

//nolint:gocyclo
func (p *DefaultProvider) ColdStart(ctx context.Context, plan apis.Plan, sessionID, ownerID string) (*ColdStart, error) {
	group := p.groups[apis.PoolPlan(plan)]
	if group == "" {
		return nil, fmt.Errorf("no autoscaling group configured for the %s tier", plan)
	}
	members, err := p.scaling.Members(ctx, group)
	if err != nil {
		return nil, fmt.Errorf("enumerating group %s, %w", group, err)
	}

	startedAny := false
	for _, member := range members {
		if !member.InService() {
			continue
		}
		workstation, err := p.instances.Get(ctx, member.InstanceID)
		if err != nil {
			logging.FromContext(ctx).Warnw("skipping undescribable group member",
				"instance-id", member.InstanceID, "error", err)
			continue
		}
		switch workstation.State {
		case instance.StateRunning:
			if claimed := p.adoptRunning(ctx, plan, member.InstanceID, workstation, sessionID, ownerID); claimed != nil {
				coldStartsMetric.WithLabelValues(string(plan), string(ColdStartClaimed)).Inc()
				return &ColdStart{Kind: ColdStartClaimed, Claimed: claimed}, nil
			}
		case instance.StateStopped:
			if startedAny {
				continue
			}
			if err := p.instances.Start(ctx, member.InstanceID); err != nil {
				logging.FromContext(ctx).Warnw("starting warm pool instance",
					"instance-id", member.InstanceID, "error", err)
				continue
			}
			record := &apis.PoolInstance{
				InstanceID:    member.InstanceID,
				Status:        apis.InstanceStarting,
				Plan:          plan,
				SessionID:     sessionID,
				OwnerID:       ownerID,
				AssignedAt:    p.clk.Now().Unix(),
				InstanceState: instance.StatePending,
			}
			if err := p.pool.PutIfAbsent(ctx, record); err != nil {
				if !errors.Is(err, state.ErrConditionFailed) {
					return nil, err
				}
				if err := p.pool.Put(ctx, record); err != nil {
					return nil, err
				}
			}
			startedAny = true
		}
	}
	if startedAny {
		coldStartsMetric.WithLabelValues(string(plan), string(ColdStartStarting)).Inc()
		return &ColdStart{
			Kind: ColdStartStarting,
			Note: "Starting a stopped warm pool instance",
		}, nil
	}

	capacity, err := p.scaling.Capacity(ctx, group)
	if err != nil {
		return nil, fmt.Errorf("reading capacity of group %s, %w", group, err)
	}
	if capacity.Desired >= capacity.Max {
		return nil, ErrAtCapacity
	}
	deficit, err := p.deficit(ctx, plan)
	if err != nil {
		return nil, err
	}
	increase := lo.Clamp(deficit, 1, scaleUpCap)
	newDesired := capacity.Desired + increase
	if newDesired > capacity.Max {
		newDesired = capacity.Max
	}
	if err := p.scaling.SetDesired(ctx, group, newDesired); err != nil {
		return nil, err
	}
	coldStartsMetric.WithLabelValues(string(plan), string(ColdStartScaling)).Inc()
	logging.FromContext(ctx).Infow("scaled up pool", "plan", plan, "group", group,
		"desired", newDesired)
	return &ColdStart{
		Kind: ColdStartScaling,
		Note: fmt.Sprintf("Requested a new instance from the ASG (desired %d)", newDesired),
	}, nil
}

// adoptRunning claims a running group member that has no pool record, whose
// record points at a dead session, or that this session reserved while it was
// starting. Returns nil when the member is legitimately held by someone else
// or the claim race was lost.
func (p *DefaultProvider) adoptRunning(ctx context.Context, plan apis.Plan, instanceID string,
	workstation *instance.Instance, sessionID, ownerID string) *Claimed {
	now := p.clk.Now().Unix()
	record, err := p.pool.Get(ctx, instanceID)
	if err != nil {
		if !errors.Is(err, state.ErrNotFound) {
			logging.FromContext(ctx).Warnw("reading pool record", "instance-id", instanceID, "error", err)
			return nil
		}
		record = &apis.PoolInstance{
			InstanceID:    instanceID,
			Status:        apis.InstanceAssigned,
			Plan:          plan,
			SessionID:     sessionID,
			OwnerID:       ownerID,
			AssignedAt:    now,
			InstanceState: workstation.State,
		}
		if err := p.pool.PutIfAbsent(ctx, record); err != nil {
			return nil
		}
		p.tagClaim(ctx, instanceID, sessionID, ownerID)
		return &Claimed{Instance: record, PrivateIP: workstation.PrivateIP}
	}
	if apis.PoolPlan(record.Plan) != plan {
		return nil
	}
	switch record.Status {
	case apis.InstanceAvailable:
	case apis.InstanceAssigned, apis.InstanceStarting:
		// A starting record reserved by this same session is ours to take
		// now that the instance runs; anything else must be provably dead.
		if record.SessionID != sessionID && !p.sessionDead(ctx, record.SessionID) {
			return nil
		}
		// Return it to the pool, then race for it like anyone else.
		if err := p.pool.Release(ctx, instanceID, apis.InstanceAvailable, now); err != nil {
			logging.FromContext(ctx).Warnw("releasing orphaned instance", "instance-id", instanceID, "error", err)
			return nil
		}
	default:
		return nil
	}
	if err := p.pool.Claim(ctx, instanceID, sessionID, ownerID, now); err != nil {
		return nil
	}
	p.tagClaim(ctx, instanceID, sessionID, ownerID)
	record.Status = apis.InstanceAssigned
	record.SessionID = sessionID
	record.OwnerID = ownerID
	record.AssignedAt = now
	record.InstanceState = workstation.State
	return &Claimed{Instance: record, PrivateIP: workstation.PrivateIP}
}

func (p *DefaultProvider) sessionDead(ctx context.Context, sessionID string) bool {
	if sessionID == "" {
		return true
	}
	session, err := p.sessions.Get(ctx, sessionID)
	if err != nil {
		return errors.Is(err, state.ErrNotFound)
	}
	return session.Status.IsTerminal()
}

// deficit is how many more workstations the tier's demand needs than are in
// flight: active sessions minus instances already starting.
func (p *DefaultProvider) deficit(ctx context.Context, plan apis.Plan) (int32, error) {
	var active int32
	for _, status := range apis.ActiveSessionStatuses {
		sessions, err := p.sessions.ByStatus(ctx, status)
		if err != nil {
			return 0, fmt.Errorf("counting active sessions, %w", err)
		}
		active += int32(lo.CountBy(sessions, func(s *apis.Session) bool {
			return apis.PoolPlan(s.Plan) == plan
		}))
	}
	starting, err := p.pool.ByStatus(ctx, apis.InstanceStarting)
	if err != nil {
		return 0, fmt.Errorf("counting starting instances, %w", err)
	}
	inProgress := int32(lo.CountBy(starting, func(i *apis.PoolInstance) bool {
		return apis.PoolPlan(i.Plan) == plan
	}))
	return active - inProgress, nil
}

func (p *DefaultProvider) Release(ctx context.Context, instanceID string, toStatus apis.InstanceStatus) error {
	if err := p.pool.Release(ctx, instanceID, toStatus, p.clk.Now().Unix()); err != nil {
		return err
	}
	// Tag updates are best-effort; never block a release on them.
	if err := p.instances.Tag(ctx, instanceID, map[string]string{
		instance.TagSessionID:  "",
		instance.TagOwnerID:    "",
		instance.TagReleasedAt: p.clk.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		logging.FromContext(ctx).Warnw("clearing claim tags", "instance-id", instanceID, "error", err)
	}
	return nil
}

func (p *DefaultProvider) tagClaim(ctx context.Context, instanceID, sessionID, ownerID string) {
	if err := p.instances.Tag(ctx, instanceID, map[string]string{
		instance.TagSessionID:  sessionID,
		instance.TagOwnerID:    ownerID,
		instance.TagAssignedAt: p.clk.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		logging.FromContext(ctx).Warnw("tagging claimed instance", "instance-id", instanceID, "error", err)
	}
}
