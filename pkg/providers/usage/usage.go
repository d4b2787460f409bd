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

package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/utils/clock"

	"github.com/hackdesk/orchestrator/pkg/apis"
	"github.com/hackdesk/orchestrator/pkg/state"
)

// resetLayout renders the month boundary the way the portal expects it,
// with an explicit +00:00 offset.
const resetLayout = "2006-01-02T15:04:05+00:00"

// Month renders the usage partition key for the given instant, UTC.
func Month(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// NextReset is the first instant of the month after t, UTC.
func NextReset(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}

// Decision is the outcome of a quota check.
type Decision struct {
	Allowed          bool
	ConsumedMinutes  int64
	RemainingMinutes int64
	ResetsAt         string
}

// Stats is the month-to-date view returned by the usage endpoint.
type Stats struct {
	OwnerID          string `json:"owner_id"`
	Month            string `json:"month"`
	ConsumedMinutes  int64  `json:"consumed_minutes"`
	QuotaMinutes     int64  `json:"quota_minutes"`
	RemainingMinutes int64  `json:"remaining_minutes"`
	SessionCount     int64  `json:"session_count"`
	ResetsAt         string `json:"resets_at"`
}

type Provider interface {
	// CheckQuota decides whether the owner may start a session this month.
	// A quota of -1 is unlimited.
	CheckQuota(ctx context.Context, ownerID string, quotaMinutes int64) (*Decision, error)
	// RecordSession accounts a finished session's minutes to the month of
	// its end. Durations under 30 seconds are not billed; everything else
	// bills at least one minute.
	RecordSession(ctx context.Context, ownerID string, plan apis.Plan, quotaMinutes int64, elapsed time.Duration) error
	Stats(ctx context.Context, ownerID string, quotaMinutes int64) (*Stats, error)
}

type DefaultProvider struct {
	store state.UsageStore
	clk   clock.Clock
}

func NewDefaultProvider(store state.UsageStore, clk clock.Clock) *DefaultProvider {
	return &DefaultProvider{store: store, clk: clk}
}

func (p *DefaultProvider) CheckQuota(ctx context.Context, ownerID string, quotaMinutes int64) (*Decision, error) {
	now := p.clk.Now()
	resetsAt := NextReset(now).Format(resetLayout)
	if quotaMinutes == apis.QuotaUnlimited {
		return &Decision{Allowed: true, RemainingMinutes: apis.QuotaUnlimited, ResetsAt: resetsAt}, nil
	}
	consumed := int64(0)
	record, err := p.store.Get(ctx, ownerID, Month(now))
	if err != nil && !errors.Is(err, state.ErrNotFound) {
		return nil, fmt.Errorf("checking quota for %s, %w", ownerID, err)
	}
	if record != nil {
		consumed = record.ConsumedMinutes
	}
	remaining := quotaMinutes - consumed
	if remaining < 0 {
		remaining = 0
	}
	return &Decision{
		Allowed:          consumed < quotaMinutes,
		ConsumedMinutes:  consumed,
		RemainingMinutes: remaining,
		ResetsAt:         resetsAt,
	}, nil
}

func (p *DefaultProvider) RecordSession(ctx context.Context, ownerID string, plan apis.Plan, quotaMinutes int64, elapsed time.Duration) error {
	if elapsed < 30*time.Second {
		return nil
	}
	minutes := int64(elapsed.Minutes())
	if minutes < 1 {
		minutes = 1
	}
	if _, err := p.store.Add(ctx, ownerID, Month(p.clk.Now()), minutes, 1, plan, quotaMinutes); err != nil {
		return fmt.Errorf("recording %d minutes for %s, %w", minutes, ownerID, err)
	}
	return nil
}

func (p *DefaultProvider) Stats(ctx context.Context, ownerID string, quotaMinutes int64) (*Stats, error) {
	now := p.clk.Now()
	stats := &Stats{
		OwnerID:          ownerID,
		Month:            Month(now),
		QuotaMinutes:     quotaMinutes,
		RemainingMinutes: quotaMinutes,
		ResetsAt:         NextReset(now).Format(resetLayout),
	}
	record, err := p.store.Get(ctx, ownerID, Month(now))
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return stats, nil
		}
		return nil, fmt.Errorf("reading usage for %s, %w", ownerID, err)
	}
	stats.ConsumedMinutes = record.ConsumedMinutes
	stats.SessionCount = record.SessionCount
	if record.QuotaMinutes != 0 && quotaMinutes == 0 {
		stats.QuotaMinutes = record.QuotaMinutes
	}
	if stats.QuotaMinutes == apis.QuotaUnlimited {
		stats.RemainingMinutes = apis.QuotaUnlimited
	} else {
		stats.RemainingMinutes = stats.QuotaMinutes - stats.ConsumedMinutes
		if stats.RemainingMinutes < 0 {
			stats.RemainingMinutes = 0
		}
	}
	return stats, nil
}
