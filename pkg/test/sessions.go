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

// Package test provides object builders shared by the suites.
package test

import (
	"fmt"
	"strings"
	"time"

	"github.com/Pallinder/go-randomdata"

	"github.com/hackdesk/orchestrator/pkg/apis"
)

// RandomName returns a lowercase name unique enough for test objects.
func RandomName() string {
	return strings.ToLower(fmt.Sprintf("%s-%d", randomdata.SillyName(), randomdata.Number(1000000)))
}

// Session builds a pending pro session owned by a random user. Overrides
// mutate the defaults.
func Session(overrides ...func(*apis.Session)) *apis.Session {
	now := time.Now().Unix()
	session := &apis.Session{
		SessionID:    fmt.Sprintf("sess-%s", RandomName()),
		OwnerID:      fmt.Sprintf("user-%d", randomdata.Number(100000)),
		Plan:         apis.PlanPro,
		QuotaMinutes: apis.QuotaUnlimited,
		Status:       apis.SessionPending,
		CreatedAt:    now,
		UpdatedAt:    now,
		ExpiresAt:    now + int64(4*time.Hour/time.Second),
		LastActiveAt: now,
	}
	for _, override := range overrides {
		override(session)
	}
	return session
}

// PoolInstance builds an available running pro pool record.
func PoolInstance(overrides ...func(*apis.PoolInstance)) *apis.PoolInstance {
	record := &apis.PoolInstance{
		InstanceID:    fmt.Sprintf("i-%017d", randomdata.Number(100000000)),
		Status:        apis.InstanceAvailable,
		Plan:          apis.PlanPro,
		InstanceState: "running",
	}
	for _, override := range overrides {
		override(record)
	}
	return record
}
