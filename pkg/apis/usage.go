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

package apis

// QuotaUnlimited marks a plan with no monthly minute cap.
const QuotaUnlimited int64 = -1

// UsageRecord accumulates consumed minutes per owner per calendar month
// (UTC). The month is part of the key, so the counter resets by key change
// rather than mutation, and consumed_minutes only ever grows within a month.
type UsageRecord struct {
	OwnerID         string `json:"owner_id" dynamodbav:"owner_id"`
	UsageMonth      string `json:"usage_month" dynamodbav:"usage_month"`
	ConsumedMinutes int64  `json:"consumed_minutes" dynamodbav:"consumed_minutes"`
	SessionCount    int64  `json:"session_count" dynamodbav:"session_count"`
	Plan            Plan   `json:"plan,omitempty" dynamodbav:"plan,omitempty"`
	QuotaMinutes    int64  `json:"quota_minutes" dynamodbav:"quota_minutes"`
	UpdatedAt       int64  `json:"updated_at" dynamodbav:"updated_at"`
}
