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

// Plan is the subscription tier. Tiers determine instance class, idle
// thresholds and monthly quota; cross-tier borrowing from the pool is
// forbidden.
type Plan string

const (
	PlanFreemium Plan = "freemium"
	PlanStarter  Plan = "starter"
	PlanPro      Plan = "pro"
)

// Plans lists every tier, cheapest first.
var Plans = []Plan{PlanFreemium, PlanStarter, PlanPro}

// ParsePlan normalizes a tier string from a token or request body. Unknown
// values fall back to freemium, the least-privileged tier.
func ParsePlan(s string) Plan {
	switch Plan(s) {
	case PlanFreemium, PlanStarter, PlanPro:
		return Plan(s)
	}
	return PlanFreemium
}

// PoolPlan resolves the tier of a pool record. Records written before tiering
// was introduced have no plan and belong to the pro pool.
func PoolPlan(s Plan) Plan {
	if s == "" {
		return PlanPro
	}
	return s
}
