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

package pool

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hackdesk/orchestrator/pkg/metrics"
)

var (
	claimAttemptsMetric = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "pool",
			Name:      "claim_attempts_total",
			Help:      "Conditional claim attempts against pool candidates.",
		},
		[]string{"plan"},
	)
	claimRacesMetric = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "pool",
			Name:      "claim_races_total",
			Help:      "Claims lost to a concurrent allocation.",
		},
		[]string{"plan"},
	)
	coldStartsMetric = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "pool",
			Name:      "cold_starts_total",
			Help:      "Cold start outcomes when the pool had no claimable candidate.",
		},
		[]string{"plan", "kind"},
	)
)

func init() {
	prometheus.MustRegister(claimAttemptsMetric, claimRacesMetric, coldStartsMetric)
}
