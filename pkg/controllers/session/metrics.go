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

package session

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hackdesk/orchestrator/pkg/metrics"
)

var (
	createdMetric = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "sessions",
			Name:      "created_total",
			Help:      "Session creations by plan and initial status.",
		},
		[]string{"plan", "status"},
	)
	terminatedMetric = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "sessions",
			Name:      "terminated_total",
			Help:      "Session terminations by reason.",
		},
		[]string{"reason"},
	)
	staleReapsMetric = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "sessions",
			Name:      "stale_reaps_total",
			Help:      "Sessions reaped because the gateway no longer showed a connection.",
		},
	)
	heartbeatsMetric = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "sessions",
			Name:      "heartbeats_total",
			Help:      "Heartbeats by resulting warning level.",
		},
		[]string{"level"},
	)
)

func init() {
	prometheus.MustRegister(createdMetric, terminatedMetric, staleReapsMetric, heartbeatsMetric)
}
