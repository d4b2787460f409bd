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

package apiserver

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/hackdesk/orchestrator/pkg/logging"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		w.Header().Set("X-Request-Id", requestID)
		log := s.logger.With("request-id", requestID, "method", r.Method, "path", r.URL.Path)
		r = r.WithContext(logging.WithLogger(r.Context(), log))

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := s.clk.Now()
		defer func() {
			if recovered := recover(); recovered != nil {
				log.Errorw("handler panicked", "panic", recovered)
				http.Error(recorder, `{"success":false,"message":"internal error"}`, http.StatusInternalServerError)
			}
			elapsed := s.clk.Since(start)
			requestsMetric.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(recorder.status)).Inc()
			requestDurationMetric.WithLabelValues(r.Method).Observe(elapsed.Seconds())
			log.Debugw("request served", "status", recorder.status, "duration", elapsed)
		}()
		next.ServeHTTP(recorder, r)
	})
}
