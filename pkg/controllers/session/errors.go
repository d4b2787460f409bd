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
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated maps to 401.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrCapacity maps to 503: the tier's pool cannot grow any further.
	ErrCapacity = errors.New("capacity exhausted")
	// ErrForbidden maps to 403: the caller is authenticated but may not
	// touch this resource.
	ErrForbidden = errors.New("forbidden")
)

// BadRequestError maps to 400.
type BadRequestError struct {
	Reason string
}

func (e *BadRequestError) Error() string {
	return e.Reason
}

// QuotaExceededError maps to 403 and carries the fields the portal shows
// the user.
type QuotaExceededError struct {
	RemainingMinutes int64
	ResetsAt         string
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded, %d minutes remaining, resets at %s", e.RemainingMinutes, e.ResetsAt)
}
