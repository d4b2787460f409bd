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

package errors

import (
	"errors"

	"github.com/aws/smithy-go"
)

var (
	// This is not an exhaustive list, add to it as needed
	notFoundErrorCodes = map[string]struct{}{
		"InvalidInstanceID.NotFound": {},
		"ResourceNotFoundException":  {},
	}
	accessDeniedErrorCodes = map[string]struct{}{
		"AccessDenied":          {},
		"AccessDeniedException": {},
	}
	throttlingErrorCodes = map[string]struct{}{
		"Throttling":                             {},
		"ThrottlingException":                    {},
		"RequestLimitExceeded":                   {},
		"ProvisionedThroughputExceededException": {},
	}
)

// IsNotFound returns true if the err is an AWS error (even if it's
// wrapped) known to mean "not found" (as opposed to a more serious or
// unexpected error)
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		_, ok := notFoundErrorCodes[apiErr.ErrorCode()]
		return ok
	}
	return false
}

// IsConditionalCheckFailed returns true if the err means a DynamoDB
// conditional write did not commit because its condition evaluated false.
// This is the expected signal for a lost claim race, not a fault.
func IsConditionalCheckFailed(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "ConditionalCheckFailedException"
	}
	return false
}

// IsAccessDenied returns true if the error is an AWS error (even if it's
// wrapped) known to mean "access denied"
func IsAccessDenied(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		_, ok := accessDeniedErrorCodes[apiErr.ErrorCode()]
		return ok
	}
	return false
}

// IsThrottled returns true if the error is an AWS rate-limit response.
func IsThrottled(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		_, ok := throttlingErrorCodes[apiErr.ErrorCode()]
		return ok
	}
	return false
}

// IsGone returns true if the err means a websocket connection no longer
// exists on the management endpoint and its subscriber record should be
// dropped.
func IsGone(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "GoneException"
	}
	return false
}
