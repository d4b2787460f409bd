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

package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// tail returns the last eight characters of a session id, the short handle
// used in gateway-visible names.
func tail(sessionID string) string {
	if len(sessionID) <= 8 {
		return sessionID
	}
	return sessionID[len(sessionID)-8:]
}

// EphemeralUsername names the single-session gateway account.
func EphemeralUsername(sessionID string) string {
	return fmt.Sprintf("session_%s", tail(sessionID))
}

// ConnectionName names the gateway connection record for a session.
func ConnectionName(sessionID string) string {
	return fmt.Sprintf("workstation-%s", tail(sessionID))
}

// DerivePassword deterministically derives the ephemeral user's password, so
// retried gateway programming recreates the same credentials without extra
// state. The secret that matters is the minted per-user token, not this
// password.
func DerivePassword(sessionID, ownerID, salt string) string {
	sum := sha256.Sum256([]byte(sessionID + ":" + ownerID + ":" + salt))
	return hex.EncodeToString(sum[:])[:16]
}
