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

package test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/samber/lo"
)

// PortalSecret is the HMAC secret the test options configure.
const PortalSecret = "test-secret"

// PortalToken signs claims the way the portal webhook does:
// base64url(payload) dot hex(hmac-sha256(payload)).
func PortalToken(secret string, claims map[string]any) string {
	payload := base64.RawURLEncoding.EncodeToString(lo.Must(json.Marshal(claims)))
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return fmt.Sprintf("%s.%s", payload, hex.EncodeToString(mac.Sum(nil)))
}
