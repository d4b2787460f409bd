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

// Package auth verifies the signed bearer tokens the learning portal mints
// for its users: HMAC-SHA256 over a base64url JSON payload, with expiry and
// a replay-nonce window.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/samber/lo"
	"k8s.io/utils/clock"
)

// TokenHeader is the portal's dedicated token header. Authorization: Bearer
// is accepted as an alternative transport.
const TokenHeader = "X-Moodle-Token"

// nonceWindow is how long a nonce is remembered for replay detection.
const nonceWindow = 5 * time.Minute

// RoleAdmin gates the administrative endpoints.
const RoleAdmin = "admin"

var (
	ErrMalformedToken = errors.New("malformed token")
	ErrBadSignature   = errors.New("invalid token signature")
	ErrExpiredToken   = errors.New("expired token")
	ErrReplayedToken  = errors.New("replayed token nonce")
)

// Claims are the trusted fields carried in a verified portal token. Fields
// the portal adds beyond these are ignored rather than modeled.
type Claims struct {
	UserID       string   `json:"user_id"`
	Username     string   `json:"username"`
	Fullname     string   `json:"fullname"`
	Email        string   `json:"email"`
	Plan         string   `json:"plan"`
	QuotaMinutes int64    `json:"quota_minutes"`
	Roles        []string `json:"roles"`
	Expires      int64    `json:"expires"`
	Nonce        string   `json:"nonce"`
	SiteURL      string   `json:"site_url"`
}

// UnmarshalJSON tolerates numeric user ids, which older portal versions
// emit.
func (c *Claims) UnmarshalJSON(data []byte) error {
	type alias Claims
	aux := struct {
		UserID json.RawMessage `json:"user_id"`
		*alias
	}{alias: (*alias)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.UserID) > 0 {
		var asString string
		if err := json.Unmarshal(aux.UserID, &asString); err == nil {
			c.UserID = asString
		} else {
			var asNumber json.Number
			if err := json.Unmarshal(aux.UserID, &asNumber); err != nil {
				return fmt.Errorf("user_id is neither string nor number")
			}
			c.UserID = asNumber.String()
		}
	}
	return nil
}

// HasRole reports whether the token carries the given role.
func (c *Claims) HasRole(role string) bool {
	return lo.Contains(c.Roles, role)
}

// TokenFromRequest extracts the portal token from either transport, or
// returns the empty string.
func TokenFromRequest(r *http.Request) string {
	if token := r.Header.Get(TokenHeader); token != "" {
		return token
	}
	if authz := r.Header.Get("Authorization"); strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimPrefix(authz, "Bearer ")
	}
	return ""
}

type Verifier struct {
	secret []byte
	nonces *cache.Cache
	clk    clock.Clock
}

func NewVerifier(secret string, clk clock.Clock) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		nonces: cache.New(nonceWindow, nonceWindow),
		clk:    clk,
	}
}

// Verify checks the token's signature, expiry and nonce and returns its
// claims. The signature is computed over the base64url payload bytes and
// compared in constant time.
func (v *Verifier) Verify(token string) (*Claims, error) {
	payload, signature, found := strings.Cut(token, ".")
	if !found || payload == "" || signature == "" {
		return nil, ErrMalformedToken
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(payload))
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return nil, ErrBadSignature
	}

	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(payload, "="))
	if err != nil {
		return nil, fmt.Errorf("%w, decoding payload, %v", ErrMalformedToken, err)
	}
	claims := &Claims{}
	if err := json.Unmarshal(decoded, claims); err != nil {
		return nil, fmt.Errorf("%w, parsing payload, %v", ErrMalformedToken, err)
	}

	if claims.Expires < v.clk.Now().Unix() {
		return nil, ErrExpiredToken
	}
	if claims.Nonce != "" {
		if _, seen := v.nonces.Get(claims.Nonce); seen {
			return nil, ErrReplayedToken
		}
		v.nonces.SetDefault(claims.Nonce, struct{}{})
	}
	return claims, nil
}
