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

package auth_test

import (
	"net/http"
	"strings"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/hackdesk/orchestrator/pkg/auth"
	"github.com/hackdesk/orchestrator/pkg/test"
)

func TestAuth(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Auth")
}

var _ = Describe("Verifier", func() {
	var clk *clocktesting.FakeClock
	var verifier *auth.Verifier

	claims := func(overrides map[string]any) map[string]any {
		base := map[string]any{
			"user_id":       "42",
			"username":      "learner",
			"fullname":      "A Learner",
			"plan":          "pro",
			"quota_minutes": int64(600),
			"expires":       time.Now().Add(time.Hour).Unix(),
		}
		for k, v := range overrides {
			base[k] = v
		}
		return base
	}

	BeforeEach(func() {
		clk = clocktesting.NewFakeClock(time.Now())
		verifier = auth.NewVerifier(test.PortalSecret, clk)
	})

	It("should verify a portal token and return its claims", func() {
		token := test.PortalToken(test.PortalSecret, claims(nil))
		verified, err := verifier.Verify(token)
		Expect(err).ToNot(HaveOccurred())
		Expect(verified.UserID).To(Equal("42"))
		Expect(verified.Username).To(Equal("learner"))
		Expect(verified.Plan).To(Equal("pro"))
		Expect(verified.QuotaMinutes).To(Equal(int64(600)))
	})

	It("should accept numeric user ids", func() {
		token := test.PortalToken(test.PortalSecret, claims(map[string]any{"user_id": 42}))
		verified, err := verifier.Verify(token)
		Expect(err).ToNot(HaveOccurred())
		Expect(verified.UserID).To(Equal("42"))
	})

	It("should reject a malformed token", func() {
		_, err := verifier.Verify("no-dot-here")
		Expect(err).To(MatchError(auth.ErrMalformedToken))
		_, err = verifier.Verify("")
		Expect(err).To(MatchError(auth.ErrMalformedToken))
		_, err = verifier.Verify("payload.")
		Expect(err).To(MatchError(auth.ErrMalformedToken))
	})

	It("should reject a token signed with a different secret", func() {
		token := test.PortalToken("other-secret", claims(nil))
		_, err := verifier.Verify(token)
		Expect(err).To(MatchError(auth.ErrBadSignature))
	})

	It("should reject a tampered payload", func() {
		token := test.PortalToken(test.PortalSecret, claims(nil))
		forged := test.PortalToken(test.PortalSecret, claims(map[string]any{"plan": "freemium"}))
		payload, _, _ := strings.Cut(forged, ".")
		_, signature, _ := strings.Cut(token, ".")
		_, err := verifier.Verify(payload + "." + signature)
		Expect(err).To(MatchError(auth.ErrBadSignature))
	})

	It("should accept an uppercase hex signature", func() {
		token := test.PortalToken(test.PortalSecret, claims(nil))
		payload, signature, _ := strings.Cut(token, ".")
		_, err := verifier.Verify(payload + "." + strings.ToUpper(signature))
		Expect(err).ToNot(HaveOccurred())
	})

	It("should reject an expired token", func() {
		token := test.PortalToken(test.PortalSecret, claims(map[string]any{
			"expires": clk.Now().Add(-time.Minute).Unix(),
		}))
		_, err := verifier.Verify(token)
		Expect(err).To(MatchError(auth.ErrExpiredToken))
	})

	It("should reject a replayed nonce", func() {
		token := test.PortalToken(test.PortalSecret, claims(map[string]any{"nonce": "once"}))
		_, err := verifier.Verify(token)
		Expect(err).ToNot(HaveOccurred())
		_, err = verifier.Verify(token)
		Expect(err).To(MatchError(auth.ErrReplayedToken))
	})

	It("should allow distinct nonces", func() {
		for _, nonce := range []string{"first", "second"} {
			token := test.PortalToken(test.PortalSecret, claims(map[string]any{"nonce": nonce}))
			_, err := verifier.Verify(token)
			Expect(err).ToNot(HaveOccurred())
		}
	})

	It("should report roles", func() {
		token := test.PortalToken(test.PortalSecret, claims(map[string]any{"roles": []string{"admin"}}))
		verified, err := verifier.Verify(token)
		Expect(err).ToNot(HaveOccurred())
		Expect(verified.HasRole(auth.RoleAdmin)).To(BeTrue())
		Expect(verified.HasRole("teacher")).To(BeFalse())
	})
})

var _ = Describe("TokenFromRequest", func() {
	It("should prefer the portal header", func() {
		r := &http.Request{Header: http.Header{}}
		r.Header.Set(auth.TokenHeader, "from-header")
		r.Header.Set("Authorization", "Bearer from-bearer")
		Expect(auth.TokenFromRequest(r)).To(Equal("from-header"))
	})
	It("should fall back to a bearer token", func() {
		r := &http.Request{Header: http.Header{}}
		r.Header.Set("Authorization", "Bearer from-bearer")
		Expect(auth.TokenFromRequest(r)).To(Equal("from-bearer"))
	})
	It("should return empty when neither transport is present", func() {
		r := &http.Request{Header: http.Header{}}
		Expect(auth.TokenFromRequest(r)).To(BeEmpty())
	})
})
