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

package usage_test

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/hackdesk/orchestrator/pkg/apis"
	"github.com/hackdesk/orchestrator/pkg/fake"
	"github.com/hackdesk/orchestrator/pkg/providers/usage"
)

var (
	ctx      context.Context
	clk      *clocktesting.FakeClock
	store    *fake.MemoryStore
	provider *usage.DefaultProvider
)

func TestUsage(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Providers/Usage")
}

var _ = Describe("Usage", func() {
	BeforeEach(func() {
		ctx = context.Background()
		clk = clocktesting.NewFakeClock(time.Date(2024, time.March, 15, 10, 0, 0, 0, time.UTC))
		store = fake.NewMemoryStore(clk)
		provider = usage.NewDefaultProvider(store.Usage, clk)
	})

	Describe("CheckQuota", func() {
		It("should always allow unlimited quotas", func() {
			decision, err := provider.CheckQuota(ctx, "user-1", apis.QuotaUnlimited)
			Expect(err).ToNot(HaveOccurred())
			Expect(decision.Allowed).To(BeTrue())
			Expect(decision.RemainingMinutes).To(Equal(apis.QuotaUnlimited))
		})

		It("should allow a user with no usage this month", func() {
			decision, err := provider.CheckQuota(ctx, "user-1", 600)
			Expect(err).ToNot(HaveOccurred())
			Expect(decision.Allowed).To(BeTrue())
			Expect(decision.ConsumedMinutes).To(Equal(int64(0)))
			Expect(decision.RemainingMinutes).To(Equal(int64(600)))
		})

		It("should allow while consumption is below quota and deny at it", func() {
			_, err := store.Usage.Add(ctx, "user-1", "2024-03", 599, 1, apis.PlanPro, 600)
			Expect(err).ToNot(HaveOccurred())
			decision, err := provider.CheckQuota(ctx, "user-1", 600)
			Expect(err).ToNot(HaveOccurred())
			Expect(decision.Allowed).To(BeTrue())
			Expect(decision.RemainingMinutes).To(Equal(int64(1)))

			_, err = store.Usage.Add(ctx, "user-1", "2024-03", 1, 1, apis.PlanPro, 600)
			Expect(err).ToNot(HaveOccurred())
			decision, err = provider.CheckQuota(ctx, "user-1", 600)
			Expect(err).ToNot(HaveOccurred())
			Expect(decision.Allowed).To(BeFalse())
			Expect(decision.RemainingMinutes).To(Equal(int64(0)))
		})

		It("should render the month boundary with an explicit offset", func() {
			decision, err := provider.CheckQuota(ctx, "user-1", 600)
			Expect(err).ToNot(HaveOccurred())
			Expect(decision.ResetsAt).To(Equal("2024-04-01T00:00:00+00:00"))
		})

		It("should ignore last month's consumption", func() {
			_, err := store.Usage.Add(ctx, "user-1", "2024-02", 600, 10, apis.PlanPro, 600)
			Expect(err).ToNot(HaveOccurred())
			decision, err := provider.CheckQuota(ctx, "user-1", 600)
			Expect(err).ToNot(HaveOccurred())
			Expect(decision.Allowed).To(BeTrue())
			Expect(decision.ConsumedMinutes).To(Equal(int64(0)))
		})
	})

	Describe("RecordSession", func() {
		It("should not bill sessions under thirty seconds", func() {
			Expect(provider.RecordSession(ctx, "user-1", apis.PlanPro, 600, 20*time.Second)).To(Succeed())
			_, err := store.Usage.Get(ctx, "user-1", "2024-03")
			Expect(err).To(HaveOccurred())
		})

		It("should bill at least one minute", func() {
			Expect(provider.RecordSession(ctx, "user-1", apis.PlanPro, 600, 45*time.Second)).To(Succeed())
			record, err := store.Usage.Get(ctx, "user-1", "2024-03")
			Expect(err).ToNot(HaveOccurred())
			Expect(record.ConsumedMinutes).To(Equal(int64(1)))
			Expect(record.SessionCount).To(Equal(int64(1)))
		})

		It("should truncate to whole minutes and accumulate", func() {
			Expect(provider.RecordSession(ctx, "user-1", apis.PlanPro, 600, 5*time.Minute+40*time.Second)).To(Succeed())
			Expect(provider.RecordSession(ctx, "user-1", apis.PlanPro, 600, 2*time.Minute)).To(Succeed())
			record, err := store.Usage.Get(ctx, "user-1", "2024-03")
			Expect(err).ToNot(HaveOccurred())
			Expect(record.ConsumedMinutes).To(Equal(int64(7)))
			Expect(record.SessionCount).To(Equal(int64(2)))
		})
	})

	Describe("Stats", func() {
		It("should return an empty month for an unknown owner", func() {
			stats, err := provider.Stats(ctx, "user-1", 600)
			Expect(err).ToNot(HaveOccurred())
			Expect(stats.Month).To(Equal("2024-03"))
			Expect(stats.ConsumedMinutes).To(Equal(int64(0)))
			Expect(stats.RemainingMinutes).To(Equal(int64(600)))
		})

		It("should compute remaining minutes from the record", func() {
			_, err := store.Usage.Add(ctx, "user-1", "2024-03", 150, 3, apis.PlanStarter, 600)
			Expect(err).ToNot(HaveOccurred())
			stats, err := provider.Stats(ctx, "user-1", 600)
			Expect(err).ToNot(HaveOccurred())
			Expect(stats.ConsumedMinutes).To(Equal(int64(150)))
			Expect(stats.SessionCount).To(Equal(int64(3)))
			Expect(stats.RemainingMinutes).To(Equal(int64(450)))
		})

		It("should fall back to the recorded quota when the caller has none", func() {
			_, err := store.Usage.Add(ctx, "user-1", "2024-03", 30, 1, apis.PlanStarter, 600)
			Expect(err).ToNot(HaveOccurred())
			stats, err := provider.Stats(ctx, "user-1", 0)
			Expect(err).ToNot(HaveOccurred())
			Expect(stats.QuotaMinutes).To(Equal(int64(600)))
			Expect(stats.RemainingMinutes).To(Equal(int64(570)))
		})

		It("should report unlimited quotas as unlimited", func() {
			_, err := store.Usage.Add(ctx, "user-1", "2024-03", 5000, 9, apis.PlanPro, apis.QuotaUnlimited)
			Expect(err).ToNot(HaveOccurred())
			stats, err := provider.Stats(ctx, "user-1", apis.QuotaUnlimited)
			Expect(err).ToNot(HaveOccurred())
			Expect(stats.RemainingMinutes).To(Equal(apis.QuotaUnlimited))
		})
	})

	Describe("Month boundaries", func() {
		It("should format the partition key in UTC", func() {
			Expect(usage.Month(time.Date(2024, time.January, 1, 3, 0, 0, 0, time.FixedZone("early", -4*3600)))).To(Equal("2023-12"))
		})
		It("should roll December into the new year", func() {
			reset := usage.NextReset(time.Date(2024, time.December, 20, 0, 0, 0, 0, time.UTC))
			Expect(reset).To(Equal(time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)))
		})
	})
})
