package system_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/gemmsim/config"
	"github.com/sarchlab/gemmsim/timing/system"
)

const maxTicks = 1_000_000

func runConfig(mutate func(*config.Config)) *config.Config {
	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	return cfg
}

// referenceGEMM computes C = A x B with float64 accumulation, A being
// m x k and B being k x n, both row-major.
func referenceGEMM(a, b []float64, m, n, k int) []float64 {
	c := make([]float64, m*n)
	for i := 0; i < m; i++ {
		for l := 0; l < k; l++ {
			av := a[i*k+l]
			for j := 0; j < n; j++ {
				c[i*n+j] += av * b[l*n+j]
			}
		}
	}
	return c
}

// rampMatrix fills count values with a small deterministic integer
// pattern, exact in both float32 and float16.
func rampMatrix(count, seed int) []float64 {
	out := make([]float64, count)
	for i := range out {
		out[i] = float64((i*7+seed)%9 - 4)
	}
	return out
}

var _ = Describe("System", func() {
	It("runs a single-tile workload to completion", func() {
		s, err := system.New(runConfig(func(c *config.Config) {
			c.Buffering = "single"
		}))
		Expect(err).NotTo(HaveOccurred())

		Expect(s.Run(maxTicks)).To(Succeed())

		schedStats := s.Scheduler().Stats()
		Expect(schedStats.ReadRequests).To(Equal(uint64(1)))
		Expect(schedStats.Handshakes).To(Equal(uint64(1)))
		Expect(schedStats.Writebacks).To(Equal(uint64(1)))
		Expect(schedStats.TilesCompleted).To(Equal(uint64(1)))
		Expect(schedStats.OverlapReads).To(BeZero())

		// One atomic fetch is two bulk read transactions (A then B).
		bulkStats := s.Bulk().Stats()
		Expect(bulkStats.ReadTransactions).To(Equal(uint64(2)))
		Expect(bulkStats.WriteTransactions).To(Equal(uint64(1)))

		ctl := s.Control()
		Expect(ctl.Done()).To(BeTrue())
		Expect(ctl.Busy()).To(BeFalse())
		Expect(ctl.Error()).To(BeFalse())
		Expect(ctl.Counters().Tiles).To(Equal(uint64(1)))
		Expect(ctl.Counters().Cycles).To(Equal(s.Cycles()))
	})

	It("fetches once per k-tile and writes back once per group", func() {
		s, err := system.New(runConfig(func(c *config.Config) {
			c.Buffering = "single"
			c.MatrixK = 32
		}))
		Expect(err).NotTo(HaveOccurred())

		Expect(s.Run(maxTicks)).To(Succeed())

		schedStats := s.Scheduler().Stats()
		Expect(schedStats.ReadRequests).To(Equal(uint64(2)))
		Expect(schedStats.Handshakes).To(Equal(uint64(2)))
		Expect(schedStats.Writebacks).To(Equal(uint64(1)))
		Expect(s.Bulk().Stats().ReadTransactions).To(Equal(uint64(4)))
	})

	It("writes back every (m, n) group", func() {
		s, err := system.New(runConfig(func(c *config.Config) {
			c.Buffering = "single"
			c.MatrixM = 32
			c.MatrixN = 32
		}))
		Expect(err).NotTo(HaveOccurred())

		Expect(s.Run(maxTicks)).To(Succeed())

		schedStats := s.Scheduler().Stats()
		Expect(schedStats.ReadRequests).To(Equal(uint64(4)))
		Expect(schedStats.Handshakes).To(Equal(uint64(4)))
		Expect(schedStats.Writebacks).To(Equal(uint64(4)))
		Expect(s.Bulk().Stats().WriteTransactions).To(Equal(uint64(4)))
	})

	It("overlaps prefetches under double buffering", func() {
		s, err := system.New(runConfig(func(c *config.Config) {
			c.Buffering = "double_ab"
			c.MatrixK = 32
		}))
		Expect(err).NotTo(HaveOccurred())

		Expect(s.Run(maxTicks)).To(Succeed())

		schedStats := s.Scheduler().Stats()
		Expect(schedStats.OverlapReads).To(BeNumerically(">", 0))
		Expect(schedStats.ReadRequests).To(Equal(uint64(2)))
		Expect(s.Control().Done()).To(BeTrue())
	})

	DescribeTable("computes the product end to end",
		func(buffering string) {
			const m, n, k = 32, 16, 16
			s, err := system.New(runConfig(func(c *config.Config) {
				c.Buffering = buffering
				c.MatrixM = m
			}))
			Expect(err).NotTo(HaveOccurred())

			a := rampMatrix(m*k, 1)
			b := rampMatrix(k*n, 3)
			s.LoadOperandA(a)
			s.LoadOperandB(b)

			Expect(s.Run(maxTicks)).To(Succeed())
			Expect(s.ReadResult(m * n)).To(Equal(referenceGEMM(a, b, m, n, k)))
		},
		Entry("single buffering", "single"),
		Entry("double buffering", "double_ab"),
		Entry("double A only", "double_a"),
	)

	It("computes with float16 operands", func() {
		const m, n, k = 16, 16, 16
		s, err := system.New(runConfig(func(c *config.Config) {
			c.ElemSizeA = 2
			c.ElemSizeB = 2
			c.ElemSizeC = 2
		}))
		Expect(err).NotTo(HaveOccurred())

		a := rampMatrix(m*k, 2)
		b := rampMatrix(k*n, 5)
		s.LoadOperandA(a)
		s.LoadOperandB(b)

		Expect(s.Run(maxTicks)).To(Succeed())
		// Small integer products and sums stay exact in half precision.
		Expect(s.ReadResult(m * n)).To(Equal(referenceGEMM(a, b, m, n, k)))
	})

	It("rejects an invalid configuration at build time", func() {
		_, err := system.New(runConfig(func(c *config.Config) {
			c.MatrixM = 17
		}))
		Expect(err).To(HaveOccurred())
	})

	It("rejects a second start while busy", func() {
		s, err := system.New(runConfig(nil))
		Expect(err).NotTo(HaveOccurred())

		Expect(s.Start()).To(BeTrue())
		Expect(s.Start()).To(BeFalse())
	})

	It("bounds a runaway run", func() {
		s, err := system.New(runConfig(nil))
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Run(10)).To(HaveOccurred())
	})

	It("reruns cleanly after reset", func() {
		s, err := system.New(runConfig(func(c *config.Config) {
			c.Buffering = "single"
		}))
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Run(maxTicks)).To(Succeed())

		s.Reset()
		Expect(s.Cycles()).To(BeZero())
		Expect(s.Control().Done()).To(BeFalse())

		Expect(s.Run(maxTicks)).To(Succeed())
		Expect(s.Scheduler().Stats().TilesCompleted).To(Equal(uint64(1)))
	})
})
