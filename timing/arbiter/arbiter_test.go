package arbiter_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/gemmsim/mem"
	"github.com/sarchlab/gemmsim/timing/arbiter"
)

var _ = Describe("Arbiter", func() {
	var (
		local *mem.LocalMemory
		arb   *arbiter.Arbiter
	)

	BeforeEach(func() {
		local = mem.NewLocalMemory(4, 16)
		arb = arbiter.New(local)
	})

	read := func(addr uint32) arbiter.Request {
		return arbiter.Request{Valid: true, Bank: local.Bank(addr), Addr: addr}
	}
	write := func(addr uint32, data uint32) arbiter.Request {
		return arbiter.Request{
			Valid: true, Bank: local.Bank(addr), Addr: addr,
			IsWrite: true, Data: data,
		}
	}

	It("denies the compute engine when both target the same bank", func() {
		var reqs [arbiter.NumRequesters]arbiter.Request
		reqs[arbiter.Prefetch] = write(1, 0xAA)
		reqs[arbiter.Compute] = read(5) // bank 1 as well

		grants, resps := arb.Tick(reqs)
		Expect(grants[arbiter.Prefetch]).To(BeTrue())
		Expect(grants[arbiter.Compute]).To(BeFalse())
		Expect(resps).To(BeEmpty())

		stats := arb.Stats()
		Expect(stats.Grants[arbiter.Prefetch]).To(Equal(uint64(1)))
		Expect(stats.Denials[arbiter.Compute]).To(Equal(uint64(1)))
	})

	It("grants both requesters on independent banks", func() {
		var reqs [arbiter.NumRequesters]arbiter.Request
		reqs[arbiter.Prefetch] = write(2, 0xBB) // bank 2
		reqs[arbiter.Compute] = read(5)         // bank 1

		grants, _ := arb.Tick(reqs)
		Expect(grants[arbiter.Prefetch]).To(BeTrue())
		Expect(grants[arbiter.Compute]).To(BeTrue())
	})

	It("delivers read data one tick after the grant, tagged by requester and bank", func() {
		local.WriteWord(5, 0x1234)
		local.WriteWord(6, 0x5678)

		var reqs [arbiter.NumRequesters]arbiter.Request
		reqs[arbiter.Prefetch] = read(5) // bank 1
		reqs[arbiter.Compute] = read(6)  // bank 2

		_, resps := arb.Tick(reqs)
		Expect(resps).To(BeEmpty())

		_, resps = arb.Tick([arbiter.NumRequesters]arbiter.Request{})
		Expect(resps).To(HaveLen(2))
		Expect(resps).To(ContainElement(arbiter.ReadResponse{
			Requester: arbiter.Prefetch, Bank: 1, Data: 0x1234,
		}))
		Expect(resps).To(ContainElement(arbiter.ReadResponse{
			Requester: arbiter.Compute, Bank: 2, Data: 0x5678,
		}))
	})

	It("applies granted writes immediately", func() {
		var reqs [arbiter.NumRequesters]arbiter.Request
		reqs[arbiter.Prefetch] = write(9, 0xCC)
		arb.Tick(reqs)
		Expect(local.ReadWord(9)).To(Equal(uint32(0xCC)))
	})

	It("honors a custom priority order", func() {
		arb = arbiter.NewWithOrder(local,
			[]arbiter.Requester{arbiter.Compute, arbiter.Prefetch})

		var reqs [arbiter.NumRequesters]arbiter.Request
		reqs[arbiter.Prefetch] = write(1, 0xAA)
		reqs[arbiter.Compute] = write(1, 0xBB)

		grants, _ := arb.Tick(reqs)
		Expect(grants[arbiter.Compute]).To(BeTrue())
		Expect(grants[arbiter.Prefetch]).To(BeFalse())
		Expect(local.ReadWord(1)).To(Equal(uint32(0xBB)))
	})

	It("drops in-flight responses on reset", func() {
		var reqs [arbiter.NumRequesters]arbiter.Request
		reqs[arbiter.Prefetch] = read(0)
		arb.Tick(reqs)
		arb.Reset()

		_, resps := arb.Tick([arbiter.NumRequesters]arbiter.Request{})
		Expect(resps).To(BeEmpty())
		Expect(arb.Stats()).To(Equal(arbiter.Stats{}))
	})
})
