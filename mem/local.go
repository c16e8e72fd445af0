// Package mem provides the storage collaborators of the orchestrator:
// the wide-beat bulk memory transport and the banked local working memory.
package mem

// LocalMemory models the banked, word-addressed working memory shared by
// the prefetch engine and the compute engine.
//
// Words are interleaved across banks: word address a lives in bank
// a % NumBanks at row a / NumBanks. LocalMemory itself is plain
// synchronous storage; the one-tick read latency and all access
// mediation belong to the arbiter, which is the only component allowed
// to touch the banks.
type LocalMemory struct {
	numBanks     int
	wordsPerBank int
	banks        [][]uint32
}

// NewLocalMemory creates a local memory with the given bank count and
// per-bank word capacity.
func NewLocalMemory(numBanks, wordsPerBank int) *LocalMemory {
	banks := make([][]uint32, numBanks)
	for i := range banks {
		banks[i] = make([]uint32, wordsPerBank)
	}
	return &LocalMemory{
		numBanks:     numBanks,
		wordsPerBank: wordsPerBank,
		banks:        banks,
	}
}

// NumBanks returns the number of independent banks.
func (m *LocalMemory) NumBanks() int {
	return m.numBanks
}

// Capacity returns the total word capacity across all banks.
func (m *LocalMemory) Capacity() int {
	return m.numBanks * m.wordsPerBank
}

// Bank returns the bank index that serves the given word address.
func (m *LocalMemory) Bank(addr uint32) int {
	return int(addr) % m.numBanks
}

// ReadWord returns the word at the given word address.
// Out-of-range addresses read as zero.
func (m *LocalMemory) ReadWord(addr uint32) uint32 {
	row := int(addr) / m.numBanks
	if row >= m.wordsPerBank {
		return 0
	}
	return m.banks[m.Bank(addr)][row]
}

// WriteWord stores a word at the given word address.
// Out-of-range writes are dropped.
func (m *LocalMemory) WriteWord(addr uint32, word uint32) {
	row := int(addr) / m.numBanks
	if row >= m.wordsPerBank {
		return
	}
	m.banks[m.Bank(addr)][row] = word
}

// Reset clears all banks to zero.
func (m *LocalMemory) Reset() {
	for _, bank := range m.banks {
		for i := range bank {
			bank[i] = 0
		}
	}
}
