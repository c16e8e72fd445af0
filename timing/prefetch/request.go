package prefetch

// Kind selects the transfer direction of a request.
type Kind int

const (
	// ReadAB fetches operand A and then operand B from bulk memory into
	// local memory as one atomic request: a single done pulse covers the
	// whole pair.
	ReadAB Kind = iota
	// WriteC drains a completed C tile from local memory into bulk memory.
	WriteC
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case ReadAB:
		return "read_ab"
	default:
		return "write_c"
	}
}

// Request is one logical transfer order from the scheduler. It is
// created once, consumed exactly once by the engine queue, and never
// mutated. Addresses are bulk byte addresses and local word addresses;
// counts are in elements (one element per local word).
type Request struct {
	Kind Kind

	BulkAddrA uint64
	BulkAddrB uint64
	BulkAddrC uint64

	LocalAddrA uint32
	LocalAddrB uint32
	LocalAddrC uint32

	CountA int
	CountB int
	CountC int

	ElemSizeA int
	ElemSizeB int
	ElemSizeC int
}

// operandView is one operand's transfer parameters.
type operandView struct {
	bulk  uint64
	local uint32
	count int
	size  int
}

// readOperand returns the i-th read operand (0 = A, 1 = B).
func (r *Request) readOperand(i int) operandView {
	if i == 0 {
		return operandView{r.BulkAddrA, r.LocalAddrA, r.CountA, r.ElemSizeA}
	}
	return operandView{r.BulkAddrB, r.LocalAddrB, r.CountB, r.ElemSizeB}
}

// writeOperand returns the C operand's transfer parameters.
func (r *Request) writeOperand() operandView {
	return operandView{r.BulkAddrC, r.LocalAddrC, r.CountC, r.ElemSizeC}
}

// valid reports whether the request is well formed. Zero element counts
// are rejected defensively: the config surface never lets one through,
// and the engine has no defined behavior for an empty transfer.
func (r *Request) valid() bool {
	switch r.Kind {
	case ReadAB:
		return r.CountA > 0 && r.CountB > 0 && r.ElemSizeA > 0 && r.ElemSizeB > 0
	case WriteC:
		return r.CountC > 0 && r.ElemSizeC > 0
	default:
		return false
	}
}

// requestQueue is the bounded FIFO of pending requests, an explicit
// ring buffer with head and count.
type requestQueue struct {
	entries []Request
	head    int
	count   int
}

func newRequestQueue(capacity int) *requestQueue {
	return &requestQueue{entries: make([]Request, capacity)}
}

func (q *requestQueue) len() int {
	return q.count
}

func (q *requestQueue) full() bool {
	return q.count == len(q.entries)
}

func (q *requestQueue) push(r Request) bool {
	if q.full() {
		return false
	}
	q.entries[(q.head+q.count)%len(q.entries)] = r
	q.count++
	return true
}

func (q *requestQueue) pop() (Request, bool) {
	if q.count == 0 {
		return Request{}, false
	}
	r := q.entries[q.head]
	q.head = (q.head + 1) % len(q.entries)
	q.count--
	return r, true
}

func (q *requestQueue) reset() {
	q.head = 0
	q.count = 0
}
