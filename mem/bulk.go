package mem

// BulkConfig holds bulk-memory transport parameters.
type BulkConfig struct {
	// BeatBytes is the width of one transfer beat in bytes.
	BeatBytes int
	// Latency is the access latency in ticks between request acceptance
	// and the first read beat (or between the last write beat and the
	// write acknowledge).
	Latency uint64
	// Size is the backing-store capacity in bytes.
	Size int
}

// DefaultBulkConfig returns a bulk transport with 16-byte beats, a
// 4-tick access latency, and a 1 MiB backing store.
func DefaultBulkConfig() BulkConfig {
	return BulkConfig{
		BeatBytes: 16,
		Latency:   4,
		Size:      1 << 20,
	}
}

// BulkRequest is one transaction on the bulk-memory request channel.
type BulkRequest struct {
	// Addr is the starting byte address.
	Addr uint64
	// ByteCount is the transaction length in bytes. For writes it also
	// bounds the bytes committed from a zero-padded final beat.
	ByteCount int
	// IsWrite selects the write path.
	IsWrite bool
}

// Beat is one fixed-width transfer on the read- or write-data channel.
type Beat struct {
	// Data holds exactly BeatBytes bytes.
	Data []byte
	// Last marks the final beat of the transaction.
	Last bool
}

// BulkStats holds bulk transport performance counters.
type BulkStats struct {
	ReadTransactions  uint64
	WriteTransactions uint64
	ReadBeats         uint64
	WriteBeats        uint64
}

// bulkState enumerates the transport's transaction phases.
type bulkState int

const (
	bulkIdle bulkState = iota
	bulkReadWait
	bulkReadStream
	bulkWriteCollect
	bulkWriteWait
	bulkWriteAck
)

// BulkInputs carries the signals the transport samples each tick. The
// harness gates each field on the matching ready output before passing
// it in, so every non-nil field represents a fired handshake.
type BulkInputs struct {
	// Req is a request accepted this tick, or nil.
	Req *BulkRequest
	// BeatTaken is true when the consumer took the offered read beat.
	BeatTaken bool
	// WriteBeat is a write-data beat accepted this tick, or nil.
	WriteBeat *Beat
}

// BulkOutputs is the transport's registered output set, a pure function
// of its current state.
type BulkOutputs struct {
	// ReqReady is true when a new request can be accepted.
	ReqReady bool
	// ReadBeat is the beat currently offered on the read-data channel,
	// held until the consumer takes it. Nil when no beat is available.
	ReadBeat *Beat
	// WriteBeatReady is true when the write-data channel can accept a beat.
	WriteBeatReady bool
	// WriteAck pulses for one tick when a write transaction completes.
	WriteAck bool
}

// BulkMemory models the wide-transfer backing store. One transaction is
// serviced at a time: reads stream ceil(ByteCount/BeatBytes) beats with
// a Last marker on the final one, writes collect beats and acknowledge
// after the last beat commits.
type BulkMemory struct {
	config BulkConfig
	store  []byte

	state  bulkState
	cur    BulkRequest
	offset int // bytes streamed or committed so far
	wait   uint64

	stats BulkStats
}

// NewBulkMemory creates a bulk memory with the given configuration.
func NewBulkMemory(config BulkConfig) *BulkMemory {
	return &BulkMemory{
		config: config,
		store:  make([]byte, config.Size),
	}
}

// Config returns the transport configuration.
func (b *BulkMemory) Config() BulkConfig {
	return b.config
}

// Stats returns the transport counters.
func (b *BulkMemory) Stats() BulkStats {
	return b.stats
}

// ReadByte returns the byte at the given address, zero past capacity.
func (b *BulkMemory) ReadByte(addr uint64) byte {
	if addr >= uint64(len(b.store)) {
		return 0
	}
	return b.store[addr]
}

// WriteByte stores a byte at the given address, dropped past capacity.
func (b *BulkMemory) WriteByte(addr uint64, v byte) {
	if addr >= uint64(len(b.store)) {
		return
	}
	b.store[addr] = v
}

// WriteBytes copies data into the store starting at addr.
func (b *BulkMemory) WriteBytes(addr uint64, data []byte) {
	for i, v := range data {
		b.WriteByte(addr+uint64(i), v)
	}
}

// ReadBytes copies size bytes out of the store starting at addr.
func (b *BulkMemory) ReadBytes(addr uint64, size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = b.ReadByte(addr + uint64(i))
	}
	return data
}

// Outputs derives the current-tick output signals.
func (b *BulkMemory) Outputs() BulkOutputs {
	out := BulkOutputs{
		ReqReady:       b.state == bulkIdle,
		WriteBeatReady: b.state == bulkWriteCollect,
		WriteAck:       b.state == bulkWriteAck,
	}
	if b.state == bulkReadStream {
		out.ReadBeat = b.beatAt(b.offset)
	}
	return out
}

// beatAt builds the read beat covering cur.Addr+offset. Beats are always
// full width; bytes past the backing store read as zero.
func (b *BulkMemory) beatAt(offset int) *Beat {
	data := b.ReadBytes(b.cur.Addr+uint64(offset), b.config.BeatBytes)
	return &Beat{
		Data: data,
		Last: offset+b.config.BeatBytes >= b.cur.ByteCount,
	}
}

// Tick commits one step of the transport state machine.
func (b *BulkMemory) Tick(in BulkInputs) {
	switch b.state {
	case bulkIdle:
		if in.Req != nil {
			b.cur = *in.Req
			b.offset = 0
			if b.cur.IsWrite {
				b.stats.WriteTransactions++
				b.state = bulkWriteCollect
			} else {
				b.stats.ReadTransactions++
				b.wait = b.config.Latency
				b.state = bulkReadWait
			}
		}

	case bulkReadWait:
		if b.wait > 0 {
			b.wait--
		}
		if b.wait == 0 {
			b.state = bulkReadStream
		}

	case bulkReadStream:
		if in.BeatTaken {
			b.stats.ReadBeats++
			b.offset += b.config.BeatBytes
			if b.offset >= b.cur.ByteCount {
				b.state = bulkIdle
			}
		}

	case bulkWriteCollect:
		if in.WriteBeat != nil {
			b.stats.WriteBeats++
			b.commitWriteBeat(in.WriteBeat)
			if in.WriteBeat.Last {
				b.wait = b.config.Latency
				b.state = bulkWriteWait
			}
		}

	case bulkWriteWait:
		if b.wait > 0 {
			b.wait--
		}
		if b.wait == 0 {
			b.state = bulkWriteAck
		}

	case bulkWriteAck:
		b.state = bulkIdle
	}
}

// commitWriteBeat applies a write beat to the store. ByteCount bounds
// the commit so a zero-padded final beat never spills past the
// transaction range.
func (b *BulkMemory) commitWriteBeat(beat *Beat) {
	n := b.config.BeatBytes
	if remain := b.cur.ByteCount - b.offset; n > remain {
		n = remain
	}
	for i := 0; i < n && i < len(beat.Data); i++ {
		b.WriteByte(b.cur.Addr+uint64(b.offset+i), beat.Data[i])
	}
	b.offset += b.config.BeatBytes
}

// Reset aborts any transaction in flight and clears counters. The
// backing store contents are preserved.
func (b *BulkMemory) Reset() {
	b.state = bulkIdle
	b.cur = BulkRequest{}
	b.offset = 0
	b.wait = 0
	b.stats = BulkStats{}
}
