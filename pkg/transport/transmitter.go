package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	golrtp "github.com/fountaincode/golrtp"
	"github.com/fountaincode/golrtp/internal/fifo"
	"github.com/fountaincode/golrtp/internal/pacer"
	"github.com/fountaincode/golrtp/pkg/codec"
	"github.com/fountaincode/golrtp/pkg/wire"
	log "github.com/sirupsen/logrus"
)

// encoderSlot owns one generation on the sending side: the codec encoder,
// the contiguous block buffer its symbols live in, the rank pair and the
// per-encoder fountain pacer.
type encoderSlot struct {
	id         uint32
	enc        codec.Encoder
	block      []byte
	lrank      int // symbols loaded into the encoder
	rrank      int // highest rank acknowledged by the peer
	bucket     *pacer.Bucket
	repairDebt float64 // fractional in-line repair owed (in-line variant)
	nextESI    uint32
	maxAckESI  int64 // highest esi seen in an ack, -1 before the first
	ackCnt     uint32
}

// Transmitter is the sending endpoint. It may be driven explicitly by
// calling Process in a loop, or in the background via Start. Submit, Stats,
// Idle and Flush are the methods safe to call concurrently with a running
// worker.
type Transmitter struct {
	cfg     Config
	layout  wire.Layout
	factory codec.Factory
	ch      golrtp.Channel

	muIngest sync.Mutex
	ingest   *fifo.Ring

	symbols     *fifo.Ring
	slots       []*encoderSlot
	nextBlockID uint32
	lossRate    float64
	bucket      *pacer.Bucket // in-line repair budget

	pktbuf      []byte
	ackbuf      []byte
	payloadSize int

	state    atomic.Int32
	started  atomic.Bool
	flushing atomic.Bool
	wg       sync.WaitGroup

	ctr txCounters
}

type txCounters struct {
	recordsSubmitted atomic.Uint64
	symbolsSegmented atomic.Uint64
	packetsSent      atomic.Uint64
	repairSent       atomic.Uint64
	acksReceived     atomic.Uint64
	slotsRetired     atomic.Uint64
	badAcks          atomic.Uint64
	queuedRecords    atomic.Int64
	queuedSymbols    atomic.Int64
	openSlots        atomic.Int64
	lossRateBits     atomic.Uint64
	nextBlockID      atomic.Uint64
}

// TxStats is a point-in-time snapshot of the sending endpoint.
type TxStats struct {
	RecordsSubmitted uint64
	SymbolsSegmented uint64
	PacketsSent      uint64
	RepairSent       uint64
	AcksReceived     uint64
	SlotsRetired     uint64
	BadAcks          uint64
	QueuedRecords    int64
	QueuedSymbols    int64
	OpenSlots        int64
	LossRate         float64
	NextBlockID      uint64
}

// NewTransmitter creates a sending endpoint over the given channel. The
// channel carries coded packets outbound and rank feedback inbound.
func NewTransmitter(cfg Config, factory codec.Factory, ch golrtp.Channel) (*Transmitter, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if ch == nil || factory == nil {
		return nil, golrtp.ErrIllegalArgument
	}
	if factory.MaxSymbols() != cfg.MaxSymbols || factory.SymbolSize() != cfg.SymbolSize {
		return nil, fmt.Errorf("%w: codec factory geometry does not match config", golrtp.ErrIllegalArgument)
	}
	if cfg.SymbolSize < recommendedSymbolSize {
		log.Warnf("[TX] symbol size %v is below the recommended %v", cfg.SymbolSize, recommendedSymbolSize)
	}
	layout := wire.Layout{WithESI: cfg.WithESI, PayloadSize: factory.MaxPayloadSize()}
	if layout.PacketSize() >= maxDatagramSize {
		return nil, fmt.Errorf("%w: packet size %v exceeds ethernet payload", golrtp.ErrIllegalArgument, layout.PacketSize())
	}
	t := &Transmitter{
		cfg:         cfg,
		layout:      layout,
		factory:     factory,
		ch:          ch,
		ingest:      fifo.NewRing(),
		symbols:     fifo.NewRing(),
		lossRate:    cfg.InitialLossRate,
		bucket:      pacer.NewBucket(cfg.PacerRate),
		pktbuf:      make([]byte, layout.PacketSize()),
		ackbuf:      make([]byte, layout.AckSize()),
		payloadSize: factory.MaxPayloadSize(),
	}
	t.ctr.lossRateBits.Store(floatBits(t.lossRate))
	return t, nil
}

// Submit copies the caller's bytes into a new record and queues it for
// segmentation. It never blocks and never fails for well-formed input.
func (t *Transmitter) Submit(buf []byte) error {
	if len(buf) == 0 {
		return golrtp.ErrEmptyRecord
	}
	if len(buf)+recordLenSize > 0xffff {
		return golrtp.ErrRecordTooLarge
	}
	if t.cfg.IntendedLen != 0 && len(buf)+recordLenSize != t.cfg.IntendedLen {
		return golrtp.ErrRecordLength
	}
	if t.state.Load() == int32(golrtp.StateReleased) {
		return golrtp.ErrReleased
	}
	rec := make([]byte, recordLenSize+len(buf))
	binary.LittleEndian.PutUint16(rec, uint16(len(rec)))
	copy(rec[recordLenSize:], buf)

	t.muIngest.Lock()
	t.ingest.Push(rec)
	t.muIngest.Unlock()
	t.ctr.recordsSubmitted.Add(1)
	t.ctr.queuedRecords.Add(1)
	return nil
}

// Process runs one tick of the sending pipeline: segment pending records
// into symbols, load symbols into encoders and emit their systematic
// packets, absorb feedback, then fountain repair for lagging generations.
func (t *Transmitter) Process() {
	t.segment()
	if t.flushing.Load() {
		t.padTail()
	}
	t.loadEncoders()
	t.feedback()
	t.fountain()
	t.publishGauges()
}

// padTail completes a partial tail generation with zero symbols while a
// flush is in progress, so the peer can reach full rank and let the slot
// retire. The peer reads all-zero symbols as trailing padding.
func (t *Transmitter) padTail() {
	t.muIngest.Lock()
	ingestEmpty := t.ingest.Empty()
	t.muIngest.Unlock()
	if !ingestEmpty || !t.symbols.Empty() {
		return
	}
	slot := t.tailSlot()
	if slot == nil || slot.lrank == 0 || slot.lrank == t.cfg.MaxSymbols {
		return
	}
	for i := slot.lrank; i < t.cfg.MaxSymbols; i++ {
		t.symbols.Push(make([]byte, t.cfg.SymbolSize))
		t.ctr.queuedSymbols.Add(1)
	}
	log.Debugf("[TX] enc[%v] padded from rank %v", slot.id, slot.lrank)
}

// segment drains the ingest queue into fixed-size symbols. A symbol closes
// when its remaining capacity cannot hold the next record's length prefix
// (0 or 1 bytes left), so a prefix never straddles two symbols. The trailing
// partial symbol also closes, zero-padded; on the peer those zeros read as a
// zero length and end the scan of that symbol.
func (t *Transmitter) segment() {
	t.muIngest.Lock()
	records := t.ingest.Drain()
	t.muIngest.Unlock()
	if len(records) == 0 {
		return
	}
	t.ctr.queuedRecords.Add(-int64(len(records)))

	var sym []byte
	off := 0
	closeSym := func() {
		t.symbols.Push(sym)
		t.ctr.symbolsSegmented.Add(1)
		t.ctr.queuedSymbols.Add(1)
		sym = nil
		off = 0
	}
	for _, rec := range records {
		src := 0
		for src < len(rec) {
			if sym == nil {
				sym = make([]byte, t.cfg.SymbolSize)
			}
			n := copy(sym[off:], rec[src:])
			src += n
			off += n
			if t.cfg.SymbolSize-off <= 1 {
				closeSym()
			}
		}
	}
	if sym != nil {
		closeSym()
	}
}

// loadEncoders moves closed symbols into the tail encoder, creating slots up
// to the window limit, and emits the systematic copy of every loaded symbol
// right away.
func (t *Transmitter) loadEncoders() {
	for !t.symbols.Empty() {
		slot := t.tailSlot()
		if slot == nil || slot.lrank == t.cfg.MaxSymbols {
			// The window caps open generations, not loading into the
			// tail one
			if len(t.slots) >= t.cfg.Window {
				return
			}
			slot = t.newSlot()
		}
		for !t.symbols.Empty() && slot.lrank < t.cfg.MaxSymbols {
			sym := t.symbols.Pop()
			t.ctr.queuedSymbols.Add(-1)
			dst := slot.block[slot.lrank*t.cfg.SymbolSize : (slot.lrank+1)*t.cfg.SymbolSize]
			copy(dst, sym)
			if err := slot.enc.Load(slot.lrank, dst); err != nil {
				log.Errorf("[TX] enc[%v] load failed: %v", slot.id, err)
				return
			}
			slot.lrank = slot.enc.Rank()
			t.emitPacket(slot, false)

			if t.cfg.InlineRepair {
				slot.repairDebt += t.lossRate
				need := uint32(t.layout.PacketSize())
				for slot.repairDebt >= 1 && t.bucket.Acquire(need) {
					t.emitPacket(slot, true)
					slot.repairDebt -= 1
				}
			}
		}
	}
}

func (t *Transmitter) tailSlot() *encoderSlot {
	if len(t.slots) == 0 {
		return nil
	}
	return t.slots[len(t.slots)-1]
}

func (t *Transmitter) newSlot() *encoderSlot {
	slot := &encoderSlot{
		id:        t.nextBlockID,
		enc:       t.factory.NewEncoder(),
		block:     make([]byte, t.cfg.MaxSymbols*t.cfg.SymbolSize),
		bucket:    pacer.NewBucket(t.cfg.EncoderRate),
		maxAckESI: -1,
	}
	t.nextBlockID++
	t.slots = append(t.slots, slot)
	log.Debugf("[TX] enc[%v] init, total %v", slot.id, len(t.slots))
	return slot
}

// emitPacket writes one coded payload from the slot's encoder and sends it.
func (t *Transmitter) emitPacket(slot *encoderSlot, repair bool) {
	payload := t.pktbuf[t.layout.PacketSize()-t.payloadSize:]
	if _, err := slot.enc.WritePayload(payload); err != nil {
		log.Errorf("[TX] enc[%v] payload failed: %v", slot.id, err)
		return
	}
	pkt := wire.Packet{BlockID: slot.id, ESI: slot.nextESI, Payload: payload}
	n, err := t.layout.MarshalPacket(t.pktbuf, &pkt)
	if err != nil {
		log.Errorf("[TX] enc[%v] marshal failed: %v", slot.id, err)
		return
	}
	slot.nextESI++
	if err := t.ch.Send(t.pktbuf[:n]); err != nil {
		log.Warnf("[TX] enc[%v] send failed: %v", slot.id, err)
		return
	}
	t.ctr.packetsSent.Add(1)
	if repair {
		t.ctr.repairSent.Add(1)
	}
}

// feedback drains pending acks and raises the remote rank of the matching
// slot. Rank only ever moves up; acks for unknown blocks are dropped.
func (t *Transmitter) feedback() {
	for {
		n, err := t.ch.Recv(t.ackbuf)
		if err != nil {
			if err != golrtp.ErrNoData && err != golrtp.ErrChannelClosed {
				log.Warnf("[TX] feedback recv: %v", err)
			}
			return
		}
		if n != t.layout.AckSize() {
			t.ctr.badAcks.Add(1)
			continue
		}
		var ack wire.Ack
		if err := t.layout.UnmarshalAck(t.ackbuf[:n], &ack); err != nil {
			t.ctr.badAcks.Add(1)
			continue
		}
		t.ctr.acksReceived.Add(1)
		for _, slot := range t.slots {
			if ack.BlockID > slot.id {
				continue
			}
			if ack.BlockID < slot.id {
				break
			}
			rank := int(ack.Rank)
			if rank > t.cfg.MaxSymbols {
				rank = t.cfg.MaxSymbols
			}
			if rank > slot.rrank {
				slot.rrank = rank
			}
			if t.cfg.WithESI {
				if int64(ack.ESI) > slot.maxAckESI {
					slot.maxAckESI = int64(ack.ESI)
				}
				slot.ackCnt++
			}
			break
		}
	}
}

// fountain walks the slot list head to tail, retiring fully acknowledged
// generations and emitting one paced repair packet for each one the peer
// still lags on. Every live slot gets the same per-tick emission chance, so
// the oldest generations are never starved by newer ones.
func (t *Transmitter) fountain() {
	kept := t.slots[:0]
	for _, slot := range t.slots {
		if slot.lrank == t.cfg.MaxSymbols && slot.rrank == t.cfg.MaxSymbols {
			t.retire(slot)
			continue
		}
		if slot.lrank > slot.rrank && slot.bucket.Acquire(uint32(t.layout.PacketSize())) {
			t.emitPacket(slot, true)
		}
		kept = append(kept, slot)
	}
	for i := len(kept); i < len(t.slots); i++ {
		t.slots[i] = nil
	}
	t.slots = kept
}

// retire releases a completed slot, folding its delivery ratio into the
// global loss estimate first (the esi wire variant only; without per-packet
// sequence numbers there is nothing to count).
func (t *Transmitter) retire(slot *encoderSlot) {
	if t.cfg.WithESI && slot.maxAckESI >= 0 {
		sent := float64(slot.maxAckESI + 1)
		local := (sent - float64(slot.ackCnt)) / sent
		if local < 0 {
			local = 0
		} else if local > 1 {
			local = 1
		}
		t.lossRate = lossAlpha*local + (1-lossAlpha)*t.lossRate
		t.ctr.lossRateBits.Store(floatBits(t.lossRate))
	}
	t.ctr.slotsRetired.Add(1)
	log.Debugf("[TX] enc[%v] retired, loss %.3f", slot.id, t.lossRate)
}

func (t *Transmitter) publishGauges() {
	t.ctr.openSlots.Store(int64(len(t.slots)))
	t.ctr.nextBlockID.Store(uint64(t.nextBlockID))
}

// Stats returns a snapshot of the endpoint counters. Safe to call from any
// goroutine.
func (t *Transmitter) Stats() TxStats {
	return TxStats{
		RecordsSubmitted: t.ctr.recordsSubmitted.Load(),
		SymbolsSegmented: t.ctr.symbolsSegmented.Load(),
		PacketsSent:      t.ctr.packetsSent.Load(),
		RepairSent:       t.ctr.repairSent.Load(),
		AcksReceived:     t.ctr.acksReceived.Load(),
		SlotsRetired:     t.ctr.slotsRetired.Load(),
		BadAcks:          t.ctr.badAcks.Load(),
		QueuedRecords:    t.ctr.queuedRecords.Load(),
		QueuedSymbols:    t.ctr.queuedSymbols.Load(),
		OpenSlots:        t.ctr.openSlots.Load(),
		LossRate:         bitsFloat(t.ctr.lossRateBits.Load()),
		NextBlockID:      t.ctr.nextBlockID.Load(),
	}
}

// Idle reports whether every queue has drained and every generation has been
// acknowledged.
func (t *Transmitter) Idle() bool {
	s := t.Stats()
	return s.QueuedRecords == 0 && s.QueuedSymbols == 0 && s.OpenSlots == 0
}

// Start spawns the background worker that ticks Process until Stop. In this
// mode only Submit, Stats, Idle and Flush may be called from other
// goroutines.
func (t *Transmitter) Start() error {
	if t.state.Load() == int32(golrtp.StateReleased) {
		return golrtp.ErrReleased
	}
	if !t.started.CompareAndSwap(false, true) {
		return golrtp.ErrIllegalArgument
	}
	t.wg.Add(1)
	go t.run()
	return nil
}

func (t *Transmitter) run() {
	defer t.wg.Done()
	for {
		t.Process()
		time.Sleep(t.cfg.TickInterval)
		if t.state.Load() == int32(golrtp.StateReleased) {
			return
		}
	}
}

// Stop signals the worker and waits for the tick in flight to finish.
func (t *Transmitter) Stop() {
	t.state.Store(int32(golrtp.StateReleased))
	t.wg.Wait()
}

// Flush drives or awaits the pipeline until it is idle or the context
// expires, padding a partial tail generation so it can complete. With a
// running worker it polls; otherwise it ticks Process itself.
func (t *Transmitter) Flush(ctx context.Context) error {
	t.flushing.Store(true)
	defer t.flushing.Store(false)
	for !t.Idle() {
		if !t.workerActive() {
			t.Process()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.cfg.TickInterval):
		}
	}
	return nil
}

func (t *Transmitter) workerActive() bool {
	return t.started.Load() && t.state.Load() == int32(golrtp.StateInited)
}
