package transport

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	golrtp "github.com/fountaincode/golrtp"
	"github.com/fountaincode/golrtp/internal/fifo"
	"github.com/fountaincode/golrtp/pkg/codec"
	"github.com/fountaincode/golrtp/pkg/wire"
	log "github.com/sirupsen/logrus"
)

// The receive phase drains the socket for at most this long per tick so a
// burst of arrivals cannot starve dispatch and extraction.
const intakeBudget = time.Millisecond

// pendingPacket is one datagram parked between intake and dispatch.
type pendingPacket struct {
	blockID uint32
	esi     uint32
	payload []byte
}

// decoderSlot owns one generation on the receiving side: the codec decoder
// and the block buffer recovered symbols are written into.
type decoderSlot struct {
	id    uint32
	dec   codec.Decoder
	block []byte
}

// Receiver is the receiving endpoint. It may be driven explicitly by calling
// Process in a loop, or in the background via Start. Deliver and Stats are
// the methods safe to call concurrently with a running worker.
type Receiver struct {
	cfg     Config
	layout  wire.Layout
	factory codec.Factory
	data    golrtp.Channel
	signal  golrtp.Channel // ack path, may be the data channel itself

	expectedBlockID  uint32
	expectedSymbolID int
	pending          []pendingPacket
	decoders         []*decoderSlot
	symbols          *fifo.Ring

	// Cross-call reassembly cursor and the delivery queue, shared with the
	// application goroutine in worker mode.
	muDeliver sync.Mutex
	delivery  *fifo.Ring
	openRec   []byte
	openOff   int

	rcvbuf []byte
	ackbuf []byte

	state   atomic.Int32
	started atomic.Bool
	wg      sync.WaitGroup

	ctr rxCounters
}

type rxCounters struct {
	packetsReceived  atomic.Uint64
	obsoletePackets  atomic.Uint64
	badDatagrams     atomic.Uint64
	badRecords       atomic.Uint64
	acksSent         atomic.Uint64
	blocksCompleted  atomic.Uint64
	symbolsExtracted atomic.Uint64
	recordsDelivered atomic.Uint64
	pendingPackets   atomic.Int64
	openDecoders     atomic.Int64
	queuedRecords    atomic.Int64
	expectedBlockID  atomic.Uint64
}

// RxStats is a point-in-time snapshot of the receiving endpoint.
type RxStats struct {
	PacketsReceived  uint64
	ObsoletePackets  uint64
	BadDatagrams     uint64
	BadRecords       uint64
	AcksSent         uint64
	BlocksCompleted  uint64
	SymbolsExtracted uint64
	RecordsDelivered uint64
	PendingPackets   int64
	OpenDecoders     int64
	QueuedRecords    int64
	ExpectedBlockID  uint64
}

// NewReceiver creates a receiving endpoint. Packets arrive on data; acks
// leave on signal, or back over data when signal is nil (single-socket
// deployments).
func NewReceiver(cfg Config, factory codec.Factory, data, signal golrtp.Channel) (*Receiver, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if data == nil || factory == nil {
		return nil, golrtp.ErrIllegalArgument
	}
	if factory.MaxSymbols() != cfg.MaxSymbols || factory.SymbolSize() != cfg.SymbolSize {
		return nil, fmt.Errorf("%w: codec factory geometry does not match config", golrtp.ErrIllegalArgument)
	}
	if signal == nil {
		signal = data
	}
	layout := wire.Layout{WithESI: cfg.WithESI, PayloadSize: factory.MaxPayloadSize()}
	r := &Receiver{
		cfg:      cfg,
		layout:   layout,
		factory:  factory,
		data:     data,
		signal:   signal,
		symbols:  fifo.NewRing(),
		delivery: fifo.NewRing(),
		rcvbuf:   make([]byte, layout.PacketSize()+1), // +1 catches oversize
		ackbuf:   make([]byte, layout.AckSize()),
	}
	return r, nil
}

// Process runs one tick of the receiving pipeline: drain the socket, feed
// decoders and ack every packet, extract in-order symbols from the head
// generation, then reassemble records.
func (r *Receiver) Process() error {
	if err := r.intake(); err != nil {
		return err
	}
	r.dispatch()
	r.extract()
	err := r.reassemble()
	r.publishGauges()
	return err
}

// intake drains arriving datagrams under a wall-clock budget. Packets for
// generations already delivered only elicit a full-rank ack so the sender
// can retire; everything else is copied into the pending list, which stays
// sorted by (block id, esi) with ties in arrival order.
func (r *Receiver) intake() error {
	start := time.Now()
	for time.Since(start) <= intakeBudget {
		n, err := r.data.Recv(r.rcvbuf)
		if err != nil {
			if err != golrtp.ErrNoData && err != golrtp.ErrChannelClosed {
				log.Warnf("[RX] intake recv: %v", err)
			}
			return nil
		}
		if n != r.layout.PacketSize() {
			r.ctr.badDatagrams.Add(1)
			if r.cfg.Strict {
				return fmt.Errorf("%w: got %v, want %v", golrtp.ErrDatagramSize, n, r.layout.PacketSize())
			}
			continue
		}
		var pkt wire.Packet
		if err := r.layout.UnmarshalPacket(r.rcvbuf[:n], &pkt); err != nil {
			r.ctr.badDatagrams.Add(1)
			continue
		}
		r.ctr.packetsReceived.Add(1)

		if pkt.BlockID < r.expectedBlockID {
			r.ctr.obsoletePackets.Add(1)
			r.sendAck(pkt.BlockID, pkt.ESI, uint32(r.cfg.MaxSymbols))
			continue
		}

		cp := pendingPacket{
			blockID: pkt.BlockID,
			esi:     pkt.ESI,
			payload: append([]byte(nil), pkt.Payload...),
		}
		r.prunePending()
		r.insertPending(cp)
	}
	return nil
}

// prunePending drops entries made obsolete by an advanced expected block id.
func (r *Receiver) prunePending() {
	i := 0
	for i < len(r.pending) && r.pending[i].blockID < r.expectedBlockID {
		i++
	}
	if i > 0 {
		r.pending = append(r.pending[:0], r.pending[i:]...)
	}
}

// insertPending places the packet near the tail, keeping the list
// non-decreasing by (block id, esi).
func (r *Receiver) insertPending(cp pendingPacket) {
	pos := len(r.pending)
	for pos > 0 && r.keyGreater(r.pending[pos-1], cp) {
		pos--
	}
	r.pending = append(r.pending, pendingPacket{})
	copy(r.pending[pos+1:], r.pending[pos:])
	r.pending[pos] = cp
}

func (r *Receiver) keyGreater(a, b pendingPacket) bool {
	if a.blockID != b.blockID {
		return a.blockID > b.blockID
	}
	if !r.cfg.WithESI {
		return false
	}
	return a.esi > b.esi
}

// dispatch detaches runs of same-generation packets from the head of the
// pending list, feeds them to that generation's decoder (allocated on first
// contact, in sorted position) and acks every packet with the decoder's
// current rank. The ack goes out even when the decoder is already complete;
// the sender needs it to measure delivery and retire.
func (r *Receiver) dispatch() {
	for len(r.pending) > 0 {
		id := r.pending[0].blockID
		n := 1
		for n < len(r.pending) && r.pending[n].blockID == id {
			n++
		}
		slot := r.decoderFor(id)
		for i := 0; i < n; i++ {
			pkt := &r.pending[i]
			if !slot.dec.IsComplete() {
				if err := slot.dec.ReadPayload(pkt.payload); err != nil {
					log.Warnf("[RX] dec[%v] payload: %v", id, err)
				}
			}
			r.sendAck(id, pkt.esi, uint32(slot.dec.Rank()))
			pkt.payload = nil
		}
		r.pending = append(r.pending[:0], r.pending[n:]...)
	}
}

// decoderFor finds the slot for a generation or allocates it in sorted
// position.
func (r *Receiver) decoderFor(id uint32) *decoderSlot {
	pos := sort.Search(len(r.decoders), func(i int) bool {
		return r.decoders[i].id >= id
	})
	if pos < len(r.decoders) && r.decoders[pos].id == id {
		return r.decoders[pos]
	}
	slot := &decoderSlot{
		id:    id,
		dec:   r.factory.NewDecoder(),
		block: make([]byte, r.cfg.MaxSymbols*r.cfg.SymbolSize),
	}
	if err := slot.dec.SetMutableBlock(slot.block); err != nil {
		log.Errorf("[RX] dec[%v] block: %v", id, err)
	}
	r.decoders = append(r.decoders, nil)
	copy(r.decoders[pos+1:], r.decoders[pos:])
	r.decoders[pos] = slot
	log.Debugf("[RX] dec[%v] init, total %v", id, len(r.decoders))
	return slot
}

// extract copies newly decoded symbols, in index order only and from the
// head generation only, into the symbol queue. Completing the generation
// advances the expected ids and frees the slot.
func (r *Receiver) extract() {
	if len(r.decoders) == 0 {
		return
	}
	slot := r.decoders[0]
	if slot.id != r.expectedBlockID {
		return
	}
	for slot.dec.IsSymbolUncoded(r.expectedSymbolID) {
		sym := make([]byte, r.cfg.SymbolSize)
		copy(sym, slot.block[r.expectedSymbolID*r.cfg.SymbolSize:])
		r.symbols.Push(sym)
		r.ctr.symbolsExtracted.Add(1)
		r.expectedSymbolID++

		if r.expectedSymbolID == r.cfg.MaxSymbols {
			r.expectedSymbolID = 0
			r.expectedBlockID++
			copy(r.decoders, r.decoders[1:])
			r.decoders[len(r.decoders)-1] = nil
			r.decoders = r.decoders[:len(r.decoders)-1]
			r.ctr.blocksCompleted.Add(1)
			log.Debugf("[RX] dec[%v] done, expecting %v", slot.id, r.expectedBlockID)
			break
		}
	}
}

// reassemble walks queued symbols, opening a record at each length prefix
// and copying across symbol boundaries until the record fills. A zero prefix
// ends the scan of a symbol (trailing padding). The cursor lives on the
// receiver so a record can stay open across ticks.
func (r *Receiver) reassemble() error {
	r.muDeliver.Lock()
	defer r.muDeliver.Unlock()

	for !r.symbols.Empty() {
		sym := r.symbols.Pop()
		src := 0
		for len(sym)-src >= recordLenSize {
			if r.openRec == nil {
				recLen := int(binary.LittleEndian.Uint16(sym[src:]))
				if recLen == 0 {
					break
				}
				if recLen < recordLenSize+1 || (r.cfg.IntendedLen != 0 && recLen != r.cfg.IntendedLen) {
					r.ctr.badRecords.Add(1)
					if r.cfg.Strict {
						return fmt.Errorf("%w: prefix %v", golrtp.ErrRecordLength, recLen)
					}
					log.Warnf("[RX] dropping symbol with record length %v", recLen)
					break
				}
				r.openRec = make([]byte, recLen)
				r.openOff = 0
			}
			n := copy(r.openRec[r.openOff:], sym[src:])
			src += n
			r.openOff += n
			if r.openOff == len(r.openRec) {
				r.delivery.Push(r.openRec)
				r.ctr.queuedRecords.Add(1)
				r.openRec = nil
				r.openOff = 0
			}
		}
	}
	return nil
}

// Deliver pops the oldest reassembled record into buf and returns its
// payload length, zero when nothing is ready. The caller's buffer must hold
// the whole record payload.
func (r *Receiver) Deliver(buf []byte) (int, error) {
	r.muDeliver.Lock()
	defer r.muDeliver.Unlock()
	rec := r.delivery.Peek()
	if rec == nil {
		return 0, nil
	}
	payload := rec[recordLenSize:]
	if len(buf) < len(payload) {
		return 0, fmt.Errorf("%w: record payload is %v bytes", golrtp.ErrIllegalArgument, len(payload))
	}
	r.delivery.Pop()
	r.ctr.queuedRecords.Add(-1)
	r.ctr.recordsDelivered.Add(1)
	return copy(buf, payload), nil
}

func (r *Receiver) sendAck(id, esi, rank uint32) {
	ack := wire.Ack{BlockID: id, ESI: esi, Rank: rank}
	n, err := r.layout.MarshalAck(r.ackbuf, &ack)
	if err != nil {
		log.Errorf("[RX] ack marshal: %v", err)
		return
	}
	if err := r.signal.Send(r.ackbuf[:n]); err != nil {
		log.Warnf("[RX] ack send: %v", err)
		return
	}
	r.ctr.acksSent.Add(1)
}

func (r *Receiver) publishGauges() {
	r.ctr.pendingPackets.Store(int64(len(r.pending)))
	r.ctr.openDecoders.Store(int64(len(r.decoders)))
	r.ctr.expectedBlockID.Store(uint64(r.expectedBlockID))
}

// Stats returns a snapshot of the endpoint counters. Safe to call from any
// goroutine.
func (r *Receiver) Stats() RxStats {
	return RxStats{
		PacketsReceived:  r.ctr.packetsReceived.Load(),
		ObsoletePackets:  r.ctr.obsoletePackets.Load(),
		BadDatagrams:     r.ctr.badDatagrams.Load(),
		BadRecords:       r.ctr.badRecords.Load(),
		AcksSent:         r.ctr.acksSent.Load(),
		BlocksCompleted:  r.ctr.blocksCompleted.Load(),
		SymbolsExtracted: r.ctr.symbolsExtracted.Load(),
		RecordsDelivered: r.ctr.recordsDelivered.Load(),
		PendingPackets:   r.ctr.pendingPackets.Load(),
		OpenDecoders:     r.ctr.openDecoders.Load(),
		QueuedRecords:    r.ctr.queuedRecords.Load(),
		ExpectedBlockID:  r.ctr.expectedBlockID.Load(),
	}
}

// Start spawns the background worker that ticks Process until Stop. In this
// mode only Deliver and Stats may be called from other goroutines.
func (r *Receiver) Start() error {
	if r.state.Load() == int32(golrtp.StateReleased) {
		return golrtp.ErrReleased
	}
	if !r.started.CompareAndSwap(false, true) {
		return golrtp.ErrIllegalArgument
	}
	r.wg.Add(1)
	go r.run()
	return nil
}

func (r *Receiver) run() {
	defer r.wg.Done()
	for {
		if err := r.Process(); err != nil {
			log.Errorf("[RX] process: %v", err)
		}
		time.Sleep(r.cfg.TickInterval)
		if r.state.Load() == int32(golrtp.StateReleased) {
			return
		}
	}
}

// Stop signals the worker and waits for the tick in flight to finish.
func (r *Receiver) Stop() {
	r.state.Store(int32(golrtp.StateReleased))
	r.wg.Wait()
}
