// Package stats exposes transport endpoint counters as Prometheus metrics.
// Collectors read point-in-time snapshots, never transport internals, so
// scraping is safe in both tick and worker modes.
package stats

import (
	"github.com/fountaincode/golrtp/pkg/transport"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "golrtp"

// TxSource supplies sending-endpoint snapshots, usually *transport.Transmitter.
type TxSource interface {
	Stats() transport.TxStats
}

// RxSource supplies receiving-endpoint snapshots, usually *transport.Receiver.
type RxSource interface {
	Stats() transport.RxStats
}

type txInfo struct {
	desc  *prometheus.Desc
	value func(s transport.TxStats) float64
	kind  prometheus.ValueType
}

// TxCollector is a prometheus.Collector over a sending endpoint.
type TxCollector struct {
	src     TxSource
	session string
	infos   []txInfo
}

func NewTxCollector(src TxSource, session string) *TxCollector {
	counter := func(name, help string, value func(transport.TxStats) float64) txInfo {
		return txInfo{
			desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "tx", name), help, []string{"session"}, nil),
			value: value,
			kind:  prometheus.CounterValue,
		}
	}
	gauge := func(name, help string, value func(transport.TxStats) float64) txInfo {
		i := counter(name, help, value)
		i.kind = prometheus.GaugeValue
		return i
	}
	return &TxCollector{
		src:     src,
		session: session,
		infos: []txInfo{
			counter("records_submitted_total", "Records accepted by Submit", func(s transport.TxStats) float64 { return float64(s.RecordsSubmitted) }),
			counter("symbols_segmented_total", "Symbols closed by the segmenter", func(s transport.TxStats) float64 { return float64(s.SymbolsSegmented) }),
			counter("packets_sent_total", "Coded packets emitted", func(s transport.TxStats) float64 { return float64(s.PacketsSent) }),
			counter("repair_packets_sent_total", "Repair packets emitted", func(s transport.TxStats) float64 { return float64(s.RepairSent) }),
			counter("acks_received_total", "Rank feedback datagrams absorbed", func(s transport.TxStats) float64 { return float64(s.AcksReceived) }),
			counter("generations_retired_total", "Fully acknowledged generations", func(s transport.TxStats) float64 { return float64(s.SlotsRetired) }),
			counter("bad_acks_total", "Malformed feedback datagrams dropped", func(s transport.TxStats) float64 { return float64(s.BadAcks) }),
			gauge("queued_records", "Records awaiting segmentation", func(s transport.TxStats) float64 { return float64(s.QueuedRecords) }),
			gauge("queued_symbols", "Symbols awaiting an encoder", func(s transport.TxStats) float64 { return float64(s.QueuedSymbols) }),
			gauge("open_encoders", "Generations currently in flight", func(s transport.TxStats) float64 { return float64(s.OpenSlots) }),
			gauge("loss_rate", "Estimated channel loss probability", func(s transport.TxStats) float64 { return s.LossRate }),
			gauge("next_block_id", "Next generation id to open", func(s transport.TxStats) float64 { return float64(s.NextBlockID) }),
		},
	}
}

func (c *TxCollector) Describe(descs chan<- *prometheus.Desc) {
	for _, info := range c.infos {
		descs <- info.desc
	}
}

func (c *TxCollector) Collect(metrics chan<- prometheus.Metric) {
	s := c.src.Stats()
	for _, info := range c.infos {
		metrics <- prometheus.MustNewConstMetric(info.desc, info.kind, info.value(s), c.session)
	}
}

type rxInfo struct {
	desc  *prometheus.Desc
	value func(s transport.RxStats) float64
	kind  prometheus.ValueType
}

// RxCollector is a prometheus.Collector over a receiving endpoint.
type RxCollector struct {
	src     RxSource
	session string
	infos   []rxInfo
}

func NewRxCollector(src RxSource, session string) *RxCollector {
	counter := func(name, help string, value func(transport.RxStats) float64) rxInfo {
		return rxInfo{
			desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "rx", name), help, []string{"session"}, nil),
			value: value,
			kind:  prometheus.CounterValue,
		}
	}
	gauge := func(name, help string, value func(transport.RxStats) float64) rxInfo {
		i := counter(name, help, value)
		i.kind = prometheus.GaugeValue
		return i
	}
	return &RxCollector{
		src:     src,
		session: session,
		infos: []rxInfo{
			counter("packets_received_total", "Datagrams accepted by intake", func(s transport.RxStats) float64 { return float64(s.PacketsReceived) }),
			counter("obsolete_packets_total", "Packets for already delivered generations", func(s transport.RxStats) float64 { return float64(s.ObsoletePackets) }),
			counter("bad_datagrams_total", "Datagrams with a wrong size", func(s transport.RxStats) float64 { return float64(s.BadDatagrams) }),
			counter("bad_records_total", "Symbols dropped for malformed record lengths", func(s transport.RxStats) float64 { return float64(s.BadRecords) }),
			counter("acks_sent_total", "Rank feedback datagrams emitted", func(s transport.RxStats) float64 { return float64(s.AcksSent) }),
			counter("generations_completed_total", "Generations fully extracted", func(s transport.RxStats) float64 { return float64(s.BlocksCompleted) }),
			counter("symbols_extracted_total", "Symbols delivered in order", func(s transport.RxStats) float64 { return float64(s.SymbolsExtracted) }),
			counter("records_delivered_total", "Records handed to the application", func(s transport.RxStats) float64 { return float64(s.RecordsDelivered) }),
			gauge("pending_packets", "Packets parked before dispatch", func(s transport.RxStats) float64 { return float64(s.PendingPackets) }),
			gauge("open_decoders", "Generations currently decoding", func(s transport.RxStats) float64 { return float64(s.OpenDecoders) }),
			gauge("queued_records", "Reassembled records awaiting Deliver", func(s transport.RxStats) float64 { return float64(s.QueuedRecords) }),
			gauge("expected_block_id", "Next generation owed to the application", func(s transport.RxStats) float64 { return float64(s.ExpectedBlockID) }),
		},
	}
}

func (c *RxCollector) Describe(descs chan<- *prometheus.Desc) {
	for _, info := range c.infos {
		descs <- info.desc
	}
}

func (c *RxCollector) Collect(metrics chan<- prometheus.Metric) {
	s := c.src.Stats()
	for _, info := range c.infos {
		metrics <- prometheus.MustNewConstMetric(info.desc, info.kind, info.value(s), c.session)
	}
}
