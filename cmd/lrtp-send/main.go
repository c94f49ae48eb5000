package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/fountaincode/golrtp/pkg/channel"
	_ "github.com/fountaincode/golrtp/pkg/channel/udp"
	"github.com/fountaincode/golrtp/pkg/codec"
	"github.com/fountaincode/golrtp/pkg/config"
	"github.com/fountaincode/golrtp/pkg/transport"
	"github.com/rs/xid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	defaultAddr       = "127.0.0.1:7777"
	defaultRecords    = 65536
	defaultRecordSize = 1498
	defaultRate       = 2000.0 // records per second
)

func main() {
	configPath := flag.String("c", "", "endpoint configuration file (ini)")
	scenarioPath := flag.String("scenario", "", "traffic scenario file (yaml)")
	addr := flag.String("a", "", "peer data address, overrides the configuration")
	records := flag.Int("n", defaultRecords, "records to submit")
	recordSize := flag.Int("s", defaultRecordSize, "record payload size")
	submitRate := flag.Float64("r", defaultRate, "submission rate in records/s, 0 for unlimited")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}
	session := xid.New().String()
	logger := log.WithField("session", session)

	ep := &config.Endpoint{DataAddr: defaultAddr}
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logger.Fatalf("configuration: %v", err)
		}
		ep = loaded
		if level, err := log.ParseLevel(ep.LogLevel); err == nil && !*verbose {
			log.SetLevel(level)
		}
	}
	if *addr != "" {
		ep.DataAddr = *addr
	}
	if *scenarioPath != "" {
		scenario, err := config.LoadScenario(*scenarioPath)
		if err != nil {
			logger.Fatalf("scenario: %v", err)
		}
		*records = scenario.Records
		*recordSize = scenario.RecordSize
		*submitRate = scenario.SubmitRate
	}
	if *recordSize < 12 {
		logger.Fatalf("record payload must hold a sequence number and timestamp, got %v bytes", *recordSize)
	}
	if ep.Transport.IntendedLen != 0 && *recordSize != ep.Transport.IntendedLen-2 {
		logger.Fatalf("record payload %v does not match intended length %v", *recordSize, ep.Transport.IntendedLen)
	}

	cfg := ep.Transport
	factory, err := codec.NewFactory(pick(cfg.MaxSymbols, 256), pick(cfg.SymbolSize, 1024))
	if err != nil {
		logger.Fatalf("codec: %v", err)
	}
	cfg.MaxSymbols = factory.MaxSymbols()
	cfg.SymbolSize = factory.SymbolSize()

	ch, err := channel.Open("udp", ep.DataAddr)
	if err != nil {
		logger.Fatalf("channel: %v", err)
	}
	defer ch.Close()

	tx, err := transport.NewTransmitter(cfg, factory, ch)
	if err != nil {
		logger.Fatalf("transmitter: %v", err)
	}
	if err := tx.Start(); err != nil {
		logger.Fatalf("start: %v", err)
	}
	logger.Infof("sending %v records of %v bytes to %v", *records, *recordSize, ep.DataAddr)

	var limiter *rate.Limiter
	if *submitRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(*submitRate), 64)
	}
	ctx := context.Background()
	buf := make([]byte, *recordSize)
	start := time.Now()
	for seq := 0; seq < *records; seq++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				logger.Fatalf("limiter: %v", err)
			}
		}
		fillRecord(buf, uint32(seq))
		if err := tx.Submit(buf); err != nil {
			logger.Fatalf("submit %v: %v", seq, err)
		}
	}

	flushCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	if err := tx.Flush(flushCtx); err != nil {
		logger.Fatalf("flush: %v", err)
	}
	tx.Stop()

	s := tx.Stats()
	elapsed := time.Since(start)
	logger.Infof("done in %v: %v packets (%v repair), %v acks, %v generations, loss estimate %.3f",
		elapsed.Round(time.Millisecond), s.PacketsSent, s.RepairSent, s.AcksReceived, s.SlotsRetired, s.LossRate)
	fmt.Printf("%v records in %v (%.1f rec/s)\n", *records, elapsed.Round(time.Millisecond),
		float64(*records)/elapsed.Seconds())
	os.Exit(0)
}

// fillRecord lays out seq, a submit timestamp and a per-record pattern the
// receiver can verify.
func fillRecord(buf []byte, seq uint32) {
	binary.LittleEndian.PutUint32(buf, seq)
	if len(buf) >= 12 {
		binary.LittleEndian.PutUint64(buf[4:], uint64(time.Now().UnixMicro()))
	}
	pattern := byte('a' + (seq*3/2)%26)
	for i := 12; i < len(buf); i++ {
		buf[i] = pattern
	}
}

func pick(v, fallback int) int {
	if v != 0 {
		return v
	}
	return fallback
}
