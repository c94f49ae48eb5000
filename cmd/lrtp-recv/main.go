package main

import (
	"encoding/binary"
	"flag"
	"net/http"
	"time"

	golrtp "github.com/fountaincode/golrtp"
	"github.com/fountaincode/golrtp/pkg/channel"
	_ "github.com/fountaincode/golrtp/pkg/channel/udp"
	"github.com/fountaincode/golrtp/pkg/codec"
	"github.com/fountaincode/golrtp/pkg/config"
	"github.com/fountaincode/golrtp/pkg/stats"
	"github.com/fountaincode/golrtp/pkg/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/xid"
	log "github.com/sirupsen/logrus"
)

const (
	defaultAddr = "0.0.0.0:7777"
	logEvery    = 4096
)

func main() {
	configPath := flag.String("c", "", "endpoint configuration file (ini)")
	addr := flag.String("a", "", "local data bind address, overrides the configuration")
	records := flag.Int("n", 0, "records to expect, 0 to run until interrupted")
	metricsAddr := flag.String("metrics", "", "expose prometheus metrics on this address")
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

	cfg := ep.Transport
	factory, err := codec.NewFactory(pick(cfg.MaxSymbols, 256), pick(cfg.SymbolSize, 1024))
	if err != nil {
		logger.Fatalf("codec: %v", err)
	}
	cfg.MaxSymbols = factory.MaxSymbols()
	cfg.SymbolSize = factory.SymbolSize()

	data, err := channel.Open("udp-listen", ep.DataAddr)
	if err != nil {
		logger.Fatalf("data channel: %v", err)
	}
	defer data.Close()
	var signal golrtp.Channel
	if ep.SignalAddr != "" {
		signal, err = channel.Open("udp", ep.SignalAddr)
		if err != nil {
			logger.Fatalf("signal channel: %v", err)
		}
		defer signal.Close()
	}

	rx, err := transport.NewReceiver(cfg, factory, data, signal)
	if err != nil {
		logger.Fatalf("receiver: %v", err)
	}
	if err := rx.Start(); err != nil {
		logger.Fatalf("start: %v", err)
	}
	defer rx.Stop()

	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(stats.NewRxCollector(rx, session))
		go func() {
			logger.Infof("metrics on http://%v/metrics", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})); err != nil {
				logger.Errorf("metrics server: %v", err)
			}
		}()
	}
	logger.Infof("listening on %v", ep.DataAddr)

	buf := make([]byte, 0x10000)
	var next uint32
	var delaySum time.Duration
	var delayCnt int
	for *records == 0 || int(next) < *records {
		n, err := rx.Deliver(buf)
		if err != nil {
			logger.Fatalf("deliver: %v", err)
		}
		if n == 0 {
			time.Sleep(200 * time.Microsecond)
			continue
		}
		seq := binary.LittleEndian.Uint32(buf)
		if seq != next {
			logger.Fatalf("out of order: got %v, expected %v", seq, next)
		}
		if n >= 12 {
			sent := time.UnixMicro(int64(binary.LittleEndian.Uint64(buf[4:])))
			delaySum += time.Since(sent)
			delayCnt++
		}
		pattern := byte('a' + (seq*3/2)%26)
		for i := 12; i < n; i++ {
			if buf[i] != pattern {
				logger.Fatalf("record %v corrupted at byte %v", seq, i)
			}
		}
		next++
		if next%logEvery == 0 && delayCnt > 0 {
			logger.Infof("%v records, mean delay %v", next, (delaySum / time.Duration(delayCnt)).Round(time.Microsecond))
			delaySum, delayCnt = 0, 0
		}
	}

	s := rx.Stats()
	logger.Infof("done: %v records, %v packets (%v obsolete), %v acks, %v generations",
		s.RecordsDelivered, s.PacketsReceived, s.ObsoletePackets, s.AcksSent, s.BlocksCompleted)
}

func pick(v, fallback int) int {
	if v != 0 {
		return v
	}
	return fallback
}
