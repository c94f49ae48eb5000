// lrtp-file streams a file over the transport, gzip-compressed on the fly.
// The stream travels as variable-length records: a leading marker byte
// distinguishes data chunks from the end-of-stream record.
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"os"
	"time"

	"github.com/fountaincode/golrtp/pkg/channel"
	_ "github.com/fountaincode/golrtp/pkg/channel/udp"
	"github.com/fountaincode/golrtp/pkg/codec"
	"github.com/fountaincode/golrtp/pkg/transport"
	"github.com/klauspost/pgzip"
	log "github.com/sirupsen/logrus"
)

const (
	chunkSize = 1400

	markerData byte = 0x00
	markerEOF  byte = 0x01
)

func main() {
	sendPath := flag.String("send", "", "file to send")
	recvPath := flag.String("recv", "", "file to write")
	to := flag.String("to", "127.0.0.1:7777", "peer address (send mode)")
	listen := flag.String("listen", "0.0.0.0:7777", "bind address (recv mode)")
	symbols := flag.Int("k", 64, "symbols per generation")
	symbolSize := flag.Int("s", 1024, "symbol size")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}
	if (*sendPath == "") == (*recvPath == "") {
		log.Fatal("exactly one of -send or -recv is required")
	}

	cfg := transport.Config{
		MaxSymbols:  *symbols,
		SymbolSize:  *symbolSize,
		WithESI:     true,
		EncoderRate: 2000,
	}
	factory, err := codec.NewFactory(cfg.MaxSymbols, cfg.SymbolSize)
	if err != nil {
		log.Fatalf("codec: %v", err)
	}

	if *sendPath != "" {
		send(cfg, factory, *sendPath, *to)
	} else {
		recv(cfg, factory, *recvPath, *listen)
	}
}

func send(cfg transport.Config, factory codec.Factory, path, to string) {
	file, err := os.Open(path)
	if err != nil {
		log.Fatalf("open: %v", err)
	}
	defer file.Close()

	ch, err := channel.Open("udp", to)
	if err != nil {
		log.Fatalf("channel: %v", err)
	}
	defer ch.Close()
	tx, err := transport.NewTransmitter(cfg, factory, ch)
	if err != nil {
		log.Fatalf("transmitter: %v", err)
	}
	if err := tx.Start(); err != nil {
		log.Fatalf("start: %v", err)
	}

	// Compress into a pipe and stripe the compressed stream into records
	pr, pw := io.Pipe()
	go func() {
		gz := pgzip.NewWriter(pw)
		_, err := io.Copy(gz, file)
		if err == nil {
			err = gz.Close()
		}
		pw.CloseWithError(err)
	}()

	rec := make([]byte, 1+chunkSize)
	rec[0] = markerData
	var total int64
	start := time.Now()
	for {
		n, err := pr.Read(rec[1:])
		if n > 0 {
			total += int64(n)
			if err := tx.Submit(rec[:1+n]); err != nil {
				log.Fatalf("submit: %v", err)
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Fatalf("compress: %v", err)
		}
	}
	if err := tx.Submit([]byte{markerEOF}); err != nil {
		log.Fatalf("submit eof: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	if err := tx.Flush(ctx); err != nil {
		log.Fatalf("flush: %v", err)
	}
	tx.Stop()
	log.Infof("sent %v compressed bytes in %v", total, time.Since(start).Round(time.Millisecond))
}

func recv(cfg transport.Config, factory codec.Factory, path, listen string) {
	out, err := os.Create(path)
	if err != nil {
		log.Fatalf("create: %v", err)
	}
	defer out.Close()

	data, err := channel.Open("udp-listen", listen)
	if err != nil {
		log.Fatalf("channel: %v", err)
	}
	defer data.Close()
	rx, err := transport.NewReceiver(cfg, factory, data, nil)
	if err != nil {
		log.Fatalf("receiver: %v", err)
	}
	if err := rx.Start(); err != nil {
		log.Fatalf("start: %v", err)
	}
	defer rx.Stop()

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		gz, err := pgzip.NewReader(pr)
		if err != nil {
			done <- err
			return
		}
		_, err = io.Copy(out, gz)
		done <- err
	}()

	buf := make([]byte, 1+chunkSize)
	for {
		n, err := rx.Deliver(buf)
		if err != nil {
			log.Fatalf("deliver: %v", err)
		}
		if n == 0 {
			time.Sleep(200 * time.Microsecond)
			continue
		}
		if buf[0] == markerEOF {
			pw.Close()
			break
		}
		if _, err := pw.Write(buf[1:n]); err != nil {
			log.Fatalf("decompress: %v", err)
		}
	}
	if err := <-done; err != nil {
		log.Fatalf("write: %v", err)
	}
	log.Infof("wrote %v", path)
}
