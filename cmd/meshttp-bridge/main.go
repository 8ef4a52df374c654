// Command meshttp-bridge is a standalone TCP loopback bridge: it lets
// two meshttpd processes on different hosts (or in different test
// containers) exchange baseband samples over a plain TCP socket instead
// of real radio hardware, for multi-process mesh integration testing.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"

	"github.com/kc0wav/meshttp/radio"
)

func main() {
	listen := flag.Bool("listen", false, "listen for an incoming dial instead of dialing out")
	addr := flag.String("addr", ":7373", "TCP address to listen on or dial")
	announce := flag.String("announce", "", "if set and -listen, advertise this bridge over mDNS under this name")
	flag.Parse()

	logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "meshttp-bridge"})

	var bridge *radio.TCPBridge
	if *listen {
		b, err := radio.ListenTCPBridge(*addr, *announce)
		if err != nil {
			logger.Fatal("listening", "addr", *addr, "err", err)
		}
		bridge = b
		logger.Info("listening", "addr", *addr)
	} else {
		bridge = radio.DialTCPBridge(*addr)
		logger.Info("dialing", "addr", *addr)
	}
	defer bridge.Close()

	if err := bridge.StartReceive(func(samples []float32) {
		logger.Debug("received frame", "samples", len(samples))
	}); err != nil {
		logger.Fatal("starting receive", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	logger.Info("shutting down")
}
