// Command meshttpd is the node daemon: it wires config, radio, modem,
// packet, reliability, mesh, content and transport together, the same
// top-level-entrypoint role cmd/direwolf/main.go plays.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kc0wav/meshttp/config"
	"github.com/kc0wav/meshttp/mesh"
	"github.com/kc0wav/meshttp/modem"
	"github.com/kc0wav/meshttp/radio"
	"github.com/kc0wav/meshttp/store"
	"github.com/kc0wav/meshttp/telemetry"
	"github.com/kc0wav/meshttp/transport"
)

func main() {
	cfg, err := config.ParseFlags(config.Default(), "meshttpd", os.Args[1:])
	if err != nil {
		log.Fatal("parsing configuration", "err", err)
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: cfg.Callsign})
	logger.Info("starting node", "callsign", cfg.Callsign, "radio", cfg.RadioAddr)

	fec, err := modem.NewFEC(cfg.RSDataShards, cfg.RSParityShards)
	if err != nil {
		logger.Fatal("building FEC codec", "err", err)
	}
	mdm := modem.New(fec)

	node := transport.NewNode(mesh.Callsign(cfg.Callsign), mdm)
	defer node.Close()

	table := mesh.NewTable()
	node.SetMesh(mesh.NewRouter(mesh.Callsign(cfg.Callsign), table, mesh.ForwardPolicy{}))

	pageCache, err := store.NewFilePageCache(cfg.PageDir)
	if err != nil {
		logger.Fatal("opening page cache", "err", err)
	}
	keyStore, err := store.NewFileKeyStore(cfg.KeyDir)
	if err != nil {
		logger.Fatal("opening key store", "err", err)
	}
	_ = keyStore // available to an on_request handler that wants to serve signed pages

	node.OnRequest(func(req transport.Request, respond func(transport.Response)) {
		blob, meta, ok, err := pageCache.Get(req.Path)
		if err != nil || !ok {
			respond(transport.Response{Status: 404, Body: []byte("not found")})
			return
		}
		respond(transport.Response{
			Status:  200,
			Headers: map[string]string{"Content-Type": meta.ContentType},
			Body:    blob,
		})
	})

	bridge, err := radio.ListenTCPBridge(cfg.RadioAddr, cfg.Callsign)
	if err != nil {
		logger.Fatal("starting radio bridge", "err", err)
	}
	defer bridge.Close()
	if err := node.SetRadio(bridge, ""); err != nil {
		logger.Fatal("attaching radio", "err", err)
	}

	collector := telemetry.NewCollector(node, prometheus.Labels{"callsign": cfg.Callsign})
	prometheus.MustRegister(collector)
	http.Handle("/metrics", promhttp.Handler())

	logger.Info("status/metrics listening", "addr", cfg.StatusAddr)
	if err := http.ListenAndServe(cfg.StatusAddr, nil); err != nil {
		logger.Fatal("status server stopped", "err", err)
	}

	<-context.Background().Done()
	fmt.Println("meshttpd exiting")
}
