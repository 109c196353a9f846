// Package relay implements the classroom relay: session registry,
// frame pipeline, lock machine, remote-control routing, and file
// transfer coordination over a single websocket control channel plus a
// UDP video channel.
package relay

import (
	"context"
	"net/http"

	"github.com/lanclass/relay/pkg/com"
	"github.com/lanclass/relay/pkg/config"
	"github.com/lanclass/relay/pkg/logger"
	"github.com/lanclass/relay/pkg/network/httpx"
	"github.com/lanclass/relay/pkg/service"
)

// Hub owns the shared state behind every connection handler.
type Hub struct {
	conf      config.Relay
	connector *com.Connector
	registry  *Registry
	frames    *FrameRelay
	locks     *LockMachine
	control   *ControlRouter
	transfers *TransferHub
	log       *logger.Logger
}

func NewHub(conf config.Relay, log *logger.Logger) *Hub {
	registry := NewRegistry(log)
	return &Hub{
		conf:      conf,
		connector: com.NewConnector(com.WithOrigin(conf.Server.Origin), com.WithTag("relay")),
		registry:  registry,
		frames:    NewFrameRelay(registry, log),
		locks:     NewLockMachine(registry, log),
		control:   NewControlRouter(registry, log),
		transfers: NewTransferHub(registry, log),
		log:       log,
	}
}

// Relay bundles the control server, the datagram server, and the frame
// reassembler into one runnable service.
type Relay struct {
	hub         *Hub
	server      *httpx.Server
	datagram    *DatagramServer
	reassembler *Reassembler
	log         *logger.Logger
}

func New(conf config.Config, log *logger.Logger) (*Relay, error) {
	hub := NewHub(conf.Relay, log)
	reassembler := NewReassembler(conf.Relay.Datagram.BufferTTL, hub.frames.RelayDatagramFrame, log)

	options := []httpx.Option{httpx.WithLogger(log)}
	if conf.Relay.Server.Https {
		tls := conf.Relay.Server.Tls
		options = append(options, httpx.WithTLS(tls.HttpsCert, tls.HttpsKey, tls.Domain))
	}
	server, err := httpx.NewServer(
		conf.Relay.Server.GetAddr(),
		func(*httpx.Server) http.Handler {
			mux := http.NewServeMux()
			mux.HandleFunc("/ws", hub.handleConnection)
			return mux
		},
		options...,
	)
	if err != nil {
		return nil, err
	}

	return &Relay{
		hub:         hub,
		server:      server,
		datagram:    NewDatagramServer(conf.Relay, reassembler.Feed, log),
		reassembler: reassembler,
		log:         log,
	}, nil
}

func (r *Relay) Run() {
	r.reassembler.Run()
	r.server.Run()
	r.datagram.Run()
}

func (r *Relay) Shutdown(ctx context.Context) error {
	r.reassembler.Stop()
	var group service.Group
	group.Add(r.datagram, r.server)
	return group.Shutdown(ctx)
}

func (r *Relay) String() string { return "relay" }
