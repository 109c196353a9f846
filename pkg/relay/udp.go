package relay

import (
	"context"
	"net"
	"sync"

	"github.com/lanclass/relay/pkg/config"
	"github.com/lanclass/relay/pkg/logger"
)

// DatagramServer reads video datagrams off a UDP socket and feeds them
// to the reassembler. It binds the control port shifted by the
// configured offset so one address setting covers both channels.
type DatagramServer struct {
	conf config.Relay
	feed func(src string, dgram []byte)
	log  *logger.Logger

	conn *net.UDPConn
	done chan struct{}
	once sync.Once
}

func NewDatagramServer(conf config.Relay, feed func(src string, dgram []byte), log *logger.Logger) *DatagramServer {
	return &DatagramServer{
		conf: conf,
		feed: feed,
		log:  log,
		done: make(chan struct{}),
	}
}

func (d *DatagramServer) Run() {
	address, err := d.conf.DatagramAddr()
	if err != nil {
		d.log.Error().Err(err).Msg("datagram address")
		return
	}
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		d.log.Error().Err(err).Msg("datagram address")
		return
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		d.log.Error().Err(err).Msgf("datagram listen on %v", address)
		return
	}
	d.conn = conn
	d.log.Info().Msgf("Datagram server is listening on %v", address)

	go func() {
		// headroom over the advertised max so oversized datagrams are
		// read whole and counted, not silently truncated
		buf := make([]byte, d.conf.Datagram.MaxSize+headerLen+512)
		for {
			n, src, err := conn.ReadFromUDP(buf)
			if err != nil {
				select {
				case <-d.done:
					return
				default:
				}
				d.log.Error().Err(err).Msg("datagram read")
				continue
			}
			dgram := make([]byte, n)
			copy(dgram, buf[:n])
			d.feed(src.String(), dgram)
		}
	}()
}

func (d *DatagramServer) Shutdown(context.Context) error {
	var err error
	d.once.Do(func() {
		close(d.done)
		if d.conn != nil {
			err = d.conn.Close()
		}
	})
	return err
}

func (d *DatagramServer) String() string { return "datagram" }
