package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/spf13/pflag"
)

type (
	Config struct {
		Relay Relay
	}
	Relay struct {
		Debug bool
		// Token, when set, gates register packets; participants with a
		// mismatched token are disconnected before a session exists.
		Token      string
		Server     Server
		Datagram   Datagram
		Monitoring Monitoring
	}
	Server struct {
		Address string `fig:"address" default:":8000"`
		Origin  string `fig:"origin" default:"*"`
		Https   bool
		Tls     Tls
	}
	Tls struct {
		Address string `fig:"address" default:":443"`
		// HttpsDomain enables autocert when no explicit cert/key is given
		Domain    string
		HttpsCert string
		HttpsKey  string
	}
	Datagram struct {
		// the datagram port is the control port shifted by this offset
		PortOffset int           `fig:"portoffset" default:"1"`
		BufferTTL  time.Duration `fig:"bufferttl" default:"3s"`
		MaxSize    int           `fig:"maxsize" default:"1400"`
	}
	Monitoring struct {
		Port             int    `fig:"port" default:"6601"`
		URLPrefix        string `fig:"urlprefix" default:"/relay"`
		MetricEnabled    bool
		ProfilingEnabled bool
	}
)

func NewConfig(path string) (conf Config, err error) {
	err = LoadConfig(&conf, path)
	if err != nil && IsNotFound(err) {
		// no file is fine on a bare install, env + flags still apply
		err = LoadConfigEnv(&conf)
	}
	return
}

func (c *Config) AddFlags(fs *pflag.FlagSet) *Config {
	fs.BoolVarP(&c.Relay.Debug, "debug", "v", c.Relay.Debug, "Enable debug logging")
	fs.StringVarP(&c.Relay.Server.Address, "address", "a", c.Relay.Server.Address, "Control channel listen address")
	fs.StringVarP(&c.Relay.Token, "token", "t", c.Relay.Token, "Shared registration token (empty disables the check)")
	fs.IntVarP(&c.Relay.Datagram.PortOffset, "udpOffset", "", c.Relay.Datagram.PortOffset, "Datagram port offset from the control port")
	fs.BoolVarP(&c.Relay.Monitoring.MetricEnabled, "monitoring.metric", "m", c.Relay.Monitoring.MetricEnabled, "Enable the metrics server")
	return c
}

func (m Monitoring) IsEnabled() bool { return m.MetricEnabled || m.ProfilingEnabled }

// GetAddr returns the control server bind address.
func (s Server) GetAddr() string {
	if s.Https {
		return s.Tls.Address
	}
	return s.Address
}

// DatagramAddr derives the datagram bind address from the control address
// and the configured port offset.
func (r Relay) DatagramAddr() (string, error) {
	host, port, err := net.SplitHostPort(r.Server.GetAddr())
	if err != nil {
		return "", err
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return "", fmt.Errorf("control port is not numeric: %v", err)
	}
	return net.JoinHostPort(host, strconv.Itoa(p+r.Datagram.PortOffset)), nil
}
