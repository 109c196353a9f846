package httpx

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"golang.org/x/crypto/acme/autocert"

	"github.com/lanclass/relay/pkg/logger"
)

type Server struct {
	http.Server

	autoCert *autocert.Manager
	opts     Options
	log      *logger.Logger
}

func NewServer(address string, handler func(*Server) http.Handler, options ...Option) (*Server, error) {
	opts := &Options{
		IdleTimeout:  120 * time.Second,
		ReadTimeout:  500 * time.Second,
		WriteTimeout: 500 * time.Second,
	}
	opts.override(options...)
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}

	server := &Server{
		Server: http.Server{
			Addr:         address,
			IdleTimeout:  opts.IdleTimeout,
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
		},
		opts: *opts,
		log:  opts.Logger,
	}
	server.Handler = handler(server)

	if opts.Https && opts.IsAutoHttpsCert() {
		server.autoCert = &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(opts.HttpsDomain),
		}
		server.TLSConfig = server.autoCert.TLSConfig()
	} else if opts.Https {
		server.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	opts.Logger.Info().Msgf("httpx %v", server.Addr)
	return server, nil
}

func (s *Server) Run() { go s.run() }

func (s *Server) run() {
	protocol := s.GetProtocol()
	s.log.Debug().Msgf("Starting %s server on %s", protocol, s.Addr)

	var err error
	if s.opts.Https {
		err = s.ListenAndServeTLS(s.opts.HttpsCert, s.opts.HttpsKey)
	} else {
		err = s.ListenAndServe()
	}
	switch err {
	case http.ErrServerClosed:
		s.log.Debug().Msgf("%s server was closed", protocol)
	default:
		s.log.Error().Err(err).Msgf("%s server failed", protocol)
	}
}

func (s *Server) Shutdown(ctx context.Context) error { return s.Server.Shutdown(ctx) }

func (s *Server) GetProtocol() string {
	if s.opts.Https {
		return "https"
	}
	return "http"
}

func (s *Server) String() string { return s.GetProtocol() + "::" + s.Addr }
