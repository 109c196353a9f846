package httpx

import (
	"time"

	"github.com/lanclass/relay/pkg/logger"
)

type Options struct {
	Https       bool
	HttpsCert   string
	HttpsKey    string
	HttpsDomain string

	IdleTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	Logger *logger.Logger
}

type Option func(*Options)

func (o *Options) override(options ...Option) {
	for _, opt := range options {
		opt(o)
	}
}

// IsAutoHttpsCert says whether to use autocert instead of explicit files.
func (o *Options) IsAutoHttpsCert() bool {
	return o.HttpsDomain != "" && o.HttpsCert == "" && o.HttpsKey == ""
}

func WithLogger(log *logger.Logger) Option { return func(o *Options) { o.Logger = log } }

func WithTLS(cert, key, domain string) Option {
	return func(o *Options) {
		o.Https = true
		o.HttpsCert = cert
		o.HttpsKey = key
		o.HttpsDomain = domain
	}
}
