package main

import (
	"context"

	flag "github.com/spf13/pflag"

	"github.com/lanclass/relay/pkg/config"
	"github.com/lanclass/relay/pkg/logger"
	"github.com/lanclass/relay/pkg/monitoring"
	"github.com/lanclass/relay/pkg/os"
	"github.com/lanclass/relay/pkg/relay"
	"github.com/lanclass/relay/pkg/service"
)

var Version = "?"

func main() {
	conf, err := config.NewConfig("")
	if err != nil {
		logger.Default().Fatal().Err(err).Msg("config load failed")
	}
	conf.AddFlags(flag.CommandLine)
	flag.Parse()

	log := logger.NewConsole(conf.Relay.Debug, "r", false)
	log.Info().Msgf("version %s", Version)
	if log.GetLevel() < logger.InfoLevel {
		log.Debug().Msgf("config: %+v", conf)
	}

	lock, err := os.NewFileLock("")
	if err != nil {
		log.Fatal().Err(err).Msg("instance lock init failed")
	}
	if err := lock.Lock(); err != nil {
		log.Fatal().Err(err).Msg("another relay instance is running")
	}
	defer func() { _ = lock.Unlock() }()

	r, err := relay.New(conf, log)
	if err != nil {
		log.Fatal().Err(err).Msg("relay init failed")
	}

	var services service.Group
	services.Add(r)
	if conf.Relay.Monitoring.IsEnabled() {
		services.Add(monitoring.New(conf.Relay.Monitoring, "r", log))
	}
	services.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		if err := services.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("service shutdown errors")
		}
	}()
	<-os.ExpectTermination()
	cancel()
}
