package config

import (
	"errors"
	"os"

	"github.com/kkyr/fig"
)

const EnvPrefix = "LANCLASS"

// LoadConfig loads a configuration file into the given struct.
// The path param specifies a custom path to the configuration file.
// Reads and puts environment variables with the prefix LANCLASS_.
// Params from the config should be in uppercase separated with _.
func LoadConfig(config any, path string) error {
	dirs := []string{path}
	if path == "" {
		dirs = append(dirs, ".", "configs")
		if home, err := os.UserHomeDir(); err == nil {
			dirs = append(dirs, home+"/.lanclass")
		}
	}
	return fig.Load(config, fig.File("relay.yaml"), fig.Dirs(dirs...), fig.UseEnv(EnvPrefix))
}

func LoadConfigEnv(config any) error {
	return fig.Load(config, fig.IgnoreFile(), fig.UseEnv(EnvPrefix))
}

// IsNotFound says whether the load failed only because
// there was no configuration file to read.
func IsNotFound(err error) bool { return errors.Is(err, fig.ErrFileNotFound) }
