package driver

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// LoadConnectOpts reads connection settings from an optional config file and
// from environment variables carrying prefix, e.g. with prefix "REQL_":
//
//	REQL_HOST=db.internal REQL_PORT=28015 REQL_DB=app REQL_AUTH_KEY=secret
//
// Environment variables win over the file. configFile may be empty.
func LoadConnectOpts(prefix, configFile string) (ConnectOpts, error) {
	v := viper.New()
	v.SetDefault("host", DefaultHost)
	v.SetDefault("port", DefaultPort)
	v.SetDefault("db", DefaultDatabase)
	v.SetDefault("timeout", DefaultTimeout)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return ConnectOpts{}, fmt.Errorf("failed to read config file %s: %w", configFile, err)
			}
		}
	}

	prefixUpper := strings.ToUpper(prefix)
	for _, env := range os.Environ() {
		pair := strings.SplitN(env, "=", 2)
		if len(pair) != 2 || !strings.HasPrefix(pair[0], prefixUpper) {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(pair[0], prefixUpper))
		key = strings.TrimPrefix(key, "_")
		v.Set(key, pair[1])
	}

	var opts ConnectOpts
	if err := v.Unmarshal(&opts); err != nil {
		return ConnectOpts{}, fmt.Errorf("failed to unmarshal connection config: %w", err)
	}
	return opts, nil
}
