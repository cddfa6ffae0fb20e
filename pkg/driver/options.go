package driver

import (
	"log"
	"net"
	"strconv"
	"time"

	"github.com/adfharrison1/go-reql/pkg/domain"
	"github.com/adfharrison1/go-reql/pkg/proto"
)

const (
	DefaultHost     = "localhost"
	DefaultPort     = 28015
	DefaultDatabase = "test"
	DefaultTimeout  = 20 * time.Second
)

// ConnectOpts configures Connect. Zero values fall back to the defaults
// above; Dialer defaults to the HTTP transport.
type ConnectOpts struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"db"`
	AuthKey  string `mapstructure:"auth_key"`

	// Timeout bounds dialing plus the handshake.
	Timeout time.Duration `mapstructure:"timeout"`

	// CompressionThreshold is the query payload size above which frames are
	// lz4 compressed. Negative disables compression.
	CompressionThreshold int `mapstructure:"compression_threshold"`

	Dialer  domain.Dialer `mapstructure:"-"`
	Logger  *log.Logger   `mapstructure:"-"`
	Metrics *Metrics      `mapstructure:"-"`
}

// Addr returns host:port.
func (o ConnectOpts) Addr() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

func (o ConnectOpts) withDefaults() ConnectOpts {
	if o.Host == "" {
		o.Host = DefaultHost
	}
	if o.Port == 0 {
		o.Port = DefaultPort
	}
	if o.Database == "" {
		o.Database = DefaultDatabase
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.CompressionThreshold == 0 {
		o.CompressionThreshold = proto.DefaultCompressionThreshold
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	return o
}

// CloseOpts configures Close and Reconnect.
type CloseOpts struct {
	// NoreplyWait drains previously dispatched noreply queries before the
	// session is torn down.
	NoreplyWait bool
}
