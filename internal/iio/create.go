package iio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rjboer/iiotx/internal/connectionmgr"
	"github.com/rjboer/iiotx/internal/logging"
	"github.com/rjboer/iiotx/internal/mdns"
	"github.com/rjboer/iiotx/internal/sdr"
)

// RemoteEnv names the variable consulted when no URI is given.
const RemoteEnv = "IIOD_REMOTE"

// ErrUnsupportedBackend is returned for libiio URI schemes this package has
// no backend for.
var ErrUnsupportedBackend = errors.New("iio: unsupported backend")

// unsupported lists libiio schemes that must not fall through to ip:.
var unsupported = map[string]bool{"usb": true, "serial": true, "xml": true}

// Options tune context creation. The zero value is usable.
type Options struct {
	Logger logging.Logger
	// Timeout bounds every iiod request and is pushed to the server.
	Timeout time.Duration
	// DiscoveryTimeout bounds the DNS-SD browse behind "ip:".
	DiscoveryTimeout time.Duration
	SSHKeyPath       string
	SSHPassword      string
	// SSHKnownHosts enables host key checking against a known_hosts file.
	SSHKnownHosts string
	// Getenv defaults to os.LookupEnv.
	Getenv func(string) (string, bool)
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = logging.Default()
	}
	if o.Timeout == 0 {
		o.Timeout = 5 * time.Second
	}
	if o.DiscoveryTimeout == 0 {
		o.DiscoveryTimeout = 3 * time.Second
	}
	if o.Getenv == nil {
		o.Getenv = os.LookupEnv
	}
	return o
}

// Create opens a context from a URI:
//
//	""                   IIOD_REMOTE if set, else local:
//	local:               sysfs on this machine
//	ip:host[:port]       iiod over TCP
//	ip:                  first iiod found by DNS-SD
//	ssh:[user@]host[:p]  iiod on the far side of an SSH session
//	mock:                in-memory ADRV9009
//
// usb:, serial: and xml: fail with ErrUnsupportedBackend. Anything else is
// taken as an ip: host.
func Create(ctx context.Context, uri string, opts Options) (*Context, error) {
	opts = opts.withDefaults()
	log := opts.Logger.With(logging.Subsystem("iio"))

	if uri == "" {
		if remote, ok := opts.Getenv(RemoteEnv); ok {
			uri = "ip:" + remote
		} else {
			uri = "local:"
		}
	}

	scheme, rest, found := strings.Cut(uri, ":")
	if found && unsupported[scheme] {
		return nil, fmt.Errorf("%w %q in %s", ErrUnsupportedBackend, scheme, uri)
	}
	if !found || (scheme != "local" && scheme != "ip" && scheme != "ssh" && scheme != "mock") {
		scheme, rest = "ip", uri
	}
	log.Debug("creating context", logging.F("uri", uri), logging.F("scheme", scheme))

	var (
		c   *Context
		err error
	)
	switch scheme {
	case "local":
		l := sdr.NewLocal()
		l.Logger = opts.Logger.With(logging.Subsystem("sysfs"))
		c, err = newClosing(ctx, l)
	case "mock":
		m := sdr.NewMock()
		m.PaceRate = sdr.MockSampleRate
		m.Logger = opts.Logger.With(logging.Subsystem("mock"))
		c, err = newClosing(ctx, m)
	case "ip":
		c, err = createNetwork(ctx, rest, opts, log)
	case "ssh":
		c, err = createSSH(ctx, rest, opts)
	}
	if err != nil {
		return nil, err
	}
	c.uri = uri
	c.SetLogger(log)
	return c, nil
}

// newClosing builds a context and closes the backend when that fails.
func newClosing(ctx context.Context, b Backend) (*Context, error) {
	c, err := NewContext(ctx, b)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	return c, nil
}

func createNetwork(ctx context.Context, host string, opts Options, log logging.Logger) (*Context, error) {
	if host == "" {
		hosts, err := mdns.DiscoverIIOD(ctx, opts.DiscoveryTimeout)
		if err != nil {
			return nil, err
		}
		addr, err := mdns.FirstAddress(hosts)
		if err != nil {
			return nil, err
		}
		log.Info("discovered iiod", logging.F("addr", addr), logging.Subsystem("mdns"))
		host = addr
	}

	m := connectionmgr.New(host)
	m.Timeout = opts.Timeout
	m.Logger = opts.Logger
	if err := m.Connect(ctx); err != nil {
		return nil, err
	}
	return newClosing(ctx, m)
}

func createSSH(ctx context.Context, target string, opts Options) (*Context, error) {
	cfg, err := sdr.ParseSSHTarget(target)
	if err != nil {
		return nil, fmt.Errorf("ssh uri: %w", err)
	}
	cfg.KeyPath = opts.SSHKeyPath
	cfg.Password = opts.SSHPassword
	cfg.KnownHosts = opts.SSHKnownHosts
	cfg.Timeout = opts.Timeout

	tun, err := sdr.NewSSHTunnel(cfg)
	if err != nil {
		return nil, err
	}

	m := connectionmgr.New("127.0.0.1")
	m.Timeout = opts.Timeout
	m.Logger = opts.Logger
	m.Dial = tun.Dial
	if err := m.Connect(ctx); err != nil {
		_ = tun.Close()
		return nil, err
	}
	c, err := newClosing(ctx, m)
	if err != nil {
		_ = tun.Close()
		return nil, err
	}
	c.closers = append(c.closers, tun)
	return c, nil
}
