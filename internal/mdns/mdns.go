package mdns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

// Service is the DNS-SD service type iiod advertises.
const Service = "_iio._tcp"

// ErrNotFound is returned when no iiod answered the browse.
var ErrNotFound = errors.New("no iiod found on the local network")

// Host represents a discovered IIOD-capable device
type Host struct {
	Instance  string // Advertised name: "iiod on analog"
	Hostname  string // DNS hostname: "analog.local."
	Addresses []net.IP
	Port      int
	TXT       []string
}

// Address returns "ip:port" for the first usable address, preferring IPv4.
func (h Host) Address() (string, bool) {
	for _, ip := range h.Addresses {
		if ip.To4() != nil {
			return net.JoinHostPort(ip.String(), strconv.Itoa(h.Port)), true
		}
	}
	for _, ip := range h.Addresses {
		if !ip.IsLinkLocalUnicast() {
			return net.JoinHostPort(ip.String(), strconv.Itoa(h.Port)), true
		}
	}
	return "", false
}

// Browser abstracts the zeroconf resolver so discovery can be tested.
type Browser interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// DiscoverIIOD browses for _iio._tcp.local services until timeout or ctx
// ends. It returns cleaned and deduplicated host entries sorted by instance.
func DiscoverIIOD(ctx context.Context, timeout time.Duration) ([]Host, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("resolver error: %w", err)
	}
	return Discover(ctx, resolver, timeout)
}

// Discover runs a browse on b.
func Discover(ctx context.Context, b Browser, timeout time.Duration) ([]Host, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	resultMap := make(map[string]Host)

	// Consumer goroutine
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case e, ok := <-entries:
				if !ok {
					return
				}
				if e == nil {
					continue
				}

				// Consolidate IPs (both v4 and v6)
				addrs := make([]net.IP, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
				addrs = append(addrs, e.AddrIPv4...)
				addrs = append(addrs, e.AddrIPv6...)

				key := fmt.Sprintf("%s|%d", e.HostName, e.Port)
				resultMap[key] = Host{
					Instance:  cleanInstance(e.Instance),
					Hostname:  e.HostName,
					Addresses: addrs,
					Port:      e.Port,
					TXT:       append([]string{}, e.Text...),
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	if err := b.Browse(ctx, Service, "local.", entries); err != nil {
		cancel()
		<-done
		return nil, fmt.Errorf("browse error: %w", err)
	}

	<-done

	out := make([]Host, 0, len(resultMap))
	for _, h := range resultMap {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instance < out[j].Instance })
	return out, nil
}

// FirstAddress returns the "ip:port" of the first iiod that answers.
func FirstAddress(hosts []Host) (string, error) {
	for _, h := range hosts {
		if addr, ok := h.Address(); ok {
			return addr, nil
		}
	}
	return "", ErrNotFound
}

// cleanInstance removes Zeroconf escape sequences: "\ " => " "
func cleanInstance(s string) string {
	return strings.ReplaceAll(s, `\ `, " ")
}
