package sink

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/grandcat/zeroconf"
)

// Service is the mdns service type advertised by network IQ sinks.
const Service = "_iqsink._tcp"

// Endpoint is a network sink found by Discover.
type Endpoint struct {
	Instance  string
	Hostname  string
	Addresses []net.IP
	Port      int
	Text      []string
}

// Addr returns a dialable host:port, preferring the first address found.
func (e Endpoint) Addr() string {
	host := strings.TrimSuffix(e.Hostname, ".")
	if len(e.Addresses) > 0 {
		host = e.Addresses[0].String()
	}
	return net.JoinHostPort(host, strconv.Itoa(e.Port))
}

// Discover browses the local network for service until ctx is done and
// returns the endpoints seen, sorted by instance name.
func Discover(ctx context.Context, service string) ([]Endpoint, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(map[string]Endpoint)
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
				addrs := make([]net.IP, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
				addrs = append(addrs, e.AddrIPv4...)
				addrs = append(addrs, e.AddrIPv6...)
				key := fmt.Sprintf("%s|%d", e.HostName, e.Port)
				found[key] = Endpoint{
					Instance:  strings.ReplaceAll(e.Instance, `\ `, " "),
					Hostname:  e.HostName,
					Addresses: addrs,
					Port:      e.Port,
					Text:      append([]string{}, e.Text...),
				}
				log.Debugf("Found %s at %s:%d", e.Instance, e.HostName, e.Port)
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, service, "local.", entries); err != nil {
		return nil, fmt.Errorf("mdns browse %s: %w", service, err)
	}
	<-done

	out := make([]Endpoint, 0, len(found))
	for _, e := range found {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instance < out[j].Instance })
	return out, nil
}
