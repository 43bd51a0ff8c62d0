// Package discovery finds bridge hosts on the local network over mDNS and
// lets a host advertise itself.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/mdns"
)

const (
	ServiceTCP       = "_gobridge._tcp"
	ServiceWebSocket = "_gobridge-ws._tcp"

	DefaultTimeout = 3 * time.Second
)

// ErrNotFound is returned when no host answered before the deadline.
var ErrNotFound = errors.New("discovery: no host found")

// Service is one discovered host.
type Service struct {
	Name      string   `json:"name"`
	Host      string   `json:"host"`
	Port      int      `json:"port"`
	Transport string   `json:"transport"`
	Info      []string `json:"info,omitempty"`
}

// Addr is host:port, suitable for transport.New.
func (s Service) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// TransportFor maps a service type to the transport protocol name.
func TransportFor(service string) string {
	switch service {
	case ServiceWebSocket:
		return "websocket"
	default:
		return "tcp"
	}
}

// Lookup returns the first host answering for service. Without a deadline
// on ctx the query runs for DefaultTimeout.
func Lookup(ctx context.Context, service string) (*Service, error) {
	timeout := DefaultTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return nil, ctx.Err()
		}
	}

	entries := make(chan *mdns.ServiceEntry, 8)
	params := mdns.DefaultParams(service)
	params.Entries = entries
	params.Timeout = timeout

	queryErr := make(chan error, 1)
	go func() {
		queryErr <- mdns.Query(params)
	}()

	for {
		select {
		case entry := <-entries:
			svc, err := fromEntry(service, entry)
			if err != nil {
				slog.Debug("Ignoring mDNS entry", "service", service, "error", err)
				continue
			}
			slog.Info("Discovered bridge host",
				"name", svc.Name,
				"host", svc.Host,
				"port", svc.Port,
				"transport", svc.Transport,
			)
			return svc, nil

		case err := <-queryErr:
			if err != nil {
				return nil, fmt.Errorf("mDNS query for %s: %w", service, err)
			}
			return nil, fmt.Errorf("%w for %s", ErrNotFound, service)

		case <-ctx.Done():
			return nil, fmt.Errorf("%w for %s: %w", ErrNotFound, service, ctx.Err())
		}
	}
}

func fromEntry(service string, entry *mdns.ServiceEntry) (*Service, error) {
	if entry == nil {
		return nil, errors.New("empty entry")
	}

	var host string
	switch {
	case entry.AddrV4 != nil:
		host = entry.AddrV4.String()
	case entry.AddrV6 != nil:
		host = entry.AddrV6.String()
	default:
		return nil, fmt.Errorf("no address for %s", entry.Name)
	}
	if entry.Port <= 0 {
		return nil, fmt.Errorf("no port for %s", entry.Name)
	}

	return &Service{
		Name:      entry.Name,
		Host:      host,
		Port:      entry.Port,
		Transport: TransportFor(service),
		Info:      entry.InfoFields,
	}, nil
}

// Announcer advertises a host until Shutdown.
type Announcer struct {
	server *mdns.Server
}

// Announce advertises instance under service on port. info becomes the TXT
// record.
func Announce(instance, service string, port int, info ...string) (*Announcer, error) {
	if instance == "" {
		instance, _ = os.Hostname()
	}
	svc, err := mdns.NewMDNSService(instance, service, "", "", port, nil, info)
	if err != nil {
		return nil, fmt.Errorf("mDNS service %s: %w", service, err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: svc})
	if err != nil {
		return nil, fmt.Errorf("mDNS server: %w", err)
	}
	slog.Info("Announcing bridge host", "instance", instance, "service", service, "port", port)
	return &Announcer{server: server}, nil
}

func (a *Announcer) Shutdown() error {
	if a == nil || a.server == nil {
		return nil
	}
	return a.server.Shutdown()
}
