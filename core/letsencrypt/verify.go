package letsencrypt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/dmitrymomot/certflow/core/logger"
)

// Resolver checks TXT values directly on authoritative nameservers.
type Resolver struct {
	// Recursive is the host:port used for SOA, NS and A lookups.
	Recursive string
	// AuthoritativePort is the port queried on each nameserver.
	AuthoritativePort string
	Timeout           time.Duration
	Logger            *slog.Logger
}

// DefaultResolver uses a public recursive resolver.
var DefaultResolver = &Resolver{
	Recursive:         "8.8.8.8:53",
	AuthoritativePort: "53",
	Timeout:           5 * time.Second,
}

// VerifyChallenge reports whether key is served as a TXT value of domain by
// any authoritative nameserver, using DefaultResolver.
func VerifyChallenge(ctx context.Context, domain, key string) error {
	return DefaultResolver.VerifyChallenge(ctx, domain, key)
}

// VerifyChallenge finds the zone of domain, resolves its nameservers and
// asks each one for the TXT values of domain. It succeeds on the first server
// that returns key.
func (r *Resolver) VerifyChallenge(ctx context.Context, domain, key string) error {
	log := r.Logger
	if log == nil {
		log = logger.Discard()
	}
	name := dns.Fqdn(strings.ToLower(domain))

	zone, err := r.findZone(ctx, name)
	if err != nil {
		return err
	}
	servers, err := r.nameservers(ctx, zone)
	if err != nil {
		return err
	}

	var errs []error
	for _, ip := range servers {
		values, err := r.txt(ctx, name, net.JoinHostPort(ip, r.authPort()))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, v := range values {
			if v == key {
				log.DebugContext(ctx, "challenge visible", logger.Domain(domain), slog.String("server", ip))
				return nil
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s: %w", ErrChallengeNotPublished, domain, errors.Join(errs...))
	}
	return fmt.Errorf("%w: %s", ErrChallengeNotPublished, domain)
}

// findZone walks up from name until a SOA answer is returned.
func (r *Resolver) findZone(ctx context.Context, name string) (string, error) {
	for candidate := name; candidate != "."; {
		resp, err := r.exchange(ctx, candidate, dns.TypeSOA, r.Recursive)
		if err != nil {
			return "", err
		}
		for _, rr := range resp.Answer {
			if soa, ok := rr.(*dns.SOA); ok {
				return soa.Hdr.Name, nil
			}
		}
		_, rest, found := strings.Cut(candidate, ".")
		if !found || rest == "" {
			break
		}
		candidate = rest
	}
	return "", fmt.Errorf("%w: %s", ErrNoAuthoritativeServer, name)
}

// nameservers resolves the NS set of zone to IPv4 addresses.
func (r *Resolver) nameservers(ctx context.Context, zone string) ([]string, error) {
	resp, err := r.exchange(ctx, zone, dns.TypeNS, r.Recursive)
	if err != nil {
		return nil, err
	}

	var ips []string
	for _, rr := range resp.Answer {
		ns, ok := rr.(*dns.NS)
		if !ok {
			continue
		}
		a, err := r.exchange(ctx, ns.Ns, dns.TypeA, r.Recursive)
		if err != nil {
			continue
		}
		for _, rr := range a.Answer {
			if rec, ok := rr.(*dns.A); ok {
				ips = append(ips, rec.A.String())
			}
		}
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("%w: zone %s has no reachable nameservers", ErrNoAuthoritativeServer, zone)
	}
	return ips, nil
}

func (r *Resolver) txt(ctx context.Context, name, server string) ([]string, error) {
	resp, err := r.exchange(ctx, name, dns.TypeTXT, server)
	if err != nil {
		return nil, err
	}
	var values []string
	for _, rr := range resp.Answer {
		if t, ok := rr.(*dns.TXT); ok {
			values = append(values, strings.Join(t.Txt, ""))
		}
	}
	return values, nil
}

func (r *Resolver) exchange(ctx context.Context, name string, qtype uint16, server string) (*dns.Msg, error) {
	m := new(dns.Msg)
	m.SetQuestion(name, qtype)
	m.RecursionDesired = server == r.Recursive

	c := &dns.Client{Timeout: r.timeout()}
	resp, _, err := c.ExchangeContext(ctx, m, server)
	if err != nil {
		return nil, fmt.Errorf("letsencrypt: %s %s via %s: %w", dns.TypeToString[qtype], name, server, err)
	}
	return resp, nil
}

func (r *Resolver) authPort() string {
	if r.AuthoritativePort == "" {
		return "53"
	}
	return r.AuthoritativePort
}

func (r *Resolver) timeout() time.Duration {
	if r.Timeout <= 0 {
		return 5 * time.Second
	}
	return r.Timeout
}
