package letsencrypt_test

import (
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/certflow/core/letsencrypt"
)

// startZone serves example.com with ns1.example.com at 127.0.0.1 and the
// given TXT values at _acme-challenge.acme.example.com.
func startZone(t *testing.T, txt ...string) (addr, port string) {
	t.Helper()

	handler := dns.HandlerFunc(func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(req)
		q := req.Question[0]
		add := func(s string) {
			rr, err := dns.NewRR(s)
			if err == nil {
				m.Answer = append(m.Answer, rr)
			}
		}
		switch {
		case q.Qtype == dns.TypeSOA && q.Name == "example.com.":
			add("example.com. 300 IN SOA ns1.example.com. admin.example.com. 1 7200 3600 1209600 300")
		case q.Qtype == dns.TypeNS && q.Name == "example.com.":
			add("example.com. 300 IN NS ns1.example.com.")
		case q.Qtype == dns.TypeA && q.Name == "ns1.example.com.":
			add("ns1.example.com. 300 IN A 127.0.0.1")
		case q.Qtype == dns.TypeTXT && q.Name == "_acme-challenge.acme.example.com.":
			for _, v := range txt {
				add(`_acme-challenge.acme.example.com. 300 IN TXT "` + v + `"`)
			}
		}
		_ = w.WriteMsg(m)
	})

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pc, Handler: handler, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })

	addr = pc.LocalAddr().String()
	_, port, err = net.SplitHostPort(addr)
	require.NoError(t, err)
	return addr, port
}

func TestResolver_VerifyChallenge(t *testing.T) {
	t.Parallel()

	t.Run("value present on authoritative server", func(t *testing.T) {
		t.Parallel()

		addr, port := startZone(t, "other", "expected")
		r := &letsencrypt.Resolver{Recursive: addr, AuthoritativePort: port, Timeout: time.Second}
		assert.NoError(t, r.VerifyChallenge(t.Context(), "_acme-challenge.acme.example.com", "expected"))
	})

	t.Run("value missing", func(t *testing.T) {
		t.Parallel()

		addr, port := startZone(t, "stale")
		r := &letsencrypt.Resolver{Recursive: addr, AuthoritativePort: port, Timeout: time.Second}
		err := r.VerifyChallenge(t.Context(), "_acme-challenge.acme.example.com", "expected")
		assert.ErrorIs(t, err, letsencrypt.ErrChallengeNotPublished)
	})

	t.Run("no zone found", func(t *testing.T) {
		t.Parallel()

		addr, port := startZone(t)
		r := &letsencrypt.Resolver{Recursive: addr, AuthoritativePort: port, Timeout: time.Second}
		err := r.VerifyChallenge(t.Context(), "_acme-challenge.acme.example.org", "expected")
		assert.ErrorIs(t, err, letsencrypt.ErrNoAuthoritativeServer)
	})
}
