package discovery

import (
	"context"
	"time"

	"github.com/cuemby/iffish/pkg/clustertypes"
	"github.com/cuemby/iffish/pkg/log"
	"github.com/miekg/dns"
)

// DNSSource periodically resolves an SRV record to find peer hosts and
// ports, then an A record per host for its address (spec.md §4.5). Each
// resolution cycle replaces the DNS-origin subset of candidates; entries
// that drop out of a cycle are not actively evicted from the directory —
// only the failure detector or explicit Leaving removes a record.
type DNSSource struct {
	SRVName  string // e.g. "_iffd._tcp.cluster.example.com."
	Resolver string // upstream DNS server, "host:port"
	Interval time.Duration
}

func (s DNSSource) Run(ctx context.Context, emit func(Candidate)) {
	logger := log.WithComponent("discovery.dns")

	interval := s.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	client := new(dns.Client)

	resolveOnce := func() {
		srvMsg := new(dns.Msg)
		srvMsg.SetQuestion(s.SRVName, dns.TypeSRV)
		srvReply, _, err := client.Exchange(srvMsg, s.Resolver)
		if err != nil {
			logger.Warn().Err(err).Str("name", s.SRVName).Msg("SRV lookup failed")
			return
		}

		for _, rr := range srvReply.Answer {
			srv, ok := rr.(*dns.SRV)
			if !ok {
				continue
			}

			aMsg := new(dns.Msg)
			aMsg.SetQuestion(srv.Target, dns.TypeA)
			aReply, _, err := client.Exchange(aMsg, s.Resolver)
			if err != nil {
				logger.Warn().Err(err).Str("target", srv.Target).Msg("A lookup failed")
				continue
			}

			for _, arr := range aReply.Answer {
				a, ok := arr.(*dns.A)
				if !ok {
					continue
				}
				emit(Candidate{
					Endpoints: []clustertypes.Endpoint{{Host: a.A.String(), Port: int(srv.Port)}},
				})
			}
		}
	}

	resolveOnce()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			resolveOnce()
		}
	}
}
