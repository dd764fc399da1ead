package main

import (
	"flag"
	"fmt"
	"math/rand/v2"
	"net"
	"sort"
	"sync"
	"time"

	mdns "github.com/miekg/dns"
)

type result struct {
	latencies []float64
	rcodes    map[int]int
	timeouts  int
	errors    int
}

func main() {
	var (
		server      = flag.String("server", "127.0.0.1:1053", "DNS server HOST:PORT")
		name        = flag.String("name", "example.com", "Query name")
		qtype       = flag.String("type", "A", "Query type mnemonic")
		unique      = flag.Bool("unique", false, "Prefix each query with a random label to defeat the cache")
		concurrency = flag.Int("concurrency", 200, "Number of concurrent workers")
		requests    = flag.Int("requests", 20000, "Total number of requests")
		timeout     = flag.Duration("timeout", 2*time.Second, "Per-request timeout")
	)
	flag.Parse()

	t, ok := mdns.StringToType[*qtype]
	if !ok {
		fmt.Printf("unknown query type %q\n", *qtype)
		return
	}
	addr, err := net.ResolveUDPAddr("udp", *server)
	if err != nil {
		panic(err)
	}

	conc := max(*concurrency, 1)
	total := max(*requests, 1)
	per := total / conc
	rem := total % conc

	res := result{rcodes: map[int]int{}}
	var mu sync.Mutex

	t0 := time.Now()
	var wg sync.WaitGroup
	for i := range conc {
		n := per
		if i < rem {
			n++
		}
		if n <= 0 {
			continue
		}
		wg.Go(func() {
			local := worker(addr, mdns.Fqdn(*name), t, *unique, n, *timeout)
			mu.Lock()
			res.latencies = append(res.latencies, local.latencies...)
			for rc, c := range local.rcodes {
				res.rcodes[rc] += c
			}
			res.timeouts += local.timeouts
			res.errors += local.errors
			mu.Unlock()
		})
	}
	wg.Wait()
	elapsed := time.Since(t0).Seconds()

	lat := res.latencies
	fmt.Printf("server=%s name=%q type=%s concurrency=%d requests=%d\n", *server, *name, *qtype, conc, total)
	fmt.Printf("answered=%d timeouts=%d errors=%d\n", len(lat), res.timeouts, res.errors)
	if len(lat) == 0 {
		return
	}
	sort.Float64s(lat)
	fmt.Printf("elapsed_s=%.3f qps=%.1f\n", elapsed, float64(len(lat))/elapsed)
	fmt.Printf("latency_ms p50=%.3f p95=%.3f p99=%.3f min=%.3f max=%.3f\n",
		percentile(lat, 50), percentile(lat, 95), percentile(lat, 99), lat[0], lat[len(lat)-1])
	for rc, c := range res.rcodes {
		fmt.Printf("rcode %s=%d\n", mdns.RcodeToString[rc], c)
	}
}

// worker sends n queries one after another over its own socket.
func worker(addr *net.UDPAddr, name string, qtype uint16, unique bool, n int, timeout time.Duration) result {
	res := result{rcodes: map[int]int{}}
	c, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		res.errors = n
		return res
	}
	defer c.Close()

	buf := make([]byte, mdns.MaxMsgSize)
	for range n {
		m := new(mdns.Msg)
		q := name
		if unique {
			q = fmt.Sprintf("r%08x.%s", rand.Uint32(), name)
		}
		m.SetQuestion(q, qtype)
		wire, err := m.Pack()
		if err != nil {
			res.errors++
			continue
		}

		start := time.Now()
		_ = c.SetDeadline(start.Add(timeout))
		if _, err := c.Write(wire); err != nil {
			res.errors++
			continue
		}
		resp := new(mdns.Msg)
		for {
			nn, err := c.Read(buf)
			if err != nil {
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					res.timeouts++
				} else {
					res.errors++
				}
				resp = nil
				break
			}
			// Late answers to earlier timed-out queries carry another ID.
			if resp.Unpack(buf[:nn]) == nil && resp.Id == m.Id {
				break
			}
		}
		if resp == nil {
			continue
		}
		res.latencies = append(res.latencies, float64(time.Since(start).Microseconds())/1000.0)
		res.rcodes[resp.Rcode]++
	}
	return res
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	idx := int(float64(len(sorted))*float64(p)/100.0) - 1
	idx = min(max(idx, 0), len(sorted)-1)
	return sorted[idx]
}
