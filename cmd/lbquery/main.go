package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"os"
	"sort"
	"strings"
	"time"

	mdns "github.com/miekg/dns"
)

func main() {
	var (
		server  = flag.String("server", "127.0.0.1:53", "DNS server HOST:PORT")
		doh     = flag.String("doh", "", "Query over DNS-over-HTTPS at this URL instead of UDP")
		name    = flag.String("name", "example.com", "Query name")
		qtype   = flag.String("type", "A", "Query type mnemonic")
		subnet  = flag.String("subnet", "", "Send an EDNS Client Subnet option (CIDR, e.g. 198.51.100.0/24)")
		dnssec  = flag.Bool("dnssec", false, "Set the DO bit")
		bufsize = flag.Uint("bufsize", 1232, "EDNS UDP payload size (0 disables EDNS)")
		timeout = flag.Duration("timeout", 2*time.Second, "Timeout")
		quiet   = flag.Bool("quiet", false, "Suppress output (exit status indicates success)")
	)
	flag.Parse()

	resp, rtt, err := run(*server, *doh, *name, *qtype, *subnet, *dnssec, uint16(*bufsize), *timeout)
	if err != nil {
		if !*quiet {
			fmt.Fprintf(os.Stderr, "lbquery error: %v\n", err)
		}
		os.Exit(1)
	}
	if !*quiet {
		printResponse(resp, rtt)
	}
}

func run(server, doh, name, qtype, subnet string, dnssec bool, bufsize uint16, timeout time.Duration) (*mdns.Msg, time.Duration, error) {
	m, err := buildQuery(name, qtype, subnet, dnssec, bufsize)
	if err != nil {
		return nil, 0, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if doh != "" {
		return queryDoH(ctx, doh, m)
	}
	c := &mdns.Client{Net: "udp", Timeout: timeout, UDPSize: bufsize}
	return c.ExchangeContext(ctx, m, server)
}

func buildQuery(name, qtype, subnet string, dnssec bool, bufsize uint16) (*mdns.Msg, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("name required")
	}
	t, ok := mdns.StringToType[strings.ToUpper(qtype)]
	if !ok {
		return nil, fmt.Errorf("unknown query type %q", qtype)
	}
	m := new(mdns.Msg)
	m.SetQuestion(mdns.Fqdn(name), t)
	if bufsize == 0 {
		if subnet != "" || dnssec {
			return nil, errors.New("-subnet and -dnssec need EDNS")
		}
		return m, nil
	}
	m.SetEdns0(bufsize, dnssec)
	if subnet == "" {
		return m, nil
	}

	prefix, err := netip.ParsePrefix(subnet)
	if err != nil {
		return nil, fmt.Errorf("bad subnet: %w", err)
	}
	ecs := &mdns.EDNS0_SUBNET{
		Code:          mdns.EDNS0SUBNET,
		SourceNetmask: uint8(prefix.Bits()),
		Address:       net.IP(prefix.Masked().Addr().AsSlice()),
	}
	if prefix.Addr().Is4() {
		ecs.Family = 1
	} else {
		ecs.Family = 2
	}
	opt := m.IsEdns0()
	opt.Option = append(opt.Option, ecs)
	return m, nil
}

func queryDoH(ctx context.Context, url string, m *mdns.Msg) (*mdns.Msg, time.Duration, error) {
	m.Id = 0
	wire, err := m.Pack()
	if err != nil {
		return nil, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(wire))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/dns-message")
	req.Header.Set("Accept", "application/dns-message")

	start := time.Now()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("doh: %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, mdns.MaxMsgSize))
	if err != nil {
		return nil, 0, err
	}
	out := new(mdns.Msg)
	if err := out.Unpack(body); err != nil {
		return nil, 0, err
	}
	return out, time.Since(start), nil
}

func printResponse(resp *mdns.Msg, rtt time.Duration) {
	fmt.Printf("id=%d rcode=%s answers=%d authorities=%d additionals=%d rtt=%s\n",
		resp.Id,
		mdns.RcodeToString[resp.Rcode],
		len(resp.Answer),
		len(resp.Ns),
		len(resp.Extra),
		rtt.Round(time.Microsecond),
	)
	if opt := resp.IsEdns0(); opt != nil {
		for _, o := range opt.Option {
			if ecs, ok := o.(*mdns.EDNS0_SUBNET); ok {
				fmt.Printf("ecs=%s/%d scope=%d\n", ecs.Address, ecs.SourceNetmask, ecs.SourceScope)
			}
		}
	}

	rows := make([]string, 0, len(resp.Answer))
	for _, rr := range resp.Answer {
		rows = append(rows, rr.String())
	}
	sort.Strings(rows)
	for _, s := range rows {
		fmt.Println(s)
	}
}
