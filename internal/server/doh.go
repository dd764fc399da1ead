package server

import (
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jroosing/hydralb/internal/dispatch"
	"github.com/jroosing/hydralb/internal/dns"
	"github.com/jroosing/hydralb/internal/query"
)

// DoHContentType is the media type of DNS messages over HTTPS (RFC 8484).
const DoHContentType = "application/dns-message"

// DoHServer answers RFC 8484 GET and POST requests by dispatching them like
// UDP queries. Each request waits on its own origin for the answer. A query
// the engine drops, or one whose answer never comes, gets no HTTP response:
// the request is aborted, the way a UDP client just sees silence. Requests
// that do not carry a DNS message at all fail with a 4xx status.
type DoHServer struct {
	Engine  *dispatch.Engine
	Logger  *slog.Logger
	Path    string
	Timeout time.Duration
	Local   netip.AddrPort // reported as the query destination
}

// Register mounts the DoH endpoint on r.
func (s *DoHServer) Register(r gin.IRoutes) {
	path := s.Path
	if path == "" {
		path = "/dns-query"
	}
	r.GET(path, s.recoverer, s.handle)
	r.POST(path, s.recoverer, s.handle)
}

// dohOrigin hands the reply to the waiting request. Only the first reply is
// kept.
type dohOrigin struct{ ch chan []byte }

func (o dohOrigin) Reply(b []byte, _ netip.AddrPort) error {
	select {
	case o.ch <- append([]byte(nil), b...):
		return nil
	default:
		return errors.New("doh: reply already sent")
	}
}

func (dohOrigin) Protocol() query.Protocol { return query.ProtoDoH }

func (s *DoHServer) handle(c *gin.Context) {
	msg, status := readDoHQuery(c)
	if status != http.StatusOK {
		c.Status(status)
		return
	}

	bufp := queryBuffers.Get()
	defer queryBuffers.Put(bufp)
	n := copy(*bufp, msg)

	client, err := netip.ParseAddrPort(c.Request.RemoteAddr)
	if err == nil {
		client = netip.AddrPortFrom(client.Addr().Unmap(), client.Port())
	}
	origin := dohOrigin{ch: make(chan []byte, 1)}

	out := s.Engine.Dispatch(c.Request.Context(), *bufp, n, client, s.Local, origin)
	if out.Kind == dispatch.Dropped {
		s.abort(c, out.Reason)
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-origin.ch:
		if ttl, ok := answerMaxAge(resp); ok {
			c.Header("Cache-Control", "max-age="+strconv.FormatUint(uint64(ttl), 10))
		}
		c.Data(http.StatusOK, DoHContentType, resp)
	case <-timer.C:
		s.abort(c, dispatch.ErrDownstreamTimeout)
	case <-c.Request.Context().Done():
		s.abort(c, c.Request.Context().Err())
	}
}

// readDoHQuery extracts the wire query from the request and returns
// http.StatusOK, or the status to fail the request with.
func readDoHQuery(c *gin.Context) ([]byte, int) {
	var msg []byte
	switch c.Request.Method {
	case http.MethodGet:
		param := strings.TrimRight(c.Query("dns"), "=")
		if param == "" {
			return nil, http.StatusBadRequest
		}
		b, err := base64.RawURLEncoding.DecodeString(param)
		if err != nil {
			return nil, http.StatusBadRequest
		}
		msg = b
	case http.MethodPost:
		if ct := c.ContentType(); ct != DoHContentType {
			return nil, http.StatusUnsupportedMediaType
		}
		b, err := io.ReadAll(io.LimitReader(c.Request.Body, queryBufferSize+1))
		if err != nil {
			return nil, http.StatusBadRequest
		}
		msg = b
	default:
		return nil, http.StatusMethodNotAllowed
	}
	if len(msg) > queryBufferSize {
		return nil, http.StatusRequestEntityTooLarge
	}
	if len(msg) < dns.HeaderSize {
		return nil, http.StatusBadRequest
	}
	return msg, http.StatusOK
}

// abort ends the request without writing a response. It does not return.
func (s *DoHServer) abort(c *gin.Context, reason error) {
	if s.Logger != nil {
		s.Logger.Debug("doh query unanswered", "client", c.Request.RemoteAddr, "reason", reason)
	}
	c.Abort()
	panic(http.ErrAbortHandler)
}

// recoverer turns handler panics into 500s, except the abort panic which
// net/http must see to drop the connection.
func (s *DoHServer) recoverer(c *gin.Context) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if r == http.ErrAbortHandler {
			panic(r)
		}
		if s.Logger != nil {
			s.Logger.Error("doh handler panic", "panic", r)
		}
		c.AbortWithStatus(http.StatusInternalServerError)
	}()
	c.Next()
}

// answerMaxAge returns the smallest TTL of the answer, for Cache-Control.
func answerMaxAge(resp []byte) (uint32, bool) {
	v, err := dns.NewView(resp, len(resp))
	if err != nil {
		return 0, false
	}
	_, qEnd, err := v.Question()
	if err != nil {
		return 0, false
	}
	ttl, ok, err := dns.MinTTL(resp, qEnd)
	if err != nil || !ok {
		return 0, false
	}
	return ttl, true
}
