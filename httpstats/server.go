// Package httpstats is the operator-facing admin surface every node-facing
// subsystem in this codebase family carries: a tiny fasthttp server
// exposing /healthz and /stats for one ha.Context, independent of whatever
// the spec's CLI non-goal excludes.
package httpstats

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/valyala/fasthttp"

	"github.com/ovs-cluster/voldriver-router/cmn/nlog"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Reporter is the subset of ha.Context this server reads; kept as an
// interface so tests can substitute a fake without standing up a real
// Context.
type Reporter interface {
	ConnectionError() bool
	InflightCount() int
	SeenCount() int
	PeerCount() int
}

// Server serves /healthz and /stats for one Reporter.
type Server struct {
	addr string
	rep  Reporter
	srv  *fasthttp.Server
}

func New(addr string, rep Reporter) *Server {
	s := &Server{addr: addr, rep: rep}
	s.srv = &fasthttp.Server{Handler: s.handle}
	return s
}

// ListenAndServe blocks until the server stops (via Close from another
// goroutine) or an unrecoverable accept error occurs.
func (s *Server) ListenAndServe() error {
	nlog.Infof("httpstats: listening on %s", s.addr)
	return s.srv.ListenAndServe(s.addr)
}

func (s *Server) Close() error { return s.srv.Shutdown() }

func (s *Server) handle(ctx *fasthttp.RequestCtx) {
	switch string(ctx.Path()) {
	case "/healthz":
		s.healthz(ctx)
	case "/stats":
		s.stats(ctx)
	default:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}
}

func (s *Server) healthz(ctx *fasthttp.RequestCtx) {
	if s.rep.ConnectionError() {
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
		ctx.SetBodyString("connection_error\n")
		return
	}
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBodyString("ok\n")
}

type statsBody struct {
	ConnectionError bool `json:"connection_error"`
	Inflight        int  `json:"inflight"`
	Seen            int  `json:"seen"`
	Peers           int  `json:"peers"`
}

func (s *Server) stats(ctx *fasthttp.RequestCtx) {
	body := statsBody{
		ConnectionError: s.rep.ConnectionError(),
		Inflight:        s.rep.InflightCount(),
		Seen:            s.rep.SeenCount(),
		Peers:           s.rep.PeerCount(),
	}
	b, err := json.Marshal(body)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetBody(b)
}
