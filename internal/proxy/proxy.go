// Package proxy routes dashboard traffic to per-trial VNC servers by
// hostname: trial7.example.com reaches the workload listening on
// basePort+7. The target set changes as trials come and go, so routes are
// derived per request instead of configured.
package proxy

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

var trialHostRe = regexp.MustCompile(`^trial(\d+)\.`)

// requestStripHeaders are recomputed by the upstream client.
var requestStripHeaders = map[string]bool{
	"Host":           true,
	"Content-Length": true,
}

// responseStripHeaders would mislead the client about the relayed body.
var responseStripHeaders = map[string]bool{
	"Content-Length":    true,
	"Content-Encoding":  true,
	"Transfer-Encoding": true,
}

// Server is the hostname-routed reverse proxy.
type Server struct {
	basePort     int
	upstreamHost string
	logger       *slog.Logger
	client       *http.Client
	dialer       *websocket.Dialer
	upgrader     websocket.Upgrader
}

func New(basePort int, upstreamHost string, logger *slog.Logger) *Server {
	return &Server{
		basePort:     basePort,
		upstreamHost: upstreamHost,
		logger:       logger,
		client: &http.Client{
			// the proxy relays redirects untouched
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
			Timeout: 60 * time.Second,
		},
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// trialPort derives the upstream port from the request's hostname.
func (s *Server) trialPort(host string) (int, error) {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	m := trialHostRe.FindStringSubmatch(host)
	if m == nil {
		return 0, fmt.Errorf("hostname %q does not match trial<N>.<domain>", host)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("trial number out of range in %q", host)
	}
	return s.basePort + n, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	port, err := s.trialPort(r.Host)
	if err != nil {
		s.logger.Debug("rejected request", "host", r.Host, "err", err)
		http.Error(w, "Invalid hostname: use trial<N>.<domain> to reach a trial's VNC session", http.StatusBadRequest)
		return
	}

	if r.URL.Path == "/websockify" {
		s.relayWebsocket(w, r, port)
		return
	}
	s.forward(w, r, port)
}

// forward performs one plain HTTP round trip against the trial's VNC server.
func (s *Server) forward(w http.ResponseWriter, r *http.Request, port int) {
	target := url.URL{
		Scheme:   "http",
		Host:     net.JoinHostPort(s.upstreamHost, strconv.Itoa(port)),
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
	}
	req, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), r.Body)
	if err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	for name, values := range r.Header {
		if requestStripHeaders[http.CanonicalHeaderKey(name)] {
			continue
		}
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("upstream unreachable", "port", port, "err", err)
		http.Error(w, fmt.Sprintf("VNC server on port %d is not reachable", port), http.StatusServiceUnavailable)
		return
	}
	defer resp.Body.Close()

	header := w.Header()
	for name, values := range resp.Header {
		if responseStripHeaders[http.CanonicalHeaderKey(name)] {
			continue
		}
		for _, v := range values {
			header.Add(name, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		s.logger.Debug("response relay interrupted", "port", port, "err", err)
	}
}

// relayWebsocket bridges the client's websocket to the trial's websockify
// endpoint. The first error on either side tears both connections down.
func (s *Server) relayWebsocket(w http.ResponseWriter, r *http.Request, port int) {
	target := url.URL{
		Scheme:   "ws",
		Host:     net.JoinHostPort(s.upstreamHost, strconv.Itoa(port)),
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
	}
	upstream, resp, err := s.dialer.Dial(target.String(), nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		s.logger.Warn("websockify upstream unreachable", "port", port, "err", err)
		http.Error(w, fmt.Sprintf("VNC server on port %d is not reachable", port), http.StatusServiceUnavailable)
		return
	}
	defer upstream.Close()

	client, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer client.Close()
	s.logger.Info("websockify session opened", "port", port, "remote", r.RemoteAddr)

	errc := make(chan error, 2)
	go pump(client, upstream, errc)
	go pump(upstream, client, errc)
	<-errc
	s.logger.Info("websockify session closed", "port", port, "remote", r.RemoteAddr)
}

// pump copies frames from src to dst until either side fails.
func pump(dst, src *websocket.Conn, errc chan<- error) {
	for {
		mt, data, err := src.ReadMessage()
		if err != nil {
			errc <- err
			return
		}
		if err := dst.WriteMessage(mt, data); err != nil {
			errc <- err
			return
		}
	}
}
