package hostfuncs

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strconv"
	"time"

	"github.com/reglet-dev/warden/internal/domain/audit"
	"github.com/reglet-dev/warden/internal/domain/sandbox"
)

const maxRedirects = 10

// dnsPinningTransport resolves the target once, refuses private addresses
// and dials the address it checked, so a DNS answer that changes between
// check and connect cannot redirect the request.
type dnsPinningTransport struct {
	base      *http.Transport
	resolver  Resolver
	isBlocked func(netip.Addr) bool
}

// RoundTrip implements http.RoundTripper.
func (t *dnsPinningTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	hostname := req.URL.Hostname()

	addr, err := t.resolve(req.Context(), hostname)
	if err != nil {
		return nil, err
	}

	port := req.URL.Port()
	if port == "" {
		port = "80"
		if req.URL.Scheme == "https" {
			port = "443"
		}
	}

	pinned := t.base.Clone()
	pinned.DialContext = func(ctx context.Context, network, _ string) (net.Conn, error) {
		dialer := &net.Dialer{Timeout: sandbox.HTTPTimeout, KeepAlive: 30 * time.Second}
		return dialer.DialContext(ctx, network, net.JoinHostPort(addr.String(), port))
	}
	if req.URL.Scheme == "https" {
		if pinned.TLSClientConfig == nil {
			pinned.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		// certificate is still checked against the hostname
		pinned.TLSClientConfig.ServerName = hostname
	}
	defer pinned.CloseIdleConnections()

	return pinned.RoundTrip(req)
}

func (t *dnsPinningTransport) resolve(ctx context.Context, host string) (netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		if t.isBlocked(addr) {
			return netip.Addr{}, &sandbox.Error{Kind: sandbox.KindPrivateIPDenied, Message: fmt.Sprintf("host %q is a private or reserved address", host)}
		}
		return addr, nil
	}

	addrs, err := t.resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return netip.Addr{}, &sandbox.Error{Kind: sandbox.KindCannotResolve, Message: fmt.Sprintf("cannot resolve host %q", host)}
	}
	if len(addrs) == 0 {
		return netip.Addr{}, &sandbox.Error{Kind: sandbox.KindCannotResolve, Message: fmt.Sprintf("no addresses for host %q", host)}
	}
	// every answer must be public, otherwise a round-robin record could
	// smuggle an internal target
	for _, a := range addrs {
		if t.isBlocked(a) {
			return netip.Addr{}, &sandbox.Error{Kind: sandbox.KindPrivateIPDenied, Message: fmt.Sprintf("host %q resolves to a private or reserved address", host)}
		}
	}
	return addrs[0], nil
}

// HTTPRequest performs an outbound request for the plugin owning sb.
func (d *Dispatcher) HTTPRequest(ctx context.Context, sb *sandbox.Sandbox, req HTTPRequestWire) HTTPResponseWire {
	started := d.now()
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	u, err := sb.ValidateHTTPRequest(req.URL, req.Body)
	if err != nil {
		d.record(ctx, sb, OpHTTPRequest, method+" "+d.summarizeRawURL(req.URL), statusFor(err), err, started)
		return HTTPResponseWire{Error: toErrorDetail(err)}
	}
	args := method + " " + d.redactor.ScrubURL(u)

	reqCtx, cancel := context.WithTimeout(ctx, sandbox.HTTPTimeout)
	defer cancel()

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(reqCtx, method, u.String(), body)
	if err != nil {
		err = &sandbox.Error{Kind: sandbox.KindInvalidURL, Message: "cannot build request"}
		d.record(ctx, sb, OpHTTPRequest, args, audit.StatusError, err, started)
		return HTTPResponseWire{Error: toErrorDetail(err)}
	}
	for key, values := range req.Headers {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", d.version.UserAgent())
	}

	resp, err := d.client(sb).Do(httpReq)
	if err != nil {
		var sbErr *sandbox.Error
		if errors.As(err, &sbErr) {
			d.record(ctx, sb, OpHTTPRequest, args, statusFor(sbErr), sbErr, started)
			return HTTPResponseWire{Error: toErrorDetail(sbErr)}
		}
		slog.WarnContext(ctx, "plugin http request failed", "plugin", sb.PluginID(), "error", err)
		d.record(ctx, sb, OpHTTPRequest, args, audit.StatusError, err, started)
		return HTTPResponseWire{Error: &ErrorDetail{Kind: "network", Message: "request failed"}}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, sandbox.MaxResponseBodyBytes+1))
	if err != nil {
		d.record(ctx, sb, OpHTTPRequest, args, audit.StatusError, err, started)
		return HTTPResponseWire{Error: &ErrorDetail{Kind: "network", Message: "failed to read response body"}}
	}
	if len(respBody) > sandbox.MaxResponseBodyBytes {
		err := &sandbox.Error{Kind: sandbox.KindResponseTooLarge, Message: fmt.Sprintf("response exceeds %d bytes", sandbox.MaxResponseBodyBytes)}
		d.record(ctx, sb, OpHTTPRequest, args, audit.StatusDenied, err, started)
		return HTTPResponseWire{Error: toErrorDetail(err)}
	}

	d.record(ctx, sb, OpHTTPRequest, args+" -> "+strconv.Itoa(resp.StatusCode), audit.StatusAllowed, nil, started)
	return HTTPResponseWire{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       respBody,
	}
}

// client builds an http.Client whose transport pins DNS and whose redirects
// go back through the sandbox.
func (d *Dispatcher) client(sb *sandbox.Sandbox) *http.Client {
	base := &http.Transport{
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		Proxy:                 nil, // a proxy would dial on our behalf and bypass pinning
	}
	return &http.Client{
		Timeout: sandbox.HTTPTimeout,
		Transport: &dnsPinningTransport{
			base:      base,
			resolver:  d.resolver,
			isBlocked: d.isBlocked,
		},
		CheckRedirect: func(next *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return sb.ValidateRedirect(next.URL)
		},
	}
}

func (d *Dispatcher) summarizeRawURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	return d.redactor.ScrubURL(u)
}
