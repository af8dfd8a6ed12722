package internal

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
)

// defaultRequestTimeout bounds the total duration of a request (dial
// through body close) when neither the caller's context nor a WithTimeout
// option says otherwise.
const defaultRequestTimeout = 20 * time.Second

// Discover performs a DNS-based CalDAV/CardDAV service discovery as described
// in RFC 6764 section 6. It returns the URL to the CalDAV/CardDAV server.
func Discover(service string, host string) (string, error) {
	if service != "caldav" && service != "carddav" {
		return "", fmt.Errorf("webdav: service discovery of type %v not supported", service)
	}

	path := ""

	// Check for SRV records for the service we want, only lookup secure versions
	// (caldavs, carddavs), plaintext connections are insecure
	_, addrs, err := net.LookupSRV(fmt.Sprintf("%vs", service), "tcp", host)
	if dnsErr, ok := err.(*net.DNSError); ok {
		if dnsErr.IsTemporary {
			return "", err
		}
	} else if err != nil {
		return "", err
	}

	if len(addrs) > 0 {
		srvTarget := strings.TrimSuffix(addrs[0].Target, ".")

		if srvTarget != "" {
			txtRecs, err := net.LookupTXT(fmt.Sprintf("_%vs._tcp.%v", service, host))
			if dnsErr, ok := err.(*net.DNSError); ok {
				if dnsErr.IsTemporary {
					return "", err
				}
			} else if err != nil {
				return "", err
			}

			for _, txtRec := range txtRecs {
				for _, txtRecKeyVal := range strings.Split(txtRec, " ") {
					if strings.HasPrefix(strings.ToLower(txtRecKeyVal), "path=") {
						path = txtRecKeyVal[5:]
						break
					}
				}
				if path != "" {
					break
				}
			}

			if addrs[0].Port == 443 {
				host = srvTarget
			} else {
				host = fmt.Sprintf("%v:%v", srvTarget, addrs[0].Port)
			}
		}
	}

	if path == "" {
		path = fmt.Sprintf("/.well-known/%v", service)
	}

	u := url.URL{Scheme: "https", Host: host, Path: path}
	serviceUrl := u.String()

	req, err := http.NewRequest(http.MethodOptions, serviceUrl, nil)
	if err != nil {
		return "", err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	resp.Body.Close()

	if resp.StatusCode/100 != 2 && resp.StatusCode != http.StatusUnauthorized {
		return "", fmt.Errorf("HTTP request to %v failed: %v %v", serviceUrl, resp.StatusCode, resp.Status)
	}

	return serviceUrl, nil
}

// HTTPClient performs HTTP requests. It's implemented by *http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is the shared low-level transport used by both the CalDAV and
// CardDAV packages. It owns request construction, response error
// classification, request-body compression negotiation and response
// decompression, and streaming multistatus decoding.
type Client struct {
	http           HTTPClient
	endpoint       *url.URL
	log            zerolog.Logger
	compress       *CompressionPolicy
	defaultTimeout time.Duration
}

// ClientOption configures optional behavior of a Client. Everything a
// caller can tune is a constructor argument or an Option, never an
// environment variable or a config file: this is a library, not a
// service, and it keeps no state outside of what's passed in.
type ClientOption func(*Client)

// WithLogger attaches a zerolog.Logger that failed requests and
// compression-negotiation decisions are written to. The default is a
// no-op logger.
func WithLogger(log zerolog.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// WithCompressionPolicy overrides the default Auto compression policy.
func WithCompressionPolicy(p *CompressionPolicy) ClientOption {
	return func(c *Client) { c.compress = p }
}

// WithTimeout overrides the client's default per-request timeout, which
// bounds total request duration (dial through body close) for any
// request whose context doesn't already carry its own deadline. The
// default is 20 seconds. Passing 0 disables the default entirely, leaving
// requests to run until the caller's own context is canceled.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.defaultTimeout = d }
}

// defaultMaxIdleConnsPerHost bounds the pooled, keep-alive connections the
// default transport holds open to a single origin, so a sequence of
// PROPFIND/REPORT/GET calls against the same calendar or address book
// reuses connections instead of paying a new TLS+ALPN handshake each time.
const defaultMaxIdleConnsPerHost = 8

// newDefaultHTTPClient builds the *http.Client that NewClient uses when it
// is given a nil HTTPClient. The public constructors in the root, caldav
// and carddav packages replace a nil *http.Client with http.DefaultClient
// before calling NewClient, so clients built through them do not use this
// transport. Its Transport is upgraded for HTTP/2 (RFC 7540) over
// TLS via ALPN, so a server that multiplexes can run several of this
// library's requests concurrently over one connection.
func newDefaultHTTPClient() *http.Client {
	transport := &http.Transport{
		MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
	}
	http2.ConfigureTransport(transport)
	return &http.Client{Transport: transport}
}

func NewClient(c HTTPClient, endpoint string, opts ...ClientOption) (*Client, error) {
	if c == nil {
		c = newDefaultHTTPClient()
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	if u.Path == "" {
		u.Path = "/"
	}

	client := &Client{
		http:           c,
		endpoint:       u,
		log:            NopLogger(),
		compress:       NewCompressionPolicy(CompressionAuto, AutoDefaultEncoding),
		defaultTimeout: defaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

func (c *Client) ResolveHref(p string) *url.URL {
	if !strings.HasPrefix(p, "/") {
		p = path.Join(c.endpoint.Path, p)
	}
	return &url.URL{
		Scheme: c.endpoint.Scheme,
		User:   c.endpoint.User,
		Host:   c.endpoint.Host,
		Path:   p,
	}
}

func (c *Client) origin() string {
	return c.endpoint.Scheme + "://" + c.endpoint.Host
}

func (c *Client) NewRequest(method string, path string, body io.Reader) (*http.Request, error) {
	return c.NewRequestContext(context.Background(), method, path, body)
}

// NewRequestContext is like NewRequest but lets the caller carry their own
// context, whose deadline (if any) overrides the client's default
// timeout for this one request.
func (c *Client) NewRequestContext(ctx context.Context, method string, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.ResolveHref(path).String(), body)
	if err != nil {
		return nil, err
	}
	AddAcceptEncoding(req.Header)
	return req, nil
}

// requestContext derives the context a single request runs under: a
// caller-supplied deadline is left untouched, otherwise the client's
// default timeout applies.
func (c *Client) requestContext(req *http.Request) (context.Context, context.CancelFunc) {
	if _, ok := req.Context().Deadline(); ok {
		return context.WithCancel(req.Context())
	}
	if c.defaultTimeout <= 0 {
		return context.WithCancel(req.Context())
	}
	return context.WithTimeout(req.Context(), c.defaultTimeout)
}

// cancelOnClose releases a request's timeout context once its response
// body has been fully read and closed, rather than as soon as Do
// returns, since several callers (Get, GetRange) hand the body back to
// their own caller to stream at their own pace.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// NewXMLRequest builds a request whose body is the XML encoding of v,
// compressing it per the client's compression policy. The probe that the
// policy may run on first use of an origin runs under
// context.Background(); use NewXMLRequestContext to bound it.
func (c *Client) NewXMLRequest(method string, path string, v interface{}) (*http.Request, error) {
	return c.NewXMLRequestContext(context.Background(), method, path, v)
}

// NewXMLRequestContext is like NewXMLRequest but lets the caller bound the
// (rare) probe round-trip that Auto compression mode may perform on the
// first request to a new origin.
func (c *Client) NewXMLRequestContext(ctx context.Context, method string, path string, v interface{}) (*http.Request, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	if err := xml.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}

	body := buf.Bytes()
	encoding, err := c.compress.EncodingFor(ctx, c.origin(), c.probeCompression)
	if err != nil {
		return nil, err
	}

	if encoding != EncodingIdentity {
		compressed, err := CompressPayload(body, encoding)
		if err != nil {
			c.log.Warn().Err(err).Str("encoding", encoding.String()).Msg("webdav: compressing request body failed, sending uncompressed")
		} else {
			body = compressed
		}
	}

	req, err := c.NewRequest(method, path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "text/xml; charset=\"utf-8\"")
	if encoding != EncodingIdentity && len(body) > 0 {
		AddContentEncoding(req.Header, encoding)
	}

	return req, nil
}

// probeCompression sends a cheap, side-effect-free PROPFIND compressed
// with the candidate encoding and reports the encoding the server
// actually accepted.
func (c *Client) probeCompression(ctx context.Context, candidate ContentEncoding) (ContentEncoding, error) {
	compressed, err := CompressPayload([]byte(ProbeBody), candidate)
	if err != nil {
		return EncodingIdentity, err
	}

	req, err := http.NewRequestWithContext(ctx, "PROPFIND", c.endpoint.String(), bytes.NewReader(compressed))
	if err != nil {
		return EncodingIdentity, err
	}
	req.Header.Set("Content-Type", "text/xml; charset=\"utf-8\"")
	req.Header.Set("Depth", "0")
	AddContentEncoding(req.Header, candidate)
	AddAcceptEncoding(req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Msg("webdav: compression probe request failed, assuming identity")
		return EncodingIdentity, nil
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusUnsupportedMediaType ||
		resp.StatusCode == http.StatusNotImplemented ||
		resp.StatusCode == http.StatusBadRequest {
		c.log.Debug().Str("origin", c.origin()).Msg("webdav: server rejected compressed request during probe, pinning identity")
		return EncodingIdentity, nil
	}
	return candidate, nil
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	baseCtx := req.Context()
	ctx, cancel := c.requestContext(req)
	req = req.WithContext(ctx)

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{Method: req.Method, Path: req.URL.Path, Err: err}
		}
		return nil, err
	}

	if encoding := DetectEncoding(resp.Header); encoding != EncodingIdentity {
		decoded, err := DecompressStream(resp.Body, encoding)
		if err != nil {
			resp.Body.Close()
			cancel()
			return nil, fmt.Errorf("webdav: decompressing response body: %w", err)
		}
		resp.Body = &readCloser{Reader: decoded, closer: resp.Body}
		resp.Header.Del("Content-Encoding")
		resp.Header.Del("Content-Length")
	}

	if resp.StatusCode/100 != 2 {
		if attempted := DetectEncoding(req.Header); attempted != EncodingIdentity {
			if c.compress.ObserveOutcome(c.origin(), attempted, resp.StatusCode) {
				resp.Body.Close()
				cancel()
				retry, err := c.uncompressedRetry(baseCtx, req, attempted)
				if err != nil {
					return nil, err
				}
				return c.Do(retry)
			}
		}

		defer resp.Body.Close()
		defer cancel()

		contentType := resp.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "text/plain"
		}

		var wrappedErr error
		t, _, _ := mime.ParseMediaType(contentType)
		if t == "application/xml" || t == "text/xml" {
			var davErr Error
			if err := xml.NewDecoder(resp.Body).Decode(&davErr); err != nil {
				wrappedErr = err
			} else {
				wrappedErr = &davErr
			}
		} else if strings.HasPrefix(t, "text/") {
			lr := io.LimitedReader{R: resp.Body, N: 1024}
			var buf bytes.Buffer
			io.Copy(&buf, &lr)
			if s := strings.TrimSpace(buf.String()); s != "" {
				if lr.N == 0 {
					s += " […]"
				}
				wrappedErr = fmt.Errorf("%v", s)
			}
		}

		c.log.Debug().Int("status", resp.StatusCode).Str("method", req.Method).Str("path", req.URL.Path).Msg("webdav: request failed")

		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{Method: req.Method, Path: req.URL.Path, Err: wrappedErr}
		}
		return nil, &HTTPError{Code: resp.StatusCode, Method: req.Method, Path: req.URL.Path, Err: wrappedErr}
	}

	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// uncompressedRetry rebuilds req with its body decompressed and
// Content-Encoding stripped, for Do to resend once ObserveOutcome reports
// that the origin just rejected a compressed request. baseCtx is the
// caller's original context (before Do wrapped it in a per-request
// timeout), so the retry gets its own fresh deadline rather than reusing
// one already canceled.
func (c *Client) uncompressedRetry(baseCtx context.Context, req *http.Request, attempted ContentEncoding) (*http.Request, error) {
	if req.GetBody == nil {
		return nil, fmt.Errorf("webdav: cannot retry %v %v uncompressed: request body isn't replayable", req.Method, req.URL.Path)
	}
	compressedBody, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	compressed, err := io.ReadAll(compressedBody)
	if err != nil {
		return nil, err
	}
	plain, err := DecompressBody(compressed, attempted)
	if err != nil {
		return nil, err
	}

	retry, err := http.NewRequestWithContext(baseCtx, req.Method, req.URL.String(), bytes.NewReader(plain))
	if err != nil {
		return nil, err
	}
	retry.Header = req.Header.Clone()
	retry.Header.Del("Content-Encoding")
	retry.Header.Set("Content-Length", fmt.Sprintf("%d", len(plain)))
	return retry, nil
}

type readCloser struct {
	io.Reader
	closer io.Closer
}

func (rc *readCloser) Close() error {
	if c, ok := rc.Reader.(io.Closer); ok {
		c.Close()
	}
	return rc.closer.Close()
}

func (c *Client) DoMultiStatus(req *http.Request) (*Multistatus, error) {
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMultiStatus {
		return nil, fmt.Errorf("HTTP multi-status request failed: %v", resp.Status)
	}

	ms, err := DecodeMultistatus(resp.Body)
	if err != nil {
		return nil, err
	}

	return ms, nil
}

// DoMultiStatusFunc is like DoMultiStatus but streams each response to fn
// as it's parsed, instead of materializing the whole list. It returns the
// top-level sync-token (if any) and, separately from a hard error, the
// HTTP status so callers can distinguish a fully truncated 507 response
// from a decode failure.
func (c *Client) DoMultiStatusFunc(req *http.Request, fn func(Response) error) (status int, syncToken string, err error) {
	resp, err := c.Do(req)
	if err != nil {
		var httpErr *HTTPError
		if asHTTPError(err, &httpErr) {
			return httpErr.Code, "", err
		}
		return 0, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMultiStatus && resp.StatusCode != http.StatusInsufficientStorage {
		return resp.StatusCode, "", fmt.Errorf("HTTP multi-status request failed: %v", resp.Status)
	}

	result, err := DecodeMultistatusFunc(resp.Body, MultistatusSinkFunc(fn))
	if err != nil {
		return resp.StatusCode, result.SyncToken, err
	}
	return resp.StatusCode, result.SyncToken, nil
}

func asHTTPError(err error, target **HTTPError) bool {
	he, ok := err.(*HTTPError)
	if !ok {
		return false
	}
	*target = he
	return true
}

func (c *Client) Propfind(path string, depth Depth, propfind *Propfind) (*Multistatus, error) {
	req, err := c.NewXMLRequest("PROPFIND", path, propfind)
	if err != nil {
		return nil, err
	}

	req.Header.Add("Depth", depth.String())

	return c.DoMultiStatus(req)
}

// PropfindFlat performs a PROPFIND request with a zero depth.
func (c *Client) PropfindFlat(path string, propfind *Propfind) (*Response, error) {
	ms, err := c.Propfind(path, DepthZero, propfind)
	if err != nil {
		return nil, err
	}

	return ms.Get(c.ResolveHref(path).Path)
}

func parseCommaSeparatedSet(values []string, upper bool) map[string]bool {
	m := make(map[string]bool)
	for _, v := range values {
		fields := strings.FieldsFunc(v, func(r rune) bool {
			return unicode.IsSpace(r) || r == ','
		})
		for _, f := range fields {
			if upper {
				f = strings.ToUpper(f)
			} else {
				f = strings.ToLower(f)
			}
			m[f] = true
		}
	}
	return m
}

func (c *Client) Options(path string) (classes map[string]bool, methods map[string]bool, err error) {
	req, err := c.NewRequest(http.MethodOptions, path, nil)
	if err != nil {
		return nil, nil, err
	}

	resp, err := c.Do(req)
	if err != nil {
		return nil, nil, err
	}
	resp.Body.Close()

	classes = parseCommaSeparatedSet(resp.Header["Dav"], false)
	if !classes["1"] {
		return nil, nil, fmt.Errorf("webdav: server doesn't support DAV class 1")
	}

	methods = parseCommaSeparatedSet(resp.Header["Allow"], true)
	return classes, methods, nil
}

// SupportsReport reports whether the server advertises REPORT support for
// the given path via its OPTIONS Allow header.
func (c *Client) SupportsReport(path string) (bool, error) {
	_, methods, err := c.Options(path)
	if err != nil {
		return false, err
	}
	return methods["REPORT"], nil
}

// SyncCollectionResult is the outcome of a sync-collection REPORT.
type SyncCollectionResult struct {
	Multistatus *Multistatus
	// NewSyncToken is the best-known sync token to resume from on the
	// next call, populated even when Truncated is true so the caller can
	// keep making progress across a sequence of limited batches.
	NewSyncToken string
	// Truncated is true when the server returned 507 Insufficient
	// Storage, meaning the result set was cut short by the requested
	// Limit and more changes remain to be fetched.
	Truncated bool
}

// SyncCollection performs a `sync-collection` REPORT operation on a
// resource (RFC 6578).
func (c *Client) SyncCollection(path, syncToken string, level Depth, limit *Limit, prop *Prop) (*SyncCollectionResult, error) {
	q := SyncCollectionQuery{
		SyncToken: syncToken,
		SyncLevel: level.String(),
		Limit:     limit,
		Prop:      prop,
	}

	req, err := c.NewXMLRequest("REPORT", path, &q)
	if err != nil {
		return nil, err
	}

	ctx, cancel := c.requestContext(req)
	defer cancel()
	req = req.WithContext(ctx)

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{Method: req.Method, Path: req.URL.Path, Err: err}
		}
		return nil, err
	}

	if encoding := DetectEncoding(resp.Header); encoding != EncodingIdentity {
		decoded, derr := DecompressStream(resp.Body, encoding)
		if derr != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("webdav: decompressing response body: %w", derr)
		}
		resp.Body = &readCloser{Reader: decoded, closer: resp.Body}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMultiStatus && resp.StatusCode != http.StatusInsufficientStorage {
		return nil, fmt.Errorf("HTTP sync-collection request failed: %v", resp.Status)
	}

	ms, err := DecodeMultistatus(resp.Body)
	if err != nil {
		return nil, err
	}

	newToken := ms.SyncToken
	if newToken == "" {
		newToken = resp.Header.Get("Sync-Token")
	}
	if newToken == "" {
		// Per-item fallback: some servers only stamp the token onto the
		// last response rather than the multistatus root or the header.
		for i := len(ms.Responses) - 1; i >= 0; i-- {
			var tok struct {
				XMLName xml.Name `xml:"DAV: sync-token"`
				Value   string   `xml:",chardata"`
			}
			if err := ms.Responses[i].DecodeProp(&tok); err == nil && tok.Value != "" {
				newToken = tok.Value
				break
			}
		}
	}

	return &SyncCollectionResult{
		Multistatus:  ms,
		NewSyncToken: newToken,
		Truncated:    resp.StatusCode == http.StatusInsufficientStorage,
	}, nil
}
