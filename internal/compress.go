package internal

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

// ContentEncoding identifies one of the Content-Encoding tokens this
// package understands.
type ContentEncoding int

const (
	EncodingIdentity ContentEncoding = iota
	EncodingGzip
	EncodingBrotli
	EncodingZstd
)

func (e ContentEncoding) String() string {
	switch e {
	case EncodingGzip:
		return "gzip"
	case EncodingBrotli:
		return "br"
	case EncodingZstd:
		return "zstd"
	default:
		return "identity"
	}
}

// DetectEncoding returns the encoding named by the first token of the
// response's Content-Encoding header, or EncodingIdentity if absent or
// unrecognized. Only the first token is considered: servers that chain
// encodings (e.g. "gzip, br") are not supported, matching RFC 7231's
// allowance for a single content-coding in practice.
func DetectEncoding(h http.Header) ContentEncoding {
	v := h.Get("Content-Encoding")
	if v == "" {
		return EncodingIdentity
	}
	tok := strings.TrimSpace(strings.SplitN(v, ",", 2)[0])
	switch strings.ToLower(tok) {
	case "gzip":
		return EncodingGzip
	case "br":
		return EncodingBrotli
	case "zstd":
		return EncodingZstd
	default:
		return EncodingIdentity
	}
}

// AddAcceptEncoding advertises every decoder this package supports.
func AddAcceptEncoding(h http.Header) {
	h.Set("Accept-Encoding", "br, zstd, gzip")
}

// DecompressBody fully decodes body according to encoding and returns the
// decompressed bytes.
func DecompressBody(body []byte, encoding ContentEncoding) ([]byte, error) {
	r, err := DecompressStream(bytes.NewReader(body), encoding)
	if err != nil {
		return nil, err
	}
	defer closeIfCloser(r)
	return io.ReadAll(r)
}

// DecompressStream wraps r in a decompressing reader for the given
// encoding. The caller is responsible for closing the result if it
// implements io.Closer.
func DecompressStream(r io.Reader, encoding ContentEncoding) (io.Reader, error) {
	switch encoding {
	case EncodingIdentity:
		return r, nil
	case EncodingGzip:
		return gzip.NewReader(r)
	case EncodingBrotli:
		return brotli.NewReader(r), nil
	case EncodingZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return &zstdReadCloser{zr}, nil
	default:
		return nil, fmt.Errorf("webdav: unsupported content encoding %v", encoding)
	}
}

type zstdReadCloser struct {
	*zstd.Decoder
}

func (z *zstdReadCloser) Close() error {
	z.Decoder.Close()
	return nil
}

func closeIfCloser(r io.Reader) {
	if c, ok := r.(io.Closer); ok {
		c.Close()
	}
}

// CompressPayload compresses data using the given encoding. EncodingIdentity
// returns data unchanged.
func CompressPayload(data []byte, encoding ContentEncoding) ([]byte, error) {
	switch encoding {
	case EncodingIdentity:
		return data, nil
	case EncodingGzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case EncodingBrotli:
		var buf bytes.Buffer
		w := brotli.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case EncodingZstd:
		var buf bytes.Buffer
		w, err := zstd.NewWriter(&buf)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("webdav: unsupported content encoding %v", encoding)
	}
}

// AddContentEncoding sets the Content-Encoding header for a request body
// compressed with the given encoding. It's a no-op for EncodingIdentity.
func AddContentEncoding(h http.Header, encoding ContentEncoding) {
	if encoding == EncodingIdentity {
		h.Del("Content-Encoding")
		return
	}
	h.Set("Content-Encoding", encoding.String())
}

// NormalizeDecompressedHeaders strips a stale Content-Encoding header and
// Content-Length after the body has already been decompressed in memory,
// so callers downstream don't mistake the header for the in-memory body's
// actual framing.
func NormalizeDecompressedHeaders(h http.Header, decompressedLen int) {
	h.Del("Content-Encoding")
	h.Set("Content-Length", fmt.Sprintf("%d", decompressedLen))
}

// RequestCompressionMode selects how outgoing XML request bodies (PROPFIND,
// REPORT and the other requests built by Client.NewXMLRequest) are
// compressed. PUT bodies are always sent uncompressed.
type RequestCompressionMode int

const (
	// CompressionAuto probes each origin once and reuses whatever the
	// server accepted, falling back to identity on any sign of trouble.
	CompressionAuto RequestCompressionMode = iota
	// CompressionDisabled never compresses request bodies.
	CompressionDisabled
	// CompressionForce always compresses with a fixed encoding, skipping
	// the probe.
	CompressionForce
)

// AutoDefaultEncoding is used for the first request to an origin in Auto
// mode, before any negotiation has happened.
const AutoDefaultEncoding = EncodingGzip

// ProbeBody is a minimal, well-formed PROPFIND body used to test whether a
// server accepts a compressed request without side effects.
const ProbeBody = `<?xml version="1.0" encoding="utf-8"?>` +
	`<D:propfind xmlns:D="DAV:"><D:prop><D:current-user-principal/></D:prop></D:propfind>`

// CompressionPolicy decides, per origin, whether and how to compress an
// outgoing request body, and caches the outcome of past negotiations.
// The first request to an origin either uses the caller-forced encoding
// or is preceded by a cheap probe request. In Auto mode, a 415/501/400
// response to any later compressed request pins that origin to identity
// from then on; a Force policy keeps its fixed encoding regardless.
type CompressionPolicy struct {
	mode  RequestCompressionMode
	fixed ContentEncoding // valid when mode == CompressionForce

	mu         sync.Mutex
	negotiated map[string]ContentEncoding
	probing    map[string]*sync.Mutex
}

// NewCompressionPolicy constructs a policy. For CompressionForce, encoding
// selects the fixed encoding to use.
func NewCompressionPolicy(mode RequestCompressionMode, encoding ContentEncoding) *CompressionPolicy {
	return &CompressionPolicy{
		mode:       mode,
		fixed:      encoding,
		negotiated: make(map[string]ContentEncoding),
		probing:    make(map[string]*sync.Mutex),
	}
}

// EncodingFor returns the encoding that should be used for a request to
// origin, probing the origin first if this is an Auto-mode policy seeing
// it for the first time. probe is called at most once per origin and must
// perform a single round trip, returning the encoding the server accepted
// (EncodingIdentity if it rejected compression or the probe failed).
func (p *CompressionPolicy) EncodingFor(ctx context.Context, origin string, probe func(context.Context, ContentEncoding) (ContentEncoding, error)) (ContentEncoding, error) {
	switch p.mode {
	case CompressionDisabled:
		return EncodingIdentity, nil
	case CompressionForce:
		return p.fixed, nil
	}

	p.mu.Lock()
	if enc, ok := p.negotiated[origin]; ok {
		p.mu.Unlock()
		return enc, nil
	}
	lock, ok := p.probing[origin]
	if !ok {
		lock = &sync.Mutex{}
		p.probing[origin] = lock
	}
	p.mu.Unlock()

	// Double-checked locking: only one goroutine actually probes a given
	// origin; the rest wait and then read the cached result.
	lock.Lock()
	defer lock.Unlock()

	p.mu.Lock()
	if enc, ok := p.negotiated[origin]; ok {
		p.mu.Unlock()
		return enc, nil
	}
	p.mu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	enc, err := probe(probeCtx, AutoDefaultEncoding)
	if err != nil {
		enc = EncodingIdentity
	}

	p.mu.Lock()
	p.negotiated[origin] = enc
	p.mu.Unlock()
	return enc, nil
}

// ObserveOutcome inspects the status code of a response to a compressed
// request and pins origin to identity if the server rejected compression.
// It reports whether the caller should retry the request uncompressed.
func (p *CompressionPolicy) ObserveOutcome(origin string, attempted ContentEncoding, status int) (shouldRetry bool) {
	if attempted == EncodingIdentity {
		return false
	}
	if status != http.StatusUnsupportedMediaType &&
		status != http.StatusNotImplemented &&
		status != http.StatusBadRequest {
		return false
	}

	p.mu.Lock()
	p.negotiated[origin] = EncodingIdentity
	p.mu.Unlock()
	return true
}
