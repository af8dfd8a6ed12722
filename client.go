package webdav

import (
	"context"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/Goopil/fast-dav-rs/internal"
	"github.com/rs/zerolog"
)

// Client is a generic WebDAV client (RFC 4918). The caldav and carddav
// packages each embed one and layer their own query/report/discovery
// operations on top of it.
type Client struct {
	ic *internal.Client
}

// Option configures a Client. See internal.ClientOption for the full set;
// these are re-exported so callers never need to import the internal
// package directly.
type Option = internal.ClientOption

// WithLogger attaches a zerolog.Logger for logging failed requests and
// compression-negotiation decisions. The default is silent.
func WithLogger(log zerolog.Logger) Option {
	return internal.WithLogger(log)
}

// CompressionMode selects how request bodies are compressed.
type CompressionMode = internal.RequestCompressionMode

const (
	CompressionAuto     = internal.CompressionAuto
	CompressionDisabled = internal.CompressionDisabled
	CompressionForce    = internal.CompressionForce
)

// Encoding identifies a Content-Encoding this library can produce or
// consume.
type Encoding = internal.ContentEncoding

const (
	EncodingIdentity = internal.EncodingIdentity
	EncodingGzip     = internal.EncodingGzip
	EncodingBrotli   = internal.EncodingBrotli
	EncodingZstd     = internal.EncodingZstd
)

// WithCompression overrides the default Auto compression policy
// (negotiate gzip per-origin, falling back to identity on any sign the
// server doesn't like it). Force always uses encoding without probing;
// Disabled never compresses.
func WithCompression(mode CompressionMode, encoding Encoding) Option {
	return internal.WithCompressionPolicy(internal.NewCompressionPolicy(mode, encoding))
}

// WithTimeout overrides the client's default per-request timeout (20s),
// which bounds the total duration of any request whose own context
// doesn't already carry a deadline. Pass 0 to disable the default and
// let requests run until the caller's context is canceled.
func WithTimeout(d time.Duration) Option {
	return internal.WithTimeout(d)
}

func NewClient(c *http.Client, endpoint string, opts ...Option) (*Client, error) {
	if c == nil {
		c = http.DefaultClient
	}
	ic, err := internal.NewClient(c, endpoint, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{ic}, nil
}

// FindCurrentUserPrincipal performs a Depth 0 PROPFIND for
// DAV:current-user-principal against the client's endpoint.
func (c *Client) FindCurrentUserPrincipal() (string, error) {
	propfind := internal.NewPropPropfind(internal.CurrentUserPrincipalName)

	resp, err := c.ic.PropfindFlat("", propfind)
	if err != nil {
		return "", err
	}

	var prop currentUserPrincipalProp
	if err := resp.DecodeProp(&prop); err != nil {
		return "", err
	}
	return prop.Href.Path, nil
}

// Stat fetches the common resource metadata (resourcetype, getetag,
// getcontenttype, getlastmodified, getcontentlength) for path.
func (c *Client) Stat(path string) (*FileInfo, error) {
	propfind := internal.NewPropPropfind(
		internal.ResourceTypeName,
		internal.GetETagName,
		internal.GetContentTypeName,
		internal.GetLastModifiedName,
		internal.GetContentLengthName,
	)

	resp, err := c.ic.PropfindFlat(path, propfind)
	if err != nil {
		return nil, err
	}
	return c.fileInfoFromResponse(path, resp)
}

// StatMany runs Stat once per path in paths, bounded to at most
// maxConcurrency requests in flight at a time. Results are returned in
// the same order as paths; a failure against one path doesn't stop the
// others. A maxConcurrency of 0 or less means unbounded.
func (c *Client) StatMany(ctx context.Context, paths []string, maxConcurrency int) []BatchResult[*FileInfo] {
	return RunBatch(ctx, paths, maxConcurrency, func(_ context.Context, path string) (*FileInfo, error) {
		return c.Stat(path)
	})
}

// ReadDir lists the direct children of a collection (Depth 1 PROPFIND),
// or all of its descendants (Depth infinity PROPFIND) when recursive is
// true.
func (c *Client) ReadDir(path string, recursive bool) ([]FileInfo, error) {
	depth := internal.DepthOne
	if recursive {
		depth = internal.DepthInfinity
	}

	propfind := internal.NewPropPropfind(
		internal.ResourceTypeName,
		internal.GetETagName,
		internal.GetContentTypeName,
		internal.GetLastModifiedName,
		internal.GetContentLengthName,
	)

	ms, err := c.ic.Propfind(path, depth, propfind)
	if err != nil {
		return nil, err
	}

	self := c.resolvePath(path)
	out := make([]FileInfo, 0, len(ms.Responses))
	for i := range ms.Responses {
		resp := &ms.Responses[i]
		p, err := resp.Path()
		if err != nil {
			return nil, err
		}
		if p == self {
			continue
		}
		fi, err := c.fileInfoFromResponse(p, resp)
		if err != nil {
			return nil, err
		}
		out = append(out, *fi)
	}
	return out, nil
}

func (c *Client) fileInfoFromResponse(reqPath string, resp *internal.Response) (*FileInfo, error) {
	p, err := resp.Path()
	if err != nil {
		p = reqPath
	}

	var resType internal.ResourceType
	if err := resp.DecodeProp(&resType); err != nil && !internal.IsNotFound(err) {
		return nil, err
	}

	var etag getETagProp
	if err := resp.DecodeProp(&etag); err != nil && !internal.IsNotFound(err) {
		return nil, err
	}

	var ctype getContentTypeProp
	if err := resp.DecodeProp(&ctype); err != nil && !internal.IsNotFound(err) {
		return nil, err
	}
	mimeType := ctype.ContentType
	if mimeType != "" {
		if t, _, err := mime.ParseMediaType(mimeType); err == nil {
			mimeType = t
		}
	}

	var lastMod getLastModifiedProp
	if err := resp.DecodeProp(&lastMod); err != nil && !internal.IsNotFound(err) {
		return nil, err
	}
	var modTime time.Time
	if lastMod.Date != "" {
		if t, err := http.ParseTime(lastMod.Date); err == nil {
			modTime = t
		}
	}

	var length getContentLengthProp
	if err := resp.DecodeProp(&length); err != nil && !internal.IsNotFound(err) {
		return nil, err
	}

	return &FileInfo{
		Path:     p,
		Size:     length.Length,
		ModTime:  modTime,
		IsDir:    resType.Is(internal.CollectionName),
		MIMEType: mimeType,
		ETag:     etag.ETag,
	}, nil
}

func (c *Client) resolvePath(p string) string {
	return c.ic.ResolveHref(p).Path
}

// Get fetches the body of a resource.
func (c *Client) Get(path string) (*http.Response, error) {
	return c.GetContext(context.Background(), path)
}

// GetContext is like Get but lets the caller bound the request with a
// context carrying its own deadline, overriding the client's default
// timeout for this one call.
func (c *Client) GetContext(ctx context.Context, path string) (*http.Response, error) {
	req, err := c.ic.NewRequestContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return c.ic.Do(req)
}

// GetRange fetches a byte range of a resource's body via the Range
// header (RFC 7233), for clients that want to stream large objects in
// chunks rather than pull the whole thing at once.
func (c *Client) GetRange(path string, offset, length int64) (*http.Response, error) {
	return c.GetRangeContext(context.Background(), path, offset, length)
}

// GetRangeContext is like GetRange but lets the caller bound the request
// with their own context.
func (c *Client) GetRangeContext(ctx context.Context, path string, offset, length int64) (*http.Response, error) {
	req, err := c.ic.NewRequestContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if length > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-"+strconv.FormatInt(offset+length-1, 10))
	} else {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
	}
	return c.ic.Do(req)
}

// Put uploads body to path, optionally guarded by a conditional header.
// It returns the ETag the server assigned, if any.
func (c *Client) Put(path string, body io.Reader, contentType string, cond Condition) (etag string, err error) {
	return c.PutContext(context.Background(), path, body, contentType, cond)
}

// PutContext is like Put but lets the caller bound the upload with their
// own context, overriding the client's default timeout for this one
// call, which matters most for large bodies.
func (c *Client) PutContext(ctx context.Context, path string, body io.Reader, contentType string, cond Condition) (etag string, err error) {
	req, err := c.ic.NewRequestContext(ctx, http.MethodPut, path, body)
	if err != nil {
		return "", err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if err := applyCondition(req, cond); err != nil {
		return "", err
	}

	resp, err := c.ic.Do(req)
	if err != nil {
		return "", conditionErrorFromHTTPError(path, cond, err)
	}
	defer resp.Body.Close()
	return resp.Header.Get("ETag"), nil
}

// Delete removes a resource, optionally guarded by a conditional header.
func (c *Client) Delete(path string, cond Condition) error {
	return c.DeleteContext(context.Background(), path, cond)
}

// DeleteContext is like Delete but lets the caller bound the request
// with their own context.
func (c *Client) DeleteContext(ctx context.Context, path string, cond Condition) error {
	req, err := c.ic.NewRequestContext(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	if err := applyCondition(req, cond); err != nil {
		return err
	}

	resp, err := c.ic.Do(req)
	if err != nil {
		return conditionErrorFromHTTPError(path, cond, err)
	}
	resp.Body.Close()
	return nil
}

// Mkcol creates a collection at path.
func (c *Client) Mkcol(path string) error {
	req, err := c.ic.NewRequest("MKCOL", path, nil)
	if err != nil {
		return err
	}
	resp, err := c.ic.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Copy copies a resource from path to dest.
func (c *Client) Copy(src, dest string, overwrite bool) error {
	return c.copyMove("COPY", src, dest, overwrite)
}

// Move moves a resource from src to dest.
func (c *Client) Move(src, dest string, overwrite bool) error {
	return c.copyMove("MOVE", src, dest, overwrite)
}

func (c *Client) copyMove(method, src, dest string, overwrite bool) error {
	req, err := c.ic.NewRequest(method, src, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Destination", c.ic.ResolveHref(dest).String())
	if overwrite {
		req.Header.Set("Overwrite", "T")
	} else {
		req.Header.Set("Overwrite", "F")
	}

	resp, err := c.ic.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Options returns the DAV compliance classes and allowed methods for
// path, per RFC 4918 section 9.1.
func (c *Client) Options(path string) (classes map[string]bool, methods map[string]bool, err error) {
	return c.ic.Options(path)
}

func applyCondition(req *http.Request, cond Condition) error {
	name, value, err := cond.Header()
	if err != nil {
		return err
	}
	if name != "" {
		req.Header.Set(name, value)
	}
	return nil
}

func conditionErrorFromHTTPError(path string, cond Condition, err error) error {
	httpErr, ok := err.(*internal.HTTPError)
	if !ok {
		return err
	}
	if httpErr.Code != http.StatusPreconditionFailed && httpErr.Code != 428 {
		return err
	}
	if cond.IfNoneMatch != "" {
		return &ConflictError{Path: path, Code: httpErr.Code}
	}
	if cond.IfMatch != "" {
		return &PreconditionFailedError{Path: path, ExpectedETag: string(cond.IfMatch), Code: httpErr.Code}
	}
	return err
}
