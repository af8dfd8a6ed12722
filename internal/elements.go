package internal

import (
	"encoding/xml"
	"errors"
	"fmt"
	"net/url"
)

// DAV: namespace elements used across PROPFIND, REPORT and error bodies.
// https://tools.ietf.org/html/rfc4918#section-14.16

var (
	ResourceTypeName        = xml.Name{Space: "DAV:", Local: "resourcetype"}
	DisplayNameName         = xml.Name{Space: "DAV:", Local: "displayname"}
	GetETagName             = xml.Name{Space: "DAV:", Local: "getetag"}
	GetContentTypeName      = xml.Name{Space: "DAV:", Local: "getcontenttype"}
	GetLastModifiedName     = xml.Name{Space: "DAV:", Local: "getlastmodified"}
	GetContentLengthName    = xml.Name{Space: "DAV:", Local: "getcontentlength"}
	CurrentUserPrincipalName = xml.Name{Space: "DAV:", Local: "current-user-principal"}
	SyncTokenName           = xml.Name{Space: "DAV:", Local: "sync-token"}
	CollectionName          = xml.Name{Space: "DAV:", Local: "collection"}
)

// Href is a single DAV:href element.
type Href struct {
	XMLName xml.Name `xml:"DAV: href"`
	Path    string   `xml:",chardata"`
}

// Multistatus is the root element of a 207 Multi-Status response body.
// https://tools.ietf.org/html/rfc4918#section-14.16
type Multistatus struct {
	XMLName   xml.Name   `xml:"DAV: multistatus"`
	Responses []Response `xml:"DAV: response"`
	// SyncToken carries the RFC 6578 top-level sync-token, when the
	// multistatus is the result of a sync-collection REPORT.
	SyncToken string `xml:"DAV: sync-token"`
}

// Get returns the response whose href matches the given resolved path.
func (ms *Multistatus) Get(path string) (*Response, error) {
	for i := range ms.Responses {
		resp := &ms.Responses[i]
		href, err := resp.Path()
		if err != nil {
			continue
		}
		if href == path {
			return resp, nil
		}
	}
	return nil, fmt.Errorf("webdav: missing response for path %q", path)
}

// Response is a single DAV:response element.
// https://tools.ietf.org/html/rfc4918#section-14.24
type Response struct {
	XMLName   xml.Name   `xml:"DAV: response"`
	Href      string     `xml:"DAV: href"`
	Propstats []Propstat `xml:"DAV: propstat"`
	Status    string     `xml:"DAV: status"`
	Error     *Error     `xml:"DAV: error"`
}

// Path returns the response's href, decoded and cleaned of any query or
// fragment component.
func (resp *Response) Path() (string, error) {
	u, err := url.Parse(resp.Href)
	if err != nil {
		return "", fmt.Errorf("webdav: failed to parse href %q: %w", resp.Href, err)
	}
	return u.Path, nil
}

// Err returns a non-nil error if the response as a whole failed (as opposed
// to an individual property).
func (resp *Response) Err() error {
	if resp.Status == "" {
		return nil
	}
	code, err := parseStatusCode(resp.Status)
	if err != nil {
		return err
	}
	if code/100 == 2 {
		return nil
	}
	return &HTTPError{Code: code, Err: fmt.Errorf("webdav: %v", resp.Status)}
}

// DecodeProp decodes each of values from the first of this response's
// propstats that carries that property. If that propstat's status isn't
// 2xx, DecodeProp returns an *HTTPError with that status instead; if no
// propstat carries the property, it returns an error satisfying
// IsNotFound.
func (resp *Response) DecodeProp(values ...interface{}) error {
	for _, v := range values {
		name, err := valueXMLName(v)
		if err != nil {
			return err
		}

		found := false
		for _, propstat := range resp.Propstats {
			raw := findProp(&propstat.Prop, name)
			if raw == nil {
				continue
			}

			code, err := parseStatusCode(propstat.Status)
			if err != nil {
				return err
			}
			if code/100 != 2 {
				return &HTTPError{Code: code, Err: fmt.Errorf("webdav: property %v: %v", name, propstat.Status)}
			}

			if err := raw.Decode(v); err != nil {
				return fmt.Errorf("webdav: failed to decode property %v: %w", name, err)
			}
			found = true
			break
		}

		if !found {
			return &HTTPError{Code: 404, Err: fmt.Errorf("webdav: missing property %v", name)}
		}
	}
	return nil
}

func findProp(prop *RawXMLValue, name xml.Name) *RawXMLValue {
	var children []RawXMLValue
	if err := prop.Decode(&rawPropChildren{&children}); err != nil {
		return nil
	}
	for i := range children {
		if n, ok := children[i].Name(); ok && n == name {
			return &children[i]
		}
	}
	return nil
}

// rawPropChildren captures the raw children of a DAV:prop element without
// knowing their names ahead of time.
type rawPropChildren struct {
	out *[]RawXMLValue
}

func (r *rawPropChildren) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			var child RawXMLValue
			if err := child.UnmarshalXML(d, t); err != nil {
				return err
			}
			*r.out = append(*r.out, child)
		case xml.EndElement:
			return nil
		}
	}
}

func valueXMLName(v interface{}) (xml.Name, error) {
	type named interface {
		XMLName() xml.Name
	}
	if n, ok := v.(named); ok {
		return n.XMLName(), nil
	}
	// Fall back to encoding v once to discover its root element name. This
	// mirrors how encoding/xml itself resolves XMLName struct fields.
	raw, err := EncodeProp(v)
	if err != nil {
		return xml.Name{}, err
	}
	name, ok := raw.Name()
	if !ok {
		return xml.Name{}, fmt.Errorf("webdav: cannot determine XML name of %T", v)
	}
	return name, nil
}

// Propstat is a single DAV:propstat element.
// https://tools.ietf.org/html/rfc4918#section-14.22
type Propstat struct {
	XMLName xml.Name    `xml:"DAV: propstat"`
	Prop    RawXMLValue `xml:"DAV: prop"`
	Status  string      `xml:"DAV: status"`
	Error   *Error      `xml:"DAV: error"`
}

// Error is a DAV:error element, as carried by error response bodies and
// failed propstats.
// https://tools.ietf.org/html/rfc4918#section-16
type Error struct {
	XMLName          xml.Name      `xml:"DAV: error"`
	Raw              []RawXMLValue `xml:",any"`
	ResponseDescription string     `xml:"DAV: responsedescription"`
}

func (err *Error) Error() string {
	if err.ResponseDescription != "" {
		return fmt.Sprintf("webdav: server error: %v", err.ResponseDescription)
	}
	conds := make([]string, 0, len(err.Raw))
	for _, raw := range err.Raw {
		if name, ok := raw.Name(); ok {
			conds = append(conds, name.Local)
		}
	}
	if len(conds) == 0 {
		return "webdav: server error"
	}
	return fmt.Sprintf("webdav: server error: %v", conds)
}

// Condition reports whether the error carries the named DAV: precondition
// or postcondition element (e.g. "no-conflicting-lock").
func (err *Error) Condition(local string) bool {
	for _, raw := range err.Raw {
		if name, ok := raw.Name(); ok && name.Space == "DAV:" && name.Local == local {
			return true
		}
	}
	return false
}

// HTTPError is returned for non-2xx HTTP responses.
type HTTPError struct {
	Code   int
	Method string
	Path   string
	Err    error
}

func HTTPErrorf(code int, format string, a ...interface{}) *HTTPError {
	return &HTTPError{Code: code, Err: fmt.Errorf(format, a...)}
}

func (err *HTTPError) Error() string {
	s := fmt.Sprintf("webdav: HTTP error: %v", err.Code)
	if err.Method != "" || err.Path != "" {
		s = fmt.Sprintf("%v (%v %v)", s, err.Method, err.Path)
	}
	if err.Err != nil {
		s += ": " + err.Err.Error()
	}
	return s
}

func (err *HTTPError) Unwrap() error {
	return err.Err
}

// IsNotFound reports whether err represents a 404 Not Found condition,
// either from a failed HTTP request or from a missing property in a
// multistatus response.
func IsNotFound(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code == 404
	}
	return false
}

// TimeoutError is returned when a request is canceled for exceeding its
// default or per-call deadline.
type TimeoutError struct {
	Method string
	Path   string
	Err    error
}

func (err *TimeoutError) Error() string {
	s := "webdav: request timed out"
	if err.Method != "" || err.Path != "" {
		s = fmt.Sprintf("%v (%v %v)", s, err.Method, err.Path)
	}
	if err.Err != nil {
		s += ": " + err.Err.Error()
	}
	return s
}

func (err *TimeoutError) Unwrap() error {
	return err.Err
}

func parseStatusCode(status string) (int, error) {
	var major, minor, code int
	var reason string
	// Status lines are of the form "HTTP/1.1 200 OK". We only need the code.
	n, err := fmt.Sscanf(status, "HTTP/%d.%d %d %s", &major, &minor, &code, &reason)
	if err != nil && n < 3 {
		return 0, &ParseError{Kind: ParseErrorInvalidStatus, Err: fmt.Errorf("invalid status line %q: %w", status, err)}
	}
	return code, nil
}

// GetETag is the DAV:getetag property.
// https://tools.ietf.org/html/rfc4918#section-15.6
type GetETag struct {
	XMLName xml.Name `xml:"DAV: getetag"`
	ETag    string   `xml:",chardata"`
}

// GetLastModified is the DAV:getlastmodified property, carried on the wire
// as an RFC 1123 date string.
// https://tools.ietf.org/html/rfc4918#section-15.7
type GetLastModified struct {
	XMLName      xml.Name `xml:"DAV: getlastmodified"`
	LastModified string   `xml:",chardata"`
}

// DisplayName is the DAV:displayname property.
// https://tools.ietf.org/html/rfc4918#section-15.2
type DisplayName struct {
	XMLName xml.Name `xml:"DAV: displayname"`
	Name    string   `xml:",chardata"`
}

// ResourceType is the DAV:resourcetype property.
// https://tools.ietf.org/html/rfc4918#section-15.9
type ResourceType struct {
	XMLName xml.Name      `xml:"DAV: resourcetype"`
	Raw     []RawXMLValue `xml:",any"`
}

// Is reports whether the resource type includes the given qualified
// element name (e.g. the CalDAV "calendar" resource type).
func (rt *ResourceType) Is(name xml.Name) bool {
	for _, raw := range rt.Raw {
		if n, ok := raw.Name(); ok && n == name {
			return true
		}
	}
	return false
}

// NewResourceType builds a ResourceType prop asserting the given element
// names, always including DAV:collection first when collection is true.
func NewResourceType(collection bool, names ...xml.Name) (ResourceType, error) {
	rt := ResourceType{}
	all := names
	if collection {
		all = append([]xml.Name{CollectionName}, names...)
	}
	for _, name := range all {
		raw, err := EncodeProp(&rawElement{Name: name})
		if err != nil {
			return ResourceType{}, err
		}
		rt.Raw = append(rt.Raw, raw)
	}
	return rt, nil
}

type rawElement struct {
	Name xml.Name
}

func (e *rawElement) MarshalXML(enc *xml.Encoder, _ xml.StartElement) error {
	start := xml.StartElement{Name: e.Name}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	return enc.EncodeToken(start.End())
}

// Prop is the DAV:prop element carried by a PROPFIND request body, naming
// the properties being requested.
// https://tools.ietf.org/html/rfc4918#section-14.18
type Prop struct {
	XMLName xml.Name      `xml:"DAV: prop"`
	Raw     []RawXMLValue `xml:",any"`
}

// NewProp builds a Prop request body from a list of qualified element
// names, with each element left empty (a "give me the value" request).
func NewProp(names ...xml.Name) (*Prop, error) {
	prop := &Prop{}
	for _, name := range names {
		raw, err := EncodeProp(&rawElement{Name: name})
		if err != nil {
			return nil, err
		}
		prop.Raw = append(prop.Raw, raw)
	}
	return prop, nil
}

// Propfind is the request body of a PROPFIND request.
// https://tools.ietf.org/html/rfc4918#section-14.20
type Propfind struct {
	XMLName  xml.Name `xml:"DAV: propfind"`
	Prop     *Prop    `xml:"DAV: prop"`
	AllProp  *struct{} `xml:"DAV: allprop"`
	PropName *struct{} `xml:"DAV: propname"`
}

// NewPropPropfind builds a PROPFIND request body asking for the value of
// each named property.
func NewPropPropfind(names ...xml.Name) *Propfind {
	prop, err := NewProp(names...)
	if err != nil {
		// NewProp only fails if encoding a bare element name fails, which
		// cannot happen for well-formed xml.Name values.
		panic(err)
	}
	return &Propfind{Prop: prop}
}

// NewPropNamePropfind builds the same body as NewPropPropfind: a DAV:prop
// request for the value of each named property. It does not build a
// DAV:propname request.
func NewPropNamePropfind(names ...xml.Name) *Propfind {
	return NewPropPropfind(names...)
}

// Limit is the DAV:limit element, restricting the number of results a
// sync-collection REPORT should return.
// https://tools.ietf.org/html/rfc6578#section-6.1
type Limit struct {
	XMLName  xml.Name `xml:"DAV: limit"`
	NResults uint     `xml:"DAV: nresults"`
}

// SyncCollectionQuery is the request body of a sync-collection REPORT.
// https://tools.ietf.org/html/rfc6578#section-3.2
type SyncCollectionQuery struct {
	XMLName   xml.Name `xml:"DAV: sync-collection"`
	SyncToken string   `xml:"DAV: sync-token"`
	SyncLevel string   `xml:"DAV: sync-level"`
	Limit     *Limit   `xml:"DAV: limit,omitempty"`
	Prop      *Prop    `xml:"DAV: prop"`
}
