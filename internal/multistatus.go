package internal

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// element identifies one of the DAV:/CalDAV:/CardDAV: element names the
// streaming parser tracks by position rather than by full decoding. Only
// elements that affect parsing decisions get their own case; everything
// else (including the full set of properties a caller might request) is
// captured verbatim as a RawXMLValue and handed to the caller unexamined.
type element int

const (
	elOther element = iota
	elMultistatus
	elResponse
	elPropstat
	elProp
	elHref
	elStatus
	elSyncToken
)

func elementFromName(name xml.Name) element {
	if name.Space != "DAV:" {
		return elOther
	}
	switch name.Local {
	case "multistatus":
		return elMultistatus
	case "response":
		return elResponse
	case "propstat":
		return elPropstat
	case "prop":
		return elProp
	case "href":
		return elHref
	case "status":
		return elStatus
	case "sync-token":
		return elSyncToken
	default:
		return elOther
	}
}

// MultistatusSink receives one Response at a time as the parser walks a
// 207 Multi-Status body. Implementations must not retain the Response's
// RawXMLValue fields beyond the call if they plan to mutate shared state;
// the parser allocates a fresh Response for each call.
type MultistatusSink interface {
	Consume(Response) error
}

// MultistatusSinkFunc adapts a function to a MultistatusSink.
type MultistatusSinkFunc func(Response) error

func (f MultistatusSinkFunc) Consume(r Response) error { return f(r) }

// multistatusSlice is the default sink used when the caller just wants a
// fully materialized Multistatus.
type multistatusSlice struct {
	responses []Response
}

func (s *multistatusSlice) Consume(r Response) error {
	s.responses = append(s.responses, r)
	return nil
}

// ParseMultistatusResult is what a streaming parse produces: the top-level
// sync-token (RFC 6578), if the multistatus carried one, alongside
// whatever the sink accumulated.
type ParseMultistatusResult struct {
	SyncToken string
}

// parser is a stack-based pull parser over an xml.Decoder's token stream.
// It mirrors the shape of a SAX handler: on each StartElement it pushes an
// element tag, tracks path-based context to know which property is
// currently being read, and emits a completed Response to its sink on
// each matching EndElement. This lets the whole document stream through
// in O(1) additional memory for the parts the caller doesn't keep.
type parser struct {
	dec   *xml.Decoder
	sink  MultistatusSink
	stack []element

	// sawRoot is set on the first StartElement token, so the very first
	// element can be checked against DAV:multistatus before anything else
	// is trusted about the document.
	sawRoot bool

	// current is the DAV:response being assembled while the parser is
	// inside one. Only the parts of the response we don't understand
	// structurally (i.e. the DAV:prop subtrees) are kept as RawXMLValue
	// trees, which we still need to hand back byte-for-byte.
	current Response
	result  ParseMultistatusResult
}

func newParser(dec *xml.Decoder, sink MultistatusSink) *parser {
	return &parser{dec: dec, sink: sink, stack: make([]element, 0, 16)}
}

func (p *parser) pathEndsWith(needle ...element) bool {
	if len(p.stack) < len(needle) {
		return false
	}
	off := len(p.stack) - len(needle)
	for i, e := range needle {
		if p.stack[off+i] != e {
			return false
		}
	}
	return true
}

// run drives the parser to completion, streaming DAV:response elements to
// the sink as they close and returning the top-level sync-token (if any).
func (p *parser) run() (ParseMultistatusResult, error) {
	for {
		tok, err := p.dec.Token()
		if err == io.EOF {
			if !p.sawRoot || len(p.stack) != 0 {
				return p.result, &ParseError{
					Kind:   ParseErrorTruncatedBody,
					Err:    io.ErrUnexpectedEOF,
					Offset: p.dec.InputOffset(),
				}
			}
			return p.result, nil
		}
		if err != nil {
			return p.result, &ParseError{Kind: syntaxErrorKind(err), Err: err, Offset: p.dec.InputOffset()}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if err := p.onStart(t); err != nil {
				return p.result, err
			}
		case xml.EndElement:
			if err := p.onEnd(t); err != nil {
				return p.result, err
			}
		case xml.CharData:
			p.onText(string(t))
		}
	}
}

// syntaxErrorKind classifies a decoder error. encoding/xml reports a stream
// that ends inside an open element as a SyntaxError with an "unexpected
// EOF" message rather than io.EOF, so that case counts as truncation.
func syntaxErrorKind(err error) ParseErrorKind {
	if se, ok := err.(*xml.SyntaxError); ok && se.Msg == "unexpected EOF" {
		return ParseErrorTruncatedBody
	}
	return ParseErrorMalformedXML
}

func (p *parser) onStart(start xml.StartElement) error {
	el := elementFromName(start.Name)

	if !p.sawRoot {
		p.sawRoot = true
		if el != elMultistatus {
			return &ParseError{
				Kind:   ParseErrorUnexpectedRoot,
				Err:    fmt.Errorf("expected DAV:multistatus root element, got %v", start.Name),
				Offset: p.dec.InputOffset(),
			}
		}
	}

	p.stack = append(p.stack, el)

	switch el {
	case elResponse:
		p.current = Response{}
	case elPropstat:
		if p.pathEndsWith(elResponse, elPropstat) {
			p.current.Propstats = append(p.current.Propstats, Propstat{})
		}
	case elProp:
		if p.pathEndsWith(elResponse, elPropstat, elProp) && len(p.current.Propstats) > 0 {
			// Capture the whole DAV:prop subtree as a RawXMLValue so
			// callers can Decode() arbitrary requested properties out of
			// it later, exactly like the buffered decoder would give
			// them, without us needing to understand every possible
			// CalDAV/CardDAV property name here.
			var raw RawXMLValue
			if err := raw.UnmarshalXML(p.dec, start); err != nil {
				return &ParseError{Kind: syntaxErrorKind(err), Err: err, Offset: p.dec.InputOffset()}
			}
			p.stack = p.stack[:len(p.stack)-1] // UnmarshalXML consumed through EndElement
			p.current.Propstats[len(p.current.Propstats)-1].Prop = raw
		}
	}
	return nil
}

func (p *parser) onEnd(end xml.EndElement) error {
	el := elementFromName(end.Name)
	if len(p.stack) > 0 {
		p.stack = p.stack[:len(p.stack)-1]
	}

	switch el {
	case elResponse:
		if err := p.sink.Consume(p.current); err != nil {
			return err
		}
		p.current = Response{}
	}
	return nil
}

func (p *parser) onText(text string) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return
	}

	switch {
	case p.pathEndsWith(elResponse, elHref):
		p.current.Href = trimmed
	case p.pathEndsWith(elResponse, elStatus):
		p.current.Status = trimmed
	case p.pathEndsWith(elResponse, elPropstat, elStatus):
		if len(p.current.Propstats) == 0 {
			p.current.Propstats = append(p.current.Propstats, Propstat{})
		}
		p.current.Propstats[len(p.current.Propstats)-1].Status = trimmed
	case p.pathEndsWith(elMultistatus, elSyncToken):
		p.result.SyncToken = trimmed
	}
}

// ParseErrorKind categorizes why a ParseError occurred, so callers can
// tell a truncated response from one that was never valid multistatus XML
// to begin with.
type ParseErrorKind int

const (
	// ParseErrorUnknown is the zero value, for ParseErrors that predate
	// this taxonomy or genuinely don't fit any of the other kinds.
	ParseErrorUnknown ParseErrorKind = iota
	// ParseErrorMalformedXML means the decoder hit a syntax error: an
	// unclosed tag, bad entity, or other token the XML tokenizer itself
	// rejected.
	ParseErrorMalformedXML
	// ParseErrorUnexpectedRoot means the document's root element wasn't
	// DAV:multistatus.
	ParseErrorUnexpectedRoot
	// ParseErrorTruncatedBody means the stream ended before the
	// multistatus root (or an element nested inside it) was closed.
	ParseErrorTruncatedBody
	// ParseErrorInvalidStatus means a DAV:status line didn't match the
	// expected "HTTP/<version> <code> <reason>" shape.
	ParseErrorInvalidStatus
)

func (k ParseErrorKind) String() string {
	switch k {
	case ParseErrorMalformedXML:
		return "malformed-xml"
	case ParseErrorUnexpectedRoot:
		return "unexpected-root"
	case ParseErrorTruncatedBody:
		return "truncated-body"
	case ParseErrorInvalidStatus:
		return "invalid-status"
	default:
		return "unknown"
	}
}

// ParseError is returned when a multistatus body is malformed, has the
// wrong root element, ends mid-element, or carries a malformed status
// line. Offset is the decoder's input offset at the point of failure,
// when known, so callers can log where a server sent truncated or
// corrupt XML.
type ParseError struct {
	Kind   ParseErrorKind
	Err    error
	Offset int64
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("webdav: %v error parsing multistatus response at offset %d: %v", e.Kind, e.Offset, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// DecodeMultistatus streams r through the stack-based parser and returns a
// fully materialized Multistatus, including any top-level sync-token.
// This replaces a single xml.Decoder.Decode call with one that never holds
// more than one DAV:response element's worth of extra state, so arbitrarily
// large collections can be walked without buffering the whole body.
func DecodeMultistatus(r io.Reader) (*Multistatus, error) {
	sink := &multistatusSlice{}
	result, err := DecodeMultistatusFunc(r, sink)
	if err != nil {
		return nil, err
	}
	return &Multistatus{Responses: sink.responses, SyncToken: result.SyncToken}, nil
}

// DecodeMultistatusFunc streams r through the parser, invoking sink for
// each DAV:response as it completes, rather than materializing the whole
// list. Useful for very large collections where a caller wants to process
// (or forward into a batch dispatcher) items as they arrive.
func DecodeMultistatusFunc(r io.Reader, sink MultistatusSink) (ParseMultistatusResult, error) {
	dec := xml.NewDecoder(r)
	return newParser(dec, sink).run()
}
