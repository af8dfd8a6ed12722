package internal

import (
	"bytes"
	"encoding/xml"
	"io"
)

// RawXMLValue is a raw XML value. It implements xml.Unmarshaler and
// xml.Marshaler and can be used to delay XML decoding or precompute an XML
// encoding.
type RawXMLValue struct {
	tok      xml.Token // guaranteed not to be xml.EndElement
	children []RawXMLValue
}

// UnmarshalXML implements xml.Unmarshaler.
func (val *RawXMLValue) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	val.tok = start
	val.children = nil

	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch tok := tok.(type) {
		case xml.StartElement:
			child := RawXMLValue{}
			if err := child.UnmarshalXML(d, tok); err != nil {
				return err
			}
			val.children = append(val.children, child)
		case xml.EndElement:
			return nil
		default:
			val.children = append(val.children, RawXMLValue{tok: xml.CopyToken(tok)})
		}
	}
}

// MarshalXML implements xml.Marshaler.
func (val *RawXMLValue) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	switch tok := val.tok.(type) {
	case xml.StartElement:
		if err := e.EncodeToken(tok); err != nil {
			return err
		}
		for _, child := range val.children {
			// TODO: find a sensible value for the start argument?
			if err := child.MarshalXML(e, xml.StartElement{}); err != nil {
				return err
			}
		}
		return e.EncodeToken(tok.End())
	case xml.EndElement:
		panic("unexpected end element")
	default:
		return e.EncodeToken(tok)
	}
}

var _ xml.Marshaler = (*RawXMLValue)(nil)
var _ xml.Unmarshaler = (*RawXMLValue)(nil)

// Decode unmarshals the raw value into v by replaying it through a fresh
// xml.Decoder built from its TokenReader.
func (val *RawXMLValue) Decode(v interface{}) error {
	return xml.NewTokenDecoder(val.TokenReader()).Decode(v)
}

// Name returns the qualified name of the root element, if any.
func (val *RawXMLValue) Name() (xml.Name, bool) {
	start, ok := val.tok.(xml.StartElement)
	if !ok {
		return xml.Name{}, false
	}
	return start.Name, true
}

// NewRawXMLElement builds a RawXMLValue directly from an element name,
// attributes, and already-built children, without going through
// encoding/xml. It's used to construct empty property-request elements
// (e.g. a bare <D:getetag/> inside a calendar-data REPORT's DAV:prop) where
// there's no Go struct worth declaring for a single empty tag.
func NewRawXMLElement(name xml.Name, attrs []xml.Attr, children []RawXMLValue) *RawXMLValue {
	return &RawXMLValue{
		tok:      xml.StartElement{Name: name, Attr: attrs},
		children: children,
	}
}

// EncodePropMulti combines several already-typed or raw values into a
// single DAV:prop request body, the way a calendar-data/address-data
// REPORT asks for the payload property alongside getetag/getlastmodified
// in one go. Each value is either a *RawXMLValue (used as-is) or anything
// else EncodeProp can marshal.
func EncodePropMulti(values ...interface{}) (*Prop, error) {
	prop := &Prop{}
	for _, v := range values {
		if raw, ok := v.(*RawXMLValue); ok {
			prop.Raw = append(prop.Raw, *raw)
			continue
		}
		raw, err := EncodeProp(v)
		if err != nil {
			return nil, err
		}
		prop.Raw = append(prop.Raw, raw)
	}
	return prop, nil
}

// EncodeProp wraps v in a raw XML value, encoding it as a single child of a
// synthetic <prop> element and peeling that wrapper back off. It's used to
// turn a typed prop struct into the RawXMLValue shape that Propstat.Prop
// carries.
func EncodeProp(v interface{}) (RawXMLValue, error) {
	var buf bytes.Buffer
	if err := xml.NewEncoder(&buf).Encode(v); err != nil {
		return RawXMLValue{}, err
	}

	var raw RawXMLValue
	if err := xml.NewDecoder(&buf).Decode(&raw); err != nil {
		return RawXMLValue{}, err
	}
	return raw, nil
}

// TokenReader returns a stream of tokens for the XML value.
func (val *RawXMLValue) TokenReader() xml.TokenReader {
	return &rawXMLValueReader{val: val}
}

type rawXMLValueReader struct {
	val         *RawXMLValue
	start, end  bool
	child       int
	childReader xml.TokenReader
}

func (tr *rawXMLValueReader) Token() (xml.Token, error) {
	if tr.end {
		return nil, io.EOF
	}

	start, ok := tr.val.tok.(xml.StartElement)
	if !ok {
		tr.end = true
		return tr.val.tok, nil
	}

	if !tr.start {
		tr.start = true
		return start, nil
	}

	for tr.child < len(tr.val.children) {
		if tr.childReader == nil {
			tr.childReader = tr.val.children[tr.child].TokenReader()
		}

		tok, err := tr.childReader.Token()
		if err == io.EOF {
			tr.childReader = nil
			tr.child++
		} else {
			return tok, err
		}
	}

	tr.end = true
	return start.End(), nil
}
