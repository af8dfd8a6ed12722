package carddav

import (
	"encoding/xml"

	"github.com/Goopil/fast-dav-rs/internal"
)

const namespace = "urn:ietf:params:xml:ns:carddav"

var (
	addressBookHomeSetName    = xml.Name{Space: namespace, Local: "addressbook-home-set"}
	addressBookName           = xml.Name{Space: namespace, Local: "addressbook"}
	addressBookDescriptionName = xml.Name{Space: namespace, Local: "addressbook-description"}
	maxResourceSizeName       = xml.Name{Space: namespace, Local: "max-resource-size"}
	addressDataName           = xml.Name{Space: namespace, Local: "address-data"}
)

// https://tools.ietf.org/html/rfc6352#section-7.1.1
type addressbookHomeSet struct {
	XMLName xml.Name      `xml:"urn:ietf:params:xml:ns:carddav addressbook-home-set"`
	Href    internal.Href `xml:"DAV: href"`
}

// https://tools.ietf.org/html/rfc6352#section-6.2.1
type addressbookDescription struct {
	XMLName     xml.Name `xml:"urn:ietf:params:xml:ns:carddav addressbook-description"`
	Description string   `xml:",chardata"`
}

// https://tools.ietf.org/html/rfc6352#section-6.2.3
type maxResourceSize struct {
	XMLName xml.Name `xml:"urn:ietf:params:xml:ns:carddav max-resource-size"`
	Size    int64    `xml:",chardata"`
}

// prop names a single vCard property to return inside address-data.
// https://tools.ietf.org/html/rfc6352#section-10.4.2
type prop struct {
	Name string `xml:"name,attr"`
}

// addressDataReq is the CARDDAV:address-data element used inside a
// addressbook-query/addressbook-multiget request's DAV:prop, optionally
// restricting which vCard properties should come back.
// https://tools.ietf.org/html/rfc6352#section-10.4
type addressDataReq struct {
	XMLName xml.Name `xml:"urn:ietf:params:xml:ns:carddav address-data"`
	Props   []prop   `xml:"urn:ietf:params:xml:ns:carddav prop"`
}

// addressDataResp is the CARDDAV:address-data element as returned in a
// multistatus response, carrying the raw vCard payload.
type addressDataResp struct {
	XMLName xml.Name `xml:"urn:ietf:params:xml:ns:carddav address-data"`
	Data    []byte   `xml:",chardata"`
}

// textMatch is a CARDDAV:text-match element (RFC 6352 section 10.5.2).
type textMatch struct {
	XMLName   xml.Name `xml:"urn:ietf:params:xml:ns:carddav text-match"`
	Collation string   `xml:"collation,attr,omitempty"`
	MatchType string   `xml:"match-type,attr,omitempty"`
	Value     string   `xml:",chardata"`
}

// propFilter is a CARDDAV:prop-filter element, restricting results to
// vCards whose named property's value satisfies its text-match.
// https://tools.ietf.org/html/rfc6352#section-10.5.1
type propFilter struct {
	XMLName   xml.Name   `xml:"urn:ietf:params:xml:ns:carddav prop-filter"`
	Name      string     `xml:"name,attr"`
	TextMatch *textMatch `xml:"urn:ietf:params:xml:ns:carddav text-match"`
}

// addressbookQuery is the request body of an addressbook-query REPORT.
// https://tools.ietf.org/html/rfc6352#section-10.3
type addressbookQuery struct {
	XMLName xml.Name       `xml:"urn:ietf:params:xml:ns:carddav addressbook-query"`
	Prop    *internal.Prop `xml:"DAV: prop"`
	Filter  *struct {
		PropFilter *propFilter `xml:"urn:ietf:params:xml:ns:carddav prop-filter"`
	} `xml:"urn:ietf:params:xml:ns:carddav filter"`
}

// addressbookMultiget is the request body of an addressbook-multiget
// REPORT.
// https://tools.ietf.org/html/rfc6352#section-10.7
type addressbookMultiget struct {
	XMLName xml.Name        `xml:"urn:ietf:params:xml:ns:carddav addressbook-multiget"`
	Prop    *internal.Prop  `xml:"DAV: prop"`
	Hrefs   []internal.Href `xml:"DAV: href"`
}

// mkcolAddressbook is the MKCOL extended request body used as a fallback
// for servers that don't implement CARDDAV:mkaddressbook (RFC 5689).
type mkcolAddressbook struct {
	XMLName xml.Name `xml:"DAV: mkcol"`
	Set     struct {
		Prop struct {
			ResourceType internal.ResourceType    `xml:"DAV: resourcetype"`
			Description  *addressbookDescription  `xml:"urn:ietf:params:xml:ns:carddav addressbook-description,omitempty"`
		} `xml:"DAV: prop"`
	} `xml:"DAV: set"`
}

// mkaddressbook is the CARDDAV:mkaddressbook request body (RFC 6352
// section 5.2), the addressbook analogue of CalDAV's MKCALENDAR.
type mkaddressbook struct {
	XMLName xml.Name `xml:"urn:ietf:params:xml:ns:carddav mkaddressbook"`
	Set     struct {
		Prop struct {
			DisplayName internal.DisplayName    `xml:"DAV: displayname,omitempty"`
			Description *addressbookDescription `xml:"urn:ietf:params:xml:ns:carddav addressbook-description,omitempty"`
		} `xml:"DAV: prop"`
	} `xml:"DAV: set"`
}
