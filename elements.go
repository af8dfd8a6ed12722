package webdav

import (
	"encoding/xml"

	"github.com/Goopil/fast-dav-rs/internal"
)

// https://tools.ietf.org/html/rfc4918#section-15.5 (WebDAV ACL extension,
// RFC 3744 section 5.1, re-declared here since current-user-principal is
// useful to a plain WebDAV client independent of calendars/contacts)
type currentUserPrincipalProp struct {
	XMLName xml.Name      `xml:"DAV: current-user-principal"`
	Href    internal.Href `xml:"DAV: href"`
}

type getETagProp struct {
	XMLName xml.Name `xml:"DAV: getetag"`
	ETag    string   `xml:",chardata"`
}

type getContentTypeProp struct {
	XMLName     xml.Name `xml:"DAV: getcontenttype"`
	ContentType string   `xml:",chardata"`
}

type getLastModifiedProp struct {
	XMLName xml.Name `xml:"DAV: getlastmodified"`
	Date    string   `xml:",chardata"`
}

type getContentLengthProp struct {
	XMLName xml.Name `xml:"DAV: getcontentlength"`
	Length  int64    `xml:",chardata"`
}
