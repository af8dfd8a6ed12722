package caldav

import (
	"encoding/xml"
	"time"

	"github.com/Goopil/fast-dav-rs/internal"
)

const namespace = "urn:ietf:params:xml:ns:caldav"

var (
	calendarHomeSetName = xml.Name{Space: namespace, Local: "calendar-home-set"}
	calendarName         = xml.Name{Space: namespace, Local: "calendar"}

	calendarDescriptionName   = xml.Name{Space: namespace, Local: "calendar-description"}
	supportedCalendarDataName = xml.Name{Space: namespace, Local: "supported-calendar-data"}
	maxResourceSizeName       = xml.Name{Space: namespace, Local: "max-resource-size"}
	calendarDataName          = xml.Name{Space: namespace, Local: "calendar-data"}
	syncTokenName             = xml.Name{Space: "DAV:", Local: "sync-token"}
)

// https://tools.ietf.org/html/rfc4791#section-6.2.1
type calendarHomeSet struct {
	XMLName xml.Name      `xml:"urn:ietf:params:xml:ns:caldav calendar-home-set"`
	Href    internal.Href `xml:"DAV: href"`
}

// https://tools.ietf.org/html/rfc4791#section-5.2.1
type calendarDescription struct {
	XMLName     xml.Name `xml:"urn:ietf:params:xml:ns:caldav calendar-description"`
	Description string   `xml:",chardata"`
}

// https://tools.ietf.org/html/rfc4791#section-5.2.4
type supportedCalendarData struct {
	XMLName xml.Name           `xml:"urn:ietf:params:xml:ns:caldav supported-calendar-data"`
	Types   []calendarDataType `xml:"calendar-data"`
}

// https://tools.ietf.org/html/rfc4791#section-9.6
type calendarDataType struct {
	XMLName     xml.Name `xml:"urn:ietf:params:xml:ns:caldav calendar-data"`
	ContentType string   `xml:"content-type,attr"`
	Version     string   `xml:"version,attr"`
}

// https://tools.ietf.org/html/rfc4791#section-5.2.5
type maxResourceSize struct {
	XMLName xml.Name `xml:"urn:ietf:params:xml:ns:caldav max-resource-size"`
	Size    int64    `xml:",chardata"`
}

// prop is a CALDAV:prop child naming a single iCalendar property to
// return inside calendar-data.
// https://tools.ietf.org/html/rfc4791#section-9.6.4
type prop struct {
	Name string `xml:"name,attr"`
}

// comp is a CALDAV:comp element, recursively naming the iCalendar
// components and properties a calendar-data response should include.
// https://tools.ietf.org/html/rfc4791#section-9.6.1
type comp struct {
	XMLName xml.Name   `xml:"urn:ietf:params:xml:ns:caldav comp"`
	Name    string     `xml:"name,attr"`
	Allprop *struct{}  `xml:"urn:ietf:params:xml:ns:caldav allprop"`
	Prop    []prop     `xml:"urn:ietf:params:xml:ns:caldav prop"`
	Allcomp *struct{}  `xml:"urn:ietf:params:xml:ns:caldav allcomp"`
	Comp    []comp     `xml:"urn:ietf:params:xml:ns:caldav comp"`
}

// calendarDataReq is the CALDAV:calendar-data element used inside a
// calendar-query/calendar-multiget request's DAV:prop to select which
// parts of the object the server should return.
// https://tools.ietf.org/html/rfc4791#section-9.6
type calendarDataReq struct {
	XMLName xml.Name `xml:"urn:ietf:params:xml:ns:caldav calendar-data"`
	Comp    *comp    `xml:"urn:ietf:params:xml:ns:caldav comp"`
}

// calendarDataResp is the CALDAV:calendar-data element as returned in a
// multistatus response, carrying the raw iCalendar payload.
type calendarDataResp struct {
	XMLName xml.Name `xml:"urn:ietf:params:xml:ns:caldav calendar-data"`
	Data    []byte   `xml:",chardata"`
}

// timeRange is a CALDAV:time-range element.
// https://tools.ietf.org/html/rfc4791#section-9.9
type timeRange struct {
	Start string `xml:"start,attr,omitempty"`
	End   string `xml:"end,attr,omitempty"`
}

// compFilter is a CALDAV:comp-filter element.
// https://tools.ietf.org/html/rfc4791#section-9.7.1
type compFilter struct {
	XMLName     xml.Name     `xml:"urn:ietf:params:xml:ns:caldav comp-filter"`
	Name        string       `xml:"name,attr"`
	TimeRange   *timeRange   `xml:"urn:ietf:params:xml:ns:caldav time-range"`
	CompFilters []compFilter `xml:"urn:ietf:params:xml:ns:caldav comp-filter"`
}

// calendarQuery is the request body of a calendar-query REPORT.
// https://tools.ietf.org/html/rfc4791#section-9.5
type calendarQuery struct {
	XMLName xml.Name    `xml:"urn:ietf:params:xml:ns:caldav calendar-query"`
	Prop    *internal.Prop `xml:"DAV: prop"`
	Filter  struct {
		CompFilter compFilter `xml:"urn:ietf:params:xml:ns:caldav comp-filter"`
	} `xml:"urn:ietf:params:xml:ns:caldav filter"`
}

// calendarMultiget is the request body of a calendar-multiget REPORT.
// https://tools.ietf.org/html/rfc4791#section-9.10
type calendarMultiget struct {
	XMLName xml.Name        `xml:"urn:ietf:params:xml:ns:caldav calendar-multiget"`
	Prop    *internal.Prop  `xml:"DAV: prop"`
	Hrefs   []internal.Href `xml:"DAV: href"`
}

func dateWithUTCTime(t time.Time) string {
	return t.UTC().Format("20060102T150405Z")
}
