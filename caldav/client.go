package caldav

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	webdav "github.com/Goopil/fast-dav-rs"
	"github.com/Goopil/fast-dav-rs/internal"
)

// Discover performs a DNS-based CalDAV service discovery as described in
// RFC 6764 section 6.
func Discover(host string) (string, error) {
	return internal.Discover("caldav", host)
}

// Client is a CalDAV client (RFC 4791), layering calendar discovery,
// querying and synchronization on top of a generic WebDAV client.
type Client struct {
	*webdav.Client
	ic *internal.Client
}

func NewClient(c *http.Client, endpoint string, opts ...webdav.Option) (*Client, error) {
	if c == nil {
		c = http.DefaultClient
	}
	wc, err := webdav.NewClient(c, endpoint, opts...)
	if err != nil {
		return nil, err
	}
	ic, err := internal.NewClient(c, endpoint, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{wc, ic}, nil
}

// FindCalendarHomeSet performs a PROPFIND for CALDAV:calendar-home-set
// against a principal URL, returning the URL of the principal's calendar
// home collection.
func (c *Client) FindCalendarHomeSet(principal string) (string, error) {
	propfind := internal.NewPropPropfind(calendarHomeSetName)

	resp, err := c.ic.PropfindFlat(principal, propfind)
	if err != nil {
		return "", err
	}

	var prop calendarHomeSet
	if err := resp.DecodeProp(&prop); err != nil {
		return "", err
	}
	return prop.Href.Path, nil
}

// FindCalendars lists the calendar collections directly inside a calendar
// home collection.
func (c *Client) FindCalendars(calendarHomeSet string) ([]Calendar, error) {
	propfind := internal.NewPropPropfind(
		internal.ResourceTypeName,
		internal.DisplayNameName,
		calendarDescriptionName,
		maxResourceSizeName,
		supportedCalendarDataName,
	)

	ms, err := c.ic.Propfind(calendarHomeSet, internal.DepthOne, propfind)
	if err != nil {
		return nil, err
	}

	self := c.ic.ResolveHref(calendarHomeSet).Path
	var calendars []Calendar
	for i := range ms.Responses {
		resp := &ms.Responses[i]

		path, err := resp.Path()
		if err != nil {
			return nil, err
		}
		if path == self {
			continue
		}

		var resType internal.ResourceType
		if err := resp.DecodeProp(&resType); err != nil {
			return nil, err
		}
		if !resType.Is(calendarName) {
			continue
		}

		var disp internal.DisplayName
		if err := resp.DecodeProp(&disp); err != nil && !internal.IsNotFound(err) {
			return nil, err
		}

		var desc calendarDescription
		if err := resp.DecodeProp(&desc); err != nil && !internal.IsNotFound(err) {
			return nil, err
		}

		var maxSize maxResourceSize
		if err := resp.DecodeProp(&maxSize); err != nil && !internal.IsNotFound(err) {
			return nil, err
		}

		var supported supportedCalendarData
		if err := resp.DecodeProp(&supported); err != nil && !internal.IsNotFound(err) {
			return nil, err
		}
		comps := make([]string, 0, len(supported.Types))
		for _, t := range supported.Types {
			if t.ContentType != "" {
				comps = append(comps, t.ContentType)
			}
		}

		calendars = append(calendars, Calendar{
			Path:                path,
			Name:                disp.Name,
			Description:         desc.Description,
			MaxResourceSize:     maxSize.Size,
			SupportedComponents: comps,
		})
	}
	return calendars, nil
}

func encodeCalendarCompReq(c *CalendarCompRequest) *comp {
	out := &comp{Name: c.Name}
	if c.AllProps {
		out.Allprop = &struct{}{}
	}
	for _, name := range c.Props {
		out.Prop = append(out.Prop, prop{Name: name})
	}
	if c.AllComps {
		out.Allcomp = &struct{}{}
	}
	for i := range c.Comps {
		out.Comp = append(out.Comp, *encodeCalendarCompReq(&c.Comps[i]))
	}
	return out
}

func encodeCalendarReq(c *CalendarCompRequest) (*internal.Prop, error) {
	compReq := calendarDataReq{}
	if c != nil {
		compReq.Comp = encodeCalendarCompReq(c)
	}

	return internal.EncodePropMulti(
		&compReq,
		internal.NewRawXMLElement(internal.GetETagName, nil, nil),
		internal.NewRawXMLElement(internal.GetLastModifiedName, nil, nil),
	)
}

func encodeCompFilter(f *CompFilter) compFilter {
	out := compFilter{Name: f.Name}
	if !f.Start.IsZero() || !f.End.IsZero() {
		tr := &timeRange{}
		if !f.Start.IsZero() {
			tr.Start = dateWithUTCTime(f.Start)
		}
		if !f.End.IsZero() {
			tr.End = dateWithUTCTime(f.End)
		}
		out.TimeRange = tr
	}
	for i := range f.Comps {
		out.CompFilters = append(out.CompFilters, encodeCompFilter(&f.Comps[i]))
	}
	return out
}

func decodeCalendarObject(resp *internal.Response) (*CalendarObject, error) {
	path, err := resp.Path()
	if err != nil {
		return nil, err
	}

	var data calendarDataResp
	if err := resp.DecodeProp(&data); err != nil {
		return nil, err
	}

	co := &CalendarObject{Path: path, Data: data.Data}

	var etag internal.GetETag
	if err := resp.DecodeProp(&etag); err == nil {
		if parsed, err := webdav.ParseETag(etag.ETag); err == nil {
			co.ETag = string(parsed)
		} else {
			co.ETag = etag.ETag
		}
	} else if !internal.IsNotFound(err) {
		return nil, err
	}

	var lastMod internal.GetLastModified
	if err := resp.DecodeProp(&lastMod); err == nil && lastMod.LastModified != "" {
		if t, err := http.ParseTime(lastMod.LastModified); err == nil {
			co.ModTime = t
		}
	} else if err != nil && !internal.IsNotFound(err) {
		return nil, err
	}

	return co, nil
}

// QueryCalendar performs a calendar-query REPORT (RFC 4791 section 7.8),
// returning the matching calendar objects.
func (c *Client) QueryCalendar(calendar string, query *CalendarQuery) ([]CalendarObject, error) {
	propReq, err := encodeCalendarReq(&query.CompRequest)
	if err != nil {
		return nil, err
	}

	q := calendarQuery{Prop: propReq}
	q.Filter.CompFilter = encodeCompFilter(&query.CompFilter)

	req, err := c.ic.NewXMLRequest("REPORT", calendar, &q)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Depth", "1")

	ms, err := c.ic.DoMultiStatus(req)
	if err != nil {
		return nil, err
	}

	objs := make([]CalendarObject, 0, len(ms.Responses))
	for i := range ms.Responses {
		if err := ms.Responses[i].Err(); err != nil {
			continue
		}
		co, err := decodeCalendarObject(&ms.Responses[i])
		if err != nil {
			return nil, err
		}
		objs = append(objs, *co)
	}
	return objs, nil
}

// QueryCalendarMany runs QueryCalendar once per calendar in calendars,
// using the same query for each, bounded to at most maxConcurrency
// requests in flight at a time. Results are returned in the same order
// as calendars; a failure against one calendar doesn't stop the others.
// A maxConcurrency of 0 or less means unbounded.
func (c *Client) QueryCalendarMany(ctx context.Context, calendars []string, query *CalendarQuery, maxConcurrency int) []webdav.BatchResult[[]CalendarObject] {
	return webdav.RunBatch(ctx, calendars, maxConcurrency, func(_ context.Context, calendar string) ([]CalendarObject, error) {
		return c.QueryCalendar(calendar, query)
	})
}

// MultiGetCalendar performs a calendar-multiget REPORT (RFC 4791 section
// 7.9), fetching a known list of calendar object paths in one round trip.
func (c *Client) MultiGetCalendar(calendar string, multiget *CalendarMultiGet) ([]CalendarObject, error) {
	propReq, err := encodeCalendarReq(&multiget.CompRequest)
	if err != nil {
		return nil, err
	}

	q := calendarMultiget{Prop: propReq}
	for _, p := range multiget.Paths {
		q.Hrefs = append(q.Hrefs, internal.Href{Path: p})
	}

	req, err := c.ic.NewXMLRequest("REPORT", calendar, &q)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Depth", "0")

	ms, err := c.ic.DoMultiStatus(req)
	if err != nil {
		return nil, err
	}

	objs := make([]CalendarObject, 0, len(ms.Responses))
	for i := range ms.Responses {
		if err := ms.Responses[i].Err(); err != nil {
			continue
		}
		co, err := decodeCalendarObject(&ms.Responses[i])
		if err != nil {
			return nil, err
		}
		objs = append(objs, *co)
	}
	return objs, nil
}

// GetCalendarObject fetches a single calendar object's raw iCalendar data.
func (c *Client) GetCalendarObject(path string) (*CalendarObject, error) {
	resp, err := c.Get(path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	co := &CalendarObject{Path: path, Data: data}
	if etag, err := webdav.ParseETag(resp.Header.Get("ETag")); err == nil {
		co.ETag = string(etag)
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			co.ModTime = t
		}
	}
	return co, nil
}

// PutCalendarObject uploads a calendar object, optionally guarded by cond
// (e.g. If-None-Match: * to refuse overwriting an existing object, or
// If-Match: <etag> to guard against a concurrent modification).
func (c *Client) PutCalendarObject(path string, data []byte, cond webdav.Condition) (*CalendarObject, error) {
	etag, err := c.Put(path, bytes.NewReader(data), "text/calendar", cond)
	if err != nil {
		return nil, err
	}

	co := &CalendarObject{Path: path, Data: data, ModTime: time.Now()}
	if parsed, err := webdav.ParseETag(etag); err == nil {
		co.ETag = string(parsed)
	}
	return co, nil
}

// DeleteCalendarObject removes a calendar object, optionally guarded by
// an If-Match condition.
func (c *Client) DeleteCalendarObject(path string, cond webdav.Condition) error {
	return c.Delete(path, cond)
}

// SyncCollection performs a sync-collection REPORT (RFC 6578) against a
// calendar collection.
func (c *Client) SyncCollection(calendar, syncToken string, limit *int) (*SyncCollectionResult, error) {
	propReq, err := internal.EncodePropMulti(
		internal.NewRawXMLElement(internal.GetETagName, nil, nil),
		internal.NewRawXMLElement(internal.GetLastModifiedName, nil, nil),
		&calendarDataResp{},
	)
	if err != nil {
		return nil, err
	}

	var il *internal.Limit
	if limit != nil {
		il = &internal.Limit{NResults: uint(*limit)}
	}

	res, err := c.ic.SyncCollection(calendar, syncToken, internal.DepthInfinity, il, propReq)
	if err != nil {
		return nil, err
	}

	out := &SyncCollectionResult{
		NewSyncToken: res.NewSyncToken,
		Truncated:    res.Truncated,
	}
	for i := range res.Multistatus.Responses {
		resp := &res.Multistatus.Responses[i]
		path, err := resp.Path()
		if err != nil {
			return nil, err
		}

		if err := resp.Err(); err != nil {
			if httpErr, ok := err.(*internal.HTTPError); ok && (httpErr.Code == 404 || httpErr.Code == 410) {
				out.Changes = append(out.Changes, CalendarObjectChange{Path: path, Deleted: true})
				continue
			}
			return nil, err
		}

		co, err := decodeCalendarObject(resp)
		if err != nil {
			return nil, err
		}
		out.Changes = append(out.Changes, CalendarObjectChange{Path: path, Object: co})
	}
	return out, nil
}
