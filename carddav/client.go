package carddav

import (
	"bytes"
	"context"
	"io"
	"net/http"

	webdav "github.com/Goopil/fast-dav-rs"
	"github.com/Goopil/fast-dav-rs/internal"
)

// Discover performs a DNS-based CardDAV service discovery as described in
// RFC 6764 section 6.
func Discover(host string) (string, error) {
	return internal.Discover("carddav", host)
}

// Client is a CardDAV client (RFC 6352), layering address book discovery,
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

// FindAddressBookHomeSet performs a PROPFIND for
// CARDDAV:addressbook-home-set against a principal URL.
func (c *Client) FindAddressBookHomeSet(principal string) (string, error) {
	propfind := internal.NewPropPropfind(addressBookHomeSetName)
	resp, err := c.ic.PropfindFlat(principal, propfind)
	if err != nil {
		return "", err
	}

	var prop addressbookHomeSet
	if err := resp.DecodeProp(&prop); err != nil {
		return "", err
	}
	return prop.Href.Path, nil
}

// FindAddressBooks lists the address book collections directly inside an
// address book home collection.
func (c *Client) FindAddressBooks(addressBookHomeSet string) ([]AddressBook, error) {
	propfind := internal.NewPropPropfind(
		internal.ResourceTypeName,
		internal.DisplayNameName,
		addressBookDescriptionName,
		maxResourceSizeName,
	)
	ms, err := c.ic.Propfind(addressBookHomeSet, internal.DepthOne, propfind)
	if err != nil {
		return nil, err
	}

	self := c.ic.ResolveHref(addressBookHomeSet).Path
	var books []AddressBook
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
		if !resType.Is(addressBookName) {
			continue
		}

		var desc addressbookDescription
		if err := resp.DecodeProp(&desc); err != nil && !internal.IsNotFound(err) {
			return nil, err
		}

		var dispName internal.DisplayName
		if err := resp.DecodeProp(&dispName); err != nil && !internal.IsNotFound(err) {
			return nil, err
		}

		var maxResSize maxResourceSize
		if err := resp.DecodeProp(&maxResSize); err != nil && !internal.IsNotFound(err) {
			return nil, err
		}

		books = append(books, AddressBook{
			Path:            path,
			Name:            dispName.Name,
			Description:     desc.Description,
			MaxResourceSize: maxResSize.Size,
		})
	}
	return books, nil
}

// Mkaddressbook creates an address book collection at path, using
// CARDDAV:mkaddressbook (RFC 6352 section 5.2) and falling back to a
// MKCOL with an injected CARDDAV:addressbook resourcetype for servers
// that only implement RFC 5689 extended MKCOL.
func (c *Client) Mkaddressbook(path, name, description string) error {
	body := &mkaddressbook{}
	body.Set.Prop.DisplayName.Name = name
	if description != "" {
		body.Set.Prop.Description = &addressbookDescription{Description: description}
	}

	req, err := c.ic.NewXMLRequest("MKADDRESSBOOK", path, body)
	if err != nil {
		return err
	}

	resp, err := c.ic.Do(req)
	if err == nil {
		resp.Body.Close()
		return nil
	}

	httpErr, ok := err.(*internal.HTTPError)
	if !ok || (httpErr.Code != http.StatusNotImplemented && httpErr.Code != http.StatusMethodNotAllowed) {
		return err
	}

	resType, rtErr := internal.NewResourceType(true, addressBookName)
	if rtErr != nil {
		return rtErr
	}

	fallback := &mkcolAddressbook{}
	fallback.Set.Prop.ResourceType = resType
	if description != "" {
		fallback.Set.Prop.Description = &addressbookDescription{Description: description}
	}

	req, err = c.ic.NewXMLRequest("MKCOL", path, fallback)
	if err != nil {
		return err
	}
	resp, err = c.ic.Do(req)
	if err != nil {
		if httpErr, ok := err.(*internal.HTTPError); ok && (httpErr.Code == http.StatusNotImplemented || httpErr.Code == http.StatusMethodNotAllowed) {
			return &webdav.UnsupportedOperationError{Operation: "MKADDRESSBOOK", Path: path, Err: err}
		}
		return err
	}
	resp.Body.Close()
	return nil
}

func decodeAddressObject(resp *internal.Response) (*AddressObject, error) {
	path, err := resp.Path()
	if err != nil {
		return nil, err
	}

	var data addressDataResp
	if err := resp.DecodeProp(&data); err != nil {
		return nil, err
	}

	ao := &AddressObject{Path: path, Data: data.Data}

	var etag internal.GetETag
	if err := resp.DecodeProp(&etag); err == nil {
		if parsed, err := webdav.ParseETag(etag.ETag); err == nil {
			ao.ETag = string(parsed)
		} else {
			ao.ETag = etag.ETag
		}
	} else if !internal.IsNotFound(err) {
		return nil, err
	}

	return ao, nil
}

func decodeAddressList(ms *internal.Multistatus) ([]AddressObject, error) {
	addrs := make([]AddressObject, 0, len(ms.Responses))
	for i := range ms.Responses {
		if err := ms.Responses[i].Err(); err != nil {
			continue
		}
		ao, err := decodeAddressObject(&ms.Responses[i])
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, *ao)
	}
	return addrs, nil
}

func encodeAddressReq(props []string) (*internal.Prop, error) {
	var dataReq addressDataReq
	for _, name := range props {
		dataReq.Props = append(dataReq.Props, prop{Name: name})
	}
	return internal.EncodePropMulti(
		&dataReq,
		internal.NewRawXMLElement(internal.GetETagName, nil, nil),
	)
}

// QueryAddressBook performs an addressbook-query REPORT (RFC 6352
// section 8.6).
func (c *Client) QueryAddressBook(addressBook string, query *AddressBookQuery) ([]AddressObject, error) {
	var props []string
	var match, matchProp string
	if query != nil {
		props = query.Props
		match = query.Match
		matchProp = query.MatchProp
	}

	propReq, err := encodeAddressReq(props)
	if err != nil {
		return nil, err
	}

	q := addressbookQuery{Prop: propReq}
	if match != "" {
		if matchProp == "" {
			matchProp = "FN"
		}
		q.Filter = &struct {
			PropFilter *propFilter `xml:"urn:ietf:params:xml:ns:carddav prop-filter"`
		}{
			PropFilter: &propFilter{
				Name: matchProp,
				TextMatch: &textMatch{
					Collation: "i;unicode-casemap",
					MatchType: "equals",
					Value:     match,
				},
			},
		}
	}

	req, err := c.ic.NewXMLRequest("REPORT", addressBook, &q)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Depth", "1")

	ms, err := c.ic.DoMultiStatus(req)
	if err != nil {
		return nil, err
	}
	return decodeAddressList(ms)
}

// QueryAddressBookMany runs QueryAddressBook once per address book in
// addressBooks, using the same query for each, bounded to at most
// maxConcurrency requests in flight at a time. Results are returned in
// the same order as addressBooks; a failure against one address book
// doesn't stop the others. A maxConcurrency of 0 or less means
// unbounded.
func (c *Client) QueryAddressBookMany(ctx context.Context, addressBooks []string, query *AddressBookQuery, maxConcurrency int) []webdav.BatchResult[[]AddressObject] {
	return webdav.RunBatch(ctx, addressBooks, maxConcurrency, func(_ context.Context, addressBook string) ([]AddressObject, error) {
		return c.QueryAddressBook(addressBook, query)
	})
}

// MultiGetAddressBook performs an addressbook-multiget REPORT (RFC 6352
// section 8.7), fetching a known list of address object paths in one
// round trip.
func (c *Client) MultiGetAddressBook(addressBook string, multiGet *AddressBookMultiGet) ([]AddressObject, error) {
	var props []string
	if multiGet != nil {
		props = multiGet.Props
	}

	propReq, err := encodeAddressReq(props)
	if err != nil {
		return nil, err
	}

	q := addressbookMultiget{Prop: propReq}
	if multiGet == nil || len(multiGet.Paths) == 0 {
		q.Hrefs = []internal.Href{{Path: addressBook}}
	} else {
		for _, p := range multiGet.Paths {
			q.Hrefs = append(q.Hrefs, internal.Href{Path: p})
		}
	}

	req, err := c.ic.NewXMLRequest("REPORT", addressBook, &q)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Depth", "0")

	ms, err := c.ic.DoMultiStatus(req)
	if err != nil {
		return nil, err
	}
	return decodeAddressList(ms)
}

// GetAddressObject fetches a single address object's raw vCard data.
func (c *Client) GetAddressObject(path string) (*AddressObject, error) {
	resp, err := c.Get(path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	ao := &AddressObject{Path: path, Data: data}
	if etag, err := webdav.ParseETag(resp.Header.Get("ETag")); err == nil {
		ao.ETag = string(etag)
	}
	return ao, nil
}

// PutAddressObject uploads an address object, optionally guarded by a
// conditional header.
func (c *Client) PutAddressObject(path string, data []byte, cond webdav.Condition) (*AddressObject, error) {
	etag, err := c.Put(path, bytes.NewReader(data), "text/vcard", cond)
	if err != nil {
		return nil, err
	}

	ao := &AddressObject{Path: path, Data: data}
	if parsed, err := webdav.ParseETag(etag); err == nil {
		ao.ETag = string(parsed)
	}
	return ao, nil
}

// DeleteAddressObject removes an address object, optionally guarded by
// an If-Match condition.
func (c *Client) DeleteAddressObject(path string, cond webdav.Condition) error {
	return c.Delete(path, cond)
}

// SyncCollection performs a sync-collection REPORT (RFC 6578) against an
// address book collection.
func (c *Client) SyncCollection(addressBook, syncToken string, limit *int) (*SyncCollectionResult, error) {
	propReq, err := internal.EncodePropMulti(
		internal.NewRawXMLElement(internal.GetETagName, nil, nil),
		&addressDataResp{},
	)
	if err != nil {
		return nil, err
	}

	var il *internal.Limit
	if limit != nil {
		il = &internal.Limit{NResults: uint(*limit)}
	}

	res, err := c.ic.SyncCollection(addressBook, syncToken, internal.DepthInfinity, il, propReq)
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
				out.Changes = append(out.Changes, AddressObjectChange{Path: path, Deleted: true})
				continue
			}
			return nil, err
		}

		ao, err := decodeAddressObject(resp)
		if err != nil {
			return nil, err
		}
		out.Changes = append(out.Changes, AddressObjectChange{Path: path, Object: ao})
	}
	return out, nil
}
