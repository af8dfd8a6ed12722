package internal

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncCollectionTokenFromMultistatusBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Sync-Token", "header-token")
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusMultiStatus)
		fmt.Fprint(w, `<?xml version="1.0"?>
<D:multistatus xmlns:D="DAV:">
  <D:response><D:href>/cal/a.ics</D:href><D:status>HTTP/1.1 200 OK</D:status></D:response>
  <D:sync-token>body-token</D:sync-token>
</D:multistatus>`)
	}))
	defer ts.Close()

	c, err := NewClient(nil, ts.URL)
	require.NoError(t, err)

	result, err := c.SyncCollection("/cal/", "", DepthOne, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "body-token", result.NewSyncToken)
	assert.False(t, result.Truncated)
}

func TestSyncCollectionTokenFallsBackToHeader(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Sync-Token", "header-token")
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusMultiStatus)
		fmt.Fprint(w, `<?xml version="1.0"?>
<D:multistatus xmlns:D="DAV:">
  <D:response><D:href>/cal/a.ics</D:href><D:status>HTTP/1.1 200 OK</D:status></D:response>
</D:multistatus>`)
	}))
	defer ts.Close()

	c, err := NewClient(nil, ts.URL)
	require.NoError(t, err)

	result, err := c.SyncCollection("/cal/", "", DepthOne, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "header-token", result.NewSyncToken)
}

func TestSyncCollectionTokenFallsBackToPerItemProp(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusMultiStatus)
		fmt.Fprint(w, `<?xml version="1.0"?>
<D:multistatus xmlns:D="DAV:">
  <D:response><D:href>/cal/a.ics</D:href><D:status>HTTP/1.1 200 OK</D:status></D:response>
  <D:response>
    <D:href>/cal/b.ics</D:href>
    <D:propstat>
      <D:prop><D:sync-token>item-token</D:sync-token></D:prop>
      <D:status>HTTP/1.1 200 OK</D:status>
    </D:propstat>
  </D:response>
</D:multistatus>`)
	}))
	defer ts.Close()

	c, err := NewClient(nil, ts.URL)
	require.NoError(t, err)

	result, err := c.SyncCollection("/cal/", "", DepthOne, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "item-token", result.NewSyncToken)
}

func TestSyncCollectionTruncatedOn507(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Sync-Token", "partial-token")
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusInsufficientStorage)
		fmt.Fprint(w, `<?xml version="1.0"?>
<D:multistatus xmlns:D="DAV:">
  <D:response><D:href>/cal/a.ics</D:href><D:status>HTTP/1.1 200 OK</D:status></D:response>
</D:multistatus>`)
	}))
	defer ts.Close()

	c, err := NewClient(nil, ts.URL)
	require.NoError(t, err)

	limit := &Limit{NResults: 1}
	result, err := c.SyncCollection("/cal/", "sometoken", DepthOne, limit, nil)
	require.NoError(t, err)
	assert.True(t, result.Truncated)
	assert.Equal(t, "partial-token", result.NewSyncToken)
}

func TestDoRetriesUncompressedWhenOriginRejectsCompression(t *testing.T) {
	var requests int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.Header.Get("Content-Encoding") != "" {
			w.WriteHeader(http.StatusUnsupportedMediaType)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusMultiStatus)
		fmt.Fprint(w, `<?xml version="1.0"?><D:multistatus xmlns:D="DAV:"></D:multistatus>`)
	}))
	defer ts.Close()

	c, err := NewClient(nil, ts.URL, WithCompressionPolicy(NewCompressionPolicy(CompressionForce, EncodingGzip)))
	require.NoError(t, err)

	req, err := c.NewXMLRequest("PROPFIND", "/cal/", NewPropPropfind(GetETagName))
	require.NoError(t, err)
	req.Header.Set("Depth", "0")

	ms, err := c.DoMultiStatus(req)
	require.NoError(t, err)
	assert.NotNil(t, ms)
	assert.Equal(t, 2, requests)
}

func TestDoPinsIdentityAfterRetry(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Encoding") != "" {
			w.WriteHeader(http.StatusUnsupportedMediaType)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusMultiStatus)
		fmt.Fprint(w, `<?xml version="1.0"?><D:multistatus xmlns:D="DAV:"></D:multistatus>`)
	}))
	defer ts.Close()

	policy := NewCompressionPolicy(CompressionAuto, EncodingGzip)
	c, err := NewClient(nil, ts.URL, WithCompressionPolicy(policy))
	require.NoError(t, err)

	// Seed the policy as if a prior probe had already negotiated gzip for
	// this origin, then drive a request through it that gets rejected.
	policy.negotiated[c.origin()] = EncodingGzip

	req, err := c.NewXMLRequest("PROPFIND", "/cal/", NewPropPropfind(GetETagName))
	require.NoError(t, err)
	req.Header.Set("Depth", "0")
	_, err = c.DoMultiStatus(req)
	require.NoError(t, err)

	enc, err := policy.EncodingFor(context.Background(), c.origin(), c.probeCompression)
	require.NoError(t, err)
	assert.Equal(t, EncodingIdentity, enc)
}
