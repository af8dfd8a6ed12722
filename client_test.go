package webdav_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	webdav "github.com/Goopil/fast-dav-rs"
)

func TestClientStat(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "PROPFIND", r.Method)
		require.Equal(t, "0", r.Header.Get("Depth"))

		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusMultiStatus)
		fmt.Fprint(w, `<?xml version="1.0"?>
<D:multistatus xmlns:D="DAV:">
  <D:response>
    <D:href>/file.txt</D:href>
    <D:propstat>
      <D:prop>
        <D:resourcetype/>
        <D:getetag>"v1"</D:getetag>
        <D:getcontenttype>text/plain</D:getcontenttype>
        <D:getcontentlength>42</D:getcontentlength>
      </D:prop>
      <D:status>HTTP/1.1 200 OK</D:status>
    </D:propstat>
  </D:response>
</D:multistatus>`)
	}))
	defer ts.Close()

	client, err := webdav.NewClient(nil, ts.URL)
	require.NoError(t, err)

	fi, err := client.Stat("/file.txt")
	require.NoError(t, err)
	assert.Equal(t, "/file.txt", fi.Path)
	assert.Equal(t, int64(42), fi.Size)
	assert.Equal(t, `"v1"`, fi.ETag)
	assert.False(t, fi.IsDir)
}

func TestClientPutConditionalIfNoneMatch(t *testing.T) {
	var gotHeader string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("If-None-Match")
		w.Header().Set("ETag", `"new"`)
		w.WriteHeader(http.StatusCreated)
	}))
	defer ts.Close()

	client, err := webdav.NewClient(nil, ts.URL)
	require.NoError(t, err)

	etag, err := client.Put("/new.txt", strings.NewReader("hi"), "text/plain", webdav.Condition{IfNoneMatch: "*"})
	require.NoError(t, err)
	assert.Equal(t, `"new"`, etag)
	assert.Equal(t, "*", gotHeader)
}

func TestClientPutPreconditionFailed(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPreconditionFailed)
	}))
	defer ts.Close()

	client, err := webdav.NewClient(nil, ts.URL)
	require.NoError(t, err)

	_, err = client.Put("/existing.txt", strings.NewReader("hi"), "text/plain", webdav.Condition{IfMatch: `"stale"`})
	require.Error(t, err)

	var precondErr *webdav.PreconditionFailedError
	require.ErrorAs(t, err, &precondErr)
	assert.Equal(t, `"stale"`, precondErr.ExpectedETag)
}

func TestClientPutIfNoneMatchConflict(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPreconditionFailed)
	}))
	defer ts.Close()

	client, err := webdav.NewClient(nil, ts.URL)
	require.NoError(t, err)

	_, err = client.Put("/existing.txt", strings.NewReader("hi"), "text/plain", webdav.Condition{IfNoneMatch: "*"})
	require.Error(t, err)

	var conflictErr *webdav.ConflictError
	require.ErrorAs(t, err, &conflictErr)
	assert.False(t, errors.As(err, new(*webdav.PreconditionFailedError)))
}

func TestClientStatManyPreservesOrderAcrossPaths(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/a.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusMultiStatus)
		fmt.Fprint(w, `<?xml version="1.0"?>
<D:multistatus xmlns:D="DAV:">
  <D:response>
    <D:href>/a.txt</D:href>
    <D:propstat><D:prop><D:getcontentlength>1</D:getcontentlength></D:prop><D:status>HTTP/1.1 200 OK</D:status></D:propstat>
  </D:response>
</D:multistatus>`)
	})
	mux.HandleFunc("/missing.txt", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	client, err := webdav.NewClient(nil, ts.URL)
	require.NoError(t, err)

	results := client.StatMany(context.Background(), []string{"/a.txt", "/missing.txt"}, 1)
	require.Len(t, results, 2)

	require.NoError(t, results[0].Err)
	assert.Equal(t, int64(1), results[0].Value.Size)

	require.Error(t, results[1].Err)
}

func TestClientConditionRejectsBothHeaders(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request should never be sent")
	}))
	defer ts.Close()

	client, err := webdav.NewClient(nil, ts.URL)
	require.NoError(t, err)

	_, err = client.Put("/x.txt", strings.NewReader("hi"), "text/plain", webdav.Condition{IfMatch: `"a"`, IfNoneMatch: `"b"`})
	require.Error(t, err)
}

func TestClientFindCurrentUserPrincipal(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusMultiStatus)
		fmt.Fprint(w, `<?xml version="1.0"?>
<D:multistatus xmlns:D="DAV:">
  <D:response>
    <D:href>/</D:href>
    <D:propstat>
      <D:prop><D:current-user-principal><D:href>/principals/bob/</D:href></D:current-user-principal></D:prop>
      <D:status>HTTP/1.1 200 OK</D:status>
    </D:propstat>
  </D:response>
</D:multistatus>`)
	}))
	defer ts.Close()

	client, err := webdav.NewClient(nil, ts.URL)
	require.NoError(t, err)

	principal, err := client.FindCurrentUserPrincipal()
	require.NoError(t, err)
	assert.Equal(t, "/principals/bob/", principal)
}

func TestClientDefaultTimeoutFiresAsTimeoutError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client, err := webdav.NewClient(nil, ts.URL, webdav.WithTimeout(5*time.Millisecond))
	require.NoError(t, err)

	_, err = client.Get("/slow.txt")
	require.Error(t, err)

	var timeoutErr *webdav.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
}

func TestClientGetContextOverridesDefaultTimeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Millisecond)
		w.Write([]byte("still here"))
	}))
	defer ts.Close()

	client, err := webdav.NewClient(nil, ts.URL, webdav.WithTimeout(5*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	resp, err := client.GetContext(ctx, "/slow.txt")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "still here", string(body))
}
