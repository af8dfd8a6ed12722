package carddav_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	webdav "github.com/Goopil/fast-dav-rs"
	"github.com/Goopil/fast-dav-rs/carddav"
)

const aliceVCard = `BEGIN:VCARD
VERSION:4.0
UID:urn:uuid:4fbe8971-0bc3-424c-9c26-36c3e1eff6b1
FN:Alice Gopher
N:Gopher;Alice;;;
EMAIL:alice@example.com
END:VCARD
`

func newTestServer(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "PROPFIND":
			w.Header().Set("Content-Type", "application/xml; charset=utf-8")
			w.WriteHeader(http.StatusMultiStatus)
			fmt.Fprint(w, `<?xml version="1.0"?>
<multistatus xmlns="DAV:">
  <response>
    <href>/</href>
    <propstat>
      <prop><current-user-principal><href>/principals/alice/</href></current-user-principal></prop>
      <status>HTTP/1.1 200 OK</status>
    </propstat>
  </response>
</multistatus>`)
		default:
			http.NotFound(w, r)
		}
	})

	mux.HandleFunc("/principals/alice/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml; charset=utf-8")
		w.WriteHeader(http.StatusMultiStatus)
		fmt.Fprint(w, `<?xml version="1.0"?>
<multistatus xmlns="DAV:" xmlns:C="urn:ietf:params:xml:ns:carddav">
  <response>
    <href>/principals/alice/</href>
    <propstat>
      <prop><C:addressbook-home-set><href>/dav/contacts/</href></C:addressbook-home-set></prop>
      <status>HTTP/1.1 200 OK</status>
    </propstat>
  </response>
</multistatus>`)
	})

	mux.HandleFunc("/dav/contacts/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml; charset=utf-8")
		w.WriteHeader(http.StatusMultiStatus)
		fmt.Fprint(w, `<?xml version="1.0"?>
<multistatus xmlns="DAV:" xmlns:C="urn:ietf:params:xml:ns:carddav">
  <response>
    <href>/dav/contacts/default/</href>
    <propstat>
      <prop>
        <resourcetype><collection/><C:addressbook/></resourcetype>
        <displayname>My contacts</displayname>
      </prop>
      <status>HTTP/1.1 200 OK</status>
    </propstat>
  </response>
</multistatus>`)
	})

	mux.HandleFunc("/dav/contacts/alice.vcf", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Header().Set("ETag", `"abc123"`)
			w.Header().Set("Content-Type", "text/vcard")
			w.Write([]byte(aliceVCard))
		case http.MethodPut:
			if r.Header.Get("If-None-Match") == "*" {
				w.WriteHeader(http.StatusPreconditionFailed)
				return
			}
			w.Header().Set("ETag", `"xyz789"`)
			w.WriteHeader(http.StatusCreated)
		default:
			http.NotFound(w, r)
		}
	})

	return httptest.NewServer(mux)
}

func TestAddressBookDiscoveryAndFetch(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	client, err := carddav.NewClient(nil, ts.URL)
	require.NoError(t, err)

	principal, err := client.FindCurrentUserPrincipal()
	require.NoError(t, err)
	assert.Equal(t, "/principals/alice/", principal)

	homeSet, err := client.FindAddressBookHomeSet(principal)
	require.NoError(t, err)
	assert.Equal(t, "/dav/contacts/", homeSet)

	books, err := client.FindAddressBooks(homeSet)
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, "My contacts", books[0].Name)

	obj, err := client.GetAddressObject("/dav/contacts/alice.vcf")
	require.NoError(t, err)
	assert.Equal(t, `"abc123"`, obj.ETag)
	assert.Contains(t, string(obj.Data), "Alice Gopher")
}

func TestQueryAddressBookByUIDFiltersOnUIDProperty(t *testing.T) {
	var gotBody []byte

	mux := http.NewServeMux()
	mux.HandleFunc("/dav/contacts/", func(w http.ResponseWriter, r *http.Request) {
		var err error
		gotBody, err = io.ReadAll(r.Body)
		require.NoError(t, err)

		w.Header().Set("Content-Type", "application/xml; charset=utf-8")
		w.WriteHeader(http.StatusMultiStatus)
		fmt.Fprint(w, `<?xml version="1.0"?><multistatus xmlns="DAV:"></multistatus>`)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	client, err := carddav.NewClient(nil, ts.URL, webdav.WithCompression(webdav.CompressionDisabled, webdav.EncodingIdentity))
	require.NoError(t, err)

	_, err = client.QueryAddressBook("/dav/contacts/", carddav.QueryByUID("urn:uuid:4fbe8971"))
	require.NoError(t, err)

	body := string(gotBody)
	assert.Contains(t, body, `name="UID"`)
	assert.Contains(t, body, `match-type="equals"`)
	assert.Contains(t, body, `collation="i;unicode-casemap"`)
	assert.Contains(t, body, "urn:uuid:4fbe8971")
	assert.NotContains(t, body, `name="FN"`)
}

func TestQueryAddressBookManyPreservesOrderAcrossAddressBooks(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/dav/contacts/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml; charset=utf-8")
		w.WriteHeader(http.StatusMultiStatus)
		fmt.Fprint(w, `<?xml version="1.0"?>
<multistatus xmlns="DAV:">
  <response>
    <href>/dav/contacts/alice.vcf</href>
    <propstat>
      <prop><getetag>"c1"</getetag><address-data xmlns="urn:ietf:params:xml:ns:carddav">BEGIN:VCARD</address-data></prop>
      <status>HTTP/1.1 200 OK</status>
    </propstat>
  </response>
</multistatus>`)
	})
	mux.HandleFunc("/dav/friends/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml; charset=utf-8")
		w.WriteHeader(http.StatusMultiStatus)
		fmt.Fprint(w, `<?xml version="1.0"?>
<multistatus xmlns="DAV:">
  <response>
    <href>/dav/friends/bob.vcf</href>
    <propstat>
      <prop><getetag>"f1"</getetag><address-data xmlns="urn:ietf:params:xml:ns:carddav">BEGIN:VCARD</address-data></prop>
      <status>HTTP/1.1 200 OK</status>
    </propstat>
  </response>
</multistatus>`)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	client, err := carddav.NewClient(nil, ts.URL, webdav.WithCompression(webdav.CompressionDisabled, webdav.EncodingIdentity))
	require.NoError(t, err)

	results := client.QueryAddressBookMany(context.Background(), []string{"/dav/contacts/", "/dav/friends/"}, nil, 1)
	require.Len(t, results, 2)

	require.NoError(t, results[0].Err)
	require.Len(t, results[0].Value, 1)
	assert.Equal(t, "/dav/contacts/alice.vcf", results[0].Value[0].Path)

	require.NoError(t, results[1].Err)
	require.Len(t, results[1].Value, 1)
	assert.Equal(t, "/dav/friends/bob.vcf", results[1].Value[0].Path)
}

func TestPutAddressObjectIfNoneMatchConflict(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	client, err := carddav.NewClient(nil, ts.URL)
	require.NoError(t, err)

	cond := webdav.Condition{IfNoneMatch: "*"}

	_, err = client.PutAddressObject("/dav/contacts/alice.vcf", []byte(aliceVCard), cond)
	require.Error(t, err)

	var conflictErr *webdav.ConflictError
	require.ErrorAs(t, err, &conflictErr)
}
