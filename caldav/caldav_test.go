package caldav_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	webdav "github.com/Goopil/fast-dav-rs"
	"github.com/Goopil/fast-dav-rs/caldav"
)

func TestQueryCalendarTimeRangeBuildsUTCCompFilter(t *testing.T) {
	var gotBody []byte

	mux := http.NewServeMux()
	mux.HandleFunc("/cal/alice/work/", func(w http.ResponseWriter, r *http.Request) {
		var err error
		gotBody, err = io.ReadAll(r.Body)
		require.NoError(t, err)

		w.Header().Set("Content-Type", "application/xml; charset=utf-8")
		w.WriteHeader(http.StatusMultiStatus)
		fmt.Fprint(w, `<?xml version="1.0"?><multistatus xmlns="DAV:"></multistatus>`)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	client, err := caldav.NewClient(nil, ts.URL, webdav.WithCompression(webdav.CompressionDisabled, webdav.EncodingIdentity))
	require.NoError(t, err)

	start := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	end := time.Date(2023, 1, 3, 0, 0, 0, 0, time.UTC)
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{Name: "VCALENDAR", AllProps: true, AllComps: true},
		CompFilter: caldav.CompFilter{
			Name: "VCALENDAR",
			Comps: []caldav.CompFilter{
				{Name: "VEVENT", Start: start, End: end},
			},
		},
	}

	_, err = client.QueryCalendar("/cal/alice/work/", query)
	require.NoError(t, err)

	body := string(gotBody)
	assert.Contains(t, body, `name="VCALENDAR"`)
	assert.Contains(t, body, `name="VEVENT"`)
	assert.Contains(t, body, `start="20230102T000000Z"`)
	assert.Contains(t, body, `end="20230103T000000Z"`)
}

func TestCalendarCompRequestZeroValueHasNoName(t *testing.T) {
	assert.Equal(t, "", caldav.CalendarCompRequest{}.Name)
	assert.Equal(t, "VEVENT", caldav.CalendarCompRequest{Name: "VEVENT"}.Name)
}

func TestQueryCalendarManyPreservesOrderAcrossCalendars(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/cal/alice/work/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml; charset=utf-8")
		w.WriteHeader(http.StatusMultiStatus)
		fmt.Fprint(w, `<?xml version="1.0"?>
<multistatus xmlns="DAV:">
  <response>
    <href>/cal/alice/work/a.ics</href>
    <propstat>
      <prop><getetag>"w1"</getetag><calendar-data xmlns="urn:ietf:params:xml:ns:caldav">BEGIN:VCALENDAR</calendar-data></prop>
      <status>HTTP/1.1 200 OK</status>
    </propstat>
  </response>
</multistatus>`)
	})
	mux.HandleFunc("/cal/alice/home/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml; charset=utf-8")
		w.WriteHeader(http.StatusMultiStatus)
		fmt.Fprint(w, `<?xml version="1.0"?>
<multistatus xmlns="DAV:">
  <response>
    <href>/cal/alice/home/b.ics</href>
    <propstat>
      <prop><getetag>"h1"</getetag><calendar-data xmlns="urn:ietf:params:xml:ns:caldav">BEGIN:VCALENDAR</calendar-data></prop>
      <status>HTTP/1.1 200 OK</status>
    </propstat>
  </response>
</multistatus>`)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	client, err := caldav.NewClient(nil, ts.URL, webdav.WithCompression(webdav.CompressionDisabled, webdav.EncodingIdentity))
	require.NoError(t, err)

	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{Name: "VCALENDAR", AllProps: true, AllComps: true},
		CompFilter:  caldav.CompFilter{Name: "VCALENDAR"},
	}

	results := client.QueryCalendarMany(context.Background(), []string{"/cal/alice/work/", "/cal/alice/home/"}, query, 1)
	require.Len(t, results, 2)

	require.NoError(t, results[0].Err)
	require.Len(t, results[0].Value, 1)
	assert.Equal(t, "/cal/alice/work/a.ics", results[0].Value[0].Path)

	require.NoError(t, results[1].Err)
	require.Len(t, results[1].Value, 1)
	assert.Equal(t, "/cal/alice/home/b.ics", results[1].Value[0].Path)
}
