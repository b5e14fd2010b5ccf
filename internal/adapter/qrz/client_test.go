package qrz

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/sota-rbn-matcher/internal/domain"
	"github.com/couchcryptid/sota-rbn-matcher/internal/observability"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const header = `<?xml version="1.0" encoding="utf-8" ?>` + "\n"

func sessionXML(key, errMsg string) string {
	return fmt.Sprintf(`%s<QRZDatabase version="1.34" xmlns="http://xmldata.qrz.com">
  <Session>
    <Key>%s</Key>
    <Error>%s</Error>
    <SubExp>Wed Jan 1 12:34:03 2025</SubExp>
  </Session>
</QRZDatabase>`, header, key, errMsg)
}

func recordXML(key, body string) string {
	return fmt.Sprintf(`%s<QRZDatabase version="1.34" xmlns="http://xmldata.qrz.com">
  <Callsign>%s</Callsign>
  <Session><Key>%s</Key></Session>
</QRZDatabase>`, header, body, key)
}

// directory is a fake QRZ endpoint. It issues "key-N" on the Nth login and
// accepts only the most recent key.
type directory struct {
	logins  atomic.Int32
	lookups atomic.Int32
	current atomic.Value
	records map[string]string
	loginOK bool
}

func (d *directory) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("username") != "" {
		if !d.loginOK {
			_, _ = io.WriteString(w, sessionXML("", "Username/password incorrect"))
			return
		}
		n := d.logins.Add(1)
		key := fmt.Sprintf("key-%d", n)
		d.current.Store(key)
		_, _ = io.WriteString(w, sessionXML(key, ""))
		return
	}

	d.lookups.Add(1)
	if cur, _ := d.current.Load().(string); q.Get("s") != cur {
		_, _ = io.WriteString(w, sessionXML("", "Session Timeout"))
		return
	}
	body, ok := d.records[q.Get("callsign")]
	if !ok {
		_, _ = io.WriteString(w, sessionXML(q.Get("s"), "Not found: "+q.Get("callsign")))
		return
	}
	_, _ = io.WriteString(w, recordXML(q.Get("s"), body))
}

func newDirectory() *directory {
	return &directory{
		loginOK: true,
		records: map[string]string{
			"K1ABC": `<call>K1ABC</call><fname>Alice</fname><name>Baker</name><lat>42.3601</lat><lon>-71.0589</lon><grid>FN42li</grid>`,
			"W3LPL": `<call>W3LPL</call><grid>FM19</grid>`,
			"N0POS": `<call>N0POS</call><fname>No</fname><name>Position</name>`,
		},
	}
}

func testClient(t *testing.T, d *directory, clock clockwork.Clock) *Client {
	t.Helper()
	srv := httptest.NewServer(d)
	t.Cleanup(srv.Close)
	return NewClient(Config{URL: srv.URL, Username: "k1abc", Password: "secret", Timeout: 5 * time.Second},
		clock, slog.New(slog.NewTextHandler(io.Discard, nil)), observability.NewMetricsForTesting())
}

func TestLookupCallsign_LoginOnceAndReuseSession(t *testing.T) {
	d := newDirectory()
	c := testClient(t, d, nil)

	loc, err := c.LookupCallsign(context.Background(), "K1ABC/P")
	require.NoError(t, err)
	assert.InDelta(t, 42.3601, loc.Lat, 1e-9)
	assert.InDelta(t, -71.0589, loc.Lon, 1e-9)
	assert.Equal(t, "Alice Baker", loc.Name)
	assert.Equal(t, domain.SourceQRZ, loc.Source)

	_, err = c.LookupCallsign(context.Background(), "k1abc")
	require.NoError(t, err)
	assert.Equal(t, int32(1), d.logins.Load())
	assert.Equal(t, int32(2), d.lookups.Load())
}

func TestLookupCallsign_GridFallback(t *testing.T) {
	c := testClient(t, newDirectory(), nil)

	loc, err := c.LookupCallsign(context.Background(), "W3LPL")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceGrid, loc.Source)
	want, err := domain.GridToCoordinates("FM19")
	require.NoError(t, err)
	assert.InDelta(t, want.Lat, loc.Lat, 1e-9)
	assert.InDelta(t, want.Lon, loc.Lon, 1e-9)
}

func TestLookupCallsign_NoPosition(t *testing.T) {
	c := testClient(t, newDirectory(), nil)
	_, err := c.LookupCallsign(context.Background(), "N0POS")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLookupCallsign_NotFound(t *testing.T) {
	c := testClient(t, newDirectory(), nil)
	_, err := c.LookupCallsign(context.Background(), "ZZ9ZZZ")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLookupCallsign_ExpiredSessionReLogsInTransparently(t *testing.T) {
	d := newDirectory()
	c := testClient(t, d, nil)

	_, err := c.LookupCallsign(context.Background(), "K1ABC")
	require.NoError(t, err)

	// Server-side expiry: the directory stops accepting key-1.
	d.current.Store("rotated")

	loc, err := c.LookupCallsign(context.Background(), "K1ABC")
	require.NoError(t, err)
	assert.InDelta(t, 42.3601, loc.Lat, 1e-9)
	assert.Equal(t, int32(2), d.logins.Load())
}

func TestLookupCallsign_SessionAgeTriggersLogin(t *testing.T) {
	d := newDirectory()
	clock := clockwork.NewFakeClock()
	c := testClient(t, d, clock)

	_, err := c.LookupCallsign(context.Background(), "K1ABC")
	require.NoError(t, err)

	clock.Advance(sessionTTL + time.Minute)
	_, err = c.LookupCallsign(context.Background(), "K1ABC")
	require.NoError(t, err)
	assert.Equal(t, int32(2), d.logins.Load())
	assert.Equal(t, int32(2), d.lookups.Load(), "no wasted lookup with the old key")
}

func TestLookupCallsign_BadCredentials(t *testing.T) {
	d := newDirectory()
	d.loginOK = false
	c := testClient(t, d, nil)

	_, err := c.LookupCallsign(context.Background(), "K1ABC")
	assert.ErrorIs(t, err, domain.ErrAuthentication)
	assert.Zero(t, d.lookups.Load())
}

func TestLookupCallsign_HTTPErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(Config{URL: srv.URL, Username: "u", Password: "p", Timeout: time.Second},
		nil, slog.New(slog.NewTextHandler(io.Discard, nil)), observability.NewMetricsForTesting())
	_, err := c.LookupCallsign(context.Background(), "K1ABC")
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
}

func TestRecordLocation_InvalidLatLonUsesGrid(t *testing.T) {
	r := &record{Lat: "0", Lon: "0", Grid: "JO62qm"}
	loc, err := r.location("DL1ABC")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceGrid, loc.Source)
	assert.InDelta(t, 52.5, loc.Lat, 0.1)
}
