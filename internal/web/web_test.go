package web

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satoqz/rapla-sync/internal/config"
)

const timetablePage = `<html><head><title>Informatik TINF20</title></head><body>` +
	`<select name="year"><option selected>2020</option></select>` +
	`<div class="calendar"><table class="week_table"><tbody>` +
	`<tr><th class="week_number">KW 6</th><td class="week_header"><nobr>Mo 3.2.</nobr></td></tr>` +
	`<tr><td class="week_block"><a href="#">09:00&nbsp;-10:30<br>Algorithms &amp; Data Structures</a>` +
	`<span class="resource">TINF20</span><span class="resource">Room 101</span></td></tr>` +
	`</tbody></table></div></body></html>`

func newTestServer(t *testing.T, upstreamHandler http.HandlerFunc) (*Server, *httptest.Server) {
	t.Helper()

	upstream := httptest.NewServer(upstreamHandler)
	t.Cleanup(upstream.Close)

	cfg := config.DefaultConfig()
	cfg.Upstream = upstream.URL
	cfg.TimeoutSeconds = 5

	return NewServer(cfg), upstream
}

func servePage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(timetablePage))
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, servePage)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestCalendarAsICS(t *testing.T) {
	s, _ := newTestServer(t, servePage)

	for _, path := range []string{"/abc", "/abc.ics"} {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

		require.Equal(t, http.StatusOK, rec.Code, "path %s", path)
		assert.Equal(t, "text/calendar; charset=utf-8", rec.Header().Get("Content-Type"))

		body := rec.Body.String()
		assert.Contains(t, body, "BEGIN:VCALENDAR")
		assert.Contains(t, body, "BEGIN:VTIMEZONE")
		assert.Contains(t, body, "SUMMARY:Algorithms & Data Structures")
		assert.Contains(t, body, "LOCATION:Room 101")
	}
}

func TestCalendarAsJSON(t *testing.T) {
	s, _ := newTestServer(t, servePage)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/abc?format=json", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `"name":"Informatik TINF20"`)
	assert.Contains(t, rec.Body.String(), `"date":"2020-02-03"`)
	assert.Contains(t, rec.Body.String(), `"start":"09:00"`)
}

func TestCalendarCaching(t *testing.T) {
	var hits atomic.Int64
	s, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		servePage(w, r)
	})

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/abc", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	assert.Equal(t, int64(1), hits.Load(), "fresh cache entries must not hit the upstream")
}

func TestCalendarUpstreamFailure(t *testing.T) {
	s, _ := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/abc", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "failed to convert timetable")
}

func TestMalformedPageFailsWholeConversion(t *testing.T) {
	s, _ := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		// Page parses as HTML but misses the year select.
		_, _ = w.Write([]byte(`<html><head><title>Broken</title></head><body></body></html>`))
	})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/abc", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestRootIsNotFound(t *testing.T) {
	s, _ := newTestServer(t, servePage)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
