package tool

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// localhostURL swaps the literal loopback address for a hostname so the
// up-front URL check passes and the injected client does the dialing.
func localhostURL(srv *httptest.Server) string {
	return strings.Replace(srv.URL, "127.0.0.1", "localhost", 1)
}

func TestWebFetch_PlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("hello from the web"))
	}))
	defer srv.Close()

	tl := NewWebFetchToolWithClient(srv.Client(), newTestLogger())
	out := run(t, tl, map[string]any{"url": localhostURL(srv) + "/doc"})
	assert.False(t, out.IsError, out.Content)
	assert.Contains(t, out.Content, "(HTTP 200):\n\nhello from the web")
}

func TestWebFetch_HTMLReducedToText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head><title>T</title><style>p{}</style></head>
<body><script>alert(1)</script><h1>Title</h1><p>Tom &amp; Jerry</p><!-- hidden --></body></html>`))
	}))
	defer srv.Close()

	tl := NewWebFetchToolWithClient(srv.Client(), newTestLogger())
	out := run(t, tl, map[string]any{"url": localhostURL(srv)})
	assert.False(t, out.IsError, out.Content)
	assert.Contains(t, out.Content, "Title\n")
	assert.Contains(t, out.Content, "Tom & Jerry")
	assert.NotContains(t, out.Content, "alert")
	assert.NotContains(t, out.Content, "hidden")
	assert.NotContains(t, out.Content, "<p>")
}

func TestWebFetch_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	out := run(t, NewWebFetchToolWithClient(srv.Client(), newTestLogger()), map[string]any{"url": localhostURL(srv)})
	assert.True(t, out.IsError)
	assert.Contains(t, out.Content, "HTTP 404")
}

func TestWebFetch_BlockedURLs(t *testing.T) {
	tl := NewWebFetchTool(newTestLogger())

	for _, u := range []string{
		"file:///etc/passwd",
		"http://127.0.0.1:8080/",
		"http://169.254.169.254/latest/meta-data",
		"http://[::1]/",
		"http:///nohost",
	} {
		t.Run(u, func(t *testing.T) {
			out := run(t, tl, map[string]any{"url": u})
			assert.True(t, out.IsError)
		})
	}
}

func TestWebFetch_GuardedClientRefusesLocalhostName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("secret"))
	}))
	defer srv.Close()

	out := run(t, NewWebFetchTool(newTestLogger()), map[string]any{"url": localhostURL(srv)})
	assert.True(t, out.IsError)
	assert.NotContains(t, out.Content, "secret")
	assert.Contains(t, out.Content, "private")
}

func TestHTMLToText(t *testing.T) {
	got := htmlToText("<div>a</div>\n\n\n\n<div>b&lt;c</div>")
	assert.Equal(t, "a\n\nb<c", got)
}
