package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func fetch(t *testing.T, tool *Tool, url string) (string, string) {
	t.Helper()
	args, _ := json.Marshal(map[string]string{"url": url})
	res, err := tool.Execute(context.Background(), "http_fetch", args)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	return res.Content, res.Error
}

func TestFetchPlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("just some text"))
	}))
	defer srv.Close()

	out, errMsg := fetch(t, New(), srv.URL)
	if errMsg != "" {
		t.Fatalf("error = %q", errMsg)
	}
	if out != "just some text" {
		t.Errorf("content = %q", out)
	}
}

func TestFetchHTMLStripsMarkup(t *testing.T) {
	page := `<!DOCTYPE html><html><head>
		<title>Test Page</title>
		<style>body { color: red }</style>
		<script>var hidden = "secret";</script>
	</head><body>
		<h1>Heading</h1>
		<p>First paragraph.</p>
		<p>Second paragraph.</p>
	</body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(page))
	}))
	defer srv.Close()

	out, errMsg := fetch(t, New(), srv.URL)
	if errMsg != "" {
		t.Fatalf("error = %q", errMsg)
	}
	if !strings.Contains(out, "First paragraph.") || !strings.Contains(out, "Second paragraph.") {
		t.Errorf("content = %q", out)
	}
	if strings.Contains(out, "<p>") || strings.Contains(out, "secret") || strings.Contains(out, "color: red") {
		t.Errorf("markup leaked: %q", out)
	}
}

func TestFetchSendsUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	if _, errMsg := fetch(t, New(), srv.URL); errMsg != "" {
		t.Fatalf("error = %q", errMsg)
	}
	if gotUA != userAgent {
		t.Errorf("user-agent = %q, want %q", gotUA, userAgent)
	}
}

func TestFetchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	_, errMsg := fetch(t, New(), srv.URL)
	if !strings.Contains(errMsg, "status 404") {
		t.Errorf("error = %q", errMsg)
	}
}

func TestFetchRejectsBadURLs(t *testing.T) {
	tool := New()
	for _, u := range []string{"ftp://example.com/file", "file:///etc/passwd", "not a url", ""} {
		_, errMsg := fetch(t, tool, u)
		if errMsg == "" {
			t.Errorf("url %q accepted", u)
		}
	}
}

func TestFetchTruncatesLongContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(strings.Repeat("a", maxContentChars+500)))
	}))
	defer srv.Close()

	out, errMsg := fetch(t, New(), srv.URL)
	if errMsg != "" {
		t.Fatalf("error = %q", errMsg)
	}
	if !strings.HasSuffix(out, "... (content truncated)") {
		t.Errorf("content not truncated: len=%d", len(out))
	}
}

func TestFetchEmptyPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body><script>nothing()</script></body></html>"))
	}))
	defer srv.Close()

	_, errMsg := fetch(t, New(), srv.URL)
	if !strings.Contains(errMsg, "no extractable text") {
		t.Errorf("error = %q", errMsg)
	}
}

func TestUnknownToolName(t *testing.T) {
	res, err := New().Execute(context.Background(), "other", json.RawMessage(`{}`))
	if err != nil || res.Error == "" {
		t.Errorf("res=%+v err=%v", res, err)
	}
}

func TestStripHTML(t *testing.T) {
	in := `<div>one</div><script>var x;</script><p>two</p><style>.a{}</style>three`
	out := stripHTML(in)
	for _, want := range []string{"one", "two", "three"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
	for _, banned := range []string{"var x", ".a{}", "<"} {
		if strings.Contains(out, banned) {
			t.Errorf("output %q contains %q", out, banned)
		}
	}
}

func TestCollapseBlankLines(t *testing.T) {
	in := "a\n\n\n\n\nb"
	if got := collapseBlankLines(in); got != "a\n\nb" {
		t.Errorf("got %q", got)
	}
}

func TestFetchPDFRoutesToExtractor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.4 not really a document"))
	}))
	defer srv.Close()

	_, errMsg := fetch(t, New(), srv.URL)
	if !strings.Contains(errMsg, "pdf") {
		t.Errorf("error = %q, want pdf extraction failure", errMsg)
	}
}

func TestFetchPDFDetectedByMagicBytes(t *testing.T) {
	// No content-type header; the %PDF- prefix alone selects the extractor.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte("%PDF-1.7 truncated"))
	}))
	defer srv.Close()

	_, errMsg := fetch(t, New(), srv.URL)
	if !strings.Contains(errMsg, "pdf") {
		t.Errorf("error = %q, want pdf extraction failure", errMsg)
	}
}

func TestLooksLikePDF(t *testing.T) {
	if !looksLikePDF([]byte("%PDF-1.7\n")) {
		t.Error("pdf magic not detected")
	}
	if looksLikePDF([]byte("<html></html>")) {
		t.Error("html misdetected as pdf")
	}
	if looksLikePDF(nil) {
		t.Error("empty body misdetected as pdf")
	}
}
