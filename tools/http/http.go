// Package http provides an HTTP fetch tool. HTML pages are reduced to
// readable text via readability extraction, with a plain tag-stripping
// fallback for pages readability cannot parse; PDF documents are extracted
// page by page.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	readability "github.com/go-shiori/go-readability"
	"github.com/ledongthuc/pdf"

	"github.com/nevindra/agentworld"
)

const (
	maxBodyBytes    = 1 << 20
	maxContentChars = 8000
	userAgent       = "agentworld/1.0"
)

// Tool fetches web pages and returns their readable text content.
type Tool struct {
	client *http.Client
}

// Option configures a Tool.
type Option func(*Tool)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Tool) {
		if c != nil {
			t.client = c
		}
	}
}

// New creates an HTTP fetch tool.
func New(opts ...Option) *Tool {
	t := &Tool{
		client: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Definitions returns the http_fetch tool definition.
func (t *Tool) Definitions() []agentworld.ToolDefinition {
	return []agentworld.ToolDefinition{
		{
			Name:        "http_fetch",
			Description: "Fetch a web page and return its readable text content.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"url": {
						"type": "string",
						"description": "The URL to fetch (http or https)"
					}
				},
				"required": ["url"]
			}`),
		},
	}
}

// Execute fetches the URL and extracts readable text.
func (t *Tool) Execute(ctx context.Context, name string, args json.RawMessage) (agentworld.ToolResult, error) {
	if name != "http_fetch" {
		return agentworld.ToolResult{Error: "unknown tool: " + name}, nil
	}

	var a struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return agentworld.ToolResult{Error: "invalid arguments: " + err.Error()}, nil
	}

	target, err := url.Parse(strings.TrimSpace(a.URL))
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") {
		return agentworld.ToolResult{Error: "url must be http or https"}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return agentworld.ToolResult{Error: "create request: " + err.Error()}, nil
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return agentworld.ToolResult{Error: "fetch failed: " + err.Error()}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return agentworld.ToolResult{Error: fmt.Sprintf("fetch failed: status %d", resp.StatusCode)}, nil
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return agentworld.ToolResult{Error: "read body: " + err.Error()}, nil
	}

	contentType := resp.Header.Get("Content-Type")
	var text string
	switch {
	case strings.Contains(contentType, "application/pdf") || looksLikePDF(raw):
		text, err = extractPDF(raw)
		if err != nil {
			return agentworld.ToolResult{Error: "extract pdf: " + err.Error()}, nil
		}
	default:
		text = string(raw)
		if strings.Contains(contentType, "text/html") || looksLikeHTML(text) {
			text = extractReadable(text, target)
		}
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return agentworld.ToolResult{Error: "page had no extractable text"}, nil
	}
	if len(text) > maxContentChars {
		text = text[:maxContentChars] + "\n... (content truncated)"
	}
	return agentworld.ToolResult{Content: text}, nil
}

// extractReadable runs readability extraction, falling back to raw tag
// stripping when the page has no identifiable article.
func extractReadable(html string, pageURL *url.URL) string {
	article, err := readability.FromReader(strings.NewReader(html), pageURL)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		text := article.TextContent
		if article.Title != "" {
			text = article.Title + "\n\n" + text
		}
		return collapseBlankLines(text)
	}
	return collapseBlankLines(stripHTML(html))
}

// extractPDF pulls the plain text out of a PDF document page by page,
// skipping pages that cannot be read.
func extractPDF(content []byte) (string, error) {
	if len(content) == 0 {
		return "", fmt.Errorf("empty document")
	}
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}

	var text strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pageText = strings.TrimSpace(pageText)
		if pageText == "" {
			continue
		}
		if text.Len() > 0 {
			text.WriteString("\n\n")
		}
		text.WriteString(pageText)
	}
	return text.String(), nil
}

func looksLikePDF(raw []byte) bool {
	return bytes.HasPrefix(raw, []byte("%PDF-"))
}

func looksLikeHTML(s string) bool {
	head := strings.ToLower(s)
	if len(head) > 512 {
		head = head[:512]
	}
	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype html")
}

// stripHTML removes tags from an HTML document, dropping script and style
// bodies and inserting newlines at block boundaries.
func stripHTML(content string) string {
	var result strings.Builder
	result.Grow(len(content))

	inTag := false
	inScript := false
	inStyle := false
	var tagName strings.Builder
	collectingTagName := false

	i := 0
	for i < len(content) {
		r, size := utf8.DecodeRuneInString(content[i:])

		if r == '<' {
			inTag = true
			tagName.Reset()
			collectingTagName = true
			i += size
			continue
		}

		if inTag {
			if collectingTagName {
				if unicode.IsSpace(r) || r == '>' || (r == '/' && tagName.Len() > 0) {
					collectingTagName = false
					lower := strings.ToLower(tagName.String())
					switch lower {
					case "script":
						inScript = true
					case "/script":
						inScript = false
					case "style":
						inStyle = true
					case "/style":
						inStyle = false
					}
					if isBlockTag(lower) {
						result.WriteByte('\n')
					}
				} else {
					tagName.WriteRune(r)
				}
			}
			if r == '>' {
				inTag = false
			}
			i += size
			continue
		}

		if !inScript && !inStyle {
			result.WriteRune(r)
		}
		i += size
	}

	return result.String()
}

func isBlockTag(name string) bool {
	name = strings.TrimPrefix(name, "/")
	switch name {
	case "p", "div", "br", "li", "ul", "ol", "table", "tr",
		"h1", "h2", "h3", "h4", "h5", "h6", "section", "article", "blockquote", "pre":
		return true
	}
	return false
}

var blankLines = regexp.MustCompile(`\n{3,}`)

func collapseBlankLines(s string) string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		lines = append(lines, strings.TrimSpace(line))
	}
	return blankLines.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
}

// Compile-time interface check.
var _ agentworld.Tool = (*Tool)(nil)
