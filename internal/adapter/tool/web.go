package tool

import (
	"context"
	"fmt"
	"html"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"termagent/internal/domain"
	"termagent/internal/infra/tracer"
	"termagent/internal/security"
)

const (
	defaultMaxBodySize = 1 * 1024 * 1024
	maxFetchContent    = 100 * 1024
	maxRedirects       = 5
)

// WebFetchTool retrieves a public URL and returns its text.
type WebFetchTool struct {
	client      *http.Client
	maxBodySize int64
	logger      *slog.Logger
}

// NewWebFetchTool creates a web_fetch tool whose client refuses private
// and loopback destinations, including on redirects.
func NewWebFetchTool(logger *slog.Logger) *WebFetchTool {
	return NewWebFetchToolWithClient(&http.Client{
		Transport: security.GuardedTransport(),
		Timeout:   30 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			_, err := security.CheckURL(req.URL.String())
			return err
		},
	}, logger)
}

// NewWebFetchToolWithClient uses the given client as-is. The URL itself is
// still checked before every request.
func NewWebFetchToolWithClient(client *http.Client, logger *slog.Logger) *WebFetchTool {
	return &WebFetchTool{client: client, maxBodySize: defaultMaxBodySize, logger: logger}
}

type webFetchParams struct {
	URL string `json:"url" jsonschema:"description=Absolute http or https URL to fetch"`
}

var webFetchSchema = SchemaFor[webFetchParams]()

func (t *WebFetchTool) Name() string           { return "web_fetch" }
func (t *WebFetchTool) Kind() domain.ToolKind { return domain.KindFetch }
func (t *WebFetchTool) Description() string {
	return "Fetches a public http or https URL and returns the response as text. HTML pages are reduced to their visible text."
}

func (t *WebFetchTool) Declaration() domain.ToolDeclaration {
	return domain.ToolDeclaration{Name: t.Name(), Description: t.Description(), Parameters: webFetchSchema}
}

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]any) (*domain.ToolOutput, error) {
	return Execute(ctx, "tool.web_fetch", t.logger, args,
		func(ctx context.Context, span trace.Span, p webFetchParams) (any, error) {
			if err := RequireField("url", p.URL); err != nil {
				return ErrOutput("%v", err), nil
			}
			u, err := security.CheckURL(p.URL)
			if err != nil {
				return nil, err
			}
			span.SetAttributes(tracer.StringAttr("tool.url", u.Redacted()))

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
			if err != nil {
				return nil, fmt.Errorf("create request: %w", err)
			}
			req.Header.Set("User-Agent", "termagent/1.0")
			req.Header.Set("Accept", "text/html, text/plain, application/json, */*;q=0.5")

			resp, err := t.client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("fetch %s: %w", u.Redacted(), err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBodySize))
			if err != nil {
				return nil, fmt.Errorf("read body: %w", err)
			}
			span.SetAttributes(tracer.IntAttr("http.status_code", resp.StatusCode))
			t.logger.Debug("web fetch completed", "url", u.Redacted(), "status", resp.StatusCode, "size", len(body))

			if resp.StatusCode >= 400 {
				return ErrOutput("fetch %s: HTTP %d %s", u.Redacted(), resp.StatusCode, http.StatusText(resp.StatusCode)), nil
			}

			text := string(body)
			if isHTML(resp.Header.Get("Content-Type")) {
				text = htmlToText(text)
			}
			truncated := len(text) > maxFetchContent
			if truncated {
				text = text[:maxFetchContent]
			}

			var sb strings.Builder
			fmt.Fprintf(&sb, "Content of %s (HTTP %d):\n\n%s", u.Redacted(), resp.StatusCode, text)
			if truncated {
				sb.WriteString("\n[Content truncated.]")
			}
			return TextOutput(sb.String(), fmt.Sprintf("Fetched %s (%d bytes).", u.Host, len(body))), nil
		},
	)
}

func isHTML(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && (mt == "text/html" || mt == "application/xhtml+xml")
}

var (
	reHiddenBlocks = regexp.MustCompile(`(?is)<(script|style|noscript|svg|head)\b.*?</(script|style|noscript|svg|head)>`)
	reComments     = regexp.MustCompile(`(?s)<!--.*?-->`)
	reBlockTags    = regexp.MustCompile(`(?i)</?(p|div|br|li|ul|ol|tr|h[1-6]|section|article|pre|blockquote|table)\b[^>]*>`)
	reTags         = regexp.MustCompile(`(?s)<[^>]+>`)
	reSpaces       = regexp.MustCompile(`[ \t\f\r]+`)
	reBlankLines   = regexp.MustCompile(`\n\s*\n\s*\n+`)
)

// htmlToText drops markup and non-visible blocks and keeps one line break
// per block element.
func htmlToText(s string) string {
	s = reHiddenBlocks.ReplaceAllString(s, "")
	s = reComments.ReplaceAllString(s, "")
	s = reBlockTags.ReplaceAllString(s, "\n")
	s = reTags.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = reSpaces.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	s = strings.Join(lines, "\n")
	s = reBlankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
