package tool

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// maxFetchBytes caps how much of a remote page the fetch_page tool reads.
const maxFetchBytes = 2 << 20

func fetchPageTool(client *http.Client) *Tool {
	return &Tool{
		Name:        "fetch_page",
		Description: "Fetches an http(s) URL and returns the visible text content of the page.",
		Category:    CategoryBuiltin,
		Parameters: []Parameter{
			{Name: "url", Type: "string", Description: "Absolute http or https URL", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			raw := stringArg(args, "url")
			u, err := url.Parse(raw)
			if err != nil {
				return "", fmt.Errorf("invalid url %q: %w", raw, err)
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				return "", fmt.Errorf("unsupported scheme %q, only http and https are allowed", u.Scheme)
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
			if err != nil {
				return "", err
			}
			resp, err := client.Do(req)
			if err != nil {
				return "", fmt.Errorf("fetch %s: %w", u, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode >= 400 {
				return "", fmt.Errorf("fetch %s: status %s", u, resp.Status)
			}

			doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxFetchBytes))
			if err != nil {
				return "", fmt.Errorf("parse %s: %w", u, err)
			}
			doc.Find("script, style, noscript").Remove()
			text := strings.TrimSpace(doc.Find("body").Text())
			if text == "" {
				text = strings.TrimSpace(doc.Text())
			}
			return collapseWhitespace(text), nil
		},
	}
}

func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
