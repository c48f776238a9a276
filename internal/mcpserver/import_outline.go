package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
)

const maxOutlineSize = 5 << 20 // 5 MB

var allowedOutlineTypes = map[string]bool{
	"":                true,
	"text/plain":      true,
	"text/markdown":   true,
	"text/x-markdown": true,
}

type importResult struct {
	Created []string `json:"created"`
}

func (s *Server) importOutline(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, _ := optString(req, "outline")
	rawURL, _ := optString(req, "url")
	parentID, _ := optString(req, "parent_id")

	if text == "" && rawURL == "" {
		return mcp.NewToolResultError("either outline or url is required"), nil
	}
	if text == "" {
		var data []byte
		var err error
		if strings.HasPrefix(rawURL, "data:") {
			data, err = decodeDataURI(rawURL)
		} else {
			data, err = fetchHTTP(ctx, rawURL)
		}
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := validateText(data); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		text = string(data)
	}
	if len(text) > maxOutlineSize {
		return mcp.NewToolResultError(fmt.Sprintf("outline too large: %d bytes (max %d)", len(text), maxOutlineSize)), nil
	}

	created, err := s.svc.Import(ctx, parentID, text)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if created == nil {
		created = []string{}
	}
	out, _ := json.Marshal(importResult{Created: created})
	return mcp.NewToolResultText(string(out)), nil
}

// decodeDataURI parses a data:[<mediatype>][;base64],<data> URI.
func decodeDataURI(uri string) ([]byte, error) {
	rest := strings.TrimPrefix(uri, "data:")
	commaIdx := strings.Index(rest, ",")
	if commaIdx < 0 {
		return nil, fmt.Errorf("invalid data URI: missing comma separator")
	}

	meta := rest[:commaIdx]
	encoded := rest[commaIdx+1:]

	if !strings.Contains(meta, ";base64") {
		return nil, fmt.Errorf("only base64 data URIs are supported")
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 data: %w", err)
		}
	}

	mime := strings.Split(strings.TrimSuffix(meta, ";base64"), ";")[0]
	if !allowedOutlineTypes[mime] {
		return nil, fmt.Errorf("unsupported MIME type in data URI: %s", mime)
	}
	if len(data) > maxOutlineSize {
		return nil, fmt.Errorf("outline too large: exceeds %d bytes", maxOutlineSize)
	}
	return data, nil
}

// fetchHTTP downloads an outline from an HTTP/HTTPS URL with security checks.
func fetchHTTP(ctx context.Context, rawURL string) ([]byte, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s (only http/https)", parsed.Scheme)
	}

	if err := checkBlockedHost(parsed.Hostname()); err != nil {
		return nil, err
	}

	client := &http.Client{
		Timeout: 30 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("too many redirects (max 5)")
			}
			return checkBlockedHost(req.URL.Hostname())
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	ct := strings.TrimSpace(strings.Split(resp.Header.Get("Content-Type"), ";")[0])
	if !allowedOutlineTypes[ct] {
		return nil, fmt.Errorf("unsupported content type: %s", ct)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxOutlineSize+1))
	if err != nil {
		return nil, fmt.Errorf("read body failed: %w", err)
	}
	if len(data) > maxOutlineSize {
		return nil, fmt.Errorf("outline too large: exceeds %d bytes", maxOutlineSize)
	}
	return data, nil
}

// checkBlockedHost rejects loopback and cloud metadata addresses.
func checkBlockedHost(host string) error {
	if host == "metadata.google.internal" {
		return fmt.Errorf("blocked host: %s", host)
	}

	ip := net.ParseIP(host)
	if ip == nil {
		ips, lookupErr := net.LookupIP(host)
		if lookupErr != nil || len(ips) == 0 {
			return nil //nolint:nilerr // let http.Client handle DNS failures
		}
		ip = ips[0]
	}

	if ip.IsLoopback() {
		return fmt.Errorf("blocked host: loopback address %s", host)
	}
	// AWS/GCP/Azure metadata endpoint.
	if ip.Equal(net.ParseIP("169.254.169.254")) {
		return fmt.Errorf("blocked host: cloud metadata address %s", host)
	}
	return nil
}

// validateText rejects payloads that are not UTF-8 text.
func validateText(data []byte) error {
	if !utf8.Valid(data) {
		return fmt.Errorf("outline is not valid UTF-8")
	}
	if ct := http.DetectContentType(data); !strings.HasPrefix(ct, "text/") {
		return fmt.Errorf("outline does not look like text (detected %s)", ct)
	}
	return nil
}
