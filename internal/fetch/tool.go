package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ahmedgamalalzatary/nanobot/internal/domain"
	"github.com/ahmedgamalalzatary/nanobot/internal/tool"
)

const defaultMaxChars = 50000

// Tool is the web_fetch agent tool. Success and failure are both reported
// as JSON payloads so the model always gets structured feedback.
type Tool struct {
	fetcher  *Fetcher
	maxChars int
}

func NewTool(fetcher *Fetcher, maxChars int) *Tool {
	if maxChars <= 0 {
		maxChars = defaultMaxChars
	}
	return &Tool{fetcher: fetcher, maxChars: maxChars}
}

func (t *Tool) Name() string { return "web_fetch" }
func (t *Tool) Description() string {
	return "Fetch a URL and extract readable content (HTML to markdown/text)."
}
func (t *Tool) Parameters() map[string]any {
	return tool.ToolParameters(
		map[string]tool.Param{
			"url":         {Type: "string", Description: "URL to fetch"},
			"extractMode": {Type: "string", Description: "'markdown' (default) or 'text'"},
			"maxChars":    {Type: "integer", Description: "Maximum characters of extracted text"},
		},
		[]string{"url"},
	)
}

type fetchPayload struct {
	URL       string `json:"url"`
	FinalURL  string `json:"finalUrl"`
	Status    int    `json:"status"`
	Extractor string `json:"extractor"`
	Truncated bool   `json:"truncated"`
	Length    int    `json:"length"`
	Text      string `json:"text"`
}

type fetchError struct {
	Error string `json:"error"`
	URL   string `json:"url"`
}

func (t *Tool) Execute(ctx context.Context, args map[string]any) (string, error) {
	rawURL := tool.ArgsString(args, "url")
	if rawURL == "" {
		return "", fmt.Errorf("missing argument: url")
	}
	mode := tool.ArgsString(args, "extractMode")
	if mode == "" {
		mode = "markdown"
	}
	maxChars := tool.ArgsInt(args, "maxChars", t.maxChars)
	if maxChars < 100 {
		maxChars = 100
	}

	resp, err := t.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return errorJSON(err.Error(), rawURL), nil
	}
	if resp.StatusCode >= 400 {
		return errorJSON(fmt.Sprintf("HTTP %d", resp.StatusCode), rawURL), nil
	}

	text, extractor := extract(resp, mode)

	// The char budget is in runes, so the flag and reported length must
	// count runes too or multibyte pages misreport.
	runes := utf8.RuneCountInString(text)
	truncated := runes > maxChars
	if truncated {
		text = truncateUTF8(text, maxChars)
		runes = maxChars
	}

	out, err := json.Marshal(fetchPayload{
		URL:       rawURL,
		FinalURL:  resp.FinalURL,
		Status:    resp.StatusCode,
		Extractor: extractor,
		Truncated: truncated,
		Length:    runes,
		Text:      text,
	})
	if err != nil {
		return errorJSON(err.Error(), rawURL), nil
	}
	return string(out), nil
}

// extract picks the extractor by content type, sniffing the body when the
// header is missing or generic.
func extract(resp *Response, mode string) (text, extractor string) {
	ctype := strings.ToLower(resp.ContentType)
	body := string(resp.Body)

	switch {
	case strings.Contains(ctype, "application/json"):
		var buf bytes.Buffer
		if err := json.Indent(&buf, resp.Body, "", "  "); err == nil {
			return buf.String(), "json"
		}
		return body, "raw"

	case strings.Contains(ctype, "text/html") || looksLikeHTML(body):
		title, content := extractHTML(body, mode == "markdown")
		if title != "" {
			return "# " + title + "\n\n" + content, "readability"
		}
		return content, "readability"

	default:
		return body, "raw"
	}
}

func looksLikeHTML(body string) bool {
	head := strings.ToLower(body)
	if len(head) > 256 {
		head = head[:256]
	}
	head = strings.TrimSpace(head)
	return strings.HasPrefix(head, "<!doctype") || strings.HasPrefix(head, "<html")
}

func errorJSON(msg, rawURL string) string {
	out, _ := json.Marshal(fetchError{Error: msg, URL: rawURL})
	return string(out)
}

var _ domain.Tool = (*Tool)(nil)
