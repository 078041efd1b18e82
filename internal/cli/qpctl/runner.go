// Package qpctl implements the qpctl command line client.
package qpctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

type runRow struct {
	SessionID     string    `json:"session_id"`
	Question      string    `json:"question"`
	TerminalState string    `json:"terminal_state"`
	Steps         int       `json:"steps"`
	Truncated     bool      `json:"truncated"`
	StartedAt     time.Time `json:"started_at"`
}

type runListResponse struct {
	Runs []runRow `json:"runs"`
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("qpctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "QueryPilot API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 2*time.Minute), "HTTP timeout (e.g. 30s)")
	limit := fs.Int("limit", 0, "maximum runs to list (runs command)")
	session := fs.String("session", "", "continue an existing session (ask command)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	command := strings.TrimSpace(fs.Arg(0))
	method := ""
	path := ""
	var body []byte
	tabular := false
	switch command {
	case "ask":
		question := strings.TrimSpace(strings.Join(fs.Args()[1:], " "))
		if question == "" {
			_, _ = fmt.Fprintln(stderr, "ask requires a question")
			return 2
		}
		payload, err := json.Marshal(map[string]string{
			"question":   question,
			"session_id": strings.TrimSpace(*session),
		})
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "encoding request: %v\n", err)
			return 1
		}
		method, path, body = http.MethodPost, "/v1/ask", payload
	case "health":
		method, path = http.MethodGet, "/v1/health"
	case "ready":
		method, path = http.MethodGet, "/v1/ready"
	case "runs":
		method, path = http.MethodGet, "/v1/runs"
		if *limit > 0 {
			path += "?limit=" + strconv.Itoa(*limit)
		}
		tabular = true
	case "session":
		if fs.NArg() < 2 {
			_, _ = fmt.Fprintln(stderr, "session requires a session ID")
			return 2
		}
		method, path = http.MethodGet, "/v1/runs/"+strings.TrimSpace(fs.Arg(1))
		tabular = true
	case "refresh-schema":
		method, path = http.MethodPost, "/v1/schema/refresh"
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}

	endpoint := strings.TrimRight(*baseURL, "/") + path
	code, responseBody, err := doRequest(ctx, client, method, endpoint, *apiKey, body)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if tabular {
		if ok := renderRunsTable(stdout, responseBody); ok {
			return 0
		}
	}
	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func doRequest(ctx context.Context, client *http.Client, method, url, apiKey string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, responseBody, nil
}

func renderRunsTable(w io.Writer, raw []byte) bool {
	var response runListResponse
	if err := json.Unmarshal(raw, &response); err != nil || len(response.Runs) == 0 {
		return false
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Session", "State", "Steps", "Truncated", "Started", "Question"})
	table.SetAutoWrapText(false)
	for _, run := range response.Runs {
		table.Append([]string{
			run.SessionID,
			run.TerminalState,
			strconv.Itoa(run.Steps),
			strconv.FormatBool(run.Truncated),
			run.StartedAt.Format(time.RFC3339),
			clip(run.Question, 60),
		})
	}
	table.Render()
	return true
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: qpctl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  ask <question...>   POST /v1/ask")
	_, _ = fmt.Fprintln(w, "  runs                GET /v1/runs")
	_, _ = fmt.Fprintln(w, "  session <id>        GET /v1/runs/{id}")
	_, _ = fmt.Fprintln(w, "  refresh-schema      POST /v1/schema/refresh")
	_, _ = fmt.Fprintln(w, "  health              GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready               GET /v1/ready")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
