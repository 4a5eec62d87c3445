package querypilotctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

type command struct {
	method  string
	path    string
	argName string
	body    func(arg string) (any, error)
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

	fs := flag.NewFlagSet("querypilotctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "querypilot API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 60*time.Second), "HTTP timeout (e.g. 10s)")
	topK := fs.Int("top-k", 0, "number of table definitions for retrieve (0 uses the server default)")
	rowLimit := fs.Int("row-limit", 0, "maximum rows returned by query and ask (0 uses the server default)")
	execute := fs.Bool("execute", false, "run the generated SQL for ask")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	commands := map[string]command{
		"health": {method: http.MethodGet, path: "/v1/health"},
		"ready":  {method: http.MethodGet, path: "/v1/ready"},
		"schema": {method: http.MethodGet, path: "/v1/schema"},
		"reload": {method: http.MethodPost, path: "/v1/schema/reload"},
		"reset":  {method: http.MethodDelete, path: "/v1/schema"},
		"load": {method: http.MethodPut, path: "/v1/schema", argName: "file", body: func(arg string) (any, error) {
			raw, err := os.ReadFile(arg)
			if err != nil {
				return nil, fmt.Errorf("read schema file: %w", err)
			}
			return map[string]any{"schema": string(raw)}, nil
		}},
		"retrieve": {method: http.MethodPost, path: "/v1/schema/retrieve", argName: "query", body: func(arg string) (any, error) {
			body := map[string]any{"query": arg}
			if *topK > 0 {
				body["top_k"] = *topK
			}
			return body, nil
		}},
		"context": {method: http.MethodPost, path: "/v1/schema/context", argName: "query", body: func(arg string) (any, error) {
			return map[string]any{"query": arg}, nil
		}},
		"check": {method: http.MethodPost, path: "/v1/guard/check", argName: "sql", body: func(arg string) (any, error) {
			return map[string]any{"sql": arg}, nil
		}},
		"translate": {method: http.MethodPost, path: "/v1/query/translate", argName: "prompt", body: func(arg string) (any, error) {
			return map[string]any{"prompt": arg}, nil
		}},
		"query": {method: http.MethodPost, path: "/v1/query", argName: "sql", body: func(arg string) (any, error) {
			return map[string]any{"sql": arg, "row_limit": *rowLimit}, nil
		}},
		"ask": {method: http.MethodPost, path: "/v1/ask", argName: "prompt", body: func(arg string) (any, error) {
			return map[string]any{"prompt": arg, "execute": *execute, "row_limit": *rowLimit}, nil
		}},
	}

	name := strings.TrimSpace(fs.Arg(0))
	cmd, ok := commands[name]
	if !ok {
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", name)
		writeUsage(stderr)
		return 2
	}

	var payload []byte
	if cmd.body != nil {
		arg := strings.TrimSpace(strings.Join(fs.Args()[1:], " "))
		if arg == "" {
			_, _ = fmt.Fprintf(stderr, "command %q requires <%s>\n", name, cmd.argName)
			return 2
		}
		body, err := cmd.body(arg)
		if err != nil {
			_, _ = fmt.Fprintln(stderr, err)
			return 1
		}
		payload, err = json.Marshal(body)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "encode request: %v\n", err)
			return 1
		}
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	endpoint := strings.TrimRight(*baseURL, "/") + cmd.path
	code, responseBody, err := doRequest(ctx, client, cmd.method, endpoint, *apiKey, payload)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if name == "context" {
		var response struct {
			Context string `json:"context"`
		}
		if err := json.Unmarshal(responseBody, &response); err == nil {
			_, _ = fmt.Fprint(stdout, response.Context)
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

func doRequest(ctx context.Context, client *http.Client, method, url, apiKey string, payload []byte) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
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
	_, _ = fmt.Fprintln(w, "usage: querypilotctl [flags] <command> [arg]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health               GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  schema               GET /v1/schema")
	_, _ = fmt.Fprintln(w, "  load <file>          PUT /v1/schema")
	_, _ = fmt.Fprintln(w, "  reload               POST /v1/schema/reload")
	_, _ = fmt.Fprintln(w, "  reset                DELETE /v1/schema")
	_, _ = fmt.Fprintln(w, "  retrieve <query>     POST /v1/schema/retrieve")
	_, _ = fmt.Fprintln(w, "  context <query>      POST /v1/schema/context")
	_, _ = fmt.Fprintln(w, "  check <sql>          POST /v1/guard/check")
	_, _ = fmt.Fprintln(w, "  translate <prompt>   POST /v1/query/translate")
	_, _ = fmt.Fprintln(w, "  query <sql>          POST /v1/query")
	_, _ = fmt.Fprintln(w, "  ask <prompt>         POST /v1/ask")
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
