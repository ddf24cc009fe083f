// blockrunctl is a small CLI for poking a running blockrun-proxy: health,
// balance, usage stats, cache controls, and one-shot chat requests.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"
)

var version = "dev"

// loadEnvFile reads ~/.blockrun/env and sets any key=value pairs not already
// present in the process environment, so blockrunctl works out of the box
// without shell profile configuration.
func loadEnvFile() {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	data, err := os.ReadFile(home + "/.blockrun/env")
	if err != nil {
		return
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if os.Getenv(strings.TrimSpace(k)) == "" {
			_ = os.Setenv(strings.TrimSpace(k), strings.TrimSpace(v))
		}
	}
}

func main() {
	loadEnvFile()
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "version", "--version", "-v":
		fmt.Printf("blockrunctl %s\n", version)
	case "health":
		doHealth()
	case "balance":
		doBalance()
	case "stats":
		doStats(args)
	case "cache":
		doCache(args)
	case "model", "models":
		doModels()
	case "chat":
		doChat(args)
	case "help", "--help", "-h":
		usageTo(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	usageTo(os.Stderr)
}

func usageTo(w io.Writer) {
	_, _ = fmt.Fprintf(w, `blockrunctl — CLI for a local blockrun-proxy

Usage: blockrunctl <command> [arguments]

Environment:
  BLOCKRUN_PROXY_URL    Base URL (default: http://127.0.0.1:8402)

  ~/.blockrun/env       Auto-sourced on startup. Explicit environment
                        variables take precedence.

Commands:
  health                Liveness and wallet address
  balance               Wallet balance with low/empty flags
  stats [days]          Usage totals per model and tier (default 7 days)
  cache                 Response cache and dedup statistics
  cache purge           Drop every cached response
  models                Models the proxy routes across
  chat <prompt>         One-shot chat completion ("-m <model>" to pin one)
  version               Print version
`)
}

func baseURL() string {
	if v := os.Getenv("BLOCKRUN_PROXY_URL"); v != "" {
		return strings.TrimRight(v, "/")
	}
	return "http://127.0.0.1:8402"
}

var httpClient = &http.Client{Timeout: 5 * time.Minute}

func doRequest(method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(method, baseURL()+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return httpClient.Do(req)
}

func doGet(path string) map[string]any {
	resp, err := doRequest(http.MethodGet, path, nil)
	if err != nil {
		fatal(err)
	}
	return readJSON(resp)
}

func readJSON(resp *http.Response) map[string]any {
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		fatal(err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		fatal(fmt.Errorf("server returned non-JSON (%d): %s", resp.StatusCode, raw))
	}
	if resp.StatusCode >= 400 {
		fatal(fmt.Errorf("server returned %d: %s", resp.StatusCode, prettyJSON(out)))
	}
	return out
}

func prettyJSON(v any) string {
	raw, _ := json.MarshalIndent(v, "", "  ")
	return string(raw)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "blockrunctl: %v\n", err)
	os.Exit(1)
}

func doHealth() {
	fmt.Println(prettyJSON(doGet("/health")))
}

func doBalance() {
	out := doGet("/health?full=true")
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if v, ok := out["balance_usd"]; ok {
		_, _ = fmt.Fprintf(w, "balance\t$%v\n", v)
		_, _ = fmt.Fprintf(w, "low\t%v\n", out["is_low"])
		_, _ = fmt.Fprintf(w, "empty\t%v\n", out["is_empty"])
	} else if e, ok := out["balance_error"]; ok {
		_, _ = fmt.Fprintf(w, "balance\tunavailable: %v\n", e)
	} else {
		_, _ = fmt.Fprintf(w, "balance\tmonitoring disabled\n")
	}
	_, _ = fmt.Fprintf(w, "wallet\t%v\n", out["wallet"])
	_ = w.Flush()
}

func doStats(args []string) {
	days := 7
	if len(args) > 0 {
		if n, err := strconv.Atoi(args[0]); err == nil && n > 0 {
			days = n
		}
	}
	fmt.Println(prettyJSON(doGet(fmt.Sprintf("/stats?days=%d", days))))
}

func doCache(args []string) {
	if len(args) > 0 && args[0] == "purge" {
		resp, err := doRequest(http.MethodDelete, "/cache", nil)
		if err != nil {
			fatal(err)
		}
		fmt.Println(prettyJSON(readJSON(resp)))
		return
	}
	fmt.Println(prettyJSON(doGet("/cache")))
}

func doModels() {
	out := doGet("/v1/models")
	data, _ := out["data"].([]any)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "MODEL\tCONTEXT")
	for _, item := range data {
		m, _ := item.(map[string]any)
		_, _ = fmt.Fprintf(w, "%v\t%v\n", m["id"], m["context_window"])
	}
	_ = w.Flush()
}

func doChat(args []string) {
	model := ""
	var promptParts []string
	for i := 0; i < len(args); i++ {
		if args[i] == "-m" && i+1 < len(args) {
			model = args[i+1]
			i++
			continue
		}
		promptParts = append(promptParts, args[i])
	}
	prompt := strings.Join(promptParts, " ")
	if prompt == "" {
		fatal(fmt.Errorf("usage: blockrunctl chat [-m model] <prompt>"))
	}

	body := map[string]any{
		"messages": []map[string]string{{"role": "user", "content": prompt}},
	}
	if model != "" {
		body["model"] = model
	}
	raw, _ := json.Marshal(body)

	resp, err := doRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(string(raw)))
	if err != nil {
		fatal(err)
	}
	out := readJSON(resp)

	// Print just the assistant text when the shape is recognizable.
	if choices, ok := out["choices"].([]any); ok && len(choices) > 0 {
		if c, ok := choices[0].(map[string]any); ok {
			if msg, ok := c["message"].(map[string]any); ok {
				if content, ok := msg["content"].(string); ok {
					fmt.Println(content)
					return
				}
			}
		}
	}
	fmt.Println(prettyJSON(out))
}
