package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/astarch-code/shiftdesk/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	switch os.Args[1] {
	case "health":
		cmdHealth()
	case "debug":
		cmdDebug()
	case "register":
		cmdRegister(os.Args[2:])
	case "participant":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: shiftdeskctl participant <id>")
			os.Exit(1)
		}
		cmdParticipant(os.Args[2])
	case "start":
		cmdStart(os.Args[2:])
	case "ai-mode":
		cmdAIMode(os.Args[2:])
	case "critical":
		cmdParticipantPost("critical", "/api/admin/critical-ticket", os.Args[2:])
	case "tutorial-ticket":
		cmdParticipantPost("tutorial-ticket", "/api/admin/tutorial-ticket", os.Args[2:])
	case "reset":
		cmdParticipantPost("reset", "/api/admin/reset", os.Args[2:])
	case "logs":
		cmdLogs(os.Args[2:])
	case "config":
		if len(os.Args) < 4 || os.Args[2] != "validate" {
			fmt.Fprintln(os.Stderr, "usage: shiftdeskctl config validate <path>")
			os.Exit(1)
		}
		cmdConfigValidate(os.Args[3])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// --- Commands ---

func cmdHealth() {
	body, err := apiGet("/api/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(body))
}

func cmdDebug() {
	body, err := apiGet("/api/debug")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(body))
}

func cmdRegister(args []string) {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	id := fs.String("id", "", "Existing participant ID (omit to create a new one)")
	fs.Parse(args)

	body, err := apiPost("/api/participant", map[string]string{"participant_id": *id})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(body))
}

func cmdParticipant(id string) {
	body, err := apiGet("/api/participant/" + id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(body))
}

func cmdStart(args []string) {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	id := fs.String("id", "", "Participant ID")
	stage := fs.Int("stage", 2, "Stage to start (1 tutorial, 2 shift)")
	fs.Parse(args)
	if *id == "" {
		fmt.Fprintln(os.Stderr, "error: --id is required")
		os.Exit(1)
	}

	body, err := apiPost("/api/admin/start", map[string]any{"participant_id": *id, "stage": *stage})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(body))
}

func cmdAIMode(args []string) {
	fs := flag.NewFlagSet("ai-mode", flag.ExitOnError)
	id := fs.String("id", "", "Participant ID")
	mode := fs.String("mode", "normal", "AI mode: normal or autonomous")
	fs.Parse(args)
	if *id == "" {
		fmt.Fprintln(os.Stderr, "error: --id is required")
		os.Exit(1)
	}

	body, err := apiPost("/api/admin/ai-mode", map[string]string{"participant_id": *id, "mode": *mode})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(body))
}

func cmdParticipantPost(name, path string, args []string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	id := fs.String("id", "", "Participant ID")
	fs.Parse(args)
	if *id == "" {
		fmt.Fprintln(os.Stderr, "error: --id is required")
		os.Exit(1)
	}

	body, err := apiPost(path, map[string]string{"participant_id": *id})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(body))
}

func cmdLogs(args []string) {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	level := fs.String("level", "", "Minimum level (info|warn|error)")
	limit := fs.Int("limit", 100, "Max entries")
	fs.Parse(args)

	query := fmt.Sprintf("?limit=%d", *limit)
	if *level != "" {
		query += "&level=" + *level
	}
	body, err := apiGet("/api/logs" + query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(body))
}

func cmdConfigValidate(path string) {
	_, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("config is valid")
}

// --- Helpers ---

func apiGet(path string) ([]byte, error) {
	req, err := http.NewRequest("GET", baseURL()+path, nil)
	if err != nil {
		return nil, err
	}
	return doRequest(req)
}

func apiPost(path string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest("POST", baseURL()+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return doRequest(req)
}

func doRequest(req *http.Request) ([]byte, error) {
	if key := os.Getenv("SHIFTDESK_ADMIN_KEY"); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func baseURL() string {
	if v := os.Getenv("SHIFTDESK_API_URL"); v != "" {
		return v
	}
	return "http://localhost:3001"
}

func prettyJSON(data []byte) string {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	out, _ := json.MarshalIndent(v, "", "  ")
	return string(out)
}

func printUsage() {
	fmt.Println("shiftdeskctl - experiment control CLI")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  health                       Check daemon health")
	fmt.Println("  debug                        Show session counters")
	fmt.Println("  register [--id <id>]         Register (or look up) a participant")
	fmt.Println("  participant <id>             Show participant details")
	fmt.Println("  start --id <id> [--stage N]  Start a stage for a participant")
	fmt.Println("  ai-mode --id <id> --mode M   Switch AI mode (normal|autonomous)")
	fmt.Println("  critical --id <id>           Inject a critical ticket")
	fmt.Println("  tutorial-ticket --id <id>    Inject a tutorial ticket")
	fmt.Println("  reset --id <id>              Archive and reset a participant")
	fmt.Println("  logs [--level L] [--limit N] Fetch recent server logs")
	fmt.Println("  config validate <path>       Validate a config file")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  SHIFTDESK_API_URL    Daemon URL (default: http://localhost:3001)")
	fmt.Println("  SHIFTDESK_ADMIN_KEY  Bearer key for admin routes")
}
