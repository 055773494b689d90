// ABOUTME: Admin CLI for hearth-gateway pairing and lane management
// ABOUTME: Talks to the gateway's HTTP admin API

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
)

const banner = `
 _                     _   _
| |__   ___  __ _ _ __| |_| |__
| '_ \ / _ \/ _' | '__| __| '_ \
| | | |  __/ (_| | |  | |_| | | |
|_| |_|\___|\__,_|_|   \__|_| |_|  admin
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	baseURL := os.Getenv("HEARTH_GATEWAY_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "pending":
		err = cmdPending(baseURL)
	case "approve":
		err = cmdApprove(baseURL, args)
	case "reject":
		err = cmdReject(baseURL, args)
	case "revoke":
		err = cmdRevoke(baseURL, args)
	case "nodes":
		err = cmdNodes(baseURL)
	case "lanes":
		err = cmdLanes(baseURL)
	case "health":
		err = cmdHealth(baseURL)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: hearth-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  pending                 List pending pairing requests")
	fmt.Println("  approve <request-id>    Approve a pairing request (prints the device token)")
	fmt.Println("  reject <request-id>     Reject a pairing request")
	fmt.Println("  revoke <node-id>        Revoke an existing pairing")
	fmt.Println("  nodes                   List paired nodes and their connection state")
	fmt.Println("  lanes                   Show lane concurrency and queue depth")
	fmt.Println("  health                  Check gateway health")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  HEARTH_GATEWAY_URL      Gateway base URL (default: http://localhost:8080)")
	fmt.Println()
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

// getJSON fetches path and decodes the response body into out.
func getJSON(baseURL, path string, out any) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// postJSON posts body to path and decodes the response into out.
func postJSON(baseURL, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	var apiErr struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
		return fmt.Errorf("%s (status %d)", apiErr.Error, resp.StatusCode)
	}
	return fmt.Errorf("unexpected status %d", resp.StatusCode)
}

type pendingRequest struct {
	RequestID   string    `json:"requestId"`
	NodeID      string    `json:"nodeId"`
	DisplayName string    `json:"displayName"`
	Platform    string    `json:"platform"`
	RemoteIP    string    `json:"remoteIp"`
	Repair      bool      `json:"repair"`
	ObservedAt  time.Time `json:"observedAt"`
}

func cmdPending(baseURL string) error {
	var payload struct {
		Requests []pendingRequest `json:"requests"`
	}
	if err := getJSON(baseURL, "/api/pairing/pending", &payload); err != nil {
		return err
	}

	if len(payload.Requests) == 0 {
		fmt.Println("No pending pairing requests.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "REQUEST ID\tNODE\tNAME\tPLATFORM\tFROM\tREPAIR")
	for _, req := range payload.Requests {
		repair := ""
		if req.Repair {
			repair = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			req.RequestID, req.NodeID, req.DisplayName, req.Platform, req.RemoteIP, repair)
	}
	return w.Flush()
}

func cmdApprove(baseURL string, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: hearth-admin approve <request-id>")
	}

	var result struct {
		NodeID      string `json:"nodeId"`
		Token       string `json:"token"`
		DisplayName string `json:"displayName"`
	}
	if err := postJSON(baseURL, "/api/pairing/approve", map[string]string{"requestId": args[0]}, &result); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	green.Printf("✓ Paired %s", result.NodeID)
	if result.DisplayName != "" {
		fmt.Printf(" (%s)", result.DisplayName)
	}
	fmt.Println()
	fmt.Println()
	yellow.Println("Device token (shown once, give it to the device):")
	fmt.Println(result.Token)
	return nil
}

func cmdReject(baseURL string, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: hearth-admin reject <request-id>")
	}

	var result struct {
		NodeID string `json:"nodeId"`
	}
	if err := postJSON(baseURL, "/api/pairing/reject", map[string]string{"requestId": args[0]}, &result); err != nil {
		return err
	}

	fmt.Printf("Rejected pairing request for %s\n", result.NodeID)
	return nil
}

func cmdRevoke(baseURL string, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: hearth-admin revoke <node-id>")
	}

	var result struct {
		NodeID string `json:"nodeId"`
	}
	if err := postJSON(baseURL, "/api/pairing/revoke", map[string]string{"nodeId": args[0]}, &result); err != nil {
		return err
	}

	fmt.Printf("Revoked pairing for %s\n", result.NodeID)
	return nil
}

func cmdNodes(baseURL string) error {
	var payload struct {
		Nodes []struct {
			NodeID      string    `json:"nodeId"`
			DisplayName string    `json:"displayName"`
			Platform    string    `json:"platform"`
			ApprovedAt  time.Time `json:"approvedAt"`
			Connected   bool      `json:"connected"`
		} `json:"nodes"`
	}
	if err := getJSON(baseURL, "/api/nodes", &payload); err != nil {
		return err
	}

	if len(payload.Nodes) == 0 {
		fmt.Println("No paired nodes.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NODE\tNAME\tPLATFORM\tPAIRED\tSTATUS")
	for _, node := range payload.Nodes {
		status := color.HiBlackString("offline")
		if node.Connected {
			status = color.GreenString("connected")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			node.NodeID, node.DisplayName, node.Platform,
			node.ApprovedAt.Format("2006-01-02"), status)
	}
	return w.Flush()
}

func cmdLanes(baseURL string) error {
	var payload struct {
		Lanes []struct {
			Name           string `json:"name"`
			MaxConcurrency int    `json:"maxConcurrency"`
			Active         int    `json:"active"`
			Queued         int    `json:"queued"`
		} `json:"lanes"`
	}
	if err := getJSON(baseURL, "/api/lanes", &payload); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "LANE\tLIMIT\tACTIVE\tQUEUED")
	for _, lane := range payload.Lanes {
		limit := fmt.Sprintf("%d", lane.MaxConcurrency)
		if lane.MaxConcurrency == 0 {
			limit = "unbounded"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", lane.Name, limit, lane.Active, lane.Queued)
	}
	return w.Flush()
}

func cmdHealth(baseURL string) error {
	var payload struct {
		Status string `json:"status"`
	}
	if err := getJSON(baseURL, "/health/ready", &payload); err != nil {
		return err
	}
	color.Green("✓ %s", payload.Status)
	return nil
}
