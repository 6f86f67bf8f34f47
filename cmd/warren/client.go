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
)

const defaultAPIAddr = "127.0.0.1:8420"

// agentsCmd lists live agents on a running engine.
func agentsCmd(args []string) {
	fs := flag.NewFlagSet("agents", flag.ExitOnError)
	addr := fs.String("addr", defaultAPIAddr, "Engine API address")

	fs.Usage = func() {
		fmt.Println(`Usage: warren agents [options]

List live agents on a running engine.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	var agents []struct {
		AgentID    string `json:"agent_id"`
		Descriptor struct {
			Type      string `json:"type"`
			Connector string `json:"connector,omitempty"`
			Name      string `json:"name,omitempty"`
		} `json:"descriptor"`
		Messages   int       `json:"messages"`
		Processing bool      `json:"processing"`
		UpdatedAt  time.Time `json:"updated_at"`
	}
	if err := apiGet(*addr, "/api/agents", &agents); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if len(agents) == 0 {
		fmt.Println("No agents.")
		return
	}

	fmt.Printf("%-34s %-10s %-10s %8s  %s\n", "AGENT", "TYPE", "SOURCE", "MESSAGES", "UPDATED")
	for _, a := range agents {
		source := a.Descriptor.Connector
		if source == "" {
			source = a.Descriptor.Name
		}
		status := ""
		if a.Processing {
			status = " *"
		}
		fmt.Printf("%-34s %-10s %-10s %8d  %s%s\n",
			a.AgentID, a.Descriptor.Type, source, a.Messages,
			a.UpdatedAt.Local().Format("2006-01-02 15:04:05"), status)
	}
}

// resetCmd resets an agent's session on a running engine.
func resetCmd(args []string) {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	addr := fs.String("addr", defaultAPIAddr, "Engine API address")

	fs.Usage = func() {
		fmt.Println(`Usage: warren reset <agent-id> [options]

Reset an agent's session: clears its conversation history and reverts its
permissions to defaults. The agent id and its log file survive.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: no agent id specified")
		fs.Usage()
		os.Exit(1)
	}

	id := fs.Arg(0)
	if err := apiPost(*addr, "/api/agents/"+id+"/reset", nil, nil); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Reset queued for agent %s\n", id)
}

// sendCmd injects a message into an agent on a running engine.
func sendCmd(args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	addr := fs.String("addr", defaultAPIAddr, "Engine API address")
	agent := fs.String("agent", "", "Target agent id (default: most recent foreground agent)")

	fs.Usage = func() {
		fmt.Println(`Usage: warren send [options] <text>

Send a message to an agent. Without --agent the most recently active
foreground agent receives it.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: no message text specified")
		fs.Usage()
		os.Exit(1)
	}

	path := "/api/agents/" + *agent + "/message"
	body := map[string]string{"text": fs.Arg(0)}

	var resp struct {
		AgentID string `json:"agent_id"`
	}
	if err := apiPost(*addr, path, body, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Message queued for agent %s\n", resp.AgentID)
}

func apiGet(addr, path string, out any) error {
	resp, err := http.Get("http://" + addr + path)
	if err != nil {
		return fmt.Errorf("is the engine running? %w", err)
	}
	defer resp.Body.Close()
	return decodeAPIResponse(resp, out)
}

func apiPost(addr, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := http.Post("http://"+addr+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("is the engine running? %w", err)
	}
	defer resp.Body.Close()
	return decodeAPIResponse(resp, out)
}

func decodeAPIResponse(resp *http.Response, out any) error {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}
