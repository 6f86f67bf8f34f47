// Package main provides the Warren CLI.
package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	version = "dev"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	loadEnvFile()

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "serve":
		serveCmd(args)
	case "init":
		initCmd()
	case "agents":
		agentsCmd(args)
	case "reset":
		resetCmd(args)
	case "send":
		sendCmd(args)
	case "version":
		fmt.Printf("warren %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Warren - Agent Orchestration Engine

Usage:
  warren <command> [options]

Commands:
  serve     Start the engine with connectors, cron and the dashboard API
  init      Interactive setup (API keys, Telegram token)
  agents    List live agents on a running engine
  reset     Reset an agent's session on a running engine
  send      Send a message to an agent on a running engine
  version   Print version information
  help      Show this help message

Examples:
  warren init
  warren serve
  warren serve --addr 127.0.0.1:9000
  warren agents
  warren reset 0f47ac10b58cc4372a5670e02b2c
  warren send --agent 0f47ac10b58cc4372a5670e02b2c "status?"

Run 'warren <command> --help' for more information on a command.`)
}

// loadEnvFile reads KEY=VALUE lines from ~/.warren/env into the process
// environment. Existing variables win.
func loadEnvFile() {
	home := os.Getenv("WARREN_HOME")
	if home == "" {
		userHome, err := os.UserHomeDir()
		if err != nil {
			return
		}
		home = filepath.Join(userHome, ".warren")
	}

	f, err := os.Open(filepath.Join(home, "env"))
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if os.Getenv(key) == "" {
			os.Setenv(key, strings.TrimSpace(value))
		}
	}
}
