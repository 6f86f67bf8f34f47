package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	warren "github.com/everydev1618/gowarren"
	"github.com/everydev1618/gowarren/llm"
)

func initCmd() {
	fmt.Println(`
  ✦  Warren Setup
  ─────────────────────────────`)

	home := warren.Home()
	envPath := filepath.Join(home, "env")

	// Load existing keys if env file exists.
	existing := loadExistingEnv(envPath)
	if len(existing) > 0 {
		fmt.Println("\n  Found existing configuration at", envPath)
		for k, v := range existing {
			fmt.Printf("    %s = %s\n", k, maskKey(v))
		}
		fmt.Println()
		if !confirm("  Reconfigure?") {
			fmt.Println("\n  Keeping existing configuration. You're all set!")
			printNextSteps()
			return
		}
	}

	scanner := bufio.NewScanner(os.Stdin)

	// Anthropic API key (required).
	fmt.Println("\n  Anthropic API key (required)")
	fmt.Println("  Get one at: https://console.anthropic.com/settings/keys")
	fmt.Print("\n  ANTHROPIC_API_KEY: ")
	var apiKey string
	if scanner.Scan() {
		apiKey = strings.TrimSpace(scanner.Text())
	}

	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "\n  Error: API key is required. Run 'warren init' to try again.")
		os.Exit(1)
	}

	// Validate the key.
	fmt.Print("  Validating key... ")
	client := llm.NewAnthropic(llm.WithAPIKey(apiKey))
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	err := client.ValidateKey(ctx)
	cancel()

	if err != nil {
		fmt.Println("failed")
		fmt.Fprintf(os.Stderr, "  Error: %v\n", err)
		fmt.Fprintln(os.Stderr, "  Please check the key and try again.")
		os.Exit(1)
	}
	fmt.Println("valid!")

	// Telegram bot token (optional).
	fmt.Println("\n  Telegram bot token (optional, press Enter to skip)")
	fmt.Println("  Create a bot via @BotFather on Telegram")
	fmt.Print("\n  TELEGRAM_BOT_TOKEN: ")
	var telegramToken string
	if scanner.Scan() {
		telegramToken = strings.TrimSpace(scanner.Text())
	}

	// Ensure ~/.warren/ and its subdirectories exist.
	if err := warren.EnsureHome(); err != nil {
		fmt.Fprintf(os.Stderr, "\n  Error creating %s: %v\n", home, err)
		os.Exit(1)
	}

	// Write the env file.
	var b strings.Builder
	b.WriteString("ANTHROPIC_API_KEY=" + apiKey + "\n")
	if telegramToken != "" {
		b.WriteString("TELEGRAM_BOT_TOKEN=" + telegramToken + "\n")
	}
	if err := os.WriteFile(envPath, []byte(b.String()), 0o600); err != nil {
		fmt.Fprintf(os.Stderr, "\n  Error writing %s: %v\n", envPath, err)
		os.Exit(1)
	}

	fmt.Println("\n  Configuration saved to", envPath)
	printNextSteps()
}

func printNextSteps() {
	fmt.Print(`
  Next steps:
    warren serve        start the engine
    warren agents       list live agents
` + "\n")
}

// loadExistingEnv reads KEY=VALUE pairs from an env file. Missing file
// yields an empty map.
func loadExistingEnv(path string) map[string]string {
	out := map[string]string{}
	f, err := os.Open(path)
	if err != nil {
		return out
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if key, value, ok := strings.Cut(line, "="); ok {
			out[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
	}
	return out
}

// maskKey hides all but the first and last four characters of a secret.
func maskKey(s string) string {
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

func confirm(prompt string) bool {
	fmt.Print(prompt + " [y/N] ")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Scan()
	answer := strings.TrimSpace(strings.ToLower(scanner.Text()))
	return answer == "y" || answer == "yes"
}
