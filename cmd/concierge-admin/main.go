// ABOUTME: Admin CLI for concierge-gateway tenant and session management
// ABOUTME: Talks to the operator API over HTTP with bearer JWT authentication

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/voxleaf/concierge-gateway/internal/auth"
	"github.com/voxleaf/concierge-gateway/internal/config"
)

const banner = `
                       _                           _       _
  ___ ___  _ __   ___(_) ___ _ __ __ _  ___      / \   __| |_ __ ___ (_)_ __
 / __/ _ \| '_ \ / __| |/ _ \ '__/ _' |/ _ \    / _ \ / _' | '_ ' _ \| | '_ \
| (_| (_) | | | | (__| |  __/ | | (_| |  __/   / ___ \ (_| | | | | | | | | | |
 \___\___/|_| |_|\___|_|\___|_|  \__, |\___|  /_/   \_\__,_|_| |_| |_|_|_| |_|
                                 |___/
`

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	baseURL := os.Getenv("CONCIERGE_GATEWAY_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	token := getToken()

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "status":
		err = cmdStatus(baseURL, token)
	case "tenants":
		err = cmdTenants(baseURL, token)
	case "reload":
		err = cmdReload(baseURL, token)
	case "reset":
		err = cmdReset(baseURL, token, args)
	case "transcript":
		err = cmdTranscript(baseURL, token, args)
	case "authorize":
		err = cmdAuthorize(baseURL, token, args)
	case "token":
		err = cmdToken(args)
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
	fmt.Println("Usage: concierge-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  status                            Show gateway health and readiness")
	fmt.Println("  tenants                           List configured tenants")
	fmt.Println("  reload                            Reload the tenant registry from disk")
	fmt.Println("  reset <tenant-id> <user-id>       Reset a user's conversation session")
	fmt.Println("  transcript <tenant-id> <user-id>  Show a conversation transcript")
	fmt.Println("  authorize <tenant-id>             Print the Zoho consent URL for a tenant")
	fmt.Println("  token create [--subject NAME]     Mint an operator JWT (needs the jwt secret)")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  CONCIERGE_GATEWAY_URL    Gateway base URL (default: http://localhost:8080)")
	fmt.Println("  CONCIERGE_TOKEN          Operator JWT (or ~/.config/concierge/token)")
	fmt.Println("  CONCIERGE_JWT_SECRET     Signing secret for 'token create' (falls back to config)")
	fmt.Println()
	yellow.Println("Examples:")
	fmt.Println("  export CONCIERGE_TOKEN=\"eyJhbG...\"")
	fmt.Println("  concierge-admin tenants")
	fmt.Println("  concierge-admin transcript acme 15551234567")
	fmt.Println()
}

// getToken returns the JWT from CONCIERGE_TOKEN or ~/.config/concierge/token.
func getToken() string {
	if token := os.Getenv("CONCIERGE_TOKEN"); token != "" {
		return token
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	tokenPath := filepath.Join(configDir, "concierge", "token")
	data, err := os.ReadFile(tokenPath)
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(data))
}

// request performs one operator API call and decodes the JSON response into
// out when it is non-nil.
func request(method, url, token string, body, out any) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling gateway: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}

// cmdStatus shows gateway health and readiness.
func cmdStatus(baseURL, token string) error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		yellow.Printf("  Gateway:  ")
		color.Red("UNREACHABLE (%v)\n", err)
		return nil
	}
	resp.Body.Close()

	green.Printf("  Gateway:  ")
	fmt.Printf("connected to %s\n", baseURL)

	readyReq, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/readyz", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	readyResp, err := http.DefaultClient.Do(readyReq)
	if err != nil {
		return fmt.Errorf("readiness check failed: %w", err)
	}
	defer readyResp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(readyResp.Body, 4096))
	if readyResp.StatusCode == http.StatusOK {
		green.Printf("  Ready:    ")
	} else {
		yellow.Printf("  Ready:    ")
	}
	fmt.Println(strings.TrimSpace(string(body)))

	if token == "" {
		yellow.Printf("  Token:    ")
		fmt.Println("(none - set CONCIERGE_TOKEN)")
	} else {
		green.Printf("  Token:    ")
		fmt.Println("present")
	}

	fmt.Println()
	return nil
}

// tenantRow mirrors the operator API's redacted tenant shape.
type tenantRow struct {
	ID             string `json:"tenant_id"`
	Name           string `json:"name"`
	CRM            string `json:"crm"`
	PhoneNumberID  string `json:"phone_number_id"`
	HasCredentials bool   `json:"has_credentials"`
}

// cmdTenants lists configured tenants.
func cmdTenants(baseURL, token string) error {
	var resp struct {
		Tenants []tenantRow `json:"tenants"`
	}
	if err := request(http.MethodGet, baseURL+"/api/tenants", token, nil, &resp); err != nil {
		return err
	}

	if len(resp.Tenants) == 0 {
		fmt.Println("No tenants configured.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TENANT\tNAME\tCRM\tPHONE NUMBER ID\tCREDENTIALS")
	for _, t := range resp.Tenants {
		creds := "-"
		if t.HasCredentials {
			creds = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Name, t.CRM, t.PhoneNumberID, creds)
	}
	return w.Flush()
}

// cmdReload reloads the tenant registry.
func cmdReload(baseURL, token string) error {
	var resp struct {
		Tenants int `json:"tenants"`
	}
	if err := request(http.MethodPost, baseURL+"/api/tenants/reload", token, nil, &resp); err != nil {
		return err
	}

	color.Green("Reloaded %d tenant(s).\n", resp.Tenants)
	return nil
}

// cmdReset resets one user's conversation session.
func cmdReset(baseURL, token string, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: concierge-admin reset <tenant-id> <user-id>")
	}

	body := map[string]string{"tenant_id": args[0], "user_id": args[1]}
	if err := request(http.MethodPost, baseURL+"/api/sessions/reset", token, body, nil); err != nil {
		return err
	}

	color.Green("Session reset for %s/%s.\n", args[0], args[1])
	return nil
}

// cmdTranscript prints a conversation transcript.
func cmdTranscript(baseURL, token string, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: concierge-admin transcript <tenant-id> <user-id>")
	}

	url := fmt.Sprintf("%s/api/transcript?tenant_id=%s&user_id=%s", baseURL, args[0], args[1])
	var resp struct {
		Turns []struct {
			Direction string `json:"direction"`
			Backend   string `json:"backend"`
			Body      string `json:"body"`
			CreatedAt string `json:"created_at"`
		} `json:"turns"`
	}
	if err := request(http.MethodGet, url, token, nil, &resp); err != nil {
		return err
	}

	if len(resp.Turns) == 0 {
		fmt.Println("No transcript recorded.")
		return nil
	}

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	for _, turn := range resp.Turns {
		gray.Printf("%s ", turn.CreatedAt)
		if turn.Direction == "inbound" {
			fmt.Printf("« %s\n", turn.Body)
			continue
		}
		label := "»"
		if turn.Backend != "" {
			label = "» [" + turn.Backend + "]"
		}
		cyan.Printf("%s ", label)
		fmt.Println(turn.Body)
	}

	return nil
}

// cmdAuthorize prints the CRM consent URL for a tenant.
func cmdAuthorize(baseURL, token string, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: concierge-admin authorize <tenant-id>")
	}

	var resp struct {
		AuthorizeURL string `json:"authorize_url"`
	}
	url := baseURL + "/oauth/zoho/authorize?tenant_id=" + args[0]
	if err := request(http.MethodGet, url, token, nil, &resp); err != nil {
		return err
	}

	fmt.Println("Open this URL in a browser and grant access:")
	fmt.Println()
	color.Cyan("  %s\n", resp.AuthorizeURL)
	fmt.Println()
	fmt.Println("The gateway stores the refresh token when the consent flow completes.")
	return nil
}

// resolveJWTSecret finds the signing secret for token create. Env wins;
// otherwise the gateway config file is consulted.
func resolveJWTSecret() (string, error) {
	if secret := os.Getenv("CONCIERGE_JWT_SECRET"); secret != "" {
		return secret, nil
	}

	configPath := os.Getenv("CONCIERGE_CONFIG")
	if configPath == "" {
		configDir := os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("set CONCIERGE_JWT_SECRET: %w", err)
			}
			configDir = filepath.Join(homeDir, ".config")
		}
		configPath = filepath.Join(configDir, "concierge", "gateway.yaml")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return "", fmt.Errorf("set CONCIERGE_JWT_SECRET or make %s readable: %w", configPath, err)
	}
	if cfg.Auth.JWTSecret == "" {
		return "", fmt.Errorf("no jwt_secret in %s and CONCIERGE_JWT_SECRET not set", configPath)
	}

	return cfg.Auth.JWTSecret, nil
}

// cmdToken mints operator JWTs locally with the gateway's signing secret.
func cmdToken(args []string) error {
	if len(args) < 1 || args[0] != "create" {
		return fmt.Errorf("usage: concierge-admin token create [--subject NAME] [--ttl DURATION]")
	}
	args = args[1:]

	subject := "operator"
	ttl := 30 * 24 * time.Hour
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--subject" || args[i] == "-s":
			if i+1 >= len(args) {
				return fmt.Errorf("--subject requires a value")
			}
			subject = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--subject="):
			subject = strings.TrimPrefix(args[i], "--subject=")
		case args[i] == "--ttl":
			if i+1 >= len(args) {
				return fmt.Errorf("--ttl requires a value")
			}
			d, err := time.ParseDuration(args[i+1])
			if err != nil {
				return fmt.Errorf("parsing --ttl: %w", err)
			}
			ttl = d
			i++
		case strings.HasPrefix(args[i], "--ttl="):
			d, err := time.ParseDuration(strings.TrimPrefix(args[i], "--ttl="))
			if err != nil {
				return fmt.Errorf("parsing --ttl: %w", err)
			}
			ttl = d
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	secret, err := resolveJWTSecret()
	if err != nil {
		return err
	}

	token, err := auth.NewJWTVerifier([]byte(secret)).Generate(subject, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	return nil
}
