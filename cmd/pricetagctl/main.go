// Package main implements the pricetagctl CLI for manual operations against
// a running pricetagd daemon.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the pricetagd HTTP server
	serverURL string
	// outputJSON prints raw server responses instead of formatted text
	outputJSON bool
	// version information (set via ldflags during build)
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pricetagctl",
	Short: "CLI for pricetagd daemon operations",
	Long: `pricetagctl is a command-line interface for a running pricetagd daemon.
It submits shelf-tag scans, checks watched items, and inspects the warehouse
catalog and daemon health.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8742", "pricetagd server URL")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Print raw JSON responses")
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(warehousesCmd)
	rootCmd.AddCommand(healthCmd)
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

// doRequest sends the request, enforces the expected status, and returns the
// raw body. Non-2xx responses surface the server's error text.
func doRequest(req *http.Request, wantStatus int) ([]byte, error) {
	resp, err := httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach %s: %w", req.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != wantStatus {
		return body, fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func getJSON(path string, out any) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, serverURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	body, err := doRequest(req, http.StatusOK)
	if err != nil {
		return body, err
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return body, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return body, nil
}

func printRaw(body []byte) {
	fmt.Println(string(body))
}
