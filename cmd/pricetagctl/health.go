package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check pricetagd daemon health",
	Long: `Check the health and store statistics of a running pricetagd daemon.

Examples:
  # Check health
  pricetagctl health

  # Check health on a different server
  pricetagctl health --server http://tagbox:8742`,
	RunE: runHealth,
}

// statusView matches the status payload from internal/http.
type statusView struct {
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Observations  int64  `json:"observations"`
	Products      int64  `json:"products"`
	Snapshots     int64  `json:"snapshots"`
	Warehouses    int64  `json:"warehouses"`
}

func runHealth(cmd *cobra.Command, args []string) error {
	req, err := http.NewRequest(http.MethodGet, serverURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if _, err := doRequest(req, http.StatusOK); err != nil {
		return err
	}

	var status statusView
	body, err := getJSON("/api/v1/status", &status)
	if err != nil {
		return err
	}
	if outputJSON {
		printRaw(body)
		return nil
	}

	fmt.Printf("Server Status: ok\n")
	fmt.Printf("Server URL:    %s\n", serverURL)
	fmt.Printf("Version:       %s\n", status.Version)
	fmt.Printf("Uptime:        %s\n", (time.Duration(status.UptimeSeconds) * time.Second).String())
	fmt.Printf("Observations:  %d\n", status.Observations)
	fmt.Printf("Products:      %d\n", status.Products)
	fmt.Printf("Snapshots:     %d\n", status.Snapshots)
	fmt.Printf("Warehouses:    %d\n", status.Warehouses)
	return nil
}
