package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch <warehouse> <item>...",
	Short: "Check watched items for price and availability changes",
	Long: `Check one or more items at a warehouse for changes since they were
last seen: price moves, clearance markdowns, decision flips, or the item
disappearing from shelves.

Examples:
  # Check two items at warehouse 1
  pricetagctl watch 1 1234567 7654321`,
	Args: cobra.MinimumNArgs(2),
	RunE: runWatch,
}

// watchItem and watchStatus match the watch payloads from internal/http.
type watchItem struct {
	WarehouseID uint   `json:"warehouse_id"`
	ItemNumber  string `json:"item_number"`
}

type watchStatus struct {
	ItemNumber   string   `json:"item_number"`
	Changes      []string `json:"changes"`
	LastSeenDays *int     `json:"last_seen_days"`
	Price        *struct {
		Old string `json:"old"`
		New string `json:"new"`
	} `json:"price"`
	PreviousVerdict string `json:"previous_verdict"`
	CurrentVerdict  string `json:"current_verdict"`
}

func runWatch(cmd *cobra.Command, args []string) error {
	warehouseID, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid warehouse id %q", args[0])
	}

	items := make([]watchItem, 0, len(args)-1)
	for _, item := range args[1:] {
		items = append(items, watchItem{WarehouseID: uint(warehouseID), ItemNumber: item})
	}

	reqJSON, err := json.Marshal(map[string]any{"items": items})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, serverURL+"/api/v1/watch/status", bytes.NewReader(reqJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := doRequest(req, http.StatusOK)
	if err != nil {
		return err
	}
	if outputJSON {
		printRaw(body)
		return nil
	}

	var resp struct {
		Statuses []watchStatus `json:"statuses"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	for _, status := range resp.Statuses {
		printWatchStatus(status)
	}
	return nil
}

func printWatchStatus(status watchStatus) {
	fmt.Printf("%s:", status.ItemNumber)
	if len(status.Changes) == 0 {
		fmt.Printf(" no changes")
		if status.LastSeenDays != nil {
			fmt.Printf(" (last seen %d days ago)", *status.LastSeenDays)
		}
		fmt.Println()
		return
	}
	fmt.Println()
	for _, change := range status.Changes {
		switch change {
		case "price_changed":
			fmt.Printf("  price changed: $%s -> $%s\n", status.Price.Old, status.Price.New)
		case "decision_changed":
			fmt.Printf("  decision changed: %s -> %s\n", status.PreviousVerdict, status.CurrentVerdict)
		case "disappeared":
			fmt.Printf("  not seen for %d days\n", *status.LastSeenDays)
		default:
			fmt.Printf("  %s\n", change)
		}
	}
}
