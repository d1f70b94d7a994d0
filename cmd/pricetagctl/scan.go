package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var (
	scanWarehouse uint
	scanIntent    string
	scanSession   string
)

func init() {
	scanCmd.Flags().UintVar(&scanWarehouse, "warehouse", 0, "Warehouse ID the tag was photographed in (required)")
	scanCmd.Flags().StringVar(&scanIntent, "intent", "", "Shopping intent: NEED_IT, BARGAIN_HUNTING, or BROWSING")
	scanCmd.Flags().StringVar(&scanSession, "session", "", "Session ID to group related scans")
	_ = scanCmd.MarkFlagRequired("warehouse")
}

var scanCmd = &cobra.Command{
	Use:   "scan <image>",
	Short: "Submit a shelf-tag photo and print the buy/wait decision",
	Long: `Submit a shelf-tag photo to pricetagd and print the decision.

Examples:
  # Scan a tag photographed at warehouse 1021
  pricetagctl scan --warehouse 1 tag.jpg

  # Tell the engine you need the item today
  pricetagctl scan --warehouse 1 --intent NEED_IT tag.jpg`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

// scanResult matches the scan response from internal/http.
type scanResult struct {
	ScanID           string `json:"scan_id"`
	ObservationID    string `json:"observation_id"`
	Quarantined      bool   `json:"quarantined"`
	QuarantineReason string `json:"quarantine_reason"`
	Reading          struct {
		ItemNumber  string `json:"item_number"`
		Price       string `json:"price"`
		Description string `json:"description"`
		PriceEnding string `json:"price_ending"`
		HasAsterisk bool   `json:"has_asterisk"`
	} `json:"reading"`
	Decision decisionView `json:"decision"`
}

// decisionView matches the decision payload from internal/http.
type decisionView struct {
	Verdict       string   `json:"verdict"`
	Explanation   string   `json:"explanation"`
	RationaleText string   `json:"rationale_text"`
	Factors       []string `json:"factors"`
	Scarcity      struct {
		Level       string `json:"level"`
		Explanation string `json:"explanation"`
	} `json:"scarcity"`
	DropLikelihood float64 `json:"price_drop_likelihood"`
	Confidence     string  `json:"confidence_level"`
	Score          *int    `json:"product_score"`
	Freshness      string  `json:"freshness"`
}

// scanFailure matches the 422 payload from internal/http.
type scanFailure struct {
	Error     string   `json:"error"`
	Detail    string   `json:"detail"`
	RetryTips []string `json:"retry_tips"`
}

func runScan(cmd *cobra.Command, args []string) error {
	image, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read image %s: %w", args[0], err)
	}

	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	fw, err := w.CreateFormFile("image", filepath.Base(args[0]))
	if err != nil {
		return fmt.Errorf("failed to build upload: %w", err)
	}
	if _, err := fw.Write(image); err != nil {
		return fmt.Errorf("failed to build upload: %w", err)
	}
	_ = w.WriteField("warehouse_id", fmt.Sprintf("%d", scanWarehouse))
	if scanIntent != "" {
		_ = w.WriteField("intent", scanIntent)
	}
	if scanSession != "" {
		_ = w.WriteField("session_id", scanSession)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to build upload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, serverURL+"/api/v1/scan", buf)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", req.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnprocessableEntity {
		var failure scanFailure
		if err := json.Unmarshal(body, &failure); err == nil {
			fmt.Fprintf(os.Stderr, "Could not read the tag: %s\n", failure.Detail)
			for _, tip := range failure.RetryTips {
				fmt.Fprintf(os.Stderr, "  - %s\n", tip)
			}
		}
		return fmt.Errorf("unreadable image")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	if outputJSON {
		printRaw(body)
		return nil
	}

	var result scanResult
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	printScanResult(result)
	return nil
}

func printScanResult(result scanResult) {
	marker := ""
	if result.Reading.HasAsterisk {
		marker = " *"
	}
	fmt.Printf("Item %s  $%s%s  %s\n",
		result.Reading.ItemNumber, result.Reading.Price, marker, result.Reading.Description)

	d := result.Decision
	fmt.Printf("\n%s\n", d.Verdict)
	fmt.Printf("  %s\n", d.RationaleText)
	if d.Explanation != "" && d.Explanation != d.RationaleText {
		fmt.Printf("  %s\n", d.Explanation)
	}
	for _, factor := range d.Factors {
		fmt.Printf("  - %s\n", factor)
	}

	fmt.Printf("\nAvailability: %s (%s)\n", d.Scarcity.Level, d.Scarcity.Explanation)
	fmt.Printf("Drop likelihood: %.0f%% (%s confidence)\n", d.DropLikelihood*100, strings.ToLower(d.Confidence))
	if d.Score != nil {
		fmt.Printf("Product score: %d/100\n", *d.Score)
	}
	if result.Quarantined {
		fmt.Printf("\nNote: reading quarantined (%s); it will not update price history.\n",
			result.QuarantineReason)
	}
}
