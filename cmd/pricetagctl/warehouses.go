package main

import (
	"fmt"
	"net/url"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	warehousesLat float64
	warehousesLon float64
)

func init() {
	warehousesCmd.Flags().Float64Var(&warehousesLat, "lat", 0, "Latitude for nearest-first ordering")
	warehousesCmd.Flags().Float64Var(&warehousesLon, "lon", 0, "Longitude for nearest-first ordering")
	warehousesCmd.MarkFlagsRequiredTogether("lat", "lon")
}

var warehousesCmd = &cobra.Command{
	Use:   "warehouses",
	Short: "List the warehouse catalog",
	Long: `List the warehouses the daemon knows about.

Examples:
  # Full catalog
  pricetagctl warehouses

  # Nearest five to a location
  pricetagctl warehouses --lat 47.61 --lon -122.33`,
	RunE: runWarehouses,
}

// warehouseView matches the warehouse payload from internal/http.
type warehouseView struct {
	ID          uint    `json:"id"`
	StoreNumber string  `json:"store_number"`
	Name        string  `json:"name"`
	City        string  `json:"city"`
	State       string  `json:"state"`
	DistanceKm  float64 `json:"distance_km"`
}

func runWarehouses(cmd *cobra.Command, args []string) error {
	path := "/api/v1/warehouses"
	nearby := cmd.Flags().Changed("lat")
	if nearby {
		query := url.Values{}
		query.Set("lat", fmt.Sprintf("%g", warehousesLat))
		query.Set("lon", fmt.Sprintf("%g", warehousesLon))
		path = "/api/v1/warehouses/nearby?" + query.Encode()
	}

	var warehouses []warehouseView
	body, err := getJSON(path, &warehouses)
	if err != nil {
		return err
	}
	if outputJSON {
		printRaw(body)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if nearby {
		fmt.Fprintln(w, "ID\tSTORE\tNAME\tCITY\tKM")
		for _, wh := range warehouses {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s, %s\t%.1f\n",
				wh.ID, wh.StoreNumber, wh.Name, wh.City, wh.State, wh.DistanceKm)
		}
	} else {
		fmt.Fprintln(w, "ID\tSTORE\tNAME\tCITY")
		for _, wh := range warehouses {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s, %s\n",
				wh.ID, wh.StoreNumber, wh.Name, wh.City, wh.State)
		}
	}
	return w.Flush()
}
