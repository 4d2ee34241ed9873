package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var resourcesCmd = &cobra.Command{
	Use:   "resources",
	Short: "List registered resources",
	RunE:  runResources,
}

func init() {
	rootCmd.AddCommand(resourcesCmd)

	resourcesCmd.Flags().String("api-url", "http://localhost:8710", "API server URL")
}

type resourceRow struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Name string `json:"name"`
	Capacity struct {
		CPU      float64 `json:"cpu"`
		MemoryMB float64 `json:"memory_mb"`
	} `json:"capacity"`
	Available struct {
		CPU      float64 `json:"cpu"`
		MemoryMB float64 `json:"memory_mb"`
	} `json:"available"`
	Status string `json:"status"`
}

func runResources(cmd *cobra.Command, args []string) error {
	apiURL, _ := cmd.Flags().GetString("api-url")

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(apiURL + "/api/v1/resources")
	if err != nil {
		return fmt.Errorf("failed to fetch resources: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var rows []resourceRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return err
	}

	fmt.Printf("%-40s %-9s %-20s %-12s %-12s %s\n", "ID", "TYPE", "NAME", "CPU", "MEMORY", "STATUS")
	for _, r := range rows {
		mem := humanize.Bytes(uint64(r.Available.MemoryMB * 1024 * 1024))
		memCap := humanize.Bytes(uint64(r.Capacity.MemoryMB * 1024 * 1024))
		fmt.Printf("%-40s %-9s %-20s %5.1f/%-5.1f %s/%s %s\n",
			r.ID, r.Type, r.Name,
			r.Available.CPU, r.Capacity.CPU,
			mem, memCap,
			r.Status,
		)
	}
	return nil
}
