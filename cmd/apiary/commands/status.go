package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show orchestrator status",
	Long:  `Display current resource, pool, reservation and allocation statistics.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().String("api-url", "http://localhost:8710", "API server URL")
	statusCmd.Flags().String("format", "table", "Output format (table, json, yaml)")
	statusCmd.Flags().Bool("watch", false, "Refresh continuously")
	statusCmd.Flags().Duration("interval", 5*time.Second, "Watch interval")
}

func runStatus(cmd *cobra.Command, args []string) error {
	apiURL, _ := cmd.Flags().GetString("api-url")
	format, _ := cmd.Flags().GetString("format")
	watch, _ := cmd.Flags().GetBool("watch")
	interval, _ := cmd.Flags().GetDuration("interval")

	if watch {
		for {
			fmt.Print("\033[H\033[2J")
			if err := displayStatus(apiURL, format); err != nil {
				return err
			}
			time.Sleep(interval)
		}
	}
	return displayStatus(apiURL, format)
}

type statusResponse struct {
	Resources         map[string]int `json:"resources"`
	TotalResources    int            `json:"total_resources"`
	Pools             int            `json:"pools"`
	Reservations      map[string]int `json:"reservations"`
	ActiveAllocations int            `json:"active_allocations"`
	TotalAllocations  int            `json:"total_allocations"`
	Utilization       float64        `json:"utilization"`
	Efficiency        float64        `json:"efficiency"`
}

func displayStatus(apiURL, format string) error {
	status, err := fetchStatus(apiURL)
	if err != nil {
		return fmt.Errorf("failed to fetch status: %w", err)
	}

	switch format {
	case "json":
		out, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	case "yaml":
		out, err := yaml.Marshal(status)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
	default:
		displayTable(status)
	}
	return nil
}

func fetchStatus(apiURL string) (*statusResponse, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(apiURL + "/api/v1/status")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, err
	}
	return &status, nil
}

func displayTable(s *statusResponse) {
	fmt.Println("Apiary Status")
	fmt.Println("=============")
	fmt.Printf("  Resources:          %s\n", humanize.Comma(int64(s.TotalResources)))
	for status, n := range s.Resources {
		fmt.Printf("    %-17s %d\n", status+":", n)
	}
	fmt.Printf("  Pools:              %d\n", s.Pools)
	fmt.Printf("  Active allocations: %d / %d total\n", s.ActiveAllocations, s.TotalAllocations)
	for status, n := range s.Reservations {
		fmt.Printf("    reservations %-9s %d\n", status+":", n)
	}
	fmt.Printf("  Utilization:        %.1f%%\n", s.Utilization*100)
	fmt.Printf("  Efficiency:         %.2f\n", s.Efficiency)
}
