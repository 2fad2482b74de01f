package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cobridge/cobridge/internal/breaker"
	"github.com/cobridge/cobridge/internal/process"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show bridge service status",
	Long:  `Display the current status of the protocol bridge service, including per-provider circuit breaker states.`,
	Run:   runStatus,
}

func runStatus(cmd *cobra.Command, _ []string) {
	procMgr := process.NewManager(baseDir)
	cfg := cfgMgr.Get()

	running := procMgr.IsRunning()
	pid := procMgr.ReadPID()
	refs := procMgr.ReadRef()

	color.Blue("Status for %s:", AppName)
	fmt.Printf("  %-15s: %v\n", "Running", running)
	fmt.Printf("  %-15s: %d\n", "PID", pid)

	if cfg != nil {
		fmt.Printf("  %-15s: %s\n", "Host", cfg.Host)
		fmt.Printf("  %-15s: %d\n", "Port", cfg.Port)
		fmt.Printf("  %-15s: %s\n", "Endpoint", fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port))
		fmt.Printf("  %-15s: %d\n", "Providers", len(cfg.Providers))
	}

	fmt.Printf("  %-15s: %s\n", "Config Path", cfgMgr.GetPath())
	fmt.Printf("  %-15s: %d\n", "References", refs)
	fmt.Printf("  %-15s: v%s\n", "Version", Version)

	if running && cfg != nil {
		printBreakerStates(cfg.Host, cfg.Port, cfg.APIKey)
	}
}

func printBreakerStates(host string, port int, apiKey string) {
	url := fmt.Sprintf("http://%s:%d/breakers", host, port)

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		color.Yellow("  Could not query breaker states: %v", err)
		return
	}
	defer resp.Body.Close()

	var payload struct {
		Breakers []breaker.Snapshot `json:"breakers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return
	}

	if len(payload.Breakers) == 0 {
		return
	}

	fmt.Println("\nCircuit Breakers:")
	for _, snap := range payload.Breakers {
		line := fmt.Sprintf("  %-15s: %s (failures=%d, rejections=%d)",
			snap.Name, snap.State, snap.Failures, snap.Rejections)

		switch snap.State {
		case "open":
			color.Red(line)
		case "half_open":
			color.Yellow(line)
		default:
			fmt.Println(line)
		}
	}
}
