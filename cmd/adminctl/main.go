// Command adminctl is the operator CLI for the ticket-sale API.
//
// It talks to a running cmd/api server's admin HTTP surface over
// basic auth; it never opens its own database or ledger connection, so it
// always sees the same state the server itself would report.
//
// Usage:
//
//	adminctl inventory
//	adminctl orders --limit 50
//	adminctl pending --limit 20
//	adminctl reconcile
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
	apiAddr       string
	adminUsername string
	adminPassword string
	limit         int

	httpClient = &http.Client{Timeout: 10 * time.Second}
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "adminctl",
		Short:         "adminctl - operator CLI for the ticket-sale API",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	rootCmd.PersistentFlags().StringVar(&apiAddr, "api-addr", getEnv("ADMINCTL_API_ADDR", "http://localhost:8080"), "Base URL of the running api server")
	rootCmd.PersistentFlags().StringVar(&adminUsername, "admin-username", getEnv("ADMIN_USERNAME", "admin"), "Admin basic-auth username")
	rootCmd.PersistentFlags().StringVar(&adminPassword, "admin-password", getEnv("ADMIN_PASSWORD", ""), "Admin basic-auth password")

	rootCmd.AddCommand(inventoryCmd())
	rootCmd.AddCommand(ordersCmd())
	rootCmd.AddCommand(pendingCmd())
	rootCmd.AddCommand(goodiesCmd())
	rootCmd.AddCommand(reconcileCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func inventoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inventory",
		Short: "Show the current ticket inventory snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getAndPrint("/api/inventory", false)
		},
	}
}

func goodiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "goodies",
		Short: "Show goodie bag usage against its limit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getAndPrint("/api/admin/goodies", true)
		},
	}
}

func ordersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "List the most recently created orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getAndPrint(fmt.Sprintf("/api/admin/orders?limit=%d", limit), true)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of orders to return")
	return cmd
}

func pendingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List the most recently created pending payment sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getAndPrint(fmt.Sprintf("/api/pending?limit=%d", limit), false)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of sessions to return")
	return cmd
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run an on-demand ledger/order drift check",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getAndPrint("/api/admin/reconcile", true)
		},
	}
}

// getAndPrint issues a GET against path on the configured api-addr,
// applying basic auth when admin is true, and pretty-prints the JSON
// response body.
func getAndPrint(path string, admin bool) error {
	req, err := http.NewRequest(http.MethodGet, apiAddr+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if admin {
		req.SetBasicAuth(adminUsername, adminPassword)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %s: %s", resp.Status, string(body))
	}

	var v interface{}
	if err := json.Unmarshal(body, &v); err != nil {
		fmt.Println(string(body))
		return nil
	}
	printJSON(v)
	return nil
}

func printJSON(v interface{}) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		return
	}
	fmt.Println(string(b))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
