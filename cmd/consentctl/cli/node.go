package cli

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"consentchain/cmd/consentctl/client"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query node status and projection health",
	Example: `  consentctl status
  consentctl status --output json`,
	Run: func(cmd *cobra.Command, args []string) {
		output, _ := cmd.Flags().GetString("output")
		var resp map[string]interface{}
		if err := apiClient().Get("/status", nil, &resp); err != nil {
			fail(err)
		}
		if output == "json" {
			fmt.Println(client.Pretty(resp))
			return
		}
		fmt.Printf("Status: %v\nEvent position: %v\nUptime: %vs\n",
			resp["status"], resp["event_position"], resp["uptime_seconds"])
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Replay a range of the event log",
	Run: func(cmd *cobra.Command, args []string) {
		from, _ := cmd.Flags().GetUint64("from")
		to, _ := cmd.Flags().GetUint64("to")
		patient, _ := cmd.Flags().GetString("patient")
		query := url.Values{}
		if from > 0 {
			query.Set("from", strconv.FormatUint(from, 10))
		}
		if to > 0 {
			query.Set("to", strconv.FormatUint(to, 10))
		}
		if patient != "" {
			query.Set("patient", patient)
		}
		var resp map[string]interface{}
		if err := apiClient().Get("/api/events", query, &resp); err != nil {
			fail(err)
		}
		fmt.Println(client.Pretty(resp))
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show a patient's full consent history",
	Run: func(cmd *cobra.Command, args []string) {
		patient, _ := cmd.Flags().GetString("patient")
		if patient == "" {
			fmt.Println("patient is required.")
			return
		}
		query := url.Values{}
		query.Set("patient", patient)
		var resp map[string]interface{}
		if err := apiClient().Get("/api/history", query, &resp); err != nil {
			fail(err)
		}
		fmt.Println(client.Pretty(resp))
	},
}

var tickCmd = &cobra.Command{
	Use:   "tick <category>",
	Short: "Run one projection tick for a category",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var resp map[string]interface{}
		if err := apiClient().Post("/admin/tick?category="+url.QueryEscape(args[0]), nil, &resp); err != nil {
			fail(err)
		}
		fmt.Println(client.Pretty(resp))
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringP("output", "o", "plain", "Output format: plain|json")

	rootCmd.AddCommand(eventsCmd)
	eventsCmd.Flags().Uint64("from", 0, "First position (inclusive)")
	eventsCmd.Flags().Uint64("to", 0, "Last position (inclusive, 0 = head)")
	eventsCmd.Flags().String("patient", "", "Filter by patient address")

	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().String("patient", "", "Patient address (required)")

	rootCmd.AddCommand(tickCmd)
}
