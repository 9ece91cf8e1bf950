package cli

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"consentchain/cmd/consentctl/client"
)

var requestCmd = &cobra.Command{
	Use:   "request",
	Short: "Submit an access request to a patient",
	Example: `  consentctl request --caller providerX --patient patientA \
    --data-type lab-results --purpose research`,
	Run: func(cmd *cobra.Command, args []string) {
		patient, _ := cmd.Flags().GetString("patient")
		dataTypes, _ := cmd.Flags().GetStringArray("data-type")
		purposes, _ := cmd.Flags().GetStringArray("purpose")
		expiresAt, _ := cmd.Flags().GetString("expires-at")
		if patient == "" || len(dataTypes) == 0 || len(purposes) == 0 {
			fmt.Println("patient, at least one data-type and one purpose are required.")
			return
		}
		payload := map[string]interface{}{
			"patient":   patient,
			"dataTypes": dataTypes,
			"purposes":  purposes,
		}
		if expiresAt != "" {
			payload["expiresAt"] = expiresAt
		}
		var resp map[string]string
		if err := apiClient().Post("/api/requests/submit", payload, &resp); err != nil {
			fail(err)
		}
		fmt.Println("Access request submitted:", resp["requestId"])
	},
}

var respondCmd = &cobra.Command{
	Use:   "respond <request-id>",
	Short: "Approve or deny a pending access request",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		approve, _ := cmd.Flags().GetBool("approve")
		deny, _ := cmd.Flags().GetBool("deny")
		if approve == deny {
			fmt.Println("Exactly one of --approve or --deny is required.")
			return
		}
		payload := map[string]interface{}{"requestId": args[0], "approve": approve}
		var resp map[string]string
		if err := apiClient().Post("/api/requests/respond", payload, &resp); err != nil {
			fail(err)
		}
		if consentID := resp["consentId"]; consentID != "" {
			fmt.Println("Request approved, consent created:", consentID)
		} else {
			fmt.Println("Request settled.")
		}
	},
}

var requestsCmd = &cobra.Command{
	Use:   "requests",
	Short: "List a patient's access requests",
	Run: func(cmd *cobra.Command, args []string) {
		patient, _ := cmd.Flags().GetString("patient")
		if patient == "" {
			fmt.Println("patient is required.")
			return
		}
		status, _ := cmd.Flags().GetString("status")
		page, _ := cmd.Flags().GetInt("page")
		limit, _ := cmd.Flags().GetInt("limit")
		query := url.Values{}
		query.Set("patient", patient)
		if status != "" {
			query.Set("status", status)
		}
		if page > 0 {
			query.Set("page", strconv.Itoa(page))
		}
		if limit > 0 {
			query.Set("limit", strconv.Itoa(limit))
		}
		var resp map[string]interface{}
		if err := apiClient().Get("/api/requests/list", query, &resp); err != nil {
			fail(err)
		}
		fmt.Println(client.Pretty(resp))
	},
}

func init() {
	rootCmd.AddCommand(requestCmd)
	requestCmd.Flags().String("patient", "", "Patient address (required)")
	requestCmd.Flags().StringArray("data-type", nil, "Data type label (repeatable, required)")
	requestCmd.Flags().StringArray("purpose", nil, "Purpose label (repeatable, required)")
	requestCmd.Flags().String("expires-at", "", "Request expiration, RFC3339")

	rootCmd.AddCommand(respondCmd)
	respondCmd.Flags().Bool("approve", false, "Approve the request")
	respondCmd.Flags().Bool("deny", false, "Deny the request")

	rootCmd.AddCommand(requestsCmd)
	requestsCmd.Flags().String("patient", "", "Patient address (required)")
	requestsCmd.Flags().String("status", "", "Filter by status: pending|approved|denied")
	requestsCmd.Flags().Int("page", 0, "Page number")
	requestsCmd.Flags().Int("limit", 0, "Page size")
}
