package cli

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"consentchain/cmd/consentctl/client"
)

var grantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Grant consent to a provider",
	Example: `  consentctl grant --caller patientA --provider providerX \
    --data-type lab-results --data-type imaging --purpose treatment`,
	Run: func(cmd *cobra.Command, args []string) {
		provider, _ := cmd.Flags().GetString("provider")
		dataTypes, _ := cmd.Flags().GetStringArray("data-type")
		purposes, _ := cmd.Flags().GetStringArray("purpose")
		expiresAt, _ := cmd.Flags().GetString("expires-at")
		if provider == "" || len(dataTypes) == 0 || len(purposes) == 0 {
			fmt.Println("provider, at least one data-type and one purpose are required.")
			return
		}
		payload := map[string]interface{}{
			"provider":  provider,
			"dataTypes": dataTypes,
			"purposes":  purposes,
		}
		if expiresAt != "" {
			payload["expiresAt"] = expiresAt
		}
		var resp map[string]string
		if err := apiClient().Post("/api/consents/grant", payload, &resp); err != nil {
			fail(err)
		}
		fmt.Println("Consent granted:", resp["consentId"])
	},
}

var revokeCmd = &cobra.Command{
	Use:   "revoke <consent-id>",
	Short: "Revoke a previously granted consent",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		payload := map[string]string{"consentId": args[0]}
		if err := apiClient().Post("/api/consents/revoke", payload, nil); err != nil {
			fail(err)
		}
		fmt.Println("Consent revoked.")
	},
}

var consentsCmd = &cobra.Command{
	Use:   "consents",
	Short: "List a patient's consent records",
	Run: func(cmd *cobra.Command, args []string) {
		patient, _ := cmd.Flags().GetString("patient")
		if patient == "" {
			fmt.Println("patient is required.")
			return
		}
		includeExpired, _ := cmd.Flags().GetBool("include-expired")
		page, _ := cmd.Flags().GetInt("page")
		limit, _ := cmd.Flags().GetInt("limit")
		query := url.Values{}
		query.Set("patient", patient)
		if includeExpired {
			query.Set("includeExpired", "true")
		}
		if page > 0 {
			query.Set("page", strconv.Itoa(page))
		}
		if limit > 0 {
			query.Set("limit", strconv.Itoa(limit))
		}
		var resp map[string]interface{}
		if err := apiClient().Get("/api/consents/list", query, &resp); err != nil {
			fail(err)
		}
		fmt.Println(client.Pretty(resp))
	},
}

var consentStatusCmd = &cobra.Command{
	Use:   "check",
	Short: "Check whether a provider holds active consent for a data type",
	Example: `  consentctl check --patient patientA --provider providerX --data-type lab-results`,
	Run: func(cmd *cobra.Command, args []string) {
		patient, _ := cmd.Flags().GetString("patient")
		provider, _ := cmd.Flags().GetString("provider")
		dataType, _ := cmd.Flags().GetString("data-type")
		if patient == "" || provider == "" || dataType == "" {
			fmt.Println("patient, provider and data-type are required.")
			return
		}
		query := url.Values{}
		query.Set("patient", patient)
		query.Set("provider", provider)
		query.Set("dataType", dataType)
		var resp map[string]interface{}
		if err := apiClient().Get("/api/consents/status", query, &resp); err != nil {
			fail(err)
		}
		fmt.Println(client.Pretty(resp))
	},
}

func init() {
	rootCmd.AddCommand(grantCmd)
	grantCmd.Flags().String("provider", "", "Provider address (required)")
	grantCmd.Flags().StringArray("data-type", nil, "Data type label (repeatable, required)")
	grantCmd.Flags().StringArray("purpose", nil, "Purpose label (repeatable, required)")
	grantCmd.Flags().String("expires-at", "", "Expiration time, RFC3339")

	rootCmd.AddCommand(revokeCmd)

	rootCmd.AddCommand(consentsCmd)
	consentsCmd.Flags().String("patient", "", "Patient address (required)")
	consentsCmd.Flags().Bool("include-expired", false, "Include expired records")
	consentsCmd.Flags().Int("page", 0, "Page number")
	consentsCmd.Flags().Int("limit", 0, "Page size")

	rootCmd.AddCommand(consentStatusCmd)
	consentStatusCmd.Flags().String("patient", "", "Patient address (required)")
	consentStatusCmd.Flags().String("provider", "", "Provider address (required)")
	consentStatusCmd.Flags().String("data-type", "", "Data type label (required)")
}
