package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"consentchain/cmd/consentctl/client"
)

var (
	nodeURL string
	caller  string
	token   string
)

var rootCmd = &cobra.Command{
	Use:   "consentctl",
	Short: "Consentchain CLI",
	Long:  "A command-line tool for managing consents and access requests on a consentchain node.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&nodeURL, "node", "http://localhost:8080", "Base URL of the node API")
	rootCmd.PersistentFlags().StringVar(&caller, "caller", "", "Caller address (dev mode, no JWT)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "Bearer token issued by the login service")
}

func apiClient() *client.Client {
	return client.New(nodeURL, caller, token)
}

func fail(err error) {
	fmt.Printf("Error: %v\n", err)
	os.Exit(1)
}
