package main

import "consentchain/cmd/consentctl/cli"

func main() {
	cli.Execute()
}
