// Command oracleadapter runs the price oracle adapter service and its
// operator commands.
package main

import (
	"os"

	"github.com/alanyoungcy/oracleadapter/cmd/oracleadapter/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
