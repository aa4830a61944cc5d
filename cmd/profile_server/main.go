// Package main provides the entry point for the profile orchestrator HTTP API server.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "profile_server",
	Short: "Job Profile Orchestrator HTTP API Server",
	Long:  "Generates structured job profiles asynchronously via an LLM backend, tracks generation tasks, and maintains append-only profile version histories per position.",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
