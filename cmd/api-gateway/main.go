package main

import (
	"os"

	"github.com/spf13/cobra"
)

// @title Lab Result API
// @version 1.0.0
// @description Validation and lifecycle engine for laboratory test results.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	rootCmd := &cobra.Command{
		Use:   "lab-result-api",
		Short: "Lab result validation and lifecycle API",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
