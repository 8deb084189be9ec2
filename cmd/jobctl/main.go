package main

import (
	"log"

	"github.com/spf13/cobra"
)

func main() {
	var addr string

	rootCmd := &cobra.Command{
		Use:   "jobctl",
		Short: "Control the corporate-intel job orchestrator",
	}
	rootCmd.PersistentFlags().StringVar(&addr, "addr", "http://localhost:8080", "orchestrator API address")

	api := func() *client { return newClient(addr) }

	rootCmd.AddCommand(enqueueCmd(api))
	rootCmd.AddCommand(statusCmd(api))
	rootCmd.AddCommand(resultCmd(api))
	rootCmd.AddCommand(cancelCmd(api))
	rootCmd.AddCommand(scheduleCmd(api))
	rootCmd.AddCommand(healthCmd(api))
	rootCmd.AddCommand(metricsCmd(api))
	rootCmd.AddCommand(historyCmd(api))

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
