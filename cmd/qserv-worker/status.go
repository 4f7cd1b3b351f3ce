package main

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running worker's /status/results endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")

		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Get(fmt.Sprintf("http://%s/status/results", addr))
		if err != nil {
			return fmt.Errorf("query worker status: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read worker status response: %w", err)
		}
		fmt.Println(string(body))
		return nil
	},
}

func init() {
	statusCmd.Flags().String("addr", "127.0.0.1:25000", "Worker HTTP address")
}
