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
	Short: "Query a running czar's /status endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")

		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Get(fmt.Sprintf("http://%s/status", addr))
		if err != nil {
			return fmt.Errorf("query czar status: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read czar status response: %w", err)
		}
		fmt.Println(string(body))
		return nil
	},
}

func init() {
	statusCmd.Flags().String("addr", "127.0.0.1:26000", "Czar callback HTTP address")
}
