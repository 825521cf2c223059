package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"neighborhood-chat/internal/apiclient"
)

func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the most recent messages in the chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cfgPath)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			rest := apiclient.New(cfg.ServerURL, cfg.Token, nil)
			page, err := rest.FetchMessages(ctx, cfg.ChatID, "", limit)
			if err != nil {
				return err
			}
			for _, msg := range page.Messages {
				printMessage(msg, cfg.UserID)
			}
			if page.HasMore {
				fmt.Printf("  (%d total, showing last %d)\n", page.Total, len(page.Messages))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "number of messages to fetch")
	return cmd
}
