package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"neighborhood-chat/internal/apiclient"
	"neighborhood-chat/internal/models"
)

func newSendCmd() *cobra.Command {
	var panicFlag bool
	var lat, lng float64

	cmd := &cobra.Command{
		Use:   "send <message>",
		Short: "Send a single message without opening the live channel",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cfgPath)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			req := apiclient.SendRequest{
				ChatID: cfg.ChatID,
				Body:   strings.Join(args, " "),
				Kind:   models.KindNormal,
			}
			if panicFlag {
				req.Kind = models.KindPanic
				if cmd.Flags().Changed("lat") || cmd.Flags().Changed("lng") {
					req.Location = &models.GeoPoint{Lat: lat, Lng: lng}
				}
			}

			rest := apiclient.New(cfg.ServerURL, cfg.Token, nil)
			msg, err := rest.SendMessage(ctx, req)
			if err != nil {
				return err
			}
			fmt.Println("sent", msg.ID)
			return nil
		},
	}

	cmd.Flags().BoolVar(&panicFlag, "panic", false, "send as a high-priority panic alert")
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude to attach to a panic alert")
	cmd.Flags().Float64Var(&lng, "lng", 0, "longitude to attach to a panic alert")
	return cmd
}
