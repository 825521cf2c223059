package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"neighborhood-chat/internal/apiclient"
	"neighborhood-chat/internal/cache"
	"neighborhood-chat/internal/channel"
	"neighborhood-chat/internal/models"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Join the chat and stream messages; type to send, /panic for alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cfgPath)
			if err != nil {
				return err
			}

			ch, closeFn, err := buildChannel(cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			ch.Connect(ctx)

			go func() {
				scanner := bufio.NewScanner(os.Stdin)
				for scanner.Scan() {
					line := strings.TrimSpace(scanner.Text())
					if line == "" {
						continue
					}
					var sendErr error
					if body, ok := strings.CutPrefix(line, "/panic "); ok {
						_, sendErr = ch.SendPanicMessage(ctx, body, nil)
					} else {
						_, sendErr = ch.SendMessage(ctx, line)
					}
					if sendErr != nil {
						fmt.Fprintln(os.Stderr, "send failed:", sendErr)
					}
				}
			}()

			<-ctx.Done()
			return nil
		},
	}
}

// buildChannel wires the full client stack from the cli config: disk
// or memory cache, HTTP client, and the websocket push transport.
func buildChannel(cfg cliConfig) (*channel.Channel, func(), error) {
	var storage cache.Storage
	cleanup := func() {}
	if cfg.CachePath != "" {
		sqliteStorage, err := cache.NewSQLiteStorage(cfg.CachePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open cache: %w", err)
		}
		storage = sqliteStorage
		cleanup = func() { sqliteStorage.Close() }
	} else {
		storage = cache.NewMemoryStorage()
	}
	store := cache.New(storage)

	rest := apiclient.New(cfg.ServerURL, cfg.Token, nil)
	identity := channel.Identity{
		UserID:      cfg.UserID,
		DisplayName: cfg.DisplayName,
		Email:       cfg.Email,
	}

	ch := channel.New(channel.Config{
		ChatID:       cfg.ChatID,
		Identity:     identity,
		Rest:         rest,
		Cache:        store,
		BackendQuota: cfg.BackendQuota,
		NewPush: func(onEvent func(models.ChatEvent), onState func(channel.ConnState)) channel.PushTransport {
			return channel.NewPushClient(cfg.ServerURL, cfg.Token, cfg.ChatID, cfg.UserID, cfg.DisplayName, onEvent, onState)
		},
		OnUpdate: printNewMessages(cfg.UserID),
		OnTyping: func(indicators []models.TypingIndicator) {
			if len(indicators) == 0 {
				return
			}
			names := make([]string, 0, len(indicators))
			for _, ind := range indicators {
				names = append(names, ind.DisplayName)
			}
			fmt.Printf("  [%s typing...]\n", strings.Join(names, ", "))
		},
		OnStateChange: func(state channel.ConnState) {
			fmt.Printf("  [connection: %s]\n", state)
		},
	})

	closeFn := func() {
		ch.Close()
		cleanup()
	}
	return ch, closeFn, nil
}

// printNewMessages prints only messages not yet seen, so the update
// callback can receive the full merged list every time.
func printNewMessages(selfID string) func([]models.Message) {
	seen := make(map[string]bool)
	return func(msgs []models.Message) {
		for _, msg := range msgs {
			if seen[msg.ID] {
				continue
			}
			seen[msg.ID] = true
			printMessage(msg, selfID)
		}
	}
}

func printMessage(msg models.Message, selfID string) {
	name := msg.SenderName
	if msg.SenderID == selfID {
		name = "you"
	}
	stamp := msg.CreatedAt.Local().Format("15:04")
	if msg.Kind == models.KindPanic {
		fmt.Printf("%s !! PANIC %s: %s\n", stamp, name, msg.Body)
		return
	}
	fmt.Printf("%s %s: %s\n", stamp, name, msg.Body)
}
