package cmd

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/veloria-ai/veloria/internal/quota"
	"github.com/veloria-ai/veloria/internal/session"
)

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat()
		},
	}
}

// runChat starts the interactive chat (REPL) mode.
func runChat() error {
	cfg := initConfig()
	logger := slog.Default()

	p, err := buildProvider(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	store, err := buildStore(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open store:", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := store.Seed(ctx); err != nil {
		return fmt.Errorf("seed store: %w", err)
	}

	scanner := bufio.NewScanner(os.Stdin)

	userID := userFlag
	if userID == "" {
		users, err := store.ListUsers(ctx)
		if err != nil {
			return fmt.Errorf("list users: %w", err)
		}
		ids := make([]string, len(users))
		for i, u := range users {
			ids[i] = u.ID
		}
		fmt.Printf("Available users: %s\n", strings.Join(ids, ", "))
		fmt.Print("Enter the user id to chat as: ")
		if !scanner.Scan() {
			return nil
		}
		userID = strings.TrimSpace(scanner.Text())
	}

	c := buildSession(cfg, p, store, logger)
	if err := c.Start(ctx, userID); err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	user := c.User()
	fmt.Printf("\n--- Chat session for %q (tier %s, provider %s) ---\n", user.ID, user.Tier, p.Name())
	fmt.Printf("Type %q to exit.\n", cfg.Chat.EndSignal)

	name := cfg.Chat.DisplayName

	for !c.Ended() {
		// Surface the quota wall before prompting, so a blocked user isn't
		// asked for input that will never be processed.
		if d := c.CheckQuota(); !d.Allowed {
			res, err := c.Turn(ctx, "")
			if err != nil {
				return err
			}
			printDenied(user, res)
			break
		}

		fmt.Print("\nYou: ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		res, err := c.Turn(ctx, input)
		if err != nil {
			// Persistence failures are session-fatal: the turn did not commit.
			return fmt.Errorf("turn not committed: %w", err)
		}

		switch res.Kind {
		case session.TurnReply:
			fmt.Printf("\n%s: %s\n", name, res.Reply)
		case session.TurnDenied:
			printDenied(user, res)
		case session.TurnEnded:
			// fall through to loop exit
		}
	}

	fmt.Println("\n--- Chat session ended. ---")
	return nil
}

func printDenied(user *quota.User, res session.TurnResult) {
	fmt.Printf("\nYou have reached your message limit of %d for the %q tier.\n", res.Limit, user.Tier)
	fmt.Println("Upgrade your plan to keep chatting.")
}
