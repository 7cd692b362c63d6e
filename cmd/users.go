package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/veloria-ai/veloria/internal/quota"
)

func newUsersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List users with tier and quota status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUsers()
		},
	}
}

func runUsers() error {
	cfg := initConfig()

	store, err := buildStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Seed(ctx); err != nil {
		return fmt.Errorf("seed store: %w", err)
	}

	users, err := store.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "USER\tTIER\tMESSAGES\tREMAINING")
	for _, u := range users {
		remaining := "unlimited"
		if r := u.Remaining(); r != quota.Unlimited {
			remaining = fmt.Sprintf("%d", r)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", u.ID, u.Tier, u.MessageCount, remaining)
	}
	return w.Flush()
}
