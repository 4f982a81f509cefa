package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/library-service/cmd/api/book"
	"github.com/library-service/cmd/api/config"
	"github.com/library-service/cmd/api/menu"
	"github.com/library-service/cmd/api/notifications"
	"github.com/library-service/cmd/api/storage"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

/* Opens the configured store and builds the menu over the library service. */
func openMenu(cmd *cobra.Command) (*menu.Menu, func() error, error) {
	cfg := config.NewConfig(".env")
	slog.SetDefault(cfg.Log.NewLogger(cmd.ErrOrStderr()))

	repo, closeStore, err := storage.Open(cfg.Database)
	if err != nil {
		return nil, nil, err
	}

	ntfy := notifications.NewNtfy(cfg.Ntfy.Enabled, cfg.Ntfy.BaseURL, &http.Client{Timeout: cfg.Ntfy.Timeout})
	libraryService := book.NewService(repo, ntfy, cfg.Ntfy.Timeout)
	return menu.New(libraryService, cmd.InOrStdin(), cmd.OutOrStdout(), cfg.Loans.RetryAttempts), closeStore, nil
}

/* Wraps a menu operation into a cobra RunE. */
func withMenu(op func(ctx context.Context, m *menu.Menu) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		m, closeStore, err := openMenu(cmd)
		if err != nil {
			return err
		}
		defer closeStore()
		return op(cmd.Context(), m)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "library",
		Short: "Interactive menu of the library",
		RunE: withMenu(func(ctx context.Context, m *menu.Menu) error {
			return m.Run(ctx)
		}),
		SilenceUsage: true,
	}
	root.AddCommand(newBorrowCmd(), newReturnCmd(), newBooksCmd())
	return root
}

func newBorrowCmd() *cobra.Command {
	var memberID, bookID string
	cmd := &cobra.Command{
		Use:   "borrow",
		Short: "Lend a book to a member",
		RunE: withMenu(func(ctx context.Context, m *menu.Menu) error {
			member, err := parseID("member", memberID)
			if err != nil {
				return err
			}
			b, err := parseID("book", bookID)
			if err != nil {
				return err
			}
			return m.Borrow(ctx, member, b)
		}),
	}
	cmd.Flags().StringVar(&memberID, "member", "", "member id")
	cmd.Flags().StringVar(&bookID, "book", "", "book id")
	_ = cmd.MarkFlagRequired("member")
	_ = cmd.MarkFlagRequired("book")
	return cmd
}

func newReturnCmd() *cobra.Command {
	var loanID string
	cmd := &cobra.Command{
		Use:   "return",
		Short: "Return a loan",
		RunE: withMenu(func(ctx context.Context, m *menu.Menu) error {
			loan, err := parseID("loan", loanID)
			if err != nil {
				return err
			}
			return m.Return(ctx, loan)
		}),
	}
	cmd.Flags().StringVar(&loanID, "loan", "", "loan id")
	_ = cmd.MarkFlagRequired("loan")
	return cmd
}

func newBooksCmd() *cobra.Command {
	var title, category string
	cmd := &cobra.Command{
		Use:   "books",
		Short: "List the books of the catalog",
		RunE: withMenu(func(ctx context.Context, m *menu.Menu) error {
			return m.ListBooks(ctx, title, category)
		}),
	}
	cmd.Flags().StringVar(&title, "title", "", "only books whose title contains this text")
	cmd.Flags().StringVar(&category, "category", "", "only books of this category")
	return cmd
}

func parseID(name, value string) (uuid.UUID, error) {
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s id %q: %w", name, value, err)
	}
	return id, nil
}
