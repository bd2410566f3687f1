package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-bots/internal/app"
	"github.com/vovakirdan/wirechat-bots/internal/auth"
	"github.com/vovakirdan/wirechat-bots/internal/config"
	"github.com/vovakirdan/wirechat-bots/internal/store/sqlite"
)

// withStore opens the configured database for an administrative command.
func withStore(opts *globalOptions, fn func(ctx context.Context, cfg *config.Config, st *sqlite.SQLiteStore) error) error {
	cfg, _, err := opts.load(config.Config{})
	if err != nil {
		return err
	}
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	return fn(context.Background(), cfg, st)
}

func newAccountCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage local bot accounts",
	}

	var password string
	add := &cobra.Command{
		Use:   "add <username>",
		Short: "Create a local account bots can log in with",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, func(ctx context.Context, cfg *config.Config, st *sqlite.SQLiteStore) error {
				acc, err := auth.NewService(st, app.NewJWTConfig(cfg)).Register(ctx, args[0], password)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "account %s created (id %d)\n", acc.Username, acc.ID)
				return nil
			})
		},
	}
	add.Flags().StringVar(&password, "password", "", "account password (at least 6 characters)")
	_ = add.MarkFlagRequired("password")

	cmd.AddCommand(add)
	return cmd
}

func newRoomCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "room",
		Short: "Manage the local room directory",
	}

	var description, privacy string
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a room in the local directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, func(ctx context.Context, _ *config.Config, st *sqlite.SQLiteStore) error {
				room, err := st.CreateRoom(ctx, args[0], description, privacy)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "room %s created (id %d)\n", room.Name, room.ID)
				return nil
			})
		},
	}
	add.Flags().StringVar(&description, "description", "", "room description")
	add.Flags().StringVar(&privacy, "privacy", "public", "room privacy label")

	cmd.AddCommand(add)
	return cmd
}

func newTokenCmd(opts *globalOptions) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an operator token for the control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := opts.load(config.Config{})
			if err != nil {
				return err
			}
			token, err := auth.NewService(nil, app.NewJWTConfig(cfg)).IssueOperatorToken(name)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "operator", "operator name embedded in the token")
	return cmd
}
