package main

import (
	"context"
	"fmt"
	"os"

	"github.com/alfredjeanlab/castboard/internal/auth"
	"github.com/alfredjeanlab/castboard/internal/ui"
	"github.com/spf13/cobra"
)

var userCmd = &cobra.Command{
	Use:     "user",
	Short:   "Manage dashboard accounts",
	GroupID: "admin",
}

var userCreateCmd = &cobra.Command{
	Use:   "create <username>",
	Short: "Create a dashboard account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fromStdin, _ := cmd.Flags().GetBool("password-stdin")

		var (
			password string
			err      error
		)
		if fromStdin {
			password, err = ui.ReadPasswordLine(os.Stdin)
		} else {
			password, err = ui.PromptPassword("Password: ", true)
		}
		if err != nil {
			return err
		}

		cfg, db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		u, err := auth.NewManager(db, cfg.SessionTTL).CreateUser(context.Background(), args[0], password)
		if err != nil {
			return fmt.Errorf("creating user: %w", err)
		}
		if jsonOutput {
			printJSON(map[string]string{"id": u.ID, "username": u.Username})
			return nil
		}
		fmt.Printf("%s user %s (%s)\n", ui.RenderOK("Created"), u.Username, ui.RenderMuted(u.ID))
		return nil
	},
}

var userReset2FACmd = &cobra.Command{
	Use:   "reset-2fa <username>",
	Short: "Disable two-factor authentication for an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := auth.NewManager(db, cfg.SessionTTL).ResetTwoFactor(context.Background(), args[0]); err != nil {
			return fmt.Errorf("resetting 2FA for %s: %w", args[0], err)
		}
		fmt.Printf("%s two-factor authentication for %s\n", ui.RenderOK("Reset"), args[0])
		return nil
	},
}

func init() {
	userCreateCmd.Flags().Bool("password-stdin", false, "read the password from the first line of stdin")

	userCmd.AddCommand(userCreateCmd)
	userCmd.AddCommand(userReset2FACmd)
}
