// Package main mints signed tokens for local testing of the trainer and client APIs.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/trainermatch/backend/config"
	"github.com/trainermatch/backend/internal/auth"
	"github.com/trainermatch/backend/internal/messages"
	"github.com/trainermatch/backend/internal/models"
)

func main() {
	if err := root().Execute(); err != nil {
		os.Exit(1)
	}
}

func root() *cobra.Command {
	var (
		userID string
		email  string
		role   string
	)
	cmd := &cobra.Command{
		Use:   "devtoken",
		Short: "print a JWT signed with JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			r := models.Role(role)
			if r != models.RoleTrainer && r != models.RoleClient {
				return fmt.Errorf("unknown role %q", role)
			}
			if userID == "" {
				userID = messages.DemoTrainerID
				if r == models.RoleClient {
					userID = messages.DemoClientID
				}
			}
			token, err := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours).Generate(userID, email, r)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (defaults to the demo trainer or client)")
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().StringVar(&role, "role", string(models.RoleTrainer), "trainer or client")
	return cmd
}
