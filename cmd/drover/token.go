package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/droverhq/drover/pkg/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage bearer tokens",
}

var tokenCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Mint a bearer token",
	Long: `Mint an HS256 bearer token signed with JWT_SECRET. Clients need the
"client" role; fleet management and the event stream need "admin".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := os.Getenv("JWT_SECRET")
		if secret == "" {
			return fmt.Errorf("JWT_SECRET is required")
		}

		subject, _ := cmd.Flags().GetString("subject")
		role, _ := cmd.Flags().GetString("role")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		signed, err := auth.Issue(secret, subject, auth.Role(role), ttl)
		if err != nil {
			return err
		}

		fmt.Println(signed)
		return nil
	},
}

func init() {
	tokenCreateCmd.Flags().String("subject", "operator", "Token subject")
	tokenCreateCmd.Flags().String("role", "client", "Token role (client or admin)")
	tokenCreateCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")

	tokenCmd.AddCommand(tokenCreateCmd)
}
