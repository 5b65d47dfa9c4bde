package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"zenocloud/internal/config"
	"zenocloud/internal/pkg/jwtutil"
)

var (
	tokenUserID   uint
	tokenTenantID uint
	tokenRole     string
	tokenTTL      time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "devtoken",
	Short: "Sign an API token for local testing",
	Long: `Signs a bearer token with auth.jwt_secret from the service configuration.
Root tokens own their tenant, so --tenant defaults to --user for them.`,
	Args: cobra.NoArgs,
	RunE: runDevToken,
}

func init() {
	rootCmd.Flags().UintVarP(&tokenUserID, "user", "u", 0, "user id")
	rootCmd.Flags().UintVarP(&tokenTenantID, "tenant", "t", 0, "tenant id (root owner's user id)")
	rootCmd.Flags().StringVarP(&tokenRole, "role", "r", jwtutil.RoleUser, "root or user")
	rootCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	_ = rootCmd.MarkFlagRequired("user")
}

func runDevToken(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config failed: %w", err)
	}
	if tokenRole != jwtutil.RoleRoot && tokenRole != jwtutil.RoleUser {
		return fmt.Errorf("unknown role %q", tokenRole)
	}
	tenantID := tokenTenantID
	if tenantID == 0 && tokenRole == jwtutil.RoleRoot {
		tenantID = tokenUserID
	}
	if tenantID == 0 {
		return fmt.Errorf("--tenant is required for role %s", tokenRole)
	}

	token, err := jwtutil.GenerateToken(cfg.Auth.JWTSecret, tokenUserID, tenantID, tokenRole, tokenTTL)
	if err != nil {
		return err
	}
	cmd.Println(token)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
