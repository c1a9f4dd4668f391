// Package main mints operator bearer tokens for the resortpay API.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/onnwee/resortpay/internal/auth"
)

func main() {
	help := flag.Bool("help", false, "display help message")
	operator := flag.String("operator", "", "operator id recorded in audit logs (required)")
	role := flag.String("role", auth.RoleAuditor, "token role: auditor or operator")
	ttl := flag.Duration("ttl", 8*time.Hour, "token lifetime")
	flag.Parse()

	if *help {
		fmt.Println("Resortpay operator token tool")
		fmt.Println()
		fmt.Println("Usage: JWT_SECRET=... opstoken -operator <id> [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	if err := mint(os.Stdout, os.Stderr, os.Getenv("JWT_SECRET"), *operator, *role, *ttl); err != nil {
		fmt.Fprintf(os.Stderr, "opstoken: %v\n", err)
		os.Exit(1)
	}
}

// mint signs a token, checks it round-trips through validation and writes it
// to out. A summary of the claims goes to info.
func mint(out, info io.Writer, secret, operatorID, role string, ttl time.Duration) error {
	if secret == "" {
		return errors.New("JWT_SECRET is required")
	}
	svc := auth.NewJWTService(secret)

	token, err := svc.GenerateOperatorToken(operatorID, role, ttl)
	if err != nil {
		return err
	}
	claims, err := svc.ValidateToken(token)
	if err != nil {
		return fmt.Errorf("generated token failed validation: %w", err)
	}

	fmt.Fprintf(info, "operator=%s role=%s expires=%s\n",
		claims.Subject, claims.Role, claims.ExpiresAt.Time.UTC().Format(time.RFC3339))
	_, err = fmt.Fprintln(out, token)
	return err
}
