package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/x402arcade/backend/internal/admin"
	"github.com/x402arcade/backend/internal/config"
)

// admin-hash prints the bcrypt hash to put in ADMIN_PASSWORD_HASH.
// The password comes from ADMIN_PASSWORD or the first line of stdin.
func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, using environment variables")
	}
	cfg := config.Load()

	password := os.Getenv("ADMIN_PASSWORD")
	if password == "" {
		fmt.Fprint(os.Stderr, "Password: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			logrus.WithError(err).Fatal("Failed to read password")
		}
		password = strings.TrimRight(line, "\r\n")
	}

	hash, err := admin.HashPassword(password)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to hash password")
	}

	fmt.Printf("ADMIN_USERNAME=%s\n", cfg.AdminUsername)
	fmt.Printf("ADMIN_PASSWORD_HASH=%s\n", hash)
	if cfg.JWTSecret == "change-me-in-production" {
		logrus.Warn("JWT_SECRET is still the default; set it before running in production")
	}
}
