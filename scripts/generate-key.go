// Package main is a development utility that prints fresh secrets for a local
// .env file: a base64 encryption key for MFA factor secrets and a JWT signing
// secret. Generated values are random on every run; rotate the encryption key
// only together with re-enrolling every MFA factor.
package main

import (
	"encoding/base64"
	"fmt"
	"log"

	"github.com/one-account/one-account-api/internal/auth"
	"github.com/one-account/one-account-api/internal/crypto"
)

func main() {
	key, err := crypto.GenerateKey()
	if err != nil {
		log.Fatal(err)
	}

	jwtSecret, err := auth.RandomString(64)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("# Paste into .env")
	fmt.Printf("ENCRYPTION_KEY=%s\n", base64.StdEncoding.EncodeToString(key))
	fmt.Printf("OA_JWT_SECRET=%s\n", jwtSecret)
}
