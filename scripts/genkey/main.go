// genkey generates the secrets MindFork needs at first launch.
//
// Usage (run from the repo root):
//
//	go run scripts/genkey/main.go >> .env
//
// Prints two env lines:
//
//	MINDFORK_JWT_SECRET       (HS256 signing secret, 48 random bytes)
//	MINDFORK_ADMIN_API_KEY    (bootstrap admin service key, mf_ format)
//
// The server auto-generates an ephemeral JWT secret when MINDFORK_JWT_SECRET
// is unset, but that secret is discarded on every restart, invalidating all
// existing tokens and sessions. A persistent secret prevents that. The admin
// key is registered on startup and exchanged for a token at
// POST /v1/auth/service-token.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
)

const (
	jwtSecretLen = 48
	adminKeyLen  = 24 // bytes of entropy, 48 hex chars on the wire
)

func main() {
	jwtSecret := make([]byte, jwtSecretLen)
	if _, err := rand.Read(jwtSecret); err != nil {
		fmt.Fprintf(os.Stderr, "error: generate jwt secret: %v\n", err)
		os.Exit(1)
	}

	adminKey := make([]byte, adminKeyLen)
	if _, err := rand.Read(adminKey); err != nil {
		fmt.Fprintf(os.Stderr, "error: generate admin key: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("MINDFORK_JWT_SECRET=%s\n", base64.RawStdEncoding.EncodeToString(jwtSecret))
	fmt.Printf("MINDFORK_ADMIN_API_KEY=mf_%s\n", hex.EncodeToString(adminKey))

	fmt.Fprintln(os.Stderr, "Secrets are ready. Append the output to .env (or your secret store) before first launch.")
	fmt.Fprintln(os.Stderr, "Rotating MINDFORK_JWT_SECRET invalidates every outstanding token.")
}
