// genkey generates credentials for a keiro deployment.
//
// Usage (run from the repo root):
//
//	go run scripts/genkey/main.go -t jwt
//	go run scripts/genkey/main.go -t apikey -id planner -role agent
//
// -t jwt writes an Ed25519 key pair for JWT signing:
//
//	data/jwt_private.pem  (mode 0600 — keep this secret)
//	data/jwt_public.pem   (mode 0600)
//
// Point KEIRO_JWT_PRIVATE_KEY and KEIRO_JWT_PUBLIC_KEY at these paths. The
// server auto-generates ephemeral keys when they are unset, but those are
// discarded on every restart, invalidating all previously issued tokens.
//
// -t apikey prints a freshly generated API key and the keyring entry to
// append to KEIRO_API_KEYS. The raw key is printed exactly once; only its
// argon2id hash goes in the keyring.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ashita-ai/keiro/internal/auth"
	"github.com/ashita-ai/keiro/internal/model"
)

func main() {
	keyType := flag.String("t", "jwt", "credential type: jwt or apikey")
	clientID := flag.String("id", "client-1", "client ID for the keyring entry (apikey only)")
	role := flag.String("role", "agent", "client role: admin, agent, or reader (apikey only)")
	flag.Parse()

	switch *keyType {
	case "jwt":
		genJWTKeys()
	case "apikey":
		genAPIKey(*clientID, *role)
	default:
		fmt.Fprintf(os.Stderr, "error: unknown type %q (want jwt or apikey)\n", *keyType)
		os.Exit(1)
	}
}

func genJWTKeys() {
	dir := "data"
	privPath := filepath.Join(dir, "jwt_private.pem")
	pubPath := filepath.Join(dir, "jwt_public.pem")

	if err := os.MkdirAll(dir, 0700); err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot create %s: %v\n", dir, err)
		os.Exit(1)
	}

	// Refuse to overwrite existing keys — prevents accidental invalidation of
	// live tokens.
	for _, path := range []string{privPath, pubPath} {
		if _, err := os.Stat(path); err == nil {
			fmt.Fprintf(os.Stderr, "error: %s already exists — delete it first if you want to rotate keys\n", path)
			os.Exit(1)
		}
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: generate key: %v\n", err)
		os.Exit(1)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: marshal private key: %v\n", err)
		os.Exit(1)
	}

	privFile, err := os.OpenFile(privPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: create %s: %v\n", privPath, err)
		os.Exit(1)
	}
	if err := pem.Encode(privFile, &pem.Block{Type: "PRIVATE KEY", Bytes: privDER}); err != nil {
		fmt.Fprintf(os.Stderr, "error: write private key: %v\n", err)
		os.Exit(1)
	}
	privFile.Close()

	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: marshal public key: %v\n", err)
		os.Exit(1)
	}

	pubFile, err := os.OpenFile(pubPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: create %s: %v\n", pubPath, err)
		os.Exit(1)
	}
	if err := pem.Encode(pubFile, &pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}); err != nil {
		fmt.Fprintf(os.Stderr, "error: write public key: %v\n", err)
		os.Exit(1)
	}
	pubFile.Close()

	fmt.Printf("wrote %s\n", privPath)
	fmt.Printf("wrote %s\n", pubPath)
	fmt.Println("Set KEIRO_JWT_PRIVATE_KEY and KEIRO_JWT_PUBLIC_KEY to these paths.")
}

func genAPIKey(clientID, role string) {
	if err := model.ValidateAgentID("client id", clientID); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	parsedRole, err := model.ParseRole(role)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		fmt.Fprintf(os.Stderr, "error: generate key: %v\n", err)
		os.Exit(1)
	}
	apiKey := "kr_" + hex.EncodeToString(raw)

	hash, err := auth.HashAPIKey(apiKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: hash key: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("API key (give to the client, shown only once):\n\n  %s\n\n", apiKey)
	fmt.Printf("Keyring entry (append to KEIRO_API_KEYS, comma-separated):\n\n  %s:%s:%s\n", clientID, parsedRole, hash)
}
