package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	authx "github.com/bionicotaku/lingo-utils-authx"
)

func main() {
	envPath := defaultEnvPath()
	if err := loadEnvFile(envPath); err != nil {
		log.Printf("warning: load %s: %v", envPath, err)
	}

	var (
		defaultTenant  = os.Getenv("AUTHX_TENANT_ID")
		defaultIssuer  = os.Getenv("AUTHX_ISSUER_BASE_URL")
		defaultKeyFile = os.Getenv("AUTHX_SIGNING_KEY_FILE")
		defaultKeyID   = os.Getenv("AUTHX_SIGNING_KEY_ID")
		defaultAccount = os.Getenv("AUTHX_SERVICE_ACCOUNT")
	)

	tenant := flag.String("tenant", defaultTenant, "Tenant ID (env AUTHX_TENANT_ID)")
	issuerBase := flag.String("issuer-base", defaultIssuer, "Issuer base URL (env AUTHX_ISSUER_BASE_URL)")
	keyFile := flag.String("key-file", defaultKeyFile, "PEM file holding the signing private key (env AUTHX_SIGNING_KEY_FILE)")
	keyID := flag.String("key-id", defaultKeyID, "Key ID placed in the token header (env AUTHX_SIGNING_KEY_ID)")
	alg := flag.String("alg", "RS256", "Signature algorithm")
	account := flag.String("service-account", defaultAccount, "Issuer identity of minted tokens (env AUTHX_SERVICE_ACCOUNT)")
	uid := flag.String("uid", "", "Subject the token asserts")
	claimsJSON := flag.String("claims", "", "Custom claims as a JSON object")
	ttl := flag.Duration("ttl", time.Hour, "Token lifetime")
	envFileFlag := flag.String("env", envPath, "Optional path to .env file (default .env)")
	flag.Parse()

	if *envFileFlag != "" && *envFileFlag != envPath {
		if err := loadEnvFile(*envFileFlag); err != nil {
			log.Printf("warning: load %s: %v", *envFileFlag, err)
		}
		reloadDefaults(tenant, issuerBase, keyFile, keyID, account)
	}

	if *tenant == "" || *issuerBase == "" {
		flag.Usage()
		log.Fatal("tenant and issuer-base are required")
	}
	if *keyFile == "" || *keyID == "" {
		flag.Usage()
		log.Fatal("key-file and key-id are required")
	}
	if *uid == "" {
		flag.Usage()
		log.Fatal("uid is required")
	}

	var claims map[string]any
	if *claimsJSON != "" {
		if err := json.Unmarshal([]byte(*claimsJSON), &claims); err != nil {
			log.Fatalf("parse claims: %v", err)
		}
	}

	pemBytes, err := os.ReadFile(*keyFile)
	if err != nil {
		log.Fatalf("read key file: %v", err)
	}
	key, err := authx.SigningKeyFromPEM(*keyID, *alg, pemBytes)
	if err != nil {
		log.Fatalf("load signing key: %v", err)
	}

	cfg := authx.Config{
		TenantID:       *tenant,
		IssuerBaseURL:  *issuerBase,
		SigningKey:     key,
		ServiceAccount: *account,
		CustomTokenTTL: *ttl,
	}

	client, err := authx.NewClient(context.Background(), cfg)
	if err != nil {
		log.Fatalf("create client: %v", err)
	}

	tok, err := client.MintCustomToken(context.Background(), *uid, claims)
	if err != nil {
		log.Fatalf("mint failed (%s): %v", authx.CodeOf(err), err)
	}

	fmt.Println(tok.Raw())
	log.Printf("minted custom token for %s, expires %s", tok.Subject(), tok.ExpiresAt().Format(time.RFC3339))
}

func defaultEnvPath() string {
	if path := os.Getenv("AUTHX_ENV_FILE"); path != "" {
		return path
	}
	return ".env"
}

func reloadDefaults(tenant, issuerBase, keyFile, keyID, account *string) {
	if tenant != nil && *tenant == "" {
		*tenant = os.Getenv("AUTHX_TENANT_ID")
	}
	if issuerBase != nil && *issuerBase == "" {
		*issuerBase = os.Getenv("AUTHX_ISSUER_BASE_URL")
	}
	if keyFile != nil && *keyFile == "" {
		*keyFile = os.Getenv("AUTHX_SIGNING_KEY_FILE")
	}
	if keyID != nil && *keyID == "" {
		*keyID = os.Getenv("AUTHX_SIGNING_KEY_ID")
	}
	if account != nil && *account == "" {
		*account = os.Getenv("AUTHX_SERVICE_ACCOUNT")
	}
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			log.Printf("warning: invalid line %d in %s", lineNum, filepath.Base(path))
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		if key == "" {
			continue
		}
		if _, present := os.LookupEnv(key); present {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			log.Printf("warning: set env %s: %v", key, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return nil
}
