package main

import (
	"bufio"
	"context"
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
		defaultJWKS    = os.Getenv("AUTHX_JWKS_URL")
		defaultBackend = os.Getenv("AUTHX_BACKEND_BASE_URL")
		defaultToken   = os.Getenv("AUTHX_ID_TOKEN")
	)

	tenant := flag.String("tenant", defaultTenant, "Tenant ID, doubles as expected audience (env AUTHX_TENANT_ID)")
	issuerBase := flag.String("issuer-base", defaultIssuer, "Issuer base URL (env AUTHX_ISSUER_BASE_URL)")
	jwksURL := flag.String("jwks-url", defaultJWKS, "JWKS URL (env AUTHX_JWKS_URL)")
	backendURL := flag.String("backend-url", defaultBackend, "User backend base URL, required with -check-revoked (env AUTHX_BACKEND_BASE_URL)")
	token := flag.String("token", defaultToken, "ID token to verify (env AUTHX_ID_TOKEN)")
	session := flag.Bool("session", false, "Verify as a session token instead of an ID token")
	legacy := flag.Bool("legacy", false, "Use the backward-compatible verification strategy")
	checkRevoked := flag.Bool("check-revoked", false, "Also consult the backend for revocation state")
	timeout := flag.Duration("timeout", 5*time.Second, "HTTP timeout for JWKS and backend calls")
	envFileFlag := flag.String("env", envPath, "Optional path to .env file (default .env)")
	flag.Parse()

	if *envFileFlag != "" && *envFileFlag != envPath {
		if err := loadEnvFile(*envFileFlag); err != nil {
			log.Printf("warning: load %s: %v", *envFileFlag, err)
		}
		reloadDefaults(tenant, issuerBase, jwksURL, backendURL, token)
	}

	if *tenant == "" || *issuerBase == "" || *jwksURL == "" {
		flag.Usage()
		log.Fatal("tenant, issuer-base, and jwks-url are required")
	}
	if *token == "" {
		flag.Usage()
		log.Fatal("token is required")
	}
	if *checkRevoked && *backendURL == "" {
		flag.Usage()
		log.Fatal("backend-url is required with -check-revoked")
	}

	cfg := authx.Config{
		TenantID:          *tenant,
		IssuerBaseURL:     *issuerBase,
		JWKSURL:           *jwksURL,
		BackendBaseURL:    *backendURL,
		HTTPTimeout:       *timeout,
		UseLegacyVerifier: *legacy,
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client, err := authx.NewClient(ctx, cfg)
	if err != nil {
		log.Fatalf("create client: %v", err)
	}

	info := client.VerifierInfo()
	if info.Advisory != "" {
		log.Printf("verifier %s: %s", info.Version, info.Advisory)
	}

	var opts []authx.VerifyOption
	if *checkRevoked {
		opts = append(opts, authx.CheckRevoked())
	}

	verify := client.VerifyIDToken
	if *session {
		verify = client.VerifySessionToken
	}
	verified, err := verify(context.Background(), *token, opts...)
	if err != nil {
		log.Fatalf("verification failed (%s): %v", authx.CodeOf(err), err)
	}

	printToken(verified, info)
}

func defaultEnvPath() string {
	if path := os.Getenv("AUTHX_ENV_FILE"); path != "" {
		return path
	}
	return ".env"
}

func reloadDefaults(tenant, issuerBase, jwksURL, backendURL, token *string) {
	if tenant != nil && *tenant == "" {
		*tenant = os.Getenv("AUTHX_TENANT_ID")
	}
	if issuerBase != nil && *issuerBase == "" {
		*issuerBase = os.Getenv("AUTHX_ISSUER_BASE_URL")
	}
	if jwksURL != nil && *jwksURL == "" {
		*jwksURL = os.Getenv("AUTHX_JWKS_URL")
	}
	if backendURL != nil && *backendURL == "" {
		*backendURL = os.Getenv("AUTHX_BACKEND_BASE_URL")
	}
	if token != nil && *token == "" {
		*token = os.Getenv("AUTHX_ID_TOKEN")
	}
}

func printToken(tok *authx.Token, info authx.VerifierInfo) {
	fmt.Println("== Token Verified ==")
	fmt.Printf("verifier     : %s\n", info.Version)
	fmt.Printf("subject      : %s\n", tok.Subject())
	fmt.Printf("issuer       : %s\n", tok.Issuer())
	fmt.Printf("audience     : %s\n", strings.Join(tok.Audience(), ", "))
	fmt.Printf("key_id       : %s\n", tok.KeyID())
	if !tok.IssuedAt().IsZero() {
		fmt.Printf("issued_at    : %s\n", tok.IssuedAt().Format(time.RFC3339))
	}
	if !tok.ExpiresAt().IsZero() {
		fmt.Printf("expires_at   : %s\n", tok.ExpiresAt().Format(time.RFC3339))
	}
	if !tok.AuthTime().IsZero() {
		fmt.Printf("auth_time    : %s\n", tok.AuthTime().Format(time.RFC3339))
	}
	custom := tok.Claims()
	for _, name := range []string{"iss", "sub", "aud", "iat", "exp", "nbf", "jti", "auth_time"} {
		delete(custom, name)
	}
	if len(custom) > 0 {
		fmt.Println("custom_claims:")
		for k, v := range custom {
			fmt.Printf("  %s: %v\n", k, v)
		}
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
