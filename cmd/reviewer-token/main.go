// Command reviewer-token mints a bearer token for the reviewer HTTP API.
//
// It reads the same JWT settings as the server, so a token minted here is
// accepted by a server started with the same environment.
package main

import (
	"flag"
	"fmt"
	"os"
	"slices"
	"time"

	jwttoken "trustdesk/internal/jwt_token"
	"trustdesk/internal/platform/config"
	id "trustdesk/pkg/domain"
)

func main() {
	reviewer := flag.String("reviewer", "", "reviewer chat id")
	ttl := flag.Duration("ttl", 12*time.Hour, "token lifetime")
	flag.Parse()

	if err := run(*reviewer, *ttl); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(raw string, ttl time.Duration) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	reviewerID, err := id.ParseSubmitterID(raw)
	if err != nil {
		return fmt.Errorf("-reviewer: %w", err)
	}
	if !slices.Contains(cfg.Moderation.Reviewers, reviewerID.Int64()) {
		return fmt.Errorf("%s is not listed in TRUSTDESK_REVIEWERS", reviewerID)
	}

	svc := jwttoken.NewJWTService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer, cfg.Server.JWTAudience)
	token, err := svc.GenerateReviewerToken(reviewerID, ttl)
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}
	fmt.Println(token)
	return nil
}
