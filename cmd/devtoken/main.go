// Command devtoken mints an access token for local testing.  Production
// tokens come from the identity service.
//
//	go run ./cmd/devtoken -user 7 -role MEMBER
//	go run ./cmd/devtoken -user 2 -role STAFF -branch 1
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/iliyamo/amenity-booking/internal/middleware"
	"github.com/iliyamo/amenity-booking/internal/utils"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("WARN: .env not loaded: %v", err)
	}
	var (
		user   = flag.Uint64("user", 0, "user id written to the sub claim")
		role   = flag.String("role", middleware.RoleMember, "MEMBER or STAFF")
		branch = flag.Uint64("branch", 0, "branch id, required for STAFF")
		ttl    = flag.Duration("ttl", time.Hour, "token lifetime")
	)
	flag.Parse()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET is not set")
	}
	r := strings.ToUpper(*role)
	switch {
	case *user == 0:
		log.Fatal("-user is required")
	case r != middleware.RoleMember && r != middleware.RoleStaff:
		log.Fatalf("unknown role %q", *role)
	case r == middleware.RoleStaff && *branch == 0:
		log.Fatal("-branch is required for STAFF tokens")
	}

	tok, err := utils.NewAccessToken(secret, *user, r, *branch, *ttl)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(tok.Token)
	fmt.Fprintf(os.Stderr, "expires %s\n", tok.Exp.Format(time.RFC3339))
}
