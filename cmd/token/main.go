// Command token prints a bearer token signed with the configured secret.
// It is meant for local development against the API.
package main

import (
	"flag"
	"fmt"
	"time"

	"image-pipeline/internal/config"
	"image-pipeline/internal/http-server/middleware"

	"github.com/wb-go/wbf/zlog"
)

func main() {
	user := flag.String("user", "dev", "user id put into the sub claim")
	role := flag.String("role", "", "optional role claim, e.g. admin")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	zlog.Init()

	cfg, err := config.MustLoad()
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("Failed to load config")
	}

	auth := middleware.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer, &zlog.Logger)
	token, err := auth.Sign(middleware.Identity{UserID: *user, Role: *role}, *ttl)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("Failed to sign token")
	}

	fmt.Println(token)
}
