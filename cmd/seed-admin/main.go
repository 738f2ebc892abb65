package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/shopdesk/merchant-portal/internal/auth"
	"github.com/shopdesk/merchant-portal/internal/config"
	"github.com/shopdesk/merchant-portal/internal/db"
	"github.com/shopdesk/merchant-portal/internal/logging"
)

func main() {
	_ = godotenv.Load(".env.local")

	var (
		name     = flag.String("name", "Administrator", "display name")
		email    = flag.String("email", "", "account email (required)")
		password = flag.String("password", os.Getenv("SEED_ADMIN_PASSWORD"), "account password (default: $SEED_ADMIN_PASSWORD)")
		role     = flag.String("role", string(auth.RoleAdmin), "admin or merchant")
	)
	flag.Parse()

	if *email == "" || *password == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logging.New("info").WithError(err).Fatal("invalid configuration")
	}
	log := logging.New(cfg.Log.Level)

	pool := db.MustConnect(cfg.Database, log)
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	db.Init(ctx, pool, log)

	svc, err := auth.NewFromConfig(cfg, pool, nil, log)
	if err != nil {
		log.WithError(err).Fatal("failed to build auth service")
	}

	u, err := svc.Register(ctx, auth.RegisterInput{
		Name:     *name,
		Email:    *email,
		Password: *password,
		Role:     auth.Role(*role),
	})
	var verr *auth.ValidationError
	switch {
	case errors.Is(err, auth.ErrEmailTaken):
		log.WithField("email", *email).Info("account already exists, nothing to do")
	case errors.As(err, &verr):
		log.WithField("reason", verr.Msg).Fatal("invalid account details")
	case err != nil:
		log.WithError(err).Fatal("seeding failed")
	default:
		log.WithFields(logrus.Fields{"user_id": u.ID, "role": u.Role}).Info("account created")
	}
}
