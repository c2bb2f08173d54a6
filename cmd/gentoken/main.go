package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"lv-riskengine/internal/auth"

	"github.com/caarlos0/env/v10"
)

type tokenEnv struct {
	Issuer string        `env:"JWT_ISSUER" envDefault:"lv-riskengine"`
	Secret string        `env:"JWT_SECRET,required"`
	TTL    time.Duration `env:"JWT_TTL" envDefault:"24h"`
}

// Usage: JWT_SECRET=... gentoken <account-id | *>
func main() {
	var cfg tokenEnv
	if err := env.Parse(&cfg); err != nil {
		log.Fatal(err)
	}
	subject := auth.ServiceSubject
	if len(os.Args) > 1 {
		subject = os.Args[1]
	}
	token, err := auth.NewService(cfg.Issuer, []byte(cfg.Secret), cfg.TTL).SignToken(subject)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Subject: %s\nToken: %s\n", subject, token)
}
