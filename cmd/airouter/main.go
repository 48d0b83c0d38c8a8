package main

import (
	"log"

	"github.com/joho/godotenv"

	"github.com/aussiebroadwan/fintab/internal/airouter/app"
)

func main() {
	_ = godotenv.Load()

	application, err := app.New(app.LoadConfig())
	if err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}

	if err := application.Run(); err != nil {
		log.Fatalf("application error: %v", err)
	}
}
