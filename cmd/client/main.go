package main

import (
	"context"
	"log"

	"github.com/dmitrijs2005/tasksync/internal/client/app"
	"github.com/dmitrijs2005/tasksync/internal/client/config"
)

func run(ctx context.Context, cfg *config.Config) error {
	a, err := app.NewApp(ctx, cfg, app.Options{})
	if err != nil {
		return err
	}

	a.Run(ctx)
	return nil
}

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("%v", err)
	}

}
