// Command repokeep-action validates one repository in CI. It reads its
// inputs from the environment and exits non-zero when any check fails.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/vrsandeep/repokeep/internal/cli"
	"github.com/vrsandeep/repokeep/internal/config"
	"github.com/vrsandeep/repokeep/internal/core"
	"github.com/vrsandeep/repokeep/internal/models"
)

func getenv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func run(ctx context.Context) error {
	fullName := getenv("INPUT_REPOSITORY", "GITHUB_REPOSITORY")
	if fullName == "" {
		return fmt.Errorf("no repository given: set INPUT_REPOSITORY or GITHUB_REPOSITORY")
	}
	category := models.Category(getenv("INPUT_CATEGORY"))
	if !category.Valid() {
		return fmt.Errorf("INPUT_CATEGORY must be one of %v", models.Categories)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	scratch, err := os.MkdirTemp("", "repokeep-action-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(scratch)

	cfg.Automated = true
	cfg.ConfigDir = scratch
	cfg.Database.Path = ":memory:"
	if token := getenv("INPUT_GITHUB_TOKEN", "GITHUB_TOKEN"); token != "" {
		cfg.Hosting.Token = token
	}
	if brands := getenv("INPUT_BRANDS_REPOSITORY"); brands != "" {
		cfg.Validation.BrandsRepository = brands
	}

	app, err := core.New(cfg, core.Options{})
	if err != nil {
		return err
	}
	defer app.Close()

	_, err = cli.ValidateRepository(ctx, app, fullName, category, os.Stdout)
	return err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
