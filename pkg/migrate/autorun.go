package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/creditsync/pkg/config"
	"github.com/angelmondragon/creditsync/pkg/db"
	"github.com/angelmondragon/creditsync/pkg/logger"
)

// MaybeRunDev applies the embedded schema on boot. It is a no-op outside
// dev or when CREDITSYNC_AUTO_MIGRATE is off; deployed environments run
// cmd/migrate as a release step instead.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !autoMigrate(cfg.App) {
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	ctx = logg.WithField(ctx, "migrations", "embedded")
	if err := Run(ctx, sqlDB, EmbeddedSource(), "up", nil); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	logg.Info(ctx, "schema is up to date")
	return nil
}

func autoMigrate(app config.AppConfig) bool {
	return app.IsDev() && app.AutoMigrate
}
