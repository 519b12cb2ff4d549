package repository

import (
	"context"

	"github.com/pitabwire/frame"

	"github.com/quipp/service-whatsapp/apps/default/service/models"
)

func Migrate(ctx context.Context, svc *frame.Service, migrationPath string) error {
	return svc.MigrateDatastore(ctx, migrationPath,
		&models.Connection{}, &models.Conversation{}, &models.Message{})
}
