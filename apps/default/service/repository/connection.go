package repository

import (
	"context"

	"github.com/pitabwire/frame"
	"github.com/pitabwire/frame/framedata"

	"github.com/quipp/service-whatsapp/apps/default/service/models"
)

type connectionRepository struct {
	framedata.BaseRepository[*models.Connection]
}

// GetByID retrieves a connection by its ID.
func (cr *connectionRepository) GetByID(ctx context.Context, id string) (*models.Connection, error) {
	connection := &models.Connection{}
	err := cr.Svc().DB(ctx, true).First(connection, "id = ?", id).Error
	return connection, err
}

// Save creates or updates a connection.
func (cr *connectionRepository) Save(ctx context.Context, connection *models.Connection) error {
	return cr.Svc().DB(ctx, false).Save(connection).Error
}

// Delete soft deletes a connection by its ID.
func (cr *connectionRepository) Delete(ctx context.Context, id string) error {
	connection, err := cr.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return cr.Svc().DB(ctx, false).Delete(connection).Error
}

// GetByOwnerID retrieves all connections belonging to an owner.
func (cr *connectionRepository) GetByOwnerID(ctx context.Context, ownerID string) ([]*models.Connection, error) {
	var connections []*models.Connection
	err := cr.Svc().DB(ctx, true).
		Where("owner_id = ?", ownerID).
		Order("created_at ASC").
		Find(&connections).Error
	return connections, err
}

// List retrieves all connections across owners.
func (cr *connectionRepository) List(ctx context.Context) ([]*models.Connection, error) {
	var connections []*models.Connection
	err := cr.Svc().DB(ctx, true).
		Order("created_at ASC").
		Find(&connections).Error
	return connections, err
}

// UpdateStatus persists a lifecycle state change.
func (cr *connectionRepository) UpdateStatus(ctx context.Context, id string, status models.ConnectionStatus) error {
	return cr.Svc().DB(ctx, false).
		Model(&models.Connection{}).
		Where("id = ?", id).
		Update("status", string(status)).Error
}

// NewConnectionRepository creates a new connection repository instance.
func NewConnectionRepository(service *frame.Service) ConnectionRepository {
	return &connectionRepository{
		BaseRepository: framedata.NewBaseRepository[*models.Connection](service, func() *models.Connection { return &models.Connection{} }),
	}
}
