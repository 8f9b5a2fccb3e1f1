package core

import (
	"context"

	"github.com/dkeye/voicemesh/internal/domain"
)

// RoomsAPI is the REST collaborator for room CRUD.
type RoomsAPI interface {
	ListActive(ctx context.Context) ([]domain.Room, error)
	Get(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	Create(ctx context.Context, title string) (*domain.Room, error)
	Delete(ctx context.Context, id domain.RoomID) error
}
