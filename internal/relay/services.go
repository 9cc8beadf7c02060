package relay

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/confsync/confsync/internal/blob"
	"github.com/confsync/confsync/internal/relay/auth"
	"github.com/confsync/confsync/internal/relay/email"
)

type Services struct {
	Auth     *auth.Service
	Email    email.Service
	Blob     *blob.Service
	Store    *SyncStore
	Presence *Presence
}

func NewServices(config *Config, database *sqlx.DB) (*Services, error) {
	emailSvc := email.NewService(&config.Email)

	authSvc := auth.NewService(&config.Auth, emailSvc)

	blobSvc, err := blob.NewService(&config.Blob, &blob.IndexConfig{DB: database})
	if err != nil {
		return nil, fmt.Errorf("create blob service: %w", err)
	}

	store, err := NewSyncStore(database)
	if err != nil {
		return nil, fmt.Errorf("create sync store: %w", err)
	}

	return &Services{
		Auth:     authSvc,
		Email:    emailSvc,
		Blob:     blobSvc,
		Store:    store,
		Presence: NewPresence(DefaultPresenceTTL),
	}, nil
}

func (s *Services) Start(ctx context.Context) error {
	// blob service runs the orphan chunk sweeper
	s.Blob.Start(ctx)
	return nil
}
