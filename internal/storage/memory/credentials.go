package memory

import (
	"context"

	"gomarket_pricewatch/internal/core/models"
)

func (s *Store) GetCredential(_ context.Context, source models.Source) (*models.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.credentials[source]
	if !ok {
		return nil, nil
	}
	out := *c
	return &out, nil
}

func (s *Store) SaveCredential(_ context.Context, c *models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *c
	if existing, ok := s.credentials[c.Source]; ok {
		stored.ID = existing.ID
	} else {
		stored.ID = s.id()
	}
	stored.UpdatedAt = s.now()
	s.credentials[c.Source] = &stored
	return nil
}
