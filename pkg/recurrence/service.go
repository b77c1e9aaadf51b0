package recurrence

import (
	"context"
	"fmt"

	"github.com/klokku/calsync/pkg/account"
	"github.com/klokku/calsync/pkg/event"
)

type Service interface {
	Occurrences(ctx context.Context, publicId string, window *event.Window) ([]Occurrence, error)
}

type ServiceImpl struct {
	repo     event.Repository
	expander *Expander
}

func NewService(repo event.Repository, expander *Expander) *ServiceImpl {
	return &ServiceImpl{
		repo:     repo,
		expander: expander,
	}
}

func (s *ServiceImpl) Occurrences(ctx context.Context, publicId string, window *event.Window) ([]Occurrence, error) {
	acc, err := account.Current(ctx)
	if err != nil {
		return nil, err
	}
	master, err := s.repo.GetByPublicId(ctx, acc.NamespaceId, publicId)
	if err != nil {
		return nil, err
	}
	occurrences, err := s.expander.Expand(ctx, master, window)
	if err != nil {
		return nil, fmt.Errorf("failed to expand %s: %w", publicId, err)
	}
	return occurrences, nil
}
