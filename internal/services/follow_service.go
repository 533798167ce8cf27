package services

import (
	"context"

	"pulse-dm/internal/repository"

	"go.uber.org/zap"
)

// FollowService answers messaging eligibility from the follow graph.
type FollowService struct {
	repo   repository.FollowRepository
	cache  FollowCache
	logger *zap.Logger
}

func NewFollowService(repo repository.FollowRepository, cache FollowCache, logger *zap.Logger) *FollowService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FollowService{repo: repo, cache: cache, logger: logger}
}

// IsMutualFollow reports whether a and b follow each other. Cache errors fall
// through to the database.
func (s *FollowService) IsMutualFollow(ctx context.Context, a, b string) (bool, error) {
	if s.cache != nil {
		mutual, hit, err := s.cache.GetMutualFollow(ctx, a, b)
		if err != nil {
			s.logger.Warn("follow cache read failed", zap.Error(err))
		} else if hit {
			return mutual, nil
		}
	}

	mutual, err := s.repo.IsMutual(ctx, a, b)
	if err != nil {
		return false, err
	}
	if s.cache != nil {
		if err := s.cache.SetMutualFollow(ctx, a, b, mutual); err != nil {
			s.logger.Warn("follow cache write failed", zap.Error(err))
		}
	}
	return mutual, nil
}
