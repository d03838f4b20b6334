package service

import (
	"context"
	"strings"

	"github.com/garyjia/trip-approval/internal/application/port"
	"github.com/garyjia/trip-approval/internal/domain/apperr"
	"github.com/garyjia/trip-approval/internal/domain/entity"
	"github.com/garyjia/trip-approval/internal/domain/perdiem"
	"github.com/shopspring/decimal"
)

const (
	cacheKeyDepartments = "departments"
	cacheKeyRates       = "rates"
	cacheKeyOptions     = "expense-options"
	cacheKeyUserPrefix  = "user:"
)

// ReferenceService serves directory data through a read-through cache
type ReferenceService interface {
	UserInfo(ctx context.Context, userID string) (*entity.User, error)
	Departments(ctx context.Context) ([]string, error)
	PerDiemRates(ctx context.Context) ([]entity.PerDiemRate, error)
	ExpenseOptions(ctx context.Context) ([]string, error)
	ResolveRates(ctx context.Context, name string, fallback decimal.Decimal) (perdiem.Rates, error)
	// ClearCache drops the shared reference entries and the caller's user entry
	ClearCache(ctx context.Context, userID string)
}

type referenceServiceImpl struct {
	directory port.DirectoryRepository
	cache     port.Cache
	logger    Logger
}

// NewReferenceService creates a new ReferenceService
func NewReferenceService(directory port.DirectoryRepository, cache port.Cache, logger Logger) ReferenceService {
	return &referenceServiceImpl{
		directory: directory,
		cache:     cache,
		logger:    logger,
	}
}

// UserInfo returns the caller's directory record
func (s *referenceServiceImpl) UserInfo(ctx context.Context, userID string) (*entity.User, error) {
	id := entity.NormalizeID(userID)
	if id == "" {
		return nil, apperr.Validation("user id is required")
	}

	key := cacheKeyUserPrefix + id
	if v, ok := s.cache.Get(key); ok {
		if u, ok := v.(*entity.User); ok {
			return u, nil
		}
	}

	user, err := s.directory.GetUser(ctx, id)
	if err != nil {
		s.logger.Error("Failed to load user", "user_id", id, "error", err)
		return nil, apperr.Dependency(err, "failed to load user")
	}
	if user == nil {
		return nil, apperr.NotFound("user %s is not registered", id)
	}

	s.cache.Set(key, user)
	return user, nil
}

func (s *referenceServiceImpl) Departments(ctx context.Context) ([]string, error) {
	return cached(s, cacheKeyDepartments, func() ([]string, error) {
		return s.directory.ListDepartments(ctx)
	})
}

func (s *referenceServiceImpl) PerDiemRates(ctx context.Context) ([]entity.PerDiemRate, error) {
	return cached(s, cacheKeyRates, func() ([]entity.PerDiemRate, error) {
		return s.directory.ListPerDiemRates(ctx)
	})
}

func (s *referenceServiceImpl) ExpenseOptions(ctx context.Context) ([]string, error) {
	return cached(s, cacheKeyOptions, func() ([]string, error) {
		return s.directory.ListExpenseOptions(ctx)
	})
}

// ResolveRates looks the rate pair up by name, falling back to a flat rate
func (s *referenceServiceImpl) ResolveRates(ctx context.Context, name string, fallback decimal.Decimal) (perdiem.Rates, error) {
	table, err := s.PerDiemRates(ctx)
	if err != nil {
		return perdiem.Rates{}, err
	}
	return perdiem.ResolveRates(table, strings.TrimSpace(name), fallback), nil
}

func (s *referenceServiceImpl) ClearCache(ctx context.Context, userID string) {
	keys := []string{cacheKeyDepartments, cacheKeyRates, cacheKeyOptions}
	if id := entity.NormalizeID(userID); id != "" {
		keys = append(keys, cacheKeyUserPrefix+id)
	}
	s.cache.Delete(keys...)
	s.logger.Info("Reference cache cleared", "user_id", userID)
}

func cached[T any](s *referenceServiceImpl, key string, load func() (T, error)) (T, error) {
	if v, ok := s.cache.Get(key); ok {
		if typed, ok := v.(T); ok {
			return typed, nil
		}
	}

	v, err := load()
	if err != nil {
		s.logger.Error("Failed to load reference data", "key", key, "error", err)
		var zero T
		return zero, apperr.Dependency(err, "failed to load reference data")
	}

	s.cache.Set(key, v)
	return v, nil
}
