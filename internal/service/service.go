package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"salesdesk/backend/internal/cache"
	"salesdesk/backend/internal/domain"
	"salesdesk/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	Logger              *zap.Logger
	Cache               cache.ReportCache
	CacheTTL            time.Duration
	Location            *time.Location
	SequenceMaxAttempts int
	SequenceBackoff     time.Duration
	// Now overrides the clock in tests.
	Now func() time.Time
}

type Service struct {
	repo          store.Repository
	cache         cache.ReportCache
	cacheTTL      time.Duration
	loc           *time.Location
	allocAttempts int
	allocBackoff  time.Duration
	logger        *zap.Logger
	audit         *zap.Logger
	now           func() time.Time
}

func New(repo store.Repository, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Cache == nil {
		opts.Cache = cache.NoopReportCache{}
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Second
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.SequenceMaxAttempts < 1 {
		opts.SequenceMaxAttempts = 3
	}
	if opts.SequenceBackoff <= 0 {
		opts.SequenceBackoff = 50 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Service{
		repo:          repo,
		cache:         opts.Cache,
		cacheTTL:      opts.CacheTTL,
		loc:           opts.Location,
		allocAttempts: opts.SequenceMaxAttempts,
		allocBackoff:  opts.SequenceBackoff,
		logger:        opts.Logger.Named("service"),
		audit:         opts.Logger.Named("audit"),
		now:           func() time.Time { return opts.Now().UTC() },
	}
}

// Location is the zone used for day and month bucketing.
func (s *Service) Location() *time.Location {
	return s.loc
}

func requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.UserID == "" {
		return domain.Actor{}, domain.Forbidden("authenticated user required")
	}
	return actor, nil
}

func requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	if !actor.IsAdmin() {
		return domain.Actor{}, domain.Forbidden("admin role required")
	}
	return actor, nil
}

// lookupErr turns a store error from a single-entity read or write into the
// domain taxonomy.
func lookupErr(err error, op string, entity string, id string) error {
	var de *domain.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, store.ErrNotFound):
		return domain.NotFound(entity, id)
	case errors.Is(err, store.ErrDuplicate):
		return domain.Conflict("%s already exists", entity)
	default:
		return domain.Storage(op, err)
	}
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, fields ...zap.Field) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{UserID: "system", Role: "system"}
	}
	s.audit.Info(action, append([]zap.Field{
		zap.String("entity_type", entityType),
		zap.String("entity_id", entityID),
		zap.String("actor_id", actor.UserID),
		zap.String("actor_role", actor.Role),
	}, fields...)...)
}

func defaultString(value string, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	return value
}
