package repository

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/Clark-Hu/hidden-spots/internal/domain"
	"github.com/Clark-Hu/hidden-spots/internal/logging"
	"github.com/Clark-Hu/hidden-spots/internal/store"
	"github.com/Clark-Hu/hidden-spots/internal/validation"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("repository: not found")

// ErrConflict indicates the spot document changed between load and write.
var ErrConflict = errors.New("repository: concurrent modification")

// DefaultMaxAttempts bounds conflict retries for a single mutation. With more
// concurrent writers on one spot than attempts, some writes can still exhaust the
// budget and fail with a PersistenceError wrapping ErrConflict.
const DefaultMaxAttempts = 3

const retryBaseDelay = 2 * time.Millisecond

// PersistenceError wraps storage failures and exhausted conflict retries.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("repository: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Options tunes repository behaviour.
type Options struct {
	MaxAttempts int
	Logger      *zap.Logger
}

// Repository aggregates all domain-specific repositories.
type Repository struct {
	Spots   *SpotsRepository
	Ratings *RatingsRepository
}

// New constructs a Repository backed by the provided Postgres store.
func New(st *store.Store, opts Options) *Repository {
	return NewWithPool(st.Pool(), opts)
}

// NewWithPool allows constructing repositories directly from a pgx pool.
func NewWithPool(pool *pgxpool.Pool, opts Options) *Repository {
	return newRepository(&postgresBackend{pool: pool}, opts)
}

// NewMongo constructs a Repository storing one document per spot in coll.
func NewMongo(coll *mongo.Collection, opts Options) *Repository {
	return newRepository(&mongoBackend{collection: coll}, opts)
}

// NewMemory constructs a Repository kept entirely in process memory.
func NewMemory(opts Options) *Repository {
	return newRepository(newMemoryBackend(), opts)
}

// backend persists whole spot documents. replace must only succeed when the stored
// version equals expectedVersion, returning ErrConflict otherwise and ErrNotFound
// when the document is gone.
type backend interface {
	insert(ctx context.Context, doc spotDocument) error
	load(ctx context.Context, id string) (spotDocument, error)
	replace(ctx context.Context, doc spotDocument, expectedVersion int64) error
	list(ctx context.Context, q listQuery) ([]spotDocument, error)
	within(ctx context.Context, box domain.BoundingBox) ([]spotDocument, error)
}

type listQuery struct {
	Type   *string
	Query  *string
	Cursor *SpotCursor
	Limit  int
}

func newRepository(b backend, opts Options) *Repository {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	docs := &documentStore{
		backend:     b,
		maxAttempts: opts.MaxAttempts,
		logger:      logging.OrNop(opts.Logger),
		validator:   validation.New(),
		now:         func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
		newID:       uuid.NewString,
		backoff:     jitteredBackoff,
	}
	return &Repository{
		Spots:   &SpotsRepository{docs: docs},
		Ratings: &RatingsRepository{docs: docs},
	}
}

// documentStore is shared by the typed repositories and owns the optimistic write loop.
type documentStore struct {
	backend     backend
	maxAttempts int
	logger      *zap.Logger
	validator   *validation.Validator
	now         func() time.Time
	newID       func() string
	backoff     func(attempt int) time.Duration
}

func (d *documentStore) get(ctx context.Context, op, id string) (domain.Spot, error) {
	doc, err := d.backend.load(ctx, id)
	if err != nil {
		return domain.Spot{}, d.wrap(op, err)
	}
	return doc.toDomain(), nil
}

// mutate loads the spot, applies fn to a private copy and writes it back only if nobody
// else wrote in between. On conflict the whole cycle is retried from a fresh load.
func (d *documentStore) mutate(ctx context.Context, op, id string, fn func(*domain.Spot) error) (domain.Spot, error) {
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		doc, err := d.backend.load(ctx, id)
		if err != nil {
			return domain.Spot{}, d.wrap(op, err)
		}

		spot := doc.toDomain()
		expected := spot.Version
		if err := fn(&spot); err != nil {
			return domain.Spot{}, err
		}
		spot.Version = expected + 1
		spot.UpdatedAt = d.now()

		err = d.backend.replace(ctx, newSpotDocument(spot), expected)
		if err == nil {
			return spot, nil
		}
		if !errors.Is(err, ErrConflict) {
			return domain.Spot{}, d.wrap(op, err)
		}
		d.logger.Debug("repository: write conflict, retrying",
			zap.String("op", op),
			zap.String("spot_id", id),
			zap.Int("attempt", attempt),
		)
		if attempt < d.maxAttempts {
			if err := sleepContext(ctx, d.backoff(attempt)); err != nil {
				return domain.Spot{}, d.wrap(op, err)
			}
		}
	}

	d.logger.Warn("repository: conflict retries exhausted",
		zap.String("op", op),
		zap.String("spot_id", id),
		zap.Int("attempts", d.maxAttempts),
	)
	return domain.Spot{}, &PersistenceError{Op: op, Err: ErrConflict}
}

// jitteredBackoff doubles retryBaseDelay per attempt and adds up to the same again at random.
func jitteredBackoff(attempt int) time.Duration {
	if attempt > 6 {
		attempt = 6
	}
	delay := retryBaseDelay << (attempt - 1)
	return delay + rand.N(delay+1)
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (d *documentStore) wrap(op string, err error) error {
	var verr *domain.ValidationError
	switch {
	case errors.Is(err, ErrNotFound):
		return ErrNotFound
	case errors.As(err, &verr):
		return err
	default:
		return &PersistenceError{Op: op, Err: err}
	}
}
