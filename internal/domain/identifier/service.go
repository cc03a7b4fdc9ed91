package identifier

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/seattleflu/id3c-sub000/internal/platform/db"
	"github.com/seattleflu/id3c-sub000/internal/platform/metrics"
)

// DefaultMaxConsecutiveFailures bounds the barcode candidates rejected in a
// row for a single identifier before a mint gives up.
const DefaultMaxConsecutiveFailures = 3

type Service struct {
	repo        Repository
	logger      zerolog.Logger
	metrics     *metrics.IdentifierMetrics
	cache       *cache.Cache
	maxFailures int

	newUUID func() uuid.UUID
	now     func() time.Time
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{
		repo:        repo,
		logger:      logger.With().Str("component", "identifier").Logger(),
		maxFailures: DefaultMaxConsecutiveFailures,
		newUUID:     uuid.New,
		now:         time.Now,
	}
}

// SetMetrics attaches optional Prometheus collectors.
func (s *Service) SetMetrics(m *metrics.IdentifierMetrics) {
	s.metrics = m
}

// SetCache enables caching of successful lookups for ttl. Barcodes never
// change once minted.
func (s *Service) SetCache(ttl time.Duration) {
	if ttl <= 0 {
		s.cache = nil
		return
	}
	s.cache = cache.New(ttl, 2*ttl)
}

// SetMaxConsecutiveFailures overrides DefaultMaxConsecutiveFailures.
func (s *Service) SetMaxConsecutiveFailures(n int) {
	if n > 0 {
		s.maxFailures = n
	}
}

// -- Sets --

func (s *Service) GetSet(ctx context.Context, name string) (*Set, error) {
	set, err := s.repo.GetSet(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return nil, &SetNotFoundError{Name: name}
	}
	return set, err
}

func (s *Service) ListSets(ctx context.Context) ([]*Set, error) {
	return s.repo.ListSets(ctx)
}

func (s *Service) CreateSet(ctx context.Context, set *Set) error {
	if err := validateSet(set); err != nil {
		return err
	}
	return s.repo.CreateSet(ctx, set)
}

// MakeSet creates the named set or brings its use and description up to
// date. It reports whether anything was written.
func (s *Service) MakeSet(ctx context.Context, set *Set) (bool, error) {
	if err := validateSet(set); err != nil {
		return false, err
	}
	changed, err := s.repo.MakeSet(ctx, set)
	if err != nil {
		return false, err
	}
	if changed {
		s.logger.Info().Str("set", set.Name).Int("identifier_set_id", set.ID).Msg("identifier set created or updated")
	}
	return changed, nil
}

func validateSet(set *Set) error {
	set.Name = strings.TrimSpace(set.Name)
	if set.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSet)
	}
	if set.Use == "" {
		return fmt.Errorf("%w: use is required", ErrInvalidSet)
	}
	return nil
}

func (s *Service) ListSetUses(ctx context.Context) ([]*SetUse, error) {
	return s.repo.ListSetUses(ctx)
}

func (s *Service) CreateSetUse(ctx context.Context, use *SetUse) error {
	if strings.TrimSpace(use.Use) == "" {
		return fmt.Errorf("%w: use is required", ErrInvalidSet)
	}
	return s.repo.CreateSetUse(ctx, use)
}

// -- Minting --

// Mint generates n identifiers in the named set. It must run inside a
// session: each candidate is inserted under its own savepoint, and a
// candidate rejected by the uniqueness or distance constraint is rolled
// back and replaced. All identifiers of one call share a generated time.
func (s *Service) Mint(ctx context.Context, setName string, n int) ([]*Identifier, error) {
	if n < 1 {
		return nil, ErrInvalidCount
	}
	tx, err := db.RequireTx(ctx)
	if err != nil {
		return nil, err
	}
	set, err := s.GetSet(ctx, setName)
	if err != nil {
		return nil, err
	}

	generated := s.now().UTC().Truncate(time.Microsecond)
	started := time.Now()
	minted := make([]*Identifier, 0, n)
	failures := make([]int, 0, n)
	retries := 0

	for i := 0; i < n; i++ {
		consecutive := 0
		for {
			id := &Identifier{
				UUID:      s.newUUID(),
				SetID:     set.ID,
				SetName:   set.Name,
				SetUse:    set.Use,
				Generated: generated,
			}
			id.Barcode = BarcodeFromUUID(id.UUID)

			err := db.WithSavepoint(ctx, tx, "identifier "+strconv.Itoa(i), func(ctx context.Context) error {
				return s.repo.Insert(ctx, id)
			})
			if err == nil {
				minted = append(minted, id)
				break
			}
			if !db.IsConstraintViolation(err) {
				s.metrics.RecordMint(set.Name, len(minted), retries, time.Since(started), true)
				return nil, fmt.Errorf("insert identifier: %w", err)
			}

			consecutive++
			retries++
			s.logger.Debug().Str("barcode", id.Barcode).Int("failures", consecutive).Msg("barcode rejected, retrying")

			if consecutive >= s.maxFailures {
				s.metrics.RecordMint(set.Name, len(minted), retries, time.Since(started), true)
				return nil, &TooManyFailuresError{Count: consecutive}
			}
		}
		failures = append(failures, consecutive)
	}

	elapsed := time.Since(started)
	s.metrics.RecordMint(set.Name, len(minted), retries, elapsed, false)
	s.logMintStats(set.Name, summarizeMint(failures, elapsed))
	return minted, nil
}

// MintStats summarizes the retries of one mint.
type MintStats struct {
	Minted         int
	Tries          int
	Retries        int
	Elapsed        time.Duration
	MaxFailures    int
	ModeFailures   int
	MedianFailures float64
}

func summarizeMint(failures []int, elapsed time.Duration) MintStats {
	st := MintStats{Minted: len(failures), Elapsed: elapsed}
	if len(failures) == 0 {
		return st
	}

	counts := make(map[int]int)
	modeCount := 0
	for _, f := range failures {
		st.Retries += f
		if f > st.MaxFailures {
			st.MaxFailures = f
		}
		counts[f]++
		// First value to reach the highest count wins ties.
		if counts[f] > modeCount {
			modeCount = counts[f]
			st.ModeFailures = f
		}
	}
	st.Tries = st.Minted + st.Retries

	sorted := append([]int(nil), failures...)
	sort.Ints(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		st.MedianFailures = float64(sorted[mid])
	} else {
		st.MedianFailures = float64(sorted[mid-1]+sorted[mid]) / 2
	}
	return st
}

func (s *Service) logMintStats(set string, st MintStats) {
	secs := st.Elapsed.Seconds()
	perIdentifier, perSecond := 0.0, 0.0
	if st.Minted > 0 {
		perIdentifier = secs / float64(st.Minted)
	}
	if secs > 0 {
		perSecond = float64(st.Minted) / secs
	}

	s.logger.Info().
		Str("set", set).
		Msgf("Minted %d identifiers in %d tries (%d retries) over %s (%.2f s/identifier, %.2f identifiers/s)",
			st.Minted, st.Tries, st.Retries, st.Elapsed.Round(time.Millisecond), perIdentifier, perSecond)
	s.logger.Info().
		Str("set", set).
		Msgf("Failure distribution: max=%d mode=%d median=%.1f", st.MaxFailures, st.ModeFailures, st.MedianFailures)
}

// -- Lookup --

// Lookup resolves a UUID or barcode to its identifier.
func (s *Service) Lookup(ctx context.Context, key string) (*Identifier, error) {
	key = NormalizeBarcode(key)
	if key == "" {
		return nil, ErrNotFound
	}

	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			s.metrics.RecordLookup("hit")
			return v.(*Identifier), nil
		}
	}

	var (
		id  *Identifier
		err error
	)
	if u, perr := uuid.Parse(key); perr == nil {
		id, err = s.repo.GetByUUID(ctx, u)
	} else if ValidBarcode(key) {
		id, err = s.repo.GetByBarcode(ctx, key)
	} else {
		err = ErrNotFound
	}
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.metrics.RecordLookup("not_found")
		}
		return nil, err
	}

	s.metrics.RecordLookup("miss")
	if s.cache != nil {
		s.cache.SetDefault(id.UUID.String(), id)
		s.cache.SetDefault(id.Barcode, id)
	}
	return id, nil
}

// -- Batches --

// ListBatches groups identifiers by set and mint time. An empty setName
// lists every set.
func (s *Service) ListBatches(ctx context.Context, setName string) ([]*Batch, error) {
	if setName != "" {
		if _, err := s.GetSet(ctx, setName); err != nil {
			return nil, err
		}
	}
	return s.repo.ListBatches(ctx, setName)
}

// ListBatch returns the identifiers minted into setName at generated.
func (s *Service) ListBatch(ctx context.Context, setName string, generated time.Time) ([]*Identifier, error) {
	return s.repo.ListBatch(ctx, setName, generated)
}
