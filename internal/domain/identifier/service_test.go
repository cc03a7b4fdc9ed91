package identifier

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seattleflu/id3c-sub000/internal/platform/db"
)

// -- Fakes --

// fakeTx satisfies db.Tx for code that only needs savepoints. The embedded
// Querier is nil; the mock repository never issues statements.
type fakeTx struct {
	db.Querier
	savepoints []string
	rollbacks  []string
	releases   []string
}

func (f *fakeTx) Savepoint(_ context.Context, name string) error {
	f.savepoints = append(f.savepoints, name)
	return nil
}

func (f *fakeTx) Release(_ context.Context, name string) error {
	f.releases = append(f.releases, name)
	return nil
}

func (f *fakeTx) RollbackTo(_ context.Context, name string) error {
	f.rollbacks = append(f.rollbacks, name)
	return nil
}

type mockRepo struct {
	uses        map[string]*SetUse
	sets        map[string]*Set
	identifiers map[uuid.UUID]*Identifier
	nextSetID   int

	// rejectNext makes the next n inserts fail with rejectErr.
	rejectNext  int
	rejectErr   error
	insertCalls int
	lookups     int
}

func newMockRepo() *mockRepo {
	m := &mockRepo{
		uses:        map[string]*SetUse{"sample": {Use: "sample", Description: "Samples"}},
		sets:        make(map[string]*Set),
		identifiers: make(map[uuid.UUID]*Identifier),
		rejectErr:   &pgconn.PgError{Code: db.CodeExclusionViolation},
	}
	_ = m.CreateSet(context.Background(), &Set{Name: "samples", Use: "sample"})
	return m
}

func (m *mockRepo) ListSetUses(context.Context) ([]*SetUse, error) {
	var out []*SetUse
	for _, u := range m.uses {
		out = append(out, u)
	}
	return out, nil
}

func (m *mockRepo) CreateSetUse(_ context.Context, use *SetUse) error {
	if _, ok := m.uses[use.Use]; ok {
		return ErrSetUseExists
	}
	m.uses[use.Use] = use
	return nil
}

func (m *mockRepo) GetSet(_ context.Context, name string) (*Set, error) {
	s, ok := m.sets[name]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

func (m *mockRepo) ListSets(context.Context) ([]*Set, error) {
	var out []*Set
	for _, s := range m.sets {
		out = append(out, s)
	}
	return out, nil
}

func (m *mockRepo) CreateSet(_ context.Context, set *Set) error {
	if _, ok := m.sets[set.Name]; ok {
		return ErrSetExists
	}
	if _, ok := m.uses[set.Use]; !ok {
		return ErrUnknownUse
	}
	m.nextSetID++
	set.ID = m.nextSetID
	m.sets[set.Name] = set
	return nil
}

func (m *mockRepo) MakeSet(ctx context.Context, set *Set) (bool, error) {
	current, ok := m.sets[set.Name]
	if !ok {
		return true, m.CreateSet(ctx, set)
	}
	set.ID = current.ID
	if current.Use == set.Use && equalStringPtr(current.Description, set.Description) {
		return false, nil
	}
	m.sets[set.Name] = set
	return true, nil
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (m *mockRepo) Insert(_ context.Context, id *Identifier) error {
	m.insertCalls++
	if m.rejectNext > 0 {
		m.rejectNext--
		return m.rejectErr
	}
	for _, existing := range m.identifiers {
		if existing.Barcode == id.Barcode {
			return &pgconn.PgError{Code: db.CodeUniqueViolation}
		}
	}
	m.identifiers[id.UUID] = id
	return nil
}

func (m *mockRepo) GetByUUID(_ context.Context, id uuid.UUID) (*Identifier, error) {
	m.lookups++
	if i, ok := m.identifiers[id]; ok {
		return i, nil
	}
	return nil, ErrNotFound
}

func (m *mockRepo) GetByBarcode(_ context.Context, barcode string) (*Identifier, error) {
	m.lookups++
	for _, i := range m.identifiers {
		if i.Barcode == barcode {
			return i, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) ListBatches(_ context.Context, setName string) ([]*Batch, error) {
	groups := make(map[string]*Batch)
	for _, i := range m.identifiers {
		if setName != "" && i.SetName != setName {
			continue
		}
		key := i.SetName + i.Generated.String()
		if groups[key] == nil {
			groups[key] = &Batch{SetName: i.SetName, Generated: i.Generated}
		}
		groups[key].Count++
	}
	var out []*Batch
	for _, b := range groups {
		out = append(out, b)
	}
	return out, nil
}

func (m *mockRepo) ListBatch(_ context.Context, setName string, generated time.Time) ([]*Identifier, error) {
	var out []*Identifier
	for _, i := range m.identifiers {
		if i.SetName == setName && i.Generated.Equal(generated) {
			out = append(out, i)
		}
	}
	return out, nil
}

func txContext() (context.Context, *fakeTx) {
	tx := &fakeTx{}
	return db.ContextWithTx(context.Background(), tx), tx
}

// -- Mint --

func TestMint_FiveDistinctIdentifiers(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, zerolog.Nop())
	ctx, _ := txContext()

	minted, err := svc.Mint(ctx, "samples", 5)
	require.NoError(t, err)
	require.Len(t, minted, 5)

	uuids := make(map[uuid.UUID]bool)
	barcodes := make(map[string]bool)
	for _, id := range minted {
		assert.Equal(t, "samples", id.SetName)
		assert.Equal(t, "sample", id.SetUse)
		assert.Equal(t, BarcodeFromUUID(id.UUID), id.Barcode)
		assert.True(t, ValidBarcode(id.Barcode))
		assert.Equal(t, minted[0].Generated, id.Generated)
		uuids[id.UUID] = true
		barcodes[id.Barcode] = true
	}
	assert.Len(t, uuids, 5)
	assert.Len(t, barcodes, 5)

	for _, id := range minted {
		found, err := svc.Lookup(context.Background(), id.Barcode)
		require.NoError(t, err)
		assert.Equal(t, id.UUID, found.UUID)
	}
}

func TestMint_RetriesBelowBudget(t *testing.T) {
	repo := newMockRepo()
	repo.rejectNext = DefaultMaxConsecutiveFailures - 1
	svc := NewService(repo, zerolog.Nop())
	ctx, tx := txContext()

	minted, err := svc.Mint(ctx, "samples", 1)
	require.NoError(t, err)
	require.Len(t, minted, 1)

	assert.Equal(t, DefaultMaxConsecutiveFailures, repo.insertCalls)
	assert.Len(t, tx.rollbacks, DefaultMaxConsecutiveFailures-1)
	assert.Equal(t, []string{"identifier 0"}, tx.releases)
}

func TestMint_FailsAtBudget(t *testing.T) {
	repo := newMockRepo()
	repo.rejectNext = DefaultMaxConsecutiveFailures
	svc := NewService(repo, zerolog.Nop())
	ctx, tx := txContext()

	minted, err := svc.Mint(ctx, "samples", 2)
	assert.Nil(t, minted)

	var tooMany *TooManyFailuresError
	require.ErrorAs(t, err, &tooMany)
	assert.Equal(t, DefaultMaxConsecutiveFailures, tooMany.Count)
	assert.Contains(t, err.Error(), "Too many consecutive failures (3)")
	assert.Len(t, tx.rollbacks, DefaultMaxConsecutiveFailures)
	assert.Empty(t, repo.identifiers)
}

func TestMint_ConfiguredBudget(t *testing.T) {
	repo := newMockRepo()
	repo.rejectNext = 10
	svc := NewService(repo, zerolog.Nop())
	svc.SetMaxConsecutiveFailures(11)
	ctx, _ := txContext()

	minted, err := svc.Mint(ctx, "samples", 1)
	require.NoError(t, err)
	assert.Len(t, minted, 1)
	assert.Equal(t, 11, repo.insertCalls)
}

func TestMint_FailureCountResetsPerIdentifier(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, zerolog.Nop())
	ctx, _ := txContext()

	// Two rejections per identifier never reaches the budget of three.
	calls := 0
	uuids := []uuid.UUID{}
	for i := 0; i < 9; i++ {
		uuids = append(uuids, uuid.New())
	}
	svc.newUUID = func() uuid.UUID {
		u := uuids[calls]
		calls++
		return u
	}
	rejecting := &rejectingRepo{mockRepo: repo, pattern: []bool{true, true, false, true, true, false, true, true, false}}
	svc.repo = rejecting

	minted, err := svc.Mint(ctx, "samples", 3)
	require.NoError(t, err)
	assert.Len(t, minted, 3)
	assert.Equal(t, 9, calls)
}

type rejectingRepo struct {
	*mockRepo
	pattern []bool
	n       int
}

func (r *rejectingRepo) Insert(ctx context.Context, id *Identifier) error {
	reject := r.pattern[r.n]
	r.n++
	if reject {
		return &pgconn.PgError{Code: db.CodeUniqueViolation}
	}
	return r.mockRepo.Insert(ctx, id)
}

func TestMint_CustomBudget(t *testing.T) {
	repo := newMockRepo()
	repo.rejectNext = 4
	svc := NewService(repo, zerolog.Nop())
	svc.SetMaxConsecutiveFailures(5)
	ctx, _ := txContext()

	minted, err := svc.Mint(ctx, "samples", 1)
	require.NoError(t, err)
	assert.Len(t, minted, 1)
}

func TestMint_OtherErrorsAbort(t *testing.T) {
	repo := newMockRepo()
	repo.rejectNext = 1
	repo.rejectErr = errors.New("connection reset")
	svc := NewService(repo, zerolog.Nop())
	ctx, _ := txContext()

	_, err := svc.Mint(ctx, "samples", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, 1, repo.insertCalls)
}

func TestMint_UnknownSet(t *testing.T) {
	svc := NewService(newMockRepo(), zerolog.Nop())
	ctx, _ := txContext()

	_, err := svc.Mint(ctx, "kits", 1)
	var notFound *SetNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "kits", notFound.Name)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMint_RequiresSession(t *testing.T) {
	svc := NewService(newMockRepo(), zerolog.Nop())
	_, err := svc.Mint(context.Background(), "samples", 1)
	assert.ErrorIs(t, err, db.ErrNoTx)
}

func TestMint_InvalidCount(t *testing.T) {
	svc := NewService(newMockRepo(), zerolog.Nop())
	ctx, _ := txContext()
	_, err := svc.Mint(ctx, "samples", 0)
	assert.ErrorIs(t, err, ErrInvalidCount)
}

func TestSummarizeMint(t *testing.T) {
	st := summarizeMint([]int{0, 1, 0, 2}, 2*time.Second)
	assert.Equal(t, 4, st.Minted)
	assert.Equal(t, 3, st.Retries)
	assert.Equal(t, 7, st.Tries)
	assert.Equal(t, 2, st.MaxFailures)
	assert.Equal(t, 0, st.ModeFailures)
	assert.Equal(t, 0.5, st.MedianFailures)

	st = summarizeMint([]int{2, 1, 1}, time.Second)
	assert.Equal(t, 1, st.ModeFailures)
	assert.Equal(t, 1.0, st.MedianFailures)

	assert.Equal(t, MintStats{}, summarizeMint(nil, 0))
}

// -- Lookup --

func TestLookup_ByBarcodeAndUUID(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, zerolog.Nop())
	ctx, _ := txContext()
	minted, err := svc.Mint(ctx, "samples", 1)
	require.NoError(t, err)
	want := minted[0]

	byBarcode, err := svc.Lookup(context.Background(), "  "+strings.ToUpper(want.Barcode)+"\n")
	require.NoError(t, err)
	assert.Equal(t, want.UUID, byBarcode.UUID)

	byUUID, err := svc.Lookup(context.Background(), want.UUID.String())
	require.NoError(t, err)
	assert.Equal(t, want.Barcode, byUUID.Barcode)
}

func TestLookup_NotFound(t *testing.T) {
	svc := NewService(newMockRepo(), zerolog.Nop())
	for _, key := range []string{"", "deadbeef", uuid.NewString(), "not-a-barcode"} {
		_, err := svc.Lookup(context.Background(), key)
		assert.ErrorIs(t, err, ErrNotFound, key)
	}
}

func TestLookup_Cache(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, zerolog.Nop())
	svc.SetCache(time.Minute)
	ctx, _ := txContext()
	minted, err := svc.Mint(ctx, "samples", 1)
	require.NoError(t, err)

	_, err = svc.Lookup(context.Background(), minted[0].Barcode)
	require.NoError(t, err)
	_, err = svc.Lookup(context.Background(), minted[0].UUID.String())
	require.NoError(t, err)
	assert.Equal(t, 1, repo.lookups)
}

// -- Sets --

func TestMakeSet_Idempotent(t *testing.T) {
	svc := NewService(newMockRepo(), zerolog.Nop())
	desc := "Swab kits"

	changed, err := svc.MakeSet(context.Background(), &Set{Name: "swabs", Use: "sample", Description: &desc})
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = svc.MakeSet(context.Background(), &Set{Name: "swabs", Use: "sample", Description: &desc})
	require.NoError(t, err)
	assert.False(t, changed)

	other := "Nasal swab kits"
	changed, err = svc.MakeSet(context.Background(), &Set{Name: "swabs", Use: "sample", Description: &other})
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestCreateSet_Validation(t *testing.T) {
	svc := NewService(newMockRepo(), zerolog.Nop())
	assert.ErrorIs(t, svc.CreateSet(context.Background(), &Set{Name: " ", Use: "sample"}), ErrInvalidSet)
	assert.ErrorIs(t, svc.CreateSet(context.Background(), &Set{Name: "x"}), ErrInvalidSet)
	assert.ErrorIs(t, svc.CreateSet(context.Background(), &Set{Name: "x", Use: "nope"}), ErrUnknownUse)
	assert.ErrorIs(t, svc.CreateSet(context.Background(), &Set{Name: "samples", Use: "sample"}), ErrSetExists)
}

func TestListBatches(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, zerolog.Nop())
	ctx, _ := txContext()

	first := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	svc.now = func() time.Time { return first }
	_, err := svc.Mint(ctx, "samples", 2)
	require.NoError(t, err)
	svc.now = func() time.Time { return first.Add(time.Hour) }
	_, err = svc.Mint(ctx, "samples", 3)
	require.NoError(t, err)

	batches, err := svc.ListBatches(context.Background(), "samples")
	require.NoError(t, err)
	assert.Len(t, batches, 2)

	batch, err := svc.ListBatch(context.Background(), "samples", first)
	require.NoError(t, err)
	assert.Len(t, batch, 2)

	_, err = svc.ListBatches(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
