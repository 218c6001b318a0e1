package provisional

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/c360studio/semvocab/storage"
	"github.com/c360studio/semvocab/vocab"
	"github.com/c360studio/semvocab/vocabulary"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	unitRoot      = vocabulary.NamespaceOBO + "UO_0000000"
	concentration = vocabulary.NamespaceOBO + "UO_0000051"
	micromolar    = vocabulary.NamespaceOBO + "UO_0000064"
)

var (
	unitsKey  = vocab.NewTreeKey("bas:", "bao:BAO_0002874", []string{"bat:Measurement"})
	unitsKey2 = vocab.NewTreeKey("bas:", "bao:BAO_0002874", []string{"bat:Control"})
	curator   = Actor{ID: "curator"}
	admin     = Actor{ID: "admin", Admin: true}
)

func baseSnapshot(t *testing.T) *vocab.Snapshot {
	t.Helper()
	b := vocab.NewBuilder()
	for _, key := range []vocab.TreeKey{unitsKey, unitsKey2} {
		tree := vocab.NewTree()
		tree.AddRoots(vocab.Node{URI: unitRoot, Label: "unit"})
		tree.AddNodes(unitRoot, []vocab.Node{{URI: concentration, Label: "concentration unit"}})
		tree.AddNodes(concentration, []vocab.Node{{URI: micromolar, Label: "micromolar"}})
		b.SetTree(key, tree)
	}
	b.IndexTreeTerms()
	snap, err := b.Build()
	require.NoError(t, err)
	return snap
}

type fixture struct {
	publisher *vocab.Publisher
	backend   storage.Backend
	registry  *Registry
	usage     *fakeUsage
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		publisher: vocab.NewPublisher(baseSnapshot(t), nil),
		backend:   storage.NewMemory(),
		usage:     &fakeUsage{used: map[string]bool{}, held: map[string]bool{}},
	}
	f.registry = f.open(t)
	return f
}

func (f *fixture) open(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(context.Background(), Config{
		Publisher: f.publisher,
		Store:     NewStore(f.backend),
		Usage:     f.usage,
		Now:       func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return r
}

func (f *fixture) add(t *testing.T, actor Actor, parent, label string) Created {
	t.Helper()
	c, err := f.registry.Add(context.Background(), actor, Request{ParentURI: parent, Label: label})
	require.NoError(t, err)
	return c
}

type fakeUsage struct {
	mu   sync.Mutex
	used map[string]bool
	held map[string]bool
	err  error
}

func (u *fakeUsage) TermUsed(_ context.Context, uri string) (bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.used[uri], u.err
}

func (u *fakeUsage) InHoldingBay(_ context.Context, uri string) (bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.held[uri], nil
}

func TestAddInsertsIntoEveryTree(t *testing.T) {
	f := newFixture(t)
	before := f.publisher.Current()

	c := f.add(t, curator, "obo:UO_0000051", "picomolar")
	assert.Equal(t, int64(1), c.ProvisionalID)
	assert.Equal(t, vocabulary.NamespaceProvisional+"prov_0000001", c.URI)

	snap := f.publisher.Current()
	for _, key := range []vocab.TreeKey{unitsKey, unitsKey2} {
		node, ok := snap.TreeByKey(key).Node(c.URI)
		require.True(t, ok)
		assert.True(t, node.Provisional)
		parent, _ := snap.TreeByKey(key).Parent(c.URI)
		assert.Equal(t, concentration, parent.URI)
	}
	term, ok := snap.Term(c.URI)
	require.True(t, ok)
	assert.Equal(t, "picomolar", term.Label)

	// Readers holding the old snapshot keep seeing the old trees.
	assert.False(t, before.TreeByKey(unitsKey).Contains(c.URI))

	stored, err := NewStore(f.backend).Get(context.Background(), c.ProvisionalID)
	require.NoError(t, err)
	assert.Equal(t, "curator", stored.Proposer)
	assert.Equal(t, RolePrivate, stored.Role)
}

func TestAddSequentialIDs(t *testing.T) {
	f := newFixture(t)
	a := f.add(t, curator, concentration, "picomolar")
	b := f.add(t, curator, concentration, "femtomolar")
	assert.Equal(t, a.ProvisionalID+1, b.ProvisionalID)
}

func TestAddRejectsDuplicates(t *testing.T) {
	f := newFixture(t)
	f.add(t, curator, concentration, "picomolar")

	tests := []struct {
		name  string
		label string
	}{
		{"provisional sibling", "PicoMolar"},
		{"base sibling", "Micromolar"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.registry.Add(context.Background(), curator, Request{ParentURI: concentration, Label: tt.label})
			assert.ErrorIs(t, err, ErrDuplicate)
		})
	}

	// The same label under another parent is fine.
	f.add(t, curator, unitRoot, "picomolar")
}

func TestAddValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.registry.Add(ctx, curator, Request{ParentURI: "obo:UO_9999999", Label: "orphan"})
	assert.ErrorIs(t, err, ErrUnknownParent)

	_, err = f.registry.Add(ctx, curator, Request{ParentURI: concentration})
	assert.Error(t, err)

	_, err = f.registry.Add(ctx, curator, Request{ParentURI: concentration, Label: "x", Role: "secret"})
	assert.Error(t, err)
	assert.Empty(t, f.registry.List())
}

type failingBackend struct {
	storage.Backend
}

func (failingBackend) Create(context.Context, string, []byte) error {
	return errors.New("disk full")
}

func TestAddPersistsBeforePublishing(t *testing.T) {
	publisher := vocab.NewPublisher(baseSnapshot(t), nil)
	before := publisher.Current()
	r, err := NewRegistry(context.Background(), Config{
		Publisher: publisher,
		Store:     NewStore(failingBackend{Backend: storage.NewMemory()}),
	})
	require.NoError(t, err)

	_, err = r.Add(context.Background(), curator, Request{ParentURI: concentration, Label: "picomolar"})
	require.Error(t, err)
	assert.Same(t, before, publisher.Current())
	assert.Empty(t, r.List())
}

func TestUpdateRelabels(t *testing.T) {
	f := newFixture(t)
	c := f.add(t, curator, concentration, "picomolr")
	before := f.publisher.Current()

	updated, err := f.registry.Update(context.Background(), curator, Term{
		ProvisionalID: c.ProvisionalID,
		Label:         "picomolar",
		Description:   "1e-12 mol/L",
		Role:          RolePublic,
	})
	require.NoError(t, err)
	assert.Equal(t, RolePublic, updated.Role)

	node, ok := f.publisher.Current().TreeByKey(unitsKey2).Node(c.URI)
	require.True(t, ok)
	assert.Equal(t, "picomolar", node.Label)
	assert.Equal(t, "1e-12 mol/L", node.Description)
	term, _ := f.publisher.Current().Term(c.URI)
	assert.Equal(t, "picomolar", term.Label)

	old, _ := before.TreeByKey(unitsKey2).Node(c.URI)
	assert.Equal(t, "picomolr", old.Label)
}

func TestUpdateGuards(t *testing.T) {
	f := newFixture(t)
	c := f.add(t, curator, concentration, "picomolar")
	f.add(t, curator, concentration, "femtomolar")
	ctx := context.Background()

	_, err := f.registry.Update(ctx, curator, Term{ProvisionalID: c.ProvisionalID, ParentURI: unitRoot, Label: "picomolar"})
	assert.ErrorIs(t, err, ErrImmutableField)

	_, err = f.registry.Update(ctx, curator, Term{ProvisionalID: c.ProvisionalID, URI: "prov:other", Label: "picomolar"})
	assert.ErrorIs(t, err, ErrImmutableField)

	_, err = f.registry.Update(ctx, Actor{ID: "someone else"}, Term{ProvisionalID: c.ProvisionalID, Label: "pM"})
	assert.ErrorIs(t, err, ErrPermission)

	_, err = f.registry.Update(ctx, curator, Term{ProvisionalID: c.ProvisionalID, Label: "Femtomolar"})
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = f.registry.Update(ctx, admin, Term{ProvisionalID: 99, Label: "x"})
	assert.ErrorIs(t, err, ErrNotFound)

	// Same URI given explicitly, abbreviated, is not a change.
	_, err = f.registry.Update(ctx, admin, Term{ProvisionalID: c.ProvisionalID, URI: "prov:prov_0000001", Label: "pM"})
	assert.NoError(t, err)
}

func TestDeleteGuardParentBeforeChild(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.add(t, curator, concentration, "P")
	c := f.add(t, curator, p.URI, "C")

	res, err := f.registry.Delete(ctx, curator, []int64{p.ProvisionalID})
	require.NoError(t, err)
	assert.Empty(t, res.Deleted)
	assert.Equal(t, []NotDeleted{{ID: p.ProvisionalID, Reason: ReasonNotLeaf}}, res.NotDeleted)

	res, err = f.registry.Delete(ctx, curator, []int64{c.ProvisionalID})
	require.NoError(t, err)
	assert.Equal(t, []int64{c.ProvisionalID}, res.Deleted)

	res, err = f.registry.Delete(ctx, curator, []int64{p.ProvisionalID})
	require.NoError(t, err)
	assert.Equal(t, []int64{p.ProvisionalID}, res.Deleted)

	snap := f.publisher.Current()
	assert.False(t, snap.TreeByKey(unitsKey).Contains(p.URI))
	_, ok := snap.Term(p.URI)
	assert.False(t, ok)
	assert.Empty(t, f.registry.List())
}

func TestDeleteBatchChildThenParent(t *testing.T) {
	f := newFixture(t)
	p := f.add(t, curator, concentration, "P")
	c := f.add(t, curator, p.URI, "C")

	res, err := f.registry.Delete(context.Background(), curator, []int64{c.ProvisionalID, p.ProvisionalID})
	require.NoError(t, err)
	assert.Equal(t, []int64{c.ProvisionalID, p.ProvisionalID}, res.Deleted)
	assert.Empty(t, res.NotDeleted)
}

func TestDeleteReasons(t *testing.T) {
	f := newFixture(t)
	used := f.add(t, curator, concentration, "used")
	held := f.add(t, curator, concentration, "held")
	others := f.add(t, Actor{ID: "other"}, concentration, "not mine")
	free := f.add(t, curator, concentration, "free")
	f.usage.used[used.URI] = true
	f.usage.held[held.URI] = true

	res, err := f.registry.Delete(context.Background(), curator, []int64{
		used.ProvisionalID, held.ProvisionalID, others.ProvisionalID, 42, free.ProvisionalID,
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{free.ProvisionalID}, res.Deleted)
	assert.Equal(t, []NotDeleted{
		{ID: used.ProvisionalID, Reason: ReasonTermUsed},
		{ID: held.ProvisionalID, Reason: ReasonInHoldingBay},
		{ID: others.ProvisionalID, Reason: ReasonNoPermission},
		{ID: 42, Reason: ReasonNotFound},
	}, res.NotDeleted)

	// Admins may delete anyone's term.
	res, err = f.registry.Delete(context.Background(), admin, []int64{others.ProvisionalID})
	require.NoError(t, err)
	assert.Equal(t, []int64{others.ProvisionalID}, res.Deleted)
}

func TestDeleteStopsOnUsageError(t *testing.T) {
	f := newFixture(t)
	a := f.add(t, curator, concentration, "a")
	b := f.add(t, curator, concentration, "b")

	f.usage.err = errors.New("annotation store offline")
	res, err := f.registry.Delete(context.Background(), curator, []int64{a.ProvisionalID, b.ProvisionalID})
	require.Error(t, err)
	assert.Empty(t, res.Deleted)
	assert.Len(t, f.registry.List(), 2)
}

func TestDeleteRemovesRemaps(t *testing.T) {
	f := newFixture(t)
	c, err := f.registry.Add(context.Background(), curator, Request{
		ParentURI:  concentration,
		Label:      "uM",
		RemappedTo: "obo:UO_0000064",
	})
	require.NoError(t, err)

	resolved, err := f.publisher.Current().Resolve(c.URI)
	require.NoError(t, err)
	assert.Equal(t, micromolar, resolved)

	_, err = f.registry.Delete(context.Background(), curator, []int64{c.ProvisionalID})
	require.NoError(t, err)
	assert.Empty(t, f.publisher.Current().Remaps())
}

func TestReloadOverlaysStoredTerms(t *testing.T) {
	f := newFixture(t)
	p := f.add(t, curator, concentration, "P")
	c := f.add(t, curator, p.URI, "C")

	// A second process starting from the same store and a fresh base.
	f.publisher = vocab.NewPublisher(vocab.Empty(), nil)
	reopened := f.open(t)
	require.Len(t, reopened.List(), 2)

	snap, err := reopened.Reload(baseSnapshot(t))
	require.NoError(t, err)
	assert.Same(t, snap, f.publisher.Current())
	tree := snap.TreeByKey(unitsKey)
	assert.True(t, tree.Contains(p.URI))
	parent, ok := tree.Parent(c.URI)
	require.True(t, ok)
	assert.Equal(t, p.URI, parent.URI)

	next, err := reopened.Add(context.Background(), curator, Request{ParentURI: concentration, Label: "Q"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), next.ProvisionalID)
}

func TestOverlaySkipsOrphans(t *testing.T) {
	f := newFixture(t)
	c := f.add(t, curator, concentration, "picomolar")

	b := vocab.NewBuilder()
	tree := vocab.NewTree()
	tree.AddRoots(vocab.Node{URI: unitRoot, Label: "unit"})
	b.SetTree(unitsKey, tree)
	base, err := b.Build()
	require.NoError(t, err)

	snap, err := f.registry.Overlay(base)
	require.NoError(t, err)
	assert.False(t, snap.TreeByKey(unitsKey).Contains(c.URI))
}

func TestConcurrentReadersSeeConsistentSnapshots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := f.publisher.Current()
				a := snap.TreeByKey(unitsKey).Len()
				b := snap.TreeByKey(unitsKey2).Len()
				assert.Equal(t, a, b)
			}
		}()
	}

	for i := 0; i < 20; i++ {
		_, err := f.registry.Add(ctx, curator, Request{ParentURI: concentration, Label: string(rune('a' + i))})
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()
}

// blockingUsage parks TermUsed until release is closed.
type blockingUsage struct {
	NoUsage
	entered chan struct{}
	release chan struct{}
}

func (u *blockingUsage) TermUsed(ctx context.Context, _ string) (bool, error) {
	close(u.entered)
	<-u.release
	return false, nil
}

func TestUpdateWaitingOnDeleteSeesTermGone(t *testing.T) {
	ctx := context.Background()
	publisher := vocab.NewPublisher(baseSnapshot(t), nil)
	backend := storage.NewMemory()
	usage := &blockingUsage{entered: make(chan struct{}), release: make(chan struct{})}
	r, err := NewRegistry(ctx, Config{Publisher: publisher, Store: NewStore(backend), Usage: usage})
	require.NoError(t, err)
	c, err := r.Add(ctx, curator, Request{ParentURI: concentration, Label: "picomolar"})
	require.NoError(t, err)

	deleteErr := make(chan error, 1)
	go func() {
		_, err := r.Delete(ctx, curator, []int64{c.ProvisionalID})
		deleteErr <- err
	}()
	<-usage.entered

	updateErr := make(chan error, 1)
	go func() {
		_, err := r.Update(ctx, curator, Term{ProvisionalID: c.ProvisionalID, Label: "pM"})
		updateErr <- err
	}()
	time.Sleep(20 * time.Millisecond)
	close(usage.release)

	require.NoError(t, <-deleteErr)
	assert.ErrorIs(t, <-updateErr, ErrNotFound)

	_, ok := r.Get(c.ProvisionalID)
	assert.False(t, ok)
	_, err = NewStore(backend).Get(ctx, c.ProvisionalID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, ok = publisher.Current().Term(c.URI)
	assert.False(t, ok)
}

func TestAddAfterDeleteDoesNotReuseID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, curator, concentration, "picomolar")
	second := f.add(t, curator, concentration, "femtomolar")

	_, err := f.registry.Delete(ctx, curator, []int64{second.ProvisionalID})
	require.NoError(t, err)

	third := f.add(t, curator, concentration, "attomolar")
	assert.Equal(t, second.ProvisionalID+1, third.ProvisionalID)
	assert.NotEqual(t, second.URI, third.URI)
}

// failingDeleteBackend refuses to delete one key.
type failingDeleteBackend struct {
	storage.Backend
	key string
}

func (b failingDeleteBackend) Delete(ctx context.Context, key string) error {
	if key == b.key {
		return errors.New("disk full")
	}
	return b.Backend.Delete(ctx, key)
}

func TestDeleteStoreFailureKeepsRegistryAndSnapshotInStep(t *testing.T) {
	ctx := context.Background()
	publisher := vocab.NewPublisher(baseSnapshot(t), nil)
	memory := storage.NewMemory()
	r, err := NewRegistry(ctx, Config{
		Publisher: publisher,
		Store:     NewStore(failingDeleteBackend{Backend: memory, key: recordKey(2)}),
	})
	require.NoError(t, err)
	a, err := r.Add(ctx, curator, Request{ParentURI: concentration, Label: "a"})
	require.NoError(t, err)
	b, err := r.Add(ctx, curator, Request{ParentURI: concentration, Label: "b"})
	require.NoError(t, err)

	res, err := r.Delete(ctx, curator, []int64{a.ProvisionalID, b.ProvisionalID})
	require.Error(t, err)
	assert.Equal(t, []int64{a.ProvisionalID}, res.Deleted)

	snap := publisher.Current()
	_, ok := r.Get(a.ProvisionalID)
	assert.False(t, ok)
	assert.False(t, snap.TreeByKey(unitsKey).Contains(a.URI))
	_, ok = r.Get(b.ProvisionalID)
	assert.True(t, ok)
	assert.True(t, snap.TreeByKey(unitsKey).Contains(b.URI))
}

func TestDeleteClearsRemapsToDeletedTerm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := f.add(t, curator, concentration, "target")
	alias, err := f.registry.Add(ctx, curator, Request{
		ParentURI:  concentration,
		Label:      "alias",
		RemappedTo: target.URI,
	})
	require.NoError(t, err)

	_, err = f.registry.Delete(ctx, curator, []int64{target.ProvisionalID})
	require.NoError(t, err)

	term, ok := f.registry.Get(alias.ProvisionalID)
	require.True(t, ok)
	assert.Empty(t, term.RemappedTo)
	stored, err := NewStore(f.backend).Get(ctx, alias.ProvisionalID)
	require.NoError(t, err)
	assert.Empty(t, stored.RemappedTo)

	snap, err := f.registry.Reload(baseSnapshot(t))
	require.NoError(t, err)
	assert.Empty(t, snap.Remaps())
	assert.True(t, snap.TreeByKey(unitsKey).Contains(alias.URI))
}
