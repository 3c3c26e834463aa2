package catalog

import (
	"context"
	"slices"
	"sync"

	"catalogsync/internal/metrics"
	"catalogsync/internal/store"
)

// ImageDiff is the minimal change turning a stored image set into an incoming one.
type ImageDiff struct {
	Add    []string `json:"add"`
	Remove []string `json:"remove"`
}

// Empty reports whether applying the diff writes nothing.
func (d ImageDiff) Empty() bool {
	return len(d.Add) == 0 && len(d.Remove) == 0
}

// DiffImages computes remove = current - incoming and add = incoming - current.
// Both sides are de-duplicated and sorted; URLs present in both are not touched.
func DiffImages(current, incoming []string) ImageDiff {
	have := toSet(current)
	want := toSet(incoming)

	var diff ImageDiff
	for url := range have {
		if _, ok := want[url]; !ok {
			diff.Remove = append(diff.Remove, url)
		}
	}
	for url := range want {
		if _, ok := have[url]; !ok {
			diff.Add = append(diff.Add, url)
		}
	}
	slices.Sort(diff.Remove)
	slices.Sort(diff.Add)
	return diff
}

func toSet(urls []string) map[string]struct{} {
	set := make(map[string]struct{}, len(urls))
	for _, url := range urls {
		set[url] = struct{}{}
	}
	return set
}

// Reconciler applies image diffs to stored products.
type Reconciler struct {
	store *store.Store
	locks *KeyedMutex
}

func NewReconciler(s *store.Store, locks *KeyedMutex) *Reconciler {
	if locks == nil {
		locks = NewKeyedMutex()
	}
	return &Reconciler{store: s, locks: locks}
}

// Reconcile makes the product's image set equal to incoming and returns the
// applied diff. Reconciliations of the same product are serialized; running
// it again with the same input applies an empty diff.
func (r *Reconciler) Reconcile(ctx context.Context, productID string, incoming []string) (ImageDiff, error) {
	unlock := r.locks.Lock(productID)
	defer unlock()

	var diff ImageDiff
	err := r.store.Transaction(ctx, func(tx *store.Store) error {
		current, err := tx.Images.URLs(ctx, productID)
		if err != nil {
			return err
		}
		diff = DiffImages(current, incoming)
		if diff.Empty() {
			return nil
		}
		for _, url := range diff.Add {
			if err := validate.Var(url, "required,url,max=500"); err != nil {
				return &ValidationError{ProductID: productID, Err: err}
			}
		}
		if _, err := tx.Images.Delete(ctx, productID, diff.Remove); err != nil {
			return err
		}
		_, err = tx.Images.Insert(ctx, productID, diff.Add)
		return err
	})
	if err != nil {
		return ImageDiff{}, err
	}
	metrics.RecordImages(len(diff.Add), len(diff.Remove))
	return diff, nil
}

// KeyedMutex hands out one mutex per key, dropping it once unused.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock blocks until key is free and returns its unlock function.
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
