//go:build integration

package badger_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/marmos91/dittodrive/pkg/hierarchy"
	contentmemory "github.com/marmos91/dittodrive/pkg/store/content/memory"
	"github.com/marmos91/dittodrive/pkg/store/metadata"
	"github.com/marmos91/dittodrive/pkg/store/metadata/badger"
)

func openStore(t *testing.T, dbPath string) *badger.BadgerMetadataStore {
	t.Helper()
	store, err := badger.NewBadgerMetadataStore(context.Background(), badger.BadgerMetadataStoreConfig{DBPath: dbPath})
	if err != nil {
		t.Fatalf("Failed to open BadgerMetadataStore: %v", err)
	}
	return store
}

// TestBadgerMetadataStore_Integration exercises the hierarchy on an on-disk
// BadgerDB.
//
// Prerequisites:
//   - None (BadgerDB is embedded, no external services needed)
//   - Run with: go test -tags=integration ./test/integration/badger/...
func TestBadgerMetadataStore_Integration(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "metadata")

	blobs, err := contentmemory.NewMemoryContentStore(ctx, 0)
	if err != nil {
		t.Fatalf("Failed to create content store: %v", err)
	}

	t.Run("Persistence", func(t *testing.T) {
		var docsKey string

		// Phase 1: build a tree and close the store
		{
			store := openStore(t, dbPath)
			svc := hierarchy.New(store, blobs, hierarchy.Options{})

			prov, err := svc.ProvisionMember(ctx, "alice")
			if err != nil {
				t.Fatalf("ProvisionMember failed: %v", err)
			}
			docs, err := svc.CreateContainer(ctx, prov.Member.ID, prov.Root.Key, "docs")
			if err != nil {
				t.Fatalf("CreateContainer failed: %v", err)
			}
			if _, err := svc.CreateContainer(ctx, prov.Member.ID, docs.Key, "2024"); err != nil {
				t.Fatalf("CreateContainer failed: %v", err)
			}
			docsKey = docs.Key

			if err := store.Close(); err != nil {
				t.Fatalf("Failed to close store: %v", err)
			}
		}

		// Phase 2: reopen and walk it
		{
			store := openStore(t, dbPath)
			defer func() { _ = store.Close() }()
			svc := hierarchy.New(store, blobs, hierarchy.Options{})

			path, err := svc.Path(ctx, docsKey)
			if err != nil {
				t.Fatalf("Path failed after reopen: %v", err)
			}
			if path != "/root/docs" {
				t.Errorf("Expected /root/docs, got %q", path)
			}

			entries, err := svc.List(ctx, docsKey)
			if err != nil {
				t.Fatalf("List failed after reopen: %v", err)
			}
			if len(entries) != 1 || entries[0].Node.Name != "2024" {
				t.Errorf("Unexpected children after reopen: %v", entries)
			}

			member, err := svc.Member(ctx, "alice")
			if err != nil {
				t.Fatalf("Member lookup failed after reopen: %v", err)
			}
			if _, err := svc.Trash(ctx, member.ID); err != nil {
				t.Errorf("Trash lookup failed after reopen: %v", err)
			}
		}
	})

	t.Run("ConcurrentSiblingNames", func(t *testing.T) {
		store := openStore(t, filepath.Join(t.TempDir(), "concurrent"))
		defer func() { _ = store.Close() }()
		svc := hierarchy.New(store, blobs, hierarchy.Options{})

		prov, err := svc.ProvisionMember(ctx, "bob")
		if err != nil {
			t.Fatalf("ProvisionMember failed: %v", err)
		}

		const workers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
			conflicts int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := svc.CreateContainer(ctx, prov.Member.ID, prov.Root.Key, "same")
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					succeeded++
				case metadata.IsConflict(err):
					conflicts++
				default:
					t.Errorf("Unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		if succeeded != 1 || conflicts != workers-1 {
			t.Errorf("Expected exactly one success, got %d successes and %d conflicts", succeeded, conflicts)
		}
	})

	t.Run("ConcurrentMovesKeepTreeAcyclic", func(t *testing.T) {
		store := openStore(t, filepath.Join(t.TempDir(), "moves"))
		defer func() { _ = store.Close() }()
		svc := hierarchy.New(store, blobs, hierarchy.Options{})

		prov, err := svc.ProvisionMember(ctx, "carol")
		if err != nil {
			t.Fatalf("ProvisionMember failed: %v", err)
		}
		a, err := svc.CreateContainer(ctx, prov.Member.ID, prov.Root.Key, "a")
		if err != nil {
			t.Fatalf("CreateContainer failed: %v", err)
		}
		b, err := svc.CreateContainer(ctx, prov.Member.ID, prov.Root.Key, "b")
		if err != nil {
			t.Fatalf("CreateContainer failed: %v", err)
		}

		// a under b and b under a cannot both succeed
		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i, pair := range [][2]string{{a.Key, b.Key}, {b.Key, a.Key}} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = svc.Move(ctx, pair[0], pair[1])
			}()
		}
		wg.Wait()

		if errs[0] == nil && errs[1] == nil {
			t.Fatal("Both crossing moves succeeded")
		}
		for _, key := range []string{a.Key, b.Key} {
			if _, err := svc.Path(ctx, key); err != nil {
				t.Errorf("Path of %s failed: %v", key, err)
			}
		}
		t.Logf("move results: %v", errs)
	})
}
