package testing

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/marmos91/dittodrive/pkg/store/content"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreTestSuite is a test suite for ContentStore implementations.
// It tests the interface contract, not implementation details, making it reusable
// across different implementations (memory, filesystem, S3, etc.).
//
// Usage:
//
//	func TestMyContentStore(t *testing.T) {
//	    suite := &testing.StoreTestSuite{
//	        NewStore: func(t *testing.T) content.ContentStore {
//	            return mystore.New()
//	        },
//	    }
//	    suite.Run(t)
//	}
type StoreTestSuite struct {
	// NewStore is a factory function that creates a fresh ContentStore instance
	// for each test. This ensures test isolation.
	NewStore func(t *testing.T) content.ContentStore
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("ReadContent_NotFound", suite.testReadNotFound)
	t.Run("WriteContent_RoundTrip", suite.testWriteRead)
	t.Run("WriteContent_Overwrite", suite.testOverwrite)
	t.Run("WriteContent_Empty", suite.testEmpty)
	t.Run("WriteContent_KeyWithSlash", suite.testKeyWithSlash)
	t.Run("GetContentSize", suite.testSize)
	t.Run("ContentExists", suite.testExists)
	t.Run("Delete_Idempotent", suite.testDeleteIdempotent)
	t.Run("ListAllContent", suite.testList)
	t.Run("ConcurrentWrites", suite.testConcurrentWrites)
	t.Run("Stats", suite.testStats)
}

func testContext() context.Context {
	return context.Background()
}

func (suite *StoreTestSuite) testReadNotFound(t *testing.T) {
	store := suite.NewStore(t)

	_, err := store.ReadContent(testContext(), "missing")
	assert.ErrorIs(t, err, content.ErrContentNotFound)

	_, err = store.GetContentSize(testContext(), "missing")
	assert.ErrorIs(t, err, content.ErrContentNotFound)
}

func (suite *StoreTestSuite) testWriteRead(t *testing.T) {
	store := suite.NewStore(t)

	require.NoError(t, store.WriteContent(testContext(), "blob-1", []byte("Hello, World!")))

	data, err := content.ReadAll(testContext(), store, "blob-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("Hello, World!"), data)
}

func (suite *StoreTestSuite) testOverwrite(t *testing.T) {
	store := suite.NewStore(t)

	require.NoError(t, store.WriteContent(testContext(), "blob", []byte("first version")))
	require.NoError(t, store.WriteContent(testContext(), "blob", []byte("second")))

	data, err := content.ReadAll(testContext(), store, "blob")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), data)
}

func (suite *StoreTestSuite) testEmpty(t *testing.T) {
	store := suite.NewStore(t)

	require.NoError(t, store.WriteContent(testContext(), "empty", []byte{}))

	data, err := content.ReadAll(testContext(), store, "empty")
	require.NoError(t, err)
	assert.Empty(t, data)

	size, err := store.GetContentSize(testContext(), "empty")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), size)
}

func (suite *StoreTestSuite) testKeyWithSlash(t *testing.T) {
	store := suite.NewStore(t)

	require.NoError(t, store.WriteContent(testContext(), "upload-1/0", []byte("chunk")))

	data, err := content.ReadAll(testContext(), store, "upload-1/0")
	require.NoError(t, err)
	assert.Equal(t, []byte("chunk"), data)
}

func (suite *StoreTestSuite) testSize(t *testing.T) {
	store := suite.NewStore(t)

	payload := bytes.Repeat([]byte("x"), 4096)
	require.NoError(t, store.WriteContent(testContext(), "sized", payload))

	size, err := store.GetContentSize(testContext(), "sized")
	require.NoError(t, err)
	assert.Equal(t, uint64(4096), size)
}

func (suite *StoreTestSuite) testExists(t *testing.T) {
	store := suite.NewStore(t)

	ok, err := store.ContentExists(testContext(), "maybe")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.WriteContent(testContext(), "maybe", []byte("yes")))

	ok, err = store.ContentExists(testContext(), "maybe")
	require.NoError(t, err)
	assert.True(t, ok)
}

func (suite *StoreTestSuite) testDeleteIdempotent(t *testing.T) {
	store := suite.NewStore(t)

	require.NoError(t, store.WriteContent(testContext(), "doomed", []byte("bye")))
	require.NoError(t, store.Delete(testContext(), "doomed"))
	require.NoError(t, store.Delete(testContext(), "doomed"))
	require.NoError(t, store.Delete(testContext(), "never-existed"))

	ok, err := store.ContentExists(testContext(), "doomed")
	require.NoError(t, err)
	assert.False(t, ok)
}

func (suite *StoreTestSuite) testList(t *testing.T) {
	store := suite.NewStore(t)
	listable, ok := store.(content.ListableContentStore)
	if !ok {
		t.Skip("Store does not implement ListableContentStore")
	}

	for _, k := range []string{"a", "b/1", "c"} {
		require.NoError(t, store.WriteContent(testContext(), k, []byte(k)))
	}
	require.NoError(t, store.Delete(testContext(), "c"))

	keys, err := listable.ListAllContent(testContext())
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{"a", "b/1"}, keys)
}

func (suite *StoreTestSuite) testConcurrentWrites(t *testing.T) {
	store := suite.NewStore(t)

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("concurrent-%d", i)
			errs <- store.WriteContent(testContext(), key, []byte(key))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	for i := range workers {
		key := fmt.Sprintf("concurrent-%d", i)
		data, err := content.ReadAll(testContext(), store, key)
		require.NoError(t, err)
		assert.Equal(t, []byte(key), data)
	}
}

func (suite *StoreTestSuite) testStats(t *testing.T) {
	store := suite.NewStore(t)

	require.NoError(t, store.WriteContent(testContext(), "s1", []byte("1234")))
	require.NoError(t, store.WriteContent(testContext(), "s2", []byte("123456")))

	stats, err := store.GetStorageStats(testContext())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.ContentCount)
	assert.Equal(t, uint64(10), stats.UsedSize)
	assert.Equal(t, uint64(5), stats.AverageSize)
}
