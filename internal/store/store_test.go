package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/andresmejia3/obscura/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func unitVec(axis int, scale float64) identity.Embedding {
	v := make(identity.Embedding, EmbeddingDim)
	v[axis] = scale
	return v
}

// TestStoreIntegration runs a full integration test against a real Postgres container.
// It requires Docker to be running.
func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// We wrap this in a function to recover from panics inside testcontainers (e.g. socket not found)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Skipf("Docker not available, cannot run integration test: %v", err)
	}

	// We use the official pgvector image to ensure the extension is available.
	pgContainer, err := postgres.Run(ctx, "pgvector/pgvector:pg16",
		postgres.WithDatabase("obscura_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
		testcontainers.WithLogger(noopLogger{}),
	)
	require.NoError(t, err, "Failed to start postgres container")
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("Failed to terminate container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	// Initialize Store (runs migrations)
	s, err := New(ctx, connStr)
	require.NoError(t, err)
	defer s.Close()

	// --- Test Scenarios ---

	idA, err := s.CreateIdentity(ctx, "alice", []identity.Embedding{unitVec(0, 1), unitVec(0, 0.9)})
	require.NoError(t, err)
	assert.Positive(t, idA)

	// Enrolling the same name again extends the identity
	again, err := s.CreateIdentity(ctx, "alice", []identity.Embedding{unitVec(0, 0.95)})
	require.NoError(t, err)
	assert.Equal(t, idA, again)

	_, err = s.CreateIdentity(ctx, "bob", []identity.Embedding{unitVec(1, 1)})
	require.NoError(t, err)

	// Wrong dimensionality is rejected before touching the database
	_, err = s.CreateIdentity(ctx, "carol", []identity.Embedding{{1, 2, 3}})
	assert.Error(t, err)

	// Exact match
	matchID, name, dist, err := s.FindClosestIdentity(ctx, unitVec(0, 1), identity.DefaultTolerance)
	require.NoError(t, err)
	assert.Equal(t, idA, matchID)
	assert.Equal(t, "alice", name)
	assert.InDelta(t, 0, dist, 1e-6)

	// No match: orthogonal unit vectors are sqrt(2) apart
	noMatchID, _, _, err := s.FindClosestIdentity(ctx, unitVec(2, 1), identity.DefaultTolerance)
	require.NoError(t, err)
	assert.Equal(t, -1, noMatchID)

	embs, err := s.IdentityEmbeddings(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, embs, 3)
	assert.InDelta(t, 0.9, embs[1][0], 1e-6)

	_, err = s.IdentityEmbeddings(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.RenameIdentity(ctx, idA, "alice-smith"))
	assert.ErrorIs(t, s.RenameIdentity(ctx, 9999, "ghost"), ErrNotFound)

	identities, err := s.ListIdentities(ctx)
	require.NoError(t, err)
	require.Len(t, identities, 2)
	assert.Equal(t, "alice-smith", identities[0].Name)
	assert.Equal(t, 3, identities[0].Count)

	require.NoError(t, s.Reset(ctx))
}

type noopLogger struct{}

func (n noopLogger) Printf(format string, v ...interface{}) {}
