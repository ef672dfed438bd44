package assignment

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"

	"github.com/arnavshah/relief-dispatch-go/pkg/config"
	"github.com/arnavshah/relief-dispatch-go/pkg/database"
	"github.com/arnavshah/relief-dispatch-go/pkg/models"
	"github.com/arnavshah/relief-dispatch-go/pkg/testutil"
)

// TestPostgresRowLocks runs several coordinators, each with its own in-process
// lock registry, against one Postgres database. Only the row lock and the
// conditional update keep them from double-assigning.
func TestPostgresRowLocks(t *testing.T) {
	if os.Getenv("DOCKER_AVAILABLE") != "true" && os.Getenv("DOCKER_AVAILABLE") != "1" {
		t.Skip("docker not available")
	}
	ctx := context.Background()
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "relief",
				"POSTGRES_PASSWORD": "relief",
				"POSTGRES_DB":       "relief",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start container: %v", err)
	}
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %v", err)
		}
	}()

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("host=%s port=%s user=relief password=relief dbname=relief sslmode=disable", host, port.Port())
	var db *gorm.DB
	for i := 0; i < 5; i++ {
		db, err = database.Open(config.DatabaseConfig{DSN: dsn, SlowQueryMS: 1000}, nil)
		if err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	require.NoError(t, err)

	for _, name := range []string{"a", "b", "c", "d"} {
		testutil.CreateResponder(t, db, testutil.ResponderOpts{Username: name, Volunteer: true})
	}

	const processes = 4
	coords := make([]*Coordinator, processes)
	for i := range coords {
		coords[i] = NewCoordinator(db, database.CandidateRepository{}, Options{LockTimeout: 10 * time.Second})
	}

	for round := 0; round < 10; round++ {
		req := testutil.CreateRequest(t, db, models.RequestFood, models.StatusPending, nil)

		var wg sync.WaitGroup
		results := make(chan Outcome, processes*3)
		for i := 0; i < processes*3; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				out, err := coords[i%processes].AutoAssign(ctx, testutil.Staff(uint(1000+i)), req.ID, 5)
				assert.NoError(t, err)
				results <- out
			}(i)
		}
		wg.Wait()
		close(results)

		winners := 0
		for out := range results {
			if out.Kind == KindAssigned {
				winners++
			} else {
				assert.Equal(t, KindAlreadyAssigned, out.Kind)
			}
		}
		assert.Equal(t, 1, winners, "round %d", round)
		assert.True(t, testutil.LoadRequest(t, db, req.ID).Consistent())
	}
}
