// Package pgtest starts a throwaway PostgreSQL container for integration
// tests. Tests skip when -short is set or Docker is not reachable.
package pgtest

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
)

// Pool returns a pool to a fresh database. TEST_DATABASE_URL, when set, is
// used instead of a container.
func Pool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres integration test skipped in -short mode")
	}

	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		return connect(t, url)
	}

	dp, err := dockertest.NewPool("")
	if err != nil {
		t.Skipf("docker not available: %v", err)
	}
	if err := dp.Client.Ping(); err != nil {
		t.Skipf("docker not reachable: %v", err)
	}

	resource, err := dp.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "16-alpine",
		Env: []string{
			"POSTGRES_USER=finvoice",
			"POSTGRES_PASSWORD=finvoice",
			"POSTGRES_DB=finvoice",
		},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		t.Skipf("could not start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = dp.Purge(resource) })
	_ = resource.Expire(300)

	url := fmt.Sprintf("postgres://finvoice:finvoice@%s/finvoice?sslmode=disable", resource.GetHostPort("5432/tcp"))

	var pool *pgxpool.Pool
	dp.MaxWait = 90 * time.Second
	if err := dp.Retry(func() error {
		p, err := pgxpool.New(context.Background(), url)
		if err != nil {
			return err
		}
		if err := p.Ping(context.Background()); err != nil {
			p.Close()
			return err
		}
		pool = p
		return nil
	}); err != nil {
		t.Fatalf("postgres did not become ready: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func connect(t *testing.T, url string) *pgxpool.Pool {
	t.Helper()
	pool, err := pgxpool.New(context.Background(), url)
	if err != nil {
		t.Fatalf("connect TEST_DATABASE_URL: %v", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		t.Skipf("TEST_DATABASE_URL not reachable: %v", err)
	}
	_, err = pool.Exec(context.Background(), `DROP TABLE IF EXISTS job_checkpoints, pipeline_tasks, jobs`)
	if err != nil {
		t.Fatalf("reset test database: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}
