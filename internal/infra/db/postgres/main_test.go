//go:build integration

package postgres

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"bookbrief-billing/internal/infra/db/migrations"
)

var testPool *pgxpool.Pool

// BILLING_TEST_DATABASE_URL points the suite at an existing database and
// skips the throwaway container.
const testDSNEnv = "BILLING_TEST_DATABASE_URL"

func TestMain(m *testing.M) {
	dsn, stop := testDatabase()

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Second)
	pool, err := waitForPool(ctx, dsn)
	cancel()
	if err != nil {
		stop()
		log.Fatalf("test database never became ready: %v", err)
	}
	testPool = pool

	if err := migrations.Up(migrations.DriverPostgres, dsn); err != nil {
		testPool.Close()
		stop()
		log.Fatalf("apply migrations: %v", err)
	}

	code := m.Run()

	testPool.Close()
	stop()
	os.Exit(code)
}

func testDatabase() (dsn string, stop func()) {
	if dsn := os.Getenv(testDSNEnv); dsn != "" {
		return dsn, func() {}
	}

	const (
		user     = "billing"
		password = "billing"
		name     = "billing_test"
	)
	out, err := exec.Command("docker", "run", "-d", "--rm",
		"-p", "127.0.0.1::5432",
		"-e", "POSTGRES_DB="+name,
		"-e", "POSTGRES_USER="+user,
		"-e", "POSTGRES_PASSWORD="+password,
		"postgres:14",
	).Output()
	if err != nil {
		log.Fatalf("start postgres container (is docker running?): %v", err)
	}
	id := strings.TrimSpace(string(out))
	stop = func() {
		if err := exec.Command("docker", "stop", id).Run(); err != nil {
			log.Printf("stop container %s: %v", id, err)
		}
	}

	// docker port prints e.g. 127.0.0.1:49153
	portOut, err := exec.Command("docker", "port", id, "5432/tcp").Output()
	if err != nil {
		stop()
		log.Fatalf("inspect container port: %v", err)
	}
	hostPort := strings.TrimSpace(strings.SplitN(string(portOut), "\n", 2)[0])
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", user, password, hostPort, name), stop
}

func waitForPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	for {
		pool, err := NewPgxPool(ctx, dsn, 4)
		if err == nil {
			return pool, nil
		}
		select {
		case <-ctx.Done():
			return nil, err
		case <-time.After(time.Second):
		}
	}
}

func cleanup(t *testing.T) {
	t.Helper()
	if _, err := testPool.Exec(context.Background(), `TRUNCATE subscriptions, users RESTART IDENTITY CASCADE`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
}
