package tests

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/coinledger/coinledger/pkg"
	appsvc "github.com/coinledger/coinledger/services/ledger-api/app"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// StartLedgerAPIServer starts the ledger-api HTTP server in-process using NewApp
// against a disposable Postgres container. No currency config file is visible
// from the test working directory, so the built-in fallback currency is what
// gets loaded, which these tests rely on.
// It returns the base URL and a cleanup function that should be deferred in tests.
func StartLedgerAPIServer(t *testing.T) (baseURL string, cleanup func()) {
	t.Helper()

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}

	dsnNoProto, pgTerminate, err := StartPostgresForTests()
	if err != nil {
		t.Fatalf("failed to start postgres: %v", err)
	}

	// Configure environment variables
	_ = os.Setenv("APP_PORT", fmt.Sprintf("%d", port))
	_ = os.Setenv("APP_PRIMARY_DB_ADDR", dsnNoProto)
	_ = os.Setenv("APP_REPLICA_DB_ADDR", dsnNoProto)
	_ = os.Setenv("APP_SNAPSHOT_DIR", t.TempDir())
	_ = os.Setenv("APP_KAFKA_BROKERS", "") // no event stream in tests
	_ = os.Setenv("GIN_MODE", "test")

	// Build app and run server
	pkg.InitLogger()
	logger := pkg.Logger
	ctx := context.Background()
	srv, appCleanup, err := appsvc.NewApp(ctx, logger)
	if err != nil {
		pgTerminate()
		t.Fatalf("failed to build ledger-api app: %v", err)
	}

	baseURL = fmt.Sprintf("http://127.0.0.1:%d", port)

	go func() {
		_ = srv.ListenAndServe()
	}()

	// Wait for readiness with timeout, allow time for migrations
	wctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := waitForReady(wctx, baseURL+"/health"); err != nil {
		_ = srv.Close()
		appCleanup()
		pgTerminate()
		t.Fatalf("ledger-api failed to become ready: %v", err)
	}

	cleanup = func() {
		// Graceful shutdown
		ctx, c := context.WithTimeout(context.Background(), 3*time.Second)
		defer c()
		_ = srv.Shutdown(ctx)
		appCleanup()
		pgTerminate()
	}
	return baseURL, cleanup
}

// StartPostgresForTests starts a PostgreSQL testcontainer. It returns a DSN
// formatted without the `postgres://` prefix to match the app's expectations
// (the app prepends the protocol internally), and a termination func for cleanup.
func StartPostgresForTests() (dsnNoProto string, terminate func(), err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	const (
		user     = "db_user"
		password = "db_password"
		dbName   = "coinledger"
	)

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     user,
			"POSTGRES_PASSWORD": password,
			"POSTGRES_DB":       dbName,
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	pgC, e := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if e != nil {
		err = fmt.Errorf("failed to start postgres test container: %w", e)
		return
	}

	// Build connection string
	host, e := pgC.Host(ctx)
	if e != nil {
		_ = pgC.Terminate(context.Background())
		err = fmt.Errorf("failed to get postgres host: %w", e)
		return
	}
	port, e := pgC.MappedPort(ctx, "5432/tcp")
	if e != nil {
		_ = pgC.Terminate(context.Background())
		err = fmt.Errorf("failed to get mapped port: %w", e)
		return
	}
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port.Port(), dbName)

	terminate = func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = pgC.Terminate(ctx)
	}

	dsnNoProto = strings.TrimPrefix(connStr, "postgres://")
	return
}

func getFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func waitForReady(ctx context.Context, url string) error {
	client := &http.Client{Timeout: 500 * time.Millisecond}
	for {
		if ctx.Err() != nil {
			return fmt.Errorf("timeout waiting for %s", url)
		}
		resp, err := client.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 500 {
				return nil
			}
		}
		time.Sleep(150 * time.Millisecond)
	}
}
