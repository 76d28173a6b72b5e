package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"testing"
	"time"

	testdb "github.com/gamma-omg/icy-auth/internal/pkg/test/db"
	"github.com/gamma-omg/icy-auth/internal/pkg/testutil"
	"github.com/stretchr/testify/require"
)

var (
	pg        testdb.StartResponse
	mongoAddr testdb.StartResponse
	redisAddr testdb.StartResponse
)

const (
	dbUser = "test"
	dbPass = "test"
	dbName = "auth_service"
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	var teardownPG, teardownMongo, teardownRedis func()
	pg, teardownPG = testdb.StartPostgres(ctx, testdb.PostgresStartRequest{
		User:     dbUser,
		Password: dbPass,
		DB:       dbName,
	})
	mongoAddr, teardownMongo = testdb.StartMongo(ctx)
	redisAddr, teardownRedis = testdb.StartRedis(ctx)

	code := m.Run()

	teardownRedis()
	teardownMongo()
	teardownPG()
	if code != 0 {
		log.Printf("tests failed with code %d", code)
	}
	os.Exit(code)
}

func commonEnv(t *testing.T, addr string) {
	t.Setenv("HTTP_LISTEN_ADDR", addr)
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("GOOGLE_CLIENT_ID", "client_id")
	t.Setenv("GOOGLE_CLIENT_SECRET", "client_secret")
	t.Setenv("LOG_LEVEL", "error")
}

func postgresEnv(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DB_HOST", pg.Host)
	t.Setenv("DB_PORT", pg.Port)
	t.Setenv("DB_NAME", dbName)
	t.Setenv("DB_USER", dbUser)
	t.Setenv("DB_PASSWORD", dbPass)
}

func mongoEnv(t *testing.T) {
	t.Setenv("STORE_DRIVER", "mongo")
	t.Setenv("MONGODB_URI", "mongodb://"+mongoAddr.Host+":"+mongoAddr.Port)
	t.Setenv("MONGODB_DATABASE", "main_test")
}

func probe(url string) func() bool {
	return func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}

		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}
}

func expectServing(t *testing.T, base string) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx)
	}()

	healthCh := make(chan bool, 1)
	readyCh := make(chan bool, 1)
	go func() {
		healthCh <- testutil.WaitFor(t, ctx, 200*time.Millisecond, probe(base+"/healthz"))
	}()
	go func() {
		readyCh <- testutil.WaitFor(t, ctx, 200*time.Millisecond, probe(base+"/readyz"))
	}()

	var isHealthy, isReady bool
	for !isHealthy || !isReady {
		select {
		case err := <-errCh:
			require.NoError(t, err)
			t.Fatal("server stopped before becoming ready")
		case isHealthy = <-healthCh:
			require.True(t, isHealthy)
		case isReady = <-readyCh:
			require.True(t, isReady)
		case <-ctx.Done():
			t.Fatal("test timed out")
		}
	}

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}

func TestRun_Postgres(t *testing.T) {
	commonEnv(t, ":18081")
	postgresEnv(t)

	expectServing(t, "http://localhost:18081")
}

func TestRun_MongoWithRedisLock(t *testing.T) {
	commonEnv(t, ":18082")
	mongoEnv(t)
	t.Setenv("REDIS_ADDR", redisAddr.Host+":"+redisAddr.Port)

	expectServing(t, "http://localhost:18082")
}

func TestRun_Cancel(t *testing.T) {
	commonEnv(t, ":18083")
	mongoEnv(t)

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx)
	}()

	time.Sleep(500 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}

func TestRun_StoreUnavailable(t *testing.T) {
	commonEnv(t, ":18084")
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", "1")
	t.Setenv("DB_USER", dbUser)
	t.Setenv("DB_PASSWORD", dbPass)

	err := run(context.Background())
	require.Error(t, err)
}
