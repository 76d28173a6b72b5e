package testdb

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"testing"

	"github.com/docker/go-connections/nat"
	"github.com/gamma-omg/icy-auth/db"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type PostgresStartRequest struct {
	User     string
	Password string
	DB       string
}

type StartResponse struct {
	Host string
	Port string
}

func StartPostgres(ctx context.Context, cfg PostgresStartRequest) (StartResponse, func()) {
	return start(ctx, testcontainers.ContainerRequest{
		Image:        "postgres:18-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     cfg.User,
			"POSTGRES_PASSWORD": cfg.Password,
			"POSTGRES_DB":       cfg.DB,
		},
		WaitingFor: wait.ForListeningPort("5432/tcp"),
	}, "5432/tcp")
}

func StartMongo(ctx context.Context) (StartResponse, func()) {
	return start(ctx, testcontainers.ContainerRequest{
		Image:        "mongo:8",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForListeningPort("27017/tcp"),
	}, "27017/tcp")
}

func StartRedis(ctx context.Context) (StartResponse, func()) {
	return start(ctx, testcontainers.ContainerRequest{
		Image:        "redis:8.4-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp"),
	}, "6379/tcp")
}

func start(ctx context.Context, req testcontainers.ContainerRequest, port nat.Port) (StartResponse, func()) {
	cont, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		log.Fatalf("failed to start %s container: %v", req.Image, err)
	}

	host, err := cont.Host(ctx)
	if err != nil {
		log.Fatalf("failed to get host: %v", err)
	}

	mapped, err := cont.MappedPort(ctx, port)
	if err != nil {
		log.Fatalf("failed to get port: %v", err)
	}

	closer := func() {
		_ = cont.Terminate(context.Background())
	}
	return StartResponse{
		Host: host,
		Port: mapped.Port(),
	}, closer
}

// RunMigrations drops every object created by the embedded migrations and applies them again, giving each test
// a clean schema.
func RunMigrations(t *testing.T, sqlDB *sql.DB) {
	t.Helper()

	src, err := iofs.New(db.Migrations, db.MigrationsDir)
	if err != nil {
		t.Fatalf("failed to open migrations: %v", err)
	}

	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		t.Fatalf("failed to get postgres driver: %v", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", src, "test", driver)
	if err != nil {
		t.Fatalf("failed to create migrator: %v", err)
	}

	if err := migrator.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		t.Fatalf("failed to drop existing db objects: %v", err)
	}

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		t.Fatalf("failed to run migrations: %v", err)
	}
}

type dbQuery struct {
	t   *testing.T
	row *sql.Row
}

func Query(t *testing.T, sqlDB *sql.DB, query string, args ...any) *dbQuery {
	t.Helper()

	row := sqlDB.QueryRow(query, args...)
	require.NoError(t, row.Err())

	return &dbQuery{
		t:   t,
		row: row,
	}
}

func (q *dbQuery) AsInt64() int64 {
	q.t.Helper()

	var n int64
	err := q.row.Scan(&n)
	require.NoError(q.t, err)
	return n
}

func (q *dbQuery) AsString() string {
	q.t.Helper()

	var s string
	err := q.row.Scan(&s)
	require.NoError(q.t, err)
	return s
}
