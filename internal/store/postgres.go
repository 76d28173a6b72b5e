package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gamma-omg/icy-auth/db"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

const userColumns = `id, email, first_name, last_name, profile_picture, password_hash, google_id, auth_method, created_at`

// dbtx defines the interface for database and transactions
type dbtx interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PingContext(ctx context.Context) error
}

// PostgresConfig holds the configuration for connecting to a Postgres database
type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DB       string
}

// PostgresStore implements the Store interface using a Postgres database
type PostgresStore struct {
	db      dbtx
	timeout time.Duration
}

// NewPostgresDB creates a new Postgres database connection
func NewPostgresDB(cfg PostgresConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.DB))
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return db, nil
}

// Migrate applies the embedded schema migrations.
func Migrate(sqlDB *sql.DB) error {
	src, err := iofs.New(db.Migrations, db.MigrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}

	return nil
}

// NewPostgresStore creates a new PostgresStore instance. Every query is bounded by timeout when it is positive.
func NewPostgresStore(db *sql.DB, timeout time.Duration) *PostgresStore {
	return &PostgresStore{
		db:      db,
		timeout: timeout,
	}
}

func (s *PostgresStore) FindByID(ctx context.Context, id string) (User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return User{}, ErrNotFound
	}

	return s.findOne(ctx, "id", id)
}

func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (User, error) {
	return s.findOne(ctx, "email", NormalizeEmail(email))
}

func (s *PostgresStore) FindByGoogleID(ctx context.Context, googleID string) (User, error) {
	if googleID == "" {
		return User{}, ErrNotFound
	}

	return s.findOne(ctx, "google_id", googleID)
}

// Insert stores a new user and returns it with the assigned ID and creation time.
func (s *PostgresStore) Insert(ctx context.Context, u User) (User, error) {
	u.Email = NormalizeEmail(u.Email)
	if err := u.Validate(); err != nil {
		return User{}, err
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		`INSERT INTO users (id, email, first_name, last_name, profile_picture, password_hash, google_id, auth_method)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING `+userColumns,
		uuid.NewString(),
		u.Email,
		u.FirstName,
		u.LastName,
		nullString(u.ProfilePicture),
		nullString(u.PasswordHash),
		nullString(u.GoogleID),
		string(u.AuthMethod))

	created, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, fmt.Errorf("insert user: %w", ErrExists)
		}

		return User{}, fmt.Errorf("insert user: %w", err)
	}

	return created, nil
}

// LinkGoogle attaches a Google identity to a user that has none. It returns ErrExists when the user is already
// linked or the google id belongs to someone else.
func (s *PostgresStore) LinkGoogle(ctx context.Context, r LinkGoogleRequest) (User, error) {
	if _, err := uuid.Parse(r.UserID); err != nil {
		return User{}, ErrNotFound
	}

	qctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	row := s.db.QueryRowContext(qctx,
		`UPDATE users
		 SET google_id = $2,
		     auth_method = $3,
		     profile_picture = COALESCE(NULLIF($4, ''), profile_picture)
		 WHERE id = $1 AND google_id IS NULL
		 RETURNING `+userColumns,
		r.UserID,
		r.GoogleID,
		string(AuthMethodGoogle),
		r.Picture)

	u, err := scanUser(row)
	if err == nil {
		return u, nil
	}

	if isUniqueViolation(err) {
		return User{}, fmt.Errorf("link google: %w", ErrExists)
	}

	if !errors.Is(err, ErrNotFound) {
		return User{}, fmt.Errorf("link google: %w", err)
	}

	if _, err := s.FindByID(ctx, r.UserID); err != nil {
		return User{}, err
	}

	return User{}, fmt.Errorf("link google: user already linked: %w", ErrExists)
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	return s.db.PingContext(ctx)
}

func (s *PostgresStore) findOne(ctx context.Context, column, value string) (User, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE "+column+"=$1", value)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, err
		}

		return User{}, fmt.Errorf("find user by %s: %w", column, err)
	}

	return u, nil
}

func scanUser(row *sql.Row) (User, error) {
	var (
		u                               User
		picture, passwordHash, googleID sql.NullString
		authMethod                      string
	)

	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.FirstName,
		&u.LastName,
		&picture,
		&passwordHash,
		&googleID,
		&authMethod,
		&u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}

		return User{}, fmt.Errorf("scan: %w", err)
	}

	u.ProfilePicture = picture.String
	u.PasswordHash = passwordHash.String
	u.GoogleID = googleID.String
	u.AuthMethod = AuthMethod(authMethod)
	return u, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
