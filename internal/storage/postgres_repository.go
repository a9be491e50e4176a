package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"cliptide/internal/auth"
	"cliptide/internal/models"
)

const pgUniqueViolation = "23505"

type postgresRepository struct {
	pool *pgxpool.Pool
	cfg  PostgresConfig
	now  func() time.Time
}

// NewPostgresRepository opens a Postgres-backed repository and ensures the
// account schema exists.
func NewPostgresRepository(dsn string, opts ...Option) (Repository, error) {
	cfg := newPostgresConfig(dsn, opts...)
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections >= 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	repo := &postgresRepository{pool: pool, cfg: cfg, now: cfg.Clock}
	if err := repo.ensureSchema(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

func (r *postgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (r *postgresRepository) opContext() (context.Context, context.CancelFunc) {
	timeout := r.cfg.AcquireTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return errors.New("postgres pool not initialised")
	}
	return r.pool.Ping(ctx)
}

func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		switch {
		case strings.Contains(pgErr.ConstraintName, "username"):
			return ErrUsernameTaken
		case strings.Contains(pgErr.ConstraintName, "email"):
			return ErrEmailTaken
		}
	}
	return err
}

const accountColumns = "id, username, email, display_name, avatar_url, cover_url, password_hash, refresh_token, created_at, updated_at"

func scanAccount(row pgx.Row) (models.User, error) {
	var user models.User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.DisplayName,
		&user.AvatarURL,
		&user.CoverURL,
		&user.PasswordHash,
		&user.RefreshToken,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	return user, err
}

func (r *postgresRepository) CreateUser(params CreateUserParams) (models.User, error) {
	username := normalizeIdentifier(params.Username)
	if username == "" {
		return models.User{}, errors.New("username is required")
	}
	email := normalizeIdentifier(params.Email)
	if email == "" {
		return models.User{}, errors.New("email is required")
	}
	displayName := strings.TrimSpace(params.DisplayName)
	if displayName == "" {
		return models.User{}, errors.New("displayName is required")
	}
	if len(params.Password) < minPasswordLength {
		return models.User{}, fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}
	hashed, err := auth.HashPassword(params.Password)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}

	now := r.now()
	user := models.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		DisplayName:  displayName,
		AvatarURL:    strings.TrimSpace(params.AvatarURL),
		CoverURL:     strings.TrimSpace(params.CoverURL),
		PasswordHash: hashed,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	ctx, cancel := r.opContext()
	defer cancel()
	_, err = r.pool.Exec(ctx,
		"INSERT INTO accounts (id, username, email, display_name, avatar_url, cover_url, password_hash, refresh_token, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, '', $8, $9)",
		user.ID, user.Username, user.Email, user.DisplayName, user.AvatarURL, user.CoverURL, user.PasswordHash, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return models.User{}, mapUniqueViolation(err)
	}
	return user, nil
}

func (r *postgresRepository) GetUser(id string) (models.User, bool) {
	ctx, cancel := r.opContext()
	defer cancel()
	user, err := scanAccount(r.pool.QueryRow(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE id = $1", id))
	if err != nil {
		return models.User{}, false
	}
	return user, true
}

func (r *postgresRepository) FindUserByIdentifier(identifier string) (models.User, bool) {
	normalized := normalizeIdentifier(identifier)
	if normalized == "" {
		return models.User{}, false
	}
	ctx, cancel := r.opContext()
	defer cancel()
	// Username matches win over email matches when both exist.
	user, err := scanAccount(r.pool.QueryRow(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE username = $1 OR email = $1 ORDER BY (username = $1) DESC LIMIT 1",
		normalized))
	if err != nil {
		return models.User{}, false
	}
	return user, true
}

func (r *postgresRepository) ListUsers() []models.User {
	ctx, cancel := r.opContext()
	defer cancel()
	rows, err := r.pool.Query(ctx,
		"SELECT "+accountColumns+" FROM accounts ORDER BY created_at")
	if err != nil {
		return nil
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		user, err := scanAccount(rows)
		if err != nil {
			return nil
		}
		users = append(users, user)
	}
	if rows.Err() != nil {
		return nil
	}
	return users
}

func (r *postgresRepository) UpdateUser(id string, update UserUpdate) (models.User, error) {
	setClauses := make([]string, 0, 5)
	args := make([]any, 0, 7)
	arg := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	if update.Username != nil {
		username := normalizeIdentifier(*update.Username)
		if username == "" {
			return models.User{}, errors.New("username is required")
		}
		setClauses = append(setClauses, "username = "+arg(username))
	}
	if update.Email != nil {
		email := normalizeIdentifier(*update.Email)
		if email == "" {
			return models.User{}, errors.New("email is required")
		}
		setClauses = append(setClauses, "email = "+arg(email))
	}
	if update.DisplayName != nil {
		displayName := strings.TrimSpace(*update.DisplayName)
		if displayName == "" {
			return models.User{}, errors.New("displayName is required")
		}
		setClauses = append(setClauses, "display_name = "+arg(displayName))
	}
	if update.AvatarURL != nil {
		setClauses = append(setClauses, "avatar_url = "+arg(strings.TrimSpace(*update.AvatarURL)))
	}
	if update.CoverURL != nil {
		setClauses = append(setClauses, "cover_url = "+arg(strings.TrimSpace(*update.CoverURL)))
	}
	if len(setClauses) == 0 {
		user, ok := r.GetUser(id)
		if !ok {
			return models.User{}, ErrUserNotFound
		}
		return user, nil
	}
	setClauses = append(setClauses, "updated_at = "+arg(r.now()))

	query := "UPDATE accounts SET " + strings.Join(setClauses, ", ") +
		" WHERE id = " + arg(id) + " RETURNING " + accountColumns

	ctx, cancel := r.opContext()
	defer cancel()
	user, err := scanAccount(r.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	if err != nil {
		return models.User{}, mapUniqueViolation(err)
	}
	return user, nil
}

func (r *postgresRepository) SetUserPassword(id, password string) (models.User, error) {
	if len(password) < minPasswordLength {
		return models.User{}, fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}
	hashed, err := auth.HashPassword(password)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}

	ctx, cancel := r.opContext()
	defer cancel()
	user, err := scanAccount(r.pool.QueryRow(ctx,
		"UPDATE accounts SET password_hash = $1, updated_at = $2 WHERE id = $3 RETURNING "+accountColumns,
		hashed, r.now(), id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	if err != nil {
		return models.User{}, err
	}
	return user, nil
}

func (r *postgresRepository) SetRefreshToken(id, value string) error {
	ctx, cancel := r.opContext()
	defer cancel()
	tag, err := r.pool.Exec(ctx,
		"UPDATE accounts SET refresh_token = $1, updated_at = $2 WHERE id = $3",
		value, r.now(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// RotateRefreshToken performs the compare and the swap in a single statement
// so concurrent rotations from the same starting token cannot both succeed.
func (r *postgresRepository) RotateRefreshToken(id, expected, next string) error {
	ctx, cancel := r.opContext()
	defer cancel()
	tag, err := r.pool.Exec(ctx,
		"UPDATE accounts SET refresh_token = $1, updated_at = $2 WHERE id = $3 AND refresh_token = $4",
		next, r.now(), id, expected)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)", id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrUserNotFound
		}
		return auth.ErrStaleCredential
	}
	return nil
}
