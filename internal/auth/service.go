package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"leveltest/internal/db"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrValidation         = errors.New("invalid input")
	ErrPasswordMismatch   = fmt.Errorf("%w: passwords do not match", ErrValidation)
	ErrConflict           = errors.New("username or email already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
)

type Role string

const (
	RoleStandard Role = "standard"
	RoleAdmin    Role = "admin"
)

type Service struct {
	db         *sql.DB
	bcryptCost int
	validate   *validator.Validate
}

type ServiceConfig struct {
	BcryptCost int
}

type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

func (u *User) Principal() Principal {
	return Principal{UserID: u.ID, Username: u.Username, Role: u.Role}
}

type RegisterInput struct {
	Username        string `validate:"required,max=64"`
	Email           string `validate:"required,email,max=254"`
	Password        string `validate:"required"`
	ConfirmPassword string `validate:"required"`
}

// UserSummary is a standard user as listed on the admin users page.
type UserSummary struct {
	ID                int64     `json:"id"`
	Username          string    `json:"username"`
	Email             string    `json:"email"`
	Attempts          int       `json:"attempts"`
	AveragePercentage int       `json:"average_percentage"`
	CreatedAt         time.Time `json:"created_at"`
}

type AdminAccount struct {
	Username string
	Email    string
	Password string
}

func NewService(conn *sql.DB, cfg ServiceConfig) *Service {
	if cfg.BcryptCost <= 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		db:         conn,
		bcryptCost: cfg.BcryptCost,
		validate:   validator.New(),
	}
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if in.Password != in.ConfirmPassword {
		return nil, ErrPasswordMismatch
	}

	var existing int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM users WHERE username = $1 OR email = $2 LIMIT 1
	`, in.Username, in.Email).Scan(&existing)
	if err == nil {
		return nil, ErrConflict
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("check existing user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := User{Username: in.Username, Email: in.Email, Role: RoleStandard}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, email, password_hash, role)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, u.Username, u.Email, string(hash), string(u.Role)).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return &u, nil
}

func (s *Service) Authenticate(ctx context.Context, username, password string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	var u User
	var role string
	var passwordHash string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, role, created_at, password_hash
		FROM users
		WHERE username = $1
	`, username).Scan(&u.ID, &u.Username, &u.Email, &role, &u.CreatedAt, &passwordHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	u.Role = Role(role)

	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return &u, nil
}

// LookupPrincipal reloads the account behind a session so that deleted users
// lose access before their cookie expires.
func (s *Service) LookupPrincipal(ctx context.Context, userID int64) (*Principal, error) {
	if userID <= 0 {
		return nil, ErrUserNotFound
	}
	p := Principal{UserID: userID}
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT username, role FROM users WHERE id = $1
	`, userID).Scan(&p.Username, &role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("query session user: %w", err)
	}
	p.Role = Role(role)
	return &p, nil
}

// EnsureAdmin creates or refreshes the administrator account so that the
// configured credentials always work after a restart.
func (s *Service) EnsureAdmin(ctx context.Context, acc AdminAccount) error {
	acc.Username = strings.TrimSpace(acc.Username)
	acc.Email = strings.ToLower(strings.TrimSpace(acc.Email))
	if acc.Username == "" || acc.Password == "" {
		log.Printf("admin bootstrap skipped: ADMIN_USERNAME or ADMIN_PASSWORD not set")
		return nil
	}
	if acc.Email == "" {
		acc.Email = acc.Username + "@localhost"
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(acc.Password), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (username, email, password_hash, role)
		VALUES ($1, $2, $3, 'admin')
		ON CONFLICT (username) DO UPDATE
		SET email = EXCLUDED.email,
		    password_hash = EXCLUDED.password_hash,
		    role = 'admin'
	`, acc.Username, acc.Email, string(hash))
	if err != nil {
		return fmt.Errorf("upsert admin %s: %w", acc.Username, err)
	}
	return nil
}

func (s *Service) ListStandardUsers(ctx context.Context) ([]UserSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.username, u.email, u.created_at,
		       COUNT(r.id),
		       COALESCE(ROUND(AVG(r.percentage)), 0)::int
		FROM users u
		LEFT JOIN test_results r ON r.user_id = u.id
		WHERE u.role <> 'admin'
		GROUP BY u.id
		ORDER BY u.id
	`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	out := make([]UserSummary, 0)
	for rows.Next() {
		var it UserSummary
		if err := rows.Scan(&it.ID, &it.Username, &it.Email, &it.CreatedAt, &it.Attempts, &it.AveragePercentage); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return out, nil
}

// DeleteUser removes a standard user; their results go with them through
// the foreign key cascade. Administrators cannot be deleted here.
func (s *Service) DeleteUser(ctx context.Context, userID int64) error {
	if userID <= 0 {
		return ErrUserNotFound
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1 AND role <> 'admin'`, userID)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete user rows: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}
