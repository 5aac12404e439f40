package postgres

import (
	"context"
	"database/sql"

	authDomain "infodigest/internal/domain/auth"
	authinfra "infodigest/internal/infrastructure/auth"
)

// AuthRepo 提供使用者帳號的存取。
type AuthRepo struct {
	db *sql.DB
}

// NewAuthRepo 建立 AuthRepo。
func NewAuthRepo(db *sql.DB) *AuthRepo {
	return &AuthRepo{db: db}
}

// FindByEmail 依 email 查詢使用者。
func (r *AuthRepo) FindByEmail(ctx context.Context, email string) (authDomain.User, error) {
	const q = `
SELECT id, email, display_name, password_hash, status, role
FROM users
WHERE email = $1
LIMIT 1;
`
	var u authDomain.User
	var role string
	if err := r.db.QueryRowContext(ctx, q, email).Scan(&u.ID, &u.Email, &u.Name, &u.Password, &u.Status, &role); err != nil {
		return authDomain.User{}, err
	}
	u.Role = authDomain.Role(role)
	return u, nil
}

// FindByID 依 ID 查詢使用者。
func (r *AuthRepo) FindByID(ctx context.Context, id string) (authDomain.User, error) {
	const q = `
SELECT id, email, display_name, password_hash, status, role
FROM users
WHERE id = $1
LIMIT 1;
`
	var u authDomain.User
	var role string
	if err := r.db.QueryRowContext(ctx, q, id).Scan(&u.ID, &u.Email, &u.Name, &u.Password, &u.Status, &role); err != nil {
		return authDomain.User{}, err
	}
	u.Role = authDomain.Role(role)
	return u, nil
}

// SeedDefaults 建立預設帳號（admin/user）。
func (r *AuthRepo) SeedDefaults(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	users := []struct {
		email string
		name  string
		role  authDomain.Role
	}{
		{"admin@example.com", "Admin", authDomain.RoleAdmin},
		{"user@example.com", "User", authDomain.RoleUser},
	}
	for _, u := range users {
		hash, err := authinfra.HashPassword("password123")
		if err != nil {
			return err
		}
		if err := upsertUserTx(ctx, tx, u.email, u.name, hash, string(u.role)); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func upsertUserTx(ctx context.Context, tx *sql.Tx, email, name, passwordHash, role string) error {
	const q = `
INSERT INTO users (email, display_name, password_hash, status, role)
VALUES ($1, $2, $3, 'active', $4)
ON CONFLICT (email) DO UPDATE SET display_name = EXCLUDED.display_name, password_hash = EXCLUDED.password_hash, role = EXCLUDED.role;
`
	_, err := tx.ExecContext(ctx, q, email, name, passwordHash, role)
	return err
}
