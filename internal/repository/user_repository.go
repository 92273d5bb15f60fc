package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"metachat/chat-relay/internal/models"
)

const uniqueViolation = pq.ErrorCode("23505")

type UserRepository interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	ListUsers(ctx context.Context) ([]*models.User, error)
	CountExisting(ctx context.Context, ids ...int64) (int, error)
}

type userRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) CreateUser(ctx context.Context, user *models.User) error {
	query := `
	INSERT INTO users (username, display_name)
	VALUES ($1, $2)
	RETURNING id, created_at
	`

	err := r.db.QueryRowContext(ctx, query, user.Username, user.DisplayName).
		Scan(&user.ID, &user.CreatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrDuplicateUsername
	}
	return err
}

func (r *userRepository) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	query := `
	SELECT id, username, display_name, created_at
	FROM users
	WHERE id = $1
	`

	var user models.User
	err := r.db.QueryRowContext(ctx, query, id).
		Scan(&user.ID, &user.Username, &user.DisplayName, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	return &user, nil
}

func (r *userRepository) ListUsers(ctx context.Context) ([]*models.User, error) {
	query := `
	SELECT id, username, display_name, created_at
	FROM users
	ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		var user models.User
		if err := rows.Scan(&user.ID, &user.Username, &user.DisplayName, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, &user)
	}

	return users, rows.Err()
}

// CountExisting returns how many of ids belong to stored users.
func (r *userRepository) CountExisting(ctx context.Context, ids ...int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE id = ANY($1)`, pq.Array(ids)).Scan(&count)
	return count, err
}
