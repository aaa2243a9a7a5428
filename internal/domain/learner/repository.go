package learner

import "context"

// Repository - порт хранения пользователей.
type Repository interface {
	// Create сохраняет нового пользователя.
	// Возвращает shared.ErrUserAlreadyExists при конфликте ID или имени.
	Create(ctx context.Context, user *User) error

	// GetByID возвращает пользователя или shared.ErrUserNotFound.
	GetByID(ctx context.Context, id string) (*User, error)

	// Update сохраняет очки, счётчик заданий и уровни навыков.
	Update(ctx context.Context, user *User) error

	// List возвращает всех пользователей, упорядоченных по CreatedAt, затем ID.
	List(ctx context.Context) ([]*User, error)
}
