package streak

import (
	"context"
	"time"
)

// Repository - порт хранения серий.
type Repository interface {
	// Get возвращает состояние серии или ошибку shared.ErrNotFound,
	// если пользователь ещё ни разу не обрабатывался.
	Get(ctx context.Context, userID string) (State, error)

	// Save сохраняет состояние и дописывает appended в историю, только если
	// сохранённый LastProcessedDate всё ещё равен expected (нулевое значение -
	// серии ещё нет). Иначе возвращает shared.ErrConcurrentModification
	// и ничего не пишет. Запись истории только добавляется.
	Save(ctx context.Context, s State, expected time.Time, appended []Record) error
}
