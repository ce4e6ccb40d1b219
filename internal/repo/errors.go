package repo

import "errors"

// Общие ошибки репозиториев.
var (
	// ErrNotFound — запись не найдена в БД.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState — условный UPDATE не нашёл строку в ожидаемом
	// состоянии (её уже изменил другой процесс).
	ErrInvalidState = errors.New("invalid state")
)
