package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"calendar_helper_bot/internal/pkg/session/domain"
)

// MemoryStorage хранит состояния авторизации и учётные данные в памяти процесса
type MemoryStorage struct {
	sessions    map[int64]*domain.UserSession
	pending     map[int64]*domain.PendingState
	stateToChat map[string]int64
	mu          sync.RWMutex
	now         func() time.Time
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		sessions:    make(map[int64]*domain.UserSession),
		pending:     make(map[int64]*domain.PendingState),
		stateToChat: make(map[string]int64),
		now:         time.Now,
	}
}

// WithClock подменяет источник времени, используется в тестах
func (m *MemoryStorage) WithClock(now func() time.Time) *MemoryStorage {
	m.now = now
	return m
}

const defaultCleanupInterval = time.Hour

// RunCleanup периодически удаляет просроченные state до отмены контекста
func (m *MemoryStorage) RunCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultCleanupInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.CleanupExpiredStates(); err != nil {
				log.Warn().Err(err).Msg("cleanup of expired states failed")
			}
		}
	}
}
