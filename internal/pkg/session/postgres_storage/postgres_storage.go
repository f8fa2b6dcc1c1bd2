package postgres_storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"calendar_helper_bot/internal/pkg/session/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS oauth_states (
	chat_id    BIGINT PRIMARY KEY,
	state      TEXT NOT NULL UNIQUE,
	verifier   TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS user_credentials (
	chat_id       BIGINT PRIMARY KEY,
	access_token  TEXT NOT NULL,
	refresh_token TEXT NOT NULL DEFAULT '',
	token_uri     TEXT NOT NULL DEFAULT '',
	client_id     TEXT NOT NULL DEFAULT '',
	client_secret TEXT NOT NULL DEFAULT '',
	scopes        TEXT[] NOT NULL DEFAULT '{}',
	token_type    TEXT NOT NULL DEFAULT '',
	expiry        TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

type PostgresStorage struct {
	db *sql.DB
}

func NewPostgresStorage(db *sql.DB) *PostgresStorage {
	return &PostgresStorage{db: db}
}

// Open подключается к базе и проверяет соединение
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate создает таблицы, если их еще нет
func (p *PostgresStorage) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, schema)
	return err
}

// ------------------ Учётные данные ------------------

func (p *PostgresStorage) SaveCredentials(sessionID int64, creds *domain.CredentialBundle) error {
	log.Debug().Int64("session_id", sessionID).Msg("saving credentials to db")

	var expiry sql.NullTime
	if !creds.Expiry.IsZero() {
		expiry = sql.NullTime{Time: creds.Expiry, Valid: true}
	}

	_, err := p.db.Exec(`
		INSERT INTO user_credentials (chat_id, access_token, refresh_token, token_uri, client_id, client_secret, scopes, token_type, expiry)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (chat_id) DO UPDATE
		SET access_token=$2, refresh_token=$3, token_uri=$4, client_id=$5, client_secret=$6,
		    scopes=$7, token_type=$8, expiry=$9, updated_at=NOW()
	`, sessionID, creds.AccessToken, creds.RefreshToken, creds.TokenURI, creds.ClientID,
		creds.ClientSecret, pq.Array(creds.Scopes), creds.TokenType, expiry)
	return err
}

func (p *PostgresStorage) GetCredentials(sessionID int64) (*domain.CredentialBundle, error) {
	row := p.db.QueryRow(`
		SELECT access_token, refresh_token, token_uri, client_id, client_secret, scopes, token_type, expiry
		FROM user_credentials
		WHERE chat_id=$1
	`, sessionID)

	c := &domain.CredentialBundle{}
	var expiry sql.NullTime
	err := row.Scan(&c.AccessToken, &c.RefreshToken, &c.TokenURI, &c.ClientID, &c.ClientSecret,
		pq.Array(&c.Scopes), &c.TokenType, &expiry)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if expiry.Valid {
		c.Expiry = expiry.Time
	}
	return c, nil
}

func (p *PostgresStorage) DeleteCredentials(sessionID int64) error {
	_, err := p.db.Exec(`DELETE FROM user_credentials WHERE chat_id=$1`, sessionID)
	return err
}

// ------------------ State ------------------

func (p *PostgresStorage) SavePendingState(sessionID int64, state *domain.PendingState) error {
	_, err := p.db.Exec(`
		INSERT INTO oauth_states (chat_id, state, verifier, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (chat_id) DO UPDATE
		SET state=$2, verifier=$3, created_at=$4, expires_at=$5
	`, sessionID, state.Token, state.Verifier, state.CreatedAt, state.ExpiresAt)
	return err
}

func (p *PostgresStorage) GetPendingState(sessionID int64) (*domain.PendingState, error) {
	row := p.db.QueryRow(`
		SELECT state, verifier, created_at, expires_at
		FROM oauth_states
		WHERE chat_id=$1
	`, sessionID)

	s := &domain.PendingState{SessionID: sessionID}
	err := row.Scan(&s.Token, &s.Verifier, &s.CreatedAt, &s.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (p *PostgresStorage) GetSessionIDByState(state string) (int64, error) {
	row := p.db.QueryRow(`SELECT chat_id FROM oauth_states WHERE state=$1`, state)

	var sessionID int64
	err := row.Scan(&sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrStateNotFound
	}
	if err != nil {
		return 0, err
	}
	return sessionID, nil
}

func (p *PostgresStorage) DeletePendingState(sessionID int64) error {
	_, err := p.db.Exec(`DELETE FROM oauth_states WHERE chat_id=$1`, sessionID)
	return err
}

func (p *PostgresStorage) CleanupExpiredStates() error {
	_, err := p.db.Exec(`DELETE FROM oauth_states WHERE expires_at < $1`, time.Now())
	return err
}

const defaultCleanupInterval = time.Hour

// RunCleanup периодически удаляет просроченные state до отмены контекста
func (p *PostgresStorage) RunCleanup(ctx context.Context, interval time.Duration) {
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
			if err := p.CleanupExpiredStates(); err != nil {
				log.Warn().Err(err).Msg("cleanup of expired states failed")
			}
		}
	}
}
