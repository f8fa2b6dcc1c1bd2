package postgres_storage

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calendar_helper_bot/internal/pkg/session/domain"
)

var exampleTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*PostgresStorage, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return NewPostgresStorage(db), mock
}

func TestMigrate(t *testing.T) {
	storage, mock := setup(t)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS oauth_states")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, storage.Migrate(context.Background()))
}

func TestCredentials(t *testing.T) {
	t.Run("Save upserts bundle", func(t *testing.T) {
		storage, mock := setup(t)

		// given
		creds := &domain.CredentialBundle{
			AccessToken:  "access",
			RefreshToken: "refresh",
			TokenURI:     "https://oauth2.googleapis.com/token",
			ClientID:     "client",
			ClientSecret: "secret",
			Scopes:       []string{"calendar.readonly"},
			TokenType:    "Bearer",
			Expiry:       exampleTime,
		}
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO user_credentials")).
			WithArgs(int64(42), "access", "refresh", "https://oauth2.googleapis.com/token", "client", "secret",
				sqlmock.AnyArg(), "Bearer", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		// when
		err := storage.SaveCredentials(42, creds)

		// then
		assert.NoError(t, err)
	})

	t.Run("Get existing", func(t *testing.T) {
		storage, mock := setup(t)

		rows := sqlmock.NewRows([]string{"access_token", "refresh_token", "token_uri", "client_id", "client_secret", "scopes", "token_type", "expiry"}).
			AddRow("access", "refresh", "uri", "client", "secret", "{calendar.readonly,userinfo.profile}", "Bearer", exampleTime)
		mock.ExpectQuery(regexp.QuoteMeta("FROM user_credentials")).
			WithArgs(int64(42)).
			WillReturnRows(rows)

		creds, err := storage.GetCredentials(42)
		require.NoError(t, err)
		require.NotNil(t, creds)
		assert.Equal(t, "access", creds.AccessToken)
		assert.Equal(t, "refresh", creds.RefreshToken)
		assert.Equal(t, []string{"calendar.readonly", "userinfo.profile"}, creds.Scopes)
		assert.Equal(t, exampleTime, creds.Expiry)
	})

	t.Run("Get missing returns nil", func(t *testing.T) {
		storage, mock := setup(t)

		mock.ExpectQuery(regexp.QuoteMeta("FROM user_credentials")).
			WithArgs(int64(42)).
			WillReturnRows(sqlmock.NewRows([]string{"access_token"}))

		creds, err := storage.GetCredentials(42)
		assert.NoError(t, err)
		assert.Nil(t, creds)
	})

	t.Run("Get propagates db errors", func(t *testing.T) {
		storage, mock := setup(t)

		dbErr := errors.New("connection reset")
		mock.ExpectQuery(regexp.QuoteMeta("FROM user_credentials")).
			WithArgs(int64(42)).
			WillReturnError(dbErr)

		_, err := storage.GetCredentials(42)
		assert.ErrorIs(t, err, dbErr)
	})

	t.Run("Delete", func(t *testing.T) {
		storage, mock := setup(t)

		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM user_credentials WHERE chat_id=$1")).
			WithArgs(int64(42)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, storage.DeleteCredentials(42))
	})
}

func TestPendingState(t *testing.T) {
	t.Run("Save replaces state of the session", func(t *testing.T) {
		storage, mock := setup(t)

		state := &domain.PendingState{
			Token:     "abc",
			Verifier:  "verifier",
			CreatedAt: exampleTime,
			ExpiresAt: exampleTime.Add(10 * time.Minute),
		}
		mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (chat_id) DO UPDATE")).
			WithArgs(int64(42), "abc", "verifier", exampleTime, exampleTime.Add(10*time.Minute)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, storage.SavePendingState(42, state))
	})

	t.Run("Get by session", func(t *testing.T) {
		storage, mock := setup(t)

		rows := sqlmock.NewRows([]string{"state", "verifier", "created_at", "expires_at"}).
			AddRow("abc", "verifier", exampleTime, exampleTime.Add(10*time.Minute))
		mock.ExpectQuery(regexp.QuoteMeta("FROM oauth_states")).
			WithArgs(int64(42)).
			WillReturnRows(rows)

		state, err := storage.GetPendingState(42)
		require.NoError(t, err)
		require.NotNil(t, state)
		assert.Equal(t, int64(42), state.SessionID)
		assert.Equal(t, "abc", state.Token)
		assert.Equal(t, "verifier", state.Verifier)
		assert.Equal(t, exampleTime.Add(10*time.Minute), state.ExpiresAt)
	})

	t.Run("Get missing returns nil", func(t *testing.T) {
		storage, mock := setup(t)

		mock.ExpectQuery(regexp.QuoteMeta("FROM oauth_states")).
			WithArgs(int64(42)).
			WillReturnRows(sqlmock.NewRows([]string{"state", "verifier", "created_at", "expires_at"}))

		state, err := storage.GetPendingState(42)
		assert.NoError(t, err)
		assert.Nil(t, state)
	})

	t.Run("Resolve session by state", func(t *testing.T) {
		storage, mock := setup(t)

		mock.ExpectQuery(regexp.QuoteMeta("SELECT chat_id FROM oauth_states WHERE state=$1")).
			WithArgs("abc").
			WillReturnRows(sqlmock.NewRows([]string{"chat_id"}).AddRow(int64(42)))

		sessionID, err := storage.GetSessionIDByState("abc")
		require.NoError(t, err)
		assert.Equal(t, int64(42), sessionID)
	})

	t.Run("Unknown state", func(t *testing.T) {
		storage, mock := setup(t)

		mock.ExpectQuery(regexp.QuoteMeta("SELECT chat_id FROM oauth_states WHERE state=$1")).
			WithArgs("nope").
			WillReturnRows(sqlmock.NewRows([]string{"chat_id"}))

		_, err := storage.GetSessionIDByState("nope")
		assert.ErrorIs(t, err, domain.ErrStateNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		storage, mock := setup(t)

		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM oauth_states WHERE chat_id=$1")).
			WithArgs(int64(42)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, storage.DeletePendingState(42))
	})

	t.Run("Cleanup expired", func(t *testing.T) {
		storage, mock := setup(t)

		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM oauth_states WHERE expires_at < $1")).
			WithArgs(sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 3))

		assert.NoError(t, storage.CleanupExpiredStates())
	})
}
