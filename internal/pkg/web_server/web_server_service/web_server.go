package web_server_service

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"calendar_helper_bot/internal/pkg/oauth/oauth_service"
	"calendar_helper_bot/internal/pkg/session/domain"
)

const (
	secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"
	webhookPrefix     = "/api/webhook/"
	maxWebhookBody    = 1 << 20

	callbackSuccessText  = "Авторизация успешна! Вернитесь в Telegram, чтобы продолжить."
	stateMismatchText    = "Ошибка: Неверное состояние."
	tokenErrorText       = "Ошибка при получении токена: "
	providerErrorText    = "Ошибка авторизации: "
	missingCodeText      = "Код авторизации не получен"
	internalErrorText    = "Ошибка при сохранении авторизации"
	subscribePlaceholder = "<h2>Интеграция с TON Connect в процессе разработки. Скоро здесь появится возможность подписки через TON Wallet.</h2>"
)

type Authorizer interface {
	CompleteCallback(ctx context.Context, state, code string) (int64, *domain.CredentialBundle, error)
}

type Notifier interface {
	NotifyAuthorized(sessionID int64) error
}

type UpdateQueue interface {
	Enqueue(update tgbotapi.Update) error
}

type WebServer struct {
	oauth     Authorizer
	notifier  Notifier
	queue     UpdateQueue
	botToken  string
	secretKey string
	server    *http.Server
}

func NewWebServer(oauth Authorizer, notifier Notifier, queue UpdateQueue, botToken, secretKey, port string) *WebServer {
	ws := &WebServer{
		oauth:     oauth,
		notifier:  notifier,
		queue:     queue,
		botToken:  botToken,
		secretKey: secretKey,
	}
	ws.server = &http.Server{
		Addr:              ":" + port,
		Handler:           ws.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return ws
}

func (ws *WebServer) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(requestLogger)

	for _, prefix := range []string{"", "/api"} {
		router.HandleFunc(prefix+"/callback", ws.handleOAuthCallback).Methods(http.MethodGet)
		router.HandleFunc(prefix+"/subscribe", ws.handleSubscribe).Methods(http.MethodGet)
	}
	router.HandleFunc(webhookPrefix+"{token}", ws.handleWebhook).Methods(http.MethodPost)
	router.HandleFunc("/health", ws.handleHealthCheck).Methods(http.MethodGet)

	return router
}

// Start блокируется до остановки сервера
func (ws *WebServer) Start() error {
	log.Info().Str("addr", ws.server.Addr).Msg("starting web server")
	if err := ws.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (ws *WebServer) Shutdown(ctx context.Context) error {
	return ws.server.Shutdown(ctx)
}

func (ws *WebServer) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	writeText(w, http.StatusOK, "OK")
}

func (ws *WebServer) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(subscribePlaceholder))
}

func (ws *WebServer) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	queryParams := r.URL.Query()
	code := queryParams.Get("code")
	state := queryParams.Get("state")

	if errorParam := queryParams.Get("error"); errorParam != "" {
		description := queryParams.Get("error_description")
		if description == "" {
			description = errorParam
		}
		log.Warn().Str("error", errorParam).Str("description", description).Msg("oauth provider returned error")
		writeText(w, http.StatusBadRequest, providerErrorText+description)
		return
	}

	if code == "" {
		writeText(w, http.StatusBadRequest, missingCodeText)
		return
	}

	sessionID, _, err := ws.oauth.CompleteCallback(r.Context(), state, code)
	switch {
	case errors.Is(err, oauth_service.ErrStateMismatch):
		log.Warn().Err(err).Msg("invalid oauth state")
		writeText(w, http.StatusBadRequest, stateMismatchText)
		return
	case errors.Is(err, oauth_service.ErrTokenExchange):
		log.Error().Err(err).Int64("session_id", sessionID).Msg("error exchanging code for token")
		writeText(w, http.StatusBadGateway, tokenErrorText+err.Error())
		return
	case err != nil:
		log.Error().Err(err).Int64("session_id", sessionID).Msg("error completing authorization")
		writeText(w, http.StatusInternalServerError, internalErrorText)
		return
	}

	if ws.notifier != nil {
		if err := ws.notifier.NotifyAuthorized(sessionID); err != nil {
			log.Warn().Err(err).Int64("session_id", sessionID).Msg("error sending telegram message")
		}
	}

	writeText(w, http.StatusOK, callbackSuccessText)
}

func (ws *WebServer) handleWebhook(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	if subtle.ConstantTimeCompare([]byte(token), []byte(ws.botToken)) != 1 {
		http.NotFound(w, r)
		return
	}

	if ws.secretKey != "" {
		header := r.Header.Get(secretTokenHeader)
		if subtle.ConstantTimeCompare([]byte(header), []byte(ws.secretKey)) != 1 {
			writeText(w, http.StatusUnauthorized, "unauthorized")
			return
		}
	}

	var update tgbotapi.Update
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWebhookBody)).Decode(&update); err != nil {
		log.Warn().Err(err).Msg("malformed webhook payload")
		writeText(w, http.StatusBadRequest, "bad request")
		return
	}

	if err := ws.queue.Enqueue(update); err != nil {
		log.Warn().Err(err).Int("update_id", update.UpdateID).Msg("failed to enqueue update")
		writeText(w, http.StatusServiceUnavailable, "busy")
		return
	}

	w.WriteHeader(http.StatusOK)
}

func writeText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(text))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		path := r.URL.Path
		if strings.HasPrefix(path, webhookPrefix) {
			path = webhookPrefix + "REDACTED"
		}
		log.Info().
			Str("method", r.Method).
			Str("path", path).
			Int("status", rec.status).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("http request")
	})
}
