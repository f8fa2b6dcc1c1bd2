package handlers

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"calendar_helper_bot/internal/pkg/mock-api/models"
)

const defaultScope = "https://www.googleapis.com/auth/calendar.readonly https://www.googleapis.com/auth/userinfo.profile"

// MockGoogle имитирует страницу согласия, token endpoint и Calendar API Google
type MockGoogle struct {
	mu            sync.Mutex
	events        []models.Event
	challenges    map[string]string
	accessTokens  map[string]bool
	refreshTokens map[string]bool
	failNext      int
	failStatus    int
	tokenRequests int
	scope         string
}

func New() *MockGoogle {
	return &MockGoogle{
		challenges:    make(map[string]string),
		accessTokens:  make(map[string]bool),
		refreshTokens: make(map[string]bool),
		scope:         defaultScope,
	}
}

// RegisterRoutes подключает эндпоинты к роутеру
func (m *MockGoogle) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/o/oauth2/auth", m.AuthHandler).Methods(http.MethodGet)
	router.HandleFunc("/token", m.TokenHandler).Methods(http.MethodPost)
	router.HandleFunc("/calendar/v3/calendars/{calendarID}/events", m.EventsHandler).Methods(http.MethodGet)
}

func (m *MockGoogle) Router() *mux.Router {
	router := mux.NewRouter()
	m.RegisterRoutes(router)
	return router
}

func (m *MockGoogle) SetEvents(events []models.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append([]models.Event(nil), events...)
}

func (m *MockGoogle) SetScope(scope string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scope = scope
}

// FailNextTokenRequests следующие n запросов к token endpoint вернут status
func (m *MockGoogle) FailNextTokenRequests(n, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
	m.failStatus = status
}

func (m *MockGoogle) TokenRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokenRequests
}

// IssueAccessToken регистрирует access token, который примет Calendar API
func (m *MockGoogle) IssueAccessToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	token := "ya29.mock-" + uuid.NewString()
	m.accessTokens[token] = true
	return token
}

func (m *MockGoogle) RevokeAccessToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.accessTokens, token)
}

// AuthHandler сразу "соглашается" и редиректит на redirect_uri с кодом
func (m *MockGoogle) AuthHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	redirectURI := q.Get("redirect_uri")
	if redirectURI == "" || q.Get("client_id") == "" {
		sendError(w, "invalid_request", "client_id and redirect_uri are required", http.StatusBadRequest)
		return
	}

	target, err := url.Parse(redirectURI)
	if err != nil {
		sendError(w, "invalid_request", "malformed redirect_uri", http.StatusBadRequest)
		return
	}

	code := "4/mock-" + uuid.NewString()
	if q.Get("code_challenge") != "" {
		if method := q.Get("code_challenge_method"); method != "S256" {
			sendError(w, "invalid_request", "unsupported code_challenge_method", http.StatusBadRequest)
			return
		}
		m.mu.Lock()
		m.challenges[code] = q.Get("code_challenge")
		m.mu.Unlock()
	}

	params := target.Query()
	params.Set("code", code)
	params.Set("state", q.Get("state"))
	target.RawQuery = params.Encode()

	http.Redirect(w, r, target.String(), http.StatusFound)
}

// TokenHandler обрабатывает grant_type authorization_code и refresh_token
func (m *MockGoogle) TokenHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		sendError(w, "invalid_request", "malformed form", http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.tokenRequests++
	if m.failNext > 0 {
		m.failNext--
		sendError(w, "temporarily_unavailable", "injected failure", m.failStatus)
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		code := r.PostForm.Get("code")
		if code == "" || strings.HasPrefix(code, "invalid") {
			sendError(w, "invalid_grant", "Malformed auth code.", http.StatusBadRequest)
			return
		}
		if challenge, ok := m.challenges[code]; ok {
			delete(m.challenges, code)
			if s256(r.PostForm.Get("code_verifier")) != challenge {
				sendError(w, "invalid_grant", "Invalid code verifier.", http.StatusBadRequest)
				return
			}
		}
		m.sendTokenLocked(w, true)

	case "refresh_token":
		if !m.refreshTokens[r.PostForm.Get("refresh_token")] {
			sendError(w, "invalid_grant", "Token has been expired or revoked.", http.StatusBadRequest)
			return
		}
		m.sendTokenLocked(w, false)

	default:
		sendError(w, "unsupported_grant_type", "Invalid grant_type", http.StatusBadRequest)
	}
}

func (m *MockGoogle) sendTokenLocked(w http.ResponseWriter, withRefresh bool) {
	response := models.TokenResponse{
		AccessToken: "ya29.mock-" + uuid.NewString(),
		ExpiresIn:   3599,
		TokenType:   "Bearer",
		Scope:       m.scope,
	}
	m.accessTokens[response.AccessToken] = true

	if withRefresh {
		response.RefreshToken = "1//mock-" + uuid.NewString()
		m.refreshTokens[response.RefreshToken] = true
	}

	sendJSON(w, response)
}

// EventsHandler отдает события, отсортированные по началу, как events.list с orderBy=startTime
func (m *MockGoogle) EventsHandler(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	m.mu.Lock()
	authorized := token != "" && m.accessTokens[token]
	events := append([]models.Event(nil), m.events...)
	m.mu.Unlock()

	if !authorized {
		sendAPIError(w, "Request had invalid authentication credentials.", http.StatusUnauthorized)
		return
	}

	q := r.URL.Query()
	if timeMin := q.Get("timeMin"); timeMin != "" {
		lowerBound, err := time.Parse(time.RFC3339, timeMin)
		if err != nil {
			sendAPIError(w, "Bad Request", http.StatusBadRequest)
			return
		}
		filtered := events[:0]
		for _, e := range events {
			end := e.End
			if end.Date == "" && end.DateTime == "" {
				end = e.Start
			}
			if eventTime(end).After(lowerBound) {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}

	if q.Get("orderBy") == "startTime" {
		sort.SliceStable(events, func(i, j int) bool {
			return eventTime(events[i].Start).Before(eventTime(events[j].Start))
		})
	}

	if maxResults, err := strconv.Atoi(q.Get("maxResults")); err == nil && maxResults > 0 && len(events) > maxResults {
		events = events[:maxResults]
	}

	sendJSON(w, models.EventsResponse{
		Kind:     "calendar#events",
		Summary:  mux.Vars(r)["calendarID"],
		TimeZone: "UTC",
		Items:    events,
	})
}

// Вспомогательные функции
func eventTime(dt models.EventDateTime) time.Time {
	if dt.DateTime != "" {
		t, _ := time.Parse(time.RFC3339, dt.DateTime)
		return t
	}
	t, _ := time.Parse("2006-01-02", dt.Date)
	return t
}

func s256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func sendJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(data)
}

func sendError(w http.ResponseWriter, code, description string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(models.ErrorResponse{
		Error:            code,
		ErrorDescription: description,
	})
}

func sendAPIError(w http.ResponseWriter, message string, status int) {
	var errResp models.APIErrorResponse
	errResp.Error.Code = status
	errResp.Error.Message = message

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errResp)
}
