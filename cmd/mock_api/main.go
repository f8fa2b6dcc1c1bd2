package main

import (
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"calendar_helper_bot/internal/logger"
	"calendar_helper_bot/internal/pkg/mock-api/handlers"
	"calendar_helper_bot/internal/pkg/mock-api/models"
)

func main() {
	if err := logger.Init("debug", true); err != nil {
		log.Fatal().Err(err).Msg("failed to init logger")
	}

	mock := handlers.New()
	mock.SetEvents(demoEvents(time.Now()))

	router := mux.NewRouter()
	mock.RegisterRoutes(router)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	port := os.Getenv("MOCK_API_PORT")
	if port == "" {
		port = "8082"
	}

	log.Info().
		Str("port", port).
		Strs("endpoints", []string{
			"GET  /o/oauth2/auth",
			"POST /token",
			"GET  /calendar/v3/calendars/{calendarID}/events",
			"GET  /health",
		}).
		Msg("mock google api started")

	log.Fatal().Err(http.ListenAndServe(":"+port, corsMiddleware(router))).Msg("mock api stopped")
}

// demoEvents несколько событий на ближайшие дни, чтобы /calendar было что показать
func demoEvents(now time.Time) []models.Event {
	day := now.Truncate(24 * time.Hour)
	at := func(d time.Duration) models.EventDateTime {
		return models.EventDateTime{DateTime: day.Add(d).Format(time.RFC3339)}
	}
	return []models.Event{
		{ID: "standup", Summary: "Стендап", Start: at(24*time.Hour + 10*time.Hour), End: at(24*time.Hour + 10*time.Hour + 15*time.Minute)},
		{ID: "review", Summary: "Ревью кода", Start: at(48*time.Hour + 15*time.Hour), End: at(48*time.Hour + 16*time.Hour)},
		{
			ID:      "dayoff",
			Summary: "Выходной",
			Start:   models.EventDateTime{Date: day.Add(72 * time.Hour).Format("2006-01-02")},
			End:     models.EventDateTime{Date: day.Add(96 * time.Hour).Format("2006-01-02")},
		},
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
