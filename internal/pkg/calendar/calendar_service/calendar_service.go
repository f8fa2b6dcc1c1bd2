package calendar_service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

const (
	DefaultMaxResults = 10
	primaryCalendarID = "primary"
)

var ErrCalendarQuery = errors.New("calendar query failed")

type Event struct {
	ID      string
	Summary string
	// Start как пришло из API: dateTime или date для событий на весь день
	Start  string
	AllDay bool
}

type CalendarService struct {
	endpoint   string
	maxResults int64
	now        func() time.Time
}

// NewCalendarService endpoint пустой для настоящего Google API
func NewCalendarService(endpoint string, maxResults int64) *CalendarService {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	return &CalendarService{
		endpoint:   endpoint,
		maxResults: maxResults,
		now:        time.Now,
	}
}

// UpcomingEvents запрашивает ближайшие события основного календаря в хронологическом порядке
func (c *CalendarService) UpcomingEvents(ctx context.Context, client *http.Client) ([]Event, error) {
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}

	srv, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create calendar service: %w", ErrCalendarQuery, err)
	}

	result, err := srv.Events.List(primaryCalendarID).
		TimeMin(c.now().Format(time.RFC3339)).
		MaxResults(c.maxResults).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCalendarQuery, err)
	}

	events := make([]Event, 0, len(result.Items))
	for _, item := range result.Items {
		if item.Start == nil {
			log.Debug().Str("event_id", item.Id).Msg("skipping event without start")
			continue
		}
		event := Event{
			ID:      item.Id,
			Summary: item.Summary,
			Start:   item.Start.DateTime,
		}
		if event.Start == "" {
			event.Start = item.Start.Date
			event.AllDay = true
		}
		events = append(events, event)
	}

	log.Debug().Int("event_count", len(events)).Msg("fetched upcoming events")
	return events, nil
}

// FormatEvents текст ответа бота: по строке "начало - название" на событие
func FormatEvents(events []Event) string {
	if len(events) == 0 {
		return "Нет предстоящих событий."
	}

	var b strings.Builder
	b.WriteString("Предстоящие события:\n")
	for _, event := range events {
		summary := event.Summary
		if summary == "" {
			summary = "(без названия)"
		}
		fmt.Fprintf(&b, "%s - %s\n", event.Start, summary)
	}
	return b.String()
}
