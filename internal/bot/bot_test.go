package bot

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calendar_helper_bot/internal/pkg/calendar/calendar_service"
	"calendar_helper_bot/internal/pkg/oauth/oauth_service"
)

const userID = int64(42)

type fakeSender struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	sendErr  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, f.sendErr
}

func (f *fakeSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeSender) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var texts []string
	for _, c := range f.sent {
		switch msg := c.(type) {
		case tgbotapi.MessageConfig:
			texts = append(texts, msg.Text)
		case tgbotapi.EditMessageTextConfig:
			texts = append(texts, msg.Text)
		}
	}
	return texts
}

type fakeAuthorizer struct {
	authURL   string
	beginErr  error
	client    *http.Client
	clientErr error
	logoutErr error
	began     []int64
	loggedOut []int64
	panicOn   bool
}

func (f *fakeAuthorizer) Begin(ctx context.Context, sessionID int64) (string, string, error) {
	if f.panicOn {
		panic("boom")
	}
	f.began = append(f.began, sessionID)
	return f.authURL, "state", f.beginErr
}

func (f *fakeAuthorizer) HTTPClient(ctx context.Context, sessionID int64) (*http.Client, error) {
	return f.client, f.clientErr
}

func (f *fakeAuthorizer) Logout(sessionID int64) error {
	f.loggedOut = append(f.loggedOut, sessionID)
	return f.logoutErr
}

type fakeLister struct {
	events []calendar_service.Event
	err    error
}

func (f *fakeLister) UpcomingEvents(ctx context.Context, client *http.Client) ([]calendar_service.Event, error) {
	return f.events, f.err
}

func command(text string) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: 1,
		Message: &tgbotapi.Message{
			MessageID: 10,
			From:      &tgbotapi.User{ID: userID},
			Chat:      &tgbotapi.Chat{ID: userID, Type: "private"},
			Text:      text,
			Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(strings.Fields(text)[0])}},
		},
	}
}

func authorizeCallback(withMessage bool) tgbotapi.Update {
	query := &tgbotapi.CallbackQuery{
		ID:   "cb-1",
		From: &tgbotapi.User{ID: userID},
		Data: authorizeCallbackData,
	}
	if withMessage {
		query.Message = &tgbotapi.Message{MessageID: 10, Chat: &tgbotapi.Chat{ID: userID}}
	}
	return tgbotapi.Update{UpdateID: 2, CallbackQuery: query}
}

func setup() (*Bot, *fakeSender, *fakeAuthorizer, *fakeLister) {
	sender := &fakeSender{}
	authorizer := &fakeAuthorizer{authURL: "https://accounts.google.com/o/oauth2/auth?state=abc", client: http.DefaultClient}
	lister := &fakeLister{}
	return New(sender, authorizer, lister, 1, 4), sender, authorizer, lister
}

func TestStart(t *testing.T) {
	b, sender, _, _ := setup()

	b.HandleUpdate(context.Background(), command("/start"))

	require.Len(t, sender.sent, 1)
	msg, ok := sender.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, userID, msg.ChatID)
	assert.Equal(t, welcomeText, msg.Text)

	keyboard, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, keyboard.InlineKeyboard, 1)
	require.Len(t, keyboard.InlineKeyboard[0], 1)
	button := keyboard.InlineKeyboard[0][0]
	assert.Equal(t, authorizeButtonText, button.Text)
	require.NotNil(t, button.CallbackData)
	assert.Equal(t, authorizeCallbackData, *button.CallbackData)
}

func TestAuthorizeCallback(t *testing.T) {
	t.Run("Edits message with consent link", func(t *testing.T) {
		b, sender, authorizer, _ := setup()

		b.HandleUpdate(context.Background(), authorizeCallback(true))

		assert.Equal(t, []int64{userID}, authorizer.began)
		require.Len(t, sender.requests, 1)
		answer, ok := sender.requests[0].(tgbotapi.CallbackConfig)
		require.True(t, ok)
		assert.Equal(t, "cb-1", answer.CallbackQueryID)

		require.Len(t, sender.sent, 1)
		edit, ok := sender.sent[0].(tgbotapi.EditMessageTextConfig)
		require.True(t, ok)
		assert.Equal(t, 10, edit.MessageID)
		assert.Equal(t, authLinkText+authorizer.authURL, edit.Text)
	})

	t.Run("Sends link when message is gone", func(t *testing.T) {
		b, sender, authorizer, _ := setup()

		b.HandleUpdate(context.Background(), authorizeCallback(false))

		assert.Equal(t, []string{authLinkText + authorizer.authURL}, sender.texts())
	})

	t.Run("Begin failure", func(t *testing.T) {
		b, sender, authorizer, _ := setup()
		authorizer.beginErr = errors.New("storage down")

		b.HandleUpdate(context.Background(), authorizeCallback(true))

		assert.Equal(t, []string{authFailedText}, sender.texts())
	})

	t.Run("Unknown callback data is only answered", func(t *testing.T) {
		b, sender, authorizer, _ := setup()
		update := authorizeCallback(true)
		update.CallbackQuery.Data = "something-else"

		b.HandleUpdate(context.Background(), update)

		assert.Len(t, sender.requests, 1)
		assert.Empty(t, sender.sent)
		assert.Empty(t, authorizer.began)
	})
}

func TestCalendarCommand(t *testing.T) {
	t.Run("Not authorized", func(t *testing.T) {
		b, sender, authorizer, _ := setup()
		authorizer.clientErr = oauth_service.ErrNotAuthorized

		b.HandleUpdate(context.Background(), command("/calendar"))

		assert.Equal(t, []string{notAuthorizedText}, sender.texts())
	})

	t.Run("Lists events", func(t *testing.T) {
		b, sender, _, lister := setup()
		lister.events = []calendar_service.Event{
			{ID: "1", Summary: "Созвон", Start: "2099-01-01T09:00:00Z"},
		}

		b.HandleUpdate(context.Background(), command("/calendar"))

		assert.Equal(t, []string{"Предстоящие события:\n2099-01-01T09:00:00Z - Созвон\n"}, sender.texts())
	})

	t.Run("No events", func(t *testing.T) {
		b, sender, _, _ := setup()

		b.HandleUpdate(context.Background(), command("/calendar"))

		assert.Equal(t, []string{"Нет предстоящих событий."}, sender.texts())
	})

	t.Run("Calendar failure", func(t *testing.T) {
		b, sender, _, lister := setup()
		lister.err = calendar_service.ErrCalendarQuery

		b.HandleUpdate(context.Background(), command("/calendar"))

		assert.Equal(t, []string{calendarFailedText}, sender.texts())
	})

	t.Run("Credential load failure", func(t *testing.T) {
		b, sender, authorizer, _ := setup()
		authorizer.clientErr = errors.New("db down")

		b.HandleUpdate(context.Background(), command("/calendar"))

		assert.Equal(t, []string{calendarFailedText}, sender.texts())
	})
}

func TestLogoutAndUnknown(t *testing.T) {
	b, sender, authorizer, _ := setup()

	b.HandleUpdate(context.Background(), command("/logout"))
	b.HandleUpdate(context.Background(), command("/help"))

	assert.Equal(t, []int64{userID}, authorizer.loggedOut)
	assert.Equal(t, []string{logoutText, unknownCommandText}, sender.texts())

	authorizer.logoutErr = errors.New("db down")
	b.HandleUpdate(context.Background(), command("/logout"))
	assert.Equal(t, logoutFailedText, sender.texts()[2])
}

func TestPlainTextIsIgnored(t *testing.T) {
	b, sender, _, _ := setup()

	b.HandleUpdate(context.Background(), tgbotapi.Update{
		Message: &tgbotapi.Message{Text: "hello", Chat: &tgbotapi.Chat{ID: userID}},
	})

	assert.Empty(t, sender.sent)
}

func TestHandleUpdateRecoversPanic(t *testing.T) {
	b, _, authorizer, _ := setup()
	authorizer.panicOn = true

	assert.NotPanics(t, func() {
		b.HandleUpdate(context.Background(), authorizeCallback(true))
	})
}

func TestNotifyAuthorized(t *testing.T) {
	b, sender, _, _ := setup()

	require.NoError(t, b.NotifyAuthorized(userID))

	require.Len(t, sender.sent, 1)
	msg := sender.sent[0].(tgbotapi.MessageConfig)
	assert.Equal(t, userID, msg.ChatID)
	assert.Equal(t, authSuccessText, msg.Text)

	sender.sendErr = errors.New("forbidden")
	assert.Error(t, b.NotifyAuthorized(userID))
}

func TestQueue(t *testing.T) {
	t.Run("Full queue rejects without blocking", func(t *testing.T) {
		b := New(&fakeSender{}, &fakeAuthorizer{}, &fakeLister{}, 1, 2)

		assert.NoError(t, b.Enqueue(command("/start")))
		assert.NoError(t, b.Enqueue(command("/start")))
		assert.ErrorIs(t, b.Enqueue(command("/start")), ErrQueueFull)
	})

	t.Run("Workers drain queue until cancelled", func(t *testing.T) {
		sender := &fakeSender{}
		b := New(sender, &fakeAuthorizer{}, &fakeLister{}, 3, 10)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			b.Run(ctx)
			close(done)
		}()

		for i := 0; i < 5; i++ {
			require.NoError(t, b.Enqueue(command("/help")))
		}
		assert.Eventually(t, func() bool { return len(sender.texts()) == 5 }, time.Second, 5*time.Millisecond)

		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("workers did not stop")
		}
	})
}

// telegramServer имитирует Bot API для проверки вебхука и long polling
func telegramServer(t *testing.T, handle func(method string, r *http.Request) interface{}) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]

		var result interface{}
		if method == "getMe" {
			result = tgbotapi.User{ID: 1, IsBot: true, UserName: "calendar_test_bot"}
		} else {
			result = handle(method, r)
		}

		raw, err := json.Marshal(result)
		assert.NoError(t, err)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(tgbotapi.APIResponse{Ok: true, Result: raw})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestRegisterWebhook(t *testing.T) {
	forms := make(chan map[string]string, 1)
	server := telegramServer(t, func(method string, r *http.Request) interface{} {
		assert.Equal(t, "setWebhook", method)
		forms <- map[string]string{
			"url":          r.PostForm.Get("url"),
			"secret_token": r.PostForm.Get("secret_token"),
		}
		return true
	})

	api, err := tgbotapi.NewBotAPIWithClient("123:ABC", server.URL+"/bot%s/%s", server.Client())
	require.NoError(t, err)

	require.NoError(t, RegisterWebhook(api, "https://bot.example.com/api/webhook/123:ABC", "s3cret"))

	form := <-forms
	assert.Equal(t, "https://bot.example.com/api/webhook/123:ABC", form["url"])
	assert.Equal(t, "s3cret", form["secret_token"])
}

func TestPoll(t *testing.T) {
	var served atomic.Bool
	server := telegramServer(t, func(method string, r *http.Request) interface{} {
		if method != "getUpdates" {
			return true
		}
		if served.CompareAndSwap(false, true) {
			return []tgbotapi.Update{command("/start")}
		}
		time.Sleep(10 * time.Millisecond)
		return []tgbotapi.Update{}
	})

	api, err := tgbotapi.NewBotAPIWithClient("123:ABC", server.URL+"/bot%s/%s", server.Client())
	require.NoError(t, err)

	b := New(&fakeSender{}, &fakeAuthorizer{}, &fakeLister{}, 1, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Poll(ctx, api)
		close(done)
	}()

	select {
	case update := <-b.updates:
		assert.Equal(t, "/start", update.Message.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("update was not queued")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("poll did not stop")
	}
}
