package models

// ErrorResponse ошибка token endpoint в формате OAuth2
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// APIErrorResponse ошибка Calendar API в формате Google API
type APIErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// TokenResponse ответ token endpoint
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope,omitempty"`
}

// EventDateTime начало или конец события; для событий на весь день заполнена только Date
type EventDateTime struct {
	Date     string `json:"date,omitempty"`
	DateTime string `json:"dateTime,omitempty"`
}

type Event struct {
	ID      string        `json:"id"`
	Status  string        `json:"status,omitempty"`
	Summary string        `json:"summary"`
	Start   EventDateTime `json:"start"`
	End     EventDateTime `json:"end"`
}

// EventsResponse ответ events.list
type EventsResponse struct {
	Kind     string  `json:"kind"`
	Summary  string  `json:"summary"`
	TimeZone string  `json:"timeZone"`
	Items    []Event `json:"items"`
}
