// Package calendar materializes calendar_event items in the user's Google
// Calendar. Everything here is a best-effort side effect: failures are
// reported to the caller for logging but must never affect item persistence.
package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/voxjot/voxjot/internal/logging"
	"github.com/voxjot/voxjot/internal/store"
)

// ErrNotConnected is returned when the user has no connected calendar
// credential. Callers treat it as a silent no-op.
var ErrNotConnected = errors.New("calendar not connected")

// Default Google endpoints. Tests override them through Config.
const (
	DefaultAuthURL    = "https://accounts.google.com/o/oauth2/v2/auth"
	DefaultTokenURL   = "https://oauth2.googleapis.com/token"
	DefaultAPIBaseURL = "https://www.googleapis.com/calendar/v3"
)

const eventsScope = "https://www.googleapis.com/auth/calendar.events"

// Config holds the OAuth client settings and endpoint overrides.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	APIBaseURL   string
	HTTPClient   *http.Client
}

// CredentialStore is the slice of store.Store the calendar service needs.
type CredentialStore interface {
	Credential(userID string) (*store.CalendarCredential, error)
	SaveCredential(cred *store.CalendarCredential) error
	UpdateAccessToken(userID, accessToken string, expiryMillis int64) error
	DisconnectCalendar(userID string) error
}

// EventSpec describes the remote event to create.
type EventSpec struct {
	Summary     string
	Description string
	StartTime   time.Time
	EndTime     time.Time
	TimeZone    string
}

// Service creates remote calendar events and manages the per-user
// credential, refreshing expired access tokens transparently.
type Service struct {
	cfg    Config
	creds  CredentialStore
	client *http.Client
}

// New creates a calendar service.
func New(cfg Config, creds CredentialStore) *Service {
	if cfg.AuthURL == "" {
		cfg.AuthURL = DefaultAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Service{cfg: cfg, creds: creds, client: client}
}

// EnsureEvent creates the remote event for the user. On an authorization
// failure with a refresh token present, it refreshes the access token and
// retries the creation exactly once; a second authorization failure is a
// hard failure. Returns the remote event id on success, ErrNotConnected when
// no credential is connected.
func (s *Service) EnsureEvent(ctx context.Context, userID string, spec EventSpec) (string, error) {
	cred, err := s.creds.Credential(userID)
	if err != nil {
		return "", fmt.Errorf("load credential: %w", err)
	}
	if cred == nil || !cred.Connected {
		return "", ErrNotConnected
	}

	eventID, err := s.createEvent(ctx, cred.AccessToken, spec)
	if err == nil {
		return eventID, nil
	}
	if !isAuthError(err) || cred.RefreshToken == "" {
		return "", err
	}

	// Expired access token: refresh and retry once. A second 401 surfaces
	// as a hard failure rather than looping.
	logging.Infof("calendar access token expired for user %s, refreshing", userID)
	accessToken, expiryMillis, err := s.refreshAccessToken(ctx, cred.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("refresh access token: %w", err)
	}
	if err := s.creds.UpdateAccessToken(userID, accessToken, expiryMillis); err != nil {
		return "", fmt.Errorf("persist refreshed token: %w", err)
	}

	return s.createEvent(ctx, accessToken, spec)
}

// AuthURL returns the OAuth consent URL for connecting the user's calendar.
// The user id rides in the state parameter and comes back on the callback.
func (s *Service) AuthURL(userID string) string {
	q := url.Values{}
	q.Set("client_id", s.cfg.ClientID)
	q.Set("redirect_uri", s.cfg.RedirectURL)
	q.Set("response_type", "code")
	q.Set("scope", eventsScope)
	q.Set("access_type", "offline")
	q.Set("prompt", "consent")
	q.Set("state", userID)
	return s.cfg.AuthURL + "?" + q.Encode()
}

// ExchangeCode trades an authorization code for tokens and stores them as a
// connected credential.
func (s *Service) ExchangeCode(ctx context.Context, userID, code string) error {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", s.cfg.ClientID)
	form.Set("client_secret", s.cfg.ClientSecret)
	form.Set("redirect_uri", s.cfg.RedirectURL)

	tok, err := s.postToken(ctx, form)
	if err != nil {
		return fmt.Errorf("exchange code: %w", err)
	}

	cred := &store.CalendarCredential{
		UserID:       userID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiryMillis: expiryFromNow(tok.ExpiresIn),
		Connected:    true,
	}
	if err := s.creds.SaveCredential(cred); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

// Disconnect clears all stored credential fields for the user.
func (s *Service) Disconnect(userID string) error {
	return s.creds.DisconnectCalendar(userID)
}

// Connected reports whether the user has a connected credential.
func (s *Service) Connected(userID string) (bool, error) {
	cred, err := s.creds.Credential(userID)
	if err != nil {
		return false, err
	}
	return cred != nil && cred.Connected, nil
}

// Wire types.

type eventBody struct {
	Summary     string     `json:"summary"`
	Description string     `json:"description,omitempty"`
	Start       eventTime  `json:"start"`
	End         eventTime  `json:"end"`
	Reminders   *reminders `json:"reminders,omitempty"`
}

type eventTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone,omitempty"`
}

type reminders struct {
	UseDefault bool            `json:"useDefault"`
	Overrides  []reminderEntry `json:"overrides"`
}

type reminderEntry struct {
	Method  string `json:"method"`
	Minutes int    `json:"minutes"`
}

type eventResponse struct {
	ID string `json:"id"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// authError marks a 401 from the calendar API.
type authError struct {
	status int
	body   string
}

func (e *authError) Error() string {
	return fmt.Sprintf("calendar authorization failed (HTTP %d): %s", e.status, e.body)
}

func isAuthError(err error) bool {
	var ae *authError
	return errors.As(err, &ae)
}

func (s *Service) createEvent(ctx context.Context, accessToken string, spec EventSpec) (string, error) {
	body := eventBody{
		Summary:     spec.Summary,
		Description: spec.Description,
		Start:       eventTime{DateTime: spec.StartTime.UTC().Format(time.RFC3339), TimeZone: spec.TimeZone},
		End:         eventTime{DateTime: spec.EndTime.UTC().Format(time.RFC3339), TimeZone: spec.TimeZone},
		Reminders: &reminders{
			UseDefault: false,
			Overrides: []reminderEntry{
				{Method: "email", Minutes: 24 * 60},
				{Method: "popup", Minutes: 30},
			},
		},
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	u := strings.TrimRight(s.cfg.APIBaseURL, "/") + "/calendars/primary/events"
	req, err := http.NewRequestWithContext(ctx, "POST", u, strings.NewReader(string(jsonBody)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling calendar API: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return "", &authError{status: resp.StatusCode, body: string(respBody)}
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("calendar API error (HTTP %d): %s", resp.StatusCode, string(respBody))
	}

	var ev eventResponse
	if err := json.Unmarshal(respBody, &ev); err != nil {
		return "", fmt.Errorf("parsing event response: %w", err)
	}
	return ev.ID, nil
}

func (s *Service) refreshAccessToken(ctx context.Context, refreshToken string) (string, int64, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", s.cfg.ClientID)
	form.Set("client_secret", s.cfg.ClientSecret)

	tok, err := s.postToken(ctx, form)
	if err != nil {
		return "", 0, err
	}
	return tok.AccessToken, expiryFromNow(tok.ExpiresIn), nil
}

func (s *Service) postToken(ctx context.Context, form url.Values) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", s.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling token endpoint: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token endpoint error (HTTP %d): %s", resp.StatusCode, string(respBody))
	}

	var tok tokenResponse
	if err := json.Unmarshal(respBody, &tok); err != nil {
		return nil, fmt.Errorf("parsing token response: %w", err)
	}
	return &tok, nil
}

func expiryFromNow(expiresIn int64) int64 {
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	return time.Now().UnixMilli() + expiresIn*1000
}
