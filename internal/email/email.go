package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nwvaras/lebrely-backend/internal/logger"
)

// PasswordResetParams contains the parameters for a password reset email
type PasswordResetParams struct {
	ToEmail   string
	Name      string
	ResetURL  string
	ExpiresAt time.Time
}

// Service sends transactional email
type Service interface {
	SendPasswordReset(ctx context.Context, params PasswordResetParams) error
}

// RateLimitedService wraps a Service with a per-recipient hourly limit
type RateLimitedService struct {
	service      Service
	limiter      *RateLimiter
	limitPerHour int
}

// NewRateLimitedService creates a new rate-limited email service
func NewRateLimitedService(service Service, limitPerHour int) *RateLimitedService {
	return &RateLimitedService{
		service:      service,
		limiter:      NewRateLimiter(),
		limitPerHour: limitPerHour,
	}
}

// SendPasswordReset sends the reset email unless the recipient hit the hourly limit
func (s *RateLimitedService) SendPasswordReset(ctx context.Context, params PasswordResetParams) error {
	key := strings.ToLower(params.ToEmail)
	if !s.limiter.AllowAndRecord(key, s.limitPerHour) {
		return ErrRateLimitExceeded
	}
	return s.service.SendPasswordReset(ctx, params)
}

// RateLimiter tracks sends per key over a sliding hour
type RateLimiter struct {
	mu      sync.Mutex
	records map[string][]time.Time
	now     func() time.Time
}

// NewRateLimiter creates a new email rate limiter
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		records: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Allow checks if one more email can be sent (without recording it)
func (l *RateLimiter) Allow(key string, limitPerHour int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.countLocked(key) < limitPerHour
}

// AllowAndRecord checks the limit and records the send under one lock
func (l *RateLimiter) AllowAndRecord(key string, limitPerHour int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.countLocked(key) >= limitPerHour {
		return false
	}
	l.records[key] = append(l.records[key], l.now())
	return true
}

// Record records that an email was sent
func (l *RateLimiter) Record(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[key] = append(l.records[key], l.now())
}

// countLocked drops sends older than an hour and returns how many remain.
// l.mu must be held.
func (l *RateLimiter) countLocked(key string) int {
	oneHourAgo := l.now().Add(-time.Hour)

	var valid []time.Time
	for _, ts := range l.records[key] {
		if ts.After(oneHourAgo) {
			valid = append(valid, ts)
		}
	}
	if len(valid) == 0 {
		delete(l.records, key)
	} else {
		l.records[key] = valid
	}
	return len(valid)
}

// ResendService implements Service using the Resend API
type ResendService struct {
	apiKey      string
	fromAddress string
	fromName    string
	endpoint    string
	httpClient  *http.Client
}

// NewResendService creates a new Resend email service
func NewResendService(apiKey, fromAddress, fromName string) *ResendService {
	return &ResendService{
		apiKey:      apiKey,
		fromAddress: fromAddress,
		fromName:    fromName,
		endpoint:    "https://api.resend.com/emails",
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
	Text    string   `json:"text"`
}

// SendPasswordReset sends a password reset email via Resend
func (s *ResendService) SendPasswordReset(ctx context.Context, params PasswordResetParams) error {
	htmlBody, err := renderHTML(params)
	if err != nil {
		return fmt.Errorf("failed to render HTML template: %w", err)
	}

	reqBody := resendRequest{
		From:    fmt.Sprintf("%s <%s>", s.fromName, s.fromAddress),
		To:      []string{params.ToEmail},
		Subject: "Reset your Lebrely password",
		HTML:    htmlBody,
		Text:    renderText(params),
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp map[string]any
		json.NewDecoder(resp.Body).Decode(&errResp)
		return fmt.Errorf("resend API error (status %d): %v", resp.StatusCode, errResp)
	}
	return nil
}

// LogService writes the reset link to the log instead of sending mail.
// Used when no email provider is configured.
type LogService struct{}

// SendPasswordReset logs the reset URL
func (LogService) SendPasswordReset(ctx context.Context, params PasswordResetParams) error {
	logger.Ctx(ctx).Warn("email provider not configured, password reset link logged instead",
		"to", params.ToEmail, "reset_url", params.ResetURL)
	return nil
}

type templateData struct {
	Name      string
	ResetURL  string
	ExpiresAt string
}

var htmlTmpl = template.Must(template.New("password_reset").Parse(htmlTemplate))

func newTemplateData(params PasswordResetParams) templateData {
	name := params.Name
	if name == "" {
		name = "there"
	}
	return templateData{
		Name:      name,
		ResetURL:  params.ResetURL,
		ExpiresAt: params.ExpiresAt.UTC().Format("15:04 MST, January 2, 2006"),
	}
}

func renderHTML(params PasswordResetParams) (string, error) {
	var buf bytes.Buffer
	if err := htmlTmpl.Execute(&buf, newTemplateData(params)); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func renderText(params PasswordResetParams) string {
	data := newTemplateData(params)
	return fmt.Sprintf(`Hi %s,

Someone asked to reset the password of your Lebrely account.
If it was you, open this link to choose a new password:

%s

The link works once and expires at %s.
If you did not ask for this, ignore this email.
`, data.Name, data.ResetURL, data.ExpiresAt)
}

const htmlTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
</head>
<body style="margin: 0; padding: 20px; font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Arial, sans-serif; color: #374151;">
    <p style="font-size: 15px;">Hi {{.Name}},</p>
    <p style="font-size: 14px;">Someone asked to reset the password of your Lebrely account. If it was you, use the button below to choose a new password.</p>
    <p>
        <a href="{{.ResetURL}}" target="_blank" style="display: inline-block; padding: 10px 20px; background-color: #6366f1; color: #ffffff; border-radius: 4px; text-decoration: none; font-weight: 600;">Reset password</a>
    </p>
    <p style="font-size: 13px; color: #6b7280;">The link works once and expires at {{.ExpiresAt}}. If you did not ask for this, ignore this email.</p>
</body>
</html>`

// MockService records emails instead of sending them
type MockService struct {
	mu         sync.Mutex
	SentEmails []PasswordResetParams
	FailError  error
}

// NewMockService creates a new mock email service
func NewMockService() *MockService {
	return &MockService{}
}

// SendPasswordReset records the email params
func (m *MockService) SendPasswordReset(ctx context.Context, params PasswordResetParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailError != nil {
		return m.FailError
	}
	m.SentEmails = append(m.SentEmails, params)
	return nil
}

// Sent returns a copy of the recorded emails
func (m *MockService) Sent() []PasswordResetParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PasswordResetParams(nil), m.SentEmails...)
}
