// Package notify fans out alert notifications to the configured backends:
// email over SMTP, SMS through the clicksend REST API, a generic HTTP
// webhook and a Slack incoming webhook.
//
// Delivery is best-effort. Backend settings are parsed once at startup;
// backends with missing settings are disabled with a log line. Send failures
// are logged and swallowed, never propagated to the caller.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/upwatch/upwatch/internal/config"
	"github.com/upwatch/upwatch/internal/stats"
	"github.com/upwatch/upwatch/internal/tmpl"
)

const clicksendURL = "https://rest.clicksend.com/v3/sms/send"

// smsMaxLen is the clicksend single-message body limit.
const smsMaxLen = 140

type emailSettings struct {
	sender      string
	server      string
	subjectTmpl string
	bodyTmpl    string
}

type smsSettings struct {
	username string
	apiKey   string
	sender   string
	tmpl     string
}

type httpSettings struct {
	url string
}

type slackSettings struct {
	webhookURL   string
	msgTmpl      string
	durationTmpl string
	urlTmpl      string
}

// Manager holds the parsed backend settings and sends alert notifications.
type Manager struct {
	logger *slog.Logger
	stats  *stats.Registry
	client *http.Client

	email *emailSettings
	sms   *smsSettings
	http  *httpSettings
	slack *slackSettings
}

// NewManager parses the notification config and reports which backends are
// enabled.
func NewManager(cfg *config.NotificationsConfig, logger *slog.Logger, st *stats.Registry) *Manager {
	m := &Manager{
		logger: logger.With("component", "notify"),
		stats:  st,
		client: &http.Client{Timeout: 30 * time.Second},
	}

	if cfg.Email.Sender != "" && cfg.Email.SubjectTmpl != "" && cfg.Email.BodyTmpl != "" {
		m.email = &emailSettings{
			sender:      cfg.Email.Sender,
			server:      cfg.Email.Server,
			subjectTmpl: cfg.Email.SubjectTmpl,
			bodyTmpl:    cfg.Email.BodyTmpl,
		}
	} else {
		m.logger.Info("email settings missing, no email notifications will be sent")
	}

	switch {
	case cfg.SMS.Provider == "":
		m.logger.Info("no sms provider specified, no sms notifications will be sent")
	case cfg.SMS.Provider != "clicksend":
		m.logger.Warn("unknown sms provider, no sms notifications will be sent",
			"provider", cfg.SMS.Provider)
	case cfg.SMS.ClicksendUsername == "" || cfg.SMS.ClicksendAPIKey == "" || cfg.SMS.Tmpl == "":
		m.logger.Info("clicksend settings missing, no sms notifications will be sent")
	default:
		m.sms = &smsSettings{
			username: cfg.SMS.ClicksendUsername,
			apiKey:   cfg.SMS.ClicksendAPIKey,
			sender:   cfg.SMS.Sender,
			tmpl:     cfg.SMS.Tmpl,
		}
	}

	if cfg.HTTP.URL != "" {
		m.http = &httpSettings{url: cfg.HTTP.URL}
	} else {
		m.logger.Info("http settings missing, no http notifications will be sent")
	}

	if cfg.Slack.WebhookURL != "" && cfg.Slack.MsgTmpl != "" {
		m.slack = &slackSettings{
			webhookURL:   cfg.Slack.WebhookURL,
			msgTmpl:      cfg.Slack.MsgTmpl,
			durationTmpl: cfg.Slack.DurationTmpl,
			urlTmpl:      cfg.Slack.URLTmpl,
		}
	} else {
		m.logger.Info("slack settings missing, no slack notifications will be sent")
	}

	return m
}

// SendNotification delivers an alert to every enabled backend. It blocks
// until all backends have been tried; callers run it on its own goroutine.
func (m *Manager) SendNotification(ctx context.Context, emails, phones []string, tmplArgs map[string]string) {
	m.stats.Inc("NOTIFICATIONS", "notifications_sent")
	if m.email != nil && len(emails) > 0 {
		m.sendEmailNotification(ctx, emails, tmplArgs)
	}
	if m.sms != nil && len(phones) > 0 {
		m.sendSMSNotification(ctx, phones, tmplArgs)
	}
	if m.http != nil {
		m.sendHTTPNotification(ctx, emails, phones, tmplArgs)
	}
	if m.slack != nil {
		m.sendSlackNotification(ctx, tmplArgs)
	}
}

func (m *Manager) render(template string, args map[string]string) (string, bool) {
	out, err := tmpl.Render(template, args)
	if err != nil {
		m.logger.Error("failed to render notification template", "error", err)
		return "", false
	}
	return out, true
}

func (m *Manager) sendEmailNotification(ctx context.Context, recipients []string, args map[string]string) {
	subject, ok := m.render(m.email.subjectTmpl, args)
	if !ok {
		return
	}
	body, ok := m.render(m.email.bodyTmpl, args)
	if !ok {
		return
	}
	if err := m.SendEmail(ctx, recipients, subject, body); err != nil {
		m.logger.Error("error sending smtp notification", "error", err)
	}
}

// SendEmail sends a plain-text email to each recipient.
func (m *Manager) SendEmail(_ context.Context, recipients []string, subject, body string) error {
	if m.email == nil {
		return nil
	}
	for _, rcpt := range recipients {
		msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s",
			m.email.sender, rcpt, subject, body)
		if err := smtp.SendMail(m.email.server, nil, m.email.sender, []string{rcpt}, []byte(msg)); err != nil {
			return fmt.Errorf("smtp send to %s failed: %w", rcpt, err)
		}
	}
	return nil
}

func (m *Manager) sendSMSNotification(ctx context.Context, recipients []string, args map[string]string) {
	msg, ok := m.render(m.sms.tmpl, args)
	if !ok {
		return
	}
	if err := m.SendSMS(ctx, recipients, msg); err != nil {
		m.logger.Error("error sending clicksend sms notification", "error", err)
	}
}

type clicksendMessage struct {
	Source   string `json:"source"`
	From     string `json:"from"`
	Body     string `json:"body"`
	To       string `json:"to"`
	Schedule string `json:"schedule"`
}

// SendSMS sends one message to each phone number via clicksend.
func (m *Manager) SendSMS(ctx context.Context, recipients []string, msg string) error {
	if m.sms == nil {
		return nil
	}
	if len(msg) > smsMaxLen {
		msg = msg[:smsMaxLen]
	}
	payload := struct {
		Messages []clicksendMessage `json:"messages"`
	}{}
	for _, rcpt := range recipients {
		payload.Messages = append(payload.Messages, clicksendMessage{
			Source:   "upwatch",
			From:     m.sms.sender,
			Body:     msg,
			To:       rcpt,
			Schedule: "",
		})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, clicksendURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(m.sms.username, m.sms.apiKey)
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("clicksend returned http status %d", resp.StatusCode)
	}
	return nil
}

func (m *Manager) sendHTTPNotification(ctx context.Context, emails, phones []string, args map[string]string) {
	data := map[string]any{
		"email_recipients": emails,
		"sms_recipients":   phones,
		"data":             args,
	}
	if err := m.SendHTTP(ctx, data); err != nil {
		m.logger.Error("error sending http notification", "error", err)
	}
}

// SendHTTP posts an arbitrary JSON payload to the configured webhook.
func (m *Manager) SendHTTP(ctx context.Context, data any) error {
	if m.http == nil {
		return nil
	}
	body, err := json.Marshal(data)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.http.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("webhook returned http status %d", resp.StatusCode)
	}
	return nil
}

func (m *Manager) sendSlackNotification(ctx context.Context, args map[string]string) {
	text, ok := m.render(m.slack.msgTmpl, args)
	if !ok {
		return
	}
	attachment := slack.Attachment{
		Fallback: text,
		Pretext:  text,
	}
	if m.slack.durationTmpl != "" {
		if duration, ok := m.render(m.slack.durationTmpl, args); ok {
			attachment.Fields = append(attachment.Fields, slack.AttachmentField{
				Title: "Duration",
				Value: duration,
			})
		}
	}
	if m.slack.urlTmpl != "" {
		if url, ok := m.render(m.slack.urlTmpl, args); ok {
			attachment.Fields = append(attachment.Fields, slack.AttachmentField{
				Title: "URL",
				Value: url,
			})
		}
	}
	msg := &slack.WebhookMessage{Attachments: []slack.Attachment{attachment}}
	if err := slack.PostWebhookContext(ctx, m.slack.webhookURL, msg); err != nil {
		m.logger.Error("error sending slack notification", "error", err)
	}
}

// DisplayDuration formats elapsed seconds the way notification templates
// expect, e.g. "3 days, 2 hours".
func DisplayDuration(seconds int64) string {
	if seconds < 60 {
		return fmt.Sprintf("%d seconds", seconds)
	}
	days := seconds / 86400
	hours := (seconds % 86400) / 3600
	minutes := (seconds % 3600) / 60
	var parts []string
	if days == 1 {
		parts = append(parts, "1 day")
	} else if days > 1 {
		parts = append(parts, fmt.Sprintf("%d days", days))
	}
	if hours == 1 {
		parts = append(parts, "1 hour")
	} else if hours > 1 {
		parts = append(parts, fmt.Sprintf("%d hours", hours))
	}
	if minutes == 1 {
		parts = append(parts, "1 minute")
	} else if minutes > 1 {
		parts = append(parts, fmt.Sprintf("%d minutes", minutes))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%d seconds", seconds)
	}
	return strings.Join(parts, ", ")
}
