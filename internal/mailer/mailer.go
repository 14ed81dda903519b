// Package mailer delivers one-time codes to end users over SMTP.
package mailer

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"

	"security-service/internal/config"
	"security-service/internal/models"
	"security-service/internal/util"
)

// Mailer sends an issued code to its recipient. Implementations must not
// log the code itself.
type Mailer interface {
	SendOTP(ctx context.Context, email string, purpose models.Purpose, code string) error
}

type SMTPMailer struct {
	config *config.SMTPConfig
}

func NewSMTPMailer(cfg *config.Config) *SMTPMailer {
	return &SMTPMailer{config: &cfg.SMTP}
}

func (m *SMTPMailer) SendOTP(ctx context.Context, email string, purpose models.Purpose, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	subject, body := composeOTPMessage(purpose, code)

	msg := strings.Join([]string{
		"From: " + m.config.From,
		"To: " + email,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=\"utf-8\"",
		"",
		body,
	}, "\r\n")

	addr := fmt.Sprintf("%s:%d", m.config.Host, m.config.Port)
	var auth smtp.Auth
	if m.config.Username != "" {
		auth = smtp.PlainAuth("", m.config.Username, m.config.Password, m.config.Host)
	}

	if err := smtp.SendMail(addr, auth, m.config.From, []string{email}, []byte(msg)); err != nil {
		util.Error("Failed to send OTP email",
			zap.String("purpose", string(purpose)),
			zap.Error(err))
		return fmt.Errorf("failed to send otp email: %w", err)
	}

	util.Info("OTP email sent", zap.String("purpose", string(purpose)))
	return nil
}

func composeOTPMessage(purpose models.Purpose, code string) (subject, body string) {
	ttl := int(purpose.TTL().Minutes())
	switch purpose {
	case models.PurposePasswordReset:
		subject = "Your password reset code"
		body = fmt.Sprintf(
			"Use this code to reset your password: %s\r\n\r\n"+
				"The code expires in %d minutes. If you did not request a password reset, ignore this email.",
			code, ttl)
	default:
		subject = "Verify your email address"
		body = fmt.Sprintf(
			"Your verification code is: %s\r\n\r\n"+
				"The code expires in %d minutes.",
			code, ttl)
	}
	return subject, body
}

// NoopMailer logs delivery without sending. Used in development when no
// SMTP host is configured.
type NoopMailer struct{}

func (NoopMailer) SendOTP(_ context.Context, _ string, purpose models.Purpose, _ string) error {
	util.Warn("SMTP not configured, OTP email not delivered",
		zap.String("purpose", string(purpose)))
	return nil
}
