package app

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"

	"folio/pkg/domain"
)

const (
	minNameLength    = 2
	maxNameLength    = 100
	maxEmailLength   = 254
	maxSubjectLength = 200
	minMessageLength = 10
	maxMessageLength = 5000
)

// ContactInput is a contact form submission.
type ContactInput struct {
	Name    string
	Email   string
	Subject string
	Message string
}

// SubmitContact validates and stores a message. No session is required.
func (a *App) SubmitContact(ctx context.Context, in ContactInput) (domain.ContactMessage, error) {
	msg, err := validateContact(in)
	if err != nil {
		return domain.ContactMessage{}, err
	}
	msg.CreatedAt = a.now().UTC()
	saved, err := a.store.CreateContactMessage(ctx, msg)
	if err != nil {
		return domain.ContactMessage{}, fmt.Errorf("save contact message: %w", err)
	}
	return saved, nil
}

func validateContact(in ContactInput) (domain.ContactMessage, error) {
	name := strings.TrimSpace(in.Name)
	email := strings.TrimSpace(in.Email)
	subject := strings.TrimSpace(in.Subject)
	message := strings.TrimSpace(in.Message)

	if name == "" || email == "" || message == "" {
		return domain.ContactMessage{}, invalid("name, email, and message are required")
	}
	if n := utf8.RuneCountInString(name); n < minNameLength || n > maxNameLength {
		return domain.ContactMessage{}, invalid("name must be between 2 and 100 characters")
	}
	if !validEmail(email) {
		return domain.ContactMessage{}, invalid("invalid email address")
	}
	if utf8.RuneCountInString(subject) > maxSubjectLength {
		return domain.ContactMessage{}, invalid("subject must be at most 200 characters")
	}
	if n := utf8.RuneCountInString(message); n < minMessageLength || n > maxMessageLength {
		return domain.ContactMessage{}, invalid("message must be between 10 and 5000 characters")
	}
	msg := domain.ContactMessage{
		Name:    name,
		Email:   email,
		Message: message,
	}
	if subject != "" {
		msg.Subject = &subject
	}
	return msg, nil
}

// validEmail accepts a bare addr-spec with a dotted domain; display names
// and angle brackets are rejected.
func validEmail(email string) bool {
	if len(email) > maxEmailLength {
		return false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return false
	}
	at := strings.LastIndexByte(email, '@')
	if at <= 0 {
		return false
	}
	domainPart := email[at+1:]
	return strings.Contains(domainPart, ".") && !strings.HasPrefix(domainPart, ".") && !strings.HasSuffix(domainPart, ".")
}
