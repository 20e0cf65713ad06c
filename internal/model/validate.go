package model

import (
	"fmt"
	"regexp"
	"strings"
)

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string
	Message string
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ValidationError) add(field, format string, args ...any) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (e *ValidationError) err() error {
	if e.HasErrors() {
		return e
	}
	return nil
}

// usernamePattern matches Chaturbate usernames: lowercase letters, digits
// and underscores.
var usernamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// NormalizeUsername lowercases and trims a username.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidUsername reports whether s (already normalized) is a well-formed username.
func ValidUsername(s string) bool {
	return usernamePattern.MatchString(s)
}

// ValidatePerson checks a Person for constraint violations.
// It returns a *ValidationError if any rules fail, or nil if the person is valid.
func ValidatePerson(p *Person) error {
	var ve ValidationError

	if !ValidUsername(p.Username) {
		ve.add("username", "must be 1-64 lowercase letters, digits or underscores, got %q", p.Username)
	}
	if !p.Role.IsValid() {
		ve.add("role", "invalid value %q", p.Role)
	}
	if len([]rune(p.Notes)) > 10000 {
		ve.add("notes", "must be 10000 characters or fewer")
	}
	seen := make(map[string]bool, len(p.Tags))
	for _, tag := range p.Tags {
		if strings.TrimSpace(tag) == "" {
			ve.add("tags", "must not contain empty tags")
			break
		}
		if seen[tag] {
			ve.add("tags", "duplicate tag %q", tag)
			break
		}
		seen[tag] = true
	}

	return ve.err()
}

// ValidateInteraction checks an Interaction for constraint violations.
func ValidateInteraction(in *Interaction) error {
	var ve ValidationError

	if in.PersonID == "" {
		ve.add("person_id", "is required")
	}
	if !in.Type.IsValid() {
		ve.add("type", "invalid value %q", in.Type)
	}
	if in.Tokens < 0 {
		ve.add("tokens", "must not be negative, got %d", in.Tokens)
	}
	if in.Type == InteractionTip && in.Tokens == 0 {
		ve.add("tokens", "is required for %s", InteractionTip)
	}
	if in.Timestamp.IsZero() {
		ve.add("timestamp", "is required")
	}

	return ve.err()
}

// settingKeyPattern matches dotted lowercase setting keys.
var settingKeyPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)*$`)

// ValidateSettingKey checks that a setting key is dotted lowercase.
func ValidateSettingKey(key string) error {
	if len(key) > 128 || !settingKeyPattern.MatchString(key) {
		return &ValidationError{Errors: []FieldError{{
			Field:   "key",
			Message: fmt.Sprintf("must be dotted lowercase identifiers, got %q", key),
		}}}
	}
	return nil
}
