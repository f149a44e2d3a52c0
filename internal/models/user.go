package models

import (
	"fmt"
	"time"
)

// User represents an application user.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserSettings is the stored email configuration of a user. Passwords are
// kept encrypted and are never serialized.
type UserSettings struct {
	UserID                string    `json:"user_id"`
	IMAPHost              string    `json:"imap_host"`
	IMAPPort              int       `json:"imap_port"`
	IMAPSecure            bool      `json:"imap_secure"`
	IMAPUsername          string    `json:"imap_username"`
	EncryptedIMAPPassword []byte    `json:"-"`
	SMTPHost              string    `json:"smtp_host"`
	SMTPPort              int       `json:"smtp_port"`
	SMTPSecure            bool      `json:"smtp_secure"`
	SMTPUsername          string    `json:"smtp_username"`
	EncryptedSMTPPassword []byte    `json:"-"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// IMAPCredentials are decrypted IMAP connection parameters.
type IMAPCredentials struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Secure   bool   `json:"secure"`
	User     string `json:"user"`
	Password string `json:"password,omitempty"`
}

// Address returns host:port.
func (c IMAPCredentials) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// String never includes the password.
func (c IMAPCredentials) String() string {
	return fmt.Sprintf("imap://%s@%s", c.User, c.Address())
}

// SMTPCredentials are decrypted SMTP connection parameters.
type SMTPCredentials struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Secure   bool   `json:"secure"`
	User     string `json:"user"`
	Password string `json:"password,omitempty"`
}

// Address returns host:port.
func (c SMTPCredentials) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// String never includes the password.
func (c SMTPCredentials) String() string {
	return fmt.Sprintf("smtp://%s@%s", c.User, c.Address())
}

// Credentials hold a user's decrypted mail credentials. They live only in
// process memory.
type Credentials struct {
	SMTP SMTPCredentials `json:"smtp"`
	IMAP IMAPCredentials `json:"imap"`
}

// EmailSettingsRequest is the payload of the credential update endpoint.
// An empty password keeps the stored one.
type EmailSettingsRequest struct {
	SMTP SMTPCredentials `json:"smtp"`
	IMAP IMAPCredentials `json:"imap"`
}

// EmailSettingsResponse never includes passwords.
type EmailSettingsResponse struct {
	SMTP struct {
		Host        string `json:"host"`
		Port        int    `json:"port"`
		Secure      bool   `json:"secure"`
		User        string `json:"user"`
		PasswordSet bool   `json:"passwordSet"`
	} `json:"smtp"`
	IMAP struct {
		Host        string `json:"host"`
		Port        int    `json:"port"`
		Secure      bool   `json:"secure"`
		User        string `json:"user"`
		PasswordSet bool   `json:"passwordSet"`
	} `json:"imap"`
}

// AuthStatusResponse represents the authentication and setup status of a user.
type AuthStatusResponse struct {
	IsAuthenticated bool `json:"isAuthenticated"`
	IsSetupComplete bool `json:"isSetupComplete"`
}
