// Command test-server runs the API against throwaway Postgres, IMAP and SMTP
// servers with a seeded test user. Used by end-to-end tests.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/vdavid/postbox/internal/config"
	"github.com/vdavid/postbox/internal/crypto"
	"github.com/vdavid/postbox/internal/db"
	"github.com/vdavid/postbox/internal/logging"
	"github.com/vdavid/postbox/internal/models"
	"github.com/vdavid/postbox/internal/server"
	"github.com/vdavid/postbox/internal/testutil"
)

const testEmail = "test@example.com"

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := run(logger); err != nil {
		logger.WithError(err).Fatal("test server failed")
	}
}

func run(logger *logrus.Logger) error {
	log := logging.Component(logger, "test-server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := setupTestEnvironment(); err != nil {
		return fmt.Errorf("failed to setup test environment: %w", err)
	}

	cfg, err := config.NewConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	postgresContainer, connStr, err := startPostgres(ctx, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := postgresContainer.Terminate(context.Background()); err != nil {
			log.WithError(err).Warn("failed to terminate Postgres container")
		}
	}()

	imapServer, err := testutil.StartIMAPServer(getEnvOrDefault("VMAIL_TEST_IMAP_ADDR", "127.0.0.1:1143"))
	if err != nil {
		return fmt.Errorf("failed to start test IMAP server: %w", err)
	}
	defer imapServer.Close()

	smtpServer, err := testutil.StartSMTPServer(getEnvOrDefault("VMAIL_TEST_SMTP_ADDR", "127.0.0.1:1025"))
	if err != nil {
		return fmt.Errorf("failed to start test SMTP server: %w", err)
	}
	defer smtpServer.Close()

	if err := seedMailbox(imapServer); err != nil {
		return fmt.Errorf("failed to seed test data: %w", err)
	}

	pool, err := setupDatabase(ctx, connStr)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := seedUserSettings(ctx, pool, cfg, imapServer, smtpServer); err != nil {
		return fmt.Errorf("failed to seed user settings: %w", err)
	}

	srv, err := server.New(ctx, cfg, pool, logger)
	if err != nil {
		return err
	}
	defer srv.Close()

	log.WithFields(logrus.Fields{
		"imap": imapServer.Credentials().String(),
		"smtp": smtpServer.Credentials().String(),
		"user": testEmail,
	}).Info("server ready for E2E tests, press Ctrl+C to stop")

	return serve(ctx, ":"+cfg.Port, srv, log)
}

// setupTestEnvironment sets up required environment variables for the test server.
func setupTestEnvironment() error {
	env := map[string]string{
		"VMAIL_ENV":                   "test",
		"VMAIL_TEST_MODE":             "true",
		"VMAIL_ENCRYPTION_KEY_BASE64": testutil.TestEncryptionKeyBase64,
		"VMAIL_DB_PASSWORD":           "postbox",
		"VMAIL_IMAP_MAX_ATTEMPTS":     "1",
	}
	for key, value := range env {
		if os.Getenv(key) != "" {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("failed to set %s: %w", key, err)
		}
	}
	return nil
}

// startPostgres starts a test Postgres database using testcontainers.
func startPostgres(ctx context.Context, log *logrus.Entry) (testcontainers.Container, string, error) {
	log.Info("starting test Postgres database")
	postgresContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("postbox_test"),
		postgres.WithUsername("postbox"),
		postgres.WithPassword("postbox"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to start Postgres container: %w", err)
	}

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, "", fmt.Errorf("failed to get connection string: %w", err)
	}

	return postgresContainer, connStr, nil
}

// setupDatabase creates a connection pool and runs migrations.
func setupDatabase(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	db.ConfigurePool(poolConfig)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if _, err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return pool, nil
}

// seedMailbox creates the standard folders and a few INBOX messages.
func seedMailbox(imapServer *testutil.TestIMAPServer) error {
	for _, name := range []string{"Sent", "Drafts", "Trash", "Spam", "Archive"} {
		if err := imapServer.CreateMailbox(name); err != nil {
			return fmt.Errorf("failed to create folder %s: %w", name, err)
		}
	}

	now := time.Now()
	messages := []struct {
		messageID string
		subject   string
		from      string
		body      string
		sentAt    time.Time
	}{
		{"<msg1@test>", "Welcome to Postbox", "sender@example.com", "This is a test message.", now.Add(-2 * time.Hour)},
		{"<msg2@test>", "Meeting Tomorrow", "colleague@example.com", "Don't forget about the meeting tomorrow at 2 PM.", now.Add(-time.Hour)},
		{"<msg3@test>", "Special Report Q3", "reports@example.com", "Here is the Q3 report you requested.", now},
	}
	for _, msg := range messages {
		if err := imapServer.AddMessage("INBOX", msg.messageID, msg.subject, msg.from, testEmail, msg.body, msg.sentAt); err != nil {
			return fmt.Errorf("failed to add message %s: %w", msg.messageID, err)
		}
	}
	return nil
}

// seedUserSettings stores credentials for the test user so "existing user" tests work.
func seedUserSettings(ctx context.Context, pool *pgxpool.Pool, cfg *config.Config, imapServer *testutil.TestIMAPServer, smtpServer *testutil.TestSMTPServer) error {
	userID, err := db.GetOrCreateUser(ctx, pool, testEmail)
	if err != nil {
		return fmt.Errorf("failed to get or create user: %w", err)
	}

	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKeyBase64)
	if err != nil {
		return fmt.Errorf("failed to create encryptor: %w", err)
	}

	imapCreds := imapServer.Credentials()
	smtpCreds := smtpServer.Credentials()

	encryptedIMAPPassword, err := encryptor.Encrypt(imapCreds.Password)
	if err != nil {
		return fmt.Errorf("failed to encrypt IMAP password: %w", err)
	}
	encryptedSMTPPassword, err := encryptor.Encrypt(smtpCreds.Password)
	if err != nil {
		return fmt.Errorf("failed to encrypt SMTP password: %w", err)
	}

	return db.SaveUserSettings(ctx, pool, &models.UserSettings{
		UserID:                userID,
		IMAPHost:              imapCreds.Host,
		IMAPPort:              imapCreds.Port,
		IMAPUsername:          imapCreds.User,
		EncryptedIMAPPassword: encryptedIMAPPassword,
		SMTPHost:              smtpCreds.Host,
		SMTPPort:              smtpCreds.Port,
		SMTPUsername:          smtpCreds.User,
		EncryptedSMTPPassword: encryptedSMTPPassword,
	})
}

func serve(ctx context.Context, addr string, srv *server.Server, log *logrus.Entry) error {
	httpServer := &http.Server{Addr: addr, Handler: srv, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		log.Info("shutting down")
	}

	srv.StopListeners()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
