package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/dispatch/internal/interfaces"
	"github.com/ternarybob/dispatch/internal/models"
)

// MailStorage implements the SMTP configuration and send-log store.
// Settings are keyed by (module, key); a lookup that misses falls back
// to the Global module row.
type MailStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewMailDB opens the mail settings database at the given path
func NewMailDB(logger arbor.ILogger, path string) (*SQLiteDB, error) {
	return NewSQLiteDB(logger, auxConfig(path), mailSchemaSQL)
}

// NewMailStorage creates a new mail storage instance
func NewMailStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.MailStorage {
	return &MailStorage{
		db:     db,
		logger: logger,
	}
}

// getSetting reads one setting with Global fallback; missing keys
// return an empty string
func (s *MailStorage) getSetting(ctx context.Context, module, key string) (string, error) {
	var value string
	err := s.db.db.QueryRowContext(ctx,
		`SELECT value FROM mail_settings WHERE module = ? AND key = ?`,
		module, key,
	).Scan(&value)
	if err == sql.ErrNoRows && module != models.MailModuleGlobal {
		err = s.db.db.QueryRowContext(ctx,
			`SELECT value FROM mail_settings WHERE module = ? AND key = ?`,
			models.MailModuleGlobal, key,
		).Scan(&value)
	}
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read mail setting %s/%s: %w", module, key, err)
	}
	return value, nil
}

// GetServiceSettings loads the per-module service flags
func (s *MailStorage) GetServiceSettings(ctx context.Context, module string) (*models.MailServiceSettings, error) {
	settings := &models.MailServiceSettings{Module: module}

	failover, err := s.getSetting(ctx, module, "failover_enabled")
	if err != nil {
		return nil, err
	}
	settings.FailoverEnabled = parseBoolSetting(failover)

	notify, err := s.getSetting(ctx, module, "notify_enabled")
	if err != nil {
		return nil, err
	}
	settings.NotifyEnabled = parseBoolSetting(notify)

	adminTo, err := s.getSetting(ctx, module, "admin_to")
	if err != nil {
		return nil, err
	}
	settings.AdminTo = adminTo

	return settings, nil
}

// GetTransportSettings loads one SMTP endpoint configuration.
// role is "main" or "backup"; keys are prefixed accordingly.
func (s *MailStorage) GetTransportSettings(ctx context.Context, module, role string) (*models.MailTransportSettings, error) {
	settings := &models.MailTransportSettings{
		Port:     587,
		UseTLS:   true,
		FromName: "Dispatch",
	}

	read := func(key string) (string, error) {
		return s.getSetting(ctx, module, role+"_"+key)
	}

	host, err := read("host")
	if err != nil {
		return nil, err
	}
	settings.Host = host

	if portStr, err := read("port"); err != nil {
		return nil, err
	} else if portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			settings.Port = port
		}
	}

	if username, err := read("username"); err != nil {
		return nil, err
	} else {
		settings.Username = username
	}

	if password, err := read("password"); err != nil {
		return nil, err
	} else {
		settings.Password = password
	}

	if from, err := read("from"); err != nil {
		return nil, err
	} else {
		settings.From = from
	}

	if fromName, err := read("from_name"); err != nil {
		return nil, err
	} else if fromName != "" {
		settings.FromName = fromName
	}

	if tlsStr, err := read("use_tls"); err != nil {
		return nil, err
	} else if tlsStr != "" {
		settings.UseTLS = parseBoolSetting(tlsStr)
	}

	return settings, nil
}

// SetSetting upserts one setting row
func (s *MailStorage) SetSetting(ctx context.Context, module, key, value string) error {
	_, err := s.db.db.ExecContext(ctx,
		`INSERT INTO mail_settings (module, key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(module, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		module, key, value, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to set mail setting %s/%s: %w", module, key, err)
	}
	return nil
}

// LogSend records one send attempt
func (s *MailStorage) LogSend(ctx context.Context, entry *models.MailLogEntry) error {
	usedBackup := 0
	if entry.UsedBackup {
		usedBackup = 1
	}

	_, err := s.db.db.ExecContext(ctx,
		`INSERT INTO mail_log (module, recipient, subject, status, error, used_backup, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.Module, entry.Recipient, entry.Subject, entry.Status, entry.Error, usedBackup, time.Now().Unix(),
	)
	if err != nil {
		s.logger.Error().Err(err).Str("recipient", entry.Recipient).Msg("Failed to log mail send")
		return fmt.Errorf("failed to log mail send: %w", err)
	}
	return nil
}

// ListSendLog returns recent send attempts for a module, newest first
func (s *MailStorage) ListSendLog(ctx context.Context, module string, limit int) ([]*models.MailLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.db.QueryContext(ctx,
		`SELECT id, module, recipient, subject, status, error, used_backup, created_at
		 FROM mail_log WHERE module = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		module, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list mail log: %w", err)
	}
	defer rows.Close()

	entries := []*models.MailLogEntry{}
	for rows.Next() {
		var entry models.MailLogEntry
		var subject, errMsg sql.NullString
		var usedBackup int
		var createdAt int64

		if err := rows.Scan(&entry.ID, &entry.Module, &entry.Recipient, &subject, &entry.Status, &errMsg, &usedBackup, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan mail log entry: %w", err)
		}

		entry.Subject = subject.String
		entry.Error = errMsg.String
		entry.UsedBackup = usedBackup != 0
		entry.CreatedAt = time.Unix(createdAt, 0)
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

func parseBoolSetting(value string) bool {
	v := strings.ToLower(strings.TrimSpace(value))
	return v == "true" || v == "1" || v == "yes"
}
