package email

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/dispatch/internal/interfaces"
	"github.com/ternarybob/dispatch/internal/models"
)

// Adapter sends email through a main SMTP transport with optional
// failover to a backup. Configuration is loaded per module from the
// mail settings store with a Global fallback; useBackup is advisory
// instance state re-evaluated on every error.
type Adapter struct {
	store  interfaces.MailStorage
	logger arbor.ILogger

	mu        sync.Mutex
	module    string
	service   *models.MailServiceSettings
	main      *smtpTransport
	backup    *smtpTransport
	useBackup bool
	alertSent bool
}

// SendRequest is one email delivery request
type SendRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html,omitempty"`
	Text    string `json:"text,omitempty"`
	Module  string `json:"module,omitempty"`
}

// NewAdapter creates an email adapter configured for the module
func NewAdapter(ctx context.Context, store interfaces.MailStorage, logger arbor.ILogger, module string) (*Adapter, error) {
	a := &Adapter{
		store:  store,
		logger: logger,
	}
	if module == "" {
		module = models.MailModuleGlobal
	}
	if err := a.init(ctx, module); err != nil {
		return nil, err
	}
	return a, nil
}

// init loads module configuration and builds the transports. When the
// main transport fails to build and failover is enabled, the adapter
// serves exclusively from backup.
func (a *Adapter) init(ctx context.Context, module string) error {
	service, err := a.store.GetServiceSettings(ctx, module)
	if err != nil {
		return fmt.Errorf("failed to load mail service settings: %w", err)
	}

	mainSettings, err := a.store.GetTransportSettings(ctx, module, "main")
	if err != nil {
		return fmt.Errorf("failed to load main transport settings: %w", err)
	}
	main, mainErr := newSMTPTransport(mainSettings)

	var backup *smtpTransport
	if service.FailoverEnabled {
		backupSettings, err := a.store.GetTransportSettings(ctx, module, "backup")
		if err != nil {
			return fmt.Errorf("failed to load backup transport settings: %w", err)
		}
		if t, err := newSMTPTransport(backupSettings); err == nil {
			backup = t
		} else {
			a.logger.Warn().Err(err).Str("module", module).Msg("Backup transport not configured")
		}
	}

	useBackup := false
	if mainErr != nil {
		if backup == nil {
			return fmt.Errorf("main transport unavailable for module %s: %w", module, mainErr)
		}
		a.logger.Warn().Err(mainErr).Str("module", module).Msg("Main transport unavailable, serving from backup")
		main = nil
		useBackup = true
	}

	a.module = module
	a.service = service
	a.main = main
	a.backup = backup
	a.useBackup = useBackup
	a.alertSent = false

	a.logger.Info().
		Str("module", module).
		Bool("failover", service.FailoverEnabled).
		Bool("use_backup", useBackup).
		Msg("Email adapter initialized")
	return nil
}

// Send delivers one email, failing over to the backup transport on a
// main-transport error when failover is enabled
func (a *Adapter) Send(ctx context.Context, req *SendRequest) (*models.MailSendResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if req.To == "" {
		return nil, fmt.Errorf("recipient is required")
	}
	if req.HTML == "" && req.Text == "" {
		return nil, fmt.Errorf("message body is required")
	}

	if req.Module != "" && req.Module != a.module {
		if err := a.init(ctx, req.Module); err != nil {
			a.logFailure(ctx, req, err, false)
			return nil, err
		}
	}

	active := a.main
	usedBackup := false
	if a.useBackup || active == nil {
		active = a.backup
		usedBackup = true
	}
	if active == nil {
		err := fmt.Errorf("no mail transport available for module %s", a.module)
		a.logFailure(ctx, req, err, false)
		return nil, err
	}

	messageID, err := active.Send(req.To, req.Subject, req.HTML, req.Text)
	if err == nil {
		a.logSuccess(ctx, req, usedBackup)
		return &models.MailSendResult{
			MessageID:  messageID,
			Response:   "delivered",
			UsedBackup: usedBackup,
		}, nil
	}

	if !usedBackup && a.backup != nil && a.service.FailoverEnabled {
		a.logger.Warn().Err(err).Str("module", a.module).Msg("Main transport failed, switching to backup")
		a.logFailure(ctx, req, err, false)
		a.useBackup = true

		messageID, backupErr := a.backup.Send(req.To, req.Subject, req.HTML, req.Text)
		if backupErr != nil {
			a.logFailure(ctx, req, backupErr, true)
			return nil, fmt.Errorf("main transport failed (%v); backup failed: %w", err, backupErr)
		}

		a.notifyAdmin(fmt.Sprintf("Main SMTP transport for module %s failed: %v. Sending via backup.", a.module, err))
		a.logSuccess(ctx, req, true)
		return &models.MailSendResult{
			MessageID:  messageID,
			Response:   "delivered",
			UsedBackup: true,
		}, nil
	}

	a.logFailure(ctx, req, err, usedBackup)
	return nil, err
}

// HealthCheck verifies the main transport while degraded. A successful
// probe clears useBackup and notifies the admin of the recovery.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.main == nil || !a.useBackup {
		return nil
	}

	if err := a.main.Verify(); err != nil {
		a.logger.Debug().Err(err).Str("module", a.module).Msg("Main transport still degraded")
		return err
	}

	a.useBackup = false
	a.alertSent = false
	a.logger.Info().Str("module", a.module).Msg("Main transport recovered")

	if a.service.NotifyEnabled && a.service.AdminTo != "" {
		if _, err := a.main.Send(a.service.AdminTo,
			"Mail transport recovered",
			"", fmt.Sprintf("Main SMTP transport for module %s is healthy again.", a.module)); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to send recovery notification")
		}
	}
	return nil
}

// UsingBackup reports whether the adapter is degraded
func (a *Adapter) UsingBackup() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.useBackup
}

// Execute implements the worker adapter contract for email jobs
func (a *Adapter) Execute(ctx context.Context, payload []byte) (interface{}, error) {
	var req SendRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("invalid email payload: %w", err)
	}
	return a.Send(ctx, &req)
}

// notifyAdmin sends a one-shot degradation alert via the backup
func (a *Adapter) notifyAdmin(message string) {
	if !a.service.NotifyEnabled || a.service.AdminTo == "" || a.alertSent || a.backup == nil {
		return
	}
	if _, err := a.backup.Send(a.service.AdminTo, "Mail transport degraded", "", message); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to send admin alert")
		return
	}
	a.alertSent = true
}

func (a *Adapter) logSuccess(ctx context.Context, req *SendRequest, usedBackup bool) {
	entry := &models.MailLogEntry{
		Module:     a.module,
		Recipient:  req.To,
		Subject:    req.Subject,
		Status:     "sent",
		UsedBackup: usedBackup,
	}
	if err := a.store.LogSend(ctx, entry); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to record mail log entry")
	}
}

func (a *Adapter) logFailure(ctx context.Context, req *SendRequest, sendErr error, usedBackup bool) {
	entry := &models.MailLogEntry{
		Module:     a.module,
		Recipient:  req.To,
		Subject:    req.Subject,
		Status:     "failed",
		Error:      sendErr.Error(),
		UsedBackup: usedBackup,
	}
	if err := a.store.LogSend(ctx, entry); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to record mail log entry")
	}
}
