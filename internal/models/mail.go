package models

import "time"

// MailModuleGlobal is the fallback configuration namespace consulted
// when a module has no setting of its own.
const MailModuleGlobal = "Global"

// MailServiceSettings are the per-module service flags
type MailServiceSettings struct {
	Module          string `json:"module"`
	FailoverEnabled bool   `json:"failoverEnabled"`
	NotifyEnabled   bool   `json:"notifyEnabled"`
	AdminTo         string `json:"adminTo"`
}

// MailTransportSettings describe one SMTP endpoint (main or backup)
type MailTransportSettings struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	From     string `json:"from"`
	FromName string `json:"fromName"`
	UseTLS   bool   `json:"useTls"`
}

// IsComplete reports whether the transport has everything needed to send
func (t *MailTransportSettings) IsComplete() bool {
	return t.Host != "" && t.Username != "" && t.Password != "" && t.From != ""
}

// MailLogEntry records one send attempt in the mail log store
type MailLogEntry struct {
	ID         int64     `json:"id"`
	Module     string    `json:"module"`
	Recipient  string    `json:"recipient"`
	Subject    string    `json:"subject"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	UsedBackup bool      `json:"usedBackup"`
	CreatedAt  time.Time `json:"createdAt"`
}

// MailSendResult is returned to the caller on successful delivery
type MailSendResult struct {
	MessageID  string `json:"messageId"`
	Response   string `json:"response"`
	UsedBackup bool   `json:"usedBackup"`
}
