// Package notification delivers risk alerts to loan officers. Delivery is
// best-effort; failures are logged and never surfaced to the caller.
package notification

import (
	"fmt"
	"net/smtp"
	"sort"
	"strings"

	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"

	"github.com/lalloyce/optifluenceLMS/internal/config"
	"github.com/lalloyce/optifluenceLMS/internal/models"
)

// Dispatcher receives alert events for out-of-band delivery.
type Dispatcher interface {
	AlertRaised(alert *models.RiskAlert)
	DailySummary(totalActive int, bySeverity map[models.AlertSeverity]int, byType map[models.AlertType]int)
}

// EmailDispatcher sends alert notifications over SMTP.
type EmailDispatcher struct {
	cfg        *config.Config
	log        *logrus.Logger
	recipients []string
}

// NewEmailDispatcher creates an SMTP-backed dispatcher. Recipients come
// from the comma-separated RISK_RECIPIENTS setting.
func NewEmailDispatcher(cfg *config.Config, log *logrus.Logger) *EmailDispatcher {
	var recipients []string
	for _, addr := range strings.Split(cfg.RiskRecipients, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			recipients = append(recipients, addr)
		}
	}
	return &EmailDispatcher{cfg: cfg, log: log, recipients: recipients}
}

// AlertRaised emails a critical alert to the risk recipients.
func (d *EmailDispatcher) AlertRaised(alert *models.RiskAlert) {
	if len(d.recipients) == 0 {
		d.log.Debugf("No risk recipients configured, dropping alert %s", alert.Type)
		return
	}

	var body strings.Builder
	fmt.Fprintf(&body, "A %s risk alert was raised for application %d.\n\n", alert.Severity, alert.ApplicationID)
	fmt.Fprintf(&body, "Type: %s\n%s\n\n", alert.Type, alert.Message)
	if len(alert.Details) > 0 {
		body.WriteString("Details:\n")
		keys := make([]string, 0, len(alert.Details))
		for key := range alert.Details {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Fprintf(&body, "  %s: %s\n", key, alert.Details[key].String())
		}
	}
	fmt.Fprintf(&body, "\nReview: %s\n", d.cfg.DashboardURL)

	subject := fmt.Sprintf("%s RISK ALERT: %s", alert.Severity, alert.Type)
	d.send(subject, body.String())
}

// DailySummary emails the active-alert counts to the risk recipients.
func (d *EmailDispatcher) DailySummary(totalActive int, bySeverity map[models.AlertSeverity]int, byType map[models.AlertType]int) {
	if len(d.recipients) == 0 {
		return
	}

	var body strings.Builder
	fmt.Fprintf(&body, "Active risk alerts: %d\n\nBy severity:\n", totalActive)
	for _, severity := range []models.AlertSeverity{models.SeverityCritical, models.SeverityHigh, models.SeverityMedium, models.SeverityLow} {
		if count := bySeverity[severity]; count > 0 {
			fmt.Fprintf(&body, "  %s: %d\n", severity, count)
		}
	}
	body.WriteString("\nBy type:\n")
	types := make([]string, 0, len(byType))
	for alertType := range byType {
		types = append(types, string(alertType))
	}
	sort.Strings(types)
	for _, alertType := range types {
		fmt.Fprintf(&body, "  %s: %d\n", alertType, byType[models.AlertType(alertType)])
	}
	fmt.Fprintf(&body, "\nReview: %s\n", d.cfg.DashboardURL)

	d.send("Daily Risk Alerts Summary", body.String())
}

func (d *EmailDispatcher) send(subject, body string) {
	e := email.NewEmail()
	e.From = d.cfg.SenderEmail
	e.To = d.recipients
	e.Subject = subject
	e.Text = []byte(body)

	addr := fmt.Sprintf("%s:%s", d.cfg.SMTPHost, d.cfg.SMTPPort)
	auth := smtp.PlainAuth("", d.cfg.SMTPUsername, d.cfg.SMTPPassword, d.cfg.SMTPHost)
	if err := e.Send(addr, auth); err != nil {
		d.log.Errorf("Failed to send notification %q: %v", subject, err)
		return
	}
	d.log.Infof("Notification sent to %d recipients: %s", len(d.recipients), subject)
}

// NopDispatcher drops every notification. Used in tests and when SMTP is
// not configured.
type NopDispatcher struct{}

func (NopDispatcher) AlertRaised(*models.RiskAlert) {}
func (NopDispatcher) DailySummary(int, map[models.AlertSeverity]int, map[models.AlertType]int) {
}
