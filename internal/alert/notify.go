// Package alert runs periodic cluster and log checks against the
// OpenSearch cluster and fans the findings out to notifiers.
package alert

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/Susbonk/SusBonk-V1/internal/config"
	"github.com/Susbonk/SusBonk-V1/internal/domain"
	"github.com/Susbonk/SusBonk-V1/internal/pkg/logger"
)

// Notifier delivers one alert. Implementations must not block the
// caller for long; the check loop runs on a single ticker.
type Notifier interface {
	Notify(alert domain.Alert)
}

// StdoutNotifier prints alerts to stdout.
type StdoutNotifier struct{}

func (StdoutNotifier) Notify(alert domain.Alert) {
	fmt.Printf("[%s][%s] %s\n", alert.Severity, alert.Kind, alert.Message)
}

// MultiNotifier fans an alert out to every sink.
type MultiNotifier struct {
	sinks []Notifier
}

// NewMultiNotifier builds a fan-out over the given sinks.
func NewMultiNotifier(sinks ...Notifier) *MultiNotifier {
	return &MultiNotifier{sinks: sinks}
}

func (m *MultiNotifier) Notify(alert domain.Alert) {
	for _, s := range m.sinks {
		s.Notify(alert)
	}
}

// EmailNotifier sends alert emails over SMTP. Port 465 uses an
// implicit TLS connection; any other port connects plain and upgrades
// with STARTTLS.
type EmailNotifier struct {
	cfg     config.EmailConfig
	deliver func(to, subject, body string) error
}

// NewEmailNotifier builds a notifier from the email settings.
func NewEmailNotifier(cfg config.EmailConfig) *EmailNotifier {
	n := &EmailNotifier{cfg: cfg}
	n.deliver = n.deliverSMTP
	return n
}

// Notify delivers in a background goroutine so a slow SMTP server
// never stalls the check loop.
func (n *EmailNotifier) Notify(alert domain.Alert) {
	if !n.cfg.Enabled {
		logger.Warn("email notification disabled")
		return
	}

	subject := fmt.Sprintf("[%s][%s] OpenSearch Alert", alert.Severity, alert.Kind)
	body := alert.Message

	go func() {
		logger.Info("sending alert email", "subject", subject, "server", n.cfg.Server, "port", n.cfg.Port)
		if err := n.sendSync(subject, body); err != nil {
			logger.Error("email send failed", "error", err.Error())
			return
		}
		logger.Info("alert email sent")
	}()
}

// sendSync attempts delivery to every recipient; at least one
// successful delivery counts as success.
func (n *EmailNotifier) sendSync(subject, body string) error {
	if len(n.cfg.To) == 0 {
		return fmt.Errorf("no recipients configured")
	}

	var ok, fail int
	var lastErr error
	for _, to := range n.cfg.To {
		if err := n.deliver(to, subject, body); err != nil {
			fail++
			lastErr = err
			continue
		}
		ok++
	}

	if ok == 0 {
		return fmt.Errorf("failed to send to all recipients: %w", lastErr)
	}
	if fail > 0 {
		logger.Warn("email partially sent", "ok", ok, "fail", fail)
	}
	return nil
}

func (n *EmailNotifier) deliverSMTP(to, subject, body string) error {
	addr := net.JoinHostPort(n.cfg.Server, strconv.Itoa(n.cfg.Port))

	var client *smtp.Client
	var err error
	if n.cfg.Port == 465 {
		conn, dialErr := tls.Dial("tcp", addr, &tls.Config{ServerName: n.cfg.Server})
		if dialErr != nil {
			return fmt.Errorf("smtp tls dial: %w", dialErr)
		}
		client, err = smtp.NewClient(conn, n.cfg.Server)
		if err != nil {
			conn.Close()
			return fmt.Errorf("smtp client: %w", err)
		}
	} else {
		client, err = smtp.Dial(addr)
		if err != nil {
			return fmt.Errorf("smtp dial: %w", err)
		}
		if upgradeOK, _ := client.Extension("STARTTLS"); upgradeOK {
			if err := client.StartTLS(&tls.Config{ServerName: n.cfg.Server}); err != nil {
				client.Close()
				return fmt.Errorf("starttls: %w", err)
			}
		}
	}
	defer client.Close()

	if err := client.Auth(loginAuth(n.cfg.User, n.cfg.Password)); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}
	if err := client.Mail(n.cfg.From); err != nil {
		return fmt.Errorf("smtp mail: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("smtp rcpt: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s",
		n.cfg.From, to, subject, body)
	if _, err := w.Write([]byte(msg)); err != nil {
		w.Close()
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}
	return client.Quit()
}

// loginAuthImpl implements the LOGIN mechanism, which many relay
// providers require instead of PLAIN.
type loginAuthImpl struct {
	user, password string
}

func loginAuth(user, password string) smtp.Auth {
	return &loginAuthImpl{user: user, password: password}
}

func (a *loginAuthImpl) Start(*smtp.ServerInfo) (string, []byte, error) {
	return "LOGIN", nil, nil
}

func (a *loginAuthImpl) Next(fromServer []byte, more bool) ([]byte, error) {
	if !more {
		return nil, nil
	}
	switch strings.TrimSpace(strings.ToLower(string(fromServer))) {
	case "username:":
		return []byte(a.user), nil
	case "password:":
		return []byte(a.password), nil
	}
	return nil, fmt.Errorf("unexpected server challenge: %q", fromServer)
}
