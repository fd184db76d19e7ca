// Package mailer sends donation receipts over SMTP.
package mailer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html"
	"net"
	"net/mail"
	"net/smtp"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jordan-wright/email"
	"github.com/noor/donation-service/internal/domain"
)

// Config holds the SMTP settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// SMTPMailer delivers receipt emails through a single SMTP relay.
type SMTPMailer struct {
	host    string
	addr    string
	auth    smtp.Auth
	from    string
	timeout time.Duration
	send    func(ctx context.Context, e *email.Email) error
}

// New builds an SMTPMailer. Auth is only used when a username is configured.
func New(cfg Config) (*SMTPMailer, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	port := cfg.Port
	if port <= 0 {
		port = 587
	}
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	if from == "" {
		return nil, fmt.Errorf("sender address is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	m := &SMTPMailer{
		host:    cfg.Host,
		addr:    net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		auth:    auth,
		from:    from,
		timeout: timeout,
	}
	m.send = m.deliver
	return m, nil
}

// SendReceipt emails a bilingual thank-you receipt. The connection is closed once
// the timeout or ctx expires, so no SMTP exchange outlives the call.
func (m *SMTPMailer) SendReceipt(ctx context.Context, receipt domain.Receipt) error {
	if strings.TrimSpace(receipt.DonorEmail) == "" {
		return fmt.Errorf("receipt %s has no recipient", receipt.PaymentID)
	}
	em := BuildReceiptEmail(m.from, receipt)

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := m.send(ctx, em); err != nil {
		return fmt.Errorf("send receipt %s: %w", receipt.PaymentID, err)
	}
	return nil
}

// deliver runs the SMTP exchange on a connection bound to ctx. email.Email.Send
// dials without a deadline, so only the message rendering is delegated to it.
func (m *SMTPMailer) deliver(ctx context.Context, em *email.Email) (err error) {
	sender, err := mail.ParseAddress(em.From)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}
	recipients := make([]string, 0, len(em.To)+len(em.Cc)+len(em.Bcc))
	for _, list := range [][]string{em.To, em.Cc, em.Bcc} {
		for _, raw := range list {
			addr, err := mail.ParseAddress(raw)
			if err != nil {
				return fmt.Errorf("invalid recipient %q: %w", raw, err)
			}
			recipients = append(recipients, addr.Address)
		}
	}
	message, err := em.Bytes()
	if err != nil {
		return fmt.Errorf("render message: %w", err)
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", m.addr)
	if err != nil {
		return deadlineError(ctx, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer func() {
		if err != nil {
			err = deadlineError(ctx, err)
		}
	}()

	client, err := smtp.NewClient(conn, m.host)
	if err != nil {
		return err
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: m.host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if m.auth != nil {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(m.auth); err != nil {
				return fmt.Errorf("auth: %w", err)
			}
		}
	}
	if err := client.Mail(sender.Address); err != nil {
		return err
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(message); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

// deadlineError reports IO cut short by ctx as the context error.
func deadlineError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return err
}

// BuildReceiptEmail renders the receipt message in English and Arabic.
func BuildReceiptEmail(from string, receipt domain.Receipt) *email.Email {
	amount := domain.MinorToMajor(receipt.AmountMinor).StringFixed(2) + " " + string(receipt.Currency)
	name := receipt.DonorName
	if strings.TrimSpace(name) == "" {
		name = "Donor"
	}

	em := email.NewEmail()
	em.From = from
	em.To = []string{receipt.DonorEmail}
	em.Subject = fmt.Sprintf("Thank you for your donation to %s", receipt.CampaignTitleEN)

	var text strings.Builder
	fmt.Fprintf(&text, "Dear %s,\n\n", name)
	fmt.Fprintf(&text, "We received your donation of %s to %s.\n", amount, receipt.CampaignTitleEN)
	fmt.Fprintf(&text, "Receipt reference: %s\n\n", receipt.PaymentID)
	if receipt.CampaignTitleAR != "" {
		fmt.Fprintf(&text, "جزاكم الله خيرا على تبرعكم بمبلغ %s لصالح %s.\n", amount, receipt.CampaignTitleAR)
	}
	em.Text = []byte(text.String())

	var body strings.Builder
	fmt.Fprintf(&body, "<p>Dear %s,</p>", html.EscapeString(name))
	fmt.Fprintf(&body, "<p>We received your donation of <strong>%s</strong> to %s.</p>", amount, html.EscapeString(receipt.CampaignTitleEN))
	fmt.Fprintf(&body, "<p>Receipt reference: %s</p>", receipt.PaymentID)
	if receipt.CampaignTitleAR != "" {
		fmt.Fprintf(&body, `<p dir="rtl">جزاكم الله خيرا على تبرعكم بمبلغ %s لصالح %s.</p>`, amount, html.EscapeString(receipt.CampaignTitleAR))
	}
	em.HTML = []byte(body.String())
	return em
}
