package smtp

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/deadlock-vault/internal/config"
	"github.com/deadlock-vault/internal/domain"
)

// Mailer sends emails.
type Mailer interface {
	SendEmail(to, subject, body string) error
}

type mailer struct {
	host     string
	port     string
	from     string
	username string
	password string
	send     func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewMailer(cfg *config.Config) Mailer {
	return &mailer{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		from:     cfg.SMTPFrom,
		username: cfg.SMTPUsername,
		password: cfg.SMTPPassword,
		send:     smtp.SendMail,
	}
}

func (m *mailer) SendEmail(to, subject, body string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s",
		m.from, to, subject, body)
	addr := fmt.Sprintf("%s:%s", m.host, m.port)

	var auth smtp.Auth
	if m.username != "" {
		auth = smtp.PlainAuth("", m.username, m.password, m.host)
	}

	return m.send(addr, auth, m.from, []string{to}, []byte(msg))
}

// NomineeNotifier emails a nominee their share and the link to the
// nominee portal of the vault.
type NomineeNotifier struct {
	mailer  Mailer
	baseURL string
}

func NewNomineeNotifier(m Mailer, publicBaseURL string) *NomineeNotifier {
	return &NomineeNotifier{mailer: m, baseURL: strings.TrimRight(publicBaseURL, "/")}
}

func (n *NomineeNotifier) Notify(ctx context.Context, notice domain.NomineeNotice) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	subject := fmt.Sprintf("You are a nominee for vault %q", notice.VaultName)
	if err := n.mailer.SendEmail(notice.NomineeEmail, subject, nomineeBody(n.baseURL, notice)); err != nil {
		return fmt.Errorf("send nominee email: %w", err)
	}
	return nil
}

func nomineeBody(baseURL string, notice domain.NomineeNotice) string {
	var b strings.Builder
	switch notice.Reason {
	case domain.ReasonTriggerTime:
		fmt.Fprintf(&b, "The release date set by the owner of the vault %q has been reached", notice.VaultName)
	case domain.ReasonGraceElapsed:
		fmt.Fprintf(&b, "The owner of the vault %q has stopped checking in and the grace period has ended", notice.VaultName)
	case "", domain.ReasonOwnerRequest:
		fmt.Fprintf(&b, "The owner of the vault %q has asked for it to be opened", notice.VaultName)
	default:
		fmt.Fprintf(&b, "The owner of the vault %q has asked for it to be opened (%s)", notice.VaultName, notice.Reason)
	}
	b.WriteString(".\r\n\r\n")
	fmt.Fprintf(&b, "You hold share #%d. All three nominees must submit their shares before the vault unlocks.\r\n\r\n", notice.NomineeID)
	if notice.RevealedShare != "" {
		fmt.Fprintf(&b, "Your share:\r\n%s\r\n\r\n", notice.RevealedShare)
	}
	fmt.Fprintf(&b, "Submit it at %s/nominee/%s\r\n", baseURL, notice.VaultID)
	return b.String()
}
