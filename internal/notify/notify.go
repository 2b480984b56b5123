// Package notify implements the Notification Service (§4.5): email,
// signed webhook, and dashboard delivery to a contractor, each producing
// an audit row. Grounded on the fraud service's HTTPWebhookClient
// (HMAC-SHA256 signing, retry-with-backoff) generalized to
// cenkalti/backoff's exponential policy in place of the hand-rolled
// time.Sleep loop, since webhook delivery here has a hard 30s deadline
// rather than an unbounded retry budget.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/smtp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"github.com/rivalapex/leadauction/internal/domain"
	"github.com/rivalapex/leadauction/internal/metrics"
	"github.com/rivalapex/leadauction/internal/store"
)

const webhookDeadline = 30 * time.Second

// Attempt is the outcome of one channel's delivery attempt.
type Attempt struct {
	Channel string // email|webhook|dashboard
	Success bool
	Error   string
}

// Mailer abstracts outbound email so tests don't dial a real SMTP server.
type Mailer interface {
	Send(ctx context.Context, to, subject, plainBody, htmlBody string) error
}

// SMTPMailer sends mail via net/smtp. No third-party mail library appears
// in any complete example repo, so this component stays on the standard
// library (documented in the grounding ledger).
type SMTPMailer struct {
	Addr string
	From string
	Auth smtp.Auth
}

// Send implements Mailer using net/smtp's SendMail with m.Auth (nil sends
// without authentication), sending a
// multipart/alternative message so plain and HTML bodies both reach the
// contractor per §4.5.
func (m *SMTPMailer) Send(_ context.Context, to, subject, plainBody, htmlBody string) error {
	const boundary = "leadauction-boundary"
	var b strings.Builder
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", boundary)

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	fmt.Fprintf(&b, "Content-Type: text/plain; charset=UTF-8\r\n\r\n%s\r\n\r\n", plainBody)

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	fmt.Fprintf(&b, "Content-Type: text/html; charset=UTF-8\r\n\r\n%s\r\n\r\n", htmlBody)

	fmt.Fprintf(&b, "--%s--\r\n", boundary)

	return smtp.SendMail(m.Addr, m.Auth, m.From, []string{to}, []byte(b.String()))
}

// Service sends notifications across all three channels and records an
// audit row for every attempt via store.Store.
type Service struct {
	store   store.Store
	mailer  Mailer
	client  *http.Client
	metrics *metrics.Metrics
}

// New builds a Service. mailer may be nil, in which case email delivery is
// skipped and recorded as a failed attempt.
func New(st store.Store, mailer Mailer) *Service {
	return &Service{store: st, mailer: mailer, client: &http.Client{Timeout: webhookDeadline}}
}

// SetMetrics attaches a Prometheus recorder; nil disables recording.
func (s *Service) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// Notify fans out to every channel enabled on buyer, persisting one
// DELIVERY-adjacent NOTIFICATION audit row per channel attempted. A
// channel failure never prevents the others from running (§4.5).
func (s *Service) Notify(ctx context.Context, lead domain.Lead, buyer domain.Buyer) []Attempt {
	var attempts []Attempt

	if buyer.NotifyEmail {
		attempts = append(attempts, s.sendEmail(ctx, lead, buyer))
	}
	if buyer.NotifyWebhook {
		attempts = append(attempts, s.sendWebhook(ctx, lead, buyer))
	}
	if buyer.NotifyDashboard {
		attempts = append(attempts, s.sendDashboard(ctx, lead, buyer))
	}

	if len(attempts) == 0 {
		log.WithField("buyer_id", buyer.BuyerID).Info("notify: no channels enabled, no-op")
	}

	return attempts
}

func (s *Service) sendEmail(ctx context.Context, lead domain.Lead, buyer domain.Buyer) Attempt {
	subject := fmt.Sprintf("New %s Lead - %s", lead.ServiceTypeID, lead.ZipCode)
	plain, html := renderEmailBody(lead)

	var attemptErr error
	if s.mailer == nil {
		attemptErr = fmt.Errorf("no mailer configured")
	} else {
		attemptErr = s.mailer.Send(ctx, buyer.ContactEmail, subject, plain, html)
	}

	attempt := Attempt{Channel: "email", Success: attemptErr == nil}
	if attemptErr != nil {
		attempt.Error = attemptErr.Error()
	}
	s.recordAttempt(ctx, lead.LeadID, buyer.BuyerID, "NOTIFICATION_EMAIL", buyer.ContactEmail, attempt)
	return attempt
}

// renderEmailBody splits lead.FormData into known contact fields and
// free-form project details, camelCase-to-Title-Case per §4.5.
func renderEmailBody(lead domain.Lead) (plain, html string) {
	known := map[string]string{"firstName": "", "lastName": "", "phone": "", "email": "", "address": ""}
	var contactLines, detailLines []string

	keys := make([]string, 0, len(lead.FormData))
	for k := range lead.FormData {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := fmt.Sprintf("%v", lead.FormData[k])
		if _, isKnown := known[k]; isKnown {
			contactLines = append(contactLines, fmt.Sprintf("%s: %s", titleCase(k), v))
		} else {
			detailLines = append(detailLines, fmt.Sprintf("%s: %s", titleCase(k), v))
		}
	}

	var b strings.Builder
	b.WriteString("Contact Information\n")
	for _, l := range contactLines {
		b.WriteString(l + "\n")
	}
	b.WriteString("\nProject Details\n")
	for _, l := range detailLines {
		b.WriteString(l + "\n")
	}
	plain = b.String()
	html = "<p>" + strings.ReplaceAll(plain, "\n", "<br>") + "</p>"
	return plain, html
}

func titleCase(s string) string {
	var out strings.Builder
	for i, r := range s {
		if i == 0 {
			out.WriteRune(unicode.ToUpper(r))
			continue
		}
		if unicode.IsUpper(r) {
			out.WriteRune(' ')
			out.WriteRune(r)
			continue
		}
		out.WriteRune(r)
	}
	return out.String()
}

type webhookPayload struct {
	Event     string      `json:"event"`
	Timestamp int64       `json:"timestamp"`
	Lead      interface{} `json:"lead"`
	Contractor struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"contractor"`
}

func (s *Service) sendWebhook(ctx context.Context, lead domain.Lead, buyer domain.Buyer) Attempt {
	ctx, cancel := context.WithTimeout(ctx, webhookDeadline)
	defer cancel()

	payload := webhookPayload{Event: "new_lead", Timestamp: time.Now().Unix(), Lead: lead}
	payload.Contractor.ID = buyer.BuyerID
	payload.Contractor.Name = buyer.ContactName

	body, err := json.Marshal(payload)
	if err != nil {
		attempt := Attempt{Channel: "webhook", Success: false, Error: err.Error()}
		s.recordAttempt(ctx, lead.LeadID, buyer.BuyerID, "NOTIFICATION_WEBHOOK", buyer.WebhookURL, attempt)
		return attempt
	}

	op := func() error { return s.postWebhookOnce(ctx, buyer, body) }
	policy := backoff.WithMaxRetries(backoff.WithContext(backoff.NewExponentialBackOff(), ctx), 2)
	err = backoff.Retry(op, policy)

	attempt := Attempt{Channel: "webhook", Success: err == nil}
	if err != nil {
		attempt.Error = err.Error()
	}
	s.recordAttempt(ctx, lead.LeadID, buyer.BuyerID, "NOTIFICATION_WEBHOOK", buyer.WebhookURL, attempt)
	return attempt
}

func (s *Service) postWebhookOnce(ctx context.Context, buyer domain.Buyer, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, buyer.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if buyer.WebhookSecret != "" {
		req.Header.Set("X-Webhook-Signature", sign(body, buyer.WebhookSecret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err // transient, retryable
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return backoff.Permanent(fmt.Errorf("webhook rejected with status %d", resp.StatusCode))
	}
	return fmt.Errorf("webhook returned status %d", resp.StatusCode)
}

// sign computes hex(HMAC-SHA256(secret, body)), per §6's signature contract.
func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *Service) sendDashboard(ctx context.Context, lead domain.Lead, buyer domain.Buyer) Attempt {
	note := store.DashboardNotification{
		Title:     fmt.Sprintf("New %s Lead", lead.ServiceTypeID),
		Message:   fmt.Sprintf("Lead %s in %s is ready for review.", lead.LeadID, lead.ZipCode),
		Read:      false,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}

	err := s.store.AppendDashboardNotification(ctx, buyer.BuyerID, note)
	attempt := Attempt{Channel: "dashboard", Success: err == nil}
	if err != nil {
		attempt.Error = err.Error()
	}
	s.recordAttempt(ctx, lead.LeadID, buyer.BuyerID, "NOTIFICATION_DASHBOARD", buyer.BuyerID, attempt)
	return attempt
}

func (s *Service) recordAttempt(ctx context.Context, leadID, buyerID, actionLabel, target string, attempt Attempt) {
	status := domain.StatusFailed
	if attempt.Success {
		status = domain.StatusSuccess
	}
	tx := domain.Transaction{
		LeadID:         leadID,
		BuyerID:        buyerID,
		ActionType:     domain.ActionDelivery,
		Status:         status,
		Payload:        actionLabel + ":" + target,
		ErrorMessage:   attempt.Error,
		DeliveryMethod: attempt.Channel,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.InsertTransaction(ctx, tx); err != nil {
		log.WithError(err).WithFields(log.Fields{"lead_id": leadID, "buyer_id": buyerID, "channel": attempt.Channel}).
			Warn("notify: failed to persist audit row")
	}
	if s.metrics != nil {
		s.metrics.NotificationAttempts.WithLabelValues(attempt.Channel, strconv.FormatBool(attempt.Success)).Inc()
	}
}
