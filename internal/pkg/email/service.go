package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// sender is satisfied by SendGridClient.
type sender interface {
	Send(ctx context.Context, msg *EmailMessage) error
}

// Service renders templates and sends them from a background queue.
// A Service built without an API key accepts messages and drops them.
type Service struct {
	client    sender
	enabled   bool
	brand     string
	templates map[string]*template.Template
	base      *template.Template
	queue     chan *QueuedEmail
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// QueuedEmail represents an email in the send queue
type QueuedEmail struct {
	To           string
	ToName       string
	Subject      string
	TemplateName string
	Data         interface{}
}

// NewService creates the email service and starts its worker.
func NewService(config SendGridConfig) *Service {
	return newService(NewSendGridClient(config), config.APIKey != "", config.FromName)
}

func newService(client sender, enabled bool, brand string) *Service {
	s := &Service{
		client:    client,
		enabled:   enabled,
		brand:     brand,
		templates: make(map[string]*template.Template),
		base:      template.Must(template.New("base").Parse(baseTemplate)),
		queue:     make(chan *QueuedEmail, 100),
	}
	s.templates[TemplateVoucherReceipt] = template.Must(template.New(TemplateVoucherReceipt).Parse(voucherReceiptTemplate))

	if !enabled {
		log.Warn().Msg("SendGrid API key not configured, e-mail receipts disabled")
	}

	s.wg.Add(1)
	go s.worker()
	return s
}

func (s *Service) worker() {
	defer s.wg.Done()
	for msg := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := s.send(ctx, msg); err != nil {
			log.Error().Err(err).
				Str("to", msg.To).
				Str("template", msg.TemplateName).
				Msg("Failed to send email")
		}
		cancel()
	}
}

func (s *Service) render(msg *QueuedEmail) (string, error) {
	tmpl, ok := s.templates[msg.TemplateName]
	if !ok {
		return "", fmt.Errorf("email template %q not found", msg.TemplateName)
	}
	var content bytes.Buffer
	if err := tmpl.Execute(&content, msg.Data); err != nil {
		return "", err
	}
	var page bytes.Buffer
	if err := s.base.Execute(&page, map[string]interface{}{
		"Content": template.HTML(content.String()),
		"Brand":   s.brand,
	}); err != nil {
		return "", err
	}
	return page.String(), nil
}

func (s *Service) send(ctx context.Context, msg *QueuedEmail) error {
	if !s.enabled {
		return nil
	}
	html, err := s.render(msg)
	if err != nil {
		return err
	}
	return s.client.Send(ctx, &EmailMessage{
		To:          msg.To,
		ToName:      msg.ToName,
		Subject:     msg.Subject,
		HTMLContent: html,
	})
}

// Queue hands msg to the worker without blocking. A full queue drops it.
func (s *Service) Queue(msg *QueuedEmail) {
	if !s.enabled {
		return
	}
	select {
	case s.queue <- msg:
	default:
		log.Warn().Str("to", msg.To).Msg("Email queue full, dropping email")
	}
}

// Close drains the queue and stops the worker.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		close(s.queue)
		s.wg.Wait()
	})
}

// VoucherReceipt is the data of the credentials e-mail.
type VoucherReceipt struct {
	PlanName  string
	Price     string
	Validity  string
	Username  string
	Password  string
	Reference string
}

// SendVoucherReceipt queues the credentials e-mail.
func (s *Service) SendVoucherReceipt(to string, receipt VoucherReceipt) {
	s.Queue(&QueuedEmail{
		To:           to,
		Subject:      "Your " + receipt.PlanName + " WiFi voucher",
		TemplateName: TemplateVoucherReceipt,
		Data:         receipt,
	})
}
