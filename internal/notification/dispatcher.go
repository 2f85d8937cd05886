package notification

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"log/slog"

	"github.com/domodwyer/mailyak/v3"

	"github.com/kirinyoku/eventpay/internal/domain"
	"github.com/kirinyoku/eventpay/internal/metrics"
)

//go:embed templates/*.html
var templatesFS embed.FS

var ticketTemplate = template.Must(template.ParseFS(templatesFS, "templates/ticket.html"))

const (
	colorPaid    template.CSS = "#22c55e"
	colorNotPaid template.CSS = "#dc2626"
	dateLayout                = "02.01.2006 15:04"
)

var statusLabels = map[domain.TicketStatus]string{
	domain.TicketWaitingPayment: "Ожидает оплаты",
	domain.TicketPaid:           "Оплачен",
	domain.TicketRefunded:       "Возвращен",
}

// Sender delivers a composed message. *SMTPPool is the production implementation.
type Sender interface {
	Send(ctx context.Context, from string, to []string, msg []byte) error
	Reset()
}

type Dispatcher struct {
	sender Sender
	from   string
	logger *slog.Logger
}

func NewDispatcher(sender Sender, from string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		sender: sender,
		from:   from,
		logger: logger.With("component", "notification"),
	}
}

type ticketData struct {
	EventTitle  string
	TicketID    int64
	Amount      string
	StatusLabel string
	StatusColor template.CSS
	EventDate   string
	Location    string
	FirstName   string
	ChatLink    string
}

// SendTicketConfirmation emails the ticket to its buyer. Failures are returned
// as is; the caller decides whether they matter. The pooled connection is reset
// after any failure.
func (d *Dispatcher) SendTicketConfirmation(ctx context.Context, t *domain.TicketDetails) error {
	const op = "notification.Dispatcher.SendTicketConfirmation"

	log := d.logger.With(
		"ticket_id", t.Ticket.ID,
		"event_id", t.Event.ID,
		"user_id", t.User.ID,
		"email", t.User.Email,
	)

	msg, err := d.compose(t)
	if err != nil {
		metrics.EmailsSent.WithLabelValues(metrics.OutcomeError).Inc()
		log.Error("failed to compose ticket email", "error", err)
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := d.sender.Send(ctx, d.from, []string{t.User.Email}, msg); err != nil {
		metrics.EmailsSent.WithLabelValues(metrics.OutcomeError).Inc()
		log.Error("failed to send ticket email", "error", err)
		d.sender.Reset()
		return fmt.Errorf("%s: %w", op, err)
	}

	metrics.EmailsSent.WithLabelValues(metrics.OutcomeOK).Inc()
	log.Info("ticket email sent")

	return nil
}

func (d *Dispatcher) compose(t *domain.TicketDetails) ([]byte, error) {
	mail := mailyak.New("", nil)
	mail.From(d.from)
	mail.To(t.User.Email)
	mail.Subject(fmt.Sprintf("Билет на мероприятие %q", t.Event.Title))

	if err := renderTicket(mail.HTML(), t); err != nil {
		return nil, err
	}

	buf, err := mail.MimeBuf()
	if err != nil {
		return nil, fmt.Errorf("build mime: %w", err)
	}

	return buf.Bytes(), nil
}

func renderTicket(w *mailyak.BodyPart, t *domain.TicketDetails) error {
	var buf bytes.Buffer
	if err := ticketTemplate.Execute(&buf, newTicketData(t)); err != nil {
		return fmt.Errorf("render template: %w", err)
	}

	w.Set(buf.String())

	return nil
}

func newTicketData(t *domain.TicketDetails) ticketData {
	data := ticketData{
		EventTitle:  t.Event.Title,
		TicketID:    t.Ticket.ID,
		Amount:      t.Ticket.AmountPaid.StringFixed(2),
		StatusLabel: statusLabels[t.Ticket.Status],
		StatusColor: colorNotPaid,
		EventDate:   t.Event.EventDate.Format(dateLayout),
		Location:    t.Event.Location,
		FirstName:   t.User.FirstName,
	}

	if data.StatusLabel == "" {
		data.StatusLabel = string(t.Ticket.Status)
	}

	if t.Ticket.Status == domain.TicketPaid {
		data.StatusColor = colorPaid
		if t.Event.ChatLink != nil && *t.Event.ChatLink != "" {
			data.ChatLink = *t.Event.ChatLink
		}
	}

	return data
}
