package printer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/loungenpark/PosProject-sub001/internal/config"
	"github.com/loungenpark/PosProject-sub001/pkg/logger"
	"github.com/loungenpark/PosProject-sub001/pkg/models"
	"github.com/loungenpark/PosProject-sub001/pkg/rabbitmq"
)

// PrintSubscriber consumes print tickets from the fanout exchange and
// renders them to the console "printer". The venue server never waits for
// it: a ticket published while no subscriber is bound is not replayed.
// A printer name narrows rendering to the lines routed to that printer,
// so one process per kitchen/bar station works out of the box.
type PrintSubscriber struct {
	cfg     *config.Config
	log     *logger.Logger
	printer string
	rabbit  *rabbitmq.RabbitMQ
}

func NewPrintSubscriber(cfg *config.Config, log *logger.Logger, printer string) *PrintSubscriber {
	return &PrintSubscriber{cfg: cfg, log: log, printer: printer}
}

// Start consumes tickets until ctx ends. Each subscriber gets its own
// exclusive queue on the fanout exchange, so every running copy sees every
// ticket.
func (s *PrintSubscriber) Start(ctx context.Context) error {
	rmq, err := rabbitmq.ConnectRabbitMQ(&s.cfg.RabbitMQ, s.log)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	s.rabbit = rmq

	q, err := rmq.Channel.QueueDeclare(
		"",    // name, let the server generate one
		false, // durable
		false, // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := rmq.Channel.QueueBind(q.Name, "", rabbitmq.PrintExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	deliveries, err := rmq.Channel.Consume(
		q.Name, // queue
		"",     // consumer
		true,   // auto-ack
		false,  // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming messages: %w", err)
	}

	if s.printer != "" {
		s.log.Info("", "subscriber_started", fmt.Sprintf("Print subscriber started for printer %q", s.printer))
	} else {
		s.log.Info("", "subscriber_started", "Print subscriber started for all printers")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				return errors.New("message channel closed")
			}
			if err := s.render(msg.Body); err != nil {
				s.log.Error("", "ticket_render_failed", "Failed to render ticket", err)
			}
		}
	}
}

func (s *PrintSubscriber) Stop() {
	if s.rabbit != nil {
		s.rabbit.Close()
	}
}

func (s *PrintSubscriber) render(body []byte) error {
	var ticket models.PrintTicket
	if err := json.Unmarshal(body, &ticket); err != nil {
		return fmt.Errorf("parse ticket: %w", err)
	}

	lines := FilterLines(ticket.Lines, s.printer)
	if len(lines) == 0 {
		s.log.Debug("", "ticket_skipped", fmt.Sprintf("Ticket for sale %d has no lines for printer %q", ticket.SaleID, s.printer))
		return nil
	}

	fmt.Println(RenderTicket(ticket, lines))
	s.log.Debug("", "ticket_rendered", fmt.Sprintf("Ticket for sale %d rendered with %d line(s)", ticket.SaleID, len(lines)))
	return nil
}

// FilterLines keeps the lines routed to the named printer; an empty name
// keeps everything.
func FilterLines(lines []models.TicketLine, printer string) []models.TicketLine {
	if printer == "" {
		return lines
	}
	var kept []models.TicketLine
	for _, l := range lines {
		if l.Printer == printer {
			kept = append(kept, l)
		}
	}
	return kept
}

// RenderTicket formats one ticket for the console.
func RenderTicket(t models.PrintTicket, lines []models.TicketLine) string {
	var b strings.Builder
	fmt.Fprintf(&b, "==== SALE #%d | %s | %s | %s ====\n", t.SaleID, t.TableName, t.User, t.At.Format("2006-01-02 15:04:05"))
	for _, l := range lines {
		station := ""
		if l.Printer != "" {
			station = "  (" + l.Printer + ")"
		}
		fmt.Fprintf(&b, "  %dx %s%s\n", l.Quantity, l.Name, station)
	}
	fmt.Fprintf(&b, "  TOTAL: %s %s", t.Total.StringFixed(2), t.Currency)
	return b.String()
}
