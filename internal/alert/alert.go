// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package alert mails critical log records to a list of subscribers.
package alert

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LevelCritical sits above slog.LevelError. Records at this level are mailed.
const LevelCritical = slog.Level(12)

// DefaultSubject is used when Config.Subject is empty.
const DefaultSubject = "New Critical Event From product_filtering"

const defaultQueueSize = 16

// ReplaceLevel renders LevelCritical as CRITICAL. It is meant for
// slog.HandlerOptions.ReplaceAttr.
func ReplaceLevel(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey || len(groups) > 0 {
		return a
	}
	if lvl, ok := a.Value.Any().(slog.Level); ok && lvl >= LevelCritical {
		a.Value = slog.StringValue("CRITICAL")
	}
	return a
}

// Mail is one alert ready to be sent.
type Mail struct {
	From    string
	To      []string
	Subject string
	Body    string
}

// Mailer delivers a Mail.
type Mailer interface {
	Send(ctx context.Context, m Mail) error
}

// SMTPMailer sends through an unauthenticated SMTP relay.
type SMTPMailer struct {
	// Host is host or host:port; port 25 is assumed when missing.
	Host string
}

func (s SMTPMailer) Send(_ context.Context, m Mail) error {
	addr := s.Host
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "25")
	}
	if err := smtp.SendMail(addr, nil, m.From, m.To, m.Bytes(time.Now())); err != nil {
		return fmt.Errorf("failed to send alert mail via %s: %w", addr, err)
	}
	return nil
}

// Bytes renders the mail as an RFC 5322 message.
func (m Mail) Bytes(date time.Time) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", m.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(m.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", m.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", date.Format(time.RFC1123Z))
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(m.Body, "\n", "\r\n"))
	return b.Bytes()
}

// Config configures a Handler.
type Config struct {
	Sender      string
	Subscribers []string
	Subject     string
	QueueSize   int
}

// Enabled reports whether there is anyone to mail.
func (c Config) Enabled() bool {
	return c.Sender != "" && len(c.Subscribers) > 0
}

type queue struct {
	cfg     Config
	mailer  Mailer
	ch      chan Mail
	done    chan struct{}
	dropped atomic.Int64
	sent    atomic.Int64

	mu     sync.RWMutex
	closed bool
}

func (q *queue) offer(m Mail) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.dropped.Add(1)
		return
	}
	select {
	case q.ch <- m:
	default:
		q.dropped.Add(1)
	}
}

func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

func (q *queue) run() {
	defer close(q.done)
	for m := range q.ch {
		if err := q.mailer.Send(context.Background(), m); err != nil {
			// Logging through slog here could recurse into this handler.
			fmt.Fprintf(os.Stderr, "alert: %v\n", err)
			continue
		}
		q.sent.Add(1)
	}
}

type handlerOp struct {
	group string
	attrs []slog.Attr
}

// Handler is an slog.Handler that formats records at LevelCritical and above
// and queues them for mailing. Handle never blocks: when the queue is full the
// record is dropped and counted.
type Handler struct {
	q   *queue
	ops []handlerOp
}

var _ slog.Handler = (*Handler)(nil)

// NewHandler starts the mail sender goroutine. Call Close to flush it.
func NewHandler(cfg Config, mailer Mailer) *Handler {
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	q := &queue{
		cfg:    cfg,
		mailer: mailer,
		ch:     make(chan Mail, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	go q.run()
	return &Handler{q: q}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= LevelCritical
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level < LevelCritical {
		return nil
	}
	body, err := h.render(ctx, r)
	if err != nil {
		return err
	}
	m := Mail{
		From:    h.q.cfg.Sender,
		To:      h.q.cfg.Subscribers,
		Subject: h.q.cfg.Subject,
		Body:    body,
	}
	h.q.offer(m)
	return nil
}

// render replays the accumulated groups and attrs onto a text handler so the
// mail body looks like the console log line.
func (h *Handler) render(ctx context.Context, r slog.Record) (string, error) {
	var buf bytes.Buffer
	var th slog.Handler = slog.NewTextHandler(&buf, &slog.HandlerOptions{
		Level:       LevelCritical,
		ReplaceAttr: ReplaceLevel,
	})
	for _, op := range h.ops {
		if op.group != "" {
			th = th.WithGroup(op.group)
		} else {
			th = th.WithAttrs(op.attrs)
		}
	}
	if err := th.Handle(ctx, r); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	return h.with(handlerOp{attrs: attrs})
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return h.with(handlerOp{group: name})
}

func (h *Handler) with(op handlerOp) *Handler {
	ops := make([]handlerOp, len(h.ops), len(h.ops)+1)
	copy(ops, h.ops)
	return &Handler{q: h.q, ops: append(ops, op)}
}

// Dropped returns the number of alerts discarded because the queue was full.
func (h *Handler) Dropped() int64 { return h.q.dropped.Load() }

// Sent returns the number of alerts delivered.
func (h *Handler) Sent() int64 { return h.q.sent.Load() }

// Close stops accepting alerts and waits for queued ones to be sent or for
// ctx to end.
func (h *Handler) Close(ctx context.Context) error {
	h.q.close()
	select {
	case <-h.q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
