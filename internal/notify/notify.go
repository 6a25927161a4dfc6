// Package notify publishes scan run summaries when a run finishes.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/ppiankov/traceguard/internal/logging"
	"github.com/ppiankov/traceguard/internal/model"
)

// Event is the run summary sent to notifiers
type Event struct {
	RunID            string          `json:"run_id"`
	RepositoryID     string          `json:"repository_id"`
	Status           model.RunStatus `json:"status"`
	Revision         string          `json:"revision,omitempty"`
	FilesFound       int             `json:"files_found"`
	FilesChanged     int             `json:"files_changed"`
	FilesDeleted     int             `json:"files_deleted"`
	ArtifactsCreated int             `json:"artifacts_created"`
	ArtifactsUpdated int             `json:"artifacts_updated"`
	Rejected         int             `json:"rejected"`
	BrokenLinks      int             `json:"broken_links"`
	EvidenceVerified int             `json:"evidence_verified"`
	Error            string          `json:"error,omitempty"`
	DurationMS       int64           `json:"duration_ms,omitempty"`
	Timestamp        time.Time       `json:"timestamp"`
}

// EventFromRun summarises run as if it had reached status
func EventFromRun(run *model.ScanRun, status model.RunStatus, at time.Time) Event {
	ev := Event{
		RunID:            run.ID,
		RepositoryID:     run.RepositoryID,
		Status:           status,
		Revision:         run.Revision,
		FilesFound:       run.FilesFound,
		FilesChanged:     run.FilesChanged,
		FilesDeleted:     run.FilesDeleted,
		ArtifactsCreated: run.ArtifactsCreated,
		ArtifactsUpdated: run.ArtifactsUpdated,
		Rejected:         run.Rejected,
		BrokenLinks:      run.BrokenLinks,
		EvidenceVerified: run.EvidenceVerified,
		Error:            run.Error,
		DurationMS:       run.DurationMS,
		Timestamp:        at.UTC(),
	}
	if run.StartedAt != nil && ev.DurationMS == 0 {
		ev.DurationMS = at.Sub(*run.StartedAt).Milliseconds()
	}
	return ev
}

// Notifier delivers run events
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Log writes events to a logger
type Log struct {
	logger *zap.Logger
}

// NewLog creates a logging notifier
func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logging.Component(logger, "notify")}
}

func (l *Log) Notify(_ context.Context, ev Event) error {
	fields := []zap.Field{
		zap.String("run_id", ev.RunID),
		zap.String("repository", ev.RepositoryID),
		zap.String("status", string(ev.Status)),
		zap.Int("files_found", ev.FilesFound),
		zap.Int("artifacts_created", ev.ArtifactsCreated),
		zap.Int("artifacts_updated", ev.ArtifactsUpdated),
		zap.Int("broken_links", ev.BrokenLinks),
		zap.Int64("duration_ms", ev.DurationMS),
	}
	if ev.Error != "" {
		l.logger.Warn("scan run failed", append(fields, zap.String("error", ev.Error))...)
		return nil
	}
	l.logger.Info("scan run finished", fields...)
	return nil
}

// Publisher is the subset of *nats.Conn used for publishing
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATS publishes events as JSON on <prefix>.scan.<status>
type NATS struct {
	pub    Publisher
	conn   *nats.Conn // Set when the notifier owns the connection
	prefix string
}

// NewNATS publishes through an existing connection or publisher
func NewNATS(pub Publisher, prefix string) *NATS {
	if prefix == "" {
		prefix = "traceguard"
	}
	return &NATS{pub: pub, prefix: prefix}
}

// ConnectNATS dials url and returns a notifier that owns the connection
func ConnectNATS(url, prefix string, logger *zap.Logger) (*NATS, error) {
	log := logging.Component(logger, "notify.nats")
	conn, err := nats.Connect(url,
		nats.Name("traceguard"),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	n := NewNATS(conn, prefix)
	n.conn = conn
	return n, nil
}

// Subject returns the subject events of status are published on
func (n *NATS) Subject(status model.RunStatus) string {
	return fmt.Sprintf("%s.scan.%s", n.prefix, status)
}

func (n *NATS) Notify(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := n.pub.Publish(n.Subject(ev.Status), data); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	if n.conn != nil {
		if err := n.conn.FlushWithContext(ctx); err != nil {
			return fmt.Errorf("flush: %w", err)
		}
	}
	return nil
}

// Close drains an owned connection
func (n *NATS) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Drain()
}

// Multi fans an event out to every notifier and joins their errors
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
