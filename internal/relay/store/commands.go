package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Command origins.
const (
	OriginDirect    = "direct"
	OriginConfirmed = "confirmed"
)

// Command statuses.
const (
	StatusPublished = "published"
	StatusFailed    = "failed"
)

// CommandRecord is one row of the command audit log.
type CommandRecord struct {
	ID         int64
	RequestID  string
	Kind       string
	Services   []string
	Parameters map[string]any
	Origin     string
	Requester  string
	ChannelID  string
	TraceID    string
	Status     string
	Error      string
	CreatedAt  time.Time
}

// RecordCommand appends rec to the audit log.
func (s *Store) RecordCommand(ctx context.Context, rec CommandRecord) error {
	services := rec.Services
	if services == nil {
		services = []string{}
	}
	params := rec.Parameters
	if params == nil {
		params = map[string]any{}
	}
	servicesJSON, err := json.Marshal(services)
	if err != nil {
		return fmt.Errorf("store: encode services: %w", err)
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("store: encode parameters: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO command_log
			(request_id, kind, services, parameters, origin, requester, channel_id, trace_id, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.RequestID, rec.Kind, string(servicesJSON), string(paramsJSON),
		rec.Origin, rec.Requester, rec.ChannelID, rec.TraceID, rec.Status, rec.Error, s.now().UTC())
	if err != nil {
		return fmt.Errorf("store: record command %s: %w", rec.RequestID, err)
	}
	return nil
}

// RecentCommands returns up to limit records, newest first.
func (s *Store) RecentCommands(ctx context.Context, limit int) ([]CommandRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, kind, services, parameters, origin, requester, channel_id, trace_id, status, error, created_at
		FROM command_log ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list commands: %w", err)
	}
	defer rows.Close()

	var out []CommandRecord
	for rows.Next() {
		var (
			rec                      CommandRecord
			servicesJSON, paramsJSON string
		)
		if err := rows.Scan(&rec.ID, &rec.RequestID, &rec.Kind, &servicesJSON, &paramsJSON,
			&rec.Origin, &rec.Requester, &rec.ChannelID, &rec.TraceID, &rec.Status, &rec.Error, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan command: %w", err)
		}
		if err := json.Unmarshal([]byte(servicesJSON), &rec.Services); err != nil {
			return nil, fmt.Errorf("store: decode services for %s: %w", rec.RequestID, err)
		}
		if err := json.Unmarshal([]byte(paramsJSON), &rec.Parameters); err != nil {
			return nil, fmt.Errorf("store: decode parameters for %s: %w", rec.RequestID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CommandCounts returns the number of logged commands per status.
func (s *Store) CommandCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM command_log GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("store: count commands: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("store: scan count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
