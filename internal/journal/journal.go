// Package journal records notable domain actions (attempt submitted, scores
// published, exam opened/closed) for audit.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"time"
)

type Entry struct {
	Seq       int64  `json:"seq"`
	Actor     string `json:"actor"`
	Action    string `json:"action"`
	Key       string `json:"key"` // natural key: examID or attemptID
	DataJSON  string `json:"data"`
	CreatedAt int64  `json:"created_at"`
}

// Recorder is what services use; failures to journal are logged, never
// propagated to the caller.
type Recorder interface {
	Record(ctx context.Context, actor, action, key string, detail interface{})
}

type Repo struct{ db *sql.DB }

func NewRepo(db *sql.DB) *Repo { return &Repo{db: db} }

func (r *Repo) Record(ctx context.Context, actor, action, key string, detail interface{}) {
	data := "{}"
	if detail != nil {
		if b, err := json.Marshal(detail); err == nil {
			data = string(b)
		}
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO journal (actor, action, key, data, created_at)
		 VALUES ($1,$2,$3,$4,$5)`,
		actor, action, key, data, time.Now().Unix())
	if err != nil {
		log.Printf("journal: record %s/%s: %v", action, key, err)
	}
}

func (r *Repo) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT seq, actor, action, key, data, created_at FROM journal
		 ORDER BY seq DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Seq, &e.Actor, &e.Action, &e.Key, &e.DataJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Nop discards entries; used in tests and when no DB is wired.
type Nop struct{}

func (Nop) Record(context.Context, string, string, string, interface{}) {}
