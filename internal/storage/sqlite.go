// Package storage is the sqlite-backed implementation of ports.Store.
// Timestamps are stored as unix milliseconds so window queries compare
// integers, never strings.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"github.com/AetherSilva/G3r4kiHub/internal/domain"
	"github.com/AetherSilva/G3r4kiHub/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Config selects the database file and its lock patience.
type Config struct {
	Path        string
	BusyTimeout time.Duration
}

type SQLite struct {
	db  *sql.DB
	log logx.Logger
}

// Open creates the file if needed, applies pragmas and migrations, and
// returns a ready store.
func Open(cfg Config, log logx.Logger) (*SQLite, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	st := &SQLite{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return st, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// LoadActiveDedup returns every active dedup row for cache rehydration.
func (s *SQLite) LoadActiveDedup(ctx context.Context) ([]domain.DedupEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT asin, last_published FROM deal_cache WHERE active = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DedupEntry
	for rows.Next() {
		var asin string
		var ms int64
		if err := rows.Scan(&asin, &ms); err != nil {
			return nil, err
		}
		out = append(out, domain.DedupEntry{ASIN: asin, LastPublished: time.UnixMilli(ms), Active: true})
	}
	return out, rows.Err()
}

// DeactivateDedupBefore flips entries older than cutoff to inactive. The
// rows stay behind for history; only the active flag changes.
func (s *SQLite) DeactivateDedupBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE deal_cache SET active = 0 WHERE active = 1 AND last_published < ?`,
		cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RepairDedup re-creates or re-activates dedup rows for deals published
// since the cutoff whose cache entry is missing or stale. Covers a crash
// between publish and commit on older store layouts.
func (s *SQLite) RepairDedup(ctx context.Context, since time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO deal_cache(asin, last_published, active)
		 SELECT p.asin, MAX(p.posted_at), 1
		 FROM posted_deals p
		 WHERE p.posted_at >= ?
		 GROUP BY p.asin
		 ON CONFLICT(asin) DO UPDATE SET
		     last_published = max(excluded.last_published, deal_cache.last_published),
		     active = 1
		 WHERE deal_cache.active = 0 OR deal_cache.last_published < excluded.last_published`,
		since.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SavePublished commits the published row and its dedup entry in one
// transaction. Either both land or neither does.
func (s *SQLite) SavePublished(ctx context.Context, d domain.PublishedDeal, e domain.DedupEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO posted_deals(asin, title, price, original_price, discount_percent,
		                          image_url, affiliate_url, category, chat_id, message_id, posted_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		d.ASIN, d.Title, d.Price, d.OriginalPrice, d.DiscountPercent,
		d.ImageURL, d.AffiliateURL, d.Category, d.Handle.ChatID, d.Handle.MessageID,
		d.PostedAt.UnixMilli(),
	); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO deal_cache(asin, last_published, active) VALUES(?,?,1)
		 ON CONFLICT(asin) DO UPDATE SET last_published = excluded.last_published, active = 1`,
		e.ASIN, e.LastPublished.UnixMilli(),
	); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLite) CountPostedSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM posted_deals WHERE posted_at >= ?`,
		since.UnixMilli()).Scan(&n)
	return n, err
}

func (s *SQLite) ListPublishedBetween(ctx context.Context, from, to time.Time) ([]domain.PublishedDeal, error) {
	q, args, err := sq.Select("id", "asin", "title", "price", "original_price", "discount_percent",
		"image_url", "affiliate_url", "category", "chat_id", "message_id", "posted_at").
		From("posted_deals").
		Where(sq.GtOrEq{"posted_at": from.UnixMilli()}).
		Where(sq.Lt{"posted_at": to.UnixMilli()}).
		OrderBy("posted_at ASC").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PublishedDeal
	for rows.Next() {
		var d domain.PublishedDeal
		var postedMS int64
		if err := rows.Scan(&d.ID, &d.ASIN, &d.Title, &d.Price, &d.OriginalPrice, &d.DiscountPercent,
			&d.ImageURL, &d.AffiliateURL, &d.Category, &d.Handle.ChatID, &d.Handle.MessageID, &postedMS); err != nil {
			return nil, err
		}
		d.PostedAt = time.UnixMilli(postedMS)
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetEngagement returns the stored record for a handle, or
// domain.ErrNotFound when the message was never reconciled.
func (s *SQLite) GetEngagement(ctx context.Context, h domain.MessageHandle) (domain.EngagementRecord, error) {
	var r domain.EngagementRecord
	var ms int64
	err := s.db.QueryRowContext(ctx,
		`SELECT asin, views, clicks, conversions, revenue, ctr, reconciled_at
		 FROM engagement WHERE chat_id = ? AND message_id = ?`,
		h.ChatID, h.MessageID,
	).Scan(&r.ASIN, &r.Views, &r.Clicks, &r.Conversions, &r.Revenue, &r.CTR, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.EngagementRecord{}, fmt.Errorf("engagement %d/%d: %w", h.ChatID, h.MessageID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.EngagementRecord{}, err
	}
	r.Handle = h
	r.ReconciledAt = time.UnixMilli(ms)
	return r, nil
}

// UpsertEngagement writes the record keyed by handle, updating in place.
func (s *SQLite) UpsertEngagement(ctx context.Context, r domain.EngagementRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO engagement(chat_id, message_id, asin, views, clicks, conversions, revenue, ctr, reconciled_at)
		 VALUES(?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(chat_id, message_id) DO UPDATE SET
		     asin = excluded.asin,
		     views = excluded.views,
		     clicks = excluded.clicks,
		     conversions = excluded.conversions,
		     revenue = excluded.revenue,
		     ctr = excluded.ctr,
		     reconciled_at = excluded.reconciled_at`,
		r.Handle.ChatID, r.Handle.MessageID, r.ASIN,
		r.Views, r.Clicks, r.Conversions, r.Revenue, r.CTR, r.ReconciledAt.UnixMilli(),
	)
	return err
}

func (s *SQLite) AppendJobRun(ctx context.Context, r domain.JobRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_runs(job, run_id, scheduled_at, started_at, finished_at, outcome, summary, err)
		 VALUES(?,?,?,?,?,?,?,?)`,
		r.Job, r.RunID, r.ScheduledAt.UnixMilli(), r.StartedAt.UnixMilli(), r.FinishedAt.UnixMilli(),
		string(r.Outcome), r.Summary, r.Error,
	)
	return err
}

func (s *SQLite) PruneJobRuns(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM job_runs WHERE finished_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DashboardStats aggregates the reporting numbers in one round trip per
// table. "Today" is the calendar day of now in its own location; revenue
// and CTR cover the trailing 30 days.
func (s *SQLite) DashboardStats(ctx context.Context, now time.Time) (domain.DashboardStats, error) {
	var st domain.DashboardStats

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN posted_at >= ? THEN 1 ELSE 0 END), 0)
		 FROM posted_deals`, dayStart.UnixMilli(),
	).Scan(&st.TotalDeals, &st.TodayDeals)
	if err != nil {
		return domain.DashboardStats{}, err
	}

	since := now.AddDate(0, 0, -30)
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(revenue), 0),
		        COALESCE(AVG(CASE WHEN views > 0 THEN ctr END), 0)
		 FROM engagement WHERE reconciled_at >= ?`, since.UnixMilli(),
	).Scan(&st.TotalRevenue, &st.AverageCTR)
	if err != nil {
		return domain.DashboardStats{}, err
	}
	return st, nil
}
