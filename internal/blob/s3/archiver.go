package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/ultratrader/internal/domain"
)

// FillArchiveStore provides the read access the archiver needs. The Postgres
// fill store satisfies it through ListSince.
type FillArchiveStore interface {
	ListSince(ctx context.Context, since time.Time, opts domain.ListOpts) ([]domain.Fill, error)
}

// Archiver implements domain.Archiver by exporting a trading day's fills and
// risk summary to object storage as JSONL and JSON.
//
// Archived rows are not deleted from the primary store. Retention is a
// separate, explicit operation run only after archives have been verified.
type Archiver struct {
	writer *Writer
	reader *Reader
	fills  FillArchiveStore
	audit  domain.AuditStore
}

// NewArchiver creates an Archiver that uploads through the given writer. The
// reader is used to skip days that were already archived, so a restart never
// re-uploads or double-logs a completed day.
func NewArchiver(writer *Writer, reader *Reader, fills FillArchiveStore, audit domain.AuditStore) *Archiver {
	return &Archiver{
		writer: writer,
		reader: reader,
		fills:  fills,
		audit:  audit,
	}
}

// fillRecord is the serialized form of a fill in archive files. Fixed-point
// fields are written alongside display values so archives are usable without
// knowing the internal scale.
type fillRecord struct {
	ID         string    `json:"id"`
	OrderID    string    `json:"order_id"`
	MarketID   string    `json:"market_id"`
	TokenID    string    `json:"token_id"`
	Strategy   string    `json:"strategy"`
	Side       string    `json:"side"`
	PriceTicks int64     `json:"price_ticks"`
	SizeUnits  int64     `json:"size_units"`
	Price      float64   `json:"price"`
	Size       float64   `json:"size"`
	Timestamp  time.Time `json:"ts"`
}

// ArchiveFills exports every fill executed during the given UTC day to
// archive/fills/YYYY-MM-DD.jsonl and returns the number of records written.
// A day with no fills uploads nothing and returns zero.
func (a *Archiver) ArchiveFills(ctx context.Context, day time.Time) (int64, error) {
	path := archivePath("fills", day) + ".jsonl"
	if done, err := a.alreadyArchived(ctx, path); err != nil {
		return 0, err
	} else if done {
		return 0, nil
	}

	start, end := dayBounds(day)

	fills, err := a.fills.ListSince(ctx, start, domain.ListOpts{Until: &end})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive fills query: %w", err)
	}
	if len(fills) == 0 {
		return 0, nil
	}

	records := make([]fillRecord, 0, len(fills))
	for _, f := range fills {
		records = append(records, fillRecord{
			ID:         f.ID,
			OrderID:    f.OrderID,
			MarketID:   f.MarketID,
			TokenID:    f.TokenID,
			Strategy:   f.Strategy,
			Side:       string(f.Side),
			PriceTicks: f.PriceTicks,
			SizeUnits:  f.SizeUnits,
			Price:      f.Price(),
			Size:       f.Size(),
			Timestamp:  f.Timestamp,
		})
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive fills marshal: %w", err)
	}

	if err := a.upload(ctx, path, buf, "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive fills upload: %w", err)
	}

	count := int64(len(fills))

	if err := a.audit.Log(ctx, "archive.fills", map[string]any{
		"path":  path,
		"count": count,
		"day":   day.UTC().Format("2006-01-02"),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive fills audit log: %w", err)
	}

	return count, nil
}

// dailyReport is the serialized form of the end-of-day risk summary.
type dailyReport struct {
	Day            string             `json:"day"`
	DryRun         bool               `json:"dry_run"`
	KillSwitch     bool               `json:"kill_switch"`
	DailyPnL       float64            `json:"daily_pnl"`
	DailyLossLimit float64            `json:"daily_loss_limit"`
	MaxPositionUSD float64            `json:"max_position_usd"`
	GlobalExposure float64            `json:"global_exposure"`
	MarketExposure map[string]float64 `json:"market_exposure,omitempty"`
	Admitted       int64              `json:"admitted"`
	Rejected       int64              `json:"rejected"`
	GeneratedAt    time.Time          `json:"generated_at"`
}

// ArchiveDailyReport uploads the end-of-day risk summary to
// archive/reports/YYYY-MM-DD.json.
func (a *Archiver) ArchiveDailyReport(ctx context.Context, day time.Time, status domain.RiskStatus) error {
	path := archivePath("reports", day) + ".json"
	if done, err := a.alreadyArchived(ctx, path); err != nil {
		return err
	} else if done {
		return nil
	}

	report := dailyReport{
		Day:            day.UTC().Format("2006-01-02"),
		DryRun:         status.DryRun,
		KillSwitch:     status.KillSwitch,
		DailyPnL:       status.DailyPnL,
		DailyLossLimit: status.DailyLossLimit,
		MaxPositionUSD: status.MaxPositionUSD,
		GlobalExposure: status.GlobalExposure,
		MarketExposure: status.MarketExposure,
		Admitted:       status.Admitted,
		Rejected:       status.Rejected,
		GeneratedAt:    time.Now().UTC(),
	}

	buf, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("s3blob: daily report marshal: %w", err)
	}

	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/json"); err != nil {
		return fmt.Errorf("s3blob: daily report upload: %w", err)
	}

	if err := a.audit.Log(ctx, "archive.daily_report", map[string]any{
		"path":      path,
		"day":       report.Day,
		"daily_pnl": report.DailyPnL,
	}); err != nil {
		return fmt.Errorf("s3blob: daily report audit log: %w", err)
	}

	return nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// alreadyArchived reports whether an archive object exists. A nil reader
// disables the check.
func (a *Archiver) alreadyArchived(ctx context.Context, path string) (bool, error) {
	if a.reader == nil {
		return false, nil
	}
	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return false, fmt.Errorf("s3blob: archive existence check %s: %w", path, err)
	}
	return exists, nil
}

// upload routes large payloads through the multipart uploader.
func (a *Archiver) upload(ctx context.Context, path string, buf []byte, contentType string) error {
	if int64(len(buf)) >= minPartSize {
		return a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(buf), contentType)
}

// dayBounds returns the UTC start (inclusive) and end (exclusive by one
// nanosecond) of the calendar day containing t.
func dayBounds(t time.Time) (time.Time, time.Time) {
	start := time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24*time.Hour - time.Nanosecond)
	return start, end
}

// archivePath builds the object key for an archive file, partitioned by day.
//
//	archive/fills/2026-08-29
//	archive/reports/2026-08-29
func archivePath(kind string, day time.Time) string {
	return fmt.Sprintf("archive/%s/%s", kind, day.UTC().Format("2006-01-02"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*Archiver)(nil)
