package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/alanyoungcy/oracleadapter/internal/domain"
)

var _ domain.Archiver = (*Archiver)(nil)

const (
	contentTypeJSONL = "application/x-ndjson"
	contentTypeJSON  = "application/json"

	requestsPrefix = "archive/requests/"
	watermarkPath  = requestsPrefix + "_watermark.json"
	snapshotPrefix = "snapshots/registry/"
)

// Archiver exports fulfilled requests and registry snapshots to object
// storage. Exported rows are left in the primary store.
//
// Each ArchiveFulfilled run covers [watermark, before) and then moves the
// watermark stored next to the archives, so runs never overlap.
type Archiver struct {
	writer   domain.BlobWriter
	reader   domain.BlobReader
	requests domain.RequestStore
	audit    domain.AuditStore
	now      func() time.Time

	// multipartThreshold switches uploads to PutMultipart.
	multipartThreshold int
}

// NewArchiver wires an Archiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, requests domain.RequestStore, audit domain.AuditStore) *Archiver {
	return &Archiver{
		writer:             writer,
		reader:             reader,
		requests:           requests,
		audit:              audit,
		now:                func() time.Time { return time.Now().UTC() },
		multipartThreshold: int(minPartSize),
	}
}

type archivedRequest struct {
	Token         string    `json:"token"`
	Identifier    string    `json:"identifier"`
	IdentifierHex string    `json:"identifierHex"`
	Timestamp     int64     `json:"timestamp"`
	Oracle        string    `json:"oracle"`
	JobID         string    `json:"jobId,omitempty"`
	Price         string    `json:"price"`
	RawPrice      string    `json:"rawPrice"`
	Decimals      uint8     `json:"decimals"`
	CreatedAt     time.Time `json:"createdAt"`
	FulfilledAt   time.Time `json:"fulfilledAt"`
}

func toArchived(r domain.PriceRequest) archivedRequest {
	out := archivedRequest{
		Token:         string(r.Token),
		Identifier:    r.Identifier.String(),
		IdentifierHex: r.Identifier.Hex(),
		Timestamp:     r.Timestamp,
		Oracle:        r.Oracle.Hex(),
		JobID:         domain.OracleBinding{JobID: r.JobID}.JobName(),
		CreatedAt:     r.CreatedAt,
	}
	if r.Price != nil {
		out.Price = r.Price.Decimal().String()
		out.RawPrice = r.Price.Value.String()
		out.Decimals = r.Price.Decimals
	}
	if r.FulfilledAt != nil {
		out.FulfilledAt = *r.FulfilledAt
	}
	return out
}

type watermark struct {
	Until time.Time `json:"until"`
}

// ArchiveFulfilled writes requests fulfilled since the last run and before
// the cutoff as one JSONL object, returning how many were written.
func (a *Archiver) ArchiveFulfilled(ctx context.Context, before time.Time) (int64, error) {
	since, err := a.loadWatermark(ctx)
	if err != nil {
		return 0, err
	}
	if !before.After(since) {
		return 0, nil
	}

	reqs, err := a.requests.ListFulfilled(ctx, since, before, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive query: %w", err)
	}

	count := int64(len(reqs))
	path := ""
	if count > 0 {
		records := make([]archivedRequest, 0, len(reqs))
		for _, r := range reqs {
			records = append(records, toArchived(r))
		}
		buf, err := marshalJSONL(records)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive marshal: %w", err)
		}

		path = archivePath(since, before)
		if err := a.upload(ctx, path, buf); err != nil {
			return 0, err
		}
	}

	if err := a.saveWatermark(ctx, before); err != nil {
		return count, err
	}

	if a.audit != nil && count > 0 {
		if err := a.audit.Log(ctx, "archive.requests", map[string]any{
			"path":   path,
			"count":  count,
			"since":  since.Format(time.RFC3339),
			"before": before.Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive audit log: %w", err)
		}
	}
	return count, nil
}

// upload writes one export. A run whose upload landed but whose watermark
// write failed leaves the object behind; the retry finds it and skips.
func (a *Archiver) upload(ctx context.Context, path string, buf []byte) error {
	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return fmt.Errorf("s3blob: archive check %s: %w", path, err)
	}
	if exists {
		return nil
	}
	if len(buf) > a.multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), contentTypeJSONL)
	}
	if err != nil {
		return fmt.Errorf("s3blob: archive upload: %w", err)
	}
	return nil
}

type registrySnapshot struct {
	Owner    string            `json:"owner"`
	TakenAt  time.Time         `json:"takenAt"`
	Bindings []snapshotBinding `json:"bindings"`
}

type snapshotBinding struct {
	Identifier    string    `json:"identifier"`
	IdentifierHex string    `json:"identifierHex"`
	Address       string    `json:"address"`
	Mode          string    `json:"mode"`
	JobID         string    `json:"jobId,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// SnapshotRegistry writes the full binding table and owner as one JSON
// document and returns its path.
func (a *Archiver) SnapshotRegistry(ctx context.Context, owner string, bindings []domain.BindingEntry) (string, error) {
	taken := a.now()
	snap := registrySnapshot{
		Owner:    owner,
		TakenAt:  taken,
		Bindings: make([]snapshotBinding, 0, len(bindings)),
	}
	for _, b := range bindings {
		snap.Bindings = append(snap.Bindings, snapshotBinding{
			Identifier:    b.Identifier.String(),
			IdentifierHex: b.Identifier.Hex(),
			Address:       b.Binding.Address.Hex(),
			Mode:          b.Binding.Mode(),
			JobID:         b.Binding.JobName(),
			UpdatedAt:     b.UpdatedAt,
		})
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("s3blob: snapshot marshal: %w", err)
	}
	path := snapshotPrefix + taken.Format("20060102T150405Z") + ".json"
	if err := a.writer.Put(ctx, path, bytes.NewReader(data), contentTypeJSON); err != nil {
		return "", fmt.Errorf("s3blob: snapshot upload: %w", err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.snapshot", map[string]any{
			"path":     path,
			"bindings": len(bindings),
		}); err != nil {
			return path, fmt.Errorf("s3blob: snapshot audit log: %w", err)
		}
	}
	return path, nil
}

func (a *Archiver) loadWatermark(ctx context.Context) (time.Time, error) {
	body, err := a.reader.Get(ctx, watermarkPath)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("s3blob: read watermark: %w", err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return time.Time{}, fmt.Errorf("s3blob: read watermark: %w", err)
	}
	var wm watermark
	if err := json.Unmarshal(data, &wm); err != nil {
		return time.Time{}, fmt.Errorf("s3blob: decode watermark: %w", err)
	}
	return wm.Until, nil
}

func (a *Archiver) saveWatermark(ctx context.Context, until time.Time) error {
	data, err := json.Marshal(watermark{Until: until.UTC()})
	if err != nil {
		return fmt.Errorf("s3blob: encode watermark: %w", err)
	}
	if err := a.writer.Put(ctx, watermarkPath, bytes.NewReader(data), contentTypeJSON); err != nil {
		return fmt.Errorf("s3blob: write watermark: %w", err)
	}
	return nil
}

// archivePath partitions exports by the month of the cutoff:
//
//	archive/requests/2025-01/1735689600-1738368000.jsonl
func archivePath(since, before time.Time) string {
	var from int64
	if !since.IsZero() {
		from = since.Unix()
	}
	return fmt.Sprintf("%s%s/%d-%d.jsonl", requestsPrefix, before.UTC().Format("2006-01"), from, before.Unix())
}

// marshalJSONL encodes one compact JSON object per line.
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
