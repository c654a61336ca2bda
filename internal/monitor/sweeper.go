// internal/monitor/sweeper.go
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/canary-cli/internal/config"
)

// zstdEncoder is shared by every sweep; EncodeAll is safe for concurrent use.
var zstdEncoder *zstd.Encoder

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic(fmt.Sprintf("failed to create zstd encoder: %v", err))
	}
}

// ErrNoBucket is returned when the sweeper has nowhere to upload entries.
var ErrNoBucket = errors.New("no object storage bucket configured")

// errEntryVanished marks an entry removed by someone else mid-sweep.
var errEntryVanished = errors.New("queue entry vanished")

const subjectRunIDLen = 20

// SweepResult counts what one sweep did.
type SweepResult struct {
	Processed int
	Alerted   int
	Deleted   int
	Failed    int
	Skipped   int
}

// Sweeper drains the error queue: upload, alert, then delete.
type Sweeper struct {
	queue  *Queue
	store  ObjectStore
	alerts AlertTransport
	cfg    config.MonitorConfig
	now    func() time.Time
	logger *zap.Logger
}

// NewSweeper wires a sweeper. The bucket is required; a missing alert topic is
// the caller's choice of AlertTransport.
func NewSweeper(q *Queue, store ObjectStore, alerts AlertTransport, cfg config.MonitorConfig, logger *zap.Logger) (*Sweeper, error) {
	if cfg.S3Bucket == "" {
		return nil, ErrNoBucket
	}
	if q == nil || store == nil || alerts == nil {
		return nil, fmt.Errorf("sweeper requires a queue, an object store and an alert transport")
	}
	if cfg.UploadConcurrency <= 0 {
		cfg.UploadConcurrency = 1
	}
	cfg.S3Prefix = strings.Trim(cfg.S3Prefix, "/")
	return &Sweeper{
		queue:  q,
		store:  store,
		alerts: alerts,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.Named("sweeper"),
	}, nil
}

// Sweep processes every published entry once, oldest first. Per-entry
// failures are counted and logged; the returned error is reserved for a queue
// that cannot be listed or a cancelled context.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	s.logger.Info("Scanning error queue.", zap.String("dir", s.queue.Dir()))

	entries, err := s.queue.List()
	if err != nil {
		return res, err
	}
	if len(entries) == 0 {
		s.logger.Info("No error entries found.")
		return res, nil
	}
	s.logger.Info("Found error entries.", zap.Int("count", len(entries)))

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Processed++
		alerted, deleted, err := s.process(ctx, e)
		if alerted {
			res.Alerted++
		}
		if deleted {
			res.Deleted++
		}
		switch {
		case errors.Is(err, errEntryVanished):
			res.Skipped++
			s.logger.Info("Entry already handled elsewhere.", zap.String("run_id", e.RunID()))
		case err != nil:
			res.Failed++
			s.logger.Warn("Entry kept for the next sweep.", zap.String("run_id", e.RunID()), zap.Error(err))
		}
	}

	s.logger.Info("Sweep complete.",
		zap.Int("processed", res.Processed),
		zap.Int("alerted", res.Alerted),
		zap.Int("deleted", res.Deleted),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

// process handles one entry. The entry is deleted only after both the upload
// and the alert succeeded.
func (s *Sweeper) process(ctx context.Context, e Entry) (alerted, deleted bool, err error) {
	logger := s.logger.With(zap.String("run_id", e.RunID()))
	logger.Info("Processing error entry.", zap.String("dir", e.Dir), zap.Time("created_at", e.Manifest.CreatedAt))

	date := e.Manifest.CreatedAt
	if date.IsZero() {
		date = s.now()
	}
	dateStr := date.UTC().Format("2006-01-02")
	keyPrefix := path.Join(s.cfg.S3Prefix, dateStr, e.RunID())
	location := fmt.Sprintf("s3://%s/%s/", s.cfg.S3Bucket, keyPrefix)

	uploaded, err := s.upload(ctx, e, keyPrefix, logger)
	if err != nil {
		return false, false, err
	}

	if err := s.alerts.Send(ctx, s.buildAlert(e, dateStr, uploaded, location)); err != nil {
		return false, false, fmt.Errorf("failed to send alert: %w", err)
	}
	logger.Info("Alert sent.")

	if s.cfg.NoDelete {
		logger.Info("Skipping deletion of entry.", zap.String("dir", e.Dir))
		return true, false, nil
	}
	if err := os.RemoveAll(e.Dir); err != nil {
		return true, false, fmt.Errorf("failed to delete entry: %w", err)
	}
	logger.Info("Deleted local entry.", zap.String("dir", e.Dir))
	return true, true, nil
}

// upload puts every file of the entry under keyPrefix and returns the number
// of files uploaded. Any single failure fails the entry.
func (s *Sweeper) upload(ctx context.Context, e Entry, keyPrefix string, logger *zap.Logger) (int, error) {
	names, err := e.Files()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, errEntryVanished
		}
		return 0, fmt.Errorf("failed to list entry files: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.UploadConcurrency)

	for _, name := range names {
		name := name
		g.Go(func() error {
			obj, err := s.buildObject(e, keyPrefix, name)
			if err != nil {
				return err
			}
			loc, err := s.store.Put(gctx, obj)
			if err != nil {
				logger.Error("Failed to upload file.", zap.String("file", name), zap.Error(err))
				return fmt.Errorf("failed to upload %s: %w", name, err)
			}
			logger.Info("Uploaded file.", zap.String("file", name), zap.String("location", loc))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}
	logger.Info("Upload complete.", zap.Int("files", len(names)))
	return len(names), nil
}

func (s *Sweeper) buildObject(e Entry, keyPrefix, name string) (Object, error) {
	body, err := os.ReadFile(filepath.Join(e.Dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Object{}, errEntryVanished
		}
		return Object{}, fmt.Errorf("failed to read %s: %w", name, err)
	}

	obj := Object{
		Key:         keyPrefix + "/" + name,
		Body:        body,
		ContentType: contentType(name),
		Metadata: map[string]string{
			"run_id": e.RunID(),
			"digest": e.Manifest.Digest,
		},
	}
	if s.cfg.CompressTraces && isTraceFile(name) {
		obj.Key += ".zst"
		obj.Body = zstdEncoder.EncodeAll(body, make([]byte, 0, len(body)/2))
		obj.Metadata["original-content-type"] = obj.ContentType
		obj.ContentType = "application/zstd"
	}
	return obj, nil
}

func (s *Sweeper) buildAlert(e Entry, date string, uploaded int, location string) Alert {
	runID := e.RunID()
	short := runID
	if len(short) > subjectRunIDLen {
		short = short[:subjectRunIDLen]
	}
	description := e.Manifest.HealthDescription
	if description == "" {
		description = "unknown"
	}

	var b strings.Builder
	b.WriteString("An error was detected in the QA monitoring process.\n\n")
	b.WriteString("Error Details:\n")
	fmt.Fprintf(&b, "- Run ID: %s\n", runID)
	fmt.Fprintf(&b, "- Date: %s\n", date)
	if !e.Manifest.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "- Created: %s\n", e.Manifest.CreatedAt.UTC().Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(&b, "- Files Uploaded: %d\n", uploaded)
	fmt.Fprintf(&b, "- Final Health Description: %s\n\n", description)
	fmt.Fprintf(&b, "S3 Location:\n%s\n\n", location)
	b.WriteString("Please review the S3 bucket for detailed error information.\n")

	return Alert{
		Recipient: s.cfg.SNSTopicARN,
		Subject:   fmt.Sprintf("QA Error Detected: %s...", short),
		Body:      b.String(),
		Attributes: map[string]string{
			"run_id":  runID,
			"date":    date,
			"s3_path": location,
			"digest":  e.Manifest.Digest,
		},
	}
}

func isTraceFile(name string) bool {
	return strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".jsonl")
}

func contentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return "application/json"
	case ".jsonl":
		return "application/x-ndjson"
	case ".png":
		return "image/png"
	case ".html":
		return "text/html; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
