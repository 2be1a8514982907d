package authz

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/hydro13/kanbu-sub005/pkg/observability"
)

// WriteMatrixCSV encodes a matrix as CSV, one row per cell.
func WriteMatrixCSV(w io.Writer, m *Matrix) error {
	cw := csv.NewWriter(w)
	header := []string{
		"principal_type", "principal_id",
		"resource_type", "resource_id",
		"effective", "preset", "source",
		"is_direct", "is_denied", "inherited_from",
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, cell := range m.Cells {
		resourceID := ""
		if cell.Resource.ID != nil {
			resourceID = strconv.FormatInt(*cell.Resource.ID, 10)
		}
		inherited := ""
		if cell.InheritedFrom != nil {
			inherited = cell.InheritedFrom.String()
		}
		row := []string{
			string(cell.Principal.Type),
			strconv.FormatInt(cell.Principal.ID, 10),
			string(cell.Resource.Type),
			resourceID,
			strconv.Itoa(int(cell.Effective)),
			cell.Preset,
			string(cell.Source),
			strconv.FormatBool(cell.IsDirect),
			strconv.FormatBool(cell.IsDenied),
			inherited,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// s3Uploader is the subset of the S3 client the exporter uses.
type s3Uploader interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Exporter writes permission-matrix snapshots to a local directory or an
// S3 bucket, for audit archives and offline review.
type Exporter struct {
	svc      *Service
	log      *observability.Logger
	metrics  *observability.Metrics
	s3Region string
	s3Client s3Uploader
}

// ExportOption configures an Exporter.
type ExportOption func(*Exporter)

// WithExportMetrics enables export outcome instrumentation.
func WithExportMetrics(m *observability.Metrics) ExportOption {
	return func(e *Exporter) { e.metrics = m }
}

// WithS3Region sets the region used when the exporter builds its own S3
// client.
func WithS3Region(region string) ExportOption {
	return func(e *Exporter) { e.s3Region = region }
}

// WithS3Client injects an S3 client, primarily for tests.
func WithS3Client(client s3Uploader) ExportOption {
	return func(e *Exporter) { e.s3Client = client }
}

// NewExporter creates a matrix exporter over the access gate.
func NewExporter(svc *Service, log *observability.Logger, opts ...ExportOption) *Exporter {
	e := &Exporter{svc: svc, log: log, s3Region: "us-east-1"}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Export builds the full matrix and writes it to the destination: either
// a local directory path or an s3://bucket/prefix URL. Returns the final
// object path.
func (e *Exporter) Export(ctx context.Context, filter MatrixFilter, destination string) (string, error) {
	// Exports are always complete snapshots.
	filter.Offset = 0
	filter.Limit = 0

	matrix, err := e.svc.BuildMatrix(ctx, filter)
	if err != nil {
		e.observe(destination, err)
		return "", err
	}

	var buf bytes.Buffer
	if err := WriteMatrixCSV(&buf, matrix); err != nil {
		e.observe(destination, err)
		return "", err
	}

	filename := fmt.Sprintf("permission-matrix-%s.csv", matrix.GeneratedAt.Format("20060102T150405Z"))

	var target string
	if strings.HasPrefix(destination, "s3://") {
		target, err = e.uploadS3(ctx, destination, filename, buf.Bytes())
	} else {
		target, err = writeLocal(destination, filename, buf.Bytes())
	}
	e.observe(destination, err)
	if err != nil {
		return "", err
	}

	e.log.WithFields(map[string]interface{}{
		"destination": target,
		"cells":       matrix.Total,
	}).Info("permission matrix exported")
	return target, nil
}

func (e *Exporter) observe(destination string, err error) {
	if e.metrics == nil {
		return
	}
	kind := "file"
	if strings.HasPrefix(destination, "s3://") {
		kind = "s3"
	}
	e.metrics.ObserveMatrixExport(kind, err)
}

func writeLocal(dir, filename string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}
	target := path.Join(dir, filename)
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write export file: %w", err)
	}
	return target, nil
}

func (e *Exporter) uploadS3(ctx context.Context, destination, filename string, data []byte) (string, error) {
	u, err := url.Parse(destination)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid s3 destination %q", destination)
	}
	bucket := u.Host
	key := path.Join(strings.TrimPrefix(u.Path, "/"), filename)

	client := e.s3Client
	if client == nil {
		cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(e.s3Region))
		if err != nil {
			return "", fmt.Errorf("failed to load aws config: %w", err)
		}
		client = s3.NewFromConfig(cfg)
	}

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("text/csv"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload matrix to s3: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", bucket, key), nil
}

// ScheduleKey names the cron entry for scheduled exports, so operators
// can correlate logs with the configured schedule.
const ScheduleKey = "matrix-export"

// RunScheduledExport is the cron callback body: one full export with a
// bounded timeout, logging instead of propagating failure so the
// schedule keeps running.
func (e *Exporter) RunScheduledExport(destination string) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := e.Export(ctx, MatrixFilter{IncludeInherited: true}, destination); err != nil {
			e.log.WithError(err).Error("scheduled matrix export failed")
		}
	}
}
