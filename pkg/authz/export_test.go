package authz

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"
)

func TestWriteMatrixCSV(t *testing.T) {
	m := &Matrix{
		Cells: []MatrixCell{
			{
				Principal: Principal{Type: PrincipalUser, ID: 1},
				Resource:  ResourceRef{Type: ResourceWorkspace, ID: ptr(10)},
				Effective: PermRead | PermWrite | PermExecute,
				Preset:    "Contributor",
				Source:    StrategyACL,
				IsDirect:  true,
			},
			{
				Principal:     Principal{Type: PrincipalGroup, ID: 100},
				Resource:      ResourceRef{Type: ResourceProject, ID: ptr(20)},
				Effective:     PermRead,
				Preset:        "Read Only",
				Source:        StrategyACL,
				IsDenied:      true,
				InheritedFrom: &ResourceRef{Type: ResourceWorkspace, ID: ptr(10)},
			},
			{
				Principal: Principal{Type: PrincipalUser, ID: 2},
				Resource:  ResourceRef{Type: ResourceAdmin},
				Preset:    "None",
				Source:    StrategyLegacy,
			},
		},
		Total: 3,
	}

	var buf bytes.Buffer
	require.NoError(t, WriteMatrixCSV(&buf, m))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)

	require.Equal(t, []string{
		"principal_type", "principal_id", "resource_type", "resource_id",
		"effective", "preset", "source", "is_direct", "is_denied", "inherited_from",
	}, records[0])
	require.Equal(t, []string{"user", "1", "workspace", "10", "7", "Contributor", "acl", "true", "false", ""}, records[1])
	require.Equal(t, []string{"group", "100", "project", "20", "1", "Read Only", "acl", "false", "true", "workspace:10"}, records[2])

	// Type-wide resources carry an empty resource_id column.
	require.Equal(t, "", records[3][3])
}

func TestExportLocalFile(t *testing.T) {
	db := matrixFixture()
	svc := testService(db)
	exporter := NewExporter(svc, testLogger())

	dir := t.TempDir()
	target, err := exporter.Export(context.Background(), MatrixFilter{}, dir)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(target, dir))
	require.True(t, strings.HasSuffix(target, ".csv"))

	data, err := os.ReadFile(target)
	require.NoError(t, err)

	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	// Header plus every cell of the full matrix.
	require.Len(t, records, 10)
}

func TestExportCreatesDirectory(t *testing.T) {
	db := matrixFixture()
	svc := testService(db)
	exporter := NewExporter(svc, testLogger())

	dir := filepath.Join(t.TempDir(), "nested", "exports")
	_, err := exporter.Export(context.Background(), MatrixFilter{}, dir)
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

type fakeS3 struct {
	bucket string
	key    string
	body   []byte
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.bucket = *params.Bucket
	f.key = *params.Key
	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(params.Body); err != nil {
		return nil, err
	}
	f.body = buf.Bytes()
	return &s3.PutObjectOutput{}, nil
}

func TestExportS3(t *testing.T) {
	db := matrixFixture()
	svc := testService(db)
	fake := &fakeS3{}
	exporter := NewExporter(svc, testLogger(), WithS3Client(fake))

	target, err := exporter.Export(context.Background(), MatrixFilter{}, "s3://audit-bucket/kanbu/matrix")
	require.NoError(t, err)

	require.Equal(t, "audit-bucket", fake.bucket)
	require.True(t, strings.HasPrefix(fake.key, "kanbu/matrix/permission-matrix-"))
	require.Equal(t, "s3://audit-bucket/"+fake.key, target)
	require.NotEmpty(t, fake.body)
}

func TestExportInvalidS3Destination(t *testing.T) {
	db := matrixFixture()
	svc := testService(db)
	exporter := NewExporter(svc, testLogger(), WithS3Client(&fakeS3{}))

	_, err := exporter.Export(context.Background(), MatrixFilter{}, "s3://")
	require.Error(t, err)
}
