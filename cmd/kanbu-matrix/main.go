// kanbu-matrix is a one-shot CLI that builds the permission matrix and
// writes it to stdout, a local directory, or S3. It is the offline
// counterpart of the daemon's /matrix endpoints, intended for audits and
// cron jobs outside the service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hydro13/kanbu-sub005/pkg/authz"
	"github.com/hydro13/kanbu-sub005/pkg/config"
	"github.com/hydro13/kanbu-sub005/pkg/observability"
	"github.com/hydro13/kanbu-sub005/pkg/storage/postgres"
)

func main() {
	var (
		resourceTypes  = flag.String("resources", "", "comma-separated resource types (default: workspace,project)")
		principalTypes = flag.String("principals", "", "comma-separated principal types (default: user,group)")
		workspaceID    = flag.Int64("workspace", 0, "restrict to one workspace")
		inherited      = flag.Bool("inherited", true, "include inherited ACL entries")
		destination    = flag.String("out", "", "output: empty for stdout, a directory path, or s3://bucket/prefix")
		s3Region       = flag.String("s3-region", "us-east-1", "S3 region for s3:// destinations")
		timeout        = flag.Duration("timeout", 5*time.Minute, "build timeout")
		verbose        = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("failed to load configuration: %v", err)
	}

	store, err := postgres.Open(cfg.Database)
	if err != nil {
		logger.Fatalf("failed to open postgres: %v", err)
	}
	defer store.Close()

	level := observability.ErrorLevel
	if *verbose {
		level = observability.DebugLevel
	}
	log := observability.NewLogger(level, os.Stderr)
	svc := authz.NewService(store, log)

	filter := authz.MatrixFilter{IncludeInherited: *inherited}
	for _, t := range splitList(*resourceTypes) {
		filter.ResourceTypes = append(filter.ResourceTypes, authz.ResourceType(t))
	}
	for _, t := range splitList(*principalTypes) {
		filter.PrincipalTypes = append(filter.PrincipalTypes, authz.PrincipalType(t))
	}
	if *workspaceID > 0 {
		filter.WorkspaceID = workspaceID
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if *destination == "" {
		matrix, err := svc.BuildMatrix(ctx, filter)
		if err != nil {
			logger.Fatalf("failed to build matrix: %v", err)
		}
		if err := authz.WriteMatrixCSV(os.Stdout, matrix); err != nil {
			logger.Fatalf("failed to write matrix: %v", err)
		}
		logger.Debugf("wrote %d cells", matrix.Total)
		return
	}

	exporter := authz.NewExporter(svc, log, authz.WithS3Region(*s3Region))
	target, err := exporter.Export(ctx, filter, *destination)
	if err != nil {
		logger.Fatalf("export failed: %v", err)
	}
	fmt.Fprintln(os.Stdout, target)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
