package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/athwifi/voucher-api/internal/config"
	"github.com/athwifi/voucher-api/internal/domain/voucher"
	"github.com/athwifi/voucher-api/internal/pkg/database"
	"github.com/athwifi/voucher-api/internal/pkg/logger"
	"github.com/athwifi/voucher-api/internal/pkg/storage"
)

func main() {
	file := flag.String("file", "", "path to a JSON array of {username, password, plan}")
	s3Key := flag.String("s3-key", "", "object key of the batch in S3_BUCKET")
	flag.Parse()

	cfg := config.Load()
	logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env})

	if (*file == "") == (*s3Key == "") {
		fmt.Fprintln(os.Stderr, "usage: voucher-import -file vouchers.json | -s3-key batches/x.json")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	src, err := openSource(ctx, cfg, *file, *s3Key)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open batch")
	}
	items, err := decodeBatch(src)
	src.Close()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read batch")
	}

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	// no hub here; admin dashboards refresh on their next snapshot
	svc := voucher.NewService(voucher.NewRepository(db), nil)
	res, err := svc.Import(ctx, items)
	if err != nil {
		log.Fatal().Err(err).Msg("Import failed")
	}

	for _, rej := range res.Rejected {
		log.Warn().Int("row", rej.Index).Str("reason", rej.Reason).Msg("Row rejected")
	}
	fmt.Printf("inserted=%d skipped=%d rejected=%d\n", res.Inserted, res.Skipped, len(res.Rejected))
}

func openSource(ctx context.Context, cfg *config.Config, file, key string) (io.ReadCloser, error) {
	if file != "" {
		return os.Open(file)
	}
	store, err := storage.NewS3Storage(ctx, storage.Config{
		S3Endpoint:  cfg.S3Endpoint,
		S3Region:    cfg.S3Region,
		S3Bucket:    cfg.S3Bucket,
		S3AccessKey: cfg.S3AccessKey,
		S3SecretKey: cfg.S3SecretKey,
	})
	if err != nil {
		return nil, err
	}
	return store.Get(ctx, key)
}

func decodeBatch(r io.Reader) ([]voucher.ImportItem, error) {
	var items []voucher.ImportItem
	if err := json.NewDecoder(r).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	if len(items) == 0 {
		return nil, errors.New("batch is empty")
	}
	return items, nil
}
