// Command import enqueues a student_welcome email for every row of a
// student CSV file.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"lmsmail/internal/app"
	"lmsmail/internal/config"
	"lmsmail/internal/csvparser"
	"lmsmail/internal/models"
)

func main() {
	file := flag.String("file", "", "path to the student CSV")
	loginURL := flag.String("login-url", "", "login link included in the welcome email")
	maxRetries := flag.Int("max-retries", -1, "retry budget per email (default: DEFAULT_MAX_RETRIES)")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "usage: import -file students.csv [-login-url URL] [-max-retries N]")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	if *maxRetries < 0 {
		*maxRetries = cfg.DefaultMaxRetries
	}

	batch, err := csvparser.ParseStudentsFile(*file, cfg.ImportMaxRows)
	if err != nil {
		logger.Fatal("failed to parse csv", zap.String("file", *file), zap.Error(err))
	}

	if batch.Overflow > 0 {
		logger.Warn("rows beyond IMPORT_MAX_ROWS are not queued",
			zap.Int("limit", cfg.ImportMaxRows),
			zap.Int("overflow", batch.Overflow),
		)
	}

	ctx := context.Background()

	store, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer store.Close()

	queued := 0
	for _, st := range batch.Students {
		data, err := json.Marshal(st.WelcomeData(*loginURL))
		if err != nil {
			logger.Fatal("failed to encode template data", zap.Int("line", st.Line), zap.Error(err))
		}

		job := models.QueueItem{
			EmailType:      models.EmailTypeStudentWelcome,
			RecipientEmail: st.Email,
			RecipientName:  st.Name,
			TemplateData:   data,
			MaxRetries:     *maxRetries,
		}
		if err := store.InsertEmail(ctx, &job); err != nil {
			logger.Error("failed to enqueue student",
				zap.Int("line", st.Line),
				zap.String("email", st.Email),
				zap.Error(err),
			)
			continue
		}
		queued++
	}

	logger.Info("student import finished",
		zap.Int("queued", queued),
		zap.Int("skipped", batch.Skipped),
		zap.Int("overflow", batch.Overflow),
		zap.Int("failed", len(batch.Students)-queued),
	)
}
