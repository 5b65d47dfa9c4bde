package database

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"zenocloud/internal/model"
)

var identPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func New(ctx context.Context, driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("open %s failed: %w", driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get %s sql db failed: %w", driver, err)
	}

	if driver == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(50)
		sqlDB.SetConnMaxLifetime(1 * time.Hour)
		sqlDB.SetConnMaxIdleTime(30 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("ping %s failed: %w", driver, err)
	}

	return db, nil
}

// Migrate creates the tables and, on Postgres, the pgvector extension and the
// HNSW cosine index the managed search path depends on.
func Migrate(db *gorm.DB, vectorIndex string, dimension int) error {
	isPostgres := db.Dialector.Name() == "postgres"
	if isPostgres {
		if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
			return fmt.Errorf("create vector extension failed: %w", err)
		}
	}
	if err := db.AutoMigrate(&model.Document{}, &model.ChunkEmbedding{}); err != nil {
		return fmt.Errorf("auto migrate tables failed: %w", err)
	}
	if !isPostgres {
		return nil
	}
	if !identPattern.MatchString(vectorIndex) {
		return fmt.Errorf("invalid vector index name %q", vectorIndex)
	}
	stmt := fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS %s ON chunk_embeddings USING hnsw ((embedding::vector(%d)) vector_cosine_ops)",
		vectorIndex, dimension,
	)
	if err := db.Exec(stmt).Error; err != nil {
		return fmt.Errorf("create vector index failed: %w", err)
	}
	return nil
}
