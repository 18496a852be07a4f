package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/kb-service/config"
	"github.com/kb-service/models"
	"github.com/kb-service/pipeline"
	"github.com/kb-service/services/impl"
)

func main() {
	docsDir := flag.String("docs", "", "index every .md/.mdx file under this directory")
	jsonlPath := flag.String("jsonl", "", "import a cleaned JSONL corpus")
	force := flag.Bool("force", false, "re-index documents even when checksums match")
	stats := flag.Bool("stats", false, "print store counts and exit")
	flag.Parse()

	if *docsDir == "" && *jsonlPath == "" && !*stats {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	ctx := context.Background()

	gormDB, err := gorm.Open(postgres.Open(cfg.GetDatabaseDSN()), &gorm.Config{})
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	if err := gormDB.AutoMigrate(&models.DocumentRecord{}, &models.IndexMeta{}); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	sqlDB, err := sql.Open("postgres", cfg.GetDatabaseDSN())
	if err != nil {
		log.Fatal("Failed to open vector connection:", err)
	}
	defer sqlDB.Close()

	docStore := impl.NewDocStore(gormDB)

	embedder := impl.NewEmbeddingService(&cfg.Embedding)
	probeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	dimension, err := embedder.ProbeDimension(probeCtx)
	cancel()
	if err != nil {
		log.Fatal("Embedding probe failed:", err)
	}

	vectorStore, err := impl.NewVectorStore(ctx, sqlDB, cfg.Embedding.Model, dimension)
	if err != nil {
		log.Fatal("Vector store initialization failed:", err)
	}

	if *stats {
		docCount, err := docStore.CountDocuments(ctx)
		if err != nil {
			log.Fatal("Failed to count documents:", err)
		}
		chunkCount, err := vectorStore.CountChunks(ctx)
		if err != nil {
			log.Fatal("Failed to count chunks:", err)
		}
		fmt.Printf("documents: %d\nchunks: %d\ntable: %s\ndimension: %d\n",
			docCount, chunkCount, vectorStore.TableName(), vectorStore.Dimension())
		return
	}

	chunker := pipeline.NewChunker(cfg.Chunking.ChunkSize, cfg.Chunking.ChunkOverlap, cfg.Chunking.MaxSectionChars)
	indexer := pipeline.NewIndexer(chunker, embedder, docStore, vectorStore)
	builder := pipeline.NewBuilder(indexer)

	var runStats *models.IndexStats
	switch {
	case *docsDir != "":
		runStats, err = builder.BuildFromDir(ctx, *docsDir, *force)
	case *jsonlPath != "":
		runStats, err = builder.BuildFromJSONL(ctx, *jsonlPath, *force)
	}
	if err != nil {
		log.Fatal("Index run failed:", err)
	}

	fmt.Printf("total: %d\nindexed: %d\nskipped: %d\nchunks added: %d\nchunks deleted: %d\n",
		runStats.Total, runStats.Indexed, runStats.Skipped, runStats.ChunksAdded, runStats.ChunksDeleted)
	for _, e := range runStats.Errors {
		fmt.Printf("error: %s\n", e)
	}
}
