package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"
)

// Bootstraps the knowledge base schema for environments where the service
// account cannot run DDL. The server and indexer create these on their own
// when permitted.
func main() {
	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		dsn = "host=localhost port=5432 user=kbuser password=kbpassword dbname=kb sslmode=disable"
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	fmt.Println("Connected to database")

	statements := []struct {
		name string
		sql  string
	}{
		{"pgvector extension", `CREATE EXTENSION IF NOT EXISTS vector`},
		{"kb_documents table", `
		CREATE TABLE IF NOT EXISTS kb_documents (
			doc_id TEXT PRIMARY KEY,
			version TEXT,
			checksum TEXT,
			path TEXT,
			title TEXT,
			chunk_ids JSONB DEFAULT '[]',
			indexed_at TIMESTAMPTZ DEFAULT now()
		)`},
		{"kb_documents checksum index", `CREATE INDEX IF NOT EXISTS idx_kb_documents_checksum ON kb_documents (checksum)`},
		{"kb_index_meta table", `
		CREATE TABLE IF NOT EXISTS kb_index_meta (
			key TEXT PRIMARY KEY,
			value TEXT
		)`},
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt.sql); err != nil {
			log.Fatalf("Failed to create %s: %v", stmt.name, err)
		}
		fmt.Printf("Created/verified %s\n", stmt.name)
	}

	fmt.Println("Done. Chunk tables are created per embedding model by the indexer.")
}
