// seeddocs loads internal project documentation into Postgres.
//
// Usage (run from the repo root):
//
//	go run scripts/seeddocs/main.go ./docs
//
// Every *.md file under the given directory becomes one row in
// project_documentation, keyed by its filename (without extension). The
// first-level subdirectory becomes the category ("general" at the root).
// Re-running updates existing rows in place, so the directory is the source
// of truth. The server exposes the rows at /v1/admin/docs and as MCP
// resources under mindfork://docs.
package main

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/mindfork/mindfork/internal/model"
	"github.com/mindfork/mindfork/internal/storage"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <docs-dir>\n", os.Args[0])
		os.Exit(2)
	}
	if err := run(os.Args[1]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(dir string) error {
	_ = godotenv.Load()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	db, err := storage.New(ctx, dsn, "", logger)
	if err != nil {
		return err
	}
	defer db.Close(ctx)

	var seeded int
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}

		content, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		doc := docFromFile(rel, string(content))
		if _, err := db.UpsertProjectDoc(ctx, doc); err != nil {
			return fmt.Errorf("upsert %s: %w", doc.DocKey, err)
		}
		logger.Info("seeded doc", "key", doc.DocKey, "category", doc.DocCategory)
		seeded++
		return nil
	})
	if err != nil {
		return err
	}

	logger.Info("done", "seeded", seeded)
	return nil
}

// docFromFile derives the doc row from the file's relative path and content.
// The key is the filename without extension, the category is the first path
// segment, the name is the first markdown heading (falling back to the key),
// and the summary is the first non-heading paragraph line.
func docFromFile(rel, content string) model.ProjectDoc {
	base := filepath.Base(rel)
	key := strings.TrimSuffix(base, ".md")

	category := "general"
	if parts := strings.Split(filepath.ToSlash(rel), "/"); len(parts) > 1 {
		category = parts[0]
	}

	name := key
	var summary *string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			if name == key {
				name = strings.TrimSpace(strings.TrimLeft(line, "#"))
			}
			continue
		}
		s := line
		if len(s) > 300 {
			s = s[:300]
		}
		summary = &s
		break
	}

	return model.ProjectDoc{
		DocKey:      key,
		DocName:     name,
		DocCategory: category,
		Content:     content,
		Summary:     summary,
	}
}
