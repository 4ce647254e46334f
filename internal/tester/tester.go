package tester

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/emrgen/storysync/internal/compress"
	"github.com/emrgen/storysync/internal/model"
	"github.com/emrgen/storysync/internal/store"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	db       *gorm.DB
	testPath string
)

// Setup creates the package test database with the application tables.
// Every test binary gets its own directory so packages can run in parallel.
func Setup() {
	RemoveDBFile()

	_ = os.Setenv("ENV", "test")

	var err error
	testPath, err = os.MkdirTemp("", "storysync-test-")
	if err != nil {
		panic(err)
	}

	db, err = gorm.Open(sqlite.Open(filepath.Join(testPath, "storysync.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		panic(err)
	}

	err = model.Migrate(db)
	if err != nil {
		panic(err)
	}
}

func TestDB() *gorm.DB {
	return db
}

func RemoveDBFile() {
	if testPath == "" {
		return
	}
	err := os.RemoveAll(testPath)
	if err != nil {
		panic(err)
	}
}

// LocalStore opens a migrated local document store in a temporary directory.
func LocalStore(t testing.TB, name string) *store.GormStore {
	t.Helper()

	path := filepath.Join(t.TempDir(), name+".db")
	conn, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open local store: %v", err)
	}

	s := store.NewGormStore(name, conn, compress.NewGZip(), compress.NameGZip)
	if err := s.Migrate(); err != nil {
		t.Fatalf("migrate local store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	return s
}

// PutStory writes a minimal story document and returns it with its revision.
func PutStory(t testing.TB, s store.Store, id, title string, scenes ...string) *model.Document {
	t.Helper()

	chapter := map[string]any{"id": id + "-ch1", "title": "Chapter 1", "scenes": []any{}}
	sceneList := make([]any, 0, len(scenes))
	for i, content := range scenes {
		sceneList = append(sceneList, map[string]any{
			"id":      fmt.Sprintf("%s-sc%d", id, i+1),
			"title":   "Scene",
			"content": content,
		})
	}
	chapter["scenes"] = sceneList

	doc := &model.Document{
		ID: id,
		Fields: map[string]any{
			"id":        id,
			"title":     title,
			"chapters":  []any{chapter},
			"createdAt": "2024-01-01T00:00:00Z",
			"updatedAt": "2024-01-01T00:00:00Z",
		},
	}

	rev, err := s.Put(context.Background(), doc)
	if err != nil {
		t.Fatalf("put story %s: %v", id, err)
	}
	doc.Rev = rev

	return doc
}
