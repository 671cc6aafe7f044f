package workspace

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/stdr"

	"github.com/groovy-lsp/glsp/internal/bus"
	"github.com/groovy-lsp/glsp/internal/compiler"
	"github.com/groovy-lsp/glsp/internal/depresolve"
	"github.com/groovy-lsp/glsp/internal/symbolindex"
)

func newTestIndexer(t *testing.T, root string) (*Indexer, *symbolindex.Store, *bus.Bus) {
	t.Helper()
	b := bus.New(context.Background(), stdr.New(nil))
	t.Cleanup(b.Stop)

	c, err := compiler.New(b)
	if err != nil {
		t.Fatalf("compiler.New: %v", err)
	}

	store, err := symbolindex.Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("symbolindex.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	idx := New(root, stdr.New(nil), b, c, store, nil)
	return idx, store, b
}

func TestIndexAllIndexesGroovyFiles(t *testing.T) {
	root := t.TempDir()
	src := "class Foo {\n    void bar() {}\n}\n"
	if err := os.WriteFile(filepath.Join(root, "Foo.groovy"), []byte(src), 0o644); err != nil {
		t.Fatalf("write Foo.groovy: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "README.md"), []byte("not groovy"), 0o644); err != nil {
		t.Fatalf("write README.md: %v", err)
	}

	idx, store, b := newTestIndexer(t, root)

	received := make(chan bus.WorkspaceIndexedEvent, 1)
	bus.Subscribe(b, func(ctx context.Context, e bus.WorkspaceIndexedEvent) {
		received <- e
	})

	if err := idx.IndexAll(context.Background()); err != nil {
		t.Fatalf("IndexAll: %v", err)
	}

	select {
	case e := <-received:
		if e.Files != 1 {
			t.Fatalf("Files = %d, want 1", e.Files)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for WorkspaceIndexedEvent")
	}

	results, err := store.PrefixSearch("Foo")
	if err != nil {
		t.Fatalf("PrefixSearch: %v", err)
	}
	if len(results) == 0 {
		t.Fatalf("expected Foo symbols to be indexed")
	}
}

func TestIndexAllSkipsExcludedDirs(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "build"), 0o755); err != nil {
		t.Fatalf("mkdir build: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "build", "Generated.groovy"), []byte("class Generated {}\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	idx, store, _ := newTestIndexer(t, root)
	if err := idx.IndexAll(context.Background()); err != nil {
		t.Fatalf("IndexAll: %v", err)
	}

	results, err := store.PrefixSearch("Generated")
	if err != nil {
		t.Fatalf("PrefixSearch: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected excluded dir to be skipped, got %+v", results)
	}
}

// TestIndexDependenciesIndexesLocatedJar exercises the full dependency
// path: a coordinate is resolved to a JAR sitting in a fake Maven local
// repository, that JAR's classes are indexed via jarindex (C4), and both
// the class symbol and the dependency coordinate land in the Store (C6).
func TestIndexDependenciesIndexesLocatedJar(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dep := depresolve.Dependency{GroupID: "com.example", ArtifactID: "widgets", Version: "1.2.3", Scope: depresolve.ScopeCompile}
	jarDir := filepath.Join(home, ".m2", "repository", "com", "example", "widgets", "1.2.3")
	if err := os.MkdirAll(jarDir, 0o755); err != nil {
		t.Fatalf("mkdir jar dir: %v", err)
	}
	jarPath := filepath.Join(jarDir, "widgets-1.2.3.jar")

	f, err := os.Create(jarPath)
	if err != nil {
		t.Fatalf("create jar: %v", err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create("com/example/Widget.class")
	if err != nil {
		t.Fatalf("create class entry: %v", err)
	}
	if _, err := w.Write([]byte{0xCA, 0xFE, 0xBA, 0xBE, 0x00, 0x00, 0x00, 0x34, 0x00, 0x00}); err != nil {
		t.Fatalf("write class entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close jar: %v", err)
	}

	root := t.TempDir()
	idx, store, _ := newTestIndexer(t, root)

	idx.indexDependencies(context.Background(), []depresolve.Dependency{dep})

	results, err := store.PrefixSearch("com.example.Widget")
	if err != nil {
		t.Fatalf("PrefixSearch: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d symbols, want 1: %+v", len(results), results)
	}

	deps, err := store.Dependencies()
	if err != nil {
		t.Fatalf("Dependencies: %v", err)
	}
	if len(deps) != 1 || deps[0].Coordinate != dep.Coordinate() {
		t.Fatalf("got dependencies %+v, want [%s]", deps, dep.Coordinate())
	}
}
