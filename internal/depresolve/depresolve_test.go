package depresolve

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/stdr"
)

func TestDetectResolverNone(t *testing.T) {
	dir := t.TempDir()
	r := DetectResolver(stdr.New(nil), dir)
	if r.Name() != "none" {
		t.Fatalf("Name() = %q, want none", r.Name())
	}
	_, err := r.Resolve(context.Background(), dir)
	if !errors.Is(err, ErrNoBuildSystem) {
		t.Fatalf("err = %v, want ErrNoBuildSystem", err)
	}
}

func TestDetectResolverMaven(t *testing.T) {
	dir := t.TempDir()
	pom := `<?xml version="1.0"?>
<project>
  <groupId>com.example</groupId>
  <artifactId>demo</artifactId>
  <version>1.0.0</version>
  <dependencies>
    <dependency>
      <groupId>org.apache.groovy</groupId>
      <artifactId>groovy</artifactId>
      <version>4.0.15</version>
    </dependency>
    <dependency>
      <groupId>junit</groupId>
      <artifactId>junit</artifactId>
      <version>4.13.2</version>
      <scope>test</scope>
    </dependency>
  </dependencies>
</project>
`
	if err := os.WriteFile(filepath.Join(dir, "pom.xml"), []byte(pom), 0o644); err != nil {
		t.Fatalf("write pom.xml: %v", err)
	}

	r := DetectResolver(stdr.New(nil), dir)
	deps, err := r.Resolve(context.Background(), dir)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(deps) != 1 {
		t.Fatalf("got %d deps, want 1 (test scope excluded): %+v", len(deps), deps)
	}
	if deps[0].Coordinate() != "org.apache.groovy:groovy:4.0.15" {
		t.Fatalf("coordinate = %q", deps[0].Coordinate())
	}
}

func TestCachedResolverCachesResult(t *testing.T) {
	calls := 0
	fake := fakeResolver{name: "fake", fn: func() ([]Dependency, error) {
		calls++
		return []Dependency{{GroupID: "g", ArtifactID: "a", Version: "1"}}, nil
	}}
	cached := NewCachedResolver(fake)

	dir := t.TempDir()
	for i := 0; i < 3; i++ {
		if _, err := cached.Resolve(context.Background(), dir); err != nil {
			t.Fatalf("Resolve: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("inner resolver called %d times, want 1", calls)
	}

	cached.Invalidate(dir)
	if _, err := cached.Resolve(context.Background(), dir); err != nil {
		t.Fatalf("Resolve after invalidate: %v", err)
	}
	if calls != 2 {
		t.Fatalf("inner resolver called %d times after invalidate, want 2", calls)
	}
}

func TestCompareVersions(t *testing.T) {
	cmp, err := CompareVersions("1.2.0", "1.10.0")
	if err != nil {
		t.Fatalf("CompareVersions: %v", err)
	}
	if cmp >= 0 {
		t.Fatalf("1.2.0 vs 1.10.0 = %d, want < 0", cmp)
	}
}

func TestLocateJarFindsMavenCachedArtifact(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".m2", "repository", "com", "example", "widgets", "1.2.3")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	jarPath := filepath.Join(dir, "widgets-1.2.3.jar")
	if err := os.WriteFile(jarPath, []byte("not a real jar"), 0o644); err != nil {
		t.Fatalf("write jar: %v", err)
	}

	dep := Dependency{GroupID: "com.example", ArtifactID: "widgets", Version: "1.2.3"}
	got, ok := LocateJar(dep)
	if !ok {
		t.Fatalf("expected LocateJar to find the cached jar")
	}
	if got != jarPath {
		t.Fatalf("got %q, want %q", got, jarPath)
	}
}

func TestLocateJarFindsGradleCachedArtifact(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".gradle", "caches", "modules-2", "files-2.1", "com.example", "widgets", "1.2.3", "deadbeef0123456789")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	jarPath := filepath.Join(dir, "widgets-1.2.3.jar")
	if err := os.WriteFile(jarPath, []byte("not a real jar"), 0o644); err != nil {
		t.Fatalf("write jar: %v", err)
	}

	dep := Dependency{GroupID: "com.example", ArtifactID: "widgets", Version: "1.2.3"}
	got, ok := LocateJar(dep)
	if !ok {
		t.Fatalf("expected LocateJar to find the cached jar")
	}
	if got != jarPath {
		t.Fatalf("got %q, want %q", got, jarPath)
	}
}

func TestLocateJarReportsNotFound(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dep := Dependency{GroupID: "com.example", ArtifactID: "missing", Version: "0.0.1"}
	if _, ok := LocateJar(dep); ok {
		t.Fatalf("expected LocateJar to report not found for an undownloaded dependency")
	}
}

type fakeResolver struct {
	name string
	fn   func() ([]Dependency, error)
}

func (f fakeResolver) Name() string { return f.name }

func (f fakeResolver) Resolve(ctx context.Context, root string) ([]Dependency, error) {
	return f.fn()
}
