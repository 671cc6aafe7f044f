// Package depresolve implements the Build Dependency Resolver (spec.md
// §4.3, component C3): given a workspace root, it discovers the
// project's declared dependencies via its build system (Gradle or
// Maven), falling back gracefully when neither is usable.
//
// Grounded on the teacher's bldtool package (BuildTool interface,
// subprocess-timeout idiom in pkg/java_external_provider/dependency.go)
// and its gopom-based POM reader
// (pkg/java_external_provider/dependency/artifact.go). Gradle
// resolution shells out the way bldtool/gradle.go does; Maven
// resolution parses pom.xml directly with vifraa/gopom rather than
// shelling out to mvn, since spec.md requires resolution to succeed
// without a live network/repository - the pack's own mavenBaseTool
// falls back to POM parsing for exactly this reason.
package depresolve

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-version"
	"github.com/vifraa/gopom"
)

// GradleTimeout is the hard ceiling on the Gradle probe subprocess
// (spec.md §4.3, item 2: "must not block indexing indefinitely").
const GradleTimeout = 5 * time.Second

// Scope is a Maven dependency scope.
type Scope string

const (
	ScopeCompile  Scope = "compile"
	ScopeRuntime  Scope = "runtime"
	ScopeProvided Scope = "provided"
	ScopeTest     Scope = "test"
	ScopeSystem   Scope = "system"
)

// Dependency is one resolved build dependency (spec.md §3, "Dependency").
type Dependency struct {
	GroupID    string
	ArtifactID string
	Version    string
	Scope      Scope
}

// Coordinate renders the Maven-style "group:artifact:version" string
// used as the dependency's identity in the symbol index.
func (d Dependency) Coordinate() string {
	return fmt.Sprintf("%s:%s:%s", d.GroupID, d.ArtifactID, d.Version)
}

// Resolver discovers the dependencies declared by a workspace.
type Resolver interface {
	// Resolve returns every non-test dependency declared for root.
	Resolve(ctx context.Context, root string) ([]Dependency, error)
	// Name identifies the resolver for logging (e.g. "gradle", "maven").
	Name() string
}

// ErrNoBuildSystem is returned by NoneResolver, and is the sentinel a
// caller checks for to decide whether dependency-aware features should
// degrade rather than fail (spec.md §4.3, item 5).
var ErrNoBuildSystem = errors.New("no recognized build system")

// DetectResolver inspects root for build-system markers and returns the
// Resolver appropriate for it: Gradle if build.gradle or build.gradle.kts
// is present, Maven if a pom.xml is present, a CompositeResolver trying both
// (Gradle first) if both are present, or NoneResolver if neither is
// (spec.md §4.3, item 1).
func DetectResolver(log logr.Logger, root string) Resolver {
	hasGradle := fileExists(filepath.Join(root, "build.gradle")) || fileExists(filepath.Join(root, "build.gradle.kts"))
	hasMaven := fileExists(filepath.Join(root, "pom.xml"))

	switch {
	case hasGradle && hasMaven:
		return NewCachedResolver(&CompositeResolver{
			Resolvers: []Resolver{
				&GradleResolver{Log: log.WithName("gradle-resolver")},
				&MavenResolver{Log: log.WithName("maven-resolver")},
			},
		})
	case hasGradle:
		return NewCachedResolver(&GradleResolver{Log: log.WithName("gradle-resolver")})
	case hasMaven:
		return NewCachedResolver(&MavenResolver{Log: log.WithName("maven-resolver")})
	default:
		return &NoneResolver{}
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// MavenRepoRoot returns this user's default Maven local repository root
// (grounded on the teacher's getMavenLocalRepoPath/m2Repo join pattern
// in provider/internal/java/dependency.go, minus the "mvn
// help:evaluate" subprocess probe: spec.md requires resolution to work
// without a live network or a settings.xml override).
func MavenRepoRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".m2", "repository")
}

// GradleCacheRoot returns this user's Gradle module cache root.
func GradleCacheRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".gradle", "caches", "modules-2", "files-2.1")
}

// LocateJar resolves dep's coordinate to an already-downloaded JAR file
// in the Maven or Gradle local cache, so the Dependency Class Indexer
// (C4) can index it without a network fetch (spec.md §4.8, item 3:
// "each dependency artifact is submitted to the worker pool and indexed
// via C4"). Returns ("", false) if neither cache holds a matching file -
// e.g. a dependency declared but never actually downloaded.
func LocateJar(dep Dependency) (string, bool) {
	groupPath := strings.ReplaceAll(dep.GroupID, ".", string(filepath.Separator))
	jarName := fmt.Sprintf("%s-%s.jar", dep.ArtifactID, dep.Version)

	if m2 := MavenRepoRoot(); m2 != "" {
		candidate := filepath.Join(m2, groupPath, dep.ArtifactID, dep.Version, jarName)
		if fileExists(candidate) {
			return candidate, true
		}
	}

	if cache := GradleCacheRoot(); cache != "" {
		// Gradle nests each artifact under a content-hash directory this
		// package has no way to predict, so it is globbed rather than
		// joined directly.
		pattern := filepath.Join(cache, dep.GroupID, dep.ArtifactID, dep.Version, "*", jarName)
		if matches, err := filepath.Glob(pattern); err == nil && len(matches) > 0 {
			return matches[0], true
		}
	}

	return "", false
}

// NoneResolver is used when no build system is recognized; it always
// reports ErrNoBuildSystem so callers can distinguish "resolved to zero
// dependencies" from "could not even try" (spec.md §4.3, item 5).
type NoneResolver struct{}

func (NoneResolver) Name() string { return "none" }

func (NoneResolver) Resolve(ctx context.Context, root string) ([]Dependency, error) {
	return nil, ErrNoBuildSystem
}

// CompositeResolver tries each Resolver in order, returning the first
// successful result (spec.md §4.3, item 1: Gradle+Maven coexistence).
type CompositeResolver struct {
	Resolvers []Resolver
}

func (c *CompositeResolver) Name() string { return "composite" }

func (c *CompositeResolver) Resolve(ctx context.Context, root string) ([]Dependency, error) {
	var lastErr error
	for _, r := range c.Resolvers {
		deps, err := r.Resolve(ctx, root)
		if err == nil {
			return deps, nil
		}
		lastErr = fmt.Errorf("%s: %w", r.Name(), err)
	}
	return nil, fmt.Errorf("all resolvers failed: %w", lastErr)
}

// GradleResolver probes a project's dependencies by invoking the Gradle
// wrapper, bounded by GradleTimeout so a hung or interactive Gradle
// process cannot stall workspace indexing (spec.md §4.3, item 2).
type GradleResolver struct {
	Log logr.Logger
}

func (g *GradleResolver) Name() string { return "gradle" }

func (g *GradleResolver) Resolve(ctx context.Context, root string) ([]Dependency, error) {
	wrapper := filepath.Join(root, "gradlew")
	if _, err := os.Stat(wrapper); err != nil {
		wrapper = "gradle"
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, GradleTimeout)
	defer cancel()

	cmd := exec.CommandContext(timeoutCtx, wrapper, "-q", "dependencies", "--configuration", "compileClasspath")
	cmd.Dir = root
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		if timeoutCtx.Err() != nil {
			g.Log.V(3).Info("gradle dependency probe timed out", "root", root)
		}
		return nil, fmt.Errorf("gradle dependencies: %w", err)
	}

	return parseGradleDependencyTree(out.String()), nil
}

// parseGradleDependencyTree extracts "group:artifact:version" triples
// from Gradle's human-readable "dependencies" task output. Gradle's tree
// format is not machine-stable across versions, so this is deliberately
// forgiving: any line containing two colons between identifier-shaped
// segments is treated as a coordinate.
func parseGradleDependencyTree(output string) []Dependency {
	var deps []Dependency
	seen := map[string]bool{}
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "+-\\| "))
		parts := strings.Split(line, ":")
		if len(parts) < 3 {
			continue
		}
		group, artifact := parts[0], parts[1]
		ver := parts[2]
		if idx := strings.IndexAny(ver, " ("); idx >= 0 {
			ver = ver[:idx]
		}
		if group == "" || artifact == "" || ver == "" {
			continue
		}
		key := group + ":" + artifact + ":" + ver
		if seen[key] {
			continue
		}
		seen[key] = true
		deps = append(deps, Dependency{GroupID: group, ArtifactID: artifact, Version: ver, Scope: ScopeCompile})
	}
	return deps
}

// MavenResolver reads pom.xml directly via gopom, resolving the
// "${project.groupId}" and "${project.version}" placeholders (other
// placeholders are left as written), and excludes test-scoped
// dependencies (spec.md §4.3, item 3).
type MavenResolver struct {
	Log logr.Logger
}

func (m *MavenResolver) Name() string { return "maven" }

func (m *MavenResolver) Resolve(ctx context.Context, root string) ([]Dependency, error) {
	pomPath := filepath.Join(root, "pom.xml")
	pom, err := gopom.Parse(pomPath)
	if err != nil {
		return nil, fmt.Errorf("parse pom.xml: %w", err)
	}

	// Only the project's own self-referencing placeholders are resolved
	// here; arbitrary custom <properties> require a full POM property
	// model gopom doesn't expose, so those placeholders pass through
	// unresolved rather than being guessed at.
	props := map[string]string{}
	if pom.GroupID != nil {
		props["project.groupId"] = *pom.GroupID
	}
	if pom.Version != nil {
		props["project.version"] = *pom.Version
	}

	var raw []gopom.Dependency
	if pom.Dependencies != nil {
		raw = append(raw, *pom.Dependencies...)
	}
	if pom.DependencyManagement != nil && pom.DependencyManagement.Dependencies != nil {
		raw = append(raw, *pom.DependencyManagement.Dependencies...)
	}

	var deps []Dependency
	for _, d := range raw {
		if d.GroupID == nil || d.ArtifactID == nil {
			continue
		}
		scope := ScopeCompile
		if d.Scope != nil && *d.Scope != "" {
			scope = Scope(*d.Scope)
		}
		if scope == ScopeTest {
			continue
		}

		ver := ""
		if d.Version != nil {
			ver = resolveProperty(*d.Version, props)
		}

		deps = append(deps, Dependency{
			GroupID:    resolveProperty(*d.GroupID, props),
			ArtifactID: *d.ArtifactID,
			Version:    ver,
			Scope:      scope,
		})
	}

	return deps, nil
}

// resolveProperty substitutes a single "${name}" placeholder against
// props, leaving the value unchanged if it isn't a placeholder or the
// property is unknown.
func resolveProperty(value string, props map[string]string) string {
	if !strings.HasPrefix(value, "${") || !strings.HasSuffix(value, "}") {
		return value
	}
	name := strings.TrimSuffix(strings.TrimPrefix(value, "${"), "}")
	if resolved, ok := props[name]; ok {
		return resolved
	}
	return value
}

// CompareVersions compares two Maven/Gradle version strings using
// semver-ish precedence, returning -1, 0, or 1.
func CompareVersions(a, b string) (int, error) {
	va, err := version.NewVersion(a)
	if err != nil {
		return 0, fmt.Errorf("parse version %q: %w", a, err)
	}
	vb, err := version.NewVersion(b)
	if err != nil {
		return 0, fmt.Errorf("parse version %q: %w", b, err)
	}
	return va.Compare(vb), nil
}
