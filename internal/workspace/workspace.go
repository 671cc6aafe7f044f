// Package workspace implements the Workspace Indexer (spec.md §4.8,
// component C8): it walks a workspace root, compiles every Groovy source
// file through a bounded worker pool, records the results in the symbol
// index, and keeps the index live by reacting to filesystem changes.
//
// Grounded on the teacher's engine.CreateRuleEngine worker-pool shape
// (bounded channel + sync.WaitGroup + context cancellation,
// engine/engine.go) and its file-watching sibling example
// (greatnessinabox-drift/internal/watcher), whose 200ms debounce this
// package's watcher.go reuses directly.
package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"go.lsp.dev/uri"

	"github.com/groovy-lsp/glsp/internal/bus"
	"github.com/groovy-lsp/glsp/internal/compiler"
	"github.com/groovy-lsp/glsp/internal/depresolve"
	"github.com/groovy-lsp/glsp/internal/groovyast"
	"github.com/groovy-lsp/glsp/internal/jarindex"
	"github.com/groovy-lsp/glsp/internal/symbolindex"
)

// DefaultWorkerCount is how many files are compiled concurrently during
// a full workspace index pass, absent an explicit override (spec.md
// §4.8, item 2).
const DefaultWorkerCount = 8

// indexJob is one file queued for compilation by the worker pool.
type indexJob struct {
	path string
}

// indexResult is what a worker reports back after compiling one file.
type indexResult struct {
	path    string
	symbols int
	err     error
}

// Indexer orchestrates workspace-wide and incremental indexing.
type Indexer struct {
	root        string
	log         logr.Logger
	bus         *bus.Bus
	compiler    *compiler.Compiler
	store       *symbolindex.Store
	resolver    depresolve.Resolver
	workerCount int

	watcher *fsWatcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithWorkerCount overrides DefaultWorkerCount.
func WithWorkerCount(n int) Option {
	return func(i *Indexer) { i.workerCount = n }
}

// New constructs an Indexer rooted at root.
func New(root string, log logr.Logger, b *bus.Bus, c *compiler.Compiler, store *symbolindex.Store, resolver depresolve.Resolver, opts ...Option) *Indexer {
	idx := &Indexer{
		root:        root,
		log:         log.WithName("workspace"),
		bus:         b,
		compiler:    c,
		store:       store,
		resolver:    resolver,
		workerCount: DefaultWorkerCount,
	}
	for _, o := range opts {
		o(idx)
	}
	return idx
}

// IndexAll walks root and compiles every Groovy source file through a
// bounded worker pool, then resolves and persists the workspace's build
// dependencies. Publishes a WorkspaceIndexedEvent on completion (spec.md
// §4.8, item 1).
func (idx *Indexer) IndexAll(ctx context.Context) error {
	start := time.Now()

	paths, err := idx.discoverSourceFiles()
	if err != nil {
		return fmt.Errorf("discover source files: %w", err)
	}

	jobs := make(chan indexJob, idx.workerCount)
	results := make(chan indexResult, idx.workerCount)

	workerCount := idx.workerCount
	if workerCount > len(paths) {
		workerCount = len(paths)
	}
	if workerCount == 0 {
		workerCount = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go idx.indexWorker(ctx, jobs, results, &wg, i)
	}

	go func() {
		for _, p := range paths {
			select {
			case jobs <- indexJob{path: p}:
			case <-ctx.Done():
			}
		}
		close(jobs)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	totalSymbols := 0
	fileCount := 0
	for r := range results {
		fileCount++
		if r.err != nil {
			idx.log.V(4).Error(r.err, "failed to index file", "path", r.path)
			continue
		}
		totalSymbols += r.symbols
	}

	if idx.resolver != nil {
		if deps, err := idx.resolver.Resolve(ctx, idx.root); err != nil {
			idx.log.V(3).Info("dependency resolution unavailable", "root", idx.root, "err", err.Error())
		} else {
			idx.indexDependencies(ctx, deps)
		}
	}

	if idx.bus != nil {
		bus.Publish(idx.bus, bus.WorkspaceIndexedEvent{
			Root: idx.root, Files: fileCount, Symbols: totalSymbols,
			DurationMs: time.Since(start).Milliseconds(),
		})
	}

	return nil
}

// depJob is one resolved dependency coordinate queued for JAR location
// and indexing.
type depJob struct {
	dep depresolve.Dependency
}

// indexDependencies resolves each dependency's coordinate to a local JAR
// (via depresolve.LocateJar), indexes that JAR's classes through
// jarindex (C4), and persists both the dependency coordinate metadata
// and the recovered class/member symbols in the Store (C6), so that
// "go to definition"/"find references" can resolve into library code
// the same way they resolve into workspace sources (spec.md §4.8, item
// 3: "each dependency artifact is submitted to the worker pool and
// indexed via C4"). A dependency whose JAR cannot be located still has
// its coordinate persisted, just with no class symbols.
func (idx *Indexer) indexDependencies(ctx context.Context, deps []depresolve.Dependency) {
	jobs := make(chan depJob, idx.workerCount)

	workerCount := idx.workerCount
	if workerCount > len(deps) {
		workerCount = len(deps)
	}
	if workerCount == 0 {
		workerCount = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go idx.depWorker(ctx, jobs, &wg, i)
	}

	for _, d := range deps {
		select {
		case jobs <- depJob{dep: d}:
		case <-ctx.Done():
		}
	}
	close(jobs)
	wg.Wait()
}

func (idx *Indexer) depWorker(ctx context.Context, jobs <-chan depJob, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	logger := idx.log.WithValues("worker", workerID)
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			if err := idx.indexDependency(job.dep); err != nil {
				logger.V(4).Error(err, "failed to index dependency", "coordinate", job.dep.Coordinate())
			}
		}
	}
}

// indexDependency locates and indexes one dependency's JAR, then
// persists its coordinate metadata regardless of whether the JAR was
// found - an undownloaded dependency is still a known coordinate.
func (idx *Indexer) indexDependency(dep depresolve.Dependency) error {
	defer func() {
		_ = idx.store.PutDependency(symbolindex.DependencyRecord{
			Coordinate: dep.Coordinate(),
			GroupID:    dep.GroupID,
			ArtifactID: dep.ArtifactID,
			Version:    dep.Version,
		})
	}()

	jarPath, ok := depresolve.LocateJar(dep)
	if !ok {
		idx.log.V(5).Info("dependency jar not found locally, coordinate only", "coordinate", dep.Coordinate())
		return nil
	}

	classes, err := jarindex.IndexJar(idx.log, jarPath)
	if err != nil {
		return fmt.Errorf("index jar %s: %w", jarPath, err)
	}

	jarURI := string(uri.File(jarPath))
	for _, class := range classes {
		classURI := jarURI + "#" + class.BinaryName
		symbols := classSymbols(class, classURI)
		if err := idx.store.IndexFile(classURI, 1, 0, symbols); err != nil {
			return fmt.Errorf("index class %s: %w", class.BinaryName, err)
		}
	}
	return nil
}

// classSymbols converts one jarindex.ClassInfo - the class itself plus
// its field/constructor/method members - into the Symbols the symbol
// index stores, mirroring groovyast.ExtractSymbols's "type, then
// dotted-member" naming convention so library and workspace symbols are
// addressed the same way.
func classSymbols(class jarindex.ClassInfo, classURI string) []groovyast.Symbol {
	symbols := []groovyast.Symbol{
		{Name: class.FQName, Kind: groovyast.KindClass, URI: classURI},
	}
	for _, m := range class.Members {
		kind := groovyast.KindField
		switch {
		case m.IsConstructor():
			kind = groovyast.KindConstructor
		case m.IsMethod:
			kind = groovyast.KindMethod
		}
		symbols = append(symbols, groovyast.Symbol{
			Name: class.FQName + "." + m.Name,
			Kind: kind,
			URI:  classURI,
		})
	}
	return symbols
}

func (idx *Indexer) indexWorker(ctx context.Context, jobs <-chan indexJob, results chan<- indexResult, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	logger := idx.log.WithValues("worker", workerID)
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			n, err := idx.indexFile(job.path)
			logger.V(6).Info("indexed file", "path", job.path, "symbols", n, "err", err)
			select {
			case results <- indexResult{path: job.path, symbols: n, err: err}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// indexFile compiles one file and records its symbols in the Store,
// publishing a FileIndexedEvent (spec.md §4.8, item 1).
func (idx *Indexer) indexFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		idx.publishFileIndexed(path, 0, err)
		return 0, err
	}

	docURI := string(uri.File(path))
	result, err := idx.compiler.Compile(docURI, 1, string(data), compiler.PhaseParse)
	if err != nil {
		idx.publishFileIndexed(path, 0, err)
		return 0, err
	}

	if err := idx.store.IndexFile(docURI, result.Version, len(data), result.Symbols); err != nil {
		idx.publishFileIndexed(path, 0, err)
		return 0, err
	}

	idx.publishFileIndexed(path, len(result.Symbols), nil)
	return len(result.Symbols), nil
}

func (idx *Indexer) publishFileIndexed(path string, symbols int, err error) {
	if idx.bus == nil {
		return
	}
	bus.Publish(idx.bus, bus.FileIndexedEvent{Path: path, Symbols: symbols, Err: err})
}

// discoverSourceFiles walks idx.root collecting every *.groovy file,
// skipping the same build/VCS directories the watcher ignores.
func (idx *Indexer) discoverSourceFiles() ([]string, error) {
	var paths []string
	err := filepath.Walk(idx.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if isExcludedDir(info.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(path, ".groovy") {
			paths = append(paths, path)
		}
		return nil
	})
	return paths, err
}

// Watch starts the filesystem watcher and begins reacting to changes
// with the debounce watcher.go implements, recompiling and re-indexing
// individual files as they change (spec.md §4.8, item 3). Call Stop to
// shut it down.
func (idx *Indexer) Watch(ctx context.Context) error {
	w, err := newFSWatcher(idx.root)
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	idx.watcher = w

	watchCtx, cancel := context.WithCancel(ctx)
	idx.cancel = cancel

	idx.wg.Add(1)
	go idx.watchLoop(watchCtx)

	return nil
}

func (idx *Indexer) watchLoop(ctx context.Context) {
	defer idx.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-idx.watcher.events:
			if !ok {
				return
			}
			if _, statErr := os.Stat(ev.path); os.IsNotExist(statErr) {
				if err := idx.store.RemoveFile(string(uri.File(ev.path))); err != nil {
					idx.log.V(4).Error(err, "failed to remove deleted file from index", "path", ev.path)
				}
				continue
			}
			if _, err := idx.indexFile(ev.path); err != nil {
				idx.log.V(4).Error(err, "failed to reindex changed file", "path", ev.path)
			}
		case err, ok := <-idx.watcher.errors:
			if !ok {
				return
			}
			idx.log.V(3).Error(err, "watcher error")
		}
	}
}

// Stop shuts down the filesystem watcher and waits for the watch loop to
// exit.
func (idx *Indexer) Stop() {
	if idx.cancel != nil {
		idx.cancel()
	}
	if idx.watcher != nil {
		idx.watcher.Close()
	}
	idx.wg.Wait()
}
