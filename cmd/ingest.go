package cmd

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"

	"github.com/corvid-labs/corvus/internal/app"
	"github.com/corvid-labs/corvus/internal/config"
	"github.com/corvid-labs/corvus/internal/document"
	"github.com/corvid-labs/corvus/internal/ingest"
)

// runIngest indexes documents from files, directories, or a URL.
func runIngest() error {
	ingestFlags := flag.NewFlagSet("ingest", flag.ContinueOnError)
	ingestFlags.SetOutput(os.Stderr)
	owner := ingestFlags.String("owner", "", "Owner ID to scope the documents to")
	url := ingestFlags.String("url", "", "Ingest a web page instead of local files")

	args := []string{}
	if len(os.Args) > 2 {
		args = os.Args[2:]
	}
	if err := ingestFlags.Parse(args); err != nil {
		return fmt.Errorf("parsing ingest flags: %w", err)
	}
	paths := ingestFlags.Args()

	if *url == "" && len(paths) == 0 {
		return fmt.Errorf("nothing to ingest: pass file or directory paths, or --url")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, nil)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() { _ = a.Close() }()

	if *url != "" {
		receipt, err := a.Ingest.IngestURL(ctx, *url, *owner)
		if err != nil {
			return fmt.Errorf("ingesting %s: %w", *url, err)
		}
		fmt.Printf("indexed %s (%q, %d chunks)\n", receipt.DocumentID, receipt.Title, receipt.ChunkCount)
		return nil
	}

	// One ingest run at a time per machine keeps directory walks from
	// racing each other on the same corpus.
	unlock, err := acquireIngestLock()
	if err != nil {
		return err
	}
	defer unlock()

	reqs, err := collectRequests(paths, *owner)
	if err != nil {
		return err
	}
	if len(reqs) == 0 {
		return fmt.Errorf("no supported documents found in %v", paths)
	}

	results := a.Ingest.IngestBatch(ctx, reqs)

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "failed: %s: %v\n", reqs[res.Index].Filename, res.Err)
			continue
		}
		fmt.Printf("indexed %s (%q, %d chunks)\n",
			res.Receipt.DocumentID, res.Receipt.Title, res.Receipt.ChunkCount)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(results))
	}
	return nil
}

// acquireIngestLock takes an advisory file lock under the config directory.
// Returns an error when another ingest run already holds it.
func acquireIngestLock() (unlock func(), err error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}
	lockPath := filepath.Join(home, ".corvus", "ingest.lock")

	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring ingest lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another ingest run is in progress (lock: %s)", lockPath)
	}
	return func() { _ = fl.Unlock() }, nil
}

// collectRequests expands paths into ingestion requests. Directories are
// walked recursively; files with unsupported extensions are skipped silently
// so a docs tree full of images does not abort the run.
func collectRequests(paths []string, owner string) ([]ingest.Request, error) {
	var reqs []ingest.Request

	addFile := func(path string, mustSupport bool) error {
		mimeType := document.DetectMIMEType(path)
		if !supportedMIME(mimeType) {
			if mustSupport {
				return fmt.Errorf("%w: %s", document.ErrUnsupportedFormat, path)
			}
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		reqs = append(reqs, ingest.Request{
			Data:     data,
			MIMEType: mimeType,
			Owner:    owner,
			Filename: filepath.Base(path),
			Source:   path,
		})
		return nil
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}

		if !info.IsDir() {
			// Explicitly named files must be ingestible.
			if err := addFile(path, true); err != nil {
				return nil, err
			}
			continue
		}

		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			return addFile(p, false)
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", path, err)
		}
	}
	return reqs, nil
}

// supportedMIME mirrors the extractor's format support for path filtering.
func supportedMIME(mimeType string) bool {
	switch mimeType {
	case document.MIMEPlainText, document.MIMEMarkdown, document.MIMEHTML,
		document.MIMEPDF, document.MIMEDocx:
		return true
	}
	return false
}
