// Command validate checks export artifacts against their band manifests:
// raster structure, manifest agreement, object key layout, and value sanity.
// Artifacts are read from disk or, with -key, from the MinIO bucket named by
// MINIO_* environment variables.
//
// Usage:
//
//	go run ./cmd/validate -artifact out/DEM_GRB.nc
//	go run ./cmd/validate -key 3f9c.../PRISM_Precip.nc
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/couchcryptid/snow-forcing-etl/internal/adapter/minio"
	"github.com/couchcryptid/snow-forcing-etl/internal/config"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	artifactPath := flag.String("artifact", "", "path to a local artifact (.nc)")
	manifestPath := flag.String("manifest", "", "path to its manifest (default: <artifact>.manifest.json)")
	key := flag.String("key", "", "object key of an artifact in the MinIO bucket")
	flag.Parse()

	if (*artifactPath == "") == (*key == "") {
		flag.Usage()
		os.Exit(1)
	}

	var (
		in  input
		err error
	)
	if *key != "" {
		in, err = fetchObject(*key)
	} else {
		in, err = readLocal(*artifactPath, *manifestPath)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}

	if code := run(os.Stdout, in); code != 0 {
		os.Exit(code)
	}
}

// input is one artifact with its manifest. key is set for bucket objects.
type input struct {
	name     string
	key      string
	artifact []byte
	manifest []byte
}

func readLocal(artifactPath, manifestPath string) (input, error) {
	if manifestPath == "" {
		manifestPath = strings.TrimSuffix(artifactPath, filepath.Ext(artifactPath)) + ".manifest.json"
	}
	data, err := os.ReadFile(artifactPath)
	if err != nil {
		return input{}, fmt.Errorf("read artifact: %w", err)
	}
	meta, err := os.ReadFile(manifestPath)
	if err != nil {
		return input{}, fmt.Errorf("read manifest: %w", err)
	}
	return input{name: artifactPath, artifact: data, manifest: meta}, nil
}

func fetchObject(key string) (input, error) {
	cfg, err := config.LoadMinIO()
	if err != nil {
		return input{}, err
	}
	store, err := minio.NewStore(cfg)
	if err != nil {
		return input{}, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	data, err := store.Get(ctx, key)
	if err != nil {
		return input{}, err
	}
	manifestKey := strings.TrimSuffix(key, filepath.Ext(key)) + ".manifest.json"
	meta, err := store.Get(ctx, manifestKey)
	if errors.Is(err, minio.ErrNotFound) {
		return input{}, fmt.Errorf("artifact %s has no manifest: %w", key, err)
	} else if err != nil {
		return input{}, err
	}
	return input{name: cfg.Bucket + "/" + key, key: key, artifact: data, manifest: meta}, nil
}

func run(out io.Writer, in input) int {
	fmt.Fprintln(out, "=== Forcing Artifact Validation ===")
	fmt.Fprintln(out)

	a, m, err := decode(in)
	if err != nil {
		fmt.Fprintf(out, "FATAL: %v\n", err)
		return 1
	}

	phases := []*phase{
		validateStructure(a),
		validateManifest(a, m),
		validateKeyLayout(in.key, m),
		validateValues(a),
	}

	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(out, "  %-42s %s\n", p.name, status)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Artifact: %s\n", in.name)
	fmt.Fprintf(out, "Output %s (%s): %d bands, %d empty, grid %s\n",
		a.OutputName, a.Variable, a.Raster.BandCount(), len(a.Raster.EmptyBands()), a.Raster.Grid)
	for _, n := range m.Notes {
		fmt.Fprintf(out, "  note: %s\n", n)
	}

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Fprintf(out, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(out, "  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Fprintln(out, "\nAll validations passed.")
		return 0
	}
	fmt.Fprintln(out, "\nValidation FAILED.")
	return 1
}
