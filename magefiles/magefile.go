//go:build mage

// Package main contains Mage build targets for repurpose-engine developer tooling.
package main

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// projectDirs lists the working directories the pipeline expects.
var projectDirs = []string{
	"data",
	"data/snapshots",
	"data/reports",
	".secrets",
}

// Init creates the data and secrets directories.
func Init() error {
	for _, dir := range projectDirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
		fmt.Println("  ", dir)
	}
	fmt.Println("Project directories initialized.")
	return nil
}

const (
	binDir  = "bin"
	binName = "repurpose-engine"
	cmdPkg  = "./cmd/repurpose-engine"
)

// Build compiles the CLI binary into bin/, stamping the version from
// $VERSION when set.
func Build() error {
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", binDir, err)
	}
	version := os.Getenv("VERSION")
	if version == "" {
		version = "dev"
	}
	out := filepath.Join(binDir, binName)
	if err := sh.RunV("go", "build", "-ldflags", "-X main.version="+version, "-o", out, cmdPkg); err != nil {
		return fmt.Errorf("go build: %w", err)
	}
	fmt.Printf("Built %s\n", out)
	return nil
}

// Test runs the unit tests with the race detector.
func Test() error {
	return sh.RunV("go", "test", "-race", "-count=1", "./...")
}

// Analyze builds the CLI and runs the pipeline for $DRUG, writing a YAML
// report of the run to data/reports/<drug>.yaml.
func Analyze() error {
	mg.Deps(Init, Build)

	drug := os.Getenv("DRUG")
	if drug == "" {
		return fmt.Errorf("set DRUG to the drug to analyze")
	}
	bin := filepath.Join(binDir, binName)
	if err := sh.RunV(bin, "analyze", drug); err != nil {
		return err
	}
	report, err := sh.Output(bin, "report", "--drug", drug, "--format", "yaml")
	if err != nil {
		return err
	}
	path := filepath.Join("data", "reports", drug+".yaml")
	if err := os.WriteFile(path, []byte(report+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

// Stats prints non-blank Go line counts per package directory, split into
// production and test code, plus the size of the embedded data files.
func Stats() error {
	counts := map[string]*lineCount{}
	err := filepath.WalkDir(".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != "." && (strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") || name == "bin" || name == "data") {
				return filepath.SkipDir
			}
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".go" && ext != ".yaml" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		dir := filepath.Dir(path)
		c, ok := counts[dir]
		if !ok {
			c = &lineCount{}
			counts[dir] = c
		}
		n := nonBlankLines(data)
		switch {
		case ext == ".yaml":
			c.data += n
		case strings.HasSuffix(path, "_test.go"):
			c.test += n
		default:
			c.prod += n
		}
		return nil
	})
	if err != nil {
		return err
	}

	dirs := make([]string, 0, len(counts))
	for dir := range counts {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	var total lineCount
	fmt.Printf("%-32s %8s %8s %8s\n", "package", "prod", "test", "data")
	for _, dir := range dirs {
		c := counts[dir]
		fmt.Printf("%-32s %8d %8d %8d\n", dir, c.prod, c.test, c.data)
		total.prod += c.prod
		total.test += c.test
		total.data += c.data
	}
	fmt.Printf("%-32s %8d %8d %8d\n", "total", total.prod, total.test, total.data)
	return nil
}

type lineCount struct {
	prod, test, data int
}

func nonBlankLines(data []byte) int {
	n := 0
	for _, line := range bytes.Split(data, []byte("\n")) {
		if len(bytes.TrimSpace(line)) > 0 {
			n++
		}
	}
	return n
}
