// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// copyright_header enumerates Go files and adds the project's copyright header to those missing it.
// With -check it only lists the files missing it, and exits with an error if there are any.
package main

import (
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagProject = flag.String("project", "GoMLX", "Project name to use in the copyright header.")
	flagCheck   = flag.Bool("check", false, "Only list files missing the header, don't change them.")
)

func main() {
	klog.InitFlags(nil)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] [path ...]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nEnumerates Go files and adds a copyright header if missing.\n")
		fmt.Fprintf(os.Stderr, "Default path is current directory.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	roots := flag.Args()
	if len(roots) == 0 {
		roots = []string{"."}
	}
	header := headerFor(*flagProject)
	var missing []string
	for _, root := range roots {
		files, err := goFiles(root)
		if err != nil {
			klog.Fatalf("Failed walking %q: %+v", root, err)
		}
		for _, path := range files {
			changed, err := processFile(path, header, *flagCheck)
			if err != nil {
				klog.Fatalf("%+v", err)
			}
			if changed {
				missing = append(missing, path)
			}
		}
	}
	if *flagCheck && len(missing) > 0 {
		for _, path := range missing {
			fmt.Println(path)
		}
		klog.Fatalf("%d files missing the copyright header", len(missing))
	}
}

func headerFor(project string) string {
	return fmt.Sprintf("// Copyright 2023-2026 The %s Authors. SPDX-License-Identifier: Apache-2.0\n\n", project)
}

// goFiles lists the Go files under root, skipping hidden directories, "vendor" and directories starting
// with "_" (ignored by the Go toolchain).
func goFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != root && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "vendor") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(name, ".go") && !strings.HasPrefix(name, "gen_") {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// processFile adds the header to the file if it's missing, and returns whether it was missing.
// If dryRun is set, the file is not changed.
func processFile(path, header string, dryRun bool) (bool, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return false, errors.Wrapf(err, "failed to read %q", path)
	}
	newContent, changed := addHeader(string(content), header)
	if !changed || dryRun {
		return changed, nil
	}
	klog.Infof("Adding header to %s", path)
	if err := os.WriteFile(path, []byte(newContent), 0644); err != nil {
		return false, errors.Wrapf(err, "failed to write %q", path)
	}
	return true, nil
}

// addHeader returns content with the header added after any build constraints, or false if the content
// already has a copyright line in its first 50 lines.
func addHeader(content, header string) (string, bool) {
	lines := strings.Split(content, "\n")
	lastBuildTag := -1
	for ii, line := range lines[:min(len(lines), 50)] {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "// Copyright") {
			return content, false
		}
		if strings.HasPrefix(trimmed, "//go:build") || strings.HasPrefix(trimmed, "// +build") {
			lastBuildTag = ii
		}
	}
	if lastBuildTag == -1 {
		return header + content, true
	}
	prefix := strings.Join(lines[:lastBuildTag+1], "\n")
	suffix := strings.TrimLeft(strings.Join(lines[lastBuildTag+1:], "\n"), "\n")
	return prefix + "\n\n" + header + suffix, true
}
