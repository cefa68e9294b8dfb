// Package fileutil provides directory scanning with flexible filtering.
//
// It is the single place guild discovers files on disk: the specification
// loader uses it to find spec files in a directory, and agent discovery uses
// it to find agent definition files. Scanning is error-tolerant: unreadable
// entries are collected as non-fatal errors and the walk continues.
//
// Results are deterministic. Matched files come back as absolute paths,
// sorted alphabetically, so downstream merging and registration order never
// depends on directory iteration order.
//
// Hidden directories (names starting with ".") are always skipped, which
// keeps scans out of .git and guild's own .guild state directory.
//
// Basic usage:
//
//	result, err := fileutil.ScanDirectory(dir, fileutil.ScanOptions{
//	    Extensions: []string{".yaml", ".yml", ".json", ".md"},
//	})
//	if err != nil {
//	    return err
//	}
//	for _, file := range result.Files {
//	    // parse file
//	}
package fileutil
