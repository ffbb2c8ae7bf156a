// Package migrations carries the loader's database schema as embedded SQL
// files, together with a validator and a golang-migrate runner. Embedding the
// files into the binary means a deployed migrator needs no migrations
// directory on disk.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
)

//go:embed *.sql
var files embed.FS

// filenameRegex enforces the naming standard: 001_name.up.sql / 001_name.down.sql.
var filenameRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

// FS returns the embedded migration source.
func FS() fs.FS {
	return files
}

// List returns the embedded migration filenames in lexicographic order, which
// with the naming standard is also application order.
func List() ([]string, error) {
	entries, err := files.ReadDir(".")
	if err != nil {
		return nil, fmt.Errorf("read embedded migrations: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}

	sort.Strings(names)

	return names, nil
}

// Validate checks the embedded migration set: every filename follows the
// naming standard, every up migration has a down counterpart, and sequence
// numbers start at 001 with no gaps. Run from tests so a malformed migration
// fails the build pipeline, not the deployment.
func Validate() error {
	names, err := List()
	if err != nil {
		return err
	}

	if len(names) == 0 {
		return fmt.Errorf("no migration files embedded")
	}

	type pair struct {
		up   bool
		down bool
	}

	sequences := make(map[int]*pair)

	for _, name := range names {
		matches := filenameRegex.FindStringSubmatch(name)
		if matches == nil {
			return fmt.Errorf("invalid migration filename %q (expected 001_name.up.sql or 001_name.down.sql)", name)
		}

		seq, err := strconv.Atoi(matches[1])
		if err != nil {
			return fmt.Errorf("invalid sequence number in %q: %w", name, err)
		}

		p := sequences[seq]
		if p == nil {
			p = &pair{}
			sequences[seq] = p
		}

		switch matches[3] {
		case "up":
			p.up = true
		case "down":
			p.down = true
		}
	}

	ordered := make([]int, 0, len(sequences))
	for seq := range sequences {
		ordered = append(ordered, seq)
	}

	sort.Ints(ordered)

	for i, seq := range ordered {
		if expected := i + 1; seq != expected {
			return fmt.Errorf("gap in migration sequence: expected %03d, found %03d", expected, seq)
		}

		p := sequences[seq]
		if !p.up {
			return fmt.Errorf("orphaned down migration: missing up file for sequence %03d", seq)
		}

		if !p.down {
			return fmt.Errorf("orphaned up migration: missing down file for sequence %03d", seq)
		}
	}

	return nil
}
