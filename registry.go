// Package wbdclip clips a raster mosaic to every polygon of a watershed
// boundary layer, in chunks that can be scheduled as an array of independent
// units. Completion is tracked on durable storage so that any number of
// concurrent or repeated runs converge to the same set of outputs.
package wbdclip

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// AttributeQuery lists the values of an attribute column of a vector layer
type AttributeQuery interface {
	Values(ctx context.Context, layer, column string) ([]string, error)
}

// Registry enumerates the work items of a run
type Registry struct {
	Query  AttributeQuery
	Layer  string
	Column string
}

// Enumerate returns the distinct, sorted, non-blank identifiers of the
// registry's layer/column. An empty result, or an identifier that is not a
// valid file name, is an error.
func (r Registry) Enumerate(ctx context.Context) ([]string, error) {
	src := r.Layer + "." + r.Column
	values, err := r.Query.Values(ctx, r.Layer, r.Column)
	if err != nil {
		return nil, ErrEnumeration{Source: src, Err: err}
	}
	seen := make(map[string]struct{}, len(values))
	ids := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		if err := ValidateID(v); err != nil {
			return nil, ErrEnumeration{Source: src, Err: err}
		}
		seen[v] = struct{}{}
		ids = append(ids, v)
	}
	if len(ids) == 0 {
		return nil, ErrEnumeration{Source: src}
	}
	sort.Strings(ids)
	return ids, nil
}

// ValidateID checks that id can be used as a file name in the output, done
// and lock directories
func ValidateID(id string) error {
	if id == "" || id == "." || strings.Contains(id, "..") || strings.ContainsAny(id, "/\\\x00") {
		return fmt.Errorf("invalid id %q", id)
	}
	return nil
}

// OGRQuery queries a vector dataset through the ogr2ogr binary, dumping the
// distinct column values as CSV on stdout.
type OGRQuery struct {
	Dataset string
	// Binary defaults to "ogr2ogr"
	Binary string
	Run    Runner
}

func (q OGRQuery) Values(ctx context.Context, layer, column string) ([]string, error) {
	bin := q.Binary
	if bin == "" {
		bin = "ogr2ogr"
	}
	run := q.Run
	if run == nil {
		run = runCommand
	}
	sql := fmt.Sprintf("SELECT DISTINCT %s FROM %s", quoteIdent(column), quoteIdent(layer))
	out, err := run(ctx, bin, "-f", "CSV", "/vsistdout/", q.Dataset, "-sql", sql)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Dataset, err)
	}
	return parseCSVColumn(strings.NewReader(string(out)), column)
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func parseCSVColumn(r io.Reader, column string) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	col := -1
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), column) {
			col = i
			break
		}
	}
	if col == -1 {
		return nil, fmt.Errorf("column %s not found in %v", column, header)
	}
	var values []string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		if col < len(rec) {
			values = append(values, rec[col])
		}
	}
	return values, nil
}

// ListQuery returns identifiers read from a text file, one per line. The
// layer and column are ignored.
type ListQuery struct {
	File string
}

func (q ListQuery) Values(_ context.Context, _, _ string) ([]string, error) {
	f, err := os.Open(q.File)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readLines(f)
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if l := strings.TrimSpace(sc.Text()); l != "" {
			lines = append(lines, l)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}
