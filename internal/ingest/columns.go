package ingest

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jonas-p/go-shp"
)

// Column is one attribute column of the target table.
type Column struct {
	Name  string // lower-cased, unique within the table
	Field string // DBF field name
	Type  string // PostgreSQL type
}

// reserved names are taken by the key and geometry columns.
var reserved = map[string]bool{KeyColumn: true, GeometryColumn: true}

// columnsOf derives table columns from the DBF fields.
func columnsOf(fields []shp.Field) []Column {
	out := make([]Column, 0, len(fields))
	used := map[string]bool{}
	for _, f := range fields {
		field := strings.TrimRight(f.String(), "\x00")
		name := strings.ToLower(strings.TrimSpace(field))
		if name == "" {
			name = "field"
		}
		base := name
		for n := 1; used[name] || reserved[name]; n++ {
			name = fmt.Sprintf("%s_%d", base, n)
		}
		used[name] = true
		out = append(out, Column{Name: name, Field: field, Type: pgType(f)})
	}
	return out
}

func pgType(f shp.Field) string {
	switch f.Fieldtype {
	case 'N':
		if f.Precision == 0 && f.Size <= 18 {
			return "bigint"
		}
		return "double precision"
	case 'F':
		return "double precision"
	case 'L':
		return "boolean"
	case 'D':
		return "date"
	}
	return "text"
}

// value converts a raw DBF cell. Blank and unparseable cells load as NULL.
func (c Column) value(raw string) any {
	raw = strings.TrimSpace(strings.TrimRight(raw, "\x00"))
	if raw == "" {
		return nil
	}
	switch c.Type {
	case "bigint":
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil
		}
		return n
	case "double precision":
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil
		}
		return f
	case "boolean":
		switch raw {
		case "T", "t", "Y", "y":
			return true
		case "F", "f", "N", "n":
			return false
		}
		return nil
	case "date":
		d, err := time.Parse("20060102", raw)
		if err != nil {
			return nil
		}
		return d
	}
	return raw
}
