package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/artifact-sync/internal/gateway"
	"github.com/capitalize-ai/artifact-sync/internal/model"
	"github.com/capitalize-ai/artifact-sync/pkg/logger"
	"github.com/capitalize-ai/artifact-sync/pkg/metrics"
)

// ImportFormat is the file format of a bulk import.
type ImportFormat string

const (
	FormatJSON ImportFormat = "json"
	FormatCSV  ImportFormat = "csv"
	FormatTXT  ImportFormat = "txt"
)

// ParseImportFormat maps a file extension or format name to a format.
func ParseImportFormat(s string) (ImportFormat, bool) {
	switch strings.TrimPrefix(strings.ToLower(s), ".") {
	case "json":
		return FormatJSON, true
	case "csv":
		return FormatCSV, true
	case "txt", "text":
		return FormatTXT, true
	}
	return "", false
}

// importAliases lists, per canonical field, the accepted keys in order of
// preference.
var importAliases = []struct {
	field   string
	aliases []string
}{
	{"artifact_code", []string{"artifact_code"}},
	{"photo_url", []string{"photo_url", "photourl", "photo"}},
	{"audio_url", []string{"audio_url", "audiourl", "audio"}},
	{"location_lat", []string{"location_lat", "lat", "latitude"}},
	{"location_lng", []string{"location_lng", "lng", "longitude"}},
	{"user_notes", []string{"user_notes", "notes", "usernotes", "description"}},
	{"admin_notes", []string{"admin_notes", "adminnotes"}},
	{"artifact_type", []string{"artifact_type", "type"}},
	{"priority", []string{"priority"}},
	{"is_interesting", []string{"is_interesting", "interesting", "isinteresting"}},
	{"admin_reviewed", []string{"admin_reviewed", "reviewed", "adminreviewed"}},
}

// exportOnlyKeys appear in exported files and are ignored on import.
var exportOnlyKeys = map[string]bool{
	"id":           true,
	"created_by":   true,
	"created_date": true,
	"updated_date": true,
}

var knownImportKeys = func() map[string]bool {
	m := make(map[string]bool)
	for _, a := range importAliases {
		for _, k := range a.aliases {
			m[k] = true
		}
	}
	return m
}()

var headerSpace = regexp.MustCompile(`\s+`)

// normalizeKey lowercases k and joins words with underscores.
func normalizeKey(k string) string {
	return headerSpace.ReplaceAllString(strings.ToLower(strings.TrimSpace(k)), "_")
}

// RawRow is one parsed input record with normalized keys.
type RawRow map[string]string

// ParseImport splits data into rows. JSON may hold one object or an array
// of objects; CSV needs a header row; TXT yields one user_notes row per
// non-blank line.
func ParseImport(format ImportFormat, data []byte) ([]RawRow, error) {
	switch format {
	case FormatJSON:
		return parseJSONRows(data)
	case FormatCSV:
		return parseCSVRows(data)
	case FormatTXT:
		var rows []RawRow
		for _, line := range strings.Split(string(data), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				rows = append(rows, RawRow{"user_notes": line})
			}
		}
		return rows, nil
	}
	return nil, invalid("format", "unsupported import format %q", format)
}

func parseJSONRows(data []byte) ([]RawRow, error) {
	data = bytes.TrimSpace(data)
	var objs []map[string]any
	if len(data) > 0 && data[0] == '{' {
		var one map[string]any
		if err := json.Unmarshal(data, &one); err != nil {
			return nil, invalid("file", "invalid JSON: %v", err)
		}
		objs = []map[string]any{one}
	} else if err := json.Unmarshal(data, &objs); err != nil {
		return nil, invalid("file", "expected a JSON object or array of objects: %v", err)
	}

	rows := make([]RawRow, 0, len(objs))
	for _, o := range objs {
		row := make(RawRow, len(o))
		for k, v := range o {
			switch x := v.(type) {
			case nil:
			case string:
				row[normalizeKey(k)] = x
			case float64:
				row[normalizeKey(k)] = strconv.FormatFloat(x, 'f', -1, 64)
			case bool:
				row[normalizeKey(k)] = strconv.FormatBool(x)
			default:
				b, _ := json.Marshal(x)
				row[normalizeKey(k)] = string(b)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseCSVRows(data []byte) ([]RawRow, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, invalid("file", "CSV file is empty")
	}
	if err != nil {
		return nil, invalid("file", "invalid CSV header: %v", err)
	}
	for i := range header {
		header[i] = normalizeKey(strings.TrimPrefix(header[i], "\ufeff"))
	}

	var rows []RawRow
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, invalid("file", "invalid CSV: %v", err)
		}
		row := make(RawRow)
		for i, v := range rec {
			if i >= len(header) {
				break
			}
			if v = strings.TrimSpace(v); v != "" {
				row[header[i]] = v
			}
		}
		if len(row) > 0 {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// NormalizeRow resolves aliases into the canonical artifact fields. Keys
// that are neither aliases nor export-only columns reject the row, as do
// malformed numbers, booleans and priorities.
func NormalizeRow(row RawRow) (map[string]any, error) {
	var unknown []string
	for k := range row {
		if !knownImportKeys[k] && !exportOnlyKeys[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("unrecognized fields: %s", strings.Join(unknown, ", "))
	}

	pick := func(aliases []string) string {
		for _, k := range aliases {
			if v := strings.TrimSpace(row[k]); v != "" {
				return v
			}
		}
		return ""
	}

	out := make(map[string]any)
	for _, a := range importAliases {
		v := pick(a.aliases)
		if v == "" {
			continue
		}
		switch a.field {
		case "location_lat", "location_lng":
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("%s: not a number: %q", a.field, v)
			}
			out[a.field] = f
		case "is_interesting", "admin_reviewed":
			b, err := parseImportBool(v)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", a.field, err)
			}
			out[a.field] = b
		case "priority":
			p, ok := model.ParsePriority(v)
			if !ok {
				return nil, fmt.Errorf("priority: unknown value %q", v)
			}
			out[a.field] = p
		case "artifact_type":
			out[a.field] = strings.ToLower(v)
		default:
			out[a.field] = v
		}
	}

	_, hasLat := out["location_lat"]
	_, hasLng := out["location_lng"]
	if hasLat != hasLng {
		return nil, fmt.Errorf("location needs both latitude and longitude")
	}
	return out, nil
}

func parseImportBool(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "true", "yes", "1":
		return true, nil
	case "false", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %q", v)
}

// RowResult is the outcome of one import row. Row is 1-based.
type RowResult struct {
	Row      int    `json:"row"`
	Artifact string `json:"artifact_id,omitempty"`
	Skipped  bool   `json:"skipped"`
	Reason   string `json:"reason,omitempty"`
}

// ImportResult summarizes a bulk import.
type ImportResult struct {
	Created int         `json:"created"`
	Skipped int         `json:"skipped"`
	Rows    []RowResult `json:"rows"`
}

// Importer creates artifacts in bulk.
type Importer struct {
	gw     gateway.Gateway
	logger *logger.Logger
	now    func() time.Time
}

// NewImporter creates a bulk importer.
func NewImporter(gw gateway.Gateway, log *logger.Logger) *Importer {
	return &Importer{gw: gw, logger: log, now: time.Now}
}

// Import parses data and creates one artifact per valid row. Rows are
// independent: a missing photo_url, a rejected field or a failed create
// skips that row only.
func (im *Importer) Import(ctx context.Context, format ImportFormat, data []byte) (*ImportResult, error) {
	rows, err := ParseImport(format, data)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, invalid("file", "no artifacts found in file")
	}

	res := &ImportResult{Rows: make([]RowResult, 0, len(rows))}
	skip := func(i int, reason string) {
		res.Skipped++
		res.Rows = append(res.Rows, RowResult{Row: i + 1, Skipped: true, Reason: reason})
		metrics.ImportRowsTotal.WithLabelValues(string(format), "skipped").Inc()
	}

	for i, row := range rows {
		fields, err := NormalizeRow(row)
		if err != nil {
			skip(i, err.Error())
			continue
		}
		if fields["photo_url"] == nil {
			skip(i, "missing photo_url")
			continue
		}
		if fields["artifact_code"] == nil {
			fields["artifact_code"] = NewArtifactCode(im.now())
		}
		if fields["priority"] == nil {
			fields["priority"] = model.PriorityNone
		}
		if fields["artifact_type"] == nil {
			fields["artifact_type"] = model.UncategorizedType
		}

		a, err := gateway.CreateAs[model.Artifact](ctx, im.gw, model.EntityArtifact, fields)
		if err != nil {
			skip(i, err.Error())
			continue
		}
		res.Created++
		res.Rows = append(res.Rows, RowResult{Row: i + 1, Artifact: a.ID})
		metrics.ImportRowsTotal.WithLabelValues(string(format), "created").Inc()
	}

	im.logger.Info("bulk import finished",
		zap.String("format", string(format)),
		zap.Int("created", res.Created),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}
