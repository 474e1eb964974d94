// Package export renders artifact lists and comparisons as downloadable
// files.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/capitalize-ai/artifact-sync/internal/model"
)

// Format is an export file format.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatHTML Format = "html"
	FormatTXT  Format = "txt"
)

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json; charset=utf-8"
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatHTML:
		return "text/html; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}

// Options select optional columns.
type Options struct {
	IncludePhotos   bool `json:"include_photos"`
	IncludeAudio    bool `json:"include_audio"`
	IncludePriority bool `json:"include_priority"`
}

// Filename returns the dated download name, e.g.
// artifacts-export-2024-05-10.csv.
func Filename(prefix string, now time.Time, f Format) string {
	return fmt.Sprintf("%s-%s.%s", prefix, now.UTC().Format("2006-01-02"), f)
}

// Item is one exported artifact. Field order is the column order.
type Item struct {
	ArtifactCode string         `json:"artifact_code"`
	Type         string         `json:"type"`
	CreatedBy    string         `json:"created_by"`
	CreatedDate  time.Time      `json:"created_date"`
	LocationLat  *float64       `json:"location_lat"`
	LocationLng  *float64       `json:"location_lng"`
	Reviewed     bool           `json:"reviewed"`
	Interesting  bool           `json:"interesting"`
	Priority     model.Priority `json:"priority,omitempty"`
	UserNotes    string         `json:"user_notes"`
	AdminNotes   string         `json:"admin_notes"`
	PhotoURL     string         `json:"photo_url,omitempty"`
	AudioURL     string         `json:"audio_url,omitempty"`
}

// Items projects artifacts onto export items.
func Items(artifacts []model.Artifact, opts Options) []Item {
	out := make([]Item, 0, len(artifacts))
	for _, a := range artifacts {
		it := Item{
			ArtifactCode: a.ArtifactCode,
			Type:         a.Type(),
			CreatedBy:    a.CreatedBy,
			CreatedDate:  a.CreatedDate,
			LocationLat:  a.LocationLat,
			LocationLng:  a.LocationLng,
			Reviewed:     a.AdminReviewed,
			Interesting:  a.IsInteresting,
			UserNotes:    a.UserNotes,
			AdminNotes:   a.AdminNotes,
		}
		if opts.IncludePriority {
			it.Priority = a.PriorityOrNone()
		}
		if opts.IncludePhotos {
			it.PhotoURL = a.PhotoURL
		}
		if opts.IncludeAudio {
			it.AudioURL = a.AudioURL
		}
		out = append(out, it)
	}
	return out
}

// JSON writes the artifacts as a pretty-printed JSON array.
func JSON(w io.Writer, artifacts []model.Artifact, opts Options) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(Items(artifacts, opts)); err != nil {
		return fmt.Errorf("failed to encode export: %w", err)
	}
	return nil
}

// CSV writes a header row and one row per artifact. Every field is quoted
// and embedded quotes are doubled; rows end with "\n".
func CSV(w io.Writer, artifacts []model.Artifact, opts Options) error {
	header := []string{"Artifact Code", "Type", "Created By", "Created Date", "Location Lat", "Location Lng", "Reviewed", "Interesting"}
	if opts.IncludePriority {
		header = append(header, "Priority")
	}
	header = append(header, "User Notes", "Admin Notes")
	if opts.IncludePhotos {
		header = append(header, "Photo URL")
	}
	if opts.IncludeAudio {
		header = append(header, "Audio URL")
	}

	var b strings.Builder
	writeRow(&b, header)
	for _, it := range Items(artifacts, opts) {
		row := []string{
			it.ArtifactCode,
			it.Type,
			it.CreatedBy,
			formatTime(it.CreatedDate),
			formatCoord(it.LocationLat),
			formatCoord(it.LocationLng),
			yesNo(it.Reviewed),
			yesNo(it.Interesting),
		}
		if opts.IncludePriority {
			row = append(row, string(it.Priority))
		}
		row = append(row, it.UserNotes, it.AdminNotes)
		if opts.IncludePhotos {
			row = append(row, it.PhotoURL)
		}
		if opts.IncludeAudio {
			row = append(row, it.AudioURL)
		}
		writeRow(&b, row)
	}

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	return nil
}

func writeRow(b *strings.Builder, fields []string) {
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(f, `"`, `""`))
		b.WriteByte('"')
	}
	b.WriteByte('\n')
}

func formatCoord(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}
