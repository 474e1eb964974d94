package service

import (
	"context"
	"fmt"
	"html/template"
	"strings"

	"github.com/capitalize-ai/artifact-sync/internal/gateway"
	"github.com/capitalize-ai/artifact-sync/internal/model"
)

// Marker colours.
const (
	ColorUnreviewed  = "red"
	ColorInteresting = "gold"
	ColorDefault     = "blue"
)

var typeColors = map[string]string{
	"pottery": "orange",
	"glass":   "blue",
	"metal":   "grey",
	"stone":   "violet",
	"bone":    "yellow",
	"wood":    "green",
	"textile": "pink",
}

// Popups carry data-artifact-id on every clickable element; the map page
// handles clicks with one delegated listener on the map container.
var popupTemplate = template.Must(template.New("popup").Funcs(template.FuncMap{
	"preview": func(s string) string {
		r := []rune(s)
		if len(r) <= 40 {
			return s
		}
		return string(r[:40]) + "..."
	},
	"title": func(s string) string {
		if s == "" {
			return s
		}
		return strings.ToUpper(s[:1]) + s[1:]
	},
}).Parse(`{{if eq (len .Artifacts) 1}}{{with index .Artifacts 0}}<div class="artifact-popup" data-artifact-id="{{.ID}}">
{{if .PhotoURL}}<img src="{{.PhotoURL}}" alt="{{.ArtifactCode}}">{{end}}
<p class="code">ID: {{or .ArtifactCode "N/A"}}</p>
{{if and .ArtifactType (ne .ArtifactType "uncategorized")}}<span class="badge type">{{title .ArtifactType}}</span>{{end}}
{{if not $.Public}}{{if not .AdminReviewed}}<span class="badge needs-review">Needs Review</span>{{end}}{{if .IsInteresting}}<span class="badge interesting">Interesting</span>{{end}}{{end}}
<button type="button" class="view-artifact" data-artifact-id="{{.ID}}">View Details</button>
</div>{{end}}{{else}}<div class="artifact-popup-list">
<div class="header">{{len .Artifacts}} artifacts at this location</div>
{{range .Artifacts}}<div class="item" data-artifact-id="{{.ID}}">
{{if .PhotoURL}}<img src="{{.PhotoURL}}" alt="{{.ArtifactCode}}">{{end}}
<p class="code">ID: {{or .ArtifactCode "N/A"}}{{if .ArtifactType}} <span class="badge type">{{.ArtifactType}}</span>{{end}}</p>
{{if and (not $.Public) .UserNotes}}<p class="notes">{{preview .UserNotes}}</p>{{end}}
</div>
{{end}}</div>{{end}}`))

// Clusters groups located artifacts by coordinates rounded to 4 decimals,
// in order of first appearance. Public clusters omit review badges and
// notes.
func Clusters(artifacts []model.Artifact, public bool) ([]model.MapCluster, error) {
	index := make(map[string]int)
	var out []model.MapCluster

	for _, a := range artifacts {
		if !a.HasLocation() {
			continue
		}
		key := fmt.Sprintf("%.4f,%.4f", *a.LocationLat, *a.LocationLng)
		i, ok := index[key]
		if !ok {
			i = len(out)
			index[key] = i
			out = append(out, model.MapCluster{Lat: *a.LocationLat, Lng: *a.LocationLng})
		}
		out[i].ArtifactIDs = append(out[i].ArtifactIDs, a.ID)
		out[i].Artifacts = append(out[i].Artifacts, a)
	}

	for i := range out {
		out[i].Color = markerColor(out[i].Artifacts)
		var b strings.Builder
		if err := popupTemplate.Execute(&b, struct {
			Artifacts []model.Artifact
			Public    bool
		}{out[i].Artifacts, public}); err != nil {
			return nil, fmt.Errorf("failed to render popup: %w", err)
		}
		out[i].PopupHTML = b.String()
	}
	return out, nil
}

func markerColor(group []model.Artifact) string {
	for _, a := range group {
		if !a.AdminReviewed {
			return ColorUnreviewed
		}
	}
	for _, a := range group {
		if a.IsInteresting {
			return ColorInteresting
		}
	}
	if c, ok := typeColors[group[0].ArtifactType]; ok {
		return c
	}
	return ColorDefault
}

// MapClusters returns clusters of every located artifact matching f.
func (s *ArtifactService) MapClusters(ctx context.Context, f model.ArtifactFilter) ([]model.MapCluster, error) {
	list, err := s.List(ctx, f)
	if err != nil {
		return nil, err
	}
	return Clusters(list, false)
}

// PublicMap returns clusters of reviewed, located artifacts with notes
// stripped.
func (s *ArtifactService) PublicMap(ctx context.Context) ([]model.MapCluster, error) {
	all, err := gateway.ListAs[model.Artifact](ctx, s.gw, model.EntityArtifact, gateway.Query{
		Filter: map[string]any{"admin_reviewed": true},
		Sort:   "-created_date",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	public := make([]model.Artifact, 0, len(all))
	for _, a := range all {
		if !a.HasLocation() {
			continue
		}
		a.UserNotes = ""
		a.AdminNotes = ""
		a.CreatedBy = ""
		public = append(public, a)
	}
	return Clusters(public, true)
}
