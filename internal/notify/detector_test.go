package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/capitalize-ai/artifact-sync/internal/model"
)

func msg(id, author string, readBy ...string) model.Message {
	return model.Message{
		Record: model.Record{ID: id, CreatedBy: author},
		ReadBy: readBy,
	}
}

func ids[T Identifiable](items []T) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Identity())
	}
	return out
}

func TestDetectFirstLoadYieldsNothing(t *testing.T) {
	d := Detect[model.Message](nil, []model.Message{msg("1", "bob@x.io"), msg("2", "bob@x.io")}, nil)
	assert.Empty(t, d.New)
	assert.Empty(t, d.Removed)
}

func TestDetectNewAndRemoved(t *testing.T) {
	prev := NewSnapshot([]model.Message{msg("1", "bob@x.io"), msg("2", "bob@x.io")})
	d := Detect(prev, []model.Message{msg("2", "bob@x.io"), msg("3", "bob@x.io"), msg("4", "bob@x.io")}, nil)

	assert.Equal(t, []string{"3", "4"}, ids(d.New))
	assert.Equal(t, []string{"1"}, d.Removed)
}

func TestDetectMessageQualifier(t *testing.T) {
	me := "ann@x.io"
	prev := NewSnapshot([]model.Message{msg("1", "bob@x.io")})
	current := []model.Message{
		msg("1", "bob@x.io"),
		msg("2", me),
		msg("3", "bob@x.io", me),
		msg("4", "bob@x.io", "bob@x.io"),
	}

	d := Detect(prev, current, NewMessageFor(me))
	assert.Equal(t, []string{"4"}, ids(d.New))
}

func TestDetectorObserve(t *testing.T) {
	var det Detector[model.Artifact]
	a := func(id, by string) model.Artifact {
		return model.Artifact{Record: model.Record{ID: id, CreatedBy: by}}
	}
	me := "admin@x.io"

	assert.Empty(t, det.Observe([]model.Artifact{a("1", "u@x.io")}, NewSubmissionFor(me)).New)

	d := det.Observe([]model.Artifact{a("1", "u@x.io"), a("2", "u@x.io"), a("3", me)}, NewSubmissionFor(me))
	assert.Equal(t, []string{"2"}, ids(d.New))

	assert.Empty(t, det.Observe([]model.Artifact{a("1", "u@x.io"), a("2", "u@x.io"), a("3", me)}, NewSubmissionFor(me)).New)

	det.Reset()
	assert.Empty(t, det.Observe([]model.Artifact{a("9", "u@x.io")}, nil).New)
}
