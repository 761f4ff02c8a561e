package contracts

import (
	"encoding/json"
	"testing"
)

func TestDefaultJobDraft(t *testing.T) {
	t.Parallel()
	d := DefaultJobDraft()
	if d.GPUNum != 0 || d.CPULimit != "1.5" || d.MemoryLimit != "2Gi" || d.AutoRestart {
		t.Fatalf("unexpected defaults: %+v", d)
	}
	if d.VolumeMounts == nil || len(d.VolumeMounts) != 0 || d.Tags == nil || len(d.Tags) != 0 {
		t.Fatalf("collections must be empty and non-nil: %+v", d)
	}
	if d.Name != "" || d.Command != "" || d.Image != "" || d.Repo != "" || d.Branch != "" || d.Commit != "" || d.Comments != "" {
		t.Fatalf("string fields must be empty: %+v", d)
	}
	if d.Node != nil || d.NodeName() != "" {
		t.Fatal("node must be unset")
	}
}

func TestDefaultJobDraftReturnsIndependentCopies(t *testing.T) {
	t.Parallel()
	a := DefaultJobDraft()
	a.Tags = append(a.Tags, "nlp")
	a.VolumeMounts = append(a.VolumeMounts, VolumeMount{Key: "data"})
	a.CPULimit = "8"

	b := DefaultJobDraft()
	if len(b.Tags) != 0 || len(b.VolumeMounts) != 0 || b.CPULimit != "1.5" {
		t.Fatalf("defaults were mutated through a previous copy: %+v", b)
	}
}

func TestDefaultJobDraftJSONShape(t *testing.T) {
	t.Parallel()
	raw, err := json.Marshal(DefaultJobDraft())
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatal(err)
	}
	want := map[string]any{
		"gpuNum":      float64(0),
		"cpuLimit":    "1.5",
		"memoryLimit": "2Gi",
		"autoRestart": false,
		"node":        nil,
	}
	for k, v := range want {
		if got, ok := m[k]; !ok || got != v {
			t.Fatalf("%s = %v (present %v), want %v", k, got, ok, v)
		}
	}
	if tags, ok := m["tags"].([]any); !ok || len(tags) != 0 {
		t.Fatalf("tags should be an empty array, got %v", m["tags"])
	}
	if mounts, ok := m["volumeMounts"].([]any); !ok || len(mounts) != 0 {
		t.Fatalf("volumeMounts should be an empty array, got %v", m["volumeMounts"])
	}
}
