package lock

import "encoding/json"

// entryProjection is a plain JSON shape used only to feed jsondiff a
// structural comparison during legacy-migration logging; it is never
// the on-disk format (that is the canonical text from format.go).
type entryProjection struct {
	Version  string   `json:"version"`
	Checksum string   `json:"checksum"`
	Managers []string `json:"managers,omitempty"`
	DepRefs  []DepRef `json:"deps,omitempty"`
	Repo     string   `json:"repo,omitempty"`
}

func entriesProjectionJSON(entries map[string]Entry) []byte {
	out := make(map[string]entryProjection, len(entries))
	for name, e := range entries {
		out[name] = entryProjection{
			Version: e.Version, Checksum: e.Checksum,
			Managers: e.Managers, DepRefs: e.DepRefs, Repo: e.Repo,
		}
	}
	data, _ := json.Marshal(out)
	return data
}
