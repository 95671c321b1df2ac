package stream

import (
	"github.com/collabset/backend/internal/lifecycle"
)

// filterFor returns the projection of a tree value the actor may see at path.
func filterFor(path string, actor lifecycle.Actor) func(any) any {
	if actor.IsAdmin() {
		return func(v any) any { return orEmpty(v) }
	}
	switch path {
	case DealsPath:
		return participantFilter(actor.ID, "influencerId", "brandId")
	case RequestsPath:
		return participantFilter(actor.ID, "fromId", "toId")
	}
	return func(v any) any { return orEmpty(v) }
}

func participantFilter(partyID string, fields ...string) func(any) any {
	return func(v any) any {
		records, _ := v.(map[string]any)
		out := make(map[string]any)
		for key, raw := range records {
			record, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			for _, field := range fields {
				if id, _ := record[field].(string); id != "" && id == partyID {
					out[key] = record
					break
				}
			}
		}
		return out
	}
}

func orEmpty(v any) any {
	if v == nil {
		return map[string]any{}
	}
	return v
}
