package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/slipway/slipway/pkg/types"
)

// forgeEvent is the nested shape forge webhooks deliver for a
// published release.
type forgeEvent struct {
	Action  string `json:"action"`
	Release struct {
		TagName     string    `json:"tag_name"`
		Name        string    `json:"name"`
		PublishedAt time.Time `json:"published_at"`
	} `json:"release"`
	After string `json:"after"`
}

// LoadEvent reads a release event payload from disk. Both the flat
// event shape and the nested forge webhook shape are accepted.
func LoadEvent(path string) (types.ReleaseEvent, error) {
	var event types.ReleaseEvent

	data, err := os.ReadFile(path)
	if err != nil {
		return event, fmt.Errorf("failed to read event payload: %w", err)
	}

	if err := json.Unmarshal(data, &event); err != nil {
		return event, fmt.Errorf("failed to parse event payload: %w", err)
	}

	if event.Tag == "" {
		var hook forgeEvent
		if err := json.Unmarshal(data, &hook); err == nil && hook.Release.TagName != "" {
			event.Tag = hook.Release.TagName
			event.Name = hook.Release.Name
			event.PublishedAt = hook.Release.PublishedAt
			if event.Commit == "" {
				event.Commit = hook.After
			}
		}
	}

	if event.Tag == "" {
		return event, fmt.Errorf("event payload carries no release tag")
	}

	return event, nil
}
