package store

import (
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
)

// Lead snapshots are stored as JSON arrays. A nil slice is written as an
// empty array so a stage that produced nothing is distinguishable from one
// that never ran.
func marshalSnapshot[T any](items []T) ([]byte, error) {
	if items == nil {
		items = []T{}
	}
	b, err := json.Marshal(items)
	return b, eris.Wrap(err, "store: marshal snapshot")
}

// unmarshalSnapshot leaves dst nil for a NULL column.
func unmarshalSnapshot[T any](raw []byte, dst *[]T) error {
	if len(raw) == 0 {
		return nil
	}
	return eris.Wrap(json.Unmarshal(raw, dst), "store: unmarshal snapshot")
}

type requestSnapshots struct {
	raw, filtered, enriched, dispatch []byte
}

func (s requestSnapshots) decode(r *model.PipelineRequest) error {
	if err := unmarshalSnapshot(s.raw, &r.RawLeads); err != nil {
		return err
	}
	if err := unmarshalSnapshot(s.filtered, &r.FilteredLeads); err != nil {
		return err
	}
	if err := unmarshalSnapshot(s.enriched, &r.EnrichedLeads); err != nil {
		return err
	}
	return unmarshalSnapshot(s.dispatch, &r.DispatchResults)
}

func countSent(results []model.DispatchResult) int {
	n := 0
	for _, r := range results {
		if r.Sent {
			n++
		}
	}
	return n
}
