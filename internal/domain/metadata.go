package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Metadata is the open key-value bag carried by notifications and
// deliveries, persisted as JSONB. There is no schema; channel senders are
// the only consumers expected to interpret specific keys.
type Metadata map[string]any

// Merge returns a copy of m with other's keys layered on top. The receiver
// is never mutated, so stored bags can be merged concurrently.
func (m Metadata) Merge(other Metadata) Metadata {
	if len(other) == 0 {
		return m
	}
	merged := make(Metadata, len(m)+len(other))
	for k, v := range m {
		merged[k] = v
	}
	for k, v := range other {
		merged[k] = v
	}
	return merged
}

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *Metadata) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	switch data := value.(type) {
	case []byte:
		return json.Unmarshal(data, m)
	case string:
		return json.Unmarshal([]byte(data), m)
	}
	return fmt.Errorf("unsupported metadata source type %T", value)
}
