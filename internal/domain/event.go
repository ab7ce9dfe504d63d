package domain

import "encoding/json"

// EventAction names a pipeline change event kind.
type EventAction string

// Pipeline change event actions consumed by real-time board UIs.
const (
	EventItemAdd                  EventAction = "itemAdd"
	EventItemUpdate               EventAction = "itemUpdate"
	EventItemRemove               EventAction = "itemRemove"
	EventItemsRemove              EventAction = "itemsRemove"
	EventOrderUpdated             EventAction = "orderUpdated"
	EventItemOfConformitiesUpdate EventAction = "itemOfConformitiesUpdate"
)

// pipelineTopicPrefix matches the channel naming of existing subscribers.
const pipelineTopicPrefix = "salesPipelinesChanged:"

// PipelineTopic builds the per-pipeline publish topic.
func PipelineTopic(pipelineID string) string {
	return pipelineTopicPrefix + pipelineID
}

// ItemPayload wraps an item plus resolver-computed extras for publishing.
//
// Extras are overlaid onto the marshalled item so subscribers see one flat
// object; extras never shadow the persisted item fields.
type ItemPayload struct {
	Item   Item
	Extras map[string]any
}

// MarshalJSON flattens the item and its extras into a single object.
func (p ItemPayload) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(p.Item)
	if err != nil {
		return nil, err
	}
	if len(p.Extras) == 0 {
		return raw, nil
	}
	merged := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &merged); err != nil {
		return nil, err
	}
	for key, value := range p.Extras {
		if _, exists := merged[key]; exists {
			continue
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		merged[key] = encoded
	}
	return json.Marshal(merged)
}

// EventData carries the item movement context of one change event.
type EventData struct {
	Item               ItemPayload `json:"item"`
	AboveItemID        string      `json:"aboveItemId,omitempty"`
	DestinationStageID string      `json:"destinationStageId,omitempty"`
	OldStageID         string      `json:"oldStageId,omitempty"`
}

// PipelineEvent is one frame on a pipeline's change topic.
//
// The proccessId field name is misspelled on purpose: existing subscribers
// key off the historical wire format.
type PipelineEvent struct {
	PipelineID string      `json:"_id"`
	ProcessID  string      `json:"proccessId"`
	Action     EventAction `json:"action"`
	Data       EventData   `json:"data"`
}

// Topic returns the publish topic for this event.
func (e PipelineEvent) Topic() string {
	return PipelineTopic(e.PipelineID)
}
