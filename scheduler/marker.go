package scheduler

import (
	"encoding/json"

	"transcribepipeline/core"
	"transcribepipeline/errs"
)

// completionMarker builds the activity_completion row payload. It carries
// a compact summary of the activity's output, never the full durable data
// (transcript text or vectors), matching the persisted-state-layout
// invariant on activity_completion.
func completionMarker(workflowRunID, activityName string, summary map[string]any) (core.ActivityCompletionMarker, error) {
	payload, err := json.Marshal(summary)
	if err != nil {
		return core.ActivityCompletionMarker{}, errs.Wrap(err, "marshal completion marker payload")
	}
	return core.ActivityCompletionMarker{
		WorkflowRunID: workflowRunID,
		ActivityName:  activityName,
		Payload:       payload,
	}, nil
}
