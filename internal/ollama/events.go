package ollama

import "encoding/json"

// ProgressEvent is one line of the streamed pull response. The shapes
// the worker emits: {"status":"pulling manifest"}, layer progress with
// digest/total/completed, {"status":"success"}, and {"error": "..."}
// (also synthesised locally from a non-200 response).
type ProgressEvent struct {
	Status    string `json:"status"`
	Digest    string `json:"digest"`
	Total     int64  `json:"total"`
	Completed int64  `json:"completed"`
	Err       string `json:"error"`
}

// ManifestStart reports whether the event marks the start of a pull.
func (e ProgressEvent) ManifestStart() bool {
	return e.Status == "pulling manifest"
}

// LayerProgress reports whether the event carries layer download counters.
func (e ProgressEvent) LayerProgress() bool {
	return e.Digest != ""
}

// Success reports whether the event terminates the pull successfully.
func (e ProgressEvent) Success() bool {
	return e.Status == "success"
}

// Failed reports whether the event terminates the pull with an error.
func (e ProgressEvent) Failed() bool {
	return e.Err != ""
}

func parseEvent(line []byte) (ProgressEvent, error) {
	var ev ProgressEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return ProgressEvent{}, err
	}
	return ev, nil
}
