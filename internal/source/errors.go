package source

import "fmt"

// SourceUnavailableError is returned when no usable dataset file can be
// produced: no local file and no remote identifier, or every download attempt failed.
type SourceUnavailableError struct {
	Reason string
	Remedy string
	Err    error
}

func (e *SourceUnavailableError) Error() string {
	msg := "dataset source unavailable: " + e.Reason
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Remedy != "" {
		msg += " (" + e.Remedy + ")"
	}
	return msg
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

// HTTPError is a non-2xx response from the remote store.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("GET %s: status=%d", e.URL, e.StatusCode)
}

const remedyConfigure = "place the CSV at dataset_path or set remote_file_id / remote_folder_id"
