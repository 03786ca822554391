package download

import "fmt"

// Kind is the state of one bundle download.
type Kind int

const (
	NotStarted Kind = iota
	InProgress
	Completed
	Failed
)

func (k Kind) String() string {
	switch k {
	case NotStarted:
		return "not_started"
	case InProgress:
		return "in_progress"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Status is the download state of one bundle filename. Which fields are
// meaningful depends on Kind: Progress, BytesReceived and TotalBytes for
// InProgress, LocalPath for Completed, Reason for Failed.
type Status struct {
	Kind          Kind
	Progress      float64
	BytesReceived int64
	TotalBytes    int64
	LocalPath     string
	Reason        string
}

// Indeterminate reports whether an in-progress transfer has no known size.
func (s Status) Indeterminate() bool {
	return s.Kind == InProgress && s.TotalBytes <= 0
}

// Terminal reports whether s ends an attempt.
func (s Status) Terminal() bool { return s.Kind == Completed || s.Kind == Failed }

func (s Status) String() string {
	switch s.Kind {
	case InProgress:
		if s.Indeterminate() {
			return fmt.Sprintf("in_progress(%d bytes)", s.BytesReceived)
		}
		return fmt.Sprintf("in_progress(%.2f)", s.Progress)
	case Completed:
		return "completed(" + s.LocalPath + ")"
	case Failed:
		return "failed(" + s.Reason + ")"
	default:
		return s.Kind.String()
	}
}

func inProgress(received, total int64) Status {
	st := Status{Kind: InProgress, BytesReceived: received, TotalBytes: total}
	if total > 0 {
		st.Progress = float64(received) / float64(total)
		if st.Progress > 1 {
			st.Progress = 1
		}
	}
	return st
}

func cloneStatuses(m map[string]Status) map[string]Status {
	out := make(map[string]Status, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
