package types

// Notification is the terminal record of a job's outcome, enqueued by
// Builder and drained by Notifier (spec.md §3). Absence of MsgInternal and
// MsgPublic means the job succeeded.
type Notification struct {
	Code        string   `json:"code"`
	Platform    Platform `json:"platform"`
	StartTime   int64    `json:"starttime"`
	MsgInternal string   `json:"msg_internal,omitempty"`
	MsgPublic   string   `json:"msg_public,omitempty"`
}

// Failed reports whether this notification carries a failure.
func (n Notification) Failed() bool {
	return n.MsgInternal != "" || n.MsgPublic != ""
}

// WorkspaceDirName is the directory name the Notifier must remove after a
// successful upload (spec.md §3: "projects/{code}_{starttime}/").
func (n Notification) WorkspaceDirName() string {
	return dirName(n.Code, n.StartTime)
}
