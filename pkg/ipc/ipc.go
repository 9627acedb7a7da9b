// Package ipc defines the single structured message the build child
// sends to the Builder over an inherited pipe (spec.md §4.3 step 4,
// §9): exactly one line, "null" on success or a JSON object describing
// the failure.
package ipc

import (
	"bufio"
	"encoding/json"
	"io"

	"github.com/appfoundry/buildfleet/pkg/types"
)

// Message is the terminal payload sent by the build child. A nil
// Message (encoded as the JSON literal "null") means success.
type Message struct {
	MsgInternal string `json:"message"`
	MsgPublic   string `json:"msgPublic"`
}

// FromStageError converts a pipeline failure into its wire form.
func FromStageError(e *types.StageError) *Message {
	if e == nil {
		return nil
	}
	return &Message{MsgInternal: e.Message, MsgPublic: e.MsgPublic}
}

// Send writes m to w as a single newline-terminated JSON line.
func Send(w io.Writer, m *Message) error {
	enc := json.NewEncoder(w)
	return enc.Encode(m)
}

// Receive blocks until a single JSON line is available on r and
// decodes it. Returns (nil, nil) for the success sentinel.
func Receive(r io.Reader) (*Message, error) {
	line, err := bufio.NewReader(r).ReadBytes('\n')
	if err != nil && err != io.EOF {
		return nil, err
	}
	if len(line) == 0 {
		return nil, io.ErrUnexpectedEOF
	}

	var m *Message
	if err := json.Unmarshal(line, &m); err != nil {
		return nil, err
	}
	return m, nil
}
