package ipc

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/appfoundry/buildfleet/pkg/types"
)

func assertEq(a, b interface{}, t *testing.T) {
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("Expected %#v and %#v to be equal", a, b)
	}
}

func failIfError(err error, t *testing.T) {
	if err != nil {
		t.Fatal(err)
	}
}

func TestSendReceiveSuccess(t *testing.T) {
	var buf bytes.Buffer
	failIfError(Send(&buf, nil), t)

	msg, err := Receive(&buf)
	failIfError(err, t)
	if msg != nil {
		t.Fatalf("expected nil message for the success sentinel, got %#v", msg)
	}
}

func TestSendReceiveFailure(t *testing.T) {
	var buf bytes.Buffer
	sent := &Message{MsgInternal: "xcodebuild exit 65", MsgPublic: "Build failed."}
	failIfError(Send(&buf, sent), t)

	got, err := Receive(&buf)
	failIfError(err, t)
	if got == nil {
		t.Fatal("expected a non-nil message")
	}
	assertEq(*got, *sent, t)
}

func TestFromStageError(t *testing.T) {
	if FromStageError(nil) != nil {
		t.Fatal("expected nil Message for a nil StageError")
	}

	se := types.NewStageError("internal detail", "public detail")
	got := FromStageError(se)
	assertEq(got.MsgInternal, "internal detail", t)
	assertEq(got.MsgPublic, "public detail", t)
}

func TestReceiveEmptyStream(t *testing.T) {
	var buf bytes.Buffer
	if _, err := Receive(&buf); err == nil {
		t.Fatal("expected an error reading from an empty stream")
	}
}
