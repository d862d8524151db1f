package stream

import (
	"encoding/base64"
	"strings"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

func encodeInitPayload(conversationID string) []byte {
	var b []byte
	inner := protowire.AppendTag(nil, initFieldConversationID, protowire.BytesType)
	inner = protowire.AppendString(inner, conversationID)
	b = protowire.AppendTag(b, eventFieldInit, protowire.BytesType)
	b = protowire.AppendBytes(b, inner)
	return b
}

func sseFrame(payload []byte) string {
	enc := base64.URLEncoding.EncodeToString(payload)
	enc = strings.TrimRight(enc, "=")
	return "event: message\ndata: " + enc + "\n\n"
}

func TestReader_DecodesInitEvent(t *testing.T) {
	payload := encodeInitPayload("task-123")
	body := sseFrame(payload)

	r := NewReader(strings.NewReader(body))
	ev, err := r.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Init == nil || ev.Init.ConversationID != "task-123" {
		t.Fatalf("expected init event with conversation id task-123, got %+v", ev.Init)
	}
	if len(ev.RawPayload) == 0 {
		t.Error("expected raw payload to be retained")
	}

	_, err = r.Next()
	if err != ErrDone {
		t.Errorf("expected ErrDone after single event, got %v", err)
	}
}

func TestReader_StopsOnDoneMarker(t *testing.T) {
	payload := encodeInitPayload("ignored")
	body := sseFrame(payload) + "data: [DONE]\n\n" + sseFrame(encodeInitPayload("never-seen"))

	r := NewReader(strings.NewReader(body))
	ev, err := r.Next()
	if err != nil {
		t.Fatalf("unexpected error on first event: %v", err)
	}
	if ev.Init.ConversationID != "ignored" {
		t.Fatalf("unexpected first event: %+v", ev)
	}

	_, err = r.Next()
	if err != ErrDone {
		t.Fatalf("expected ErrDone at [DONE] marker, got %v", err)
	}
}

func TestReader_SkipsCommentLines(t *testing.T) {
	payload := encodeInitPayload("c1")
	body := ": keep-alive\n" + sseFrame(payload)

	r := NewReader(strings.NewReader(body))
	ev, err := r.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Init.ConversationID != "c1" {
		t.Fatalf("expected conversation id c1, got %+v", ev.Init)
	}
}

func TestReader_HandlesTrailingEventWithoutBlankLine(t *testing.T) {
	payload := encodeInitPayload("tail")
	enc := base64.URLEncoding.EncodeToString(payload)
	enc = strings.TrimRight(enc, "=")
	body := "data: " + enc + "\n" // no trailing blank line, stream just closes

	r := NewReader(strings.NewReader(body))
	ev, err := r.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Init.ConversationID != "tail" {
		t.Fatalf("expected conversation id tail, got %+v", ev.Init)
	}
}

func TestDecodeEvent_ClientActionsAndFinished(t *testing.T) {
	var msg []byte
	msg = protowire.AppendTag(msg, messageFieldID, protowire.BytesType)
	msg = protowire.AppendString(msg, "msg-1")
	var ao []byte
	ao = protowire.AppendTag(ao, agentOutputFieldText, protowire.BytesType)
	ao = protowire.AppendString(ao, "hello")
	msg = protowire.AppendTag(msg, messageFieldAgentOutput, protowire.BytesType)
	msg = protowire.AppendBytes(msg, ao)

	var action []byte
	action = protowire.AppendTag(action, actionFieldAppendContent, protowire.BytesType)
	action = protowire.AppendBytes(action, msg)

	var actions []byte
	actions = protowire.AppendTag(actions, clientActionsFieldActions, protowire.BytesType)
	actions = protowire.AppendBytes(actions, action)

	var reason []byte
	reason = protowire.AppendTag(reason, reasonFieldQuotaLimit, protowire.VarintType)
	reason = protowire.AppendVarint(reason, 1)
	var finished []byte
	finished = protowire.AppendTag(finished, finishedFieldReason, protowire.BytesType)
	finished = protowire.AppendBytes(finished, reason)

	var ev []byte
	ev = protowire.AppendTag(ev, eventFieldClientActions, protowire.BytesType)
	ev = protowire.AppendBytes(ev, actions)
	ev = protowire.AppendTag(ev, eventFieldFinished, protowire.BytesType)
	ev = protowire.AppendBytes(ev, finished)

	decoded, err := DecodeEvent(ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(decoded.Actions) != 1 || decoded.Actions[0].AppendContent == nil {
		t.Fatalf("expected one append_content action, got %+v", decoded.Actions)
	}
	if decoded.Actions[0].AppendContent.AgentOutput.Text != "hello" {
		t.Errorf("expected text 'hello', got %q", decoded.Actions[0].AppendContent.AgentOutput.Text)
	}
	if decoded.Finished == nil || !decoded.Finished.Reason.QuotaLimit {
		t.Fatalf("expected finished event with quota_limit reason, got %+v", decoded.Finished)
	}
}
