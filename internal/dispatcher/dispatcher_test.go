package dispatcher

import (
	"testing"

	"github.com/lofyer/warp-multiproxy-go/internal/format"
	"github.com/lofyer/warp-multiproxy-go/internal/wire"
)

func TestBuildRequests_SingleRequestWithoutSplitMode(t *testing.T) {
	d := &Dispatcher{splitToolcallResult: true}
	fr := format.FoldRequest{
		UserText:       "hi",
		PendingResults: []wire.ToolResult{{ToolCallID: "a", Content: "1"}, {ToolCallID: "b", Content: "2"}},
	}
	fr.PendingResults = nil // no pending results: single request regardless of split flag

	reqs := d.buildRequests(fr, false)
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
}

func TestBuildRequests_SplitModeProducesOneRequestPerPendingResult(t *testing.T) {
	d := &Dispatcher{splitToolcallResult: true}
	fr := format.FoldRequest{
		UserText:       "what happened",
		PendingResults: []wire.ToolResult{{ToolCallID: "a", Content: "1"}, {ToolCallID: "b", Content: "2"}},
	}

	reqs := d.buildRequests(fr, false)
	if len(reqs) != 2 {
		t.Fatalf("expected 2 requests (one per pending result), got %d", len(reqs))
	}
}

func TestBuildRequests_NonSplitModeFoldsAllResultsIntoOneRequest(t *testing.T) {
	d := &Dispatcher{splitToolcallResult: false}
	fr := format.FoldRequest{
		UserText:       "what happened",
		PendingResults: []wire.ToolResult{{ToolCallID: "a", Content: "1"}, {ToolCallID: "b", Content: "2"}},
	}

	reqs := d.buildRequests(fr, false)
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request when split mode is off, got %d", len(reqs))
	}
}
