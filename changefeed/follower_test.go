package changefeed

import "testing"

func TestFeedURL_NoSince(t *testing.T) {
	got := feedURL("https://replicate.npmjs.com", 0, false)
	want := "https://replicate.npmjs.com/_changes?feed=continuous&style=main_only&include_docs=true"
	if got != want {
		t.Errorf("feedURL() = %q, want %q", got, want)
	}
}

func TestFeedURL_ResumesFromSince(t *testing.T) {
	got := feedURL("https://replicate.npmjs.com", 42, true)
	want := "https://replicate.npmjs.com/_changes?feed=continuous&style=main_only&include_docs=true&since=42"
	if got != want {
		t.Errorf("feedURL() = %q, want %q", got, want)
	}
}

func TestParseAndVerify_SkipsLastSeqLine(t *testing.T) {
	_, skip, err := parseAndVerify([]byte(`{"last_seq":"12345-abc"}`))
	if err != nil {
		t.Fatalf("parseAndVerify() error = %v", err)
	}
	if !skip {
		t.Error("expected the terminal last_seq line to be skipped")
	}
}

func TestParseAndVerify_AcceptsConsistentEvent(t *testing.T) {
	line := `{"id":"left-pad","seq":7,"deleted":false,"changes":[{"rev":"3-abc"}],` +
		`"doc":{"_id":"left-pad","_rev":"3-abc","_deleted":false}}`
	ev, skip, err := parseAndVerify([]byte(line))
	if err != nil {
		t.Fatalf("parseAndVerify() error = %v", err)
	}
	if skip {
		t.Fatal("did not expect the event to be skipped")
	}
	if ev.ID != "left-pad" || ev.Seq != 7 {
		t.Errorf("ev = %+v, unexpected fields", ev)
	}
}

func TestParseAndVerify_RejectsIDMismatch(t *testing.T) {
	line := `{"id":"left-pad","seq":7,"deleted":false,"changes":[{"rev":"3-abc"}],` +
		`"doc":{"_id":"not-left-pad","_rev":"3-abc","_deleted":false}}`
	_, _, err := parseAndVerify([]byte(line))
	if err == nil {
		t.Fatal("expected an invariant violation error")
	}
}

func TestParseAndVerify_RejectsDeletedMismatch(t *testing.T) {
	line := `{"id":"left-pad","seq":7,"deleted":true,"changes":[{"rev":"3-abc"}],` +
		`"doc":{"_id":"left-pad","_rev":"3-abc","_deleted":false}}`
	_, _, err := parseAndVerify([]byte(line))
	if err == nil {
		t.Fatal("expected an invariant violation error for the _deleted mismatch")
	}
}

func TestParseAndVerify_RejectsRevMismatch(t *testing.T) {
	line := `{"id":"left-pad","seq":7,"deleted":false,"changes":[{"rev":"3-abc"}],` +
		`"doc":{"_id":"left-pad","_rev":"2-old","_deleted":false}}`
	_, _, err := parseAndVerify([]byte(line))
	if err == nil {
		t.Fatal("expected an invariant violation error for the _rev mismatch")
	}
}
