package normalize

import "testing"

func TestSource_IdempotentOnAlreadyNormalizedText(t *testing.T) {
	in := "Tourniquet treats severe bleeding.\n"
	got := Source(in)
	if got != in {
		t.Fatalf("expected already-normalized text unchanged, got %q", got)
	}
	if len(got) != 35 {
		t.Fatalf("expected 35 bytes (34 content + newline), got %d", len(got))
	}
}

func TestSource_CRLFNormalized(t *testing.T) {
	got := Source("line one\r\nline two\r\n")
	want := "line one line two\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSource_TrimsLeadingTrailingBlankLines(t *testing.T) {
	got := Source("\n\n  content line  \n\n\n")
	want := "  content line\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSource_HyphenationJoin(t *testing.T) {
	got := Source("the wound requires bleed-\ning control\n")
	want := "the wound requires bleeding control\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSource_SoftWrapJoin(t *testing.T) {
	got := Source("apply pressure to the\nwound immediately\n")
	want := "apply pressure to the wound immediately\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSource_HeadingNotMerged(t *testing.T) {
	got := Source("SECTION ONE\nThe next paragraph starts here.\n")
	want := "SECTION ONE\nThe next paragraph starts here.\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSource_ListItemNotMerged(t *testing.T) {
	got := Source("intro line\n- first item\n- second item\n")
	want := "intro line\n- first item\n- second item\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSource_CollapsesDuplicateBlankLines(t *testing.T) {
	got := Source("Para one.\n\n\n\nPara two.\n")
	want := "Para one.\n\nPara two.\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSource_CollapsesInternalWhitespace(t *testing.T) {
	got := Source("Multiple   spaces    collapse.\n")
	want := "Multiple spaces collapse.\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSource_IsIdempotent(t *testing.T) {
	in := "Multiple   spaces   collapse?\nSecond line with  extra   space.\n"
	once := Source(in)
	twice := Source(once)
	if once != twice {
		t.Fatalf("normalize is not idempotent:\nonce:  %q\ntwice: %q", once, twice)
	}
}
