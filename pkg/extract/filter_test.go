package extract

import "testing"

func TestCompileFilter_Empty(t *testing.T) {
	match, err := compileFilter("")
	if err != nil {
		t.Fatalf("compileFilter: %v", err)
	}
	if !match("anything/at/all.dds") {
		t.Fatal("expected empty filter to match everything")
	}
}

func TestCompileFilter_SinglePattern(t *testing.T) {
	match, err := compileFilter("*.dds")
	if err != nil {
		t.Fatalf("compileFilter: %v", err)
	}
	if !match("foo.dds") {
		t.Fatal("expected foo.dds to match *.dds")
	}
	if match("foo.ot") {
		t.Fatal("expected foo.ot not to match *.dds")
	}
}

func TestCompileFilter_CommaSeparatedOr(t *testing.T) {
	match, err := compileFilter("*.dds,metadata/**/*.ot")
	if err != nil {
		t.Fatalf("compileFilter: %v", err)
	}
	if !match("textures/foo.dds") {
		t.Fatal("expected textures/foo.dds to match *.dds")
	}
	if !match("metadata/items/sword.ot") {
		t.Fatal("expected metadata/items/sword.ot to match metadata/**/*.ot")
	}
	if match("audio/foo.ogg") {
		t.Fatal("expected audio/foo.ogg to match neither pattern")
	}
}

func TestCompileFilter_InvalidPattern(t *testing.T) {
	_, err := compileFilter("[unterminated")
	if err == nil {
		t.Fatal("expected error for unparsable glob token")
	}
	if _, ok := err.(*PatternError); !ok {
		t.Fatalf("expected *PatternError, got %T", err)
	}
}

func TestCompileFilter_ZeroMatches(t *testing.T) {
	match, err := compileFilter("*.nonexistent")
	if err != nil {
		t.Fatalf("compileFilter: %v", err)
	}
	if match("foo.dds") || match("bar.ot") {
		t.Fatal("expected zero matches for a pattern with no matching extension")
	}
}
