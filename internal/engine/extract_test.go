package engine

import (
	"reflect"
	"testing"
)

func TestExtractHeatmapRescales(t *testing.T) {
	log := "book loaded\n  0  50 100\n100  50   0\n 25  25  25\nNN eval=0.48\n"
	got := ExtractHeatmap(log, 3)
	// floor(v * 9.9 / 100)
	want := [][]int{{0, 4, 9}, {9, 4, 0}, {2, 2, 2}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected grid: %v", got)
	}
}

func TestExtractHeatmapNoGrid(t *testing.T) {
	if got := ExtractHeatmap("thinking...\nall zeros here\n", 19); len(got) != 0 {
		t.Fatalf("expected empty grid got %v", got)
	}
}

func TestExtractHeatmapAllZeros(t *testing.T) {
	got := ExtractHeatmap("0 0 0\n0 0 0\n0 0 0\n", 3)
	want := [][]int{{0, 0, 0}, {0, 0, 0}, {0, 0, 0}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("zero-max grid must pass through unscaled: %v", got)
	}
}

func TestExtractHeatmapTruncatedLog(t *testing.T) {
	got := ExtractHeatmap("1 2\n3 4\n", 19)
	if len(got) != 2 {
		t.Fatalf("expected the two available rows, got %d", len(got))
	}
}

func TestExtractVariations(t *testing.T) {
	log := "" +
		"Thinking at most 10.0 seconds...\n" +
		"NN eval=0.482930\n" +
		" Q16 ->    3990 (V: 49.26%) (N:  5.79%) PV: Q16 D4 Q4 D16\n" +
		"  D4 ->    1200 (V: 48.10%) (N:  4.20%) PV: D4 Q16\n" +
		"=  Q16\n"
	vars := ExtractVariations(log)
	if len(vars) != 2 {
		t.Fatalf("expected 2 variations got %d", len(vars))
	}
	v := vars[0]
	if v.Visits != 3990 {
		t.Fatalf("expected 3990 visits got %d", v.Visits)
	}
	if v.Stats["V"] != "49.26%" || v.Stats["N"] != "5.79%" {
		t.Fatalf("unexpected stats: %v", v.Stats)
	}
	if !reflect.DeepEqual(v.Variation, []string{"Q16", "D4", "Q4", "D16"}) {
		t.Fatalf("unexpected pv: %v", v.Variation)
	}
	if vars[1].Visits != 1200 {
		t.Fatalf("expected 1200 visits got %d", vars[1].Visits)
	}
}

func TestExtractVariationsMCWinrateMarker(t *testing.T) {
	log := "" +
		"MC winrate=0.51, NN eval=0.52\n" +
		"  C3 ->     800 (W: 51.00%) PV: C3 D3\n"
	vars := ExtractVariations(log)
	if len(vars) != 1 || vars[0].Visits != 800 {
		t.Fatalf("unexpected variations: %+v", vars)
	}
}

func TestExtractVariationsNoMarker(t *testing.T) {
	vars := ExtractVariations("A1 -> 100 (V: 50%) PV: A1\n")
	if vars == nil {
		t.Fatal("expected non-nil slice")
	}
	if len(vars) != 0 {
		t.Fatalf("rows before the analysis marker must be ignored: %+v", vars)
	}
}
