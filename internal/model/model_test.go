package model

import "testing"

func TestShouldProcessDeep(t *testing.T) {
	cases := []struct {
		name string
		rec  FileRecord
		want bool
	}{
		{"image always eligible", FileRecord{Kind: KindImage}, true},
		{"presentation always eligible", FileRecord{Kind: KindPresentation}, true},
		{"document with page count eligible", FileRecord{Kind: KindDocument, PageCount: 3}, true},
		{"document with preview image eligible", FileRecord{Kind: KindDocument, PreviewImage: []byte{1}}, true},
		{"document with neither not eligible", FileRecord{Kind: KindDocument}, false},
		{"text never eligible", FileRecord{Kind: KindText}, false},
		{"other never eligible", FileRecord{Kind: KindOther}, false},
	}
	for _, tc := range cases {
		if got := ShouldProcessDeep(tc.rec); got != tc.want {
			t.Errorf("%s: ShouldProcessDeep() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestIndexingStateClamp(t *testing.T) {
	if got := (IndexingState{Progress: -5}).Clamp().Progress; got != 0 {
		t.Fatalf("expected clamp to 0, got %d", got)
	}
	if got := (IndexingState{Progress: 150}).Clamp().Progress; got != 100 {
		t.Fatalf("expected clamp to 100, got %d", got)
	}
	if got := (IndexingState{Progress: 42}).Clamp().Progress; got != 42 {
		t.Fatalf("expected unclamped value preserved, got %d", got)
	}
}
