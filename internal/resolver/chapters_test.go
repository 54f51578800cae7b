package resolver

import "testing"

func TestParseChaptersBasic(t *testing.T) {
	desc := "My album, full stream\n" +
		"0:00 Intro\n" +
		"1:30 Second Song\n" +
		"4:05 Finale\n" +
		"thanks for listening!"
	chs := parseChapters(desc, 600)
	if len(chs) != 3 {
		t.Fatalf("chapters = %d, want 3", len(chs))
	}
	want := []chapter{
		{Label: "Intro", Offset: 0, Length: 90},
		{Label: "Second Song", Offset: 90, Length: 155},
		{Label: "Finale", Offset: 245, Length: 355},
	}
	for i, w := range want {
		if chs[i] != w {
			t.Fatalf("chapter %d = %+v, want %+v", i, chs[i], w)
		}
	}
}

func TestParseChaptersSeparatorShapes(t *testing.T) {
	desc := "0:00 - Intro\nOutro 2:00"
	chs := parseChapters(desc, 300)
	if len(chs) != 2 {
		t.Fatalf("chapters = %d, want 2", len(chs))
	}
	if chs[0].Label != "Intro" {
		t.Fatalf("label = %q, want Intro", chs[0].Label)
	}
	if chs[1].Label != "Outro" || chs[1].Offset != 120 {
		t.Fatalf("second chapter = %+v, want Outro at 120", chs[1])
	}
}

func TestParseChaptersRequiresZeroStart(t *testing.T) {
	desc := "1:00 Not a chapter list\n2:00 Just timestamps"
	if chs := parseChapters(desc, 300); chs != nil {
		t.Fatalf("chapters = %v, want nil without a 0:00 marker", chs)
	}
}

func TestParseChaptersIgnoresMultiTimestampLines(t *testing.T) {
	desc := "0:00 Intro\nbest part from 1:00 to 2:00 honestly\n3:00 End"
	chs := parseChapters(desc, 400)
	if len(chs) != 2 {
		t.Fatalf("chapters = %d, want 2", len(chs))
	}
	if chs[1].Offset != 180 {
		t.Fatalf("second offset = %d, want 180", chs[1].Offset)
	}
}

func TestParseChaptersHourTimestamps(t *testing.T) {
	desc := "0:00 Part One\n1:02:03 Part Two"
	chs := parseChapters(desc, 7200)
	if len(chs) != 2 {
		t.Fatalf("chapters = %d, want 2", len(chs))
	}
	if chs[1].Offset != 3723 {
		t.Fatalf("offset = %d, want 3723", chs[1].Offset)
	}
	if chs[1].Length != 7200-3723 {
		t.Fatalf("length = %d, want %d", chs[1].Length, 7200-3723)
	}
}

func TestParseChaptersEmptyDescription(t *testing.T) {
	if chs := parseChapters("", 300); chs != nil {
		t.Fatalf("chapters = %v, want nil", chs)
	}
}
