package stream

import (
	"strings"
	"testing"
)

func TestTranscoderArgs(t *testing.T) {
	args := transcoderArgs("https://cdn.example.com/audio", 0, 0)
	joined := strings.Join(args, " ")

	if strings.Contains(joined, "-ss") {
		t.Fatal("zero offset must not emit a seek flag")
	}
	if strings.Contains(joined, "-to") {
		t.Fatal("zero end must not emit a stop flag")
	}
	for _, want := range []string{
		"-reconnect 1",
		"-reconnect_streamed 1",
		"-reconnect_delay_max 5",
		"-i https://cdn.example.com/audio",
		"-vn",
		"-ac 2",
		"-ar 48000",
		"-f s16le pipe:1",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("args missing %q: %s", want, joined)
		}
	}
}

func TestTranscoderArgsWithOffsetAndEnd(t *testing.T) {
	args := transcoderArgs("https://cdn.example.com/audio", 90, 210)
	joined := strings.Join(args, " ")

	// Both must be input-side options, i.e. appear before -i.
	in := strings.Index(joined, "-i ")
	ss := strings.Index(joined, "-ss 90")
	to := strings.Index(joined, "-to 210")
	if ss == -1 || to == -1 {
		t.Fatalf("missing seek flags: %s", joined)
	}
	if ss > in || to > in {
		t.Fatalf("seek flags must precede the input: %s", joined)
	}
}
