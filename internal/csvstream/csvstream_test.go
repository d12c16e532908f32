package csvstream

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestBOMSkipper(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  string
	}{
		{
			name:  "BOM removed",
			input: []byte{0xEF, 0xBB, 0xBF, 'a', 'b', 'c'},
			want:  "abc",
		},
		{
			name:  "no BOM preserved",
			input: []byte("abc"),
			want:  "abc",
		},
		{
			name:  "short file without BOM",
			input: []byte("ab"),
			want:  "ab",
		},
		{
			name:  "empty input",
			input: []byte{},
			want:  "",
		},
		{
			name:  "BOM only",
			input: []byte{0xEF, 0xBB, 0xBF},
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := io.ReadAll(newBOMSkipper(bytes.NewReader(tt.input)))
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSanitizer(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  string
	}{
		{
			name:  "valid ASCII unchanged",
			input: []byte("title,platform,gross"),
			want:  "title,platform,gross",
		},
		{
			name:  "valid multibyte unchanged",
			input: []byte("café,世界"),
			want:  "café,世界",
		},
		{
			name:  "invalid byte replaced",
			input: []byte{'a', 0x80, 'b'},
			want:  "a?b",
		},
		{
			name:  "latin-1 high byte replaced",
			input: []byte{'c', 'a', 'f', 0xE9},
			want:  "caf?",
		},
		{
			name:  "multiple invalid bytes",
			input: []byte{0x80, 0x81},
			want:  "??",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := io.ReadAll(newSanitizer(bytes.NewReader(tt.input)))
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

// TestOneBytePerRead feeds a multi-byte rune one byte per Read to verify
// incomplete sequences are held across call boundaries.
func TestOneBytePerRead(t *testing.T) {
	src := &oneByteReader{data: []byte("a世b")}
	got, err := io.ReadAll(newSanitizer(src))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "a世b" {
		t.Errorf("got %q, want %q", got, "a世b")
	}
}

type oneByteReader struct {
	data []byte
	pos  int
}

func (r *oneByteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	p[0] = r.data[r.pos]
	r.pos++
	return 1, nil
}

func TestCountingReader(t *testing.T) {
	input := "hello world"
	r := NewReader(strings.NewReader(input), int64(len(input)))

	if _, err := io.ReadAll(r); err != nil {
		t.Fatalf("read: %v", err)
	}
	if r.BytesRead != int64(len(input)) {
		t.Errorf("BytesRead = %d, want %d", r.BytesRead, len(input))
	}
	if r.Progress() != 100 {
		t.Errorf("Progress = %d, want 100", r.Progress())
	}
}

func TestCountingReader_UnknownTotal(t *testing.T) {
	r := NewReader(strings.NewReader("data"), 0)
	if _, err := io.ReadAll(r); err != nil {
		t.Fatalf("read: %v", err)
	}
	if r.Progress() != 0 {
		t.Errorf("Progress with unknown total = %d, want 0", r.Progress())
	}
}

func TestNewReader_FullStack(t *testing.T) {
	raw := append([]byte{0xEF, 0xBB, 0xBF}, []byte("title,gross\nSong,")...)
	raw = append(raw, 0x93) // stray Windows-1252 quote
	raw = append(raw, []byte("1.00\n")...)

	got, err := io.ReadAll(NewReader(bytes.NewReader(raw), int64(len(raw))))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := "title,gross\nSong,?1.00\n"
	if string(got) != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
