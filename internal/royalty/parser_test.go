package royalty

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

const testHeader = "Track Title,ISRC,Platform,Territory,Broadcast Date,Usage Count,Gross Amount,Admin Percent\n"

func newTestParser(t *testing.T, csvText string) *RowParser {
	t.Helper()
	p, err := NewRowParser(strings.NewReader(csvText), uuid.New())
	if err != nil {
		t.Fatalf("NewRowParser: %v", err)
	}
	return p
}

// drain reads every row result until EOF.
func drain(t *testing.T, p *RowParser) (valid []*ValidRow, failed []*FailedRow) {
	t.Helper()
	for {
		res, err := p.Next()
		if err == io.EOF {
			return valid, failed
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if res.Failed != nil {
			failed = append(failed, res.Failed)
		} else {
			valid = append(valid, res.Row)
		}
	}
}

func TestParseValidRow(t *testing.T) {
	p := newTestParser(t, testHeader+
		`Midnight Drive,USRC12345678,Spotify,US,2026-03-15,"1,250",100.00,20`+"\n")

	valid, failed := drain(t, p)
	if len(failed) != 0 {
		t.Fatalf("unexpected failures: %v", failed)
	}
	if len(valid) != 1 {
		t.Fatalf("got %d valid rows, want 1", len(valid))
	}

	row := valid[0]
	if row.Title != "Midnight Drive" {
		t.Errorf("Title = %q", row.Title)
	}
	if row.ISRC != "USRC12345678" {
		t.Errorf("ISRC = %q", row.ISRC)
	}
	if row.Platform != "Spotify" || row.Territory != "US" {
		t.Errorf("Platform/Territory = %q/%q", row.Platform, row.Territory)
	}
	if row.Units != 1250 {
		t.Errorf("Units = %d, want 1250", row.Units)
	}
	if row.Gross.String() != "100.00" {
		t.Errorf("Gross = %s, want 100.00", row.Gross)
	}
	if row.AdminPercent.String() != "20.00" {
		t.Errorf("AdminPercent = %s, want 20.00", row.AdminPercent)
	}
	want := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	if !row.BroadcastDate.Equal(want) {
		t.Errorf("BroadcastDate = %v, want %v", row.BroadcastDate, want)
	}
	if row.Checksum == "" {
		t.Error("Checksum is empty")
	}
	if row.Line != 2 {
		t.Errorf("Line = %d, want 2", row.Line)
	}
}

func TestHeaderSearchSkipsPreamble(t *testing.T) {
	csvText := "Royalty Report Q1 2026\n" +
		"Generated: 2026-04-01\n" +
		"\n" +
		testHeader +
		"Song,,Spotify,US,2026-01-10,5,1.00,10\n"

	p := newTestParser(t, csvText)
	valid, failed := drain(t, p)
	if len(failed) != 0 || len(valid) != 1 {
		t.Fatalf("valid=%d failed=%d, want 1/0", len(valid), len(failed))
	}
}

func TestHeaderNotFound(t *testing.T) {
	_, err := NewRowParser(strings.NewReader("a,b,c\n1,2,3\n"), uuid.New())
	if err == nil {
		t.Fatal("expected error when header is missing")
	}
}

func TestHeaderSearchEmptyFile(t *testing.T) {
	_, err := NewRowParser(strings.NewReader(""), uuid.New())
	if err == nil {
		t.Fatal("expected error for empty file")
	}
}

func TestRowFailures(t *testing.T) {
	tests := []struct {
		name string
		row  string
		want []FailReason
	}{
		{
			"missing title",
			",,Spotify,US,2026-01-10,5,1.00,10",
			[]FailReason{ReasonMissingField},
		},
		{
			"invalid date",
			"Song,,Spotify,US,notadate,5,1.00,10",
			[]FailReason{ReasonInvalidDate},
		},
		{
			"too many decimal places",
			"Song,,Spotify,US,2026-01-10,5,50.005,10",
			[]FailReason{ReasonInvalidNumber},
		},
		{
			"negative gross",
			"Song,,Spotify,US,2026-01-10,5,-1.00,10",
			[]FailReason{ReasonNegativeAmount},
		},
		{
			"accounting negative gross",
			"Song,,Spotify,US,2026-01-10,5,(1.00),10",
			[]FailReason{ReasonNegativeAmount},
		},
		{
			"percent over 100",
			"Song,,Spotify,US,2026-01-10,5,1.00,150",
			[]FailReason{ReasonInvalidPercent},
		},
		{
			"negative percent",
			"Song,,Spotify,US,2026-01-10,5,1.00,-5",
			[]FailReason{ReasonInvalidPercent},
		},
		{
			"non-numeric units",
			"Song,,Spotify,US,2026-01-10,abc,1.00,10",
			[]FailReason{ReasonInvalidNumber},
		},
		{
			"multiple reasons",
			",,Spotify,US,notadate,5,abc,10",
			[]FailReason{ReasonMissingField, ReasonInvalidDate, ReasonInvalidNumber},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestParser(t, testHeader+tt.row+"\n")
			valid, failed := drain(t, p)
			if len(valid) != 0 {
				t.Fatalf("row unexpectedly valid")
			}
			if len(failed) != 1 {
				t.Fatalf("got %d failures, want 1", len(failed))
			}
			got := failed[0].Reasons
			if len(got) != len(tt.want) {
				t.Fatalf("reasons = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("reasons[%d] = %s, want %s", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestBlankUsageCountDefaultsToZero(t *testing.T) {
	p := newTestParser(t, testHeader+"Song,,Spotify,US,2026-01-10,,1.00,10\n")
	valid, failed := drain(t, p)
	if len(failed) != 0 || len(valid) != 1 {
		t.Fatalf("valid=%d failed=%d, want 1/0", len(valid), len(failed))
	}
	if valid[0].Units != 0 {
		t.Errorf("Units = %d, want 0", valid[0].Units)
	}
}

func TestEmptyRowsSkipped(t *testing.T) {
	csvText := testHeader +
		"Song A,,Spotify,US,2026-01-10,5,1.00,10\n" +
		",,,,,,,\n" +
		"\n" +
		"Song B,,Spotify,US,2026-01-11,5,1.00,10\n"

	p := newTestParser(t, csvText)
	valid, failed := drain(t, p)
	if len(failed) != 0 {
		t.Fatalf("unexpected failures: %v", failed)
	}
	if len(valid) != 2 {
		t.Errorf("got %d valid rows, want 2", len(valid))
	}
}

func TestFailureDoesNotAbortStream(t *testing.T) {
	csvText := testHeader +
		"Song A,,Spotify,US,2026-01-10,5,1.00,10\n" +
		"Song B,,Spotify,US,bogus,5,1.00,10\n" +
		"Song C,,Spotify,US,2026-01-12,5,1.00,10\n"

	p := newTestParser(t, csvText)
	valid, failed := drain(t, p)
	if len(valid) != 2 || len(failed) != 1 {
		t.Fatalf("valid=%d failed=%d, want 2/1", len(valid), len(failed))
	}
	if failed[0].Line != 3 {
		t.Errorf("failed line = %d, want 3", failed[0].Line)
	}
}

func TestExcelArtifactsCleaned(t *testing.T) {
	p := newTestParser(t, testHeader+
		`="Midnight Drive",,Spotify,US,2026-01-10,5,"$1,250.00",10`+"\n")
	valid, failed := drain(t, p)
	if len(failed) != 0 || len(valid) != 1 {
		t.Fatalf("valid=%d failed=%d, want 1/0", len(valid), len(failed))
	}
	if valid[0].Title != "Midnight Drive" {
		t.Errorf("Title = %q, want %q", valid[0].Title, "Midnight Drive")
	}
	if valid[0].Gross.String() != "1250.00" {
		t.Errorf("Gross = %s, want 1250.00", valid[0].Gross)
	}
}

func TestChecksumStable(t *testing.T) {
	a := rowChecksum([]string{"Song", "Spotify", "1.00"})
	b := rowChecksum([]string{"Song", "Spotify", "1.00"})
	c := rowChecksum([]string{"Song", "Spotify", "1.01"})

	if a != b {
		t.Error("identical rows produced different checksums")
	}
	if a == c {
		t.Error("different rows produced identical checksums")
	}
	// Cell boundaries must matter: ["ab","c"] vs ["a","bc"].
	if rowChecksum([]string{"ab", "c"}) == rowChecksum([]string{"a", "bc"}) {
		t.Error("checksum ignores cell boundaries")
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"2026-03-15", time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), true},
		{"3/15/2026", time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), true},
		{"03/15/2026", time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), true},
		{"15 Mar 2026", time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), true},
		{"Mar 15, 2026", time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), true},
		{"20260315", time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), true},
		{"3/15/26", time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), true},
		// 2-digit year far in the future reads as previous century.
		{"3/15/99", time.Date(1999, 3, 15, 0, 0, 0, 0, time.UTC), true},
		{"", time.Time{}, false},
		{"notadate", time.Time{}, false},
		{"13/45/2026", time.Time{}, false},
	}

	for _, tt := range tests {
		got, ok := parseDate(tt.in)
		if ok != tt.ok {
			t.Errorf("parseDate(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			continue
		}
		if ok && !got.Equal(tt.want) {
			t.Errorf("parseDate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
