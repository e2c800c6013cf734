package validate

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  example.com  ", "example.com"},
		{"<script>example.com", "scriptexample.com"},
		{"javascript:example.com", "example.com"},
		{"JavaScript:example.com", "example.com"},
		{"example.com onclick=", "example.com"},
		{"example.com onMouseOver=alert(1)", "example.com alert(1)"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := Sanitize(tt.in); got != tt.want {
			t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDomain(t *testing.T) {
	longLabel := strings.Repeat("a", 64)
	maxLabel := strings.Repeat("a", 63)
	// 4 labels of 63 chars plus 3 dots = 255 chars
	tooLong := strings.Join([]string{maxLabel, maxLabel, maxLabel, maxLabel}, ".")
	// 3 labels of 63 + dots + "com" = 63*3 + 3 + 3 = 195 chars
	longButValid := strings.Join([]string{maxLabel, maxLabel, maxLabel, "com"}, ".")

	tests := []struct {
		name   string
		domain string
		want   bool
	}{
		{"simple", "example.com", true},
		{"subdomain", "www.example.co.uk", true},
		{"hyphen inside", "my-site.io", true},
		{"digits", "123.com", true},
		{"upper case", "Example.COM", true},
		{"surrounding space", "  example.com ", true},
		{"63 char label", maxLabel + ".com", true},
		{"long but valid", longButValid, true},
		{"single label", "localhost", true},
		{"bare word", "example", true},
		{"single char", "a", true},
		{"empty", "", false},
		{"too long", tooLong, false},
		{"64 char label", longLabel + ".com", false},
		{"leading hyphen", "-example.com", false},
		{"trailing hyphen", "example-.com", false},
		{"consecutive dots", "example..com", false},
		{"leading dot", ".example.com", false},
		{"trailing dot", "example.com.", false},
		{"punctuation", "notadomain!!", false},
		{"underscore", "ex_ample.com", false},
		{"space inside", "exa mple.com", false},
		{"url", "https://example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Domain(tt.domain); got != tt.want {
				t.Errorf("Domain(%q) = %v, want %v", tt.domain, got, tt.want)
			}
		})
	}
}

func TestList_Rejections(t *testing.T) {
	if res := List(nil); res.Valid || res.Error != ErrMsgNotList {
		t.Errorf("expected nil list rejection, got %+v", res)
	}

	if res := List([]string{}); res.Valid || res.Error != ErrMsgEmpty {
		t.Errorf("expected empty list rejection, got %+v", res)
	}

	many := make([]string, MaxBulkDomains+1)
	for i := range many {
		many[i] = fmt.Sprintf("site%d.com", i)
	}
	res := List(many)
	if res.Valid || res.Error != ErrMsgTooMany {
		t.Errorf("expected oversized list rejection, got valid=%v error=%q", res.Valid, res.Error)
	}
	if res.TotalValid != 0 || len(res.ValidDomains) != 0 {
		t.Errorf("oversized list must not be partitioned")
	}

	res = List(many[:MaxBulkDomains])
	if !res.Valid || res.TotalValid != MaxBulkDomains {
		t.Errorf("expected exactly %d domains to be accepted, got %+v", MaxBulkDomains, res.TotalValid)
	}
}

func TestList_Partition(t *testing.T) {
	res := List([]string{"Example.com", "bad!", "example.com", "-nope.com"})

	wantValid := []string{"example.com", "example.com"}
	if !reflect.DeepEqual(res.ValidDomains, wantValid) {
		t.Errorf("ValidDomains = %v, want %v", res.ValidDomains, wantValid)
	}
	wantInvalid := []string{"bad!", "-nope.com"}
	if !reflect.DeepEqual(res.InvalidDomains, wantInvalid) {
		t.Errorf("InvalidDomains = %v, want %v", res.InvalidDomains, wantInvalid)
	}
	if res.TotalValid != 2 || res.TotalInvalid != 2 || !res.Valid {
		t.Errorf("unexpected totals: %+v", res)
	}
}

func TestList_NoneValid(t *testing.T) {
	res := List([]string{"bad!", "also bad"})
	if res.Valid {
		t.Errorf("expected valid=false when nothing validates")
	}
	if res.TotalInvalid != 2 || res.Error != ErrMsgNoneValid {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestParseList(t *testing.T) {
	got := ParseList("example.com\r\n\n  google.com  \n\n")
	want := []string{"example.com", "google.com"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseList = %v, want %v", got, want)
	}

	if got := ParseList(""); len(got) != 0 {
		t.Errorf("expected no entries for empty input, got %v", got)
	}
}

func TestBulkInputScenario(t *testing.T) {
	res := List(ParseList("example.com\ngoogle.com\nnotadomain!!\n"))

	want := []string{"example.com", "google.com"}
	if !reflect.DeepEqual(res.ValidDomains, want) {
		t.Errorf("ValidDomains = %v, want %v", res.ValidDomains, want)
	}
	if res.TotalInvalid != 1 {
		t.Errorf("TotalInvalid = %d, want 1", res.TotalInvalid)
	}
	if !res.Valid {
		t.Errorf("expected valid result")
	}
}
