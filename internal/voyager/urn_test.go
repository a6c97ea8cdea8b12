package voyager

import (
	"errors"
	"testing"
)

func TestParsePostURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare activity urn", "urn:li:activity:7280000000000000000", "urn:li:activity:7280000000000000000"},
		{"bare ugcPost urn", "urn:li:ugcPost:7280000000000000001", "urn:li:ugcPost:7280000000000000001"},
		{"feed url with dash segment", "https://www.linkedin.com/feed/update/urn:li:activity:7280000000000000002/", "urn:li:activity:7280000000000000002"},
		{"posts url", "https://www.linkedin.com/posts/jane-doe_topic-activity-7280000000000000003-AbCd", "urn:li:activity:7280000000000000003"},
		{"percent encoded urn", "https://www.linkedin.com/feed/update/urn%3Ali%3Aactivity%3A7280000000000000004/", "urn:li:activity:7280000000000000004"},
		{"percent encoded ugcPost", "urn%3Ali%3AugcPost%3A7280000000000000005", "urn:li:ugcPost:7280000000000000005"},
		{"ugcPost wins over activity path", "https://www.linkedin.com/feed/update/urn:li:ugcPost:7280000000000000006/?origin=activity-123", "urn:li:ugcPost:7280000000000000006"},
		{"surrounding whitespace", "  urn:li:activity:7280000000000000007  ", "urn:li:activity:7280000000000000007"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePostURL(tt.in)
			if err != nil {
				t.Fatalf("ParsePostURL(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParsePostURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParsePostURLErrors(t *testing.T) {
	for _, in := range []string{"", "   ", "https://example.com/not-linkedin", "urn:li:share:123abc"} {
		if _, err := ParsePostURL(in); !errors.Is(err, ErrParse) {
			t.Errorf("ParsePostURL(%q) error = %v, want ErrParse", in, err)
		}
	}
}

func TestParseProfileURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"full url", "https://www.linkedin.com/in/jane-doe/", "jane-doe"},
		{"no scheme", "linkedin.com/in/jane-doe", "jane-doe"},
		{"pub url", "https://www.linkedin.com/pub/jane-doe/1/2/3", "jane-doe"},
		{"at handle", "@jane-doe", "jane-doe"},
		{"bare vanity", "jane-doe", "jane-doe"},
		{"trailing query", "https://www.linkedin.com/in/jane-doe/?originalSubdomain=de", "jane-doe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseProfileURL(tt.in)
			if err != nil {
				t.Fatalf("ParseProfileURL(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseProfileURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}

	for _, in := range []string{"", "https://www.linkedin.com/feed/", "a/b"} {
		if _, err := ParseProfileURL(in); !errors.Is(err, ErrParse) {
			t.Errorf("ParseProfileURL(%q) error = %v, want ErrParse", in, err)
		}
	}
}

func TestActivityURNHelpers(t *testing.T) {
	urn := ActivityURN("7280000000000000000")
	if urn != "urn:li:activity:7280000000000000000" {
		t.Fatalf("ActivityURN = %q", urn)
	}
	if !IsActivityURN(urn) {
		t.Error("IsActivityURN should accept canonical urn")
	}
	if IsActivityURN("urn:li:ugcPost:1") {
		t.Error("IsActivityURN should reject ugcPost urn")
	}
	if id := ActivityID(urn); id != "7280000000000000000" {
		t.Errorf("ActivityID = %q", id)
	}
}
