package authz

import "testing"

func TestList_Allowed(t *testing.T) {
	l := New([]string{" +15550001 ", "+15550002"}, nil)

	cases := []struct {
		id   string
		want bool
	}{
		{"+15550001", true},
		{"+15550002", true},
		{"  +15550002  ", true},
		{"+15559999", false},
	}

	for _, tc := range cases {
		if got := l.Allowed(tc.id); got != tc.want {
			t.Errorf("Allowed(%q) = %v, want %v", tc.id, got, tc.want)
		}
	}
}

func TestList_EmptyDeniesAll(t *testing.T) {
	l := New(nil, nil)
	if l.Allowed("+15550001") {
		t.Error("empty list should deny every identifier")
	}
}

func TestList_NilListDenies(t *testing.T) {
	var l *List
	if l.Allowed("+15550001") {
		t.Error("nil *List should deny")
	}
}

func TestList_CaseInsensitive(t *testing.T) {
	l := New([]string{"Alice@Example.com"}, nil)
	if !l.Allowed("alice@example.com") {
		t.Error("Allowed should be case-insensitive")
	}
}
