package normalize

import "testing"

func TestEmail(t *testing.T) {
	in := "  John.DOE@Example.COM  "
	want := "john.doe@example.com"
	got := Email(in)
	if got != want {
		t.Fatalf("normalize.Email(%q) = %q, want %q", in, got, want)
	}
}

func TestQuery(t *testing.T) {
	in := "  pasta   carbonara\t "
	want := "pasta carbonara"
	got := Query(in)
	if got != want {
		t.Fatalf("normalize.Query(%q) = %q, want %q", in, got, want)
	}
}
