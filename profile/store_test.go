package profile

import "testing"

func TestSanitizeDomain(t *testing.T) {
	cases := map[string]string{
		"www.example.com": "example.com",
		"example.com":     "example.com",
		"sub.Example.com": "sub.Example.com",
		"weird/host:8080": "weird_host_8080",
	}
	for in, want := range cases {
		if got := SanitizeDomain(in); got != want {
			t.Errorf("SanitizeDomain(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStore_GetMissingReturnsNoError(t *testing.T) {
	s := NewStore(t.TempDir())
	text, ok, err := s.Get("example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok || text != "" {
		t.Errorf("expected a missing profile to report (\"\", false), got (%q, %v)", text, ok)
	}
}

func TestStore_SetThenGetRoundTrips(t *testing.T) {
	s := NewStore(t.TempDir())
	if err := s.Set("www.example.com", "# Login notes\nuse the SSO button"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	text, ok, err := s.Get("example.com")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok {
		t.Fatal("expected profile to exist")
	}
	if text != "# Login notes\nuse the SSO button" {
		t.Errorf("got %q", text)
	}
}

func TestStore_SetCreatesDirectory(t *testing.T) {
	dir := t.TempDir() + "/nested/profiles"
	s := NewStore(dir)
	if err := s.Set("example.com", "notes"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, ok, err := s.Get("example.com"); err != nil || !ok {
		t.Fatalf("expected profile to be readable after directory creation, ok=%v err=%v", ok, err)
	}
}
