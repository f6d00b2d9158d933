package passphrase

import (
	"bytes"
	"strings"
	"testing"
)

func fakeSource(env map[string]string, terminal bool, typed string) (*Source, *int) {
	reads := 0
	s := NewSource("ROZGAR_TEST_PASS")
	s.lookupEnv = func(k string) (string, bool) { v, ok := env[k]; return v, ok }
	s.isTerminal = func() bool { return terminal }
	s.readSecret = func() ([]byte, error) { reads++; return []byte(typed), nil }
	s.out = &bytes.Buffer{}
	return s, &reads
}

func TestSourcePrefersEnvironment(t *testing.T) {
	s, reads := fakeSource(map[string]string{"ROZGAR_TEST_PASS": " spaced "}, true, "typed")
	got, err := s.Get()
	if err != nil || got != " spaced " {
		t.Fatalf("expected env value verbatim, got %q (%v)", got, err)
	}
	if *reads != 0 {
		t.Fatalf("expected no prompt when env is set")
	}
}

func TestSourceRejectsBlankEnvironment(t *testing.T) {
	s, _ := fakeSource(map[string]string{"ROZGAR_TEST_PASS": "  "}, true, "typed")
	if _, err := s.Get(); err == nil || !strings.Contains(err.Error(), "set but empty") {
		t.Fatalf("expected blank env error, got %v", err)
	}
}

func TestSourcePromptsOnceOnTerminal(t *testing.T) {
	s, reads := fakeSource(nil, true, "hunter2")
	ForKeystore("/home/dev/keys/client.keystore")(s)
	out := s.out.(*bytes.Buffer)
	for i := 0; i < 2; i++ {
		got, err := s.Get()
		if err != nil || got != "hunter2" {
			t.Fatalf("call %d: got %q (%v)", i, got, err)
		}
	}
	if *reads != 1 {
		t.Fatalf("expected a single prompt, got %d", *reads)
	}
	if !strings.HasPrefix(out.String(), "Enter passphrase for client.keystore: ") {
		t.Fatalf("unexpected prompt %q", out.String())
	}
}

func TestSourceWithoutTerminal(t *testing.T) {
	s, _ := fakeSource(nil, false, "")
	if _, err := s.Get(); err == nil || !strings.Contains(err.Error(), "ROZGAR_TEST_PASS") {
		t.Fatalf("expected error naming the env var, got %v", err)
	}
	blank, _ := fakeSource(nil, true, "   ")
	if _, err := blank.Get(); err == nil {
		t.Fatalf("expected empty typed passphrase to fail")
	}
}
