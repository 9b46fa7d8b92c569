package vcs

import (
	"errors"
	"testing"
	"time"
)

func TestParsePorcelain(t *testing.T) {
	t.Parallel()

	out := " M libs/auth/handler.go\n" +
		"?? libs/auth/new_file.go\n" +
		" D libs/auth/old.go\n" +
		"R  libs/auth/a.go -> libs/auth/b.go\n" +
		"A  libs/auth/added.go\n"

	changes := parsePorcelain(out, "libs/auth")
	want := []Change{
		{Path: "handler.go", Type: ChangeModified},
		{Path: "new_file.go", Type: ChangeAdded},
		{Path: "old.go", Type: ChangeDeleted},
		{Path: "b.go", Type: ChangeRenamed},
		{Path: "added.go", Type: ChangeAdded},
	}

	if len(changes) != len(want) {
		t.Fatalf("got %d changes, want %d: %v", len(changes), len(want), changes)
	}
	for i, w := range want {
		if changes[i] != w {
			t.Errorf("change %d = %+v, want %+v", i, changes[i], w)
		}
	}
}

func TestParsePorcelainEmptyOutput(t *testing.T) {
	t.Parallel()
	if changes := parsePorcelain("", "libs/auth"); len(changes) != 0 {
		t.Fatalf("expected no changes for clean tree, got %v", changes)
	}
}

func TestRelToPrefix(t *testing.T) {
	t.Parallel()

	cases := []struct {
		path, prefix, want string
	}{
		{"libs/auth/handler.go", "libs/auth", "handler.go"},
		{"libs/auth/handler.go", "libs/auth/", "handler.go"},
		{"handler.go", "", "handler.go"},
		{"handler.go", ".", "handler.go"},
		{"other/file.go", "libs/auth", "other/file.go"},
	}
	for _, c := range cases {
		if got := relToPrefix(c.path, c.prefix); got != c.want {
			t.Errorf("relToPrefix(%q, %q) = %q, want %q", c.path, c.prefix, got, c.want)
		}
	}
}

func TestParseCommits(t *testing.T) {
	t.Parallel()

	out := "abc123" + fieldSep + "alice" + fieldSep + "2026-03-01T10:00:00Z" + fieldSep +
		"feat(auth): add token rotation" + fieldSep + "body text\n" + recordSep +
		"def456" + fieldSep + "bob" + fieldSep + "2026-03-02T11:30:00+02:00" + fieldSep +
		"fix: null pointer" + fieldSep + "" + recordSep

	commits, err := parseCommits(out)
	if err != nil {
		t.Fatalf("parseCommits: %v", err)
	}
	if len(commits) != 2 {
		t.Fatalf("got %d commits, want 2", len(commits))
	}
	if commits[0].Hash != "abc123" || commits[0].Author != "alice" {
		t.Errorf("first commit = %+v", commits[0])
	}
	if commits[0].Subject != "feat(auth): add token rotation" {
		t.Errorf("subject = %q", commits[0].Subject)
	}
	if commits[0].Body != "body text" {
		t.Errorf("body = %q", commits[0].Body)
	}
	wantWhen := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if !commits[0].When.Equal(wantWhen) {
		t.Errorf("when = %v, want %v", commits[0].When, wantWhen)
	}
}

func TestParseCommitsMalformed(t *testing.T) {
	t.Parallel()
	if _, err := parseCommits("not a record" + recordSep); err == nil {
		t.Fatal("expected error for malformed record")
	}
}

func TestParseNumstat(t *testing.T) {
	t.Parallel()

	out := "10\t2\tlibs/auth/handler.go\n" +
		"3\t0\tlibs/auth/new.go\n" +
		"-\t-\tlibs/auth/logo.png\n" +
		"5\t1\tlibs/auth/handler.go\n"

	stat := parseNumstat(out, "libs/auth")
	if stat.Additions != 18 {
		t.Errorf("additions = %d, want 18", stat.Additions)
	}
	if stat.Deletions != 3 {
		t.Errorf("deletions = %d, want 3", stat.Deletions)
	}
	// handler.go appears twice but is listed once; binary file still listed.
	if len(stat.Files) != 3 {
		t.Errorf("files = %v, want 3 entries", stat.Files)
	}
}

func TestParseNameStatus(t *testing.T) {
	t.Parallel()

	// Newest first, as git log emits: the first entry per path wins.
	out := "M\thandler.go\n" +
		"D\tremoved.go\n" +
		"A\thandler.go\n" +
		"R100\told.go\tnew.go\n"

	changes := parseNameStatus(out)
	byPath := make(map[string]ChangeType)
	for _, c := range changes {
		byPath[c.Path] = c.Type
	}
	if byPath["handler.go"] != ChangeModified {
		t.Errorf("handler.go = %s, want %s", byPath["handler.go"], ChangeModified)
	}
	if byPath["removed.go"] != ChangeDeleted {
		t.Errorf("removed.go = %s, want %s", byPath["removed.go"], ChangeDeleted)
	}
	if byPath["new.go"] != ChangeRenamed {
		t.Errorf("new.go = %s, want %s", byPath["new.go"], ChangeRenamed)
	}
}

func TestClassifyGitError(t *testing.T) {
	t.Parallel()

	base := errors.New("exit status 128")
	cases := []struct {
		stderr string
		want   error
	}{
		{"fatal: unable to access 'https://example.com/repo.git'", ErrRemoteUnreachable},
		{"ssh: Could not resolve host: example.com", ErrRemoteUnreachable},
		{"! [rejected] main -> main (non-fast-forward)", ErrNonFastForward},
		{"error: Your local changes would be overwritten by merge", ErrNonFastForward},
	}
	for _, c := range cases {
		got := classifyGitError([]string{"push"}, base, c.stderr)
		if !errors.Is(got, c.want) {
			t.Errorf("classifyGitError(%q) = %v, want %v", c.stderr, got, c.want)
		}
	}

	// Unrecognized stderr keeps the original error in the chain.
	got := classifyGitError([]string{"commit"}, base, "something else entirely")
	if !errors.Is(got, base) {
		t.Errorf("unclassified error lost its cause: %v", got)
	}
}
