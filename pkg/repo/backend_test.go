package repo

import (
	"errors"
	"testing"
)

func TestSingleRepoBackendServesAnyPath(t *testing.T) {
	dir := t.TempDir()
	if _, err := Init(dir); err != nil {
		t.Fatalf("Init: %v", err)
	}
	b, err := NewSingleRepoBackend(dir)
	if err != nil {
		t.Fatalf("NewSingleRepoBackend: %v", err)
	}

	for _, reqPath := range []string{"/", "/anything", "/deep/nested/path.git", "no-leading-slash"} {
		r, err := b.Resolve(reqPath)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", reqPath, err)
		}
		if r.GitDir != dir {
			t.Errorf("Resolve(%q): got %q, want %q", reqPath, r.GitDir, dir)
		}
	}
}

func TestPathBackendMapping(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	for _, d := range []string{dirA, dirB} {
		if _, err := Init(d); err != nil {
			t.Fatalf("Init: %v", err)
		}
	}

	b, err := NewPathBackend(map[string]string{
		"/project-a.git": dirA,
		"/project-b.git": dirB,
	}, nil)
	if err != nil {
		t.Fatalf("NewPathBackend: %v", err)
	}

	r, err := b.Resolve("/project-a.git")
	if err != nil {
		t.Fatalf("Resolve a: %v", err)
	}
	if r.GitDir != dirA {
		t.Errorf("Resolve a: got %q, want %q", r.GitDir, dirA)
	}

	if _, err := b.Resolve("/unmapped.git"); !errors.Is(err, ErrNoRepository) {
		t.Errorf("unmapped path: got %v, want ErrNoRepository", err)
	}
}

func TestPathBackendCleansRequestPath(t *testing.T) {
	dir := t.TempDir()
	if _, err := Init(dir); err != nil {
		t.Fatalf("Init: %v", err)
	}
	b, err := NewPathBackend(map[string]string{"/p.git": dir}, nil)
	if err != nil {
		t.Fatalf("NewPathBackend: %v", err)
	}

	for _, reqPath := range []string{"/p.git", "//p.git", "/x/../p.git", " /p.git"} {
		if _, err := b.Resolve(reqPath); err != nil {
			t.Errorf("Resolve(%q): %v", reqPath, err)
		}
	}
}

func TestPathBackendAuthHook(t *testing.T) {
	dir := t.TempDir()
	if _, err := Init(dir); err != nil {
		t.Fatalf("Init: %v", err)
	}
	denied := errors.New("not on the list")
	b, err := NewPathBackend(map[string]string{"/": dir}, func(requestPath string) error {
		if requestPath == "/private.git" {
			return denied
		}
		return nil
	})
	if err != nil {
		t.Fatalf("NewPathBackend: %v", err)
	}

	if _, err := b.Resolve("/public.git"); err != nil {
		t.Errorf("allowed path: %v", err)
	}
	if _, err := b.Resolve("/private.git"); !errors.Is(err, denied) {
		t.Errorf("denied path: got %v, want auth error", err)
	}
}

func TestPathBackendMissingDirectory(t *testing.T) {
	b, err := NewSingleRepoBackend("/nonexistent/repo/dir")
	if err != nil {
		t.Fatalf("NewSingleRepoBackend: %v", err)
	}
	if _, err := b.Resolve("/"); !errors.Is(err, ErrNoRepository) {
		t.Errorf("missing repo dir: got %v, want ErrNoRepository", err)
	}
}

func TestPathBackendCachesRepository(t *testing.T) {
	dir := t.TempDir()
	if _, err := Init(dir); err != nil {
		t.Fatalf("Init: %v", err)
	}
	b, err := NewSingleRepoBackend(dir)
	if err != nil {
		t.Fatalf("NewSingleRepoBackend: %v", err)
	}

	first, err := b.Resolve("/repo.git")
	if err != nil {
		t.Fatalf("Resolve 1: %v", err)
	}
	second, err := b.Resolve("/repo.git")
	if err != nil {
		t.Fatalf("Resolve 2: %v", err)
	}
	if first != second {
		t.Error("repeated Resolve should return the cached repository")
	}
}
