package pathclass

import "testing"

func TestClassifyUnderRootIsVirtual(t *testing.T) {
	c := New("/home/user/fs", "/home/user")

	class, resolved := c.Classify("/home/user/fs/a.txt")
	if class != Virtual {
		t.Fatalf("expected Virtual, got %v", class)
	}
	if resolved != "/home/user/fs/a.txt" {
		t.Fatalf("unexpected resolved path: %s", resolved)
	}
}

func TestClassifyRootItselfIsVirtual(t *testing.T) {
	c := New("/home/user/fs", "/home/user")

	class, _ := c.Classify("/home/user/fs")
	if class != Virtual {
		t.Fatalf("expected Virtual for the root path itself, got %v", class)
	}
}

func TestClassifyOutsideRootIsPassthrough(t *testing.T) {
	c := New("/home/user/fs", "/home/user")

	class, resolved := c.Classify("/etc/hostname")
	if class != Passthrough {
		t.Fatalf("expected Passthrough, got %v", class)
	}
	if resolved != "/etc/hostname" {
		t.Fatalf("unexpected resolved path: %s", resolved)
	}
}

func TestClassifySiblingPrefixIsNotVirtual(t *testing.T) {
	c := New("/home/user/fs", "/home/user")

	class, _ := c.Classify("/home/user/fs-backup/a.txt")
	if class != Passthrough {
		t.Fatalf("expected Passthrough for a sibling directory sharing a path prefix, got %v", class)
	}
}

func TestClassifyRelativePathResolvesAgainstCwd(t *testing.T) {
	c := New("/home/user/fs", "/home/user/fs")

	class, resolved := c.Classify("a.txt")
	if class != Virtual {
		t.Fatalf("expected Virtual, got %v", class)
	}
	if resolved != "/home/user/fs/a.txt" {
		t.Fatalf("unexpected resolved path: %s", resolved)
	}
}

func TestChdirUpdatesRelativeResolution(t *testing.T) {
	c := New("/home/user/fs", "/home/user")

	c.Chdir("fs")
	if c.Cwd() != "/home/user/fs" {
		t.Fatalf("unexpected cwd after chdir: %s", c.Cwd())
	}

	class, resolved := c.Classify("a.txt")
	if class != Virtual {
		t.Fatalf("expected Virtual after chdir into the virtual root, got %v", class)
	}
	if resolved != "/home/user/fs/a.txt" {
		t.Fatalf("unexpected resolved path: %s", resolved)
	}
}
