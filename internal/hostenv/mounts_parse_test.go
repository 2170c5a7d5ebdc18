package hostenv

import "testing"

func TestDetectReadOnlyMountinfoLongestMatchWins(t *testing.T) {
	t.Parallel()

	content := `36 25 0:32 / / rw,relatime - overlay overlay rw
40 36 0:45 / /srv ro,relatime shared:1 - ext4 /dev/sda rw
41 40 0:46 / /srv/mirror rw,relatime - ext4 /dev/sdb rw
`
	mounts := parseMountinfo(content)
	if len(mounts) != 3 {
		t.Fatalf("expected 3 mounts, got %d", len(mounts))
	}

	tests := map[string]bool{
		"/tmp/mirror":         false,
		"/srv/other":          true,
		"/srv/mirror/GitHub":  false,
		"/srv/mirror":         false,
		"/srvx/not-under-srv": false,
	}
	for path, want := range tests {
		if got := detectReadOnly(path, mounts); got != want {
			t.Fatalf("detectReadOnly(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestDetectReadOnlySuperOptions(t *testing.T) {
	t.Parallel()

	mounts := parseMountinfo("50 1 0:50 / /media/cd rw,nosuid - iso9660 /dev/sr0 ro\n")
	if !detectReadOnly("/media/cd/files", mounts) {
		t.Fatalf("expected superblock ro to count")
	}
}

func TestDetectReadOnlyProcMounts(t *testing.T) {
	t.Parallel()

	content := `/dev/sda1 / ext4 rw,relatime 0 0
/dev/sda2 /mnt/archive ext4 ro,relatime 0 0
`
	mounts := parseProcMounts(content)
	if len(mounts) != 2 {
		t.Fatalf("expected 2 mounts, got %d", len(mounts))
	}
	if !detectReadOnly("/mnt/archive/GitHubReleases", mounts) {
		t.Fatalf("expected /mnt/archive to be read-only")
	}
	if detectReadOnly("/home/user", mounts) {
		t.Fatalf("expected /home/user to be writable")
	}
}

func TestUnescapeMountPath(t *testing.T) {
	t.Parallel()

	mounts := parseMountinfo(`1 2 3:4 / /path\040with\040space ro,relatime - ext4 /dev/sda rw` + "\n")
	if len(mounts) != 1 {
		t.Fatalf("expected 1 mount, got %d", len(mounts))
	}
	if got := mounts[0].mountPoint; got != "/path with space" {
		t.Fatalf("mountPoint unescape: got %q", got)
	}
	if !detectReadOnly("/path with space/mirror", mounts) {
		t.Fatalf("expected escaped mount to match")
	}
}

func TestDetectReadOnlyEmptyInput(t *testing.T) {
	t.Parallel()

	if detectReadOnly("/tmp", nil) {
		t.Fatalf("expected false without mounts")
	}
	if detectReadOnly("/tmp", parseMountinfo("garbage")) {
		t.Fatalf("expected false for garbage input")
	}
}

func TestCheckWritableTempDir(t *testing.T) {
	t.Parallel()

	if err := CheckWritable(t.TempDir()); err != nil {
		t.Fatalf("temp dir reported read-only: %v", err)
	}
}
