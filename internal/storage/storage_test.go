package storage

import (
	"strings"
	"testing"
	"time"
)

func TestObjectName(t *testing.T) {
	uploadedAt := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	t.Run("namespaces by date and keeps the extension", func(t *testing.T) {
		name := ObjectName("report.pdf", uploadedAt)
		if !strings.HasPrefix(name, "files/2026/08/31/report_") {
			t.Errorf("unexpected prefix: %s", name)
		}
		if !strings.HasSuffix(name, ".pdf") {
			t.Errorf("unexpected suffix: %s", name)
		}
	})

	t.Run("identical filenames get distinct keys", func(t *testing.T) {
		first := ObjectName("report.pdf", uploadedAt)
		second := ObjectName("report.pdf", uploadedAt)
		if first == second {
			t.Errorf("expected distinct keys, got %s twice", first)
		}
	})

	t.Run("strips directory components", func(t *testing.T) {
		name := ObjectName("../../etc/passwd", uploadedAt)
		if strings.Contains(name, "..") {
			t.Errorf("path traversal survived: %s", name)
		}
		if !strings.HasPrefix(name, "files/2026/08/31/passwd_") {
			t.Errorf("unexpected key: %s", name)
		}
	})

	t.Run("handles filenames without extension", func(t *testing.T) {
		name := ObjectName("Makefile", uploadedAt)
		if !strings.HasPrefix(name, "files/2026/08/31/Makefile_") {
			t.Errorf("unexpected key: %s", name)
		}
		if strings.HasSuffix(name, ".") {
			t.Errorf("trailing dot in key: %s", name)
		}
	})
}
