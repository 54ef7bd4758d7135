package integration

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/davidahmann/attest/core/ledger"
	"github.com/davidahmann/attest/internal/attesttest"
	"github.com/davidahmann/attest/internal/testutil"
)

func TestConcurrentPublishAppendsEveryEntry(t *testing.T) {
	fixture := attesttest.Signed(t)
	base := time.Date(2026, time.February, 6, 12, 0, 0, 0, time.UTC)

	const workers = 8
	var group sync.WaitGroup
	group.Add(workers)
	for i := 0; i < workers; i++ {
		publishedAt := base.Add(time.Duration(i) * time.Second)
		go func() {
			defer group.Done()
			if _, err := ledger.Publish(ledger.PublishOptions{
				Layout:     fixture.Layout,
				KeySource:  fixture.KeySource,
				SnapshotID: "snap-concurrent",
				Now:        func() time.Time { return publishedAt },
			}); err != nil {
				t.Errorf("publish: %v", err)
			}
		}()
	}
	group.Wait()

	report, err := ledger.Audit(fixture.Layout)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if !report.OK() {
		t.Fatalf("audit problems: %+v", report.Problems)
	}
	if report.Lines != workers {
		t.Fatalf("expected %d ledger lines, got %d", workers, report.Lines)
	}
	entries, err := os.ReadDir(fixture.Layout.BundlesDir())
	if err != nil {
		t.Fatalf("read bundles dir: %v", err)
	}
	if len(entries) != workers {
		t.Fatalf("expected %d distinct bundles, got %d", workers, len(entries))
	}
	if tail := testutil.MustReadFile(t, fixture.Layout.LedgerPath()); tail[len(tail)-1] != '\n' {
		t.Fatalf("ledger must end with a newline")
	}
}
