package intent

import (
	"path/filepath"
	"sync"
	"testing"
)

func TestCostLedgerAppendAndReadAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cost.log")
	ledger := NewCostLedger(path)

	want := []CostRecord{
		{OwnerID: 1, ProjectID: 10, DeploymentID: 100, Tier: "SEED", Minutes: 5},
		{OwnerID: 1, ProjectID: 10, DeploymentID: 100, Tier: "SEED", Minutes: 5},
	}
	for _, rec := range want {
		if err := ledger.Append(rec); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	got, err := ledger.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("ReadAll() returned %d records, want %d", len(got), len(want))
	}
	if got[0].ProjectID != 10 || got[0].Minutes != 5 {
		t.Fatalf("unexpected record: %+v", got[0])
	}
}

func TestCostLedgerReadAllMissingFile(t *testing.T) {
	ledger := NewCostLedger(filepath.Join(t.TempDir(), "missing.log"))

	got, err := ledger.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if got != nil {
		t.Fatalf("ReadAll() = %v, want nil", got)
	}
}

func TestCostLedgerConcurrentAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cost.log")
	ledger := NewCostLedger(path)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = ledger.Append(CostRecord{OwnerID: int64(n), ProjectID: 1, DeploymentID: 1, Tier: "SEED", Minutes: 1})
		}(i)
	}
	wg.Wait()

	got, err := ledger.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(got) != 20 {
		t.Fatalf("ReadAll() returned %d records, want 20", len(got))
	}
}
