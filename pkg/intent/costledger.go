package intent

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// CostRecord is one append-only line in the cost ledger file: sandbox
// minutes consumed by a single owner/project/deployment in one interval.
type CostRecord struct {
	Timestamp    time.Time `json:"timestamp"`
	OwnerID      int64     `json:"owner_id"`
	ProjectID    int64     `json:"project_id"`
	DeploymentID int64     `json:"deployment_id"`
	Tier         string    `json:"tier"`
	Minutes      int       `json:"minutes"`
}

// CostLedger appends CostRecords to a local file, guarded by an
// advisory flock so multiple control-plane replicas sharing the same
// mounted volume never interleave partial writes. Readers (a local
// reporting job, an operator's tail -f) never need the lock.
type CostLedger struct {
	path string
	mu   sync.Mutex // serializes writers within this process
}

// NewCostLedger returns a CostLedger appending to path, creating it if
// necessary.
func NewCostLedger(path string) *CostLedger {
	return &CostLedger{path: path}
}

// Append writes a single CostRecord as a JSON line, holding both an
// in-process mutex and a cross-process flock for the duration of the
// write.
func (c *CostLedger) Append(rec CostRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := os.OpenFile(c.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening cost ledger: %w", err)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("locking cost ledger: %w", err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding cost record: %w", err)
	}
	line = append(line, '\n')

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("writing cost record: %w", err)
	}
	return nil
}

// ReadAll reads every CostRecord currently in the ledger. Intended for
// operator tooling and tests, not the hot path.
func (c *CostLedger) ReadAll() ([]CostRecord, error) {
	f, err := os.Open(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening cost ledger: %w", err)
	}
	defer f.Close()

	var records []CostRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec CostRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("decoding cost record: %w", err)
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}
