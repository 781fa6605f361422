package metrics

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type fakeCounts struct {
	counts *Counts
	err    error
}

func (f *fakeCounts) Counts(ctx context.Context) (*Counts, error) {
	return f.counts, f.err
}

func TestCollectorCollect(t *testing.T) {
	m := New()
	dbPath := filepath.Join(t.TempDir(), "crm.db")
	if err := os.WriteFile(dbPath, make([]byte, 4096), 0600); err != nil {
		t.Fatal(err)
	}

	provider := &fakeCounts{counts: &Counts{
		Contacts:  12,
		Campaigns: map[string]int{"DRAFT": 3, "SENT": 1},
	}}
	c := NewCollector(m, provider, dbPath, time.Minute, nil)
	c.Collect(context.Background())

	if got := gaugeValue(t, m.Contacts); got != 12 {
		t.Errorf("Contacts = %v, want 12", got)
	}
	if got := gaugeValue(t, m.Campaigns.WithLabelValues("DRAFT")); got != 3 {
		t.Errorf("Campaigns{DRAFT} = %v, want 3", got)
	}
	if got := gaugeValue(t, m.StorageUsedBytes); got != 4096 {
		t.Errorf("StorageUsedBytes = %v, want 4096", got)
	}
	if got := gaugeValue(t, m.Goroutines); got <= 0 {
		t.Errorf("Goroutines = %v, want > 0", got)
	}

	// A failing provider leaves the last values in place.
	provider.err = errors.New("database is locked")
	provider.counts = nil
	c.Collect(context.Background())
	if got := gaugeValue(t, m.Contacts); got != 12 {
		t.Errorf("Contacts after error = %v, want 12", got)
	}
}

func TestCollectorStartStop(t *testing.T) {
	m := New()
	provider := &fakeCounts{counts: &Counts{Contacts: 1}}
	c := NewCollector(m, provider, "", 10*time.Millisecond, nil)

	c.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	c.Stop()

	if got := gaugeValue(t, m.Contacts); got != 1 {
		t.Errorf("Contacts = %v, want 1", got)
	}
}
