package block

import "testing"

func TestPool_New_PanicsOnTooSmall(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("New(1): expected panic, got none")
		}
	}()
	New(1)
}

func TestPool_AcquireWrite_FillsAndRejects(t *testing.T) {
	p := New(3)
	var acquired []int
	for {
		i, ok := p.AcquireWrite()
		if !ok {
			break
		}
		p.CommitWrite(i, MoveAline)
		acquired = append(acquired, i)
	}
	if len(acquired) != 3 {
		t.Errorf("AcquireWrite fill count: expected 3, got %d", len(acquired))
	}
	if p.Available() != 0 {
		t.Errorf("Available after fill: expected 0, got %d", p.Available())
	}
	if _, ok := p.AcquireWrite(); ok {
		t.Errorf("AcquireWrite on full pool: expected failure, got success")
	}
}

func TestPool_LineIndexMonotonic(t *testing.T) {
	p := New(4)
	i1, _ := p.AcquireWrite()
	i2, _ := p.AcquireWrite()
	if p.At(i2).LineIndex <= p.At(i1).LineIndex {
		t.Errorf("LineIndex not monotonic: first=%d second=%d", p.At(i1).LineIndex, p.At(i2).LineIndex)
	}
}

func TestPool_AcquireRun_Idempotent(t *testing.T) {
	p := New(3)
	i, _ := p.AcquireWrite()
	p.CommitWrite(i, MoveAline)

	r1, ok := p.AcquireRun()
	if !ok || r1 != i {
		t.Fatalf("AcquireRun: expected (%d, true), got (%d, %v)", i, r1, ok)
	}
	if p.At(i).State() != Running {
		t.Errorf("state after AcquireRun: expected RUNNING, got %v", p.At(i).State())
	}

	r2, ok := p.AcquireRun()
	if !ok || r2 != i {
		t.Errorf("re-entrant AcquireRun: expected (%d, true), got (%d, %v)", i, r2, ok)
	}
}

func TestPool_AcquireRun_EmptyFails(t *testing.T) {
	p := New(3)
	if _, ok := p.AcquireRun(); ok {
		t.Errorf("AcquireRun on empty pool: expected failure, got success")
	}
}

func TestPool_FreeRun_PromotesNextHead(t *testing.T) {
	p := New(3)
	i1, _ := p.AcquireWrite()
	p.CommitWrite(i1, MoveAline)
	i2, _ := p.AcquireWrite()
	p.CommitWrite(i2, MoveAline)

	if _, ok := p.AcquireRun(); !ok {
		t.Fatalf("AcquireRun: expected success")
	}
	p.FreeRun()

	if p.At(i2).State() != Pending {
		t.Errorf("state of next head after FreeRun: expected PENDING, got %v", p.At(i2).State())
	}
	if p.Available() != 2 {
		t.Errorf("Available after FreeRun: expected 2, got %d", p.Available())
	}
}

func TestPool_Last_WalksToNewestQueued(t *testing.T) {
	p := New(5)
	var last int
	for i := 0; i < 3; i++ {
		idx, _ := p.AcquireWrite()
		p.CommitWrite(idx, MoveAline)
		last = idx
	}
	if got := p.Last(); got != last {
		t.Errorf("Last: expected %d, got %d", last, got)
	}
}

func TestPool_Flush_ResetsEverything(t *testing.T) {
	p := New(4)
	for i := 0; i < 3; i++ {
		idx, _ := p.AcquireWrite()
		p.CommitWrite(idx, MoveAline)
	}
	p.Flush()
	if p.Available() != 4 {
		t.Errorf("Available after Flush: expected 4, got %d", p.Available())
	}
	if p.First() != -1 {
		t.Errorf("First after Flush: expected -1, got %d", p.First())
	}
}

func TestState_String(t *testing.T) {
	cases := map[State]string{Empty: "EMPTY", Loading: "LOADING", Queued: "QUEUED", Pending: "PENDING", Running: "RUNNING"}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String(): expected %q, got %q", s, want, got)
		}
	}
}
