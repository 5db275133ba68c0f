package buffer

import "testing"

func TestPushPop(t *testing.T) {
	b := New[int](4, 4, DropOldest)
	if err := b.Push(1); err != nil {
		t.Fatalf("Push() = %v, want nil", err)
	}
	if err := b.Push(2); err != nil {
		t.Fatalf("Push() = %v, want nil", err)
	}
	if got := b.Len(); got != 2 {
		t.Errorf("Len() = %d, want 2", got)
	}

	v, ok := b.Pop()
	if !ok || v != 1 {
		t.Errorf("Pop() = (%v, %v), want (1, true)", v, ok)
	}
}

func TestPopEmpty(t *testing.T) {
	b := New[int](2, 2, DropOldest)
	if _, ok := b.Pop(); ok {
		t.Error("Pop() on empty buffer should return ok=false")
	}
}

func TestDropOldestOverwritesHead(t *testing.T) {
	b := New[int](2, 2, DropOldest)
	_ = b.Push(1)
	_ = b.Push(2)
	_ = b.Push(3) // should drop 1

	if got := b.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}
	v, _ := b.Pop()
	if v != 2 {
		t.Errorf("Pop() = %d, want 2 (oldest dropped)", v)
	}
}

func TestBackpressureRejectsWhenFull(t *testing.T) {
	b := New[int](2, 2, Backpressure)
	_ = b.Push(1)
	_ = b.Push(2)

	if err := b.Push(3); err != ErrCapacityFull {
		t.Errorf("Push() = %v, want ErrCapacityFull", err)
	}
}

func TestExpandGrowsBeforeDropping(t *testing.T) {
	b := New[int](2, 8, Expand)
	_ = b.Push(1)
	_ = b.Push(2)
	_ = b.Push(3)

	if got := b.Len(); got != 3 {
		t.Errorf("Len() = %d, want 3 (expanded instead of dropping)", got)
	}
	if got := b.CurrentCapacity(); got <= 2 {
		t.Errorf("CurrentCapacity() = %d, want > 2", got)
	}
}

func TestResizeRejectsBelowCurrentLength(t *testing.T) {
	b := New[int](4, 8, DropOldest)
	_ = b.Push(1)
	_ = b.Push(2)
	_ = b.Push(3)

	if err := b.Resize(1); err != ErrCapacityTooSmall {
		t.Errorf("Resize(1) = %v, want ErrCapacityTooSmall", err)
	}
}

func TestResizeClampsToMinMax(t *testing.T) {
	b := New[int](4, 8, DropOldest)
	if err := b.Resize(100); err != nil {
		t.Fatalf("Resize() = %v, want nil", err)
	}
	if got := b.CurrentCapacity(); got != 8 {
		t.Errorf("CurrentCapacity() = %d, want 8 (clamped to max)", got)
	}
}

func TestUtilization(t *testing.T) {
	b := New[int](4, 4, DropOldest)
	_ = b.Push(1)
	_ = b.Push(2)

	if got := b.Utilization(); got != 0.5 {
		t.Errorf("Utilization() = %f, want 0.5", got)
	}
}

func TestClearPreservesCapacity(t *testing.T) {
	b := New[int](4, 4, DropOldest)
	_ = b.Push(1)
	_ = b.Push(2)
	cap := b.CurrentCapacity()
	b.Clear()

	if got := b.Len(); got != 0 {
		t.Errorf("Len() after Clear() = %d, want 0", got)
	}
	if got := b.CurrentCapacity(); got != cap {
		t.Errorf("CurrentCapacity() after Clear() = %d, want %d", got, cap)
	}
}

func TestMetricsTracksOverflowAndPeak(t *testing.T) {
	b := New[int](2, 2, DropOldest)
	_ = b.Push(1)
	_ = b.Push(2)
	_ = b.Push(3) // overflow, drops 1

	m := b.Metrics()
	if m.OverflowEvents != 1 {
		t.Errorf("OverflowEvents = %d, want 1", m.OverflowEvents)
	}
	if m.PeakSize != 2 {
		t.Errorf("PeakSize = %d, want 2", m.PeakSize)
	}
	if m.TotalWrites != 3 {
		t.Errorf("TotalWrites = %d, want 3", m.TotalWrites)
	}
}

func TestAutoResizeGrowsUnderSustainedWrites(t *testing.T) {
	b := New[int](2, 64, Expand)
	for i := 0; i < 40; i++ {
		_ = b.Push(i)
	}
	if got := b.CurrentCapacity(); got <= 2 {
		t.Errorf("CurrentCapacity() = %d, want growth under sustained writes", got)
	}
}

func TestFIFOOrderPreservedAcrossWrap(t *testing.T) {
	b := New[int](3, 3, DropOldest)
	_ = b.Push(1)
	_ = b.Push(2)
	v, _ := b.Pop()
	if v != 1 {
		t.Fatalf("Pop() = %d, want 1", v)
	}
	_ = b.Push(3)
	_ = b.Push(4) // wraps around the ring

	var got []int
	for {
		v, ok := b.Pop()
		if !ok {
			break
		}
		got = append(got, v)
	}
	want := []int{2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}
