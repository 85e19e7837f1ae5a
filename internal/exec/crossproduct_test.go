package exec

import "testing"

func TestCrossProductEmitsAllPairs(t *testing.T) {
	left := newSliceOperator(singleColChunk([]int64{1, 2}))
	right := newSliceOperator(singleColChunk([]int64{10, 20, 30}))
	cp := NewCrossProduct(left, right)
	ctx := &Context{}
	if err := cp.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	count := 0
	for {
		c, err := cp.Next(ctx)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if c == nil {
			break
		}
		count += c.Size()
	}
	if count != 6 {
		t.Fatalf("expected 2*3=6 pairs, got %d", count)
	}
}

func TestCrossProductEmptyRightYieldsNothing(t *testing.T) {
	left := newSliceOperator(singleColChunk([]int64{1, 2}))
	right := newSliceOperator()
	cp := NewCrossProduct(left, right)
	ctx := &Context{}
	if err := cp.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	c, err := cp.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if c != nil {
		t.Fatal("expected no output when right side is empty")
	}
}
