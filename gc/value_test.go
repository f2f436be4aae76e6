package gc

import (
	"math"
	"testing"
)

// ---------------------------------------------------------------------------
// Value encoding
// ---------------------------------------------------------------------------

func TestInt32Value(t *testing.T) {
	for _, n := range []int32{0, 1, -1, math.MaxInt32, math.MinInt32} {
		v := Int32Value(n)
		if !v.IsInt32() || !v.IsNumber() {
			t.Fatalf("Int32Value(%d) is not an int32", n)
		}
		if v.IsDouble() || v.IsGCThing() {
			t.Errorf("Int32Value(%d) classified as double or GC thing", n)
		}
		if got := v.Int32(); got != n {
			t.Errorf("Int32Value(%d).Int32() = %d", n, got)
		}
	}
}

func TestDoubleValue(t *testing.T) {
	for _, f := range []float64{0, -0.5, 3.25, math.Inf(1), math.Inf(-1), math.MaxFloat64} {
		v := DoubleValue(f)
		if !v.IsDouble() {
			t.Fatalf("DoubleValue(%v) is not a double", f)
		}
		if got := v.Double(); got != f {
			t.Errorf("DoubleValue(%v).Double() = %v", f, got)
		}
	}

	nan := DoubleValue(math.NaN())
	if !nan.IsDouble() || !math.IsNaN(nan.Double()) {
		t.Error("NaN should box as a double NaN")
	}
	if nan.IsObject() || nan.IsString() || nan.IsMagic() {
		t.Error("canonical NaN must not alias a tagged value")
	}
}

func TestSpecialValues(t *testing.T) {
	if !Undefined.IsUndefined() || Undefined.IsNull() {
		t.Error("Undefined misclassified")
	}
	if !Null.IsNull() || Null.IsObject() {
		t.Error("Null misclassified")
	}
	if !BooleanValue(true).Boolean() || BooleanValue(false).Boolean() {
		t.Error("BooleanValue round trip failed")
	}
	if Undefined.IsGCThing() || True.IsGCThing() {
		t.Error("special values are not GC things")
	}

	m := MagicValue(MagicGeneratorClosing)
	if !m.IsMagic() || m.Magic() != MagicGeneratorClosing {
		t.Error("MagicValue round trip failed")
	}
}

func TestCellRefPacking(t *testing.T) {
	ref := MakeCellRef(70000, 123)
	if ref.ArenaID() != 70000 {
		t.Errorf("ArenaID = %d, want 70000", ref.ArenaID())
	}
	if ref.Index() != 123 {
		t.Errorf("Index = %d, want 123", ref.Index())
	}
}

func TestGCThingValuesResolve(t *testing.T) {
	rt, comp := newTestRuntime(t, DefaultOptions())
	obj := newObject(t, comp)
	str, err := comp.NewString("hello")
	if err != nil {
		t.Fatalf("NewString: %v", err)
	}

	ov := ObjectValue(obj)
	if !ov.IsObject() || !ov.IsGCThing() || ov.IsPrimitive() {
		t.Fatal("ObjectValue misclassified")
	}
	if rt.ObjectOf(ov) != obj {
		t.Error("ObjectOf should resolve to the boxed object")
	}

	sv := StringValue(str)
	if !sv.IsString() || !sv.IsPrimitive() {
		t.Fatal("StringValue misclassified")
	}
	if rt.StringOf(sv) != str {
		t.Error("StringOf should resolve to the boxed string")
	}
	if rt.CellOf(Int32Value(3)) != nil {
		t.Error("CellOf of a number should be nil")
	}
	if ObjectOrNullValue(nil) != Null {
		t.Error("ObjectOrNullValue(nil) should be Null")
	}
}
