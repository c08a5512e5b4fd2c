package sampler

import "testing"

func TestFlagsSetClearHas(t *testing.T) {
	var f flags
	if f.has(flagEnabled) {
		t.Fatal("expected flagEnabled clear initially")
	}
	f.set(flagEnabled)
	if !f.has(flagEnabled) {
		t.Fatal("expected flagEnabled set")
	}
	f.clear(flagEnabled)
	if f.has(flagEnabled) {
		t.Fatal("expected flagEnabled clear after clear")
	}
}

func TestFlagsSetIf(t *testing.T) {
	var f flags
	f.setIf(flagTreeMode, true)
	if !f.has(flagTreeMode) {
		t.Fatal("expected flagTreeMode set")
	}
	f.setIf(flagTreeMode, false)
	if f.has(flagTreeMode) {
		t.Fatal("expected flagTreeMode clear")
	}
}

func TestFlagsIndependentBits(t *testing.T) {
	var f flags
	f.set(flagFocusMode)
	f.set(flagIgnoreSelf)
	if !f.has(flagFocusMode) || !f.has(flagIgnoreSelf) {
		t.Fatal("expected both bits set")
	}
	f.clear(flagFocusMode)
	if f.has(flagFocusMode) {
		t.Fatal("expected flagFocusMode clear")
	}
	if !f.has(flagIgnoreSelf) {
		t.Fatal("clearing one bit must not disturb another")
	}
}

func TestFlagsTestAndSetIsReentrancyGuard(t *testing.T) {
	var f flags
	if !f.testAndSet(flagSampling) {
		t.Fatal("first testAndSet should succeed")
	}
	if f.testAndSet(flagSampling) {
		t.Fatal("second testAndSet while still set must fail")
	}
	f.clear(flagSampling)
	if !f.testAndSet(flagSampling) {
		t.Fatal("testAndSet should succeed again after clear")
	}
}
