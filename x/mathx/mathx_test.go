package mathx

import "testing"

func TestClamp(t *testing.T) {
	if got := Clamp(5, 0, 10); got != 5 {
		t.Errorf("Clamp(5,0,10) = %d", got)
	}
	if got := Clamp(-1, 0, 10); got != 0 {
		t.Errorf("Clamp(-1,0,10) = %d", got)
	}
	if got := Clamp(11, 0, 10); got != 10 {
		t.Errorf("Clamp(11,0,10) = %d", got)
	}
}

func TestRoundDiv(t *testing.T) {
	if got := RoundDiv(uint32(7), 2); got != 4 {
		t.Errorf("RoundDiv(7,2) = %d", got)
	}
	if got := RoundDiv(uint32(6), 2); got != 3 {
		t.Errorf("RoundDiv(6,2) = %d", got)
	}
}

func TestCeilDiv(t *testing.T) {
	if got := CeilDiv(uint32(7), 2); got != 4 {
		t.Errorf("CeilDiv(7,2) = %d", got)
	}
	if got := CeilDiv(uint32(8), 2); got != 4 {
		t.Errorf("CeilDiv(8,2) = %d", got)
	}
}
