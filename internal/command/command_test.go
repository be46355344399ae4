package command

import (
	"strings"
	"testing"
	"time"
)

func TestDecodeDefaultsAndClamp(t *testing.T) {
	c, err := Decode([]byte(`{"steering": 2.5, "throttle": -3, "time": 42}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if c.Steering != 1 || c.Throttle != -1 {
		t.Fatalf("expected clamped values, got %+v", c)
	}
	if c.Time != 42 || c.Reverse || c.Wakeup || c.Velocity != nil || c.Navigator.Route != nil {
		t.Fatalf("unexpected defaults: %+v", c)
	}
}

func TestDecodePassthroughFields(t *testing.T) {
	c, err := Decode([]byte(`{"steering":0.1,"throttle":0.2,"time":7,"navigator":{"route":"r1"},"reverse":true,"wakeup":true,"velocity":1.5}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if c.Navigator.Route == nil || *c.Navigator.Route != "r1" {
		t.Fatalf("route not decoded: %+v", c.Navigator)
	}
	if !c.Reverse || !c.Wakeup || c.Velocity == nil || *c.Velocity != 1.5 {
		t.Fatalf("flags not decoded: %+v", c)
	}
}

func TestDecodeRejects(t *testing.T) {
	cases := map[string][]byte{
		"array":    []byte(`[1,2]`),
		"empty":    []byte(``),
		"garbage":  []byte(`{"steering":`),
		"oversize": []byte(`{"x":"` + strings.Repeat("a", MaxPayload) + `"}`),
	}
	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode(b); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestCloneDoesNotAlias(t *testing.T) {
	r := "r1"
	v := 1.0
	c := Command{Navigator: Navigator{Route: &r}, Velocity: &v}
	cp := c.Clone()
	*cp.Navigator.Route = "r2"
	*cp.Velocity = 2
	if *c.Navigator.Route != "r1" || *c.Velocity != 1 {
		t.Fatalf("clone aliases original: %+v", c)
	}
}

func TestStampedOverwritesTime(t *testing.T) {
	c := Command{Steering: 0.5, Time: 10}
	s := c.Stamped(99)
	if s.Time != 99 || c.Time != 10 {
		t.Fatalf("stamp mutated original or missed copy: %d %d", c.Time, s.Time)
	}
	if !s.SameDrive(c) {
		t.Fatalf("payload changed by stamping")
	}
}

func TestAge(t *testing.T) {
	c := Command{Time: 1_000}
	if got := c.Age(101_000); got != 100*time.Millisecond {
		t.Fatalf("age = %v", got)
	}
	if got := c.Age(500); got != 0 {
		t.Fatalf("future command age = %v", got)
	}
}

func TestWatchdogTokens(t *testing.T) {
	l, err := DecodeStatus([]byte(`[1, 0, "1", "alive", true, false, "0"]`))
	if err != nil {
		t.Fatalf("DecodeStatus: %v", err)
	}
	want := []int{1, 0, 1, 1, 1, 0, 0}
	got := l.Ints()
	if len(got) != len(want) {
		t.Fatalf("len = %d", len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("token %d = %d, want %d", i, got[i], want[i])
		}
	}
	b, err := EncodeStatus(WatchdogStatusList{TokenAlive, TokenDown})
	if err != nil {
		t.Fatalf("EncodeStatus: %v", err)
	}
	if string(b) != "[1,0]" {
		t.Fatalf("encoded = %s", b)
	}
	if _, err := DecodeStatus([]byte(`["maybe"]`)); err == nil {
		t.Fatalf("expected unknown token error")
	}
}
