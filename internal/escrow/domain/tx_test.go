package domain

import (
	"testing"
	"time"
)

func TestCursor_RoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 30, 0, 123456789, time.UTC)
	c := Cursor{ObservedAt: at.UnixNano(), ID: "5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tp"}

	got, err := DecodeCursor(c.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ObservedAt != c.ObservedAt || got.ID != c.ID {
		t.Fatalf("want=%+v got=%+v", c, *got)
	}
}

func TestCursor_DecodeRejectsGarbage(t *testing.T) {
	cases := []string{
		"not base64 at all!!!",
		"bm8tc2VwYXJhdG9y",   // "no-separator"
		"YWJjfHNpZw",         // "abc|sig"，时间戳不是数字
	}
	for _, s := range cases {
		if _, err := DecodeCursor(s); err == nil {
			t.Fatalf("expected error for %q", s)
		}
	}
}

func TestFold_Net(t *testing.T) {
	f := &Fold{Deposits: 10000, Withdrawals: 3000, Refunds: 2000}
	if got := f.Net(); got != 5000 {
		t.Fatalf("want=5000 got=%d", got)
	}

	// 负数也要原样返回，截断与否是投影层的决定（它选择报错）
	f = &Fold{Deposits: 100, Withdrawals: 500}
	if got := f.Net(); got != -400 {
		t.Fatalf("want=-400 got=%d", got)
	}
}
