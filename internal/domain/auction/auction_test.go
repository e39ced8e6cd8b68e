package auction

import (
	"testing"
	"time"
)

func intPtr(v int) *int { return &v }

func TestDedup_TimePriceAmountOnly(t *testing.T) {
	ts := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	sales := []Sale{
		{ItemID: "a", Amount: 1, Price: 100, Time: ts, Quality: intPtr(1)},
		{ItemID: "b", Amount: 1, Price: 100, Time: ts, Quality: intPtr(5), Potential: intPtr(3)},
		{ItemID: "a", Amount: 2, Price: 100, Time: ts},
		{ItemID: "a", Amount: 1, Price: 101, Time: ts},
		{ItemID: "a", Amount: 1, Price: 100, Time: ts.Add(time.Millisecond)},
	}

	got := Dedup(sales)
	if len(got) != 4 {
		t.Fatalf("got %d sales, want 4", len(got))
	}
	if got[0].ItemID != "a" || *got[0].Quality != 1 {
		t.Errorf("first occurrence must survive, got %+v", got[0])
	}
	if !Same(&sales[0], &sales[1]) {
		t.Error("rows differing only in item id and additional fields must be equal")
	}
	if Same(&sales[0], &sales[2]) {
		t.Error("rows with different amount must differ")
	}
}

func TestDedup_SameInstantDifferentZone(t *testing.T) {
	utc := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	local := utc.In(time.FixedZone("UTC+3", 3*3600))
	got := Dedup([]Sale{{Price: 1, Amount: 1, Time: utc}, {Price: 1, Amount: 1, Time: local}})
	if len(got) != 1 {
		t.Errorf("same instant in different zones must dedup, got %d", len(got))
	}
}

func TestSortNewestFirst(t *testing.T) {
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	sales := []Sale{
		{Price: 1, Time: base},
		{Price: 3, Time: base.Add(2 * time.Hour)},
		{Price: 2, Time: base.Add(time.Hour)},
	}
	SortNewestFirst(sales)
	for i, want := range []int64{3, 2, 1} {
		if sales[i].Price != want {
			t.Errorf("position %d: got price %d, want %d", i, sales[i].Price, want)
		}
	}
}

func TestDecodeHistory(t *testing.T) {
	body := []byte(`{"total":2,"prices":[
		{"amount":1,"price":500,"time":"2026-01-02T03:04:05Z","additional":{"qlt":2,"ptn":7,"stats_random":0.5}},
		{"amount":3,"price":90,"time":"2026-01-02T03:04:06Z"}
	]}`)

	page, err := DecodeHistory("y1q9", body)
	if err != nil {
		t.Fatalf("DecodeHistory: %v", err)
	}
	if page.Total != 2 || len(page.Sales) != 2 {
		t.Fatalf("got total %d, %d sales", page.Total, len(page.Sales))
	}
	s := page.Sales[0]
	if s.ItemID != "y1q9" || s.Price != 500 || *s.Quality != 2 || *s.Potential != 7 || *s.Stats != 0.5 {
		t.Errorf("unexpected sale %+v", s)
	}
	if page.Sales[1].Quality != nil {
		t.Error("missing additional must leave quality nil")
	}
}

func TestDecodeHistory_EmptyAndMalformed(t *testing.T) {
	page, err := DecodeHistory("x", nil)
	if err != nil || len(page.Sales) != 0 {
		t.Errorf("empty body: got %+v, %v", page, err)
	}
	if _, err := DecodeHistory("x", []byte(`{"total":`)); err == nil {
		t.Error("expected error for malformed body")
	}
}

func TestDecodeLots(t *testing.T) {
	body := []byte(`{"total":1,"lots":[{"amount":4,"startPrice":10,"currentPrice":20,"buyoutPrice":30,
		"startTime":"2026-01-01T00:00:00Z","endTime":"2026-01-02T00:00:00Z","additional":{"qlt":1}}]}`)

	page, err := DecodeLots("abc", body)
	if err != nil {
		t.Fatalf("DecodeLots: %v", err)
	}
	if len(page.Lots) != 1 {
		t.Fatalf("got %d lots", len(page.Lots))
	}
	l := page.Lots[0]
	if l.ItemID != "abc" || l.BuyoutPrice != 30 || *l.Quality != 1 || l.Potential != nil {
		t.Errorf("unexpected lot %+v", l)
	}
}

func TestDecodeClan(t *testing.T) {
	info, ok, err := DecodeClan([]byte(`{"id":"c1","name":"Stalkers","tag":"STK","memberCount":12}`))
	if err != nil || !ok {
		t.Fatalf("DecodeClan: ok=%v err=%v", ok, err)
	}
	if info.Tag != "STK" || info.MemberCount != 12 {
		t.Errorf("unexpected info %+v", info)
	}
	if _, ok, _ := DecodeClan(nil); ok {
		t.Error("empty body must report ok=false")
	}
}
