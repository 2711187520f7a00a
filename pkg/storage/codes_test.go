package storage

import (
	"testing"
	"time"
)

func TestCodesAreCaseInsensitive(t *testing.T) {
	store := newTempStore(t)
	if err := store.UpsertCode(CodeRecord{Code: "Winter2024"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.UpsertCode(CodeRecord{Code: "WINTER2024", Posted: true}); err != nil {
		t.Fatalf("upsert upper: %v", err)
	}
	all, err := store.ListCodes(true, time.Now())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 || all[0].Code != "winter2024" || !all[0].Posted {
		t.Fatalf("expected one folded code, got %+v", all)
	}
}

func TestListCodesFiltersExpired(t *testing.T) {
	store := newTempStore(t)
	now := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	recs := []CodeRecord{
		{Code: "old", Expiry: now.Add(-time.Hour), HasExpiry: true},
		{Code: "soon", Expiry: now.Add(time.Hour), HasExpiry: true},
		{Code: "later", Expiry: now.Add(48 * time.Hour), HasExpiry: true},
		{Code: "unknown"},
	}
	for _, r := range recs {
		if err := store.UpsertCode(r); err != nil {
			t.Fatalf("upsert %s: %v", r.Code, err)
		}
	}

	active, err := store.ListCodes(false, now)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	got := make([]string, 0, len(active))
	for _, r := range active {
		got = append(got, r.Code)
	}
	want := []string{"soon", "later", "unknown"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}

	all, _ := store.ListCodes(true, now)
	if len(all) != 4 {
		t.Fatalf("expected 4 codes including expired, got %d", len(all))
	}
	if !active[0].Expiry.Equal(now.Add(time.Hour)) {
		t.Fatalf("expiry round trip: %v", active[0].Expiry)
	}
}

func TestMarkCodeExpired(t *testing.T) {
	store := newTempStore(t)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	_ = store.UpsertCode(CodeRecord{Code: "noexpiry"})
	_ = store.UpsertCode(CodeRecord{Code: "past", Expiry: now.Add(-24 * time.Hour), HasExpiry: true})
	_ = store.UpsertCode(CodeRecord{Code: "future", Expiry: now.Add(24 * time.Hour), HasExpiry: true})

	cases := []struct {
		code    string
		changed bool
		want    time.Time
	}{
		{"noexpiry", true, now},
		{"past", false, now.Add(-24 * time.Hour)},
		{"future", true, now},
	}
	for _, c := range cases {
		t.Run(c.code, func(t *testing.T) {
			changed, err := store.MarkCodeExpired(c.code, now)
			if err != nil {
				t.Fatalf("mark: %v", err)
			}
			if changed != c.changed {
				t.Fatalf("changed = %v, want %v", changed, c.changed)
			}
			rec, _ := store.GetCode(c.code)
			if rec == nil || !rec.HasExpiry || !rec.Expiry.Equal(c.want) {
				t.Fatalf("expiry = %+v, want %v", rec, c.want)
			}
		})
	}
}

func TestRedemptionsAreIdempotent(t *testing.T) {
	store := newTempStore(t)
	_ = store.UpsertCode(CodeRecord{Code: "abc"})

	first, err := store.MarkRedeemed(12345, "ABC", time.Now())
	if err != nil || !first {
		t.Fatalf("first mark: %v %v", first, err)
	}
	second, err := store.MarkRedeemed(12345, "abc", time.Now())
	if err != nil || second {
		t.Fatalf("second mark must be a no-op: %v %v", second, err)
	}
	if n, _ := store.CountRedemptions("abc"); n != 1 {
		t.Fatalf("expected one redemption record, got %d", n)
	}
	ok, err := store.IsRedeemed(12345, "Abc")
	if err != nil || !ok {
		t.Fatalf("IsRedeemed = %v %v", ok, err)
	}
	if ok, _ := store.IsRedeemed(999, "abc"); ok {
		t.Fatalf("other player must not be marked")
	}
	codes, _ := store.ListRedeemedCodes(12345)
	if len(codes) != 1 || codes[0] != "abc" {
		t.Fatalf("ListRedeemedCodes = %v", codes)
	}
}

func TestDeleteCodeRemovesDependents(t *testing.T) {
	store := newTempStore(t)
	_ = store.UpsertCode(CodeRecord{Code: "gone"})
	_ = store.UpsertCodeReward("gone", "Diamonds", 300)
	_, _ = store.MarkRedeemed(1, "gone", time.Now())

	existed, err := store.DeleteCode("GONE")
	if err != nil || !existed {
		t.Fatalf("delete: %v %v", existed, err)
	}
	if rec, _ := store.GetCode("gone"); rec != nil {
		t.Fatalf("code still present")
	}
	if rewards, _ := store.ListCodeRewards("gone"); len(rewards) != 0 {
		t.Fatalf("rewards still present: %v", rewards)
	}
	if ok, _ := store.IsRedeemed(1, "gone"); ok {
		t.Fatalf("redemption still present")
	}
	if existed, _ := store.DeleteCode("gone"); existed {
		t.Fatalf("second delete should report missing")
	}
}

func TestRewards(t *testing.T) {
	store := newTempStore(t)
	_ = store.UpsertCode(CodeRecord{Code: "a"})
	_ = store.UpsertCode(CodeRecord{Code: "b"})
	_ = store.UpsertCodeReward("a", "Gold", 1000)
	_ = store.UpsertCodeReward("a", "Gold", 2000)
	_ = store.UpsertCodeReward("a", "Diamonds", 100)
	_ = store.UpsertCodeReward("b", "Gold", 10)

	rewards, err := store.ListCodeRewards("A")
	if err != nil {
		t.Fatalf("list rewards: %v", err)
	}
	if len(rewards) != 2 || rewards[0].Reward != "Diamonds" || rewards[1].Qty != 2000 {
		t.Fatalf("unexpected rewards %+v", rewards)
	}
	names, _ := store.ListRewardNames()
	if len(names) != 2 {
		t.Fatalf("expected distinct names, got %v", names)
	}
	removed, _ := store.DeleteCodeReward("a", "Gold")
	if !removed {
		t.Fatalf("expected reward removal")
	}
	if removed, _ := store.DeleteCodeReward("a", "Gold"); removed {
		t.Fatalf("second removal should report false")
	}
}

func TestSetCodeExpiryAndPosted(t *testing.T) {
	store := newTempStore(t)
	if found, _ := store.SetCodeExpiry("missing", time.Now(), true); found {
		t.Fatalf("missing code must report not found")
	}
	_ = store.UpsertCode(CodeRecord{Code: "x"})
	exp := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	if found, err := store.SetCodeExpiry("x", exp, true); err != nil || !found {
		t.Fatalf("set expiry: %v %v", found, err)
	}
	if err := store.SetCodePosted("x", true); err != nil {
		t.Fatalf("set posted: %v", err)
	}
	rec, _ := store.GetCode("x")
	if !rec.HasExpiry || !rec.Expiry.Equal(exp) || !rec.Posted {
		t.Fatalf("unexpected record %+v", rec)
	}
	_, _ = store.SetCodeExpiry("x", time.Time{}, false)
	rec, _ = store.GetCode("x")
	if rec.HasExpiry {
		t.Fatalf("expiry should be cleared")
	}
}
