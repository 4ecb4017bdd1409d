package engine

import (
	"testing"
	"time"

	"github.com/xinGGG/raiblocks/types"
)

func TestOnlineRepsObserveRaisesTotalOnce(t *testing.T) {
	cfg := DefaultNodeConfig()
	rep, _ := testAccount(t)
	online := NewOnlineReps(cfg, nil)

	now := time.Now()
	online.Observe(rep, types.NewAmountFromUint64(10), now)
	if online.OnlineStakeTotal().Cmp(types.NewAmountFromUint64(10)) != 0 {
		t.Fatalf("expected total 10 after first observation, got %s", online.OnlineStakeTotal())
	}

	// A second observation within the window should refresh last-seen
	// but must not add the weight again.
	online.Observe(rep, types.NewAmountFromUint64(10), now.Add(time.Second))
	if online.OnlineStakeTotal().Cmp(types.NewAmountFromUint64(10)) != 0 {
		t.Fatalf("repeated observation within window must not double-count, got %s", online.OnlineStakeTotal())
	}
}

func TestOnlineRepsTrimDropsSilentAccounts(t *testing.T) {
	cfg := DefaultNodeConfig()
	cfg.OnlineWeightWindow = time.Minute
	rep, _ := testAccount(t)
	online := NewOnlineReps(cfg, nil)

	base := time.Now()
	online.Observe(rep, types.NewAmountFromUint64(50), base)

	weights := map[types.Account]types.Amount{rep: types.NewAmountFromUint64(50)}
	online.Trim(base.Add(30*time.Second), func(a types.Account) types.Amount { return weights[a] })
	if online.OnlineStakeTotal().Cmp(types.NewAmountFromUint64(50)) != 0 {
		t.Fatalf("account within window should survive Trim, got %s", online.OnlineStakeTotal())
	}

	online.Trim(base.Add(2*time.Minute), func(a types.Account) types.Amount { return weights[a] })
	if !online.OnlineStakeTotal().IsZero() {
		t.Fatalf("account silent past the window should be dropped by Trim, got %s", online.OnlineStakeTotal())
	}
}

func TestOnlineRepsWeightOfCachesLedgerLookup(t *testing.T) {
	cfg := DefaultNodeConfig()
	rep, _ := testAccount(t)
	calls := 0
	online := NewOnlineReps(cfg, func(a types.Account) types.Amount {
		calls++
		return types.NewAmountFromUint64(7)
	})

	if w := online.WeightOf(rep); w.Cmp(types.NewAmountFromUint64(7)) != 0 {
		t.Fatalf("expected weight 7, got %s", w)
	}
	online.WeightOf(rep)
	online.WeightOf(rep)
	if calls != 1 {
		t.Fatalf("expected the ledger lookup to be called once and then cached, called %d times", calls)
	}

	online.InvalidateWeight(rep)
	online.WeightOf(rep)
	if calls != 2 {
		t.Fatalf("expected InvalidateWeight to force a fresh lookup, called %d times", calls)
	}
}
