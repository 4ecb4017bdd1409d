package metrics

import "testing"

func TestNewRegistryGatherReturnsRegisteredMetrics(t *testing.T) {
	r := NewRegistry()
	r.ElectionStarted()
	r.ElectionConfirmed()
	r.VoteProcessed("vote")
	r.BlockProcessed("progress")
	r.StapleCompleted()
	r.StapleFailed("timeout")
	r.SetPeersConnected(5)
	r.SetRepsOnline(3)
	r.SetOnlineWeight(1000)

	families, err := r.Gatherer().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected registered metric families after recording activity")
	}
}

func TestNilRegistryIsNoOp(t *testing.T) {
	var r *Registry
	r.ElectionStarted()
	r.VoteProcessed("vote")
	r.BlockProcessed("progress")
	r.StapleCompleted()
	r.StapleFailed("timeout")
	r.SetPeersConnected(1)
	r.SetRepsOnline(1)
	r.SetOnlineWeight(1)

	if _, err := r.Gatherer().Gather(); err != nil {
		t.Fatalf("nil registry Gatherer() should still be usable, got error: %v", err)
	}
}
