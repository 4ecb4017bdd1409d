package engine

import (
	"crypto/rand"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/xinGGG/raiblocks/metrics"
	"github.com/xinGGG/raiblocks/musig"
	"github.com/xinGGG/raiblocks/types"
)

// Errors
var (
	ErrPeerNotAllowed     = errors.New("peer rejected: per-IP or legacy-peer cap exceeded")
	ErrSynCookieRateLimit = errors.New("syn cookie issuance rate-limited for this IP")
	ErrSynCookieExists    = errors.New("endpoint already has an outstanding syn cookie query")
	ErrSynCookieUnknown   = errors.New("no outstanding syn cookie for this endpoint")
	ErrSynCookieInvalid   = errors.New("syn cookie signature does not verify")
)

// PeerInfo is one entry in PeerDirectory, mirroring the node's
// peer_information: an endpoint plus everything learned about it.
type PeerInfo struct {
	Endpoint           types.Endpoint
	LastContact        time.Time
	LastAttempt        time.Time
	LastRepRequest     time.Time
	LastRepResponse    time.Time
	RepWeight          types.Amount
	ProbableRepAccount types.Account
	HasProbableRep     bool
	NodeID             types.Account
	HasNodeID          bool
}

type synCookieInfo struct {
	cookie    types.Hash
	createdAt time.Time
}

// PeerDirectory is the multi-indexed peer registry: a primary map keyed
// by endpoint, with derived views by last-contact order, by rep weight,
// and by IP for the per-IP caps. A new endpoint is gated by a SYN-cookie
// handshake: it must sign and return a nonce under its node_id before
// being admitted past not_a_peer status.
type PeerDirectory struct {
	mu          sync.Mutex
	peers       map[types.Endpoint]*PeerInfo
	legacyPeers int // peers contacted but never completing a node_id handshake

	synMu       sync.Mutex
	synCookies  map[types.Endpoint]synCookieInfo
	synLimiters map[[16]byte]*rate.Limiter

	cfg  *NodeConfig
	self types.Endpoint

	metricsReg *metrics.Registry

	log logrus.FieldLogger
}

// NewPeerDirectory constructs a PeerDirectory. self is excluded from
// insertion (not_a_peer in the teacher's vocabulary).
func NewPeerDirectory(cfg *NodeConfig, self types.Endpoint, log logrus.FieldLogger) *PeerDirectory {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &PeerDirectory{
		peers:       make(map[types.Endpoint]*PeerInfo),
		synCookies:  make(map[types.Endpoint]synCookieInfo),
		synLimiters: make(map[[16]byte]*rate.Limiter),
		cfg:         cfg,
		self:        self,
		log:         log.WithField("component", "peer_directory"),
	}
}

// SetMetrics attaches a metrics registry the peers-connected gauge is
// reported against.
func (d *PeerDirectory) SetMetrics(reg *metrics.Registry) {
	d.metricsReg = reg
}

// NotAPeer reports whether endpoint is ineligible for tracking: our own
// address, or the zero endpoint.
func (d *PeerDirectory) NotAPeer(endpoint types.Endpoint) bool {
	return endpoint == d.self || endpoint == (types.Endpoint{})
}

// Contacted records that endpoint reached out to us. Returns true if
// this is a new, unknown endpoint — the caller should begin a node_id
// handshake before fully trusting it.
func (d *PeerDirectory) Contacted(endpoint types.Endpoint, now time.Time) bool {
	if d.NotAPeer(endpoint) {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if info, ok := d.peers[endpoint]; ok {
		info.LastContact = now
		return false
	}
	return true
}

// KnownPeer reports whether endpoint is already tracked.
func (d *PeerDirectory) KnownPeer(endpoint types.Endpoint) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.peers[endpoint]
	return ok
}

// Insert admits endpoint into the directory, enforcing the per-IP and
// legacy-peer caps. Returns false if a cap rejects the peer.
func (d *PeerDirectory) Insert(endpoint types.Endpoint, now time.Time, nodeID *types.Account) bool {
	if d.NotAPeer(endpoint) {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.peers[endpoint]; ok {
		existing.LastContact = now
		if nodeID != nil {
			if !existing.HasNodeID {
				d.legacyPeers--
			}
			existing.NodeID = *nodeID
			existing.HasNodeID = true
		}
		return true
	}

	ip := endpoint.IPAddr()
	perIPCount := 0
	for e := range d.peers {
		if e.IPAddr().Equal(ip) {
			perIPCount++
		}
	}
	if perIPCount >= d.cfg.MaxPeersPerIP {
		return false
	}
	if nodeID == nil {
		legacyPerIP := 0
		for e, info := range d.peers {
			if e.IPAddr().Equal(ip) && !info.HasNodeID {
				legacyPerIP++
			}
		}
		if legacyPerIP >= d.cfg.MaxLegacyPeersPerIP || d.legacyPeers >= d.cfg.MaxLegacyPeers {
			return false
		}
	}

	info := &PeerInfo{Endpoint: endpoint, LastContact: now, LastAttempt: now}
	if nodeID != nil {
		info.NodeID = *nodeID
		info.HasNodeID = true
	} else {
		d.legacyPeers++
	}
	d.peers[endpoint] = info
	d.metricsReg.SetPeersConnected(len(d.peers))
	return true
}

// RandomSet returns up to n endpoints chosen at random, used to fill
// keepalive gossip slots.
func (d *PeerDirectory) RandomSet(n int) []types.Endpoint {
	d.mu.Lock()
	all := make([]types.Endpoint, 0, len(d.peers))
	for e := range d.peers {
		all = append(all, e)
	}
	d.mu.Unlock()

	shuffle(all)
	if n > len(all) {
		n = len(all)
	}
	return all[:n]
}

// shuffle performs a Fisher-Yates shuffle using crypto/rand, avoiding
// math/rand's global lock and any dependence on a process-wide seed.
func shuffle(s []types.Endpoint) {
	for i := len(s) - 1; i > 0; i-- {
		j := randIntn(i + 1)
		s[i], s[j] = s[j], s[i]
	}
}

func randIntn(n int) int {
	if n <= 1 {
		return 0
	}
	var b [8]byte
	_, _ = rand.Read(b[:])
	v := uint64(0)
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return int(v % uint64(n))
}

// Representatives returns the top n known peers by rep weight,
// descending.
func (d *PeerDirectory) Representatives(n int) []PeerInfo {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]PeerInfo, 0, len(d.peers))
	for _, info := range d.peers {
		if info.HasProbableRep {
			out = append(out, *info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RepWeight.Cmp(out[j].RepWeight) > 0 })
	if n < len(out) {
		out = out[:n]
	}
	return out
}

// ListVector returns a snapshot of every tracked peer.
func (d *PeerDirectory) ListVector() []PeerInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]PeerInfo, 0, len(d.peers))
	for _, info := range d.peers {
		out = append(out, *info)
	}
	return out
}

// TopRepresentatives adapts Representatives to musig.RepSource, so a
// PeerDirectory can seed a RepXorSolver's weight-sorted candidate list
// directly.
func (d *PeerDirectory) TopRepresentatives(n int) []musig.RepWeight {
	peers := d.Representatives(n)
	out := make([]musig.RepWeight, len(peers))
	for i, p := range peers {
		out[i] = musig.RepWeight{Account: p.ProbableRepAccount, Weight: p.RepWeight}
	}
	return out
}

// EndpointsForAccount returns the endpoints we believe host account as
// their representative, used by VoteStapleRequester to locate reps to
// recruit for a staple.
func (d *PeerDirectory) EndpointsForAccount(account types.Account) []types.Endpoint {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []types.Endpoint
	for e, info := range d.peers {
		if info.HasProbableRep && types.AccountEqual(info.ProbableRepAccount, account) {
			out = append(out, e)
		}
	}
	return out
}

// RepResponse records that endpoint's representative acknowledged a
// confirm_req probe with weight. Returns true if this is the first time
// this endpoint has been associated with a representative account.
func (d *PeerDirectory) RepResponse(endpoint types.Endpoint, account types.Account, weight types.Amount, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	info, ok := d.peers[endpoint]
	if !ok {
		return false
	}
	firstTime := !info.HasProbableRep
	info.ProbableRepAccount = account
	info.HasProbableRep = true
	info.RepWeight = weight
	info.LastRepResponse = now
	return firstTime
}

// RepRequest records that we just probed endpoint for its representative
// status.
func (d *PeerDirectory) RepRequest(endpoint types.Endpoint, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if info, ok := d.peers[endpoint]; ok {
		info.LastRepRequest = now
	}
}

// PurgeStale removes every peer whose last contact predates the
// keepalive cutoff and returns what was purged.
func (d *PeerDirectory) PurgeStale(now time.Time) []PeerInfo {
	d.mu.Lock()
	defer d.mu.Unlock()

	var purged []PeerInfo
	for e, info := range d.peers {
		if now.Sub(info.LastContact) >= d.cfg.KeepaliveCutoff {
			purged = append(purged, *info)
			delete(d.peers, e)
			if !info.HasNodeID {
				d.legacyPeers--
			}
		}
	}
	if len(purged) > 0 {
		d.metricsReg.SetPeersConnected(len(d.peers))
	}
	return purged
}

// Size returns the number of tracked peers.
func (d *PeerDirectory) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.peers)
}

// SizeSqrt returns ceil(sqrt(size)), the node's rebroadcast fanout base.
func (d *PeerDirectory) SizeSqrt() int {
	return int(math.Ceil(math.Sqrt(float64(d.Size()))))
}

// TotalWeight sums RepWeight across every peer believed to be a
// representative.
func (d *PeerDirectory) TotalWeight() types.Amount {
	d.mu.Lock()
	defer d.mu.Unlock()
	total := types.ZeroAmount()
	for _, info := range d.peers {
		if info.HasProbableRep {
			total = total.Add(info.RepWeight)
		}
	}
	return total
}

// AssignSynCookie issues a fresh 256-bit nonce to endpoint for the
// node_id handshake, rate-limited per IP so a single address cannot
// exhaust the cookie store. Returns ErrSynCookieRateLimit or
// ErrSynCookieExists if a cookie should not be (re)issued.
func (d *PeerDirectory) AssignSynCookie(endpoint types.Endpoint, now time.Time) (types.Hash, error) {
	d.synMu.Lock()
	defer d.synMu.Unlock()

	if _, ok := d.synCookies[endpoint]; ok {
		return types.Hash{}, ErrSynCookieExists
	}

	limiter, ok := d.synLimiters[endpoint.IP]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(2), 8) // 2/s sustained, burst of 8 per IP
		d.synLimiters[endpoint.IP] = limiter
	}
	if !limiter.AllowN(now, 1) {
		return types.Hash{}, ErrSynCookieRateLimit
	}

	var raw [32]byte
	_, _ = rand.Read(raw[:])
	cookie := types.MustNewHash(raw[:])
	d.synCookies[endpoint] = synCookieInfo{cookie: cookie, createdAt: now}
	return cookie, nil
}

// ValidateSynCookie checks signature against the outstanding cookie for
// endpoint under account, consuming the cookie on success (valid or
// not) so a peer gets exactly one attempt per issuance.
func (d *PeerDirectory) ValidateSynCookie(endpoint types.Endpoint, account types.Account, signature types.Signature) error {
	d.synMu.Lock()
	info, ok := d.synCookies[endpoint]
	if ok {
		delete(d.synCookies, endpoint)
	}
	d.synMu.Unlock()

	if !ok {
		return ErrSynCookieUnknown
	}
	if !types.VerifySignature(account, info.cookie.Bytes(), signature) {
		return ErrSynCookieInvalid
	}
	return nil
}

// PurgeSynCookies drops outstanding cookies issued before the syn cookie
// cutoff, so an endpoint that never completes the handshake can retry.
func (d *PeerDirectory) PurgeSynCookies(now time.Time, cutoff time.Duration) {
	d.synMu.Lock()
	defer d.synMu.Unlock()
	for e, info := range d.synCookies {
		if now.Sub(info.createdAt) >= cutoff {
			delete(d.synCookies, e)
		}
	}
}
