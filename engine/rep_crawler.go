package engine

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xinGGG/raiblocks/types"
)

// peersPerCrawl bounds how many peers get probed per Crawl pass, so a
// large directory doesn't turn every crawl into a broadcast.
const peersPerCrawl = 12

// repCrawlInterval is the minimum spacing between probes sent to the
// same peer, so a peer that's slow to reply isn't re-probed every pass.
const repCrawlInterval = 7 * time.Second

// ConfirmReqSender is the unicast transport surface RepCrawler drives;
// out of scope for this package (no socket I/O is implemented here).
type ConfirmReqSender interface {
	SendConfirmReq(endpoint types.Endpoint, block types.Block) error
}

// RepCrawler discovers which peers host which representatives: it sends
// a unicast confirm_req for a block it already has and watches whether
// the peer replies with a vote. active tracks the block hashes currently
// being used as crawl bait, so the same probe isn't issued twice
// concurrently for one hash.
type RepCrawler struct {
	mu     sync.Mutex
	active map[types.Hash]struct{}

	peers  *PeerDirectory
	sender ConfirmReqSender

	log logrus.FieldLogger
}

// NewRepCrawler constructs a RepCrawler.
func NewRepCrawler(peers *PeerDirectory, sender ConfirmReqSender, log logrus.FieldLogger) *RepCrawler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RepCrawler{
		active: make(map[types.Hash]struct{}),
		peers:  peers,
		sender: sender,
		log:    log.WithField("component", "rep_crawler"),
	}
}

// Add marks hash as active crawl bait.
func (c *RepCrawler) Add(hash types.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active[hash] = struct{}{}
}

// Remove clears hash from the active set, once its election has
// resolved and it is no longer useful bait.
func (c *RepCrawler) Remove(hash types.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, hash)
}

// Exists reports whether hash is currently active crawl bait.
func (c *RepCrawler) Exists(hash types.Hash) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[hash]
	return ok
}

// Crawl probes up to peersPerCrawl peers that haven't been asked
// recently, sending a unicast confirm_req for bait. Replies are
// expected to arrive as ordinary votes through VoteProcessor and get
// attributed to a representative by the caller via PeerDirectory's
// RepResponse once the vote's Account is known.
func (c *RepCrawler) Crawl(now time.Time, bait types.Block) int {
	if c.sender == nil || bait == nil {
		return 0
	}

	candidates := c.peers.ListVector()
	sent := 0
	for _, info := range candidates {
		if sent >= peersPerCrawl {
			break
		}
		if !info.LastRepRequest.IsZero() && now.Sub(info.LastRepRequest) < repCrawlInterval {
			continue
		}
		if err := c.sender.SendConfirmReq(info.Endpoint, bait); err != nil {
			c.log.WithField("peer", info.Endpoint.String()).WithError(err).Debug("rep crawl probe failed")
			continue
		}
		c.peers.RepRequest(info.Endpoint, now)
		sent++
	}
	return sent
}
