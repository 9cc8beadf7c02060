package relay

import (
	"slices"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// DefaultPresenceTTL is how long a heartbeat keeps a replica online when it
// has no live event socket. Clients beat every 30s, so three missed beats
// take a replica offline.
const DefaultPresenceTTL = 90 * time.Second

// Transition is one replica going online or offline.
type Transition struct {
	User      string
	ReplicaID string
	Online    bool
}

// Presence tracks which replicas are online, per user. A replica is online
// while it holds an event socket or has heartbeated within the ttl.
type Presence struct {
	ttl time.Duration

	mu        sync.Mutex
	users     map[string]mapset.Set[string]
	owner     map[string]string
	lastSeen  map[string]time.Time
	connected mapset.Set[string]
}

func NewPresence(ttl time.Duration) *Presence {
	if ttl <= 0 {
		ttl = DefaultPresenceTTL
	}
	return &Presence{
		ttl:       ttl,
		users:     make(map[string]mapset.Set[string]),
		owner:     make(map[string]string),
		lastSeen:  make(map[string]time.Time),
		connected: mapset.NewSet[string](),
	}
}

// Connect marks a replica online for the lifetime of its event socket.
// Returns true when the replica was offline before.
func (p *Presence) Connect(user, replicaID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.connected.Add(replicaID)
	return p.markOnline(user, replicaID)
}

// Disconnect drops the socket pin and takes the replica offline. Returns
// true when the replica was online before.
func (p *Presence) Disconnect(user, replicaID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.connected.Remove(replicaID)
	return p.markOffline(user, replicaID)
}

// Heartbeat refreshes a replica's liveness. Returns true when the replica
// was offline before.
func (p *Presence) Heartbeat(user, replicaID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.markOnline(user, replicaID)
}

// Online returns the user's online replicas, sorted.
func (p *Presence) Online(user string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	set, ok := p.users[user]
	if !ok {
		return nil
	}
	replicas := set.ToSlice()
	slices.Sort(replicas)
	return replicas
}

// OnlineAll returns every online replica across users, sorted.
func (p *Presence) OnlineAll() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var replicas []string
	for _, set := range p.users {
		replicas = append(replicas, set.ToSlice()...)
	}
	slices.Sort(replicas)
	return replicas
}

// IsOnline reports whether the replica is currently online.
func (p *Presence) IsOnline(replicaID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	user, ok := p.owner[replicaID]
	if !ok {
		return false
	}
	return p.users[user].Contains(replicaID)
}

// Sweep takes replicas whose last heartbeat is older than the ttl offline,
// skipping replicas pinned by a live socket. Returns the offline transitions.
func (p *Presence) Sweep(now time.Time) []Transition {
	p.mu.Lock()
	defer p.mu.Unlock()

	var expired []Transition
	for replicaID, seen := range p.lastSeen {
		if p.connected.Contains(replicaID) {
			continue
		}
		if now.Sub(seen) <= p.ttl {
			continue
		}
		user := p.owner[replicaID]
		if p.markOffline(user, replicaID) {
			expired = append(expired, Transition{User: user, ReplicaID: replicaID, Online: false})
		}
	}
	return expired
}

func (p *Presence) markOnline(user, replicaID string) bool {
	p.lastSeen[replicaID] = time.Now()
	p.owner[replicaID] = user

	set, ok := p.users[user]
	if !ok {
		set = mapset.NewSet[string]()
		p.users[user] = set
	}
	return set.Add(replicaID)
}

func (p *Presence) markOffline(user, replicaID string) bool {
	delete(p.lastSeen, replicaID)

	set, ok := p.users[user]
	if !ok {
		return false
	}
	if !set.Contains(replicaID) {
		return false
	}
	set.Remove(replicaID)
	return true
}
