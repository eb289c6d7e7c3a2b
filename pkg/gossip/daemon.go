package gossip

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/ringd/internal/telemetry"
	"github.com/ryandielhenn/ringd/pkg/ring"
)

// maxStaleRelays bounds how often a node forwards an event it already knew
// between two effective ring changes. Events whose origin is gone would
// otherwise circle forever.
const maxStaleRelays = 2

type relayKey struct {
	c  Category
	id ring.Identity
}

// Daemon runs the membership protocol for one node.
//
// One mutex guards the pending delta, the ring and the clock. Payloads are
// built under it and sent after releasing it.
type Daemon struct {
	id  ring.NodeID
	cfg Config
	tr  Transport
	log *zap.Logger

	mu      sync.Mutex
	self    ring.Identity
	hasSelf bool
	phase   Phase
	clock   Clock
	delta   Delta
	members *ring.Ring
	relayed map[relayKey]int

	ready        chan struct{}
	readyOnce    sync.Once
	monitor      Monitor
	heartbeating atomic.Bool

	ctx     context.Context
	cancel  context.CancelFunc
	spawnMu sync.Mutex // orders spawn against Stop's Wait
	wg      sync.WaitGroup
}

func New(id ring.NodeID, cfg Config, tr Transport, log *zap.Logger) *Daemon {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		id:      id,
		cfg:     cfg.withDefaults(),
		tr:      tr,
		log:     log.With(zap.Uint32("node", uint32(id))),
		clock:   NewClock(1),
		members: ring.New(),
		relayed: make(map[relayKey]int),
		ready:   make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (d *Daemon) ID() ring.NodeID { return d.id }

func (d *Daemon) IsRecruiter() bool { return d.id == d.cfg.RecruiterID }

// Start launches the backprop receiver and joins the group. The daemon stops
// when ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	context.AfterFunc(ctx, d.cancel)
	d.spawn(d.receiveBackprop)
	return d.Join(d.ctx)
}

// Stop cancels every background loop and waits for them to exit. The
// transport is left open for its owner to close.
func (d *Daemon) Stop() {
	d.spawnMu.Lock()
	d.cancel()
	d.spawnMu.Unlock()
	d.wg.Wait()
}

// Join bootstraps the group on the recruiter. Elsewhere it sends a join
// request to the recruiter and keeps resending it until an identity arrives.
func (d *Daemon) Join(ctx context.Context) error {
	if !d.IsRecruiter() {
		if err := d.sendJoinRequest(ctx); err != nil {
			return err
		}
		d.log.Info("join request sent", zap.Uint32("recruiter", uint32(d.cfg.RecruiterID)))
		if d.cfg.JoinRetry > 0 {
			d.spawn(d.retryJoin)
		}
		return nil
	}

	d.mu.Lock()
	if d.hasSelf {
		d.mu.Unlock()
		return nil
	}
	self := ring.Identity{ID: d.id, Incarnation: d.clock.Now()}
	d.assignLocked(self)
	d.members.Join(self)
	d.publishLocked()
	d.mu.Unlock()

	d.onJoined(self)
	return nil
}

func (d *Daemon) sendJoinRequest(ctx context.Context) error {
	if err := d.send(ctx, d.cfg.RecruiterID, ChannelBackprop, EncodeJoinRequest(d.id)); err != nil {
		return fmt.Errorf("send join request to recruiter %d: %w", d.cfg.RecruiterID, err)
	}
	return nil
}

func (d *Daemon) retryJoin() {
	t := time.NewTicker(d.cfg.JoinRetry)
	defer t.Stop()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-d.ready:
			return
		case <-t.C:
			d.log.Debug("no identity yet, resending join request")
			if err := d.sendJoinRequest(d.ctx); err != nil {
				d.log.Warn("join request retry failed", zap.Error(err))
			}
		}
	}
}

// Self blocks until this node has been assigned an identity.
func (d *Daemon) Self(ctx context.Context) (ring.Identity, error) {
	select {
	case <-d.ready:
		return d.currentSelf(), nil
	default:
	}
	select {
	case <-d.ready:
		return d.currentSelf(), nil
	case <-ctx.Done():
		return ring.Identity{}, ctx.Err()
	case <-d.ctx.Done():
		return ring.Identity{}, ErrStopped
	}
}

func (d *Daemon) currentSelf() ring.Identity {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.self
}

func (d *Daemon) Phase() Phase {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.phase
}

func (d *Daemon) Clock() ring.Timestamp {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clock.Now()
}

// PendingDelta returns a copy of the events this node is waiting to see
// come back around the ring.
func (d *Daemon) PendingDelta() Delta {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.delta.Clone()
}

// Members returns the local ring in admission order.
func (d *Daemon) Members() []ring.Entry {
	return d.members.Entries()
}

func (d *Daemon) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := Snapshot{
		PersistentID: d.id,
		Phase:        d.phase.String(),
		Clock:        d.clock.Now(),
		Pending:      d.delta.Clone(),
	}
	if d.hasSelf {
		self := d.self
		s.Self = &self
	}
	for _, e := range d.members.Entries() {
		s.Members = append(s.Members, Member{
			ID:          e.Identity.ID,
			Incarnation: e.Identity.Incarnation,
			State:       e.State.String(),
			Self:        d.hasSelf && e.Identity == d.self,
		})
	}
	if last, at := d.monitor.Last(); !at.IsZero() {
		s.LastHeartbeat, s.LastHeartbeatAt = &last, &at
	}
	return s
}

// HandleJoinRequest admits a node on the recruiter and announces the live
// ring to it. A request from a node that is already ONLINE re-announces its
// existing identity.
func (d *Daemon) HandleJoinRequest(ctx context.Context, payload []byte) error {
	joinerID, err := DecodeJoinRequest(payload)
	if err != nil {
		return err
	}
	if !d.IsRecruiter() {
		return fmt.Errorf("join request from node %d: %w", joinerID, ErrNotRecruiter)
	}
	if joinerID > MaxWireID {
		return fmt.Errorf("join request from node %d: %w", joinerID, ErrIDOutOfRange)
	}
	if joinerID == d.id {
		return fmt.Errorf("join request carries the recruiter's own id %d: %w", joinerID, ErrMalformed)
	}

	d.mu.Lock()
	if !d.hasSelf {
		d.mu.Unlock()
		return ErrNotJoined
	}
	joiner := ring.Identity{ID: joinerID, Incarnation: d.clock.Tick()}
	outcome := d.members.Join(joiner)
	record(Joined, outcome)
	if outcome == ring.Rejected {
		e, ok := d.members.Lookup(joinerID)
		if !ok || e.State != ring.StateOnline {
			d.mu.Unlock()
			d.log.Warn("join request rejected", zap.Stringer("joiner", joiner))
			return nil
		}
		joiner = e.Identity
	}
	if outcome.Changed() {
		d.ringChangedLocked()
	}
	d.delta.AddIfAbsent(Joined, joiner)
	d.delta.AddIfAbsent(Joined, d.self)
	d.publishLocked()
	d.mu.Unlock()

	if outcome == ring.Added {
		d.log.Info("admitted node", zap.Stringer("joiner", joiner))
		d.ensureHeartbeating()
	} else {
		d.log.Info("re-announcing node", zap.Stringer("joiner", joiner))
	}
	return d.backpropagate(ctx, true)
}

// SendBackpropagation sends the pending delta to the predecessor. An empty
// delta sends nothing.
func (d *Daemon) SendBackpropagation(ctx context.Context) error {
	return d.backpropagate(ctx, false)
}

// backpropagate sends the pending delta. An announcement additionally lists
// every ONLINE member in admission order so a newcomer learns the whole ring
// in the same order as the recruiter. Those extra entries are not held.
func (d *Daemon) backpropagate(ctx context.Context, announce bool) error {
	d.mu.Lock()
	if d.delta.Empty() {
		d.mu.Unlock()
		d.log.Debug("nothing to backpropagate")
		return nil
	}
	if !d.hasSelf {
		d.mu.Unlock()
		return ErrNotJoined
	}
	pred, ok := d.members.Predecessor(d.self)
	if !ok {
		d.mu.Unlock()
		return ErrNoPredecessor
	}
	d.delta.Timestamp = d.clock.Now()
	msg := d.delta.Clone()
	if announce {
		msg.Joined = announcement(d.members.Online(), msg.Joined)
	}
	payload, err := EncodeDelta(msg)
	d.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode changelist: %w", err)
	}
	return d.sendBackprop(ctx, pred, payload)
}

func announcement(online, held []ring.Identity) []ring.Identity {
	out := slices.Clone(online)
	for _, id := range held {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

func (d *Daemon) sendBackprop(ctx context.Context, to ring.Identity, payload []byte) error {
	if err := d.send(ctx, to.ID, ChannelBackprop, payload); err != nil {
		return fmt.Errorf("backpropagate to %s: %w", to, err)
	}
	telemetry.BackpropMessages.WithLabelValues("sent").Inc()
	d.log.Debug("changelist sent", zap.Stringer("to", to), zap.ByteString("payload", payload))
	return nil
}

// HandleBackpropagation merges a changelist from the successor and relays
// what is left of it, plus this node's pending events, to the predecessor.
// Join requests arriving on the same channel are handed to HandleJoinRequest.
func (d *Daemon) HandleBackpropagation(ctx context.Context, payload []byte) error {
	telemetry.BackpropMessages.WithLabelValues("received").Inc()
	if IsJoinRequest(payload) {
		return d.HandleJoinRequest(ctx, payload)
	}
	msg, err := DecodeDelta(payload)
	if err != nil {
		return fmt.Errorf("decode changelist: %w", err)
	}

	d.mu.Lock()
	d.clock.Observe(msg.Timestamp)
	res := d.applyLocked(msg)
	confirmed := RemoveConfirmed(&d.delta, &msg)
	dropped := d.dropLoopedLocked(&msg, res.stale)
	Augment(&msg, &d.delta)

	var (
		pred  ring.Identity
		out   []byte
		relay bool
	)
	if !msg.Empty() && d.hasSelf && d.phase == PhaseJoined {
		if p, ok := d.members.Predecessor(d.self); ok {
			msg.Timestamp = d.clock.Now()
			out, err = EncodeDelta(msg)
			pred, relay = p, err == nil
		}
	}
	d.publishLocked()
	d.mu.Unlock()

	if res.assigned {
		d.onJoined(res.self)
	}
	if res.changed {
		d.ensureHeartbeating()
	}
	if dropped > 0 {
		telemetry.BackpropMessages.WithLabelValues("dropped").Add(float64(dropped))
	}
	if err != nil {
		return fmt.Errorf("encode relay: %w", err)
	}
	if !relay {
		d.log.Debug("changelist absorbed",
			zap.Int("confirmed", confirmed), zap.Int("dropped", dropped))
		return nil
	}
	return d.sendBackprop(ctx, pred, out)
}

type applyResult struct {
	assigned bool
	self     ring.Identity
	changed  bool
	stale    map[relayKey]bool
}

// applyLocked applies leaves, then failures, then joins, then leaves and
// failures once more so a member learned and retired in the same message
// ends up retired.
func (d *Daemon) applyLocked(msg Delta) applyResult {
	res := applyResult{stale: make(map[relayKey]bool)}
	if !d.hasSelf {
		for _, id := range msg.Joined {
			if id.ID == d.id {
				d.assignLocked(id)
				res.assigned, res.self = true, id
				break
			}
		}
	}

	changed := make(map[relayKey]bool)
	note := func(c Category, id ring.Identity, o ring.Outcome) {
		record(c, o)
		if o.Changed() {
			changed[relayKey{c, id}] = true
			if d.hasSelf && id == d.self && c != Joined {
				d.log.Warn("peers report this node as "+c.String(), zap.Stringer("self", id))
			}
		}
	}
	retire := func(first bool) {
		for _, id := range msg.Left {
			if o := d.members.Leave(id); first || o.Changed() {
				note(Left, id, o)
			}
		}
		for _, id := range msg.Failed {
			if o := d.members.Fail(id); first || o.Changed() {
				note(Failed, id, o)
			}
		}
	}

	retire(true)
	for _, id := range msg.Joined {
		o := d.members.Join(id)
		note(Joined, id, o)
		if o == ring.Added && id.ID != d.id && d.phase == PhaseJoined {
			d.delta.AddIfAbsent(Joined, d.self)
		}
	}
	retire(false)

	for _, c := range categories {
		for _, id := range msg.Get(c) {
			if k := (relayKey{c, id}); !changed[k] {
				res.stale[k] = true
			}
		}
	}
	if len(changed) > 0 {
		res.changed = true
		d.ringChangedLocked()
	}
	return res
}

// dropLoopedLocked removes stale entries this node has already forwarded
// maxStaleRelays times since the ring last changed.
func (d *Daemon) dropLoopedLocked(msg *Delta, stale map[relayKey]bool) int {
	n := 0
	for _, c := range categories {
		for _, id := range slices.Clone(msg.Get(c)) {
			k := relayKey{c, id}
			if !stale[k] {
				continue
			}
			if d.relayed[k] >= maxStaleRelays {
				msg.Remove(c, id)
				n++
				continue
			}
			d.relayed[k]++
		}
	}
	return n
}

func (d *Daemon) ringChangedLocked() {
	clear(d.relayed)
}

func (d *Daemon) assignLocked(self ring.Identity) {
	d.self, d.hasSelf = self, true
	d.phase = PhaseJoined
}

func (d *Daemon) onJoined(self ring.Identity) {
	d.readyOnce.Do(func() { close(d.ready) })
	d.log.Info("joined group", zap.Stringer("self", self))
	d.spawn(d.receiveHeartbeats)
	d.ensureHeartbeating()
}

// SendHeartbeat sends one heartbeat to the successor.
func (d *Daemon) SendHeartbeat(ctx context.Context) error {
	d.mu.Lock()
	if !d.hasSelf {
		d.mu.Unlock()
		return ErrNotJoined
	}
	self := d.self
	succ, ok := d.members.Successor(self)
	d.mu.Unlock()
	if !ok {
		return ErrNoSuccessor
	}
	if err := d.send(ctx, succ.ID, ChannelHeartbeat, EncodeHeartbeat(self)); err != nil {
		return fmt.Errorf("heartbeat to %s: %w", succ, err)
	}
	telemetry.HeartbeatsSent.Inc()
	d.log.Debug("heartbeat sent", zap.Stringer("to", succ))
	return nil
}

// HandleHeartbeat records a heartbeat for the failure detector.
func (d *Daemon) HandleHeartbeat(payload []byte) error {
	from, err := DecodeHeartbeat(payload)
	if err != nil {
		return fmt.Errorf("decode heartbeat: %w", err)
	}
	d.monitor.Observe(from, time.Now())
	telemetry.HeartbeatsReceived.Inc()
	d.log.Debug("heartbeat received", zap.Stringer("from", from))
	return nil
}

// HandleMissedHeartbeat declares the current predecessor failed and
// backpropagates the failure.
func (d *Daemon) HandleMissedHeartbeat(ctx context.Context) error {
	d.mu.Lock()
	d.clock.Tick()
	if !d.hasSelf || d.phase != PhaseJoined {
		d.mu.Unlock()
		return ErrNotJoined
	}
	pred, ok := d.members.Predecessor(d.self)
	if !ok {
		d.mu.Unlock()
		return ErrNoPredecessor
	}
	outcome := d.members.Fail(pred)
	record(Failed, outcome)
	if outcome.Changed() {
		d.ringChangedLocked()
	}
	d.delta.AddIfAbsent(Failed, pred)
	d.publishLocked()
	d.mu.Unlock()

	telemetry.HeartbeatsMissed.Inc()
	d.log.Warn("predecessor missed heartbeat, marking failed", zap.Stringer("predecessor", pred))
	d.ensureHeartbeating()
	return d.SendBackpropagation(ctx)
}

// Leave announces a graceful departure to the predecessor and stops the
// daemon's loops. With no predecessor there is nobody to tell and Leave
// succeeds.
func (d *Daemon) Leave(ctx context.Context) error {
	if _, err := d.Self(ctx); err != nil {
		return err
	}
	d.mu.Lock()
	if d.phase != PhaseJoined {
		d.mu.Unlock()
		return ErrNotJoined
	}
	self := d.self
	record(Left, d.members.Leave(self))
	d.delta.AddIfAbsent(Left, self)
	d.phase = PhaseDeparted
	d.publishLocked()
	d.mu.Unlock()

	err := d.SendBackpropagation(ctx)
	d.cancel()
	switch {
	case errors.Is(err, ErrNoPredecessor):
		d.log.Info("left group, no peers to notify", zap.Stringer("self", self))
		return nil
	case err != nil:
		return fmt.Errorf("leave: %w", err)
	}
	d.log.Info("left group", zap.Stringer("self", self))
	return nil
}

// Kill stops the node without telling anyone. Peers find out through missed
// heartbeats.
func (d *Daemon) Kill() {
	d.mu.Lock()
	d.phase = PhaseKilled
	d.mu.Unlock()
	d.log.Info("killed")
	d.cancel()
}

func (d *Daemon) ensureHeartbeating() {
	if d.ctx.Err() != nil || d.Phase() != PhaseJoined {
		return
	}
	if !d.heartbeating.CompareAndSwap(false, true) {
		return
	}
	d.spawn(func() {
		defer d.heartbeating.Store(false)
		d.sendHeartbeats()
	})
}

// sendHeartbeats ticks until the context ends or a send fails. Having no
// successor is a normal gap and just skips the tick.
func (d *Daemon) sendHeartbeats() {
	t := time.NewTicker(d.cfg.HeartbeatInterval)
	defer t.Stop()
	for {
		err := d.SendHeartbeat(d.ctx)
		switch {
		case err == nil, errors.Is(err, ErrNoSuccessor):
		case d.ctx.Err() != nil:
			return
		default:
			d.log.Warn("heartbeat sender stopped", zap.Error(err))
			return
		}
		select {
		case <-d.ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (d *Daemon) receiveHeartbeats() {
	for {
		pred, ok := d.predecessor()
		d.monitor.Watch(pred, ok)
		payload, got, err := d.tr.Receive(d.ctx, ChannelHeartbeat, d.cfg.ReceiveTimeout)
		switch {
		case d.ctx.Err() != nil, errors.Is(err, ErrStopped):
			return
		case err != nil:
			d.log.Warn("heartbeat receive failed", zap.Error(err))
		case got:
			if err := d.HandleHeartbeat(payload); err != nil {
				d.log.Warn("bad heartbeat", zap.Error(err))
			}
		default:
			suspect, missed := d.monitor.Missed()
			if !missed {
				continue
			}
			if cur, ok := d.predecessor(); !ok || cur != suspect {
				continue
			}
			d.logErr("missed heartbeat handling", d.HandleMissedHeartbeat(d.ctx))
		}
	}
}

func (d *Daemon) receiveBackprop() {
	for {
		payload, got, err := d.tr.Receive(d.ctx, ChannelBackprop, d.cfg.ReceiveTimeout)
		switch {
		case d.ctx.Err() != nil, errors.Is(err, ErrStopped):
			return
		case err != nil:
			d.log.Warn("backprop receive failed", zap.Error(err))
		case got:
			d.logErr("backpropagation", d.HandleBackpropagation(d.ctx, payload))
		}
	}
}

func (d *Daemon) predecessor() (ring.Identity, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.hasSelf {
		return ring.Identity{}, false
	}
	return d.members.Predecessor(d.self)
}

func (d *Daemon) send(ctx context.Context, to ring.NodeID, ch Channel, payload []byte) error {
	return d.tr.Send(ctx, to, ch, payload)
}

// logErr logs topology gaps at debug level and anything else as a warning.
func (d *Daemon) logErr(op string, err error) {
	switch {
	case err == nil:
	case errors.Is(err, ErrNoPredecessor), errors.Is(err, ErrNoSuccessor), errors.Is(err, context.Canceled):
		d.log.Debug(op+" skipped", zap.Error(err))
	default:
		d.log.Warn(op+" failed", zap.Error(err))
	}
}

// spawn runs fn on a tracked goroutine. Nothing starts once the daemon is
// stopped.
func (d *Daemon) spawn(fn func()) {
	d.spawnMu.Lock()
	defer d.spawnMu.Unlock()
	if d.ctx.Err() != nil {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		fn()
	}()
}

func (d *Daemon) publishLocked() {
	counts := make(map[string]int, 3)
	for s, n := range d.members.Count() {
		counts[s.String()] = n
	}
	telemetry.SetMembers(counts)
	telemetry.LamportClock.Set(float64(d.clock.Now()))
}

func record(c Category, o ring.Outcome) {
	telemetry.MembershipUpdates.WithLabelValues(c.String(), o.String()).Inc()
}
