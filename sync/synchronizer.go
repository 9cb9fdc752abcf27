// Package sync assembles per-port FramePacket streams into synchronized
// SyncPackets: one packet per "layer" holding, at most, one frame from each
// active port, chosen so that every emitted layer's frame times are as
// close together as the streams' independent capture cadences allow.
package sync

import (
	"math"
	"sort"
	"sync"

	"github.com/fieldrig/capturevolume/internal/logging"
	"github.com/fieldrig/capturevolume/packets"
)

// droppedFrameTrackWindow bounds how many recent layers are kept for the
// per-port dropped-frame rolling average.
const droppedFrameTrackWindow = 100

// Stream is the subset of stream behavior the synchronizer needs: anything
// that can hand it a channel of FramePackets.
type Stream interface {
	Subscribe(chan packets.FramePacket)
	Unsubscribe(chan packets.FramePacket)
}

type frameKey struct {
	port  int
	index int
}

// Synchronizer harvests FramePackets from one channel per port and emits
// SyncPackets that line frames up by capture time. Two heuristics decide
// whether a port's current frame belongs in this layer or the next: it is
// held back if its time is already later than the next layer's earliest
// frame, or if it sits closer to that next frame than to the other ports'
// current frame (the "2-camera" drift correction).
type Synchronizer struct {
	ports   []int
	streams map[int]Stream
	log     logging.Logger

	queues map[int]chan packets.FramePacket

	mu              sync.Mutex
	cond            *sync.Cond
	allFramePackets map[frameKey]packets.FramePacket
	portFrameCount  map[int]int
	portCurrentFrame map[int]int
	framesComplete  bool

	droppedHistory map[int][]int
	meanFrameTimes []float64

	stopOnce sync.Once
	stopCh   chan struct{}

	subMu       sync.Mutex
	subscribers []chan *packets.SyncPacket

	wg sync.WaitGroup
}

// New builds a Synchronizer over the given port -> Stream set. It
// subscribes to every stream immediately but does not start harvesting or
// synchronizing until Start is called.
func New(streams map[int]Stream, log logging.Logger) *Synchronizer {
	if log == nil {
		log = logging.Noop()
	}
	ports := make([]int, 0, len(streams))
	for p := range streams {
		ports = append(ports, p)
	}
	sort.Ints(ports)

	s := &Synchronizer{
		ports:            ports,
		streams:          streams,
		log:              log,
		queues:           make(map[int]chan packets.FramePacket, len(ports)),
		allFramePackets:  make(map[frameKey]packets.FramePacket),
		portFrameCount:   make(map[int]int, len(ports)),
		portCurrentFrame: make(map[int]int, len(ports)),
		droppedHistory:   make(map[int][]int, len(ports)),
		stopCh:           make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)

	for _, p := range ports {
		q := make(chan packets.FramePacket, 64)
		s.queues[p] = q
		streams[p].Subscribe(q)
		s.droppedHistory[p] = nil
	}

	return s
}

// SubscribeToSyncPackets registers a queue to receive every emitted
// SyncPacket, including the final nil packet signaling end of stream.
func (s *Synchronizer) SubscribeToSyncPackets(q chan *packets.SyncPacket) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.subscribers = append(s.subscribers, q)
}

// ReleaseSyncPacketQueue unregisters a previously subscribed queue.
func (s *Synchronizer) ReleaseSyncPacketQueue(q chan *packets.SyncPacket) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for i, existing := range s.subscribers {
		if existing == q {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			return
		}
	}
}

// Start launches one harvester goroutine per port and the synchronizing
// worker goroutine.
func (s *Synchronizer) Start() {
	s.log.Info("sync: submitting frame harvesters")
	for _, p := range s.ports {
		s.wg.Add(1)
		go s.harvest(p, s.queues[p])
	}
	s.wg.Add(1)
	go s.run()
}

// Stop requests every goroutine to exit and waits for them.
func (s *Synchronizer) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.cond.Broadcast()
	})
	for _, p := range s.ports {
		s.streams[p].Unsubscribe(s.queues[p])
	}
	s.wg.Wait()
}

func (s *Synchronizer) harvest(port int, q chan packets.FramePacket) {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case fp, ok := <-q:
			if !ok {
				return
			}
			s.mu.Lock()
			idx := s.portFrameCount[port]
			s.allFramePackets[frameKey{port, idx}] = fp
			s.portFrameCount[port]++
			s.mu.Unlock()
			s.cond.Broadcast()
		}
	}
}

// earliestNextFrame blocks until every port's frame immediately after its
// current one has been harvested, then returns the minimum of their frame
// times (excluding the named port and any end-of-stream sentinel).
// Encountering an end-of-stream sentinel on any port flags frames as
// complete, so the synchronizer emits the current layer and then stops.
func (s *Synchronizer) earliestNextFrame(port int) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var times []float64
	for _, p := range s.ports {
		nextIndex := s.portCurrentFrame[p] + 1
		key := frameKey{p, nextIndex}
		for {
			fp, ok := s.allFramePackets[key]
			if ok {
				if fp.IsEndOfStream() {
					s.log.Info("sync: end of frames detected, ending synchronization", "port", p)
					s.framesComplete = true
				}
				if p != port && !fp.IsEndOfStream() {
					times = append(times, fp.FrameTime)
				}
				break
			}
			select {
			case <-s.stopCh:
				return 0
			default:
			}
			s.cond.Wait()
		}
	}
	return minFloat(times)
}

// latestCurrentFrame returns the maximum frame time among every port's
// current (already harvested) frame, excluding the named port.
func (s *Synchronizer) latestCurrentFrame(port int) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var times []float64
	for _, p := range s.ports {
		key := frameKey{p, s.portCurrentFrame[p]}
		fp := s.allFramePackets[key]
		if p != port {
			times = append(times, fp.FrameTime)
		}
	}
	return maxFloat(times)
}

func (s *Synchronizer) framesCompleteFlag() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.framesComplete
}

func (s *Synchronizer) run() {
	defer s.wg.Done()
	s.log.Info("sync: starting frame synchronizer")

	syncIndex := 0
	for {
		select {
		case <-s.stopCh:
			s.broadcastSync(nil)
			return
		default:
		}

		earliestNext := make(map[int]float64, len(s.ports))
		for _, p := range s.ports {
			earliestNext[p] = s.earliestNextFrame(p)
		}

		latestCurrent := make(map[int]float64, len(s.ports))
		for _, p := range s.ports {
			latestCurrent[p] = s.latestCurrentFrame(p)
		}

		current := make(map[int]*packets.FramePacket, len(s.ports))
		var layerTimes []float64

		s.mu.Lock()
		for _, p := range s.ports {
			idx := s.portCurrentFrame[p]
			key := frameKey{p, idx}
			fp := s.allFramePackets[key]
			frameTime := fp.FrameTime

			switch {
			case frameTime > earliestNext[p]:
				current[p] = nil
				s.log.Warning("sync: skipped frame, later than next layer's earliest", "port", p, "frame_time", frameTime)
			case earliestNext[p]-frameTime < frameTime-latestCurrent[p]:
				current[p] = nil
				s.log.Warning("sync: skipped frame, closer to next layer than current", "port", p, "frame_time", frameTime)
			default:
				delete(s.allFramePackets, key)
				cp := fp
				current[p] = &cp
				s.portCurrentFrame[p]++
				layerTimes = append(layerTimes, frameTime)
			}
		}
		s.mu.Unlock()

		s.meanFrameTimes = append(s.meanFrameTimes, mean(layerTimes))
		if len(s.meanFrameTimes) > 10 {
			s.meanFrameTimes = s.meanFrameTimes[len(s.meanFrameTimes)-10:]
		}

		sp := &packets.SyncPacket{SyncIndex: syncIndex, FramePackets: current}
		s.updateDroppedHistory(sp)
		syncIndex++

		s.broadcastSync(sp)

		if s.framesCompleteFlag() {
			s.broadcastSync(nil)
			return
		}
	}
}

func (s *Synchronizer) updateDroppedHistory(sp *packets.SyncPacket) {
	for _, p := range s.ports {
		dropped := 0
		if sp.FramePackets[p] == nil {
			dropped = 1
		}
		hist := append(s.droppedHistory[p], dropped)
		if len(hist) > droppedFrameTrackWindow {
			hist = hist[len(hist)-droppedFrameTrackWindow:]
		}
		s.droppedHistory[p] = hist
	}
}

// DroppedFPS averages the dropped-frame indicator across the trailing
// history window for each port, giving an approximate drop rate.
func (s *Synchronizer) DroppedFPS() map[int]float64 {
	out := make(map[int]float64, len(s.ports))
	for _, p := range s.ports {
		out[p] = mean(intsToFloats(s.droppedHistory[p]))
	}
	return out
}

// AverageFPS estimates the effective synchronized frame rate from the
// reciprocal of the mean inter-layer time delta over the trailing 10
// layers.
func (s *Synchronizer) AverageFPS() float64 {
	if len(s.meanFrameTimes) < 2 {
		return 0
	}
	var deltas []float64
	for i := 1; i < len(s.meanFrameTimes); i++ {
		deltas = append(deltas, s.meanFrameTimes[i]-s.meanFrameTimes[i-1])
	}
	d := mean(deltas)
	if d == 0 {
		return 0
	}
	return 1 / d
}

// minFloat returns +Inf for an empty slice: with no peer port to bound it,
// a port's next frame is never "too late" to join the current layer.
func minFloat(v []float64) float64 {
	if len(v) == 0 {
		return math.Inf(1)
	}
	m := v[0]
	for _, x := range v[1:] {
		if x < m {
			m = x
		}
	}
	return m
}

// maxFloat returns -Inf for an empty slice: with no peer port to compare
// against, a port's current frame is never closer to the next layer than to
// "the other ports' current frame".
func maxFloat(v []float64) float64 {
	if len(v) == 0 {
		return math.Inf(-1)
	}
	m := v[0]
	for _, x := range v[1:] {
		if x > m {
			m = x
		}
	}
	return m
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

func intsToFloats(v []int) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
