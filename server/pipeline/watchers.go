package pipeline

import "github.com/velocam/speedcam/pkg/gen"

// SYNC-WATCHER-CHANNEL-SIZE
const WatcherChannelSize = 100

// AddWatcher registers to receive the analysis of every processed frame.
// The rendering/reporting layer consumes these.
func (p *Pipeline) AddWatcher() chan *FrameAnalysis {
	p.watchersLock.Lock()
	defer p.watchersLock.Unlock()
	ch := make(chan *FrameAnalysis, WatcherChannelSize)
	p.watchers = append(p.watchers, ch)
	return ch
}

// RemoveWatcher unregisters a watcher channel.
func (p *Pipeline) RemoveWatcher(ch chan *FrameAnalysis) {
	p.watchersLock.Lock()
	defer p.watchersLock.Unlock()
	for i, w := range p.watchers {
		if w == ch {
			p.watchers = gen.DeleteFromSliceUnordered(p.watchers, i)
			return
		}
	}
	p.Log.Warnf("Pipeline.RemoveWatcher failed to find channel")
}

func (p *Pipeline) sendToWatchers(analysis *FrameAnalysis) {
	p.watchersLock.Lock()
	defer p.watchersLock.Unlock()
	for _, ch := range p.watchers {
		// If a watcher stalls, we drop frames for it rather than stalling
		// the pipeline (and every other watcher) behind it.
		// SYNC-WATCHER-CHANNEL-SIZE
		if len(ch) >= cap(ch)*9/10 {
			p.Log.Warnf("Pipeline watcher is falling behind. I am going to drop frames.")
		} else {
			ch <- analysis
		}
	}
}
