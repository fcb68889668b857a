package veilcall

// speakingWindow is how many recent frames vote on the speaking verdict.
const speakingWindow = 5

// defaultEnergyThreshold is the normalized RMS level above which a frame
// counts as voiced.
const defaultEnergyThreshold = 0.05

// speakingDetector smooths per-frame energy verdicts over a sliding
// majority window so brief pops and dips don't flap the speaking state.
type speakingDetector struct {
	window [speakingWindow]bool
	next   int
}

// observe records one frame verdict and returns true when at least half
// of the window is voiced.
func (d *speakingDetector) observe(voiced bool) bool {
	d.window[d.next] = voiced
	d.next = (d.next + 1) % speakingWindow

	count := 0
	for _, v := range d.window {
		if v {
			count++
		}
	}
	return count*2 >= speakingWindow
}

func (d *speakingDetector) reset() {
	d.window = [speakingWindow]bool{}
	d.next = 0
}
