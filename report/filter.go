package report

import "strings"

// Filter decides which reports reach the interceptors.
type Filter struct {
	// ConcernPackages are frame prefixes the application cares about, in
	// priority order.
	ConcernPackages []string
	// FilterNonConcern drops reports whose stacks touch none of
	// ConcernPackages.
	FilterNonConcern bool
	// WhiteList drops reports whose key frame contains any of these.
	WhiteList []string
}

// KeyFrame returns the first frame, in the newest stack sample, that belongs
// to a concern package. Without concern packages it is the top frame.
func (f *Filter) KeyFrame(info *BlockInfo) string {
	if len(info.Stacks) == 0 {
		return ""
	}
	frames := stackFrames(info.Stacks[len(info.Stacks)-1])
	if len(frames) == 0 {
		return ""
	}
	for _, pkg := range f.ConcernPackages {
		for _, fr := range frames {
			if strings.HasPrefix(fr, pkg) {
				return fr
			}
		}
	}
	return frames[0]
}

// Allow reports whether info should be delivered.
func (f *Filter) Allow(info *BlockInfo) bool {
	if f == nil {
		return true
	}
	if f.FilterNonConcern && len(f.ConcernPackages) > 0 && !f.touchesConcern(info) {
		return false
	}
	if len(f.WhiteList) > 0 {
		key := f.KeyFrame(info)
		for _, w := range f.WhiteList {
			if w != "" && strings.Contains(key, w) {
				return false
			}
		}
	}
	return true
}

func (f *Filter) touchesConcern(info *BlockInfo) bool {
	for _, st := range info.Stacks {
		for _, fr := range stackFrames(st) {
			for _, pkg := range f.ConcernPackages {
				if strings.HasPrefix(fr, pkg) {
					return true
				}
			}
		}
	}
	return false
}

// stackFrames returns the frame lines of one formatted stack entry, skipping
// the timestamp header.
func stackFrames(entry string) []string {
	if i := strings.Index(entry, "\n\n"); i >= 0 {
		entry = entry[i+2:]
	}
	var frames []string
	for _, line := range strings.Split(entry, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			frames = append(frames, line)
		}
	}
	return frames
}
