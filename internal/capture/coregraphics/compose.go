package coregraphics

// window is one entry of the on-screen window list.
type window struct {
	id    uint32
	pid   int32
	layer int32
	title string
}

// compositeWithout returns, front to back, the ids of the windows left when
// those of excluded processes are removed. hides is false when no listed
// window belongs to an excluded process; the display is then captured as is.
func compositeWithout(ws []window, excluded map[int32]bool) (ids []uint32, hides bool) {
	if len(excluded) == 0 {
		return nil, false
	}
	ids = make([]uint32, 0, len(ws))
	for _, w := range ws {
		if excluded[w.pid] {
			hides = true
			continue
		}
		ids = append(ids, w.id)
	}
	if !hides {
		return nil, false
	}
	return ids, true
}
