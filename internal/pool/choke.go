package pool

// runChokeAlgorithm ranks active peers by outbound byte rate over the last
// RateWindow, unchoking the top RegularUnchokeSlots that are currently
// peer_interested; all others are choked. When optimistic is true (the
// 30-second tick), one additional currently-choked interested peer is
// unchoked by walking the active list in reverse insertion order — a
// deterministic stand-in for random selection (spec.md §4.4, §9).
//
// Choke/unchoke transmissions happen synchronously on the pool goroutine
// (§5 lists connect/handshake, message drain, per-piece download, upload
// batch, and Have broadcast as the operations workers own a peer for;
// choke transitions are not among them). A peer currently claimed by
// another worker is skipped for this tick rather than raced; the next
// tick's ranking will reach it.
func (p *Pool) runChokeAlgorithm(optimistic bool) {
	ranked := p.sortedRateDescending(p.cfg.RateWindow)

	unchoke := make(map[int]struct{}, p.cfg.RegularUnchokeSlots)
	slots := 0
	for _, i := range ranked {
		if slots >= p.cfg.RegularUnchokeSlots {
			break
		}
		if !p.active[i].PeerInterested {
			continue
		}
		unchoke[i] = struct{}{}
		slots++
	}

	if optimistic {
		for i := len(p.active) - 1; i >= 0; i-- {
			if _, already := unchoke[i]; already {
				continue
			}
			pe := p.active[i]
			if pe.PeerInterested && pe.PeerChoked {
				unchoke[i] = struct{}{}
				break
			}
		}
	}

	for i, pe := range p.active {
		if _, ok := p.busy[pe]; ok {
			continue
		}
		_, shouldUnchoke := unchoke[i]
		if err := pe.SetChoked(!shouldUnchoke, p.cfg.KeepAlive); err != nil {
			// Leave demotion to the message pump or keep-alive sweep, which
			// already own the failure-handling path for this peer.
			p.log.WithError(err).Debugln("choke transition failed")
		}
	}
}
