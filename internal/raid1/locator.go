package raid1

import (
	"context"
	"os"

	"github.com/cea-hpc/phobosd-go/internal/catalog"
	"github.com/cea-hpc/phobosd-go/internal/layout"
	"github.com/cea-hpc/phobosd-go/internal/perrors"
)

// splitAccessInfo tracks, per replica of one split, whether it is usable and
// who (if anyone) holds its concurrency lock (spec §4.2 "Data structures").
type splitAccessInfo struct {
	usable    []bool
	hostname  []string // "" if unlocked
	tapeModel []string // "" if not tape
}

// hostRscAccessInfo tracks one candidate host's reachability tally (spec
// §4.2 "host_rsc_access_info").
type hostRscAccessInfo struct {
	hostname          string
	nbLockedSplits    int
	nbUnreachableSplit int
	unlockedModels    map[string]bool // device models this host owns, unlocked
}

// Locate implements layout.Codec (spec §4.2 "RAID1 Object Locator").
func (c *Codec) Locate(ctx context.Context, cat *catalog.Catalog, l *catalog.Layout, focusHost string) (layout.LocateResult, error) {
	replCount, err := ReplCountOf(l)
	if err != nil {
		return layout.LocateResult{}, err
	}
	if focusHost == "" {
		h, err := os.Hostname()
		if err != nil || h == "" {
			return layout.LocateResult{}, perrors.New(perrors.EADDRNOTAVAIL, "raid1: cannot resolve local hostname", err)
		}
		focusHost = h
	}
	if len(l.Extents)%replCount != 0 {
		return layout.LocateResult{}, perrors.New(perrors.EINVAL, "raid1: extent count not a multiple of repl_count", nil)
	}
	splitCount := len(l.Extents) / replCount
	if splitCount == 0 {
		return layout.LocateResult{Hostname: focusHost}, nil
	}

	family := l.Extents[0].Medium.Family

	// Step 1: candidate hosts = every host owning an administratively
	// unlocked device of this family, focusHost inserted first so ties
	// favor it (spec §4.2 step 1, step 5).
	hosts := map[string]*hostRscAccessInfo{}
	order := []string{focusHost}
	hosts[focusHost] = &hostRscAccessInfo{hostname: focusHost, unlockedModels: map[string]bool{}}

	if family == catalog.FamilyTape {
		devices, err := cat.ListUnlockedDevices()
		if err != nil {
			return layout.LocateResult{}, perrors.Wrap(err, "raid1: list devices")
		}
		for _, d := range devices {
			h, ok := hosts[d.Hostname]
			if !ok {
				h = &hostRscAccessInfo{hostname: d.Hostname, unlockedModels: map[string]bool{}}
				hosts[d.Hostname] = h
				order = append(order, d.Hostname)
			}
			h.unlockedModels[d.Model] = true
		}
	}

	// Step 2: per split, per replica, query lock ownership.
	splits := make([]splitAccessInfo, splitCount)
	for s := 0; s < splitCount; s++ {
		sa := splitAccessInfo{usable: make([]bool, replCount), hostname: make([]string, replCount), tapeModel: make([]string, replCount)}
		anyUsable := false
		for r := 0; r < replCount; r++ {
			ext := l.Extents[s*replCount+r]
			if ext.State == catalog.ExtentOrphan {
				continue
			}
			owner, err := cat.LockOwner(catalog.LockMedium, mediumLockKey(ext.Medium))
			if err != nil {
				continue // locate error on this replica: mark unusable, keep going
			}
			sa.usable[r] = true
			sa.hostname[r] = owner
			anyUsable = true
			if ext.Medium.Family == catalog.FamilyTape {
				m, merr := cat.GetMedium(ext.Medium)
				if merr == nil {
					sa.tapeModel[r] = m.Model
				}
			}
		}
		if !anyUsable {
			return layout.LocateResult{}, perrors.New(perrors.ENODEV, "raid1: no usable replica for a split", nil)
		}
		for _, owner := range sa.hostname {
			if owner == "" {
				continue
			}
			if _, ok := hosts[owner]; !ok {
				hosts[owner] = &hostRscAccessInfo{hostname: owner, unlockedModels: map[string]bool{}}
				order = append(order, owner)
			}
		}
		splits[s] = sa
	}

	// Step 3-4: compute per-host reachability.
	for _, hostName := range order {
		h := hosts[hostName]
		for s := 0; s < splitCount; s++ {
			sa := splits[s]
			reachable := false
			lockedByMe := false
			for r := 0; r < replCount; r++ {
				if !sa.usable[r] {
					continue
				}
				// An unlocked replica ("" owner) is reachable by any host —
				// only a lock held by someone else denies access; a lock
				// held by hostName both counts as reachable and credits
				// nb_locked_splits toward the step-5 tie-break.
				if sa.hostname[r] == "" {
					reachable = true
					continue
				}
				if sa.hostname[r] == hostName {
					reachable = true
					lockedByMe = true
					break
				}
			}
			if !reachable && family == catalog.FamilyTape {
				for r := 0; r < replCount; r++ {
					if !sa.usable[r] {
						continue
					}
					if sa.tapeModel[r] != "" && h.unlockedModels[sa.tapeModel[r]] {
						reachable = true
						break
					}
				}
			}
			if lockedByMe {
				h.nbLockedSplits++
			}
			if !reachable {
				h.nbUnreachableSplit++
			}
		}
	}

	// Step 5: choose best host — minimize unreachable, then maximize locked,
	// first-seen (focusHost first) breaks ties.
	var best *hostRscAccessInfo
	for _, hostName := range order {
		h := hosts[hostName]
		if best == nil {
			best = h
			continue
		}
		if h.nbUnreachableSplit < best.nbUnreachableSplit {
			best = h
			continue
		}
		if h.nbUnreachableSplit == best.nbUnreachableSplit && h.nbLockedSplits > best.nbLockedSplits {
			best = h
		}
	}
	if best == nil || best.nbUnreachableSplit > 0 {
		return layout.LocateResult{}, perrors.New(perrors.EAGAIN, "raid1: no host can currently reach every split", nil)
	}

	// Step 6: early-lock every split the chosen host doesn't already reach
	// via an existing lock, all-or-nothing across this call.
	var acquiredKeys []string
	ownerPID := os.Getpid()
	for s := 0; s < splitCount; s++ {
		sa := splits[s]
		alreadyReachable := false
		for r := 0; r < replCount; r++ {
			if sa.usable[r] && sa.hostname[r] == best.hostname {
				alreadyReachable = true
				break
			}
		}
		if alreadyReachable {
			continue
		}
		locked := false
		for r := 0; r < replCount; r++ {
			if !sa.usable[r] || sa.hostname[r] != "" {
				continue // already locked by someone else, or unusable
			}
			ext := l.Extents[s*replCount+r]
			key := mediumLockKey(ext.Medium)
			ok, err := cat.TryAcquireLock(catalog.LockMedium, key, best.hostname, ownerPID)
			if err != nil {
				continue
			}
			if ok {
				acquiredKeys = append(acquiredKeys, key)
				locked = true
				break
			}
			// raced: try the next replica of this split
		}
		if !locked {
			_ = cat.ReleaseLocks(catalog.LockMedium, acquiredKeys, best.hostname)
			return layout.LocateResult{}, perrors.New(perrors.EAGAIN, "raid1: could not lock any medium for an unreached split", nil)
		}
	}

	return layout.LocateResult{Hostname: best.hostname, NewLocks: len(acquiredKeys)}, nil
}

func mediumLockKey(ref catalog.MediumRef) string {
	return string(ref.Family) + ":" + ref.Library + ":" + ref.Name
}
