// Package policy holds the pure retention algorithms: which file
// versions to expire and when trash entries lapse. No storage, no
// database; callers feed plain values in and act on the answer.
package policy

import "time"

// VersionInfo is the slice of a version the retention scan needs.
type VersionInfo struct {
	ID      uint64
	Created time.Time
	Size    int64

	// Named versions carry a human-assigned label and never expire.
	Named bool
}

// VersionRetention decides which versions of one file to keep.
//
// Intervals are [intervalEndSeconds, keepEverySeconds] tiers ordered
// nearest-first, e.g. keep one version per 2 seconds for the first 10
// seconds, one per 10 seconds up to a minute, and so on. An interval end
// below zero means the tier is unbounded.
type VersionRetention struct {
	Intervals       [][2]int64
	MaxDays         int
	ZeroByteSeconds int64
}

// DefaultVersionRetention mirrors the sync-client ecosystem's expected
// thinning schedule.
var DefaultVersionRetention = VersionRetention{
	Intervals: [][2]int64{
		{10, 2},
		{60, 10},
		{3600, 60},
		{86400, 3600},
		{30 * 86400, 86400},
		{-1, 7 * 86400},
	},
	MaxDays:         0,
	ZeroByteSeconds: 5,
}

// Plan scans versions ordered newest to oldest and splits them into keep
// and expire lists.
//
// The newest version, the current version and named versions are never
// expired. For the rest, in order: a zero-byte version superseded within
// ZeroByteSeconds by the next newer version always expires (editors that
// PUT an empty file right before the real content); a version older than
// MaxDays always expires; otherwise the version's age selects a tier,
// entering a new tier always keeps that version, and within a tier a
// version is kept only when it is at least the tier's keepEvery seconds
// older than the last kept one.
func (p VersionRetention) Plan(versions []VersionInfo, currentID uint64, now time.Time) (keep, expire []uint64) {
	var lastKept *VersionInfo
	tier := -1

	for i := range versions {
		v := &versions[i]
		age := int64(now.Sub(v.Created) / time.Second)

		if i == 0 || v.ID == currentID || v.Named {
			keep = append(keep, v.ID)
			lastKept = v
			tier = p.tierFor(age)
			continue
		}

		if p.ZeroByteSeconds > 0 && v.Size == 0 {
			gap := int64(versions[i-1].Created.Sub(v.Created) / time.Second)
			if gap >= 0 && gap <= p.ZeroByteSeconds {
				expire = append(expire, v.ID)
				continue
			}
		}

		if p.MaxDays > 0 && age > int64(p.MaxDays)*86400 {
			expire = append(expire, v.ID)
			continue
		}

		t := p.tierFor(age)
		if t != tier {
			// Crossing into a new tier always keeps the first version
			// encountered there, regardless of spacing.
			tier = t
			keep = append(keep, v.ID)
			lastKept = v
			continue
		}

		spacing := int64(0)
		if lastKept != nil {
			spacing = int64(lastKept.Created.Sub(v.Created) / time.Second)
		}
		if lastKept == nil || spacing >= p.keepEvery(t) {
			keep = append(keep, v.ID)
			lastKept = v
		} else {
			expire = append(expire, v.ID)
		}
	}
	return keep, expire
}

// tierFor maps an age in seconds to a tier index. Ages beyond the last
// bounded interval fall into one extra tier reusing its spacing.
func (p VersionRetention) tierFor(age int64) int {
	for i, iv := range p.Intervals {
		if iv[0] < 0 || age <= iv[0] {
			return i
		}
	}
	return len(p.Intervals)
}

// keepEvery returns the spacing of a tier index from tierFor.
func (p VersionRetention) keepEvery(tier int) int64 {
	if len(p.Intervals) == 0 {
		return 0
	}
	if tier >= len(p.Intervals) {
		tier = len(p.Intervals) - 1
	}
	return p.Intervals[tier][1]
}

// TrashRetention expires trash entries by age. Zero days disables
// automatic expiry.
type TrashRetention struct {
	Days int
}

// Expired reports whether an item deleted at deletedAt has lapsed.
func (p TrashRetention) Expired(deletedAt, now time.Time) bool {
	return p.Days > 0 && now.Sub(deletedAt) > time.Duration(p.Days)*24*time.Hour
}

// Cutoff returns the soft-delete timestamp before which items have
// lapsed, or the zero time when expiry is disabled.
func (p TrashRetention) Cutoff(now time.Time) time.Time {
	if p.Days <= 0 {
		return time.Time{}
	}
	return now.Add(-time.Duration(p.Days) * 24 * time.Hour)
}
