package mailcore

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// UID is an IMAP unique identifier. Valid UIDs are non-zero.
type UID uint32

// UIDRange is an inclusive run of UIDs. First == Last is a single UID.
type UIDRange struct {
	First, Last UID
}

// Contains reports whether uid lies within the range.
func (r UIDRange) Contains(uid UID) bool {
	return uid >= r.First && uid <= r.Last
}

func (r UIDRange) String() string {
	if r.First == r.Last {
		return strconv.FormatUint(uint64(r.First), 10)
	}
	return strconv.FormatUint(uint64(r.First), 10) + ":" + strconv.FormatUint(uint64(r.Last), 10)
}

// UIDSet is an ordered list of non-overlapping UID ranges, the form used in
// UID SEARCH results and UID FETCH/STORE arguments.
type UIDSet []UIDRange

// NewUIDSet builds the minimal range list covering uids. The input may be
// unsorted and contain duplicates; zero UIDs are dropped.
func NewUIDSet(uids ...UID) UIDSet {
	sorted := slices.DeleteFunc(slices.Clone(uids), func(u UID) bool { return u == 0 })
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	var set UIDSet
	for _, u := range sorted {
		if n := len(set); n > 0 && set[n-1].Last+1 == u {
			set[n-1].Last = u
			continue
		}
		set = append(set, UIDRange{First: u, Last: u})
	}
	return set
}

// CompactUIDs sorts and deduplicates uids and renders them as a
// comma-separated list of single UIDs and "first:last" runs.
func CompactUIDs(uids []UID) string {
	return NewUIDSet(uids...).String()
}

// ExpandUIDs is the inverse of CompactUIDs.
func ExpandUIDs(s string) ([]UID, error) {
	set, err := ParseUIDSet(s)
	if err != nil {
		return nil, err
	}
	var out []UID
	for _, r := range set {
		for u := r.First; ; u++ {
			out = append(out, u)
			if u == r.Last {
				break
			}
		}
	}
	return out, nil
}

// ParseUIDSet parses a set such as "1,3:5,9". A reversed range like "5:3"
// is normalised. "*" is rejected: the client only ever names concrete UIDs.
func ParseUIDSet(s string) (UIDSet, error) {
	if s == "" {
		return nil, errors.New("mailcore: empty UID set")
	}
	var set UIDSet
	for _, item := range strings.Split(s, ",") {
		lo, hi, isRange := strings.Cut(strings.TrimSpace(item), ":")
		first, err := parseUID(lo)
		if err != nil {
			return nil, err
		}
		last := first
		if isRange {
			if last, err = parseUID(hi); err != nil {
				return nil, err
			}
		}
		if first > last {
			first, last = last, first
		}
		set = append(set, UIDRange{First: first, Last: last})
	}
	return set, nil
}

func parseUID(s string) (UID, error) {
	switch s {
	case "":
		return 0, errors.New("mailcore: empty item in UID set")
	case "*":
		return 0, errors.New("mailcore: \"*\" is not a concrete UID")
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("mailcore: invalid UID %q: %w", s, err)
	}
	if n == 0 {
		return 0, errors.New("mailcore: UID must be non-zero")
	}
	return UID(n), nil
}

// String renders the set in IMAP syntax.
func (s UIDSet) String() string {
	parts := make([]string, len(s))
	for i, r := range s {
		parts[i] = r.String()
	}
	return strings.Join(parts, ",")
}

// Contains reports whether uid is in the set.
func (s UIDSet) Contains(uid UID) bool {
	for _, r := range s {
		if r.Contains(uid) {
			return true
		}
	}
	return false
}
