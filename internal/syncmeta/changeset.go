package syncmeta

import (
	"fmt"
	"sort"

	"github.com/goccy/go-json"
)

// ChangeSet is the unit exchanged between peers: either every record a peer holds or only
// what changed since the last successful round.
type ChangeSet []*FileRecord

// Sorted returns the records ordered by path, which keeps logs and payloads stable.
func (c ChangeSet) Sorted() ChangeSet {
	out := make(ChangeSet, len(c))
	copy(out, c)
	sort.Slice(out, func(i, j int) bool { return out[i].RelativePath < out[j].RelativePath })
	return out
}

// Counts returns the number of live records and tombstones.
func (c ChangeSet) Counts() (live, deleted int) {
	for _, r := range c {
		if r.Deleted {
			deleted++
		} else {
			live++
		}
	}
	return live, deleted
}

// Marshal encodes the set as a JSON array. An empty set encodes as `[]`.
func (c ChangeSet) Marshal() ([]byte, error) {
	if c == nil {
		c = ChangeSet{}
	}
	return json.Marshal(c)
}

// UnmarshalChangeSet decodes a JSON array of records, normalising timestamps to UTC and
// rejecting entries whose path could escape a root.
func UnmarshalChangeSet(data []byte) (ChangeSet, error) {
	var set ChangeSet
	if len(data) == 0 {
		return set, nil
	}
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("decode change set: %w", err)
	}
	out := set[:0]
	for _, r := range set {
		if r == nil {
			continue
		}
		if err := ValidatePath(r.RelativePath); err != nil {
			return nil, err
		}
		r.LastModified = r.LastModified.UTC()
		r.Created = r.Created.UTC()
		out = append(out, r)
	}
	return out, nil
}
