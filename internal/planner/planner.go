// Package planner compares two enumerations and produces the set of
// copies and deletions needed to make a destination tree match a source
// tree.
package planner

import (
	"context"
	"path"
	"sort"
	"strings"

	"github.com/roethlar/blit/pkg/types"
)

// Planner implements types.MirrorPlanner.
type Planner struct{}

// New returns a Planner. It holds no state: every call to Plan is
// independent, so one Planner is safely reused (and shared) across
// concurrent transfers.
func New() *Planner { return &Planner{} }

// Plan compares src against dst, keyed by destination-relative path, and
// returns what needs copying, what (if anything) needs deleting, and how
// many entries needed no work at all.
func (p *Planner) Plan(ctx context.Context, src, dst []types.FileRecord, opts types.PlanOptions) (types.MirrorPlan, error) {
	dstIndex := make(map[string]types.FileRecord, len(dst))
	for _, d := range dst {
		dstIndex[planKey(d.Path, opts.CaseInsensitiveDest)] = d
	}

	var plan types.MirrorPlan
	matched := make(map[string]bool, len(dst))

	for _, s := range src {
		if err := ctx.Err(); err != nil {
			return types.MirrorPlan{}, err
		}

		key := planKey(s.Path, opts.CaseInsensitiveDest)
		d, ok := dstIndex[key]
		if !ok {
			plan.ToCopy = append(plan.ToCopy, entryFor(s, opts))
			continue
		}
		matched[key] = true

		if s.Kind == types.KindDirectory {
			// Directories match on path alone; their contents are
			// compared entry-by-entry via their own FileRecords.
			plan.UnchangedCount++
			continue
		}

		if needsCopy(s, d, opts) {
			plan.ToCopy = append(plan.ToCopy, entryFor(s, opts))
		} else {
			plan.UnchangedCount++
		}
	}

	if opts.Delete {
		var toDelete []types.FileRecord
		for _, d := range dst {
			if !matched[planKey(d.Path, opts.CaseInsensitiveDest)] {
				toDelete = append(toDelete, d)
			}
		}
		plan.ToDelete = deletionOrder(toDelete)
	}

	return plan, nil
}

// planKey is the index key two records are compared under: the raw path,
// or its lowercased form when the destination filesystem is
// case-insensitive. Mismatched casing on an otherwise-identical entry
// resolves to the same key, so it's treated as unchanged rather than a
// delete-then-create.
func planKey(p string, foldCase bool) string {
	if foldCase {
		return strings.ToLower(p)
	}
	return p
}

// needsCopy decides whether dst requires a fresh copy of src. In checksum
// mode it requires size plus a strong-hash match (the enumerator must
// have been run with checksumming enabled to populate FileRecord.Checksum
// — an empty checksum on either side always forces a copy, since "unknown"
// can't be treated as "same"). Otherwise it falls back to metadata
// comparison: size plus mtime within a 1-second tolerance.
func needsCopy(src, dst types.FileRecord, opts types.PlanOptions) bool {
	if src.Size != dst.Size {
		return true
	}
	if opts.Checksum {
		if src.Checksum == "" || dst.Checksum == "" {
			return true
		}
		return src.Checksum != dst.Checksum
	}
	return !src.MTime.WithinSecond(dst.MTime)
}

// entryFor builds the TransferEntry for a source record due to be copied,
// joining it against the configured roots to produce absolute locators.
func entryFor(rec types.FileRecord, opts types.PlanOptions) types.TransferEntry {
	return types.TransferEntry{
		Record: rec,
		Src:    joinLocator(opts.SrcRoot, rec.Path),
		Dst:    joinLocator(opts.DstRoot, rec.Path),
	}
}

func joinLocator(root types.Locator, rel string) types.Locator {
	if rel == "" {
		return root
	}
	return types.Locator(path.Join(string(root), rel))
}

// deletionOrder sorts a destination-only record set by path depth
// descending, so a directory's children are always deleted before the
// directory itself.
func deletionOrder(recs []types.FileRecord) []types.PathOnDest {
	sort.Slice(recs, func(i, j int) bool {
		di, dj := depth(recs[i].Path), depth(recs[j].Path)
		if di != dj {
			return di > dj
		}
		return recs[i].Path > recs[j].Path
	})
	out := make([]types.PathOnDest, len(recs))
	for i, r := range recs {
		out[i] = types.PathOnDest(r.Path)
	}
	return out
}

func depth(p string) int {
	if p == "" {
		return 0
	}
	return strings.Count(p, "/") + 1
}
