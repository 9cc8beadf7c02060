package conflict

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Conflict marker lines, git style. The merged file stays loadable as text
// and never silently drops either side.
const (
	markerLocal  = "<<<<<<< LOCAL"
	markerSplit  = "======="
	markerRemote = ">>>>>>> REMOTE"
)

// TextMerge is the outcome of a three-way text merge. Conflicts counts the
// marker regions; zero means the merge was clean.
type TextMerge struct {
	Content   string
	Conflicts int
}

// Clean reports whether both edits applied without overlap.
func (m TextMerge) Clean() bool {
	return m.Conflicts == 0
}

// hunk is one contiguous edit against the base: base lines
// [baseStart, baseEnd) are replaced by lines. baseStart == baseEnd is a pure
// insertion before baseStart.
type hunk struct {
	baseStart int
	baseEnd   int
	lines     []string
}

// MergeText merges local and remote line edits over their common base.
// Hunks touching disjoint base ranges all apply; overlapping hunks collapse
// into a conflict region rendered with LOCAL/REMOTE markers.
func MergeText(base, local, remote string) TextMerge {
	dmp := diffmatchpatch.New()
	baseLines := splitLines(terminate(base))
	localHunks := lineHunks(dmp, terminate(base), terminate(local))
	remoteHunks := lineHunks(dmp, terminate(base), terminate(remote))

	var (
		out       strings.Builder
		conflicts int
		basePos   int
		li, ri    int
	)

	flushBase := func(to int) {
		for ; basePos < to; basePos++ {
			out.WriteString(baseLines[basePos])
		}
	}

	for li < len(localHunks) || ri < len(remoteHunks) {
		switch {
		case li < len(localHunks) && ri < len(remoteHunks) && overlaps(localHunks[li], remoteHunks[ri]):
			// Grow the region until no pending hunk from either side
			// reaches back into it.
			start := min(localHunks[li].baseStart, remoteHunks[ri].baseStart)
			end := max(localHunks[li].baseEnd, remoteHunks[ri].baseEnd)
			lStart, rStart := li, ri
			for {
				grew := false
				for li < len(localHunks) && (localHunks[li].baseStart < end || localHunks[li].baseStart == start) {
					end = max(end, localHunks[li].baseEnd)
					li++
					grew = true
				}
				for ri < len(remoteHunks) && (remoteHunks[ri].baseStart < end || remoteHunks[ri].baseStart == start) {
					end = max(end, remoteHunks[ri].baseEnd)
					ri++
					grew = true
				}
				if !grew {
					break
				}
			}

			flushBase(start)
			localSide := renderSide(baseLines, start, end, localHunks[lStart:li])
			remoteSide := renderSide(baseLines, start, end, remoteHunks[rStart:ri])
			if equalLines(localSide, remoteSide) {
				// Both sides made the same change.
				for _, line := range localSide {
					out.WriteString(line)
				}
			} else {
				out.WriteString(markerLocal + "\n")
				for _, line := range localSide {
					out.WriteString(line)
				}
				out.WriteString(markerSplit + "\n")
				for _, line := range remoteSide {
					out.WriteString(line)
				}
				out.WriteString(markerRemote + "\n")
				conflicts++
			}
			basePos = end

		case ri >= len(remoteHunks) || (li < len(localHunks) && localHunks[li].baseStart <= remoteHunks[ri].baseStart):
			h := localHunks[li]
			li++
			flushBase(h.baseStart)
			for _, line := range h.lines {
				out.WriteString(line)
			}
			basePos = h.baseEnd

		default:
			h := remoteHunks[ri]
			ri++
			flushBase(h.baseStart)
			for _, line := range h.lines {
				out.WriteString(line)
			}
			basePos = h.baseEnd
		}
	}
	flushBase(len(baseLines))

	return TextMerge{Content: out.String(), Conflicts: conflicts}
}

// lineHunks computes the edit hunks turning base into edited, using
// line-mode diffs so hunk boundaries always fall on line boundaries.
func lineHunks(dmp *diffmatchpatch.DiffMatchPatch, base, edited string) []hunk {
	c1, c2, lineArray := dmp.DiffLinesToChars(base, edited)
	diffs := dmp.DiffMain(c1, c2, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var hunks []hunk
	basePos := 0
	open := -1
	for _, d := range diffs {
		lines := splitLines(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			open = -1
			basePos += len(lines)
		case diffmatchpatch.DiffDelete:
			if open < 0 {
				hunks = append(hunks, hunk{baseStart: basePos, baseEnd: basePos})
				open = len(hunks) - 1
			}
			hunks[open].baseEnd += len(lines)
			basePos += len(lines)
		case diffmatchpatch.DiffInsert:
			if open < 0 {
				hunks = append(hunks, hunk{baseStart: basePos, baseEnd: basePos})
				open = len(hunks) - 1
			}
			hunks[open].lines = append(hunks[open].lines, lines...)
		}
	}
	return hunks
}

// overlaps reports whether two hunks contend for the same base lines. Two
// pure insertions collide only at the same insertion point.
func overlaps(a, b hunk) bool {
	if a.baseStart == a.baseEnd && b.baseStart == b.baseEnd {
		return a.baseStart == b.baseStart
	}
	return a.baseStart < b.baseEnd && b.baseStart < a.baseEnd
}

// renderSide applies one side's hunks to the base region [start, end).
func renderSide(baseLines []string, start, end int, hunks []hunk) []string {
	var out []string
	pos := start
	for _, h := range hunks {
		if h.baseStart > pos {
			out = append(out, baseLines[pos:h.baseStart]...)
		}
		out = append(out, h.lines...)
		pos = h.baseEnd
	}
	if pos < end {
		out = append(out, baseLines[pos:end]...)
	}
	return out
}

func equalLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// terminate normalizes text to end with a newline so every line carries its
// terminator and marker lines never glue onto content.
func terminate(text string) string {
	if text == "" || strings.HasSuffix(text, "\n") {
		return text
	}
	return text + "\n"
}

func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.SplitAfter(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
