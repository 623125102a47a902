package plan

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/planmux/planmux/internal/debug"
	"github.com/planmux/planmux/internal/types"
)

// depTokenPattern matches "task 3", "task-3", "task3" (case-insensitive).
var depTokenPattern = regexp.MustCompile(`(?i)^task[- ]?(\d+)$`)

// resolveDependencies runs the two-pass dependency normalization over every
// task's raw dependency text.
//
// Pass one splits on commas only (semicolons are ambiguous with prose) and
// normalizes tokens of the form "task N" or a bare integer into the
// canonical "Task N". Everything else is carried forward as raw text.
//
// Pass two resolves the leftover raw text against other tasks' titles:
// exact case-insensitive match first, then longest substring match in
// either direction, then a semicolon split accepted only when every
// fragment resolves. Text that still fails stays in the dependency list
// as written and is recorded as unresolved; an unresolved dependency is
// permanently unsatisfiable and must be surfaced, never dropped.
func resolveDependencies(p *types.Plan, rawDeps map[int]string) {
	for _, t := range p.Tasks {
		raw, ok := rawDeps[t.Number]
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}

		for _, token := range strings.Split(raw, ",") {
			token = strings.TrimSpace(token)
			if token == "" {
				continue
			}
			if canon, ok := normalizeToken(token); ok {
				t.Dependencies = append(t.Dependencies, canon)
				continue
			}
			// Pass two: title-based resolution.
			if nums, ok := resolveByTitle(p, t, token); ok {
				for _, n := range nums {
					t.Dependencies = append(t.Dependencies, types.CanonicalDep(n))
				}
				continue
			}
			debug.Logf("plan: task %d dependency %q did not resolve to any task\n", t.Number, token)
			t.Dependencies = append(t.Dependencies, token)
			t.Unresolved = append(t.Unresolved, token)
		}
	}
}

// normalizeToken handles pass-one tokens: "task N" variants and bare
// integers become canonical references.
func normalizeToken(token string) (string, bool) {
	if m := depTokenPattern.FindStringSubmatch(token); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			return types.CanonicalDep(n), true
		}
	}
	if n, err := strconv.Atoi(token); err == nil && n > 0 {
		return types.CanonicalDep(n), true
	}
	return "", false
}

// resolveByTitle resolves raw prose against other tasks' titles. A single
// match returns one task number; a semicolon-separated list resolves to
// several, accepted only when every fragment resolves.
func resolveByTitle(p *types.Plan, self *types.Task, raw string) ([]int, bool) {
	if n, ok := matchTitle(p, self, raw); ok {
		return []int{n}, true
	}

	fragments := strings.Split(raw, ";")
	if len(fragments) < 2 {
		return nil, false
	}
	var nums []int
	for _, frag := range fragments {
		frag = strings.TrimSpace(frag)
		if frag == "" {
			return nil, false
		}
		if canon, ok := normalizeToken(frag); ok {
			if n, ok := types.ParseCanonicalDep(canon); ok {
				nums = append(nums, n)
				continue
			}
		}
		n, ok := matchTitle(p, self, frag)
		if !ok {
			return nil, false
		}
		nums = append(nums, n)
	}
	return nums, true
}

// matchTitle finds the task whose title matches raw: exact case-insensitive
// first, else the longest substring match in either direction. When two
// distinct tasks tie for the longest substring match the reference is
// ambiguous; it is flagged and left unresolved rather than guessed.
func matchTitle(p *types.Plan, self *types.Task, raw string) (int, bool) {
	rawLower := strings.ToLower(strings.TrimSpace(raw))
	if rawLower == "" {
		return 0, false
	}

	for _, t := range p.Tasks {
		if t == self {
			continue
		}
		if strings.ToLower(t.Title) == rawLower {
			return t.Number, true
		}
	}

	best := 0
	bestScore := 0
	ambiguous := false
	for _, t := range p.Tasks {
		if t == self {
			continue
		}
		titleLower := strings.ToLower(t.Title)
		if titleLower == "" {
			continue
		}
		var score int
		switch {
		case strings.Contains(rawLower, titleLower):
			score = len(titleLower)
		case strings.Contains(titleLower, rawLower):
			score = len(rawLower)
		default:
			continue
		}
		if score > bestScore {
			best, bestScore, ambiguous = t.Number, score, false
		} else if score == bestScore && score > 0 && t.Number != best {
			ambiguous = true
		}
	}
	if bestScore == 0 {
		return 0, false
	}
	if ambiguous {
		debug.Logf("plan: dependency %q is ambiguous between tasks with similar titles\n", raw)
		return 0, false
	}
	return best, true
}
