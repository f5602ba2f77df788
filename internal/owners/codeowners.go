package owners

import (
	"bufio"
	"io"
	"strings"
)

// ParseCodeowners reads CODEOWNERS-format content into ownership rules.
//
// Each non-comment line is "pattern owner [owner...]"; only the first owner
// is kept (the primary owner by convention). Leading "@" is stripped from
// usernames. Malformed lines are skipped — ownership data is best-effort
// input, never a reason to fail.
//
// The caller supplies the content; this package does not read files itself.
func ParseCodeowners(r io.Reader) []Rule {
	var rules []Rule

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		rules = append(rules, Rule{
			Pattern: fields[0],
			Owner:   strings.TrimPrefix(fields[1], "@"),
		})
	}

	// Scanner errors leave us with the rules parsed so far, which is the
	// best-effort contract.
	return rules
}
