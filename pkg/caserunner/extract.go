package caserunner

import "regexp"

// extractMatch applies a regular expression to the last captured output and
// binds its capture groups to symbols: either the first group to a single
// variable, or each group to the corresponding name in groups. Exactly one
// of variable/groups must be given. Names are bound to nil up front, so a
// non-matching pattern leaves them present-but-empty instead of raising.
func (c *Case) extractMatch(pattern, variable string, groups []string) error {
	if pattern == "" {
		return configErrorf("extract_match requires pattern to match")
	}
	if variable == "" && len(groups) == 0 {
		return configErrorf("extract_match requires variable or groups")
	}
	if variable != "" && len(groups) > 0 {
		return configErrorf("extract_match cannot accept both variable and groups")
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return configErrorf("extract_match pattern %q: %v", pattern, err)
	}

	if variable != "" {
		c.setSymbol(variable, nil)
	}
	for _, name := range groups {
		c.setSymbol(name, nil)
	}

	match := re.FindStringSubmatch(c.lastOutput)
	if match == nil || len(match) < 2 {
		return nil
	}
	captures := match[1:]
	if variable != "" {
		c.setSymbol(variable, captures[0])
	}
	for i, name := range groups {
		if i < len(captures) {
			c.setSymbol(name, captures[i])
		}
	}
	return nil
}
