package vault

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var inlineTagPattern = regexp.MustCompile(`(?:^|\s)#([\p{L}\p{N}_/-]+)`)

// ListTags scans every markdown file in the vault and collects the
// union of frontmatter tags and inline #tags, sorted and deduplicated.
func (s *Store) ListTags(ctx context.Context) ([]string, error) {
	seen := map[string]struct{}{}
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != s.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return ctx.Err()
		}
		if !strings.EqualFold(filepath.Ext(d.Name()), ".md") {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		content, err := s.ReadText(ctx, filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		collectTags(content, seen)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}

	tags := make([]string, 0, len(seen))
	for tag := range seen {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags, nil
}

func collectTags(content string, seen map[string]struct{}) {
	block, body := splitFrontmatter(content)
	for _, tag := range frontmatterTagList(block) {
		seen[tag] = struct{}{}
	}
	for _, match := range inlineTagPattern.FindAllStringSubmatch(body, -1) {
		seen[match[1]] = struct{}{}
	}
}

// frontmatterTagList pulls the tags key out of a raw frontmatter block
// without a full YAML parse, tolerating both list and scalar forms.
func frontmatterTagList(block string) []string {
	if block == "" {
		return nil
	}
	var tags []string
	lines := strings.Split(block, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "tags:") {
			continue
		}
		rest := strings.TrimSpace(strings.TrimPrefix(trimmed, "tags:"))
		if rest != "" {
			// Inline form: tags: [a, b] or tags: a
			rest = strings.Trim(rest, "[]")
			for _, part := range strings.Split(rest, ",") {
				if tag := strings.Trim(strings.TrimSpace(part), `"'`); tag != "" {
					tags = append(tags, tag)
				}
			}
			return tags
		}
		for _, next := range lines[i+1:] {
			item := strings.TrimSpace(next)
			if !strings.HasPrefix(item, "- ") {
				break
			}
			if tag := strings.Trim(strings.TrimSpace(strings.TrimPrefix(item, "- ")), `"'`); tag != "" {
				tags = append(tags, tag)
			}
		}
		return tags
	}
	return nil
}
