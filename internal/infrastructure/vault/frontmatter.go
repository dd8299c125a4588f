package vault

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var frontmatterPattern = regexp.MustCompile(`(?s)\A---\r?\n(.*?)\r?\n---\r?\n?`)

// ReadFrontmatter parses the YAML block at the top of a markdown file.
// A file without a frontmatter block yields an empty map.
func (s *Store) ReadFrontmatter(ctx context.Context, path string) (map[string]any, error) {
	content, err := s.ReadText(ctx, path)
	if err != nil {
		return nil, err
	}
	block, _ := splitFrontmatter(content)
	if block == "" {
		return map[string]any{}, nil
	}
	out := map[string]any{}
	if err := yaml.Unmarshal([]byte(block), &out); err != nil {
		return nil, fmt.Errorf("parse frontmatter of %s: %w", path, err)
	}
	return out, nil
}

// WriteFrontmatterKey sets one key in the file's frontmatter, creating
// the block when missing and preserving the other keys.
func (s *Store) WriteFrontmatterKey(ctx context.Context, path, key string, value any) error {
	content, err := s.ReadText(ctx, path)
	if err != nil {
		return err
	}

	block, body := splitFrontmatter(content)
	fields := map[string]any{}
	if block != "" {
		if err := yaml.Unmarshal([]byte(block), &fields); err != nil {
			return fmt.Errorf("parse frontmatter of %s: %w", path, err)
		}
	}
	fields[key] = value

	encoded, err := yaml.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode frontmatter of %s: %w", path, err)
	}

	var sb strings.Builder
	sb.WriteString("---\n")
	sb.Write(encoded)
	sb.WriteString("---\n")
	sb.WriteString(body)
	return s.Write(ctx, path, sb.String())
}

// splitFrontmatter returns the YAML block (without delimiters) and the
// remaining body.
func splitFrontmatter(content string) (block, body string) {
	match := frontmatterPattern.FindStringSubmatchIndex(content)
	if match == nil {
		return "", content
	}
	return content[match[2]:match[3]], content[match[1]:]
}
