package artifact

import (
	"errors"
	"fmt"
	"strings"
)

// ParseError indicates model output could not be parsed into a file set.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("file-set parse failed: %s", e.Reason)
}

// ParseFileSet extracts a file set from model output. The expected shape
// is one block per file:
//
//	## File: path/to/module.py
//	```python
//	...content...
//	```
//
// Heading lines matching "## File:" (or the looser "File:" at line
// start) open a file; the next fenced code block is its content.
// Files with unsafe paths are dropped. Zero parsed files is a ParseError.
func ParseFileSet(content string) (map[string]string, []error) {
	files := make(map[string]string)
	var skipped []error

	lines := strings.Split(content, "\n")
	i := 0
	for i < len(lines) {
		name, ok := parseFileHeading(lines[i])
		if !ok {
			i++
			continue
		}

		// Find the opening fence after the heading.
		j := i + 1
		for j < len(lines) && !isFence(lines[j]) {
			// Another heading before any fence: the block had no body.
			if _, isHeading := parseFileHeading(lines[j]); isHeading {
				break
			}
			j++
		}
		if j >= len(lines) || !isFence(lines[j]) {
			skipped = append(skipped, fmt.Errorf("file %s has no code block", name))
			i = j
			continue
		}

		// Collect until the closing fence.
		var body []string
		k := j + 1
		for k < len(lines) && !isFence(lines[k]) {
			body = append(body, lines[k])
			k++
		}
		if k >= len(lines) {
			skipped = append(skipped, fmt.Errorf("file %s has an unterminated code block", name))
			i = k
			continue
		}

		clean, err := CleanPath(name)
		if err != nil {
			skipped = append(skipped, err)
		} else {
			files[clean] = strings.Join(body, "\n")
		}
		i = k + 1
	}

	if len(files) == 0 {
		reason := "no file blocks found"
		if len(skipped) > 0 {
			reason = fmt.Sprintf("no usable file blocks (%d malformed)", len(skipped))
		}
		return nil, append(skipped, &ParseError{Reason: reason})
	}
	return files, skipped
}

// parseFileHeading recognizes a file heading line and returns the path.
func parseFileHeading(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	trimmed = strings.TrimLeft(trimmed, "#")
	trimmed = strings.TrimSpace(trimmed)

	for _, prefix := range []string{"File:", "FILE:", "file:"} {
		if strings.HasPrefix(trimmed, prefix) {
			name := strings.TrimSpace(strings.TrimPrefix(trimmed, prefix))
			name = strings.Trim(name, "`*")
			if name != "" {
				return name, true
			}
			return "", false
		}
	}
	return "", false
}

// isFence reports whether a line opens or closes a fenced code block.
func isFence(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "```")
}

// IsParseError reports whether any error in the slice is a ParseError,
// meaning the output as a whole was unusable.
func IsParseError(errs []error) bool {
	for _, err := range errs {
		var pe *ParseError
		if errors.As(err, &pe) {
			return true
		}
	}
	return false
}
