package model

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// labelPadding is the multiple the label table is padded to.
const labelPadding = 16

// ReadLabels reads one label per line. The returned table is padded with
// empty labels to a multiple of 16; count is the number of lines read.
func ReadLabels(path string) (labels []string, count int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("labels file %s not found: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		labels = append(labels, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read labels file %s: %w", path, err)
	}

	count = len(labels)
	for len(labels)%labelPadding != 0 {
		labels = append(labels, "")
	}
	return labels, count, nil
}

// cleanLabel drops a leading "<id> " prefix and all whitespace, so
// "0  person" and "person" both become "person".
func cleanLabel(label string) string {
	if i := strings.IndexByte(label, ' '); i >= 0 {
		label = label[i+1:]
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, label)
}
