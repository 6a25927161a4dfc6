package worker

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// ReadLines reads the ids listed in a file, one per line. Blank lines and
// lines starting with # are skipped; repeats keep their first position.
func ReadLines(filePath string) ([]string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open id list: %w", err)
	}
	defer func() { _ = f.Close() }()

	var ids []string
	seen := make(map[string]struct{})
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		ids = append(ids, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read id list: %w", err)
	}
	return ids, nil
}
