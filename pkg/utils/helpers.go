package utils

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// DefaultMaxLineBytes bounds a single line read by BatchLines.
const DefaultMaxLineBytes = 1 << 20

// BatchLines reads r line by line and calls fn with up to size non-empty lines
// at a time. The final partial batch is flushed at EOF. Line slices are owned
// by fn.
func BatchLines(ctx context.Context, r io.Reader, size, maxLineBytes int, fn func(lines [][]byte) error) error {
	if size <= 0 {
		return fmt.Errorf("invalid batch size %d: must be positive", size)
	}
	if maxLineBytes <= 0 {
		maxLineBytes = DefaultMaxLineBytes
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, min(maxLineBytes, 64*1024)), maxLineBytes)

	batch := make([][]byte, 0, size)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		batch = append(batch, bytes.Clone(line))
		if len(batch) == size {
			if err := fn(batch); err != nil {
				return err
			}
			batch = make([][]byte, 0, size)
		}
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return fmt.Errorf("line exceeds %d bytes: %w", maxLineBytes, err)
		}
		return fmt.Errorf("failed to read input: %w", err)
	}
	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}

// ParseProperties parses "key=value" pairs into an application property map.
// Integer and boolean values keep their type; everything else is a string.
func ParseProperties(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	props := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid property %q: expected key=value", pair)
		}
		if _, dup := props[key]; dup {
			return nil, fmt.Errorf("duplicate property %q", key)
		}
		props[key] = parseValue(value)
	}
	return props, nil
}

func parseValue(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}
