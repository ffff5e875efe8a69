package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ava-labs/eventstream/pkg/lease"
)

// buildConfig loads LEASE_* environment variables and overrides them with
// the persistent flags set on the command line
func buildConfig(cmd *cobra.Command) (lease.Config, error) {
	cfg, err := lease.LoadConfig()
	if err != nil {
		return lease.Config{}, err
	}
	flags := cmd.Flags()

	for name, dst := range map[string]*string{
		"url":      &cfg.URL,
		"lease-id": &cfg.LeaseID,
	} {
		if !flags.Changed(name) {
			continue
		}
		if *dst, err = flags.GetString(name); err != nil {
			return lease.Config{}, fmt.Errorf("failed to get %s: %w", name, err)
		}
	}
	if flags.Changed("target") {
		target, err := flags.GetString("target")
		if err != nil {
			return lease.Config{}, fmt.Errorf("failed to get target: %w", err)
		}
		cfg.Target = lease.Target(target)
	}
	if flags.Changed("max-retries") {
		maxRetries, err := flags.GetUint64("max-retries")
		if err != nil {
			return lease.Config{}, fmt.Errorf("failed to get max retries: %w", err)
		}
		cfg.MaxRetries = &maxRetries
	}
	for name, dst := range map[string]**time.Duration{
		"retry-backoff": &cfg.RetryBackoff,
		"timeout":       &cfg.RequestTimeout,
	} {
		if !flags.Changed(name) {
			continue
		}
		d, err := flags.GetDuration(name)
		if err != nil {
			return lease.Config{}, fmt.Errorf("failed to get %s: %w", name, err)
		}
		*dst = &d
	}
	return cfg, nil
}

// buildConditions builds the request conditions from the persistent flags
func buildConditions(cmd *cobra.Command) (lease.Conditions, error) {
	flags := cmd.Flags()
	var cond lease.Conditions

	for name, dst := range map[string]**time.Time{
		"if-modified-since":   &cond.IfModifiedSince,
		"if-unmodified-since": &cond.IfUnmodifiedSince,
	} {
		v, err := flags.GetString(name)
		if err != nil {
			return lease.Conditions{}, fmt.Errorf("failed to get %s: %w", name, err)
		}
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return lease.Conditions{}, fmt.Errorf("invalid %s %q: %w", name, v, err)
		}
		*dst = &t
	}

	var err error
	if cond.IfMatch, err = flags.GetString("if-match"); err != nil {
		return lease.Conditions{}, fmt.Errorf("failed to get if-match: %w", err)
	}
	if cond.IfNoneMatch, err = flags.GetString("if-none-match"); err != nil {
		return lease.Conditions{}, fmt.Errorf("failed to get if-none-match: %w", err)
	}
	return cond, nil
}
