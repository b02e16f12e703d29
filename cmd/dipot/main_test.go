package main

import (
	"testing"
	"time"
)

func TestBuildOptionsFlagPrecedence(t *testing.T) {
	root := buildRoot()
	root.SetArgs([]string{"--testdir", "/suite", "--timeout", "5", "--jobs", "2"})
	if err := root.ParseFlags([]string{"--testdir", "/suite", "--timeout", "5", "--jobs", "2"}); err != nil {
		t.Fatalf("parse: %v", err)
	}

	f := &RunFlags{TestDir: "/suite", TimeoutSec: 5, Jobs: 2}
	opts, err := buildOptions(f, root)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if opts.TestDir != "/suite" {
		t.Fatalf("testdir = %q", opts.TestDir)
	}
	if opts.Timeout != 5*time.Second {
		t.Fatalf("timeout = %v", opts.Timeout)
	}
	if opts.Jobs != 2 || !opts.Batch {
		t.Fatalf("jobs = %d batch = %v (jobs > 1 must force batch)", opts.Jobs, opts.Batch)
	}
}

func TestBuildOptionsRejectsMissingTestdir(t *testing.T) {
	root := buildRoot()
	if err := root.ParseFlags(nil); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := buildOptions(&RunFlags{}, root); err == nil {
		t.Fatalf("missing --testdir must be rejected before any test runs")
	}
}

func TestBuildOptionsBadInterpreter(t *testing.T) {
	root := buildRoot()
	if err := root.ParseFlags([]string{"--testdir", "/x"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	f := &RunFlags{TestDir: "/x", Interpreters: []string{"noseparator"}}
	if _, err := buildOptions(f, root); err == nil {
		t.Fatalf("malformed --interpreter must be rejected")
	}
}

func TestCommandTree(t *testing.T) {
	root := buildRoot()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	has := func(n string) bool {
		for _, x := range names {
			if x == n {
				return true
			}
		}
		return false
	}
	if !has("run") || !has("report") {
		t.Fatalf("commands = %v", names)
	}
}
