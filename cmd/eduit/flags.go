package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"eduitraya/internal/core"
)

// moneyValue is a flag.Value holding a ringgit amount.
type moneyValue struct {
	m   core.Money
	set bool
}

func (v *moneyValue) String() string {
	if v == nil || !v.set {
		return ""
	}
	return v.m.String()
}

func (v *moneyValue) Set(s string) error {
	m, err := core.ParseMoney(s)
	if err != nil {
		return err
	}
	v.m, v.set = m, true
	return nil
}

func (e *env) flags() *flag.FlagSet {
	fs := flag.NewFlagSet(e.cmd.name, flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	fs.Usage = func() {
		fmt.Fprintf(e.stderr, "Usage: eduit %s\n", e.cmd.usage)
		fs.PrintDefaults()
	}
	return fs
}

// parse accepts flags before and after positional arguments.
func parse(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

// confirm asks a yes/no question on stdin; anything but y or yes is a no.
func (e *env) confirm(prompt string) (bool, error) {
	fmt.Fprintf(e.stdout, "%s [y/N] ", prompt)
	line, err := e.stdin.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

// resolveID expands a unique id prefix, as printed by list, to the full id.
// Unknown ids come back unchanged so the store reports them as not found.
func (e *env) resolveID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.New("recipient id is required")
	}
	var matches []string
	for _, r := range e.app.Store.Recipients() {
		if r.ID == id {
			return id, nil
		}
		if strings.HasPrefix(r.ID, id) {
			matches = append(matches, r.ID)
		}
	}
	switch len(matches) {
	case 0:
		return id, nil
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("id prefix %q matches %d recipients", id, len(matches))
	}
}

// writeFileAtomic writes data to a temp file next to path and renames it.
func writeFileAtomic(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".eduit-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
