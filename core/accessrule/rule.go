// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package accessrule models the ingress allow-list applied to each
// clone generation's network boundary. Rule sets are value types with
// deterministic ordering so that the set applied to the platform can
// be diffed against the configured set and converged idempotently.
package accessrule

import (
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
)

// Rule allows TCP ingress on a single port from a set of source CIDRs.
type Rule struct {
	Port        int
	SourceCIDRs set.Strings
}

// NewRule returns a rule for the given port and source CIDRs. Duplicate
// CIDRs are discarded.
func NewRule(port int, sourceCIDRs ...string) Rule {
	return Rule{
		Port:        port,
		SourceCIDRs: set.NewStrings(sourceCIDRs...),
	}
}

// String returns a human-readable representation of the rule.
func (r Rule) String() string {
	if r.SourceCIDRs.IsEmpty() {
		return fmt.Sprintf("%d/tcp", r.Port)
	}
	return fmt.Sprintf("%d/tcp from %s", r.Port, strings.Join(r.SourceCIDRs.SortedValues(), ","))
}

// Validate checks that the port is sane and every source CIDR parses.
func (r Rule) Validate() error {
	if r.Port < 1 || r.Port > 65535 {
		return errors.NotValidf("port %d", r.Port)
	}
	for _, cidr := range r.SourceCIDRs.Values() {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// Rules is an ordered collection of ingress rules.
type Rules []Rule

// Validate checks every rule in the set.
func (rules Rules) Validate() error {
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// Sort orders the set by port, then by source CIDRs, so that equal
// sets compare equal regardless of the order they were assembled in.
func (rules Rules) Sort() {
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Port != rules[j].Port {
			return rules[i].Port < rules[j].Port
		}
		iCIDRs := strings.Join(rules[i].SourceCIDRs.SortedValues(), ",")
		jCIDRs := strings.Join(rules[j].SourceCIDRs.SortedValues(), ",")
		return iCIDRs < jCIDRs
	})
}

// EqualTo reports whether both sets contain exactly the same port/CIDR
// pairs.
func (rules Rules) EqualTo(other Rules) bool {
	toOpen, toClose := rules.Diff(other)
	return len(toOpen) == 0 && len(toClose) == 0
}

// Diff compares the currently applied rule set (the receiver) with the
// wanted one. It returns the rules that must be opened because they are
// wanted but not applied, and the rules that must be closed because
// they are applied but no longer wanted. Re-applying a converged set
// yields two empty results, which is what makes reconciliation
// idempotent.
func (rules Rules) Diff(wanted Rules) (toOpen, toClose Rules) {
	currentPairs := rules.explode()
	wantedPairs := wanted.explode()

	open := make(map[int]set.Strings)
	for pair := range wantedPairs {
		if _, ok := currentPairs[pair]; !ok {
			if open[pair.port] == nil {
				open[pair.port] = set.NewStrings()
			}
			open[pair.port].Add(pair.cidr)
		}
	}
	cls := make(map[int]set.Strings)
	for pair := range currentPairs {
		if _, ok := wantedPairs[pair]; !ok {
			if cls[pair.port] == nil {
				cls[pair.port] = set.NewStrings()
			}
			cls[pair.port].Add(pair.cidr)
		}
	}

	for port, cidrs := range open {
		toOpen = append(toOpen, Rule{Port: port, SourceCIDRs: cidrs})
	}
	for port, cidrs := range cls {
		toClose = append(toClose, Rule{Port: port, SourceCIDRs: cidrs})
	}
	toOpen.Sort()
	toClose.Sort()
	return toOpen, toClose
}

type portCIDR struct {
	port int
	cidr string
}

func (rules Rules) explode() map[portCIDR]struct{} {
	pairs := make(map[portCIDR]struct{})
	for _, r := range rules {
		for _, cidr := range r.SourceCIDRs.Values() {
			pairs[portCIDR{port: r.Port, cidr: cidr}] = struct{}{}
		}
	}
	return pairs
}
